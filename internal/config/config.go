// Package config loads storysync settings from CUE files and the environment.
//
// Precedence, lowest first: schema defaults, the user's storysync.cue,
// STORYSYNC_* environment variables, command-line flags (applied by the CLI).
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/storysync/internal/journal"
)

//go:embed schema.cue
var schemaCUE string

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "storysync.cue"

// Environment variables that override file settings.
const (
	EnvAPIURL      = "STORYSYNC_API_URL"
	EnvJournal     = "STORYSYNC_JOURNAL"
	EnvJournalPath = "STORYSYNC_JOURNAL_PATH"
	EnvRedisURL    = "STORYSYNC_REDIS_URL"
	EnvLogLevel    = "STORYSYNC_LOG_LEVEL"
)

// Error codes.
const (
	ErrCodeRead    = "E_CONFIG_READ"
	ErrCodeParse   = "E_CONFIG_PARSE"
	ErrCodeSchema  = "E_CONFIG_SCHEMA"
	ErrCodeInvalid = "E_CONFIG_INVALID"
)

// Error is a configuration problem, with a CUE position when known.
type Error struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConfigError reports whether err is or wraps a config Error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

func cueError(code string, err error) *Error {
	ce := &Error{Code: code, Message: err.Error()}
	if positions := cueerrors.Positions(err); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}

// Journal settings.
type Journal struct {
	Backend  string `json:"backend"`
	Path     string `json:"path"`
	RedisURL string `json:"redis_url"`
	Prefix   string `json:"prefix"`
}

// Annotate settings.
type Annotate struct {
	Entities   string   `json:"entities,omitempty"`
	Exclusions []string `json:"exclusions"`
}

// file mirrors #Config.
type file struct {
	APIURL        string   `json:"api_url"`
	StoryID       string   `json:"story_id,omitempty"`
	ChapterID     string   `json:"chapter_id,omitempty"`
	Interval      string   `json:"interval"`
	UnloadTimeout string   `json:"unload_timeout"`
	RetryBudget   int      `json:"retry_budget"`
	FetchRetries  int      `json:"fetch_retries"`
	LogLevel      string   `json:"log_level"`
	Journal       Journal  `json:"journal"`
	Annotate      Annotate `json:"annotate"`
}

// Config is the resolved configuration.
type Config struct {
	APIURL        string
	StoryID       string
	ChapterID     string
	Interval      time.Duration
	UnloadTimeout time.Duration
	RetryBudget   int
	FetchRetries  int
	LogLevel      slog.Level
	Journal       Journal
	Annotate      Annotate
}

// Default returns the schema defaults.
func Default() (*Config, error) {
	return Load("", func(string) string { return "" })
}

// Load reads path (empty for defaults only), validates it against the
// schema and applies environment overrides read through getenv.
func Load(path string, getenv func(string) string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Code: ErrCodeRead, Message: fmt.Sprintf("read config: %v", err)}
		}
		data = b
	}
	return Parse(data, path, getenv)
}

// LoadDefault loads DefaultPath when it exists and falls back to defaults.
func LoadDefault(getenv func(string) string) (*Config, error) {
	if _, err := os.Stat(DefaultPath); err == nil {
		return Load(DefaultPath, getenv)
	}
	return Load("", getenv)
}

// Parse is Load over in-memory CUE source. filename is used in positions.
func Parse(data []byte, filename string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, cueError(ErrCodeSchema, err)
	}
	value := schema.LookupPath(cue.ParsePath("#Config"))

	if len(data) > 0 {
		user := ctx.CompileBytes(data, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, cueError(ErrCodeParse, err)
		}
		value = value.Unify(user)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeInvalid, err)
	}

	var f file
	if err := value.Decode(&f); err != nil {
		return nil, cueError(ErrCodeInvalid, err)
	}

	applyEnv(&f, getenv)
	return resolve(f)
}

func applyEnv(f *file, getenv func(string) string) {
	if v := getenv(EnvAPIURL); v != "" {
		f.APIURL = v
	}
	if v := getenv(EnvJournal); v != "" {
		f.Journal.Backend = v
	}
	if v := getenv(EnvJournalPath); v != "" {
		f.Journal.Path = v
	}
	if v := getenv(EnvRedisURL); v != "" {
		f.Journal.RedisURL = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		f.LogLevel = v
	}
}

func resolve(f file) (*Config, error) {
	interval, err := time.ParseDuration(f.Interval)
	if err != nil || interval <= 0 {
		return nil, &Error{Code: ErrCodeInvalid, Message: fmt.Sprintf("interval %q: must be a positive duration", f.Interval)}
	}
	unload, err := time.ParseDuration(f.UnloadTimeout)
	if err != nil || unload < 0 {
		return nil, &Error{Code: ErrCodeInvalid, Message: fmt.Sprintf("unload_timeout %q: must be a duration", f.UnloadTimeout)}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(f.LogLevel)); err != nil {
		return nil, &Error{Code: ErrCodeInvalid, Message: fmt.Sprintf("log_level %q: %v", f.LogLevel, err)}
	}

	switch journal.Backend(f.Journal.Backend) {
	case journal.BackendSQLite, journal.BackendRedis, journal.BackendNone:
	default:
		return nil, &Error{Code: ErrCodeInvalid, Message: fmt.Sprintf("journal backend %q: want sqlite, redis or none", f.Journal.Backend)}
	}
	if f.Journal.Backend == string(journal.BackendRedis) && f.Journal.RedisURL == "" {
		return nil, &Error{Code: ErrCodeInvalid, Message: "journal backend redis needs redis_url"}
	}

	return &Config{
		APIURL:        f.APIURL,
		StoryID:       f.StoryID,
		ChapterID:     f.ChapterID,
		Interval:      interval,
		UnloadTimeout: unload,
		RetryBudget:   f.RetryBudget,
		FetchRetries:  f.FetchRetries,
		LogLevel:      level,
		Journal:       f.Journal,
		Annotate:      f.Annotate,
	}, nil
}

// JournalOptions converts the journal settings for journal.Open.
func (c *Config) JournalOptions() journal.Options {
	return journal.Options{
		Backend:  journal.Backend(c.Journal.Backend),
		Path:     c.Journal.Path,
		RedisURL: c.Journal.RedisURL,
		Prefix:   c.Journal.Prefix,
	}
}
