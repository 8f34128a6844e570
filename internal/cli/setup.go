package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/storysync/internal/config"
	"github.com/roach88/storysync/internal/journal"
	"github.com/roach88/storysync/internal/op"
	"github.com/roach88/storysync/internal/remote"
)

// ScopeFlags selects a chapter on the command line.
type ScopeFlags struct {
	StoryID   string
	ChapterID string
	APIURL    string
}

func (f *ScopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.StoryID, "story", "", "story id (default from config)")
	cmd.Flags().StringVar(&f.ChapterID, "chapter", "", "chapter id (default from config)")
	cmd.Flags().StringVar(&f.APIURL, "api", "", "storage API base URL (default from config)")
}

// loadConfig resolves configuration: --config, else ./storysync.cue, else
// schema defaults, with environment overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	var (
		cfg *config.Config
		err error
	)
	if opts.Config != "" {
		cfg, err = config.Load(opts.Config, getenv)
	} else {
		cfg, err = config.LoadDefault(getenv)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	return cfg, nil
}

// newLogger builds the command's logger. Logs go to w (stderr in normal
// runs) so they never mix with command output.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel}))
}

// resolveScope merges flags over config and requires both ids.
func resolveScope(f ScopeFlags, cfg *config.Config) (op.Scope, error) {
	sc := op.Scope{StoryID: f.StoryID, ChapterID: f.ChapterID}
	if sc.StoryID == "" {
		sc.StoryID = cfg.StoryID
	}
	if sc.ChapterID == "" {
		sc.ChapterID = cfg.ChapterID
	}
	if sc.StoryID == "" || sc.ChapterID == "" {
		return op.Scope{}, NewExitError(ExitCommandError, "story and chapter are required (--story, --chapter or config)")
	}
	return sc, nil
}

// newClient builds the API client from config and flags.
func newClient(f ScopeFlags, cfg *config.Config, logger *slog.Logger) *remote.Client {
	url := f.APIURL
	if url == "" {
		url = cfg.APIURL
	}
	return remote.New(url,
		remote.WithLogger(logger),
		remote.WithFetchRetries(uint64(cfg.FetchRetries)))
}

// openJournal opens the configured journal backend.
func openJournal(cfg *config.Config) (journal.Journal, error) {
	j, err := journal.Open(cfg.JournalOptions())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open %s journal", cfg.Journal.Backend), err)
	}
	return j, nil
}

// newFormatter builds the output formatter for a command.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
