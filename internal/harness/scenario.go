package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/storysync/internal/remote/fakeapi"
)

// Scenario defines a conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// StoryID and ChapterID default to "story-1" and "ch-1".
	StoryID   string `yaml:"story_id,omitempty"`
	ChapterID string `yaml:"chapter_id,omitempty"`

	// RetryBudget overrides the processor's default budget.
	RetryBudget int `yaml:"retry_budget,omitempty"`

	// PageSize paginates the fake API's content responses.
	PageSize int `yaml:"page_size,omitempty"`

	// Initial paragraphs stored on the server before the session loads.
	// When omitted the story does not exist and the session starts from one
	// synthesized blank paragraph.
	Initial []InitialBlock `yaml:"initial,omitempty"`

	// Journal holds operations left by an earlier session.
	Journal []JournalOp `yaml:"journal,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// InitialBlock is one seeded paragraph.
type InitialBlock struct {
	Key  string `yaml:"key"`
	Text string `yaml:"text"`
}

// JournalOp is a pending operation preloaded into the journal.
type JournalOp struct {
	Kind      string   `yaml:"kind"`
	Timestamp int64    `yaml:"timestamp"`
	Key       string   `yaml:"key,omitempty"`
	Text      string   `yaml:"text,omitempty"`
	Place     int      `yaml:"place,omitempty"`
	Keys      []string `yaml:"keys,omitempty"`
}

// Step is one action of the scenario.
type Step struct {
	Do string `yaml:"do"`

	Key   string   `yaml:"key,omitempty"`
	Index int      `yaml:"index,omitempty"`
	Text  string   `yaml:"text,omitempty"`
	Texts []string `yaml:"texts,omitempty"`

	// Route and Statuses are used by fail.
	Route    string `yaml:"route,omitempty"`
	Statuses []int  `yaml:"statuses,omitempty"`

	// On is used by provision.
	On bool `yaml:"on,omitempty"`

	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect checks the session right after a step.
type StepExpect struct {
	// Error is a substring the step's error must contain. Empty means the
	// step must succeed.
	Error   string   `yaml:"error,omitempty"`
	Pending *int     `yaml:"pending,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
	Halted  *bool    `yaml:"halted,omitempty"`
	Keys    []string `yaml:"keys,omitempty"`
}

// Assertion validates the final state of a run.
type Assertion struct {
	Type string `yaml:"type"`

	Routes []string `yaml:"routes,omitempty"`
	Route  string   `yaml:"route,omitempty"`
	Nth    int      `yaml:"nth,omitempty"`
	Count  int      `yaml:"count,omitempty"`
	Keys   []string `yaml:"keys,omitempty"`
	Key    string   `yaml:"key,omitempty"`
	Text   string   `yaml:"text,omitempty"`
	Halted bool     `yaml:"halted,omitempty"`
}

// Step types.
const (
	StepInsert    = "insert"
	StepEdit      = "edit"
	StepDelete    = "delete"
	StepPaste     = "paste"
	StepResync    = "resync"
	StepFlush     = "flush"
	StepFail      = "fail"
	StepProvision = "provision"
	StepResume    = "resume"
	StepReload    = "reload"
)

// Assertion types.
const (
	AssertRequestRoutes = "request_routes"
	AssertRequestCount  = "request_count"
	AssertRequestKeys   = "request_keys"
	AssertServerOrder   = "server_order"
	AssertLocalOrder    = "local_order"
	AssertServerText    = "server_text"
	AssertPending       = "pending"
	AssertRetries       = "retries"
	AssertHalted        = "halted"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields and missing required fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validRoute(r string) bool {
	switch fakeapi.Route(r) {
	case fakeapi.RouteFetch, fakeapi.RouteSave, fakeapi.RouteDelete, fakeapi.RouteOrder:
		return true
	}
	return false
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.RetryBudget < 0 {
		return fmt.Errorf("retry_budget must be positive")
	}

	seen := make(map[string]bool, len(s.Initial))
	for i, b := range s.Initial {
		if b.Key == "" {
			return fmt.Errorf("initial[%d]: key is required", i)
		}
		if seen[b.Key] {
			return fmt.Errorf("initial[%d]: duplicate key %q", i, b.Key)
		}
		seen[b.Key] = true
	}

	for i, j := range s.Journal {
		if err := validateJournalOp(i, j); err != nil {
			return err
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateJournalOp(i int, j JournalOp) error {
	switch j.Kind {
	case "save":
		if j.Key == "" {
			return fmt.Errorf("journal[%d]: key is required for save", i)
		}
	case "delete":
		if j.Key == "" && len(j.Keys) == 0 {
			return fmt.Errorf("journal[%d]: key or keys is required for delete", i)
		}
	case "sync_order":
		if len(j.Keys) == 0 {
			return fmt.Errorf("journal[%d]: keys is required for sync_order", i)
		}
	default:
		return fmt.Errorf("journal[%d]: unknown kind %q", i, j.Kind)
	}
	if j.Timestamp <= 0 {
		return fmt.Errorf("journal[%d]: timestamp must be positive", i)
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch step.Do {
	case StepInsert, StepResync, StepFlush, StepResume, StepReload, StepProvision:
	case StepEdit, StepDelete:
		if step.Key == "" {
			return fmt.Errorf("steps[%d]: key is required for %s", i, step.Do)
		}
	case StepPaste:
		if len(step.Texts) == 0 {
			return fmt.Errorf("steps[%d]: texts is required for paste", i)
		}
	case StepFail:
		if !validRoute(step.Route) {
			return fmt.Errorf("steps[%d]: unknown route %q", i, step.Route)
		}
		if len(step.Statuses) == 0 {
			return fmt.Errorf("steps[%d]: statuses is required for fail", i)
		}
	case "":
		return fmt.Errorf("steps[%d]: do is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown step %q", i, step.Do)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertRequestRoutes:
		for _, r := range a.Routes {
			if !validRoute(r) {
				return fmt.Errorf("assertions[%d]: unknown route %q", i, r)
			}
		}
	case AssertRequestCount, AssertRequestKeys:
		if !validRoute(a.Route) {
			return fmt.Errorf("assertions[%d]: unknown route %q", i, a.Route)
		}
		if a.Count < 0 || a.Nth < 0 {
			return fmt.Errorf("assertions[%d]: count and nth must be non-negative", i)
		}
	case AssertServerOrder, AssertLocalOrder, AssertHalted:
	case AssertServerText:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for server_text", i)
		}
	case AssertPending, AssertRetries:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
