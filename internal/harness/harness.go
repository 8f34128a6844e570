package harness

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"slices"
	"strings"
	"time"

	"github.com/roach88/storysync/internal/block"
	"github.com/roach88/storysync/internal/docsync"
	"github.com/roach88/storysync/internal/engine"
	"github.com/roach88/storysync/internal/journal"
	"github.com/roach88/storysync/internal/op"
	"github.com/roach88/storysync/internal/remote"
	"github.com/roach88/storysync/internal/remote/fakeapi"
	"github.com/roach88/storysync/internal/testutil"
)

const (
	defaultStoryID   = "story-1"
	defaultChapterID = "ch-1"
)

// Harness holds the moving parts of one scenario run.
type Harness struct {
	scenario *Scenario
	scope    op.Scope
	api      *fakeapi.Server
	client   *remote.Client
	journal  journal.Journal
	keys     *testutil.SequentialKeys
	logger   *slog.Logger
	session  *docsync.Session
}

// Run executes a scenario and returns its result.
//
// Each run gets a fresh fake API, an in-memory journal and deterministic
// keys. An error is returned only when the run could not be set up; step
// and assertion failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, testutil.QuietLogger())
}

// RunContext is Run with a caller supplied context and logger.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		scope:    scopeOf(scenario),
		keys:     testutil.NewSequentialKeys("p"),
		logger:   logger,
	}

	h.api = fakeapi.New(fakeapi.WithPageSize(scenario.PageSize), fakeapi.WithLogger(logger))
	if len(scenario.Initial) > 0 {
		blocks := make([]block.ParagraphBlock, len(scenario.Initial))
		for i, b := range scenario.Initial {
			blocks[i] = block.ParagraphBlock{KeyID: b.Key, Content: testutil.Paragraph(b.Text), Place: i}
		}
		h.api.Seed(h.scope.StoryID, h.scope.ChapterID, blocks)
	}

	srv := httptest.NewServer(h.api)
	defer srv.Close()

	h.client = remote.New(srv.URL,
		remote.WithLogger(logger),
		remote.WithKeyGenerator(testutil.NewSequentialKeys("blank")),
		remote.WithFetchBackoff(time.Millisecond, 5*time.Millisecond))

	store, err := journal.OpenStore(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()
	h.journal = store

	if err := h.preloadJournal(ctx); err != nil {
		return nil, err
	}
	if err := h.load(ctx); err != nil {
		return nil, err
	}
	h.api.ResetLog()

	result := NewResult()
	for i, step := range scenario.Steps {
		err := h.execute(ctx, step)
		h.checkStep(i, step, err, result)
		h.logger.Debug("scenario step completed", "step", i, "do", step.Do, "error", err)
	}

	h.collect(result)
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func scopeOf(s *Scenario) op.Scope {
	sc := op.Scope{StoryID: s.StoryID, ChapterID: s.ChapterID}
	if sc.StoryID == "" {
		sc.StoryID = defaultStoryID
	}
	if sc.ChapterID == "" {
		sc.ChapterID = defaultChapterID
	}
	return sc
}

// preloadJournal writes the scenario's leftover operations.
func (h *Harness) preloadJournal(ctx context.Context) error {
	ops := make([]op.Operation, 0, len(h.scenario.Journal))
	for _, j := range h.scenario.Journal {
		hd := op.Header{StoryID: h.scope.StoryID, ChapterID: h.scope.ChapterID, Timestamp: j.Timestamp}
		switch j.Kind {
		case "save":
			ops = append(ops, op.NewSave(hd, block.ParagraphBlock{
				KeyID: j.Key, Content: testutil.Paragraph(j.Text), Place: j.Place,
			}))
		case "delete":
			keys := j.Keys
			if j.Key != "" {
				keys = append([]string{j.Key}, keys...)
			}
			ops = append(ops, op.NewDelete(hd, keys...))
		case "sync_order":
			order := make([]block.Placement, len(j.Keys))
			for i, k := range j.Keys {
				order[i] = block.Placement{KeyID: k, Place: i}
			}
			ops = append(ops, op.NewSyncOrder(hd, order))
		}
	}
	if len(ops) == 0 {
		return nil
	}
	if err := h.journal.Append(ctx, ops...); err != nil {
		return fmt.Errorf("failed to preload journal: %w", err)
	}
	return nil
}

// load replaces the session with a fresh one over the same journal.
func (h *Harness) load(ctx context.Context) error {
	var procOpts []engine.Option
	if h.scenario.RetryBudget > 0 {
		procOpts = append(procOpts, engine.WithRetryBudget(h.scenario.RetryBudget))
	}
	h.session = docsync.NewSession(h.scope, h.client,
		docsync.WithJournal(h.journal),
		docsync.WithKeyGenerator(h.keys),
		docsync.WithLogger(h.logger),
		docsync.WithProcessorOptions(procOpts...))

	if _, err := h.session.Load(ctx); err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	return nil
}

// execute runs one step.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Do {
	case StepFail:
		h.api.Script(fakeapi.Route(step.Route), step.Statuses...)
		return nil
	case StepProvision:
		h.api.SetProvisioning(h.scope.StoryID, step.On)
		return nil
	case StepResume:
		h.session.Processor().Resume()
		return nil
	case StepReload:
		return h.load(ctx)
	}

	ev := docsync.Event{Type: docsync.EventType(step.Do), Key: step.Key, Index: step.Index}
	switch step.Do {
	case StepInsert, StepEdit:
		ev.Content = testutil.Paragraph(step.Text)
	case StepPaste:
		for _, t := range step.Texts {
			ev.Contents = append(ev.Contents, testutil.Paragraph(t))
		}
	}
	_, err := h.session.Apply(ctx, ev)
	return err
}

// checkStep compares a step's outcome with its expect clause.
func (h *Harness) checkStep(i int, step Step, err error, result *Result) {
	prefix := fmt.Sprintf("steps[%d] (%s)", i, step.Do)
	exp := step.Expect

	wantErr := ""
	if exp != nil {
		wantErr = exp.Error
	}
	switch {
	case err != nil && wantErr == "":
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", prefix, err))
	case err == nil && wantErr != "":
		result.AddError(fmt.Sprintf("%s: expected error containing %q, got none", prefix, wantErr))
	case err != nil && !strings.Contains(err.Error(), wantErr):
		result.AddError(fmt.Sprintf("%s: expected error containing %q, got %v", prefix, wantErr, err))
	}
	if exp == nil {
		return
	}

	if exp.Pending != nil && h.session.Pending() != *exp.Pending {
		result.AddError(fmt.Sprintf("%s: expected %d pending, got %d", prefix, *exp.Pending, h.session.Pending()))
	}
	if exp.Retries != nil && h.session.Processor().Retries() != *exp.Retries {
		result.AddError(fmt.Sprintf("%s: expected %d retries, got %d", prefix, *exp.Retries, h.session.Processor().Retries()))
	}
	if exp.Halted != nil && h.session.Processor().Halted() != *exp.Halted {
		result.AddError(fmt.Sprintf("%s: expected halted=%t", prefix, *exp.Halted))
	}
	if exp.Keys != nil {
		if local := localKeys(h.session); !slices.Equal(local, exp.Keys) {
			result.AddError(fmt.Sprintf("%s: expected local keys %v, got %v", prefix, exp.Keys, local))
		}
	}
}

// collect records the final state.
func (h *Harness) collect(result *Result) {
	result.Trace = h.api.Requests()
	for _, b := range h.api.Blocks(h.scope.StoryID, h.scope.ChapterID) {
		result.ServerOrder = append(result.ServerOrder, b.KeyID)
		result.serverText[b.KeyID] = block.PlainText(b.Content)
	}
	result.LocalOrder = localKeys(h.session)
	result.Pending = h.session.Pending()
	result.Retries = h.session.Processor().Retries()
	result.Halted = h.session.Processor().Halted()
}

func localKeys(s *docsync.Session) []string {
	blocks := s.Blocks()
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.KeyID
	}
	return out
}
