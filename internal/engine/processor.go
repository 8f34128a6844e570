package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/storysync/internal/block"
	"github.com/roach88/storysync/internal/op"
	"github.com/roach88/storysync/internal/queue"
	"github.com/roach88/storysync/internal/remote"
)

const (
	// DefaultInterval is the period between scheduled passes.
	DefaultInterval = 5000 * time.Millisecond

	// DefaultUnloadTimeout bounds the final flush when Run is cancelled.
	DefaultUnloadTimeout = 3 * time.Second
)

// Transport sends grouped operations to the server.
// Implemented by remote.Client.
type Transport interface {
	SaveBlocks(ctx context.Context, storyID, chapterID string, blocks []block.ParagraphBlock) error
	DeleteBlocks(ctx context.Context, storyID, chapterID string, keys []string) error
	SyncOrder(ctx context.Context, storyID, chapterID string, order []block.Placement) error
	// TableStatus is the last provisioning-relevant status the transport saw.
	TableStatus() int
}

// Journal forgets operations once the server has acknowledged them.
type Journal interface {
	Remove(ctx context.Context, ids ...string) error
}

// Stats counts processor activity since construction.
type Stats struct {
	Passes    int `json:"passes"`
	Requests  int `json:"requests"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	// Deferred counts 501 responses received while the table is provisioning.
	Deferred int `json:"deferred"`
}

// Processor drains the operation queue into grouped requests.
//
// Thread-safety model:
//   - ProcessNow, Flush: safe from any goroutine; passes are serialized
//   - Run: call from one goroutine
//   - Retries, Halted, Stats, Resume: safe from any goroutine
//
// INVARIANTS:
//   - At most one pass runs at a time, and a pass sends one request at a time
//   - A failed group's operations return to the queue unchanged
//   - The retry counter is reset only by a successful request
type Processor struct {
	queue     *queue.Queue
	transport Transport
	journal   Journal
	logger    *slog.Logger

	interval      time.Duration
	unloadTimeout time.Duration
	budget        *RetryBudget

	passMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// Option configures a Processor.
type Option func(*Processor)

// WithInterval sets the period between scheduled passes.
func WithInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRetryBudget sets how many consecutive failures are tolerated.
//
// Default: 10 (DefaultRetryBudget)
func WithRetryBudget(n int) Option {
	return func(p *Processor) { p.budget = NewRetryBudget(n) }
}

// WithJournal removes acknowledged operations from j.
func WithJournal(j Journal) Option {
	return func(p *Processor) { p.journal = j }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithObserver registers a callback for retry counter changes.
func WithObserver(o Observer) Option {
	return func(p *Processor) { p.budget.setObserver(o) }
}

// WithUnloadTimeout bounds the flush Run performs on cancellation.
func WithUnloadTimeout(d time.Duration) Option {
	return func(p *Processor) { p.unloadTimeout = d }
}

// New creates a processor draining q through t.
//
// Options are applied in order; WithObserver must come after WithRetryBudget
// if both are given.
func New(q *queue.Queue, t Transport, opts ...Option) *Processor {
	p := &Processor{
		queue:         q,
		transport:     t,
		logger:        slog.Default(),
		interval:      DefaultInterval,
		unloadTimeout: DefaultUnloadTimeout,
		budget:        NewRetryBudget(DefaultRetryBudget),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Retries returns the consecutive failure count.
func (p *Processor) Retries() int {
	return p.budget.Count()
}

// RetryBudget returns the configured budget.
func (p *Processor) RetryBudget() int {
	return p.budget.Limit()
}

// Halted reports whether the retry budget ran out and Resume was not called.
func (p *Processor) Halted() bool {
	return p.budget.Halted()
}

// Resume lets passes run again after a RetryBudgetError.
func (p *Processor) Resume() {
	p.budget.Resume()
	p.logger.Info("queue processor resumed", "retries", p.budget.Count())
}

// Stats returns a snapshot of the activity counters.
func (p *Processor) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

func (p *Processor) count(f func(*Stats)) {
	p.statsMu.Lock()
	f(&p.stats)
	p.statsMu.Unlock()
}

// ProcessNow runs one pass over everything queued at call time.
//
// Operations are sorted by timestamp, grouped (see plan) and sent one request
// per group. A successful group is dropped from the journal and resets the
// retry counter. A failed group goes back to the tail of the queue. A 501
// while the table is provisioning does not count against the budget; any
// other failure does, and reaching the budget ends the pass with a
// *RetryBudgetError after requeueing every unsent group.
func (p *Processor) ProcessNow(ctx context.Context) error {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	if err := p.budget.Err(); err != nil {
		return err
	}

	entries := p.queue.Drain()
	if len(entries) == 0 {
		return nil
	}
	p.count(func(s *Stats) { s.Passes++ })

	groups := plan(entries)
	p.logger.Debug("queue pass",
		"operations", len(entries),
		"groups", len(groups))

	for i := range groups {
		g := &groups[i]

		if err := ctx.Err(); err != nil {
			p.requeue(groups[i:])
			return err
		}

		err := p.send(ctx, g)
		if err == nil {
			p.budget.Succeed()
			p.count(func(s *Stats) { s.Successes++ })
			p.forget(ctx, g)
			continue
		}

		p.queue.Requeue(g.entries...)

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			p.requeue(groups[i+1:])
			return ctxErr
		}

		if p.provisioning(err) {
			p.count(func(s *Stats) { s.Deferred++ })
			p.logger.Info("story table still provisioning, will retry",
				"story_id", g.scope.StoryID,
				"chapter_id", g.scope.ChapterID,
				"kind", g.kind.String())
			continue
		}

		p.count(func(s *Stats) { s.Failures++ })
		if fatal := p.budget.Fail(err); fatal != nil {
			p.requeue(groups[i+1:])
			p.logger.Error("queue processor halted",
				"retries", fatal.Tries,
				"budget", fatal.Budget,
				"error", err)
			return fatal
		}
		p.logger.Warn("request failed, operations requeued",
			"story_id", g.scope.StoryID,
			"chapter_id", g.scope.ChapterID,
			"kind", g.kind.String(),
			"operations", len(g.entries),
			"retries", p.budget.Count(),
			"error", err)
	}
	return nil
}

// provisioning reports whether err is a 501 seen while the tracked table
// status is also 501.
func (p *Processor) provisioning(err error) bool {
	return remote.IsProvisioning(err) && p.transport.TableStatus() == http.StatusNotImplemented
}

func (p *Processor) send(ctx context.Context, g *group) error {
	p.count(func(s *Stats) { s.Requests++ })
	p.logger.Debug("sending group",
		"story_id", g.scope.StoryID,
		"chapter_id", g.scope.ChapterID,
		"kind", g.kind.String(),
		"size", g.size())

	switch g.kind {
	case op.KindSave:
		return p.transport.SaveBlocks(ctx, g.scope.StoryID, g.scope.ChapterID, g.blocks)
	case op.KindDelete:
		return p.transport.DeleteBlocks(ctx, g.scope.StoryID, g.scope.ChapterID, g.keys)
	case op.KindSyncOrder:
		return p.transport.SyncOrder(ctx, g.scope.StoryID, g.scope.ChapterID, g.order)
	default:
		return fmt.Errorf("send group: unknown kind %s", g.kind)
	}
}

func (p *Processor) requeue(groups []group) {
	for _, g := range groups {
		p.queue.Requeue(g.entries...)
	}
}

// forget removes a sent group's operations from the journal. Failures are
// logged only; a stale journal entry is resent on the next load.
func (p *Processor) forget(ctx context.Context, g *group) {
	if p.journal == nil {
		return
	}
	ids := make([]string, 0, len(g.entries))
	for _, e := range g.entries {
		id, err := op.ID(e.Op)
		if err != nil {
			p.logger.Warn("cannot compute operation id", "error", err)
			continue
		}
		ids = append(ids, id)
	}
	if err := p.journal.Remove(ctx, ids...); err != nil {
		p.logger.Warn("journal removal failed",
			"story_id", g.scope.StoryID,
			"chapter_id", g.scope.ChapterID,
			"error", err)
	}
}

// Flush runs passes until the queue is empty.
//
// It stops with a *FlushError when a pass makes no progress (for example
// while the table is provisioning) and returns pass errors as they occur.
func (p *Processor) Flush(ctx context.Context) error {
	for p.queue.Len() > 0 {
		before := p.Stats().Successes
		if err := p.ProcessNow(ctx); err != nil {
			return &FlushError{Remaining: p.queue.Len(), Cause: err}
		}
		if p.Stats().Successes == before {
			return &FlushError{Remaining: p.queue.Len()}
		}
	}
	return nil
}

// Run processes the queue every interval until ctx is cancelled or the retry
// budget runs out.
//
// On cancellation Run makes one best-effort flush bounded by the unload
// timeout, then returns ctx.Err(). A *RetryBudgetError is returned as soon as
// it is raised.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("queue processor starting", "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.unload(ctx)
			return ctx.Err()

		case <-ticker.C:
			err := p.ProcessNow(ctx)
			switch {
			case err == nil:
			case IsRetryBudgetError(err):
				return err
			case ctx.Err() != nil:
				p.unload(ctx)
				return ctx.Err()
			default:
				p.logger.Warn("queue pass failed", "error", err)
			}
		}
	}
}

// unload makes the final flush attempt when Run stops.
func (p *Processor) unload(ctx context.Context) {
	if p.queue.Len() == 0 {
		p.logger.Info("queue processor stopping")
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.unloadTimeout)
	defer cancel()

	if err := p.Flush(fctx); err != nil {
		p.logger.Warn("unload flush incomplete",
			"remaining", p.queue.Len(),
			"error", err)
		return
	}
	p.logger.Info("queue processor stopping, queue flushed")
}
