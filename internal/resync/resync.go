// Package resync decides when a chapter's order map must be resent and
// enqueues the SyncOrder that carries it.
package resync

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/storysync/internal/block"
	"github.com/roach88/storysync/internal/op"
	"github.com/roach88/storysync/internal/queue"
)

// ChangeKind classifies a structural editor change.
type ChangeKind int

const (
	// ChangeInsert is a single new paragraph.
	ChangeInsert ChangeKind = iota + 1
	// ChangeEdit is a content change to an existing paragraph.
	ChangeEdit
	// ChangeDelete is a removed paragraph.
	ChangeDelete
	// ChangePaste is a run of new paragraphs inserted together.
	ChangePaste
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeEdit:
		return "edit"
	case ChangeDelete:
		return "delete"
	case ChangePaste:
		return "paste"
	default:
		return fmt.Sprintf("change(%d)", int(k))
	}
}

// Change describes one block-level change.
type Change struct {
	Kind ChangeKind
	// Index is the position of the affected block: where it was inserted,
	// where it sits when edited, or where it was before deletion.
	Index int
	// LenBefore is the chapter length before the change was applied.
	LenBefore int
}

// NeedsResync reports whether a change may have moved blocks in a way the
// per-block saves do not capture.
//
//   - delete: the deleted block was not the last one
//   - insert: the block was not appended at the end
//   - paste: always
//   - edit: the block is not at the final index
func NeedsResync(c Change) bool {
	switch c.Kind {
	case ChangeDelete:
		return c.Index != c.LenBefore-1
	case ChangeInsert:
		return c.Index != c.LenBefore
	case ChangePaste:
		return true
	case ChangeEdit:
		return c.Index != c.LenBefore-1
	default:
		return false
	}
}

// Orderer supplies the current order map. Implemented by *block.Chapter.
type Orderer interface {
	Order() []block.Placement
}

// Sink receives the operations the coordinator builds.
type Sink func(op.Operation)

// Coordinator issues SyncOrder operations for one chapter.
//
// It remembers the last order map it issued (or was given as a baseline
// after a fetch) and skips non-paste triggers whose order map is unchanged.
//
// Thread-safety: Coordinator is safe for concurrent use.
type Coordinator struct {
	scope  op.Scope
	clock  *queue.Clock
	sink   Sink
	logger *slog.Logger

	mu   sync.Mutex
	last []block.Placement
}

// NewCoordinator creates a coordinator for scope that stamps operations with
// clock and hands them to sink.
func NewCoordinator(scope op.Scope, clock *queue.Clock, sink Sink, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{scope: scope, clock: clock, sink: sink, logger: logger}
}

// SetBaseline records the order map known to be on the server.
func (c *Coordinator) SetBaseline(order []block.Placement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = block.ClonePlacements(order)
}

// Baseline returns the last order map issued or loaded.
func (c *Coordinator) Baseline() []block.Placement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return block.ClonePlacements(c.last)
}

// Observe enqueues a SyncOrder for change when one is needed. Returns true
// if an operation was enqueued.
func (c *Coordinator) Observe(change Change, chapter Orderer) bool {
	if !NeedsResync(change) {
		return false
	}
	order := chapter.Order()

	c.mu.Lock()
	unchanged := change.Kind != ChangePaste && block.EqualOrder(order, c.last)
	c.mu.Unlock()

	if unchanged {
		c.logger.Debug("order unchanged, resync skipped",
			"story_id", c.scope.StoryID,
			"chapter_id", c.scope.ChapterID,
			"change", change.Kind.String(),
			"index", change.Index)
		return false
	}
	c.issue(order, change.Kind.String())
	return true
}

// Force enqueues a SyncOrder with the current order map unconditionally.
func (c *Coordinator) Force(chapter Orderer) {
	c.issue(chapter.Order(), "forced")
}

func (c *Coordinator) issue(order []block.Placement, reason string) {
	c.mu.Lock()
	c.last = block.ClonePlacements(order)
	c.mu.Unlock()

	h := op.Header{StoryID: c.scope.StoryID, ChapterID: c.scope.ChapterID, Timestamp: c.clock.Next()}
	c.sink(op.NewSyncOrder(h, order))
	c.logger.Debug("order resync queued",
		"story_id", c.scope.StoryID,
		"chapter_id", c.scope.ChapterID,
		"reason", reason,
		"blocks", len(order))
}
