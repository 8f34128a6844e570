// Package docsync is the editor-facing facade of the sync engine.
//
// A Session owns everything needed to keep one chapter in sync: the local
// Chapter, the operation queue and its logical clock, the order resync
// coordinator, the queue processor and the pending-operation journal.
// Editors drive it through block-level events; the processor ships the
// resulting operations in the background.
package docsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/storysync/internal/annotate"
	"github.com/roach88/storysync/internal/block"
	"github.com/roach88/storysync/internal/engine"
	"github.com/roach88/storysync/internal/journal"
	"github.com/roach88/storysync/internal/op"
	"github.com/roach88/storysync/internal/queue"
	"github.com/roach88/storysync/internal/resync"
)

// journalTimeout bounds a journal append made on the edit path.
const journalTimeout = 2 * time.Second

// ErrNotLoaded is returned by editor events before Load.
var ErrNotLoaded = errors.New("session not loaded")

// Transport is what a session needs from the storage API.
// Implemented by remote.Client.
type Transport interface {
	engine.Transport
	FetchChapter(ctx context.Context, storyID, chapterID string) ([]block.ParagraphBlock, error)
}

// Session keeps one chapter in sync.
//
// Thread-safety: all methods are safe for concurrent use. Editor events are
// serialized by the session; processing runs independently.
type Session struct {
	scope     op.Scope
	transport Transport
	journal   journal.Journal
	keys      block.KeyGenerator
	logger    *slog.Logger

	queue *queue.Queue
	clock *queue.Clock
	coord *resync.Coordinator
	proc  *engine.Processor

	mu      sync.Mutex
	chapter *block.Chapter
}

type options struct {
	journal  journal.Journal
	keys     block.KeyGenerator
	logger   *slog.Logger
	procOpts []engine.Option
}

// Option configures a Session.
type Option func(*options)

// WithJournal makes queued operations durable in j.
func WithJournal(j journal.Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithKeyGenerator sets the generator for new paragraph keys.
func WithKeyGenerator(g block.KeyGenerator) Option {
	return func(o *options) { o.keys = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProcessorOptions passes options to the queue processor.
func WithProcessorOptions(opts ...engine.Option) Option {
	return func(o *options) { o.procOpts = append(o.procOpts, opts...) }
}

// NewSession creates a session for one chapter. Call Load before sending
// editor events.
func NewSession(scope op.Scope, t Transport, opts ...Option) *Session {
	o := options{
		journal: journal.Nop{},
		keys:    block.UUIDGenerator{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("story_id", scope.StoryID, "chapter_id", scope.ChapterID)

	s := &Session{
		scope:     scope,
		transport: t,
		journal:   o.journal,
		keys:      o.keys,
		logger:    logger,
		queue:     queue.New(),
		clock:     queue.NewClock(),
	}
	s.coord = resync.NewCoordinator(scope, s.clock, s.sink, logger)

	procOpts := append([]engine.Option{
		engine.WithLogger(logger),
		engine.WithJournal(o.journal),
	}, o.procOpts...)
	s.proc = engine.New(s.queue, t, procOpts...)
	return s
}

// Scope returns the chapter the session is bound to.
func (s *Session) Scope() op.Scope {
	return s.scope
}

// Processor exposes the queue processor for status reporting.
func (s *Session) Processor() *engine.Processor {
	return s.proc
}

// Pending returns the number of queued operations.
func (s *Session) Pending() int {
	return s.queue.Len()
}

// PendingOperations returns the queued operations, oldest first.
func (s *Session) PendingOperations() []op.Operation {
	entries := s.queue.Snapshot()
	out := make([]op.Operation, len(entries))
	for i, e := range entries {
		out[i] = e.Op
	}
	return out
}

// LoadResult summarizes Load.
type LoadResult struct {
	// Blocks counts the fetched paragraphs, before replay.
	Blocks   int `json:"blocks"`
	Replayed int `json:"replayed"`
}

// Load fetches the chapter, records its order as the resync baseline and
// replays operations left in the journal by an earlier session. Replayed
// operations are applied to the local chapter and queued again; the clock
// resumes after the newest of them.
func (s *Session) Load(ctx context.Context) (LoadResult, error) {
	blocks, err := s.transport.FetchChapter(ctx, s.scope.StoryID, s.scope.ChapterID)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load chapter: %w", err)
	}
	chapter, err := block.NewChapter(blocks)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load chapter: %w", err)
	}

	pending, err := s.journal.Pending(ctx, s.scope)
	if err != nil {
		return LoadResult{}, fmt.Errorf("load chapter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.chapter = chapter
	s.coord.SetBaseline(chapter.Order())
	res := LoadResult{Blocks: chapter.Len(), Replayed: len(pending)}

	for _, o := range pending {
		s.clock.AdvanceTo(o.Head().Timestamp)
		s.replay(o)
		s.queue.Enqueue(o)
	}

	s.logger.Info("chapter loaded", "blocks", res.Blocks, "replayed", res.Replayed)
	return res, nil
}

// replay applies a journaled operation to the local chapter so the editor
// sees edits the server has not acknowledged yet.
func (s *Session) replay(o op.Operation) {
	err := op.Switch(o, op.Cases{
		Save: func(sv op.Save) error {
			for _, b := range sv.Blocks {
				if s.chapter.IndexOf(b.KeyID) >= 0 {
					if _, err := s.chapter.Replace(b.KeyID, b.Content); err != nil {
						return err
					}
					continue
				}
				if s.chapter.Retired(b.KeyID) {
					continue
				}
				if _, err := s.chapter.Insert(b.Place, b); err != nil {
					return err
				}
			}
			return nil
		},
		Delete: func(d op.Delete) error {
			for _, k := range d.Keys {
				if s.chapter.IndexOf(k) >= 0 {
					if _, _, err := s.chapter.Remove(k); err != nil {
						return err
					}
				}
			}
			return nil
		},
		SyncOrder: func(so op.SyncOrder) error {
			s.chapter.Reorder(so.Order)
			return nil
		},
	})
	if err != nil {
		s.logger.Warn("replayed operation not applied locally", "kind", o.Kind().String(), "error", err)
	}
}

func (s *Session) header() op.Header {
	return op.Header{StoryID: s.scope.StoryID, ChapterID: s.scope.ChapterID, Timestamp: s.clock.Next()}
}

// sink receives operations built by the resync coordinator.
func (s *Session) sink(o op.Operation) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	s.enqueue(ctx, o)
}

// enqueue journals then queues an operation. A journal failure is logged;
// the edit still goes out with the next pass.
func (s *Session) enqueue(ctx context.Context, o op.Operation) {
	if err := s.journal.Append(ctx, o); err != nil {
		s.logger.Warn("journal append failed", "kind", o.Kind().String(), "error", err)
	}
	s.queue.Enqueue(o)
}

// QueueParagraphForSave queues an upsert of one paragraph as given, without
// touching the local chapter.
func (s *Session) QueueParagraphForSave(ctx context.Context, key string, place int, content json.RawMessage) {
	s.enqueue(ctx, op.NewSave(s.header(), block.ParagraphBlock{KeyID: key, Content: content, Place: place}))
}

// QueueParagraphForDeletion queues the removal of one paragraph.
func (s *Session) QueueParagraphForDeletion(ctx context.Context, key string) {
	s.enqueue(ctx, op.NewDelete(s.header(), key))
}

// QueueParagraphOrderResync queues the chapter's full order map.
func (s *Session) QueueParagraphOrderResync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chapter == nil {
		return ErrNotLoaded
	}
	s.coord.Force(s.chapter)
	return nil
}

// ProcessQueueNow runs one processing pass.
func (s *Session) ProcessQueueNow(ctx context.Context) error {
	return s.proc.ProcessNow(ctx)
}

// InsertParagraph creates a paragraph at index (clamped) and returns its key.
func (s *Session) InsertParagraph(ctx context.Context, index int, content json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chapter == nil {
		return "", ErrNotLoaded
	}
	if len(content) == 0 {
		content = block.BlankContent()
	}

	lenBefore := s.chapter.Len()
	b := block.ParagraphBlock{KeyID: s.keys.Generate(), Content: content}
	at, err := s.chapter.Insert(index, b)
	if err != nil {
		return "", fmt.Errorf("insert paragraph: %w", err)
	}
	b.Place = at

	s.enqueue(ctx, op.NewSave(s.header(), b))
	s.coord.Observe(resync.Change{Kind: resync.ChangeInsert, Index: at, LenBefore: lenBefore}, s.chapter)
	return b.KeyID, nil
}

// EditParagraph replaces the content of a live paragraph.
func (s *Session) EditParagraph(ctx context.Context, key string, content json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chapter == nil {
		return ErrNotLoaded
	}

	b, err := s.chapter.Replace(key, content)
	if err != nil {
		return fmt.Errorf("edit paragraph: %w", err)
	}
	s.enqueue(ctx, op.NewSave(s.header(), b))
	s.coord.Observe(resync.Change{Kind: resync.ChangeEdit, Index: b.Place, LenBefore: s.chapter.Len()}, s.chapter)
	return nil
}

// RemoveParagraph deletes a live paragraph. Its key is never reused.
func (s *Session) RemoveParagraph(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chapter == nil {
		return ErrNotLoaded
	}

	index, lenBefore, err := s.chapter.Remove(key)
	if err != nil {
		return fmt.Errorf("remove paragraph: %w", err)
	}
	s.enqueue(ctx, op.NewDelete(s.header(), key))
	s.coord.Observe(resync.Change{Kind: resync.ChangeDelete, Index: index, LenBefore: lenBefore}, s.chapter)
	return nil
}

// PasteParagraphs inserts several paragraphs at index as one Save and always
// resyncs the order map. Returns the new keys in document order.
func (s *Session) PasteParagraphs(ctx context.Context, index int, contents []json.RawMessage) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chapter == nil {
		return nil, ErrNotLoaded
	}
	if len(contents) == 0 {
		return nil, nil
	}

	lenBefore := s.chapter.Len()
	blocks := make([]block.ParagraphBlock, len(contents))
	keys := make([]string, len(contents))
	for i, c := range contents {
		if len(c) == 0 {
			c = block.BlankContent()
		}
		keys[i] = s.keys.Generate()
		blocks[i] = block.ParagraphBlock{KeyID: keys[i], Content: c}
	}

	at, err := s.chapter.InsertMany(index, blocks)
	if err != nil {
		return nil, fmt.Errorf("paste paragraphs: %w", err)
	}
	for i := range blocks {
		blocks[i].Place = at + i
	}

	s.enqueue(ctx, op.NewSave(s.header(), blocks...))
	s.coord.Observe(resync.Change{Kind: resync.ChangePaste, Index: at, LenBefore: lenBefore}, s.chapter)
	return keys, nil
}

// Blocks returns the local chapter in document order.
func (s *Session) Blocks() []block.ParagraphBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chapter == nil {
		return nil
	}
	return s.chapter.Blocks()
}

// Annotations returns entity decorations for every live paragraph.
func (s *Session) Annotations(m *annotate.Matcher) []annotate.BlockRanges {
	return m.AnnotateBlocks(s.Blocks())
}

// Run processes the queue on the processor's interval until ctx ends or
// the retry budget runs out. See engine.Processor.Run.
func (s *Session) Run(ctx context.Context) error {
	return s.proc.Run(ctx)
}

// Close makes a best-effort flush bounded by ctx. Operations that could not
// be sent stay in the journal for the next Load; the returned error reports
// how many.
func (s *Session) Close(ctx context.Context) error {
	if s.queue.Len() == 0 {
		return nil
	}
	if err := s.proc.Flush(ctx); err != nil {
		s.logger.Info("unsent operations kept for next load", "remaining", s.queue.Len())
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
