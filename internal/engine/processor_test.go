package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storysync/internal/block"
	"github.com/roach88/storysync/internal/op"
	"github.com/roach88/storysync/internal/queue"
	"github.com/roach88/storysync/internal/remote"
	"github.com/roach88/storysync/internal/remote/fakeapi"
)

// call records one transport request.
type call struct {
	kind    op.Kind
	story   string
	chapter string
	blocks  []block.ParagraphBlock
	keys    []string
	order   []block.Placement
}

// fakeTransport records requests and answers from a script of errors.
// Like remote.Client it only tracks the status of successful mutations;
// status starts at whatever the test sets, as if a fetch had seen it.
type fakeTransport struct {
	mu     sync.Mutex
	calls  []call
	script []error
	status int
	// fail is used once the script is exhausted.
	fail error
}

func (f *fakeTransport) next() error {
	if len(f.script) > 0 {
		err := f.script[0]
		f.script = f.script[1:]
		return f.track(err)
	}
	return f.track(f.fail)
}

func (f *fakeTransport) track(err error) error {
	if err == nil {
		f.status = http.StatusOK
	}
	return err
}

func (f *fakeTransport) SaveBlocks(_ context.Context, story, chapter string, blocks []block.ParagraphBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: op.KindSave, story: story, chapter: chapter, blocks: block.CloneBlocks(blocks)})
	return f.next()
}

func (f *fakeTransport) DeleteBlocks(_ context.Context, story, chapter string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: op.KindDelete, story: story, chapter: chapter, keys: append([]string(nil), keys...)})
	return f.next()
}

func (f *fakeTransport) SyncOrder(_ context.Context, story, chapter string, order []block.Placement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: op.KindSyncOrder, story: story, chapter: chapter, order: block.ClonePlacements(order)})
	return f.next()
}

func (f *fakeTransport) TableStatus() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// fakeJournal records removed IDs.
type fakeJournal struct {
	mu      sync.Mutex
	removed []string
}

func (j *fakeJournal) Remove(_ context.Context, ids ...string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.removed = append(j.removed, ids...)
	return nil
}

var (
	errServer    = &remote.StatusError{Op: "test", Status: http.StatusInternalServerError}
	errProvision = &remote.StatusError{Op: "test", Status: http.StatusNotImplemented}
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func h(ts int64) op.Header {
	return op.Header{StoryID: "s1", ChapterID: "c1", Timestamp: ts}
}

func text(s string) json.RawMessage {
	return json.RawMessage(`"` + s + `"`)
}

func saveOp(ts int64, key, value string, place int) op.Operation {
	return op.NewSave(h(ts), block.ParagraphBlock{KeyID: key, Content: text(value), Place: place})
}

func newProcessor(t *testing.T, tr Transport, opts ...Option) (*Processor, *queue.Queue) {
	t.Helper()
	q := queue.New()
	return New(q, tr, append([]Option{WithLogger(quiet())}, opts...)...), q
}

// TestProcessNow_LastWriteWins tests that repeated saves of a key send only the last value.
func TestProcessNow_LastWriteWins(t *testing.T) {
	tr := &fakeTransport{}
	p, q := newProcessor(t, tr)

	q.Enqueue(saveOp(1, "k", "v1", 0))
	q.Enqueue(saveOp(2, "k", "v2", 0))

	require.NoError(t, p.ProcessNow(context.Background()))

	calls := tr.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].blocks, 1)
	assert.Equal(t, "k", calls[0].blocks[0].KeyID)
	assert.Equal(t, `"v2"`, string(calls[0].blocks[0].Content))
	assert.Equal(t, 0, q.Len())
}

// TestProcessNow_LastWriteWinsByTimestamp tests that timestamp, not enqueue order, picks the winner.
func TestProcessNow_LastWriteWinsByTimestamp(t *testing.T) {
	tr := &fakeTransport{}
	p, q := newProcessor(t, tr)

	q.Enqueue(saveOp(5, "k", "newer", 0))
	q.Enqueue(saveOp(3, "k", "older", 0))

	require.NoError(t, p.ProcessNow(context.Background()))
	calls := tr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, `"newer"`, string(calls[0].blocks[0].Content))
}

// TestProcessNow_Batching tests one request for saves of several keys.
func TestProcessNow_Batching(t *testing.T) {
	tr := &fakeTransport{}
	p, q := newProcessor(t, tr)

	q.Enqueue(saveOp(1, "a", "1", 0))
	q.Enqueue(saveOp(2, "b", "2", 1))
	q.Enqueue(saveOp(3, "c", "3", 2))

	require.NoError(t, p.ProcessNow(context.Background()))

	calls := tr.Calls()
	require.Len(t, calls, 1)
	var keys []string
	for _, b := range calls[0].blocks {
		keys = append(keys, b.KeyID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	assert.Equal(t, Stats{Passes: 1, Requests: 1, Successes: 1}, p.Stats())
}

// TestProcessNow_SaveThenDeleteSameKey tests that a save and a delete of one
// key in the same window are sent as two requests.
func TestProcessNow_SaveThenDeleteSameKey(t *testing.T) {
	tr := &fakeTransport{}
	p, q := newProcessor(t, tr)

	q.Enqueue(saveOp(1, "k1", "a", 0))
	q.Enqueue(op.NewDelete(h(2), "k1"))

	require.NoError(t, p.ProcessNow(context.Background()))

	calls := tr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, op.KindSave, calls[0].kind)
	assert.Equal(t, op.KindDelete, calls[1].kind)
	assert.Equal(t, []string{"k1"}, calls[1].keys)
}

// TestProcessNow_SyncOrderNeverMerged tests that each order map is its own request.
func TestProcessNow_SyncOrderNeverMerged(t *testing.T) {
	tr := &fakeTransport{}
	p, q := newProcessor(t, tr)

	first := []block.Placement{{KeyID: "a", Place: 0}, {KeyID: "b", Place: 1}}
	second := []block.Placement{{KeyID: "b", Place: 0}, {KeyID: "a", Place: 1}}
	q.Enqueue(op.NewSyncOrder(h(1), first))
	q.Enqueue(saveOp(2, "a", "x", 1))
	q.Enqueue(op.NewSyncOrder(h(3), second))

	require.NoError(t, p.ProcessNow(context.Background()))

	calls := tr.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, op.KindSyncOrder, calls[0].kind)
	assert.Equal(t, first, calls[0].order)
	assert.Equal(t, op.KindSave, calls[1].kind)
	assert.Equal(t, op.KindSyncOrder, calls[2].kind)
	assert.Equal(t, second, calls[2].order)
}

// TestProcessNow_GroupsByScope tests that different chapters never share a request.
func TestProcessNow_GroupsByScope(t *testing.T) {
	tr := &fakeTransport{}
	p, q := newProcessor(t, tr)

	q.Enqueue(saveOp(1, "a", "1", 0))
	q.Enqueue(op.NewSave(op.Header{StoryID: "s1", ChapterID: "c2", Timestamp: 2},
		block.ParagraphBlock{KeyID: "b", Content: text("2")}))
	q.Enqueue(saveOp(3, "c", "3", 1))

	require.NoError(t, p.ProcessNow(context.Background()))

	calls := tr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0].chapter)
	assert.Len(t, calls[0].blocks, 2)
	assert.Equal(t, "c2", calls[1].chapter)
}

// TestProcessNow_FailureRequeuesOriginals tests that failed groups return unchanged.
func TestProcessNow_FailureRequeuesOriginals(t *testing.T) {
	tr := &fakeTransport{script: []error{errServer}}
	p, q := newProcessor(t, tr)

	first := q.Enqueue(saveOp(1, "k", "v1", 0))
	second := q.Enqueue(saveOp(2, "k", "v2", 0))

	require.NoError(t, p.ProcessNow(context.Background()))
	assert.Equal(t, 1, p.Retries())

	pending := q.Snapshot()
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0])
	assert.Equal(t, second, pending[1])

	// Retry succeeds with the same collapsed payload and resets the counter.
	require.NoError(t, p.ProcessNow(context.Background()))
	assert.Equal(t, 0, p.Retries())
	calls := tr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].blocks, calls[1].blocks)
}

// TestProcessNow_RequeueKeepsInsertionSequence tests that a retried
// operation keeps its original sequence relative to later work.
func TestProcessNow_RequeueKeepsInsertionSequence(t *testing.T) {
	tr := &fakeTransport{script: []error{errServer}}
	p, q := newProcessor(t, tr)

	q.Enqueue(op.NewDelete(h(1), "gone"))
	require.NoError(t, p.ProcessNow(context.Background()))

	q.Enqueue(op.NewDelete(h(1), "later"))
	entries := q.Drain()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"gone"}, entries[0].Op.(op.Delete).Keys, "same timestamp sorts by original insertion")
}

// TestProcessNow_RetryCap tests the fatal error after ten consecutive failures.
func TestProcessNow_RetryCap(t *testing.T) {
	tr := &fakeTransport{fail: errServer}
	var observed []int
	p, q := newProcessor(t, tr, WithObserver(func(retries int, halted bool) {
		observed = append(observed, retries)
	}))

	// Mix of kinds: each pass fails all three groups.
	q.Enqueue(saveOp(1, "a", "1", 0))
	q.Enqueue(op.NewDelete(h(2), "b"))
	q.Enqueue(op.NewSyncOrder(h(3), []block.Placement{{KeyID: "a", Place: 0}}))

	ctx := context.Background()
	var err error
	for i := 0; i < 4 && err == nil; i++ {
		err = p.ProcessNow(ctx)
	}
	require.Error(t, err)

	var rb *RetryBudgetError
	require.ErrorAs(t, err, &rb)
	assert.Equal(t, 10, rb.Tries)
	assert.Equal(t, "timing out after 10 tries", rb.Error())
	assert.ErrorIs(t, err, errServer)
	assert.True(t, p.Halted())
	assert.Len(t, tr.Calls(), 10)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, observed)
	assert.Equal(t, 3, q.Len(), "nothing is dropped")

	// Halted: no I/O until Resume.
	err = p.ProcessNow(ctx)
	assert.True(t, IsRetryBudgetError(err))
	assert.Len(t, tr.Calls(), 10)
}

// TestProcessNow_SuccessResetsCounter tests that one success zeroes the counter.
func TestProcessNow_SuccessResetsCounter(t *testing.T) {
	tr := &fakeTransport{script: []error{errServer, errServer, errServer, nil}}
	p, q := newProcessor(t, tr)
	ctx := context.Background()

	q.Enqueue(saveOp(1, "a", "1", 0))
	for i := 0; i < 3; i++ {
		require.NoError(t, p.ProcessNow(ctx))
	}
	assert.Equal(t, 3, p.Retries())

	require.NoError(t, p.ProcessNow(ctx))
	assert.Equal(t, 0, p.Retries())
	assert.Equal(t, 0, q.Len())
}

// TestProcessNow_ResumeAfterFatal tests recovery from the halted state.
func TestProcessNow_ResumeAfterFatal(t *testing.T) {
	tr := &fakeTransport{fail: errServer}
	p, q := newProcessor(t, tr, WithRetryBudget(2))
	ctx := context.Background()

	q.Enqueue(saveOp(1, "a", "1", 0))
	require.NoError(t, p.ProcessNow(ctx))
	require.Error(t, p.ProcessNow(ctx))
	require.True(t, p.Halted())

	tr.mu.Lock()
	tr.fail = nil
	tr.mu.Unlock()

	p.Resume()
	assert.False(t, p.Halted())
	require.NoError(t, p.ProcessNow(ctx))
	assert.Equal(t, 0, p.Retries())
	assert.Equal(t, 0, q.Len())
}

// TestProcessNow_ProvisioningNotCounted tests that 501 leaves the counter alone.
func TestProcessNow_ProvisioningNotCounted(t *testing.T) {
	tr := &fakeTransport{fail: errProvision, status: http.StatusNotImplemented}
	p, q := newProcessor(t, tr)
	ctx := context.Background()

	entry := q.Enqueue(saveOp(1, "a", "1", 0))
	for i := 0; i < 15; i++ {
		require.NoError(t, p.ProcessNow(ctx))
	}

	assert.Equal(t, 0, p.Retries())
	assert.False(t, p.Halted())
	assert.Equal(t, []queue.Entry{entry}, q.Snapshot())
	assert.Equal(t, 15, p.Stats().Deferred)
}

// TestProcessNow_501WithoutTrackedStatusCounts tests that a 501 only defers
// while the tracked table status is also 501.
func TestProcessNow_501WithoutTrackedStatusCounts(t *testing.T) {
	tr := &fakeTransport{fail: errProvision, status: http.StatusOK}
	p, q := newProcessor(t, tr)

	q.Enqueue(saveOp(1, "a", "1", 0))
	require.NoError(t, p.ProcessNow(context.Background()))
	assert.Equal(t, 1, p.Retries())
	assert.Equal(t, 0, p.Stats().Deferred)
}

// TestProcessNow_ProvisioningWithRemoteClient tests 501 handling against the
// real client: deferred while the fetched table was provisioning, counted
// once a save has succeeded.
func TestProcessNow_ProvisioningWithRemoteClient(t *testing.T) {
	api := fakeapi.New(fakeapi.WithLogger(quiet()))
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c := remote.New(srv.URL, remote.WithLogger(quiet()))
	ctx := context.Background()

	api.SetProvisioning("s1", true)
	_, err := c.FetchChapter(ctx, "s1", "c1")
	require.NoError(t, err)

	p, q := newProcessor(t, c)
	q.Enqueue(saveOp(1, "a", "1", 0))
	require.NoError(t, p.ProcessNow(ctx))
	assert.Equal(t, 0, p.Retries())
	assert.Equal(t, 1, p.Stats().Deferred)

	api.SetProvisioning("s1", false)
	require.NoError(t, p.ProcessNow(ctx))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, http.StatusOK, c.TableStatus())

	api.SetProvisioning("s1", true)
	q.Enqueue(saveOp(2, "a", "2", 0))
	require.NoError(t, p.ProcessNow(ctx))
	assert.Equal(t, 1, p.Retries())
	assert.Equal(t, 1, p.Stats().Deferred)
	assert.Equal(t, 1, q.Len())
}

// TestProcessNow_JournalRemovalOnSuccess tests that only acknowledged operations leave the journal.
func TestProcessNow_JournalRemovalOnSuccess(t *testing.T) {
	tr := &fakeTransport{script: []error{nil, errServer}}
	j := &fakeJournal{}
	p, q := newProcessor(t, tr, WithJournal(j))

	a1 := saveOp(1, "a", "1", 0)
	a2 := saveOp(2, "a", "2", 0)
	del := op.NewDelete(h(3), "b")
	q.Enqueue(a1)
	q.Enqueue(a2)
	q.Enqueue(del)

	require.NoError(t, p.ProcessNow(context.Background()))
	assert.ElementsMatch(t, []string{op.MustID(a1), op.MustID(a2)}, j.removed)
	assert.Equal(t, 1, q.Len())
}

// TestProcessNow_EmptyQueue tests that an idle pass does nothing.
func TestProcessNow_EmptyQueue(t *testing.T) {
	tr := &fakeTransport{}
	p, _ := newProcessor(t, tr)
	require.NoError(t, p.ProcessNow(context.Background()))
	assert.Empty(t, tr.Calls())
	assert.Equal(t, Stats{}, p.Stats())
}

// TestProcessNow_CancelledContext tests that cancellation requeues without counting.
func TestProcessNow_CancelledContext(t *testing.T) {
	tr := &fakeTransport{}
	p, q := newProcessor(t, tr)
	q.Enqueue(saveOp(1, "a", "1", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.ProcessNow(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 0, p.Retries())
	assert.Empty(t, tr.Calls())
}

// blockingTransport holds SaveBlocks until released.
type blockingTransport struct {
	fakeTransport
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTransport) SaveBlocks(ctx context.Context, story, chapter string, blocks []block.ParagraphBlock) error {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeTransport.SaveBlocks(ctx, story, chapter, blocks)
}

// TestProcessNow_PassesDoNotOverlap tests that a second pass waits for the first.
func TestProcessNow_PassesDoNotOverlap(t *testing.T) {
	tr := &blockingTransport{entered: make(chan struct{}, 2), release: make(chan struct{})}
	p, q := newProcessor(t, tr)
	ctx := context.Background()

	q.Enqueue(saveOp(1, "k", "v1", 0))
	firstDone := make(chan error, 1)
	go func() { firstDone <- p.ProcessNow(ctx) }()
	<-tr.entered

	// Work enqueued during the in-flight request waits for the next pass.
	q.Enqueue(saveOp(2, "k", "v2", 0))
	secondDone := make(chan error, 1)
	go func() { secondDone <- p.ProcessNow(ctx) }()

	select {
	case <-tr.entered:
		t.Fatal("second pass started while first request was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	tr.release <- struct{}{}
	require.NoError(t, <-firstDone)
	<-tr.entered
	tr.release <- struct{}{}
	require.NoError(t, <-secondDone)

	calls := tr.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, `"v1"`, string(calls[0].blocks[0].Content))
	assert.Equal(t, `"v2"`, string(calls[1].blocks[0].Content))
}

// TestFlush tests draining until empty and stopping without progress.
func TestFlush(t *testing.T) {
	tr := &fakeTransport{}
	p, q := newProcessor(t, tr)
	q.Enqueue(saveOp(1, "a", "1", 0))
	q.Enqueue(op.NewDelete(h(2), "b"))
	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 0, q.Len())

	tr2 := &fakeTransport{fail: errProvision, status: http.StatusNotImplemented}
	p2, q2 := newProcessor(t, tr2)
	q2.Enqueue(saveOp(1, "a", "1", 0))
	err := p2.Flush(context.Background())
	require.Error(t, err)
	var fe *FlushError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Remaining)
}

// TestRun_TicksAndFlushesOnCancel tests the scheduled loop and unload flush.
func TestRun_TicksAndFlushesOnCancel(t *testing.T) {
	tr := &fakeTransport{}
	p, q := newProcessor(t, tr, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	q.Enqueue(saveOp(1, "a", "1", 0))
	require.Eventually(t, func() bool { return len(tr.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	// Work left at cancel time is flushed on the way out.
	p2, q2 := newProcessor(t, tr, WithInterval(time.Hour))
	q2.Enqueue(saveOp(2, "b", "2", 1))
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	assert.ErrorIs(t, p2.Run(ctx2), context.Canceled)
	assert.Equal(t, 0, q2.Len())
}

// TestRun_ReturnsFatal tests that Run surfaces the retry budget error.
func TestRun_ReturnsFatal(t *testing.T) {
	tr := &fakeTransport{fail: errServer}
	p, q := newProcessor(t, tr, WithInterval(time.Millisecond), WithRetryBudget(3))
	q.Enqueue(saveOp(1, "a", "1", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Run(ctx)
	require.True(t, IsRetryBudgetError(err), "got %v", err)
	assert.Equal(t, 3, p.Retries())
}

// TestRetryBudgetError_Wrapped tests detection through wrapping.
func TestRetryBudgetError_Wrapped(t *testing.T) {
	err := &RetryBudgetError{Tries: 10, Budget: 10, Last: errServer}
	wrapped := errors.Join(errors.New("context"), err)
	assert.True(t, IsRetryBudgetError(wrapped))
	assert.False(t, IsRetryBudgetError(errServer))
	assert.Equal(t, ErrCodeRetryBudget, err.Code())
}
