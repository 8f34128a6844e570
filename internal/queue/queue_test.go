package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storysync/internal/op"
)

func del(ts int64, key string) op.Operation {
	return op.NewDelete(op.Header{StoryID: "s", ChapterID: "c", Timestamp: ts}, key)
}

func keysOf(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Op.(op.Delete).Keys[0])
	}
	return out
}

func TestQueue_EnqueueAssignsSequence(t *testing.T) {
	q := New()

	e1 := q.Enqueue(del(1, "a"))
	e2 := q.Enqueue(del(1, "b"))

	assert.Equal(t, int64(1), e1.Seq)
	assert.Equal(t, int64(2), e2.Seq)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_DrainSortsByTimestampThenInsertion(t *testing.T) {
	q := New()
	q.Enqueue(del(3, "late"))
	q.Enqueue(del(1, "first"))
	q.Enqueue(del(2, "tie-a"))
	q.Enqueue(del(2, "tie-b"))

	drained := q.Drain()

	assert.Equal(t, []string{"first", "tie-a", "tie-b", "late"}, keysOf(drained))
	assert.Equal(t, 0, q.Len(), "drain empties the queue")
}

func TestQueue_RequeueGoesToTailUnchanged(t *testing.T) {
	q := New()
	q.Enqueue(del(1, "a"))
	drained := q.Drain()

	q.Enqueue(del(5, "new"))
	q.Requeue(drained...)

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, []string{"a", "new"}, keysOf(snap), "snapshot is sorted by timestamp")
	assert.Equal(t, int64(1), snap[0].Seq, "original sequence preserved")
	assert.Equal(t, 2, q.Len(), "snapshot does not remove")
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q := New()
	const producers, each = 8, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Enqueue(del(int64(i), "k"))
			}
		}()
	}
	wg.Wait()

	drained := q.Drain()
	assert.Len(t, drained, producers*each)

	seen := make(map[int64]bool)
	for _, e := range drained {
		assert.False(t, seen[e.Seq], "sequence numbers are unique")
		seen[e.Seq] = true
	}
}

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())

	c.AdvanceTo(10)
	assert.Equal(t, int64(11), c.Next())

	c.AdvanceTo(3)
	assert.Equal(t, int64(12), c.Next(), "never moves backwards")

	assert.Equal(t, int64(101), NewClockAt(100).Next())
}
