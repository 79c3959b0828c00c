package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(parts []Part) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.Text)
	}
	return out
}

func TestQueue_DrainCoalescesInOrder(t *testing.T) {
	q := New()

	_, err := q.Enqueue("s1", []Part{TextPart("A")}, KindDefault, nil)
	require.NoError(t, err)
	_, err = q.Enqueue("s1", []Part{TextPart("B")}, KindBackground, map[string]any{"job": "nightly"})
	require.NoError(t, err)
	_, err = q.Enqueue("s1", []Part{TextPart("C")}, KindDefault, nil)
	require.NoError(t, err)

	c, ok := q.Drain("s1")
	require.True(t, ok)
	require.Len(t, c.Messages, 3)
	assert.Equal(t, []string{"A", "B", "C"}, texts(c.Parts))
	assert.Equal(t, KindBackground, c.Messages[1].Kind)
	assert.Equal(t, "nightly", c.Messages[1].Metadata["job"])
	assert.False(t, c.FirstQueuedAt.After(c.LastQueuedAt))
	assert.Equal(t, c.Messages[0].QueuedAt, c.FirstQueuedAt)
	assert.Equal(t, c.Messages[2].QueuedAt, c.LastQueuedAt)
	assert.False(t, c.Background())
}

func TestQueue_DrainEmpty(t *testing.T) {
	q := New()

	c, ok := q.Drain("nobody")
	assert.False(t, ok)
	assert.Nil(t, c)

	_, err := q.Enqueue("s1", []Part{TextPart("x")}, KindDefault, nil)
	require.NoError(t, err)
	_, ok = q.Drain("s1")
	require.True(t, ok)

	c, ok = q.Drain("s1")
	assert.False(t, ok)
	assert.Nil(t, c)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	q := New()

	_, err := q.Enqueue("", nil, KindDefault, nil)
	assert.ErrorIs(t, err, ErrMissingSession)

	_, err = q.Enqueue("s1", nil, Kind("urgent"), nil)
	assert.ErrorIs(t, err, ErrInvalidKind)

	msg, err := q.Enqueue("s1", nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, KindDefault, msg.Kind)
	assert.NotEmpty(t, msg.ID)

	q.Close()
	_, err = q.Enqueue("s1", nil, KindDefault, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_MessageIsolatedFromCaller(t *testing.T) {
	q := New()
	parts := []Part{TextPart("orig")}
	meta := map[string]any{"k": "v"}

	_, err := q.Enqueue("s1", parts, KindDefault, meta)
	require.NoError(t, err)
	parts[0].Text = "changed"
	meta["k"] = "changed"

	c, ok := q.Drain("s1")
	require.True(t, ok)
	assert.Equal(t, "orig", c.Parts[0].Text)
	assert.Equal(t, "v", c.Messages[0].Metadata["k"])
}

func TestQueue_SessionsAreIndependent(t *testing.T) {
	q := New()
	_, _ = q.Enqueue("a", []Part{TextPart("a1")}, KindDefault, nil)
	_, _ = q.Enqueue("b", []Part{TextPart("b1")}, KindDefault, nil)

	assert.ElementsMatch(t, []string{"a", "b"}, q.Sessions())

	c, ok := q.Drain("a")
	require.True(t, ok)
	assert.Equal(t, []string{"a1"}, texts(c.Parts))
	assert.Equal(t, 1, q.Len("b"))
	assert.Equal(t, []string{"b"}, q.Sessions())
}

func TestQueue_ExactlyOnceUnderConcurrency(t *testing.T) {
	q := New()
	const producers = 8
	const perProducer = 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := q.Enqueue("s1", []Part{TextPart(fmt.Sprintf("%d-%d", p, i))}, KindDefault, nil)
				assert.NoError(t, err)
			}
		}(p)
	}

	seen := make(map[string]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drainAll := func() {
		if c, ok := q.Drain("s1"); ok {
			for i := 1; i < len(c.Messages); i++ {
				assert.True(t, c.Messages[i-1].QueuedAt.Before(c.Messages[i].QueuedAt))
			}
			for _, m := range c.Messages {
				seen[m.ID]++
			}
		}
	}

loop:
	for {
		select {
		case <-done:
			break loop
		default:
			drainAll()
		}
	}
	drainAll()

	assert.Len(t, seen, producers*perProducer)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s delivered %d times", id, n)
	}
}

func TestQueue_PerProducerOrderPreserved(t *testing.T) {
	q := New()
	for i := 0; i < 50; i++ {
		_, err := q.Enqueue("s1", []Part{TextPart(fmt.Sprint(i))}, KindDefault, nil)
		require.NoError(t, err)
	}
	c, ok := q.Drain("s1")
	require.True(t, ok)
	for i, p := range c.Parts {
		assert.Equal(t, fmt.Sprint(i), p.Text)
	}
}

func TestQueue_OnEnqueueAndDiscard(t *testing.T) {
	q := New()
	var got []string
	q.OnEnqueue(func(m *QueuedMessage) { got = append(got, m.SessionID) })

	_, _ = q.Enqueue("s1", nil, KindDefault, nil)
	_, _ = q.Enqueue("s1", nil, KindDefault, nil)
	assert.Equal(t, []string{"s1", "s1"}, got)

	assert.Equal(t, 2, q.Discard("s1"))
	assert.Equal(t, 0, q.Discard("s1"))
	_, ok := q.Drain("s1")
	assert.False(t, ok)
}

func TestQueue_DiscardedBucketRejectsPush(t *testing.T) {
	q := New()
	stale := q.bucket("s1", true)
	q.Discard("s1")

	_, ok := stale.push(&QueuedMessage{SessionID: "s1"}, q.clock)
	assert.False(t, ok)

	msg, err := q.Enqueue("s1", []Part{TextPart("after")}, KindDefault, nil)
	require.NoError(t, err)
	batch, ok := q.Drain("s1")
	require.True(t, ok)
	require.Len(t, batch.Messages, 1)
	assert.Equal(t, msg.ID, batch.Messages[0].ID)
}

func TestQueue_EnqueueDuringDiscardIsNeverLost(t *testing.T) {
	q := New()
	const producers, perProducer = 4, 500

	var wg sync.WaitGroup
	var discarded atomic.Int64
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				discarded.Add(int64(q.Discard("s1")))
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := q.Enqueue("s1", nil, KindDefault, nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-done

	drained := 0
	if batch, ok := q.Drain("s1"); ok {
		drained = len(batch.Messages)
	}
	assert.Equal(t, int64(producers*perProducer), discarded.Load()+int64(drained))
}

func TestCoalesce(t *testing.T) {
	assert.Nil(t, Coalesce(nil))

	t0 := time.Unix(100, 0)
	msgs := []*QueuedMessage{
		{Parts: []Part{TextPart("x"), TextPart("y")}, QueuedAt: t0},
		{Parts: []Part{{Type: "image", Data: map[string]any{"url": "u"}}}, QueuedAt: t0.Add(time.Second)},
		{Parts: []Part{TextPart("z")}, QueuedAt: t0.Add(2 * time.Second)},
	}
	c := Coalesce(msgs)
	require.Len(t, c.Parts, 4)
	assert.Equal(t, "image", c.Parts[2].Type)
	assert.Equal(t, t0, c.FirstQueuedAt)
	assert.Equal(t, t0.Add(2*time.Second), c.LastQueuedAt)
	assert.Equal(t, "x\ny\nz", c.Text())
}

func TestMonoClock(t *testing.T) {
	fixed := time.Unix(50, 0)
	c := &monoClock{now: func() time.Time { return fixed }}
	a := c.Next()
	b := c.Next()
	assert.True(t, b.After(a))
}
