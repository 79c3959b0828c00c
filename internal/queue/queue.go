package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"conduit/pkg/logger"
)

// Listener is notified after a message is accepted. It runs on the producer's
// goroutine and must not block.
type Listener func(msg *QueuedMessage)

// bucket holds the pending messages of one session. A discarded bucket is
// dead and accepts no more messages.
type bucket struct {
	mu   sync.Mutex
	msgs []*QueuedMessage
	dead bool
}

// push appends msg and returns the new depth. It reports false when the
// bucket was discarded after the caller looked it up.
func (b *bucket) push(msg *QueuedMessage, clock *monoClock) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return 0, false
	}
	// Stamp under the bucket lock so per-session order and timestamp order agree.
	msg.QueuedAt = clock.Next()
	b.msgs = append(b.msgs, msg)
	return len(b.msgs), true
}

// Queue is a process-wide inbound message buffer keyed by session id.
// Sessions never share a lock: the bucket index lock is held only to look up
// or create a bucket.
type Queue struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	clock     *monoClock
	listeners []Listener
	closed    atomic.Bool
	log       zerolog.Logger
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		buckets: make(map[string]*bucket),
		clock:   &monoClock{now: time.Now},
		log:     logger.Component("queue"),
	}
}

// OnEnqueue registers a listener called after every accepted message.
// Listeners must be registered before producers start.
func (q *Queue) OnEnqueue(l Listener) {
	q.listeners = append(q.listeners, l)
}

// Enqueue appends a message for sessionID. It never blocks on other sessions
// and never fails for a valid session id.
func (q *Queue) Enqueue(sessionID string, parts []Part, kind Kind, metadata map[string]any) (*QueuedMessage, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	if kind == "" {
		kind = KindDefault
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	if q.closed.Load() {
		return nil, ErrClosed
	}

	msg := &QueuedMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Parts:     append([]Part(nil), parts...),
		Metadata:  copyMetadata(metadata),
		Kind:      kind,
	}

	var depth int
	for {
		var ok bool
		if depth, ok = q.bucket(sessionID, true).push(msg, q.clock); ok {
			break
		}
	}

	q.log.Debug().
		Str("session_id", sessionID).
		Str("message_id", msg.ID).
		Str("kind", string(kind)).
		Int("depth", depth).
		Msg("message enqueued")

	for _, l := range q.listeners {
		l(msg)
	}
	return msg, nil
}

// Drain removes every message currently queued for sessionID and returns them
// coalesced in enqueue order. The second result is false when nothing was queued.
func (q *Queue) Drain(sessionID string) (*CoalescedMessage, bool) {
	b := q.bucket(sessionID, false)
	if b == nil {
		return nil, false
	}

	b.mu.Lock()
	msgs := b.msgs
	b.msgs = nil
	b.mu.Unlock()

	if len(msgs) == 0 {
		return nil, false
	}

	q.log.Debug().
		Str("session_id", sessionID).
		Int("count", len(msgs)).
		Msg("queue drained")
	return Coalesce(msgs), true
}

// Len returns the number of messages queued for sessionID.
func (q *Queue) Len(sessionID string) int {
	b := q.bucket(sessionID, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

// Sessions returns the ids of sessions that currently have queued messages.
func (q *Queue) Sessions() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := make([]string, 0, len(q.buckets))
	for id, b := range q.buckets {
		b.mu.Lock()
		n := len(b.msgs)
		b.mu.Unlock()
		if n > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Discard drops a session's bucket and returns how many messages were lost.
func (q *Queue) Discard(sessionID string) int {
	q.mu.Lock()
	b, ok := q.buckets[sessionID]
	delete(q.buckets, sessionID)
	q.mu.Unlock()
	if !ok {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.msgs)
	b.msgs = nil
	b.dead = true
	return n
}

// Close rejects further enqueues. Already queued messages can still be drained.
func (q *Queue) Close() {
	q.closed.Store(true)
}

func (q *Queue) bucket(sessionID string, create bool) *bucket {
	q.mu.RLock()
	b, ok := q.buckets[sessionID]
	q.mu.RUnlock()
	if ok || !create {
		return b
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok = q.buckets[sessionID]; ok {
		return b
	}
	b = &bucket{}
	q.buckets[sessionID] = b
	return b
}

func copyMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
