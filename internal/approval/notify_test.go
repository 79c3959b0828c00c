package approval

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	session string
	typ     string
	data    any
}

type mockBroadcaster struct {
	msgs []sent
	err  error
}

func (m *mockBroadcaster) BroadcastToSession(sessionID, messageType string, data any) error {
	m.msgs = append(m.msgs, sent{sessionID, messageType, data})
	return m.err
}

func TestBroadcastNotifier(t *testing.T) {
	b := &mockBroadcaster{}
	n := NewBroadcastNotifier(b)
	req := &Request{ID: "r1", SessionID: "s1", Type: "t"}

	require.NoError(t, n.NotifyRequest(req))
	require.NoError(t, n.NotifyResolved(req, &Result{Decision: DecisionDenied, DecidedBy: "bob"}))

	require.Len(t, b.msgs, 2)
	assert.Equal(t, "s1", b.msgs[0].session)
	assert.Equal(t, MessageTypeRequest, b.msgs[0].typ)
	assert.Equal(t, MessageTypeResolved, b.msgs[1].typ)
	payload := b.msgs[1].data.(ResolvedPayload)
	assert.Equal(t, DecisionDenied, payload.Decision)
	assert.Equal(t, "bob", payload.DecidedBy)

	b.err = errors.New("down")
	assert.Error(t, n.NotifyRequest(req))
	assert.NoError(t, NewBroadcastNotifier(nil).NotifyRequest(req))
}

func TestMultiNotifier(t *testing.T) {
	a, b := &mockNotifier{}, &mockNotifier{}
	m := MultiNotifier{a, b}
	req := &Request{ID: "r1"}
	require.NoError(t, m.NotifyRequest(req))
	require.NoError(t, m.NotifyResolved(req, &Result{}))
	ra, sa := a.counts()
	rb, sb := b.counts()
	assert.Equal(t, []int{1, 1, 1, 1}, []int{ra, sa, rb, sb})
}

func TestFileRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "approvals.jsonl")
	r, err := NewFileRecorder(path)
	require.NoError(t, err)

	req := &Request{ID: "r1", Type: "tool:shell", SessionID: "s1", CreatedAt: time.Now()}
	require.NoError(t, r.RecordRequest(req))
	require.NoError(t, r.RecordDecision(req, &Result{Decision: DecisionApproved, DecidedBy: "alice", DecidedAt: time.Now()}))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, path, r.Path())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []LogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "request", entries[0].EventType)
	assert.Equal(t, "decision", entries[1].EventType)
	assert.Equal(t, DecisionApproved, entries[1].Decision)
}

type countingRecorder struct {
	requests, decisions int
	err                 error
}

func (c *countingRecorder) RecordRequest(*Request) error {
	c.requests++
	return c.err
}

func (c *countingRecorder) RecordDecision(*Request, *Result) error {
	c.decisions++
	return c.err
}

func TestMultiRecorder(t *testing.T) {
	failing := &countingRecorder{err: errors.New("disk full")}
	ok := &countingRecorder{}
	m := MultiRecorder{failing, ok}

	req := &Request{ID: "r1"}
	assert.EqualError(t, m.RecordRequest(req), "disk full")
	assert.EqualError(t, m.RecordDecision(req, &Result{}), "disk full")
	assert.Equal(t, 1, ok.requests, "later recorders still run after an error")
	assert.Equal(t, 1, ok.decisions)
}
