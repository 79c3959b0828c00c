package runner

import (
	"sync"

	"conduit/internal/hooks"
)

// historyStore keeps the recent conversation of each session in memory.
type historyStore struct {
	mu       sync.Mutex
	max      int
	sessions map[string][]hooks.Message
}

func newHistoryStore(max int) *historyStore {
	return &historyStore{max: max, sessions: make(map[string][]hooks.Message)}
}

// snapshot returns a copy of a session's history.
func (h *historyStore) snapshot(sessionID string) []hooks.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.sessions[sessionID]
	if len(msgs) == 0 {
		return nil
	}
	return append([]hooks.Message(nil), msgs...)
}

func (h *historyStore) append(sessionID string, msgs ...hooks.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = trimHistory(append(h.sessions[sessionID], msgs...), h.max)
}

func (h *historyStore) reset(sessionID string) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
}

// trimHistory keeps at most max messages and never starts with a tool result
// whose call was cut off.
func trimHistory(msgs []hooks.Message, max int) []hooks.Message {
	if len(msgs) <= max {
		return msgs
	}
	start := len(msgs) - max
	for start < len(msgs) && msgs[start].Role == "tool" {
		start++
	}
	out := make([]hooks.Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}
