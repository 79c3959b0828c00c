package approval

import "sync"

// history remembers the most recent terminal decisions in a fixed ring.
type history struct {
	mu    sync.Mutex
	byID  map[string]*Result
	ring  []string
	next  int
	limit int
}

func newHistory(limit int) *history {
	return &history{
		byID:  make(map[string]*Result, limit),
		ring:  make([]string, limit),
		limit: limit,
	}
}

func (h *history) put(res *Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old := h.ring[h.next]; old != "" {
		delete(h.byID, old)
	}
	h.ring[h.next] = res.RequestID
	h.byID[res.RequestID] = res
	h.next = (h.next + 1) % h.limit
}

func (h *history) get(id string) (*Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	res, ok := h.byID[id]
	return res, ok
}
