package hooks

import (
	"fmt"
	"sync"
)

// entry is a type-erased handler. fn always holds a HandlerFunc[T] matching
// the Point the handler was registered through.
type entry struct {
	info Info
	fn   any
}

// Registry stores handlers per site in registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Site][]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Site][]*entry)}
}

func (r *Registry) add(site Site, e *entry) error {
	if !IsValidSite(site) {
		return fmt.Errorf("%w: %s", ErrSiteInvalid, site)
	}
	if e.info.ID == "" {
		return fmt.Errorf("%w: handler ID is required", ErrHandlerNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handlers[site] {
		if h.info.ID == e.info.ID {
			return fmt.Errorf("%w: %s", ErrHandlerExists, e.info.ID)
		}
	}
	r.handlers[site] = append(r.handlers[site], e)
	return nil
}

// Remove drops a handler from a site.
func (r *Registry) Remove(site Site, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[site]
	for i, h := range list {
		if h.info.ID == id {
			next := make([]*entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			r.handlers[site] = append(next, list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHandlerNotFound, id)
}

// SetEnabled toggles a handler without changing its position.
func (r *Registry) SetEnabled(site Site, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, h := range r.handlers[site] {
		if h.info.ID == id {
			cp := *h
			cp.info.Enabled = enabled
			r.handlers[site][i] = &cp
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHandlerNotFound, id)
}

// snapshot returns the current handler list. Entries are never mutated in
// place, so the slice is safe to iterate without the lock.
func (r *Registry) snapshot(site Site) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.handlers[site]
	if len(list) == 0 {
		return nil
	}
	out := make([]*entry, len(list))
	copy(out, list)
	return out
}

// List returns handler descriptions for a site.
func (r *Registry) List(site Site) []Info {
	entries := r.snapshot(site)
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.info)
	}
	return out
}

// Count returns the number of handlers across all sites.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.handlers {
		n += len(list)
	}
	return n
}

// Clear removes every handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[Site][]*entry)
}
