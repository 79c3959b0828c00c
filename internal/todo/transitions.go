package todo

// Transitions is the allowed edge set, keyed by the current status.
type Transitions map[Status][]Status

// DefaultTransitions returns the standard edges. Completed and cancelled
// are terminal.
func DefaultTransitions() Transitions {
	return Transitions{
		StatusPending:    {StatusInProgress, StatusCancelled},
		StatusInProgress: {StatusCompleted, StatusCancelled, StatusPending},
	}
}

// WithSkip returns a copy of t that also allows pending -> completed.
func (t Transitions) WithSkip() Transitions {
	out := make(Transitions, len(t))
	for from, to := range t {
		out[from] = append([]Status(nil), to...)
	}
	if !out.Allows(StatusPending, StatusCompleted) {
		out[StatusPending] = append(out[StatusPending], StatusCompleted)
	}
	return out
}

// Allows reports whether from -> to is an edge. Staying in the same status is
// not a transition and is always allowed.
func (t Transitions) Allows(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}
