// Package approval implements the approval gate: gated actions wait on a
// one-shot decision that an external resolver, a timer, or cancellation
// settles exactly once.
package approval

import (
	"errors"
	"time"
)

// Decision is the terminal outcome of a request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionTimedOut Decision = "timed_out"
	DecisionCanceled Decision = "canceled"
)

// Allowed reports whether the gated action may proceed.
func (d Decision) Allowed() bool { return d == DecisionApproved }

// Resolvable reports whether an external resolver may submit d.
func (d Decision) Resolvable() bool {
	return d == DecisionApproved || d == DecisionDenied
}

// ParseDecision maps resolver input to a decision.
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "approved", "approve", "yes", "y":
		return DecisionApproved, nil
	case "denied", "deny", "rejected", "reject", "no", "n":
		return DecisionDenied, nil
	default:
		return "", ErrInvalidDecision
	}
}

// Request is a pending approval visible to resolvers.
type Request struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Timeout   time.Duration  `json:"timeout"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Result is the terminal decision of a request.
type Result struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id"`
	Decision  Decision  `json:"decision"`
	DecidedBy string    `json:"decided_by,omitempty"`
	Note      string    `json:"note,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Notifier publishes gate activity to resolvers.
type Notifier interface {
	NotifyRequest(req *Request) error
	NotifyResolved(req *Request, result *Result) error
}

// Recorder keeps an audit trail of requests and decisions.
type Recorder interface {
	RecordRequest(req *Request) error
	RecordDecision(req *Request, result *Result) error
}

var (
	// ErrRequestNotFound is returned for an id the gate has never seen or has forgotten.
	ErrRequestNotFound = errors.New("approval: request not found")

	// ErrAlreadyResolved reports a late or duplicate resolution. It had no effect.
	ErrAlreadyResolved = errors.New("approval: request already resolved")

	// ErrInvalidDecision is returned when a resolver submits a non-resolver decision.
	ErrInvalidDecision = errors.New("approval: invalid decision")

	// ErrMaxPendingExceeded is returned when too many requests are pending.
	ErrMaxPendingExceeded = errors.New("approval: too many pending requests")

	// ErrMissingField is returned when type or session id is empty.
	ErrMissingField = errors.New("approval: missing required field")

	// ErrGateClosed is returned after Close.
	ErrGateClosed = errors.New("approval: gate closed")
)
