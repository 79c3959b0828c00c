package approval

import (
	"fmt"

	"github.com/rs/zerolog"

	"conduit/pkg/logger"
)

// Message types broadcast to resolvers.
const (
	MessageTypeRequest  = "approval_request"
	MessageTypeResolved = "approval_resolved"
)

// Broadcaster pushes a typed message to connected clients of a session.
type Broadcaster interface {
	BroadcastToSession(sessionID, messageType string, data any) error
}

// ResolvedPayload is the body of an approval_resolved message.
type ResolvedPayload struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Decision  Decision `json:"decision"`
	DecidedBy string   `json:"decided_by,omitempty"`
	Note      string   `json:"note,omitempty"`
}

// BroadcastNotifier implements Notifier over a Broadcaster.
type BroadcastNotifier struct {
	broadcaster Broadcaster
	log         zerolog.Logger
}

// NewBroadcastNotifier creates a notifier.
func NewBroadcastNotifier(b Broadcaster) *BroadcastNotifier {
	return &BroadcastNotifier{broadcaster: b, log: logger.Component("approval.notify")}
}

// NotifyRequest announces a new request to the owning session.
func (n *BroadcastNotifier) NotifyRequest(req *Request) error {
	if n.broadcaster == nil {
		return nil
	}
	if err := n.broadcaster.BroadcastToSession(req.SessionID, MessageTypeRequest, req); err != nil {
		return fmt.Errorf("notifier: broadcast request: %w", err)
	}
	n.log.Debug().Str("request_id", req.ID).Msg("broadcast approval request")
	return nil
}

// NotifyResolved announces a terminal decision to the owning session.
func (n *BroadcastNotifier) NotifyResolved(req *Request, res *Result) error {
	if n.broadcaster == nil {
		return nil
	}
	payload := ResolvedPayload{
		ID:        req.ID,
		SessionID: req.SessionID,
		Decision:  res.Decision,
		DecidedBy: res.DecidedBy,
		Note:      res.Note,
	}
	if err := n.broadcaster.BroadcastToSession(req.SessionID, MessageTypeResolved, payload); err != nil {
		return fmt.Errorf("notifier: broadcast resolution: %w", err)
	}
	n.log.Debug().Str("request_id", req.ID).Str("decision", string(res.Decision)).Msg("broadcast approval resolved")
	return nil
}

// MultiNotifier fans out to several notifiers and returns the first error.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyRequest(req *Request) error {
	var first error
	for _, n := range m {
		if err := n.NotifyRequest(req); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiNotifier) NotifyResolved(req *Request, res *Result) error {
	var first error
	for _, n := range m {
		if err := n.NotifyResolved(req, res); err != nil && first == nil {
			first = err
		}
	}
	return first
}
