// Package queue buffers inbound messages per session and coalesces them into
// a single turn input when the session worker drains.
package queue

import (
	"errors"
	"time"
)

// Kind distinguishes foreground input from background-originated messages.
type Kind string

const (
	KindDefault    Kind = "default"
	KindBackground Kind = "background"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindDefault || k == KindBackground
}

// Part is one piece of message content.
type Part struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// QueuedMessage is an immutable inbound message waiting for the next turn.
type QueuedMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Parts     []Part         `json:"parts"`
	QueuedAt  time.Time      `json:"queued_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Kind      Kind           `json:"kind"`
}

// CoalescedMessage is the batched view produced by Drain.
type CoalescedMessage struct {
	Messages      []*QueuedMessage `json:"messages"`
	Parts         []Part           `json:"parts"`
	FirstQueuedAt time.Time        `json:"first_queued_at"`
	LastQueuedAt  time.Time        `json:"last_queued_at"`
}

// Background reports whether every message in the batch came from a
// background producer.
func (c *CoalescedMessage) Background() bool {
	for _, m := range c.Messages {
		if m.Kind != KindBackground {
			return false
		}
	}
	return len(c.Messages) > 0
}

var (
	// ErrMissingSession is returned when a message has no session id.
	ErrMissingSession = errors.New("queue: session id is required")

	// ErrInvalidKind is returned for an unknown message kind.
	ErrInvalidKind = errors.New("queue: invalid message kind")

	// ErrClosed is returned after the queue has been closed.
	ErrClosed = errors.New("queue: closed")
)
