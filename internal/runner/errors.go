package runner

import "errors"

// Runner errors.
var (
	// ErrMaxIterations indicates the turn used every allowed model call.
	ErrMaxIterations = errors.New("maximum iterations reached")

	// ErrNotAuthorized indicates a gated tool call was denied or timed out.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrTurnTimeout indicates the turn exceeded its time budget.
	ErrTurnTimeout = errors.New("turn timed out")

	// ErrTurnCanceled indicates the turn was canceled by a hook or by teardown.
	ErrTurnCanceled = errors.New("turn canceled")

	// ErrTurnPanic indicates a panic while the turn was running.
	ErrTurnPanic = errors.New("turn panicked")

	// ErrNoModel indicates no model is configured.
	ErrNoModel = errors.New("no model configured")

	// ErrNoQueue indicates no message queue is configured.
	ErrNoQueue = errors.New("no message queue configured")

	// ErrClosed indicates the runner has been shut down.
	ErrClosed = errors.New("runner closed")
)
