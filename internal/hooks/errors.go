package hooks

import (
	"errors"
	"fmt"
)

var (
	// ErrHandlerNotFound is returned when a handler id is unknown.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrHandlerExists is returned when a handler id is registered twice on a site.
	ErrHandlerExists = errors.New("handler already registered")

	// ErrSiteInvalid is returned for an unknown site.
	ErrSiteInvalid = errors.New("invalid hook site")

	// ErrHandlerFailed marks an unexpected handler fault. It is never used for cancellation.
	ErrHandlerFailed = errors.New("hook handler failed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panic")

	// ErrNilPayload is returned when a handler replaces the payload with nil.
	ErrNilPayload = errors.New("handler cleared the payload")

	// ErrScriptRuntime is returned when a script handler is used without a JS runtime.
	ErrScriptRuntime = errors.New("script runtime not configured")
)

// HandlerError reports which handler aborted a run.
// errors.Is(err, ErrHandlerFailed) holds for every HandlerError.
type HandlerError struct {
	Site      Site
	HandlerID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("hook %s handler %s: %v", e.Site, e.HandlerID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailed
}
