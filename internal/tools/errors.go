package tools

import (
	"errors"
	"fmt"
)

var (
	ErrToolNotFound      = errors.New("tools: tool not found")
	ErrToolAlreadyExists = errors.New("tools: tool already registered")
	ErrInvalidArgs       = errors.New("tools: invalid arguments")
	ErrToolTimeout       = errors.New("tools: execution timed out")
)

// InvalidArgsError says which tool rejected its arguments and why. It
// matches ErrInvalidArgs and unwraps to Cause.
type InvalidArgsError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *InvalidArgsError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", ErrInvalidArgs, e.Tool, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InvalidArgsError) Is(target error) bool { return target == ErrInvalidArgs }
func (e *InvalidArgsError) Unwrap() error        { return e.Cause }

func NewInvalidArgsError(tool, message string, cause error) error {
	return &InvalidArgsError{Tool: tool, Message: message, Cause: cause}
}

func NewToolNotFoundError(name string) error {
	return fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

func NewToolTimeoutError(tool, limit string) error {
	return fmt.Errorf("%w: %s after %s", ErrToolTimeout, tool, limit)
}
