// Package jsvm evaluates hook scripts on pooled goja runtimes.
package jsvm

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates a script ran past its time limit.
	ErrTimeout = errors.New("jsvm: execution timeout")

	// ErrVMPoolExhausted indicates no runtime became available in time.
	ErrVMPoolExhausted = errors.New("jsvm: vm pool exhausted")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("jsvm: runtime closed")
)

// ScriptSyntaxError reports a script that failed to compile.
type ScriptSyntaxError struct {
	File    string
	Message string
}

func (e *ScriptSyntaxError) Error() string {
	return fmt.Sprintf("jsvm: syntax error in %s: %s", e.File, e.Message)
}

func (e *ScriptSyntaxError) Is(target error) bool {
	_, ok := target.(*ScriptSyntaxError)
	return ok
}

// ErrScriptSyntax matches any *ScriptSyntaxError with errors.Is.
var ErrScriptSyntax = &ScriptSyntaxError{}

// ExecutionError wraps a failure raised while a script ran.
type ExecutionError struct {
	Script string
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("jsvm: execution error in %s: %v", e.Script, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func (e *ExecutionError) Is(target error) bool {
	_, ok := target.(*ExecutionError)
	return ok
}

// ErrExecution matches any *ExecutionError with errors.Is.
var ErrExecution = &ExecutionError{}
