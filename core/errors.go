package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching.
var (
	ErrParse     = errors.New("nighthawk: parse error")
	ErrName      = errors.New("nighthawk: name error")
	ErrExecution = errors.New("nighthawk: execution error")
)

// ParseError reports a malformed natural block or an invalid host program.
// It is raised while generating code, never at step time.
type ParseError struct {
	File    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	case e.File != "":
		return e.File + ": " + e.Message
	}
	return e.Message
}

// Is matches ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// NameError reports an input binding that could not be resolved.
type NameError struct {
	Name string
	// Unbound is set when the name is a local of the enclosing function
	// that has not been assigned yet.
	Unbound bool
}

func (e *NameError) Error() string {
	if e.Unbound {
		return fmt.Sprintf("cannot access local variable %q where it is not associated with a value", e.Name)
	}
	return fmt.Sprintf("name %q is not defined", e.Name)
}

// Is matches ErrName.
func (e *NameError) Is(target error) bool { return target == ErrName }

// ExecutionError reports a failed step: an invalid outcome, a disallowed
// kind, a failed coercion or an unresolved raise.
type ExecutionError struct {
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches ErrExecution.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// Executionf creates an ExecutionError with a formatted message.
// A trailing error argument wrapped with %w becomes the cause.
func Executionf(format string, args ...any) *ExecutionError {
	err := fmt.Errorf(format, args...)
	return &ExecutionError{Message: err.Error(), Cause: errors.Unwrap(err)}
}

// ToolRegistrationError reports an invalid or conflicting tool registration.
type ToolRegistrationError struct {
	Name    string
	Message string
}

func (e *ToolRegistrationError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("tool %q: %s", e.Name, e.Message)
}
