package expr

import "fmt"

// ResolutionError reports a name, field, key or index that does not exist.
type ResolutionError struct {
	Msg string
}

func (e *ResolutionError) Error() string { return e.Msg }

func resolutionErrorf(format string, args ...any) *ResolutionError {
	return &ResolutionError{Msg: fmt.Sprintf(format, args...)}
}

// EvalError reports a failure while computing a value: a type mismatch, a
// division by zero, or an error or panic from a called function.
type EvalError struct {
	Msg   string
	Cause error
}

func (e *EvalError) Error() string { return e.Msg }

// Unwrap returns the underlying cause for error unwrapping.
func (e *EvalError) Unwrap() error { return e.Cause }

func evalErrorf(format string, args ...any) *EvalError {
	return &EvalError{Msg: fmt.Sprintf(format, args...)}
}
