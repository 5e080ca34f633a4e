package tool

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrorKind classifies a tool failure for the model.
type ErrorKind string

const (
	KindInvalidInput ErrorKind = "invalid_input"
	KindResolution   ErrorKind = "resolution"
	KindExecution    ErrorKind = "execution"
	KindTransient    ErrorKind = "transient"
	KindInternal     ErrorKind = "internal"
)

const (
	guidanceSyntax     = "Check the expression syntax and retry."
	guidanceResolution = "Inspect available names with nh_dir or nh_eval before retrying."
	guidanceExecution  = "The expression raised an error. Fix the inputs and retry."
	guidanceTarget     = "Use a target of the form name(.field)* with ASCII identifiers."
	guidanceTransient  = "The tool timed out. Retry."
	guidanceInternal   = "The tool execution raised an unexpected error. Retry or report this error."
)

// maxMessageRunes caps failure messages shown to the model.
const maxMessageRunes = 500

// Failure is a classified tool failure. Handlers return it to control the
// kind and guidance the model sees.
type Failure struct {
	Kind     ErrorKind
	Message  string
	Guidance string
	Cause    error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Cause
}

func newFailure(kind ErrorKind, guidance string, cause error, format string, args ...any) *Failure {
	return &Failure{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Guidance: guidance,
		Cause:    cause,
	}
}

// sanitizeMessage collapses a message to one line of at most
// maxMessageRunes runes.
func sanitizeMessage(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if utf8.RuneCountInString(msg) <= maxMessageRunes {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:maxMessageRunes-1]) + "…"
}
