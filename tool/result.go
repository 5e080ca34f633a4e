package tool

import (
	"errors"

	"github.com/petal-labs/nighthawk/render"
)

// Status is the outcome of a tool call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ResultError is the error channel of a tool result.
type ResultError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Guidance string    `json:"guidance"`
}

// Result is the envelope every tool call produces.
type Result struct {
	Status Status       `json:"status"`
	Value  any          `json:"value"`
	Error  *ResultError `json:"error"`
}

// fallbackResult is returned when rendering itself fails.
const fallbackResult = `{"status":"failure","value":null,"error":{"kind":"internal","message":"Tool execution failed","guidance":"The tool execution raised an unexpected error. Retry or report this error."}}`

// errorShare is the fraction of the token budget reserved for the error
// channel.
const errorShare = 0.9

// Success wraps a tool return value.
func Success(value any) Result {
	return Result{Status: StatusSuccess, Value: value}
}

// Fail wraps a failure.
func Fail(f *Failure) Result {
	return Result{
		Status: StatusFailure,
		Error: &ResultError{
			Kind:     f.Kind,
			Message:  sanitizeMessage(f.Message),
			Guidance: f.Guidance,
		},
	}
}

func failureResult(err error) Result {
	var f *Failure
	if errors.As(err, &f) {
		return Fail(f)
	}
	return Fail(&Failure{Kind: KindInternal, Message: err.Error(), Guidance: guidanceInternal})
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Render serializes the result under maxTokens. The error channel gets up to
// 90% of the budget and the value channel the remainder.
func (r Result) Render(maxTokens int, tok render.Tokenizer) (out string) {
	defer func() {
		if recover() != nil {
			out = fallbackResult
		}
	}()

	errText := "null"
	valueBudget := maxTokens
	if r.Error != nil {
		text, n, err := render.RenderJSON(r.Error, int(float64(maxTokens)*errorShare), tok)
		if err != nil {
			return fallbackResult
		}
		errText = text
		valueBudget = maxTokens - n
	}

	valueText := "null"
	if r.Value != nil {
		if valueBudget < len(render.MinimumOutput) {
			valueText = render.MinimumOutput
		} else {
			text, _, err := render.RenderJSON(r.Value, valueBudget, tok)
			if err != nil {
				return fallbackResult
			}
			valueText = text
		}
	}

	return `{"status":"` + string(r.Status) + `","value":` + valueText + `,"error":` + errText + `}`
}
