package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/render"
)

// Run executes t with raw JSON arguments and classifies the outcome. It
// never panics.
func Run(ctx context.Context, t Tool, ec *core.ExecutionContext, rawArgs []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(&Failure{
				Kind:     KindInternal,
				Message:  fmt.Sprintf("tool %s panicked: %v", t.Name, r),
				Guidance: guidanceInternal,
			})
		}
	}()

	args := map[string]any{}
	if len(rawArgs) > 0 && string(rawArgs) != "null" {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return Fail(newFailure(KindInvalidInput, "Send the arguments as a JSON object matching the tool schema.", err,
				"invalid arguments for %s: %v", t.Name, err))
		}
	}
	if t.Handler == nil {
		return Fail(newFailure(KindInternal, guidanceInternal, nil, "tool %s has no handler", t.Name))
	}

	value, err := t.Handler(ctx, ec, args)
	if err != nil {
		return classify(err)
	}
	return Success(value)
}

func classify(err error) Result {
	var f *Failure
	switch {
	case errors.As(err, &f):
		return Fail(f)
	case errors.Is(err, context.DeadlineExceeded):
		return Fail(&Failure{Kind: KindTransient, Message: err.Error(), Guidance: guidanceTransient, Cause: err})
	default:
		msg := err.Error()
		if msg == "" {
			msg = "Tool execution failed"
		}
		return Fail(&Failure{Kind: KindInternal, Message: msg, Guidance: guidanceInternal, Cause: err})
	}
}

// Invoke runs t and renders the result envelope within the execution
// context's tool result budget. It never panics or fails.
func Invoke(ctx context.Context, t Tool, ec *core.ExecutionContext, rawArgs []byte, tok render.Tokenizer) (out string) {
	defer func() {
		if recover() != nil {
			out = fallbackResult
		}
	}()
	res := Run(ctx, t, ec, rawArgs)
	return res.Render(ec.Limits.WithDefaults().ToolResultMaxTokens, tok)
}
