package runtime

import (
	"context"
	"fmt"

	"github.com/petal-labs/nighthawk/core"
)

// Drive blocks until an asynchronous executor delivers its result or ctx
// ends. A nil or closed channel is an execution error.
func Drive(ctx context.Context, ch <-chan core.StepResult) (core.Outcome, map[string]any, error) {
	if ch == nil {
		return core.Outcome{}, nil, core.Executionf("step executor returned no result channel")
	}
	select {
	case <-ctx.Done():
		return core.Outcome{}, nil, ctx.Err()
	case res, ok := <-ch:
		if !ok {
			return core.Outcome{}, nil, core.Executionf("step executor closed its result channel without a result")
		}
		return res.Outcome, res.Bindings, res.Err
	}
}

// Go runs fn on a new goroutine and delivers its result on a buffered
// channel. A panic in fn is recovered and delivered as an error. Async
// executors use it to implement RunStepAsync.
func Go(fn func() (core.Outcome, map[string]any, error)) <-chan core.StepResult {
	ch := make(chan core.StepResult, 1)
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				ch <- core.StepResult{Err: panicError(r)}
			}
		}()
		outcome, bindings, err := fn()
		ch <- core.StepResult{Outcome: outcome, Bindings: bindings, Err: err}
	}()
	return ch
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return core.Executionf("step executor panicked: %w", err)
	}
	return core.Executionf("step executor panicked: %v", fmt.Sprint(r))
}

// dispatch runs req on executor, preferring the synchronous interface.
func dispatch(ctx context.Context, executor any, req core.StepRequest) (outcome core.Outcome, bindings map[string]any, err error) {
	switch ex := executor.(type) {
	case core.StepExecutor:
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
			}
		}()
		return ex.RunStep(ctx, req)
	case core.AsyncStepExecutor:
		var ch <-chan core.StepResult
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = panicError(r)
				}
			}()
			ch = ex.RunStepAsync(ctx, req)
		}()
		if err != nil {
			return core.Outcome{}, nil, err
		}
		return Drive(ctx, ch)
	}
	return core.Outcome{}, nil, checkExecutor(executor)
}
