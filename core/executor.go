package core

import "context"

// StepRequest is everything an executor needs to run one step.
type StepRequest struct {
	// Program is the natural-language text with frontmatter removed.
	Program string
	// Context is the live execution context the step reads and writes.
	Context *ExecutionContext
	// Outputs are the output binding names, in first-seen order.
	Outputs []string
	// Allowed are the outcome kinds the call site accepts.
	Allowed []Kind
}

// StepResult is delivered by asynchronous executors.
type StepResult struct {
	Outcome  Outcome
	Bindings map[string]any
	Err      error
}

// StepExecutor runs a step and blocks until it completes.
type StepExecutor interface {
	RunStep(ctx context.Context, req StepRequest) (Outcome, map[string]any, error)
}

// AsyncStepExecutor runs a step in the background and delivers exactly one
// result on the returned channel.
type AsyncStepExecutor interface {
	RunStepAsync(ctx context.Context, req StepRequest) <-chan StepResult
}
