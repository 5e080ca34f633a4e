// Package core provides the foundational types shared by every nighthawk
// package.
//
// This package contains:
//   - Step outcomes: Kind and Outcome
//   - The per-step ExecutionContext and its rendering Limits
//   - Executor interfaces: StepExecutor, AsyncStepExecutor
//   - LLM client types used by the model-backed executor
//   - The error taxonomy: ParseError, NameError, ExecutionError
package core
