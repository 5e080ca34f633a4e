// Package executor provides step executors.
//
// AgentExecutor is the default, model-backed executor: it renders the step
// into a prompt, lets the model inspect and assign values through the
// visible tools, and decodes the model's final answer into a step outcome.
// FuncExecutor and AsyncFuncExecutor adapt plain functions for tests and
// scripted hosts.
package executor
