// Package tool is the boundary through which a model inspects and changes
// the live execution context of a step.
//
// The package is split by concern:
//   - tool: tool definitions and name validation
//   - registry: ordered, copyable name to tool maps
//   - eval / assign: the expression evaluator and the atomic assignment
//   - builtins: the provided nh_* tools
//   - invoke: argument decoding, failure classification and result rendering
//
// Every tool call returns a JSON result envelope. Failures never escape as
// Go errors or panics.
package tool
