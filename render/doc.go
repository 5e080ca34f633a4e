// Package render turns live Go values into bounded, deterministic prompt
// text. Every rendering is measured with a Tokenizer and cut structurally
// until it fits its token budget.
package render
