// Package contract defines the step outcome contract: which outcome kinds a
// call site accepts, the JSON schema and prompt instructions handed to the
// model, the optional frontmatter that narrows the allowed kinds, and strict
// decoding of the model's final answer.
//
// Every function here is pure: the same allowed kinds and error-type
// candidates always produce the same schema and the same text.
package contract
