package core

import "strings"

// Kind identifies the control-flow outcome of a natural step.
type Kind string

const (
	KindPass     Kind = "pass"
	KindReturn   Kind = "return"
	KindBreak    Kind = "break"
	KindContinue Kind = "continue"
	KindRaise    Kind = "raise"
)

// Kinds lists every outcome kind in canonical order.
var Kinds = []Kind{KindPass, KindReturn, KindBreak, KindContinue, KindRaise}

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind converts a string to a Kind, reporting whether it is known.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// FormatKinds renders kinds as a parenthesised, comma separated list.
func FormatKinds(kinds []Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = "'" + string(k) + "'"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ContainsKind reports whether kinds includes k.
func ContainsKind(kinds []Kind, k Kind) bool {
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// Outcome is the structured result a step executor produces.
// Only the fields relevant to Kind are populated.
type Outcome struct {
	Kind          Kind   `json:"kind"`
	ReferencePath string `json:"reference_path,omitempty"` // return only
	Message       string `json:"message,omitempty"`        // raise only
	ErrorType     string `json:"error_type,omitempty"`     // raise only, optional
}

// Pass returns a pass outcome.
func Pass() Outcome { return Outcome{Kind: KindPass} }

// Return returns a return outcome referencing a value in the execution context.
func Return(referencePath string) Outcome {
	return Outcome{Kind: KindReturn, ReferencePath: referencePath}
}

// Break returns a break outcome.
func Break() Outcome { return Outcome{Kind: KindBreak} }

// Continue returns a continue outcome.
func Continue() Outcome { return Outcome{Kind: KindContinue} }

// Raise returns a raise outcome. errorType may be empty.
func Raise(message, errorType string) Outcome {
	return Outcome{Kind: KindRaise, Message: message, ErrorType: errorType}
}
