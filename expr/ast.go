// Package expr provides the small expression language the model uses to
// inspect and compute values inside a step's execution context. Expressions
// read names from a Scope, access fields, map keys and indexes, do
// arithmetic and comparisons, and may call builtins or Go functions that are
// reachable from the scope. Evaluation never assigns.
package expr

import (
	"fmt"
	"strings"
)

// Expr is the interface implemented by all AST nodes.
type Expr interface {
	expr() // marker method
	String() string
}

// BinaryExpr represents a binary operation (e.g. a == b, a + b).
type BinaryExpr struct {
	Left  Expr
	Op    TokenKind
	Right Expr
}

func (e *BinaryExpr) expr() {}
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

// UnaryExpr represents a unary operation (e.g. !a, -a).
type UnaryExpr struct {
	Op      TokenKind
	Operand Expr
}

func (e *UnaryExpr) expr() {}
func (e *UnaryExpr) String() string {
	return fmt.Sprintf("(%s%s)", e.Op, e.Operand)
}

// LiteralExpr represents a literal value (number, string, bool, nil).
type LiteralExpr struct {
	Value any // int, float64, string, bool, or nil
}

func (e *LiteralExpr) expr() {}
func (e *LiteralExpr) String() string {
	if e.Value == nil {
		return "nil"
	}
	if s, ok := e.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", e.Value)
}

// IdentExpr represents an identifier.
type IdentExpr struct {
	Name string
}

func (e *IdentExpr) expr() {}
func (e *IdentExpr) String() string {
	return e.Name
}

// MemberExpr represents field, method or key access (e.g. order.Total).
type MemberExpr struct {
	Object   Expr
	Property string
}

func (e *MemberExpr) expr() {}
func (e *MemberExpr) String() string {
	return fmt.Sprintf("%s.%s", e.Object, e.Property)
}

// IndexExpr represents index or key access (e.g. items[0], m["k"]).
type IndexExpr struct {
	Object Expr
	Index  Expr
}

func (e *IndexExpr) expr() {}
func (e *IndexExpr) String() string {
	return fmt.Sprintf("%s[%s]", e.Object, e.Index)
}

// CallExpr represents a function or method call.
type CallExpr struct {
	Func Expr
	Args []Expr
}

func (e *CallExpr) expr() {}
func (e *CallExpr) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", e.Func, strings.Join(args, ", "))
}

// ArrayLiteral represents an inline list (e.g. ["a", "b"]).
type ArrayLiteral struct {
	Elements []Expr
}

func (e *ArrayLiteral) expr() {}
func (e *ArrayLiteral) String() string {
	return fmt.Sprintf("[%d elements]", len(e.Elements))
}

// MapLiteral represents an inline object with string keys
// (e.g. {"name": n, "count": 2}).
type MapLiteral struct {
	Keys   []string
	Values []Expr
}

func (e *MapLiteral) expr() {}
func (e *MapLiteral) String() string {
	return fmt.Sprintf("{%d entries}", len(e.Keys))
}

// Names returns the root identifiers an expression reads, in first-seen
// order.
func Names(e Expr) []string {
	var names []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *IdentExpr:
			for _, existing := range names {
				if existing == n.Name {
					return
				}
			}
			names = append(names, n.Name)
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *UnaryExpr:
			walk(n.Operand)
		case *MemberExpr:
			walk(n.Object)
		case *IndexExpr:
			walk(n.Object)
			walk(n.Index)
		case *CallExpr:
			walk(n.Func)
			for _, a := range n.Args {
				walk(a)
			}
		case *ArrayLiteral:
			for _, el := range n.Elements {
				walk(el)
			}
		case *MapLiteral:
			for _, v := range n.Values {
				walk(v)
			}
		}
	}
	walk(e)
	return names
}
