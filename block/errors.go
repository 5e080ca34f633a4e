package block

import (
	"errors"
	"go/token"

	"github.com/petal-labs/nighthawk/core"
)

// withPos stamps a parse error with the file and line of pos.
func withPos(err error, fset *token.FileSet, pos token.Pos) error {
	var pe *core.ParseError
	if !errors.As(err, &pe) {
		return err
	}
	p := fset.Position(pos)
	return &core.ParseError{File: p.Filename, Line: p.Line, Message: pe.Message}
}
