package block

import (
	"go/ast"
	"go/token"
	"strconv"
)

// Found is a block together with the syntax node it came from.
type Found struct {
	Block
	// Stmt is the expression statement for inline and templated blocks.
	// It is nil for docstring blocks.
	Stmt *ast.ExprStmt
	// Call is the fmt.Sprintf call of a templated block.
	Call *ast.CallExpr
}

// FromFunc returns the blocks of a function declaration in source order.
// fmtName is the local import name of package fmt, or "" when the file does
// not import it.
func FromFunc(fset *token.FileSet, fn *ast.FuncDecl, fmtName string) ([]Found, error) {
	var found []Found

	if fn.Doc != nil {
		text := fn.Doc.Text()
		if IsSentinel(text) {
			b, err := literalBlock(KindDocstring, text, fset.Position(fn.Pos()).Line)
			if err != nil {
				return nil, withPos(err, fset, fn.Doc.Pos())
			}
			found = append(found, Found{Block: b})
		}
	}
	if fn.Body == nil {
		return found, nil
	}

	var walkErr error
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		if walkErr != nil {
			return false
		}
		stmt, ok := n.(*ast.ExprStmt)
		if !ok {
			return true
		}
		f, ok, err := fromStmt(fset, stmt, fmtName)
		if err != nil {
			walkErr = withPos(err, fset, stmt.Pos())
			return false
		}
		if ok {
			found = append(found, f)
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return found, nil
}

func fromStmt(fset *token.FileSet, stmt *ast.ExprStmt, fmtName string) (Found, bool, error) {
	line := fset.Position(stmt.Pos()).Line
	switch x := stmt.X.(type) {
	case *ast.BasicLit:
		if x.Kind != token.STRING {
			return Found{}, false, nil
		}
		text, err := strconv.Unquote(x.Value)
		if err != nil || !IsSentinel(text) {
			return Found{}, false, nil
		}
		b, err := literalBlock(KindInline, text, line)
		if err != nil {
			return Found{}, false, err
		}
		return Found{Block: b, Stmt: stmt}, true, nil

	case *ast.CallExpr:
		format, ok := sprintfFormat(x, fmtName)
		if !ok {
			return Found{}, false, nil
		}
		segments := SplitFormat(format)
		if !IsSentinel(SentinelText(segments)) {
			return Found{}, false, nil
		}
		inputs, outputs, err := ParseSegments(segments)
		if err != nil {
			return Found{}, false, err
		}
		return Found{
			Block: Block{Kind: KindTemplated, Program: format, Inputs: inputs, Outputs: outputs, Line: line},
			Stmt:  stmt,
			Call:  x,
		}, true, nil
	}
	return Found{}, false, nil
}

func literalBlock(kind Kind, text string, line int) (Block, error) {
	program, err := ExtractProgram(text)
	if err != nil {
		return Block{}, err
	}
	inputs, outputs, err := ParseBindings(program)
	if err != nil {
		return Block{}, err
	}
	return Block{Kind: kind, Program: program, Inputs: inputs, Outputs: outputs, Line: line}, nil
}

// sprintfFormat returns the literal format of a fmt.Sprintf call.
func sprintfFormat(call *ast.CallExpr, fmtName string) (string, bool) {
	if fmtName == "" || len(call.Args) == 0 {
		return "", false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Sprintf" {
		return "", false
	}
	pkg, ok := sel.X.(*ast.Ident)
	if !ok || pkg.Name != fmtName {
		return "", false
	}
	lit, ok := call.Args[0].(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	format, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return format, true
}

// ImportName returns the local name under which file imports path, or ""
// when it does not. Dot and blank imports count as not imported.
func ImportName(file *ast.File, path string) string {
	for _, spec := range file.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil || p != path {
			continue
		}
		if spec.Name == nil {
			return pathBase(path)
		}
		if spec.Name.Name == "_" || spec.Name.Name == "." {
			return ""
		}
		return spec.Name.Name
	}
	return ""
}

func pathBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
