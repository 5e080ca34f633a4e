package rewrite

import (
	"fmt"
	"go/ast"
	"go/token"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/petal-labs/nighthawk/block"
	"github.com/petal-labs/nighthawk/contract"
	"github.com/petal-labs/nighthawk/core"
	"github.com/petal-labs/nighthawk/render"
)

// RuntimeImport is the import path generated code uses for the step runner.
const RuntimeImport = "github.com/petal-labs/nighthawk/runtime"

// pkgDecl is a package-level declaration.
type pkgDecl struct {
	kind    declKind
	generic bool
}

type edit struct {
	start, end int
	text       string
	seq        int
}

// emitter accumulates the edits for one file.
type emitter struct {
	filename string
	base     string
	fset     *token.FileSet
	src      []byte
	file     *ast.File
	pkg      map[string]pkgDecl

	fmtName     string
	contextName string

	usesReflect bool
	usesContext bool

	labels map[ast.Stmt]string
	edits  []edit

	blocks    []block.Block
	functions int
}

func newEmitter(filename string, fset *token.FileSet, src []byte, file *ast.File, pkg map[string]pkgDecl) *emitter {
	decls := make(map[string]pkgDecl, len(pkg))
	for k, v := range pkg {
		decls[k] = v
	}
	collectDecls(file, decls)
	return &emitter{
		filename:    filename,
		base:        filepath.Base(filename),
		fset:        fset,
		src:         src,
		file:        file,
		pkg:         decls,
		fmtName:     block.ImportName(file, "fmt"),
		contextName: block.ImportName(file, "context"),
		labels:      make(map[ast.Stmt]string),
	}
}

func (e *emitter) offset(pos token.Pos) int { return e.fset.Position(pos).Offset }

func (e *emitter) directive(pos token.Pos) string {
	p := e.fset.Position(pos)
	return fmt.Sprintf("/*line %s:%d:%d*/", e.base, p.Line, p.Column)
}

func (e *emitter) text(n ast.Node) string {
	return string(e.src[e.offset(n.Pos()):e.offset(n.End())])
}

func (e *emitter) parseErrorf(pos token.Pos, format string, args ...any) error {
	p := e.fset.Position(pos)
	return &core.ParseError{File: p.Filename, Line: p.Line, Message: fmt.Sprintf(format, args...)}
}

func (e *emitter) insert(pos token.Pos, text string) {
	off := e.offset(pos)
	e.edits = append(e.edits, edit{start: off, end: off, text: text, seq: len(e.edits)})
}

// insertFirst inserts text ahead of any other insertion at pos.
func (e *emitter) insertFirst(pos token.Pos, text string) {
	e.insert(pos, text)
	e.edits[len(e.edits)-1].seq = -1
}

func (e *emitter) replace(n ast.Node, text string) {
	e.edits = append(e.edits, edit{start: e.offset(n.Pos()), end: e.offset(n.End()), text: text, seq: len(e.edits)})
}

// run analyses every function declaration and records its splices.
func (e *emitter) run() error {
	for _, d := range e.file.Decls {
		fn, ok := d.(*ast.FuncDecl)
		if !ok {
			continue
		}
		if err := e.funcDecl(fn); err != nil {
			return err
		}
	}
	return nil
}

func (e *emitter) funcDecl(fn *ast.FuncDecl) error {
	found, err := block.FromFunc(e.fset, fn, e.fmtName)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}
	if fn.Body == nil {
		return e.parseErrorf(fn.Pos(), "function %s has a natural docstring but no body", fn.Name.Name)
	}

	targets := make(map[*ast.ExprStmt]bool)
	var doc *block.Found
	for i := range found {
		if found[i].Stmt != nil {
			targets[found[i].Stmt] = true
		} else {
			doc = &found[i]
		}
	}
	docAfter := -2
	if doc != nil {
		docAfter, err = e.docPlacement(fn, doc.Outputs)
		if err != nil {
			return err
		}
	}

	w := newWalker(e.contextName, targets, docAfter)
	w.funcDecl(fn)

	e.functions++
	usesCtx := false
	name := funcName(fn)
	var calls []string
	if doc != nil {
		b := doc.Block
		b.Line = e.fset.Position(fn.Doc.Pos()).Line
		code, err := e.callCode(name, b, nil, w.docSite, fn.Doc.Pos())
		if err != nil {
			return err
		}
		usesCtx = usesCtx || w.docSite.ctx == "_nhCtx"
		calls = append(calls, code)
		e.blocks = append(e.blocks, b)
	}
	for _, f := range found {
		if f.Stmt == nil {
			continue
		}
		s := w.sites[f.Stmt]
		if s == nil {
			return e.parseErrorf(f.Stmt.Pos(), "natural block is not reachable by scope analysis")
		}
		code, err := e.callCode(name, f.Block, f.Call, s, f.Stmt.Pos())
		if err != nil {
			return err
		}
		usesCtx = usesCtx || s.ctx == "_nhCtx"
		e.replace(f.Stmt, code+e.directive(f.Stmt.End()))
		e.blocks = append(e.blocks, f.Block)
	}

	body := fn.Body.Lbrace + 1
	prologue := e.prologue(fn, usesCtx)
	if doc != nil && docAfter == -1 {
		e.insertFirst(body, prologue+"\n"+calls[0]+e.directive(body))
	} else {
		e.insertFirst(body, prologue+e.directive(body))
		if doc != nil {
			end := fn.Body.List[docAfter].End()
			e.insert(end, "\n"+calls[0]+e.directive(end))
		}
	}
	return nil
}

// prologue enters the call scope for the whole function body.
func (e *emitter) prologue(fn *ast.FuncDecl, usesCtx bool) string {
	ctx := contextParam(fn.Type, e.contextName)
	if ctx != "" {
		return fmt.Sprintf("%s, _nhEnd := nhrt.EnterCall(%s); defer _nhEnd();", ctx, ctx)
	}
	e.usesContext = true
	lhs := "_"
	if usesCtx {
		lhs = "_nhCtx"
	}
	return lhs + ", _nhEnd := nhrt.EnterCall(_nhcontext.Background()); defer _nhEnd();"
}

// docPlacement returns the index of the first top-level statement after
// which every output of a docstring block is declared, or -1 when they
// are all declared at the body start.
func (e *emitter) docPlacement(fn *ast.FuncDecl, outputs []string) (int, error) {
	declared := make(map[string]bool)
	for _, fl := range []*ast.FieldList{fn.Recv, fn.Type.Params, fn.Type.Results} {
		if fl == nil {
			continue
		}
		for _, f := range fl.List {
			for _, n := range f.Names {
				declared[n.Name] = true
			}
		}
	}
	for name, d := range e.pkg {
		if d.kind == declVar {
			declared[name] = true
		}
	}
	satisfied := func() bool {
		for _, o := range outputs {
			if !declared[o] {
				return false
			}
		}
		return true
	}
	if satisfied() {
		return -1, nil
	}
	for i, stmt := range fn.Body.List {
		for _, name := range topLevelDeclared(stmt) {
			declared[name] = true
		}
		if satisfied() {
			return i, nil
		}
	}
	for _, o := range outputs {
		if !declared[o] {
			return 0, e.parseErrorf(fn.Doc.Pos(), "output binding %q of the docstring block is never declared in %s", o, fn.Name.Name)
		}
	}
	return -1, nil
}

// callCode renders the splice for one block. Every line starts with a
// directive pointing at the block.
func (e *emitter) callCode(function string, b block.Block, call *ast.CallExpr, s *site, pos token.Pos) (string, error) {
	for _, o := range b.Outputs {
		kind, ok := s.visible(o)
		if !ok {
			if d, isPkg := e.pkg[o]; isPkg && d.kind == declVar {
				continue
			}
			return "", e.parseErrorf(pos, "output binding %q is not declared before the natural block", o)
		}
		if kind != declVar {
			return "", e.parseErrorf(pos, "output binding %q is not a variable", o)
		}
	}

	// Templated programs only exist after interpolation; the runner checks
	// their frontmatter.
	if call == nil {
		if _, _, err := contract.SplitFrontmatter(b.Program); err != nil {
			return "", e.parseErrorf(pos, "%v", err)
		}
	}

	program := strconv.Quote(b.Program)
	if call != nil {
		program = "nhrt.ExtractProgram(" + e.text(call) + ")"
	}

	var unbound []string
	for _, in := range b.Inputs {
		if _, ok := s.visible(in); !ok && s.declared[in] {
			unbound = append(unbound, in)
		}
	}

	var fields []string
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, name+": "+value)
		}
	}
	add("Program", program)
	add("Inputs", stringSlice(b.Inputs))
	add("Outputs", stringSlice(b.Outputs))
	if len(b.Outputs) > 0 {
		e.usesReflect = true
		types := make([]string, len(b.Outputs))
		for i, o := range b.Outputs {
			types[i] = fmt.Sprintf("%q: _nhreflect.TypeOf(&%s).Elem()", o, o)
		}
		add("Types", "map[string]_nhreflect.Type{"+strings.Join(types, ", ")+"}")
	}
	results, lastErr := e.results(s.fn.typ)
	values := results
	if lastErr {
		values = results[:len(results)-1]
	}
	if len(values) > 0 {
		e.usesReflect = true
		types := make([]string, len(values))
		for i, t := range values {
			types[i] = "_nhreflect.TypeFor[" + t + "]()"
		}
		add("Returns", "[]_nhreflect.Type{"+strings.Join(types, ", ")+"}")
	}
	if s.inLoop() {
		add("InLoop", "true")
	}
	add("Locals", valueMap(s.locals, nil))
	add("Cells", valueMap(s.cells, nil))
	add("Unbound", stringSlice(unbound))
	add("Globals", e.globals(b, s, unbound))
	add("Function", strconv.Quote(function))
	add("File", strconv.Quote(e.base))
	add("Line", strconv.Itoa(b.Line))

	d := e.directive(pos)
	lines := []string{
		fmt.Sprintf("{ _nhEnv, _nhErr := nhrt.RunStep(%s, &nhrt.Call{%s})", s.ctx, strings.Join(fields, ", ")),
	}

	if lastErr {
		ret := make([]string, 0, len(results))
		for _, t := range values {
			ret = append(ret, "*new("+t+")")
		}
		ret = append(ret, "_nhErr")
		lines = append(lines, "if _nhErr != nil { return "+strings.Join(ret, ", ")+" }")
	} else {
		lines = append(lines, "if _nhErr != nil { panic(_nhErr) }")
	}

	for _, o := range b.Outputs {
		lines = append(lines, fmt.Sprintf("nhrt.Assign(&%s, _nhEnv.Bindings, %q)", o, o))
	}

	ret := make([]string, 0, len(results))
	for i, t := range values {
		ret = append(ret, fmt.Sprintf("nhrt.As[%s](_nhEnv.Results[%d])", t, i))
	}
	if lastErr {
		ret = append(ret, "nil")
	}
	lines = append(lines, "if _nhEnv.Returned() { return "+strings.Join(ret, ", ")+" }")

	if s.inLoop() {
		brk := "break"
		if s.needsLabel {
			brk += " " + e.loopLabel(s.loop)
		}
		lines = append(lines,
			"if _nhEnv.Broke() { "+brk+" }",
			"if _nhEnv.Continued() { continue }")
	}
	lines = append(lines, "_ = _nhEnv }")

	for i := range lines {
		lines[i] = d + lines[i]
	}
	return strings.Join(lines, "\n"), nil
}

// results returns the source text of each result type of ft and whether
// the last one is error.
func (e *emitter) results(ft *ast.FuncType) ([]string, bool) {
	if ft.Results == nil {
		return nil, false
	}
	var out []string
	for _, f := range ft.Results.List {
		t := e.text(f.Type)
		n := len(f.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	last := ft.Results.List[len(ft.Results.List)-1].Type
	id, ok := last.(*ast.Ident)
	return out, ok && id.Name == "error"
}

// loopLabel returns the label of loop, adding one when it has none.
func (e *emitter) loopLabel(loop *loopFrame) string {
	if loop.label != "" {
		return loop.label
	}
	if l, ok := e.labels[loop.stmt]; ok {
		return l
	}
	l := fmt.Sprintf("_nhLoop%d", len(e.labels)+1)
	e.labels[loop.stmt] = l
	e.insert(loop.stmt.Pos(), l+": "+e.directive(loop.stmt.Pos()))
	return l
}

// globals lists the package-level names the block refers to. Types are
// passed as runtime type references.
func (e *emitter) globals(b block.Block, s *site, unbound []string) string {
	refs, _ := render.ExtractReferences(b.Program)
	names := append(append([]string(nil), b.Inputs...), refs...)
	skip := make(map[string]bool, len(unbound))
	for _, u := range unbound {
		skip[u] = true
	}

	values := make(map[string]string)
	var keys []string
	for _, name := range names {
		if _, done := values[name]; done || skip[name] {
			continue
		}
		if _, local := s.visible(name); local {
			continue
		}
		d, ok := e.pkg[name]
		if !ok || d.generic {
			continue
		}
		if d.kind == declType {
			values[name] = "nhrt.TypeRef[" + name + "]()"
		} else {
			values[name] = name
		}
		keys = append(keys, name)
	}
	return valueMap(keys, values)
}

// collectDecls records the package-level declarations of file.
func collectDecls(file *ast.File, into map[string]pkgDecl) {
	for _, d := range file.Decls {
		switch d := d.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil && d.Name.Name != "init" && d.Name.Name != "_" {
				into[d.Name.Name] = pkgDecl{kind: declFunc, generic: d.Type.TypeParams != nil}
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch spec := spec.(type) {
				case *ast.ValueSpec:
					kind := declVar
					if d.Tok == token.CONST {
						kind = declConst
					}
					for _, n := range spec.Names {
						if n.Name != "_" {
							into[n.Name] = pkgDecl{kind: kind}
						}
					}
				case *ast.TypeSpec:
					into[spec.Name.Name] = pkgDecl{kind: declType, generic: spec.TypeParams != nil}
				}
			}
		}
	}
}

func funcName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return fn.Name.Name
	}
	t := fn.Recv.List[0].Type
	if star, ok := t.(*ast.StarExpr); ok {
		t = star.X
	}
	switch x := t.(type) {
	case *ast.IndexExpr:
		t = x.X
	case *ast.IndexListExpr:
		t = x.X
	}
	if id, ok := t.(*ast.Ident); ok {
		return id.Name + "." + fn.Name.Name
	}
	return fn.Name.Name
}

func stringSlice(items []string) string {
	if len(items) == 0 {
		return ""
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return "[]string{" + strings.Join(quoted, ", ") + "}"
}

// valueMap renders a map[string]any literal. values overrides the
// expression used for a key; by default the key names itself.
func valueMap(keys []string, values map[string]string) string {
	if len(keys) == 0 {
		return ""
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	entries := make([]string, len(sorted))
	for i, k := range sorted {
		v := k
		if x, ok := values[k]; ok {
			v = x
		}
		entries[i] = fmt.Sprintf("%q: %s", k, v)
	}
	return "map[string]any{" + strings.Join(entries, ", ") + "}"
}
