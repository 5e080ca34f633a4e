package rewrite

import (
	"go/ast"
	"go/token"
	"sort"
	"strings"
)

// declKind classifies a declared name.
type declKind int

const (
	declVar declKind = iota
	declConst
	declFunc
	declType
)

// binding is a local name visible at some point of a function body.
type binding struct {
	kind declKind
	// depth is the function nesting level that declared the name; 0 is
	// the function declaration itself.
	depth int
}

type frame struct {
	names map[string]binding
}

// loopFrame tracks an enclosing for or range statement.
type loopFrame struct {
	stmt  ast.Stmt
	label string
	// inner counts switch and select statements entered since the loop.
	inner int
}

// funcFrame is a function declaration or literal being walked.
type funcFrame struct {
	typ      *ast.FuncType
	declared map[string]bool
	ctxName  string
	loops    []*loopFrame
}

// site is everything emission needs to know about one block position.
type site struct {
	locals   []string
	cells    []string
	kinds    map[string]declKind
	declared map[string]bool
	fn       *funcFrame
	// ctx is the context expression passed to the runner.
	ctx  string
	loop *loopFrame
	// needsLabel is set when a switch or select sits between the block
	// and its loop.
	needsLabel bool
}

func (s *site) visible(name string) (declKind, bool) {
	k, ok := s.kinds[name]
	return k, ok
}

func (s *site) inLoop() bool { return s.loop != nil }

// walker performs the scope analysis of one function declaration. It
// walks the body in source order and snapshots the scope at every target
// statement.
type walker struct {
	contextName string
	frames      []*frame
	funcs       []*funcFrame
	pendingLbl  string

	targets map[*ast.ExprStmt]bool
	sites   map[*ast.ExprStmt]*site

	// docAfter is the index of the top-level statement after which the
	// docstring block runs; -1 is the body start and -2 disables it.
	docAfter int
	docSite  *site
}

func newWalker(contextName string, targets map[*ast.ExprStmt]bool, docAfter int) *walker {
	return &walker{
		contextName: contextName,
		targets:     targets,
		sites:       make(map[*ast.ExprStmt]*site),
		docAfter:    docAfter,
	}
}

func (w *walker) funcDecl(fn *ast.FuncDecl) {
	w.enterFunc(fn.Type, fn.Body)
	if fn.Recv != nil {
		w.declareFields(fn.Recv)
	}
	w.declareFields(fn.Type.Params)
	w.declareFields(fn.Type.Results)

	if w.docAfter == -1 {
		w.docSite = w.snapshot()
	}
	for i, stmt := range fn.Body.List {
		w.stmt(stmt)
		if i == w.docAfter {
			w.docSite = w.snapshot()
		}
	}
	w.leaveFunc()
}

func (w *walker) enterFunc(typ *ast.FuncType, body *ast.BlockStmt) {
	ff := &funcFrame{typ: typ, declared: declaredNames(body), ctxName: contextParam(typ, w.contextName)}
	w.funcs = append(w.funcs, ff)
	w.push()
}

func (w *walker) leaveFunc() {
	w.pop()
	w.funcs = w.funcs[:len(w.funcs)-1]
}

func (w *walker) current() *funcFrame { return w.funcs[len(w.funcs)-1] }

func (w *walker) push() { w.frames = append(w.frames, &frame{names: make(map[string]binding)}) }

func (w *walker) pop() { w.frames = w.frames[:len(w.frames)-1] }

func (w *walker) declare(name string, kind declKind) {
	if name == "_" || name == "" || strings.HasPrefix(name, "_nh") {
		return
	}
	w.frames[len(w.frames)-1].names[name] = binding{kind: kind, depth: len(w.funcs) - 1}
}

func (w *walker) declareFields(fl *ast.FieldList) {
	if fl == nil {
		return
	}
	for _, f := range fl.List {
		for _, n := range f.Names {
			w.declare(n.Name, declVar)
		}
	}
}

// snapshot records the names visible at the current point.
func (w *walker) snapshot() *site {
	merged := make(map[string]binding)
	for _, fr := range w.frames {
		for name, b := range fr.names {
			merged[name] = b
		}
	}

	ff := w.current()
	depth := len(w.funcs) - 1
	s := &site{kinds: make(map[string]declKind), declared: ff.declared, fn: ff, ctx: "_nhCtx"}
	for i := len(w.funcs) - 1; i >= 0; i-- {
		if w.funcs[i].ctxName != "" {
			s.ctx = w.funcs[i].ctxName
			break
		}
	}
	for name, b := range merged {
		if w.isContextParam(name) {
			continue
		}
		s.kinds[name] = b.kind
		if b.depth == depth {
			s.locals = append(s.locals, name)
		} else {
			s.cells = append(s.cells, name)
		}
	}
	sort.Strings(s.locals)
	sort.Strings(s.cells)

	if n := len(ff.loops); n > 0 {
		s.loop = ff.loops[n-1]
		s.needsLabel = s.loop.inner > 0
	}
	return s
}

func (w *walker) isContextParam(name string) bool {
	for _, ff := range w.funcs {
		if ff.ctxName == name {
			return true
		}
	}
	return false
}

func (w *walker) stmtList(list []ast.Stmt) {
	for _, s := range list {
		w.stmt(s)
	}
}

func (w *walker) stmt(s ast.Stmt) {
	label := w.pendingLbl
	w.pendingLbl = ""

	switch s := s.(type) {
	case *ast.ExprStmt:
		if w.targets[s] {
			w.sites[s] = w.snapshot()
		}
		w.expr(s.X)
	case *ast.DeclStmt:
		gd, ok := s.Decl.(*ast.GenDecl)
		if !ok {
			return
		}
		for _, spec := range gd.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for _, v := range vs.Values {
				w.expr(v)
			}
			kind := declVar
			if gd.Tok == token.CONST {
				kind = declConst
			}
			for _, n := range vs.Names {
				w.declare(n.Name, kind)
			}
		}
	case *ast.AssignStmt:
		for _, e := range s.Rhs {
			w.expr(e)
		}
		for _, e := range s.Lhs {
			w.expr(e)
		}
		if s.Tok == token.DEFINE {
			for _, e := range s.Lhs {
				if id, ok := e.(*ast.Ident); ok {
					w.declare(id.Name, declVar)
				}
			}
		}
	case *ast.BlockStmt:
		w.push()
		w.stmtList(s.List)
		w.pop()
	case *ast.LabeledStmt:
		w.pendingLbl = s.Label.Name
		w.stmt(s.Stmt)
	case *ast.IfStmt:
		w.push()
		if s.Init != nil {
			w.stmt(s.Init)
		}
		w.expr(s.Cond)
		w.stmt(s.Body)
		if s.Else != nil {
			w.stmt(s.Else)
		}
		w.pop()
	case *ast.ForStmt:
		w.push()
		if s.Init != nil {
			w.stmt(s.Init)
		}
		if s.Cond != nil {
			w.expr(s.Cond)
		}
		if s.Post != nil {
			w.stmt(s.Post)
		}
		w.loop(s, label, s.Body)
		w.pop()
	case *ast.RangeStmt:
		w.expr(s.X)
		w.push()
		if s.Tok == token.DEFINE {
			if id, ok := s.Key.(*ast.Ident); ok {
				w.declare(id.Name, declVar)
			}
			if id, ok := s.Value.(*ast.Ident); ok {
				w.declare(id.Name, declVar)
			}
		}
		w.loop(s, label, s.Body)
		w.pop()
	case *ast.SwitchStmt:
		w.push()
		if s.Init != nil {
			w.stmt(s.Init)
		}
		if s.Tag != nil {
			w.expr(s.Tag)
		}
		w.inner(func() {
			for _, c := range s.Body.List {
				cc := c.(*ast.CaseClause)
				for _, e := range cc.List {
					w.expr(e)
				}
				w.push()
				w.stmtList(cc.Body)
				w.pop()
			}
		})
		w.pop()
	case *ast.TypeSwitchStmt:
		w.push()
		if s.Init != nil {
			w.stmt(s.Init)
		}
		symbol := ""
		switch a := s.Assign.(type) {
		case *ast.AssignStmt:
			for _, e := range a.Rhs {
				w.expr(e)
			}
			if id, ok := a.Lhs[0].(*ast.Ident); ok {
				symbol = id.Name
			}
		case *ast.ExprStmt:
			w.expr(a.X)
		}
		w.inner(func() {
			for _, c := range s.Body.List {
				cc := c.(*ast.CaseClause)
				w.push()
				if symbol != "" {
					w.declare(symbol, declVar)
				}
				w.stmtList(cc.Body)
				w.pop()
			}
		})
		w.pop()
	case *ast.SelectStmt:
		w.inner(func() {
			for _, c := range s.Body.List {
				cc := c.(*ast.CommClause)
				w.push()
				if cc.Comm != nil {
					w.stmt(cc.Comm)
				}
				w.stmtList(cc.Body)
				w.pop()
			}
		})
	case *ast.GoStmt:
		w.expr(s.Call)
	case *ast.DeferStmt:
		w.expr(s.Call)
	case *ast.ReturnStmt:
		for _, e := range s.Results {
			w.expr(e)
		}
	case *ast.SendStmt:
		w.expr(s.Chan)
		w.expr(s.Value)
	case *ast.IncDecStmt:
		w.expr(s.X)
	}
}

func (w *walker) loop(s ast.Stmt, label string, body *ast.BlockStmt) {
	ff := w.current()
	ff.loops = append(ff.loops, &loopFrame{stmt: s, label: label})
	w.stmt(body)
	ff.loops = ff.loops[:len(ff.loops)-1]
}

// inner runs fn with every open loop of the current function marked as
// separated from its body by a switch or select.
func (w *walker) inner(fn func()) {
	ff := w.current()
	for _, l := range ff.loops {
		l.inner++
	}
	fn()
	for _, l := range ff.loops {
		l.inner--
	}
}

// expr walks into the function literals of an expression.
func (w *walker) expr(e ast.Expr) {
	if e == nil {
		return
	}
	ast.Inspect(e, func(n ast.Node) bool {
		lit, ok := n.(*ast.FuncLit)
		if !ok {
			return true
		}
		w.enterFunc(lit.Type, lit.Body)
		w.declareFields(lit.Type.Params)
		w.declareFields(lit.Type.Results)
		saved := w.pendingLbl
		w.pendingLbl = ""
		w.stmtList(lit.Body.List)
		w.pendingLbl = saved
		w.leaveFunc()
		return false
	})
}

// declaredNames collects every local declared in body, excluding nested
// function literals.
func declaredNames(body *ast.BlockStmt) map[string]bool {
	names := make(map[string]bool)
	if body == nil {
		return names
	}
	add := func(e ast.Expr) {
		if id, ok := e.(*ast.Ident); ok && id.Name != "_" {
			names[id.Name] = true
		}
	}
	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.AssignStmt:
			if n.Tok == token.DEFINE {
				for _, e := range n.Lhs {
					add(e)
				}
			}
		case *ast.ValueSpec:
			for _, id := range n.Names {
				add(id)
			}
		case *ast.RangeStmt:
			if n.Tok == token.DEFINE {
				add(n.Key)
				add(n.Value)
			}
		}
		return true
	})
	return names
}

// topLevelDeclared returns the names declared by one top-level statement.
func topLevelDeclared(stmt ast.Stmt) []string {
	var out []string
	switch s := stmt.(type) {
	case *ast.DeclStmt:
		if gd, ok := s.Decl.(*ast.GenDecl); ok && gd.Tok == token.VAR {
			for _, spec := range gd.Specs {
				if vs, ok := spec.(*ast.ValueSpec); ok {
					for _, n := range vs.Names {
						out = append(out, n.Name)
					}
				}
			}
		}
	case *ast.AssignStmt:
		if s.Tok == token.DEFINE {
			for _, e := range s.Lhs {
				if id, ok := e.(*ast.Ident); ok {
					out = append(out, id.Name)
				}
			}
		}
	}
	return out
}

// contextParam returns the first named context.Context parameter of typ.
func contextParam(typ *ast.FuncType, contextName string) string {
	if contextName == "" || typ.Params == nil {
		return ""
	}
	for _, field := range typ.Params.List {
		if !isContextType(field.Type, contextName) {
			continue
		}
		for _, n := range field.Names {
			if n.Name != "_" {
				return n.Name
			}
		}
	}
	return ""
}

func isContextType(e ast.Expr, contextName string) bool {
	sel, ok := e.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "Context" {
		return false
	}
	id, ok := sel.X.(*ast.Ident)
	return ok && id.Name == contextName
}
