// Package rewrite generates the Go code that runs natural blocks.
//
// A source file carrying natural blocks is excluded from normal builds with
// a "//go:build nighthawk" constraint. File turns it into a sibling
// "<name>_natural.go" file in which every block is replaced by a call to
// the step runner. Untouched code keeps its positions through line
// directives, and every injected line points back at its block.
package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"go/build/constraint"
	"go/parser"
	"go/scanner"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/petal-labs/nighthawk/block"
	"github.com/petal-labs/nighthawk/core"
)

// DefaultSuffix replaces ".go" in generated file names.
const DefaultSuffix = "_natural.go"

// BuildTag is the constraint tag that marks source files.
const BuildTag = "nighthawk"

// Options configures generation.
type Options struct {
	// Suffix replaces ".go" in output names (default DefaultSuffix).
	Suffix string
	// DryRun makes Path report results without writing files.
	DryRun bool
	Logger *slog.Logger

	// pkg holds declarations from the other files of the package.
	pkg map[string]pkgDecl
}

func (o Options) withDefaults() Options {
	if o.Suffix == "" {
		o.Suffix = DefaultSuffix
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Result describes one generated file.
type Result struct {
	Source string
	Output string
	Code   []byte
	// Blocks are the natural blocks found, in source order per function.
	Blocks []block.Block
	// Functions counts the function declarations that carry blocks.
	Functions int
}

// OutputName returns the generated file name for filename.
func OutputName(filename, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return strings.TrimSuffix(filename, ".go") + suffix
}

// File generates code for one source file. Only declarations of the file
// itself are known; Path also sees the rest of the package.
func File(filename string, src []byte, opts Options) (Result, error) {
	opts = opts.withDefaults()
	e, err := analyze(filename, src, opts)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Source:    filename,
		Output:    OutputName(filename, opts.Suffix),
		Code:      e.render(),
		Blocks:    e.blocks,
		Functions: e.functions,
	}, nil
}

// Check parses filename and validates its natural blocks without
// generating code.
func Check(filename string, src []byte) ([]block.Block, error) {
	e, err := analyze(filename, src, Options{}.withDefaults())
	if err != nil {
		return nil, err
	}
	return e.blocks, nil
}

func analyze(filename string, src []byte, opts Options) (*emitter, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, parseError(filename, err)
	}
	e := newEmitter(filename, fset, src, file, opts.pkg)
	if err := e.run(); err != nil {
		return nil, err
	}
	return e, nil
}

func parseError(filename string, err error) error {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return &core.ParseError{File: list[0].Pos.Filename, Line: list[0].Pos.Line, Message: list[0].Msg}
	}
	return &core.ParseError{File: filename, Message: err.Error()}
}

// render applies the recorded edits and prepends the generated header.
func (e *emitter) render() []byte {
	edits := append([]edit(nil), e.edits...)

	for _, cg := range e.file.Comments {
		if cg.Pos() >= e.file.Package {
			break
		}
		for _, c := range cg.List {
			if constraint.IsGoBuild(c.Text) || constraint.IsPlusBuild(c.Text) {
				edits = append(edits, edit{start: e.offset(c.Pos()), end: e.offset(c.End()), seq: len(edits)})
			}
		}
	}

	if len(e.blocks) > 0 {
		imports := []string{`nhrt "` + RuntimeImport + `"`}
		if e.usesReflect {
			imports = append(imports, `_nhreflect "reflect"`)
		}
		if e.usesContext {
			imports = append(imports, `_nhcontext "context"`)
		}
		off := e.offset(e.file.Name.End())
		edits = append(edits, edit{start: off, end: off, text: "; import (" + strings.Join(imports, "; ") + ")", seq: len(edits)})
	}

	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start < edits[j].start
		}
		return edits[i].seq < edits[j].seq
	})

	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by nighthawk from %s. DO NOT EDIT.\n\n//line %s:1\n", e.base, e.base)
	cur := 0
	for _, ed := range edits {
		if ed.start < cur {
			continue
		}
		b.Write(e.src[cur:ed.start])
		b.WriteString(ed.text)
		cur = ed.end
	}
	b.Write(e.src[cur:])
	return b.Bytes()
}

// Path generates code for a file or for every marked file of a directory.
// Errors of individual files are joined; the other files are still
// generated.
func Path(path string, opts Options) ([]Result, error) {
	opts = opts.withDefaults()
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	files := []string{path}
	if info.IsDir() {
		dir = path
		files, err = Sources(dir, opts.Suffix)
		if err != nil {
			return nil, err
		}
	}
	opts.pkg = packageDecls(dir, opts.Suffix)

	var results []Result
	var errs []error
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res, err := File(f, src, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if opts.DryRun {
			opts.Logger.Debug("would generate", "source", f, "output", res.Output, "blocks", len(res.Blocks))
		} else {
			if err := os.WriteFile(res.Output, res.Code, 0o644); err != nil {
				errs = append(errs, fmt.Errorf("writing %s: %w", res.Output, err))
				continue
			}
			opts.Logger.Info("generated", "source", f, "output", res.Output, "blocks", len(res.Blocks))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Sources lists the files of dir that require the nighthawk build tag,
// sorted. Generated files are skipped.
func Sources(dir, suffix string) ([]string, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, suffix) {
			continue
		}
		full := filepath.Join(dir, name)
		src, err := os.ReadFile(full)
		if err != nil {
			return nil, err
		}
		if IsMarked(src) {
			out = append(out, full)
		}
	}
	sort.Strings(out)
	return out, nil
}

// IsMarked reports whether src carries a build constraint that only holds
// with the nighthawk tag.
func IsMarked(src []byte) bool {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", src, parser.PackageClauseOnly|parser.ParseComments)
	if err != nil {
		return false
	}
	for _, cg := range file.Comments {
		if cg.Pos() >= file.Package {
			break
		}
		for _, c := range cg.List {
			if !constraint.IsGoBuild(c.Text) {
				continue
			}
			expr, err := constraint.Parse(c.Text)
			if err != nil {
				continue
			}
			if requiresTag(expr) {
				return true
			}
		}
	}
	return false
}

// maxConstraintTags bounds the tag assignments requiresTag enumerates.
const maxConstraintTags = 12

// requiresTag reports whether expr can hold with the nighthawk tag set and
// never holds without it, whatever the other tags are.
func requiresTag(expr constraint.Expr) bool {
	var others []string
	seen := map[string]bool{BuildTag: true}
	expr.Eval(func(tag string) bool {
		if !seen[tag] {
			seen[tag] = true
			others = append(others, tag)
		}
		return false
	})
	if len(others) > maxConstraintTags {
		return false
	}

	satisfiable := false
	for mask := 0; mask < 1<<len(others); mask++ {
		set := func(tag string) bool {
			for i, o := range others {
				if o == tag {
					return mask&(1<<i) != 0
				}
			}
			return false
		}
		if expr.Eval(func(tag string) bool { return tag != BuildTag && set(tag) }) {
			return false
		}
		if expr.Eval(func(tag string) bool { return tag == BuildTag || set(tag) }) {
			satisfiable = true
		}
	}
	return satisfiable
}

// packageDecls collects package-level declarations from every Go file of
// dir except generated ones. Unparsable files are skipped.
func packageDecls(dir, suffix string) map[string]pkgDecl {
	decls := make(map[string]pkgDecl)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return decls
	}
	fset := token.NewFileSet()
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, suffix) || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.SkipObjectResolution)
		if err != nil {
			continue
		}
		collectDecls(file, decls)
	}
	return decls
}
