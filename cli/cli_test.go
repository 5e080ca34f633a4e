package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/petal-labs/nighthawk/bus"
	"github.com/petal-labs/nighthawk/rewrite"
	"github.com/petal-labs/nighthawk/runtime"
)

// newTestRoot creates a fresh command tree. Each test gets its own to
// avoid shared flag state.
func newTestRoot() *cobra.Command {
	return NewRootCmd("test")
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeTestFile creates a temporary file with the given content and returns its path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T: %v", err, err)
	}
	return exitErr.Code
}

// syncBuffer is a bytes.Buffer safe for use by the watch loop and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const markedSource = "//go:build nighthawk\n\npackage calc\n\nimport \"context\"\n\n" +
	"func Double(ctx context.Context, x int) (int, error) {\n" +
	"\tvar result int\n" +
	"\t`natural\n\tSet <:result> to twice <x>.`\n" +
	"\treturn result, nil\n" +
	"}\n"

const brokenSource = "//go:build nighthawk\n\npackage calc\n\n" +
	"func Broken() {\n" +
	"\t`natural\n\tWrite <:missing>.`\n" +
	"}\n"

// --- generate ---

func TestGenerate_WritesSiblingFile(t *testing.T) {
	path := writeTestFile(t, "calc.go", markedSource)
	stdout, _, err := executeCommand(newTestRoot(), "generate", path)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	out := rewrite.OutputName(path, "")
	if !strings.Contains(stdout, out) || !strings.Contains(stdout, "(1 block)") {
		t.Errorf("unexpected summary: %q", stdout)
	}
	code, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("generated file missing: %v", err)
	}
	if !strings.Contains(string(code), "nhrt.RunStep(") {
		t.Errorf("generated code does not run the step:\n%s", code)
	}
}

func TestGenerate_DryRunPrintsCode(t *testing.T) {
	path := writeTestFile(t, "calc.go", markedSource)
	stdout, _, err := executeCommand(newTestRoot(), "generate", "--dry-run", path)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "DO NOT EDIT") {
		t.Errorf("expected generated code on stdout, got: %q", stdout)
	}
	if _, err := os.Stat(rewrite.OutputName(path, "")); !os.IsNotExist(err) {
		t.Errorf("dry run wrote a file (stat err = %v)", err)
	}
}

func TestGenerate_CustomSuffix(t *testing.T) {
	path := writeTestFile(t, "calc.go", markedSource)
	if _, _, err := executeCommand(newTestRoot(), "generate", "--suffix", "_gen.go", path); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(path, ".go") + "_gen.go"); err != nil {
		t.Errorf("expected calc_gen.go: %v", err)
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name string
		args func(t *testing.T) []string
		code int
	}{
		{
			name: "missing path",
			args: func(t *testing.T) []string {
				return []string{"generate", filepath.Join(t.TempDir(), "nope.go")}
			},
			code: exitFileNotFound,
		},
		{
			name: "parse error",
			args: func(t *testing.T) []string {
				return []string{"generate", writeTestFile(t, "broken.go", brokenSource)}
			},
			code: exitParse,
		},
		{
			name: "bad suffix",
			args: func(t *testing.T) []string {
				return []string{"generate", "--suffix", "_gen", writeTestFile(t, "calc.go", markedSource)}
			},
			code: exitUsage,
		},
		{
			name: "watch with dry run",
			args: func(t *testing.T) []string {
				return []string{"generate", "--watch", "--dry-run", writeTestFile(t, "calc.go", markedSource)}
			},
			code: exitUsage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(newTestRoot(), tt.args(t)...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := exitCode(t, err); got != tt.code {
				t.Errorf("exit code = %d, want %d (%v)", got, tt.code, err)
			}
		})
	}
}

func TestAffected(t *testing.T) {
	paths := []string{"pkg", "other/file.go"}
	tests := []struct {
		file string
		want []string
	}{
		{"pkg/calc.go", []string{"pkg"}},
		{"pkg/calc_natural.go", nil},
		{"pkg/calc_test.go", nil},
		{"pkg/notes.txt", nil},
		{"other/file.go", []string{"other/file.go"}},
		{"other/sibling.go", nil},
	}
	for _, tt := range tests {
		got := affected(tt.file, paths, rewrite.DefaultSuffix)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("affected(%q) = %v, want %v", tt.file, got, tt.want)
		}
	}
}

func TestWatchLoop_DebouncesAndRegenerates(t *testing.T) {
	path := writeTestFile(t, "calc.go", markedSource)
	dir := filepath.Dir(path)

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())
	var out, errOut syncBuffer

	done := make(chan error, 1)
	go func() {
		done <- watchLoop(ctx, events, errs, []string{dir}, rewrite.Options{Suffix: rewrite.DefaultSuffix}, 20*time.Millisecond, &out, &errOut)
	}()

	for i := 0; i < 3; i++ {
		events <- fsnotify.Event{Name: path, Op: fsnotify.Write}
	}
	// Generated files never trigger a rebuild.
	events <- fsnotify.Event{Name: rewrite.OutputName(path, ""), Op: fsnotify.Write}

	deadline := time.After(2 * time.Second)
	for !strings.Contains(out.String(), "calc_natural.go") {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("no regeneration reported; out=%q err=%q", out.String(), errOut.String())
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(60 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watchLoop returned %v", err)
	}
	if n := strings.Count(out.String(), "->"); n != 1 {
		t.Errorf("expected one debounced regeneration, got %d: %q", n, out.String())
	}
}

// --- check ---

func TestCheck_ReportsBlocks(t *testing.T) {
	path := writeTestFile(t, "calc.go", markedSource)
	stdout, _, err := executeCommand(newTestRoot(), "check", path)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	for _, want := range []string{"calc.go:9: inline block", "reads x", "writes result", "OK: 1 block in 1 file"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in output, got: %q", want, stdout)
		}
	}
}

func TestCheck_DirectorySkipsUnmarkedFiles(t *testing.T) {
	path := writeTestFile(t, "calc.go", markedSource)
	dir := filepath.Dir(path)
	if err := os.WriteFile(filepath.Join(dir, "plain.go"), []byte("package calc\n"), 0644); err != nil {
		t.Fatal(err)
	}
	stdout, _, err := executeCommand(newTestRoot(), "check", dir)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if strings.Contains(stdout, "plain.go") {
		t.Errorf("unmarked file reported: %q", stdout)
	}
}

func TestCheck_JSONFormatWithError(t *testing.T) {
	path := writeTestFile(t, "broken.go", brokenSource)
	stdout, _, err := executeCommand(newTestRoot(), "check", "--format", "json", path)
	if err == nil {
		t.Fatal("expected error for unresolved input")
	}
	if got := exitCode(t, err); got != exitParse {
		t.Errorf("exit code = %d, want %d", got, exitParse)
	}
	var entries []checkEntry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if len(entries) != 1 || entries[0].Error == "" || entries[0].Line != 6 {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestCheck_MissingPath(t *testing.T) {
	_, _, err := executeCommand(newTestRoot(), "check", filepath.Join(t.TempDir(), "missing"))
	if got := exitCode(t, err); got != exitFileNotFound {
		t.Errorf("exit code = %d, want %d", got, exitFileNotFound)
	}
}

// --- schema ---

func TestSchema_LoopKinds(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		want     []string
		unwanted []string
	}{
		{"outside loop", nil, []string{`"pass"`, `"return"`, `"raise"`}, []string{`"break"`}},
		{"inside loop", []string{"--loop"}, []string{`"break"`, `"continue"`}, nil},
		{"denied", []string{"--deny", "raise"}, []string{`"pass"`}, []string{`"raise"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := executeCommand(newTestRoot(), append([]string{"schema"}, tt.args...)...)
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			var schema map[string]any
			if err := json.Unmarshal([]byte(stdout), &schema); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(stdout, w) {
					t.Errorf("expected %s in schema:\n%s", w, stdout)
				}
			}
			for _, u := range tt.unwanted {
				if strings.Contains(stdout, u) {
					t.Errorf("unexpected %s in schema:\n%s", u, stdout)
				}
			}
		})
	}
}

func TestSchema_Prompt(t *testing.T) {
	stdout, _, err := executeCommand(newTestRoot(), "schema", "--prompt", "--error-type", "ValueError")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "ValueError") {
		t.Errorf("expected error type in prompt, got: %q", stdout)
	}
}

func TestSchema_UnknownKind(t *testing.T) {
	_, _, err := executeCommand(newTestRoot(), "schema", "--deny", "explode")
	if got := exitCode(t, err); got != exitUsage {
		t.Errorf("exit code = %d, want %d", got, exitUsage)
	}
}

// --- tools ---

func TestTools_ListsBuiltins(t *testing.T) {
	stdout, _, err := executeCommand(newTestRoot(), "tools")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	for _, name := range []string{"NAME", "nh_eval", "nh_assign", "nh_dir", "nh_help"} {
		if !strings.Contains(stdout, name) {
			t.Errorf("expected %q in output, got: %q", name, stdout)
		}
	}
}

func TestTools_SchemaForOne(t *testing.T) {
	stdout, _, err := executeCommand(newTestRoot(), "tools", "--schema", "nh_assign")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	var out map[string]map[string]any
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out) != 1 || out["nh_assign"]["parameters"] == nil {
		t.Errorf("unexpected schema output: %v", out)
	}

	_, _, err = executeCommand(newTestRoot(), "tools", "nope")
	if got := exitCode(t, err); got != exitUsage {
		t.Errorf("exit code = %d, want %d", got, exitUsage)
	}
}

// --- trace ---

func seedStore(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "trace.db")
	store, err := bus.NewSQLiteEventStore(dsn)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	defer store.Close()

	old := time.Now().Add(-48 * time.Hour)
	events := []runtime.Event{
		runtime.NewEvent(runtime.EventRunStarted, "run-old"),
		runtime.NewEvent(runtime.EventRunStarted, "run-new"),
		runtime.NewEvent(runtime.EventStepStarted, "run-new").WithStep("s1", "Double", "calc.go", 9),
		runtime.NewEvent(runtime.EventStepFinished, "run-new").WithStep("s1", "Double", "calc.go", 9).
			WithElapsed(5 * time.Millisecond).WithPayload("kind", "pass"),
	}
	events[0].Time = old
	for i := range events {
		events[i].Seq = uint64(i + 1)
	}
	for _, e := range events {
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return dsn
}

func TestTrace_List(t *testing.T) {
	dsn := seedStore(t)
	stdout, _, err := executeCommand(newTestRoot(), "trace", "--dsn", dsn, "list")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "RUN") || !strings.Contains(stdout, "run-new") || !strings.Contains(stdout, "run-old") {
		t.Errorf("unexpected output: %q", stdout)
	}
	if strings.Index(stdout, "run-new") > strings.Index(stdout, "run-old") {
		t.Errorf("expected newest run first: %q", stdout)
	}
}

func TestTrace_ShowFilters(t *testing.T) {
	dsn := seedStore(t)
	stdout, _, err := executeCommand(newTestRoot(), "trace", "--dsn", dsn, "show", "run-new", "--kind", "step.finished")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "step.finished") || strings.Contains(stdout, "step.started") {
		t.Errorf("kind filter not applied: %q", stdout)
	}
	if !strings.Contains(stdout, "Double (calc.go:9)") || !strings.Contains(stdout, "kind=pass") {
		t.Errorf("missing step details: %q", stdout)
	}

	stdout, _, err = executeCommand(newTestRoot(), "trace", "--dsn", dsn, "show", "run-new", "--format", "json")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	var events []traceEvent
	if err := json.Unmarshal([]byte(stdout), &events); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 events, got %d", len(events))
	}
}

func TestTrace_ShowUnknownRun(t *testing.T) {
	dsn := seedStore(t)
	_, _, err := executeCommand(newTestRoot(), "trace", "--dsn", dsn, "show", "nope")
	if got := exitCode(t, err); got != exitFileNotFound {
		t.Errorf("exit code = %d, want %d", got, exitFileNotFound)
	}
}

func TestTrace_Prune(t *testing.T) {
	dsn := seedStore(t)
	stdout, _, err := executeCommand(newTestRoot(), "trace", "--dsn", dsn, "prune", "--older-than", "24h")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !strings.Contains(stdout, "Pruned 1 event") {
		t.Errorf("unexpected output: %q", stdout)
	}
	stdout, _, err = executeCommand(newTestRoot(), "trace", "--dsn", dsn, "list")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if strings.Contains(stdout, "run-old") {
		t.Errorf("old run survived pruning: %q", stdout)
	}
}

func TestTrace_NoStoreConfigured(t *testing.T) {
	t.Setenv("NIGHTHAWK_TRACE_DSN", "")
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	_, _, err := executeCommand(newTestRoot(), "trace", "list")
	if got := exitCode(t, err); got != exitConfig {
		t.Errorf("exit code = %d, want %d", got, exitConfig)
	}
}

// --- root ---

func TestRoot_Version(t *testing.T) {
	stdout, _, err := executeCommand(NewRootCmd("1.2.3"), "--version")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if stdout != "nighthawk version 1.2.3\n" {
		t.Errorf("unexpected version output: %q", stdout)
	}
}

func TestRoot_InvalidLogFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--log-level", "loud", "tools"},
		{"--log-format", "xml", "tools"},
	} {
		_, _, err := executeCommand(newTestRoot(), args...)
		if got := exitCode(t, err); got != exitUsage {
			t.Errorf("%v: exit code = %d, want %d", args, got, exitUsage)
		}
	}
}
