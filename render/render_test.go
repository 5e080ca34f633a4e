package render

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/nighthawk/core"
)

// byteTokens counts one token per byte so budgets are easy to reason about.
var byteTokens = TokenizerFunc(func(s string) int { return len(s) })

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next,omitempty"`
}

type base struct {
	ID int `json:"id"`
}

type record struct {
	base
	Title   string `json:"title"`
	Hidden  string `json:"-"`
	Empty   string `json:"empty,omitempty"`
	private int
	Plain   bool
}

func TestToJSONable(t *testing.T) {
	loop := &node{Name: "a"}
	loop.Next = loop

	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, `null`},
		{"scalars", []any{1, uint8(2), 1.5, "s", true}, `[1,2,1.5,"s",true]`},
		{"cycle", loop, `{"name":"a","next":"<cycle>"}`},
		{"func", func() {}, `"<nonserializable>"`},
		{"bytes", []byte("x"), `"<nonserializable>"`},
		{"nan", math.NaN(), `"<nonserializable>"`},
		{"chan", make(chan int), `"<nonserializable>"`},
		{"struct tags", record{base: base{ID: 7}, Title: "t", Hidden: "h", private: 1}, `{"Plain":false,"id":7,"title":"t"}`},
		{"int keys", map[int]string{10: "b", 2: "a"}, `{"10":"b","2":"a"}`},
		{"marshaler", stamp, `"2024-01-02T03:04:05Z"`},
		{"error", errors.New("bad thing"), `"bad thing"`},
		{"nil pointer", (*node)(nil), `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compactJSON(ToJSONable(tt.in))
			if got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestToJSONableCut(t *testing.T) {
	v := map[string]any{"a": []int{1, 2, 3}, "b": map[string]int{"x": 1}}

	got := compactJSON(ToJSONableCut(v, Cut{MaxItems: 2}))
	if got != `{"a":[1,2,"<omitted:count>"],"b":{"x":1}}` {
		t.Fatalf("items cut: %s", got)
	}

	got = compactJSON(ToJSONableCut(v, Cut{MaxDepth: 1}))
	if got != `{"a":"<omitted:depth>","b":"<omitted:depth>"}` {
		t.Fatalf("depth cut: %s", got)
	}

	got = compactJSON(ToJSONableCut(map[string]int{"a": 1, "b": 2, "c": 3}, Cut{MaxItems: 1}))
	if got != `{"<omitted:count>":2,"a":1}` {
		t.Fatalf("map cut: %s", got)
	}
}

func TestRenderJSON(t *testing.T) {
	t.Run("fits", func(t *testing.T) {
		text, n, err := RenderJSON(map[string]int{"a": 1}, 100, byteTokens)
		if err != nil {
			t.Fatal(err)
		}
		if text != `{"a":1}` || n != len(text) {
			t.Fatalf("got %q (%d)", text, n)
		}
	})

	t.Run("cuts items", func(t *testing.T) {
		xs := make([]int, 100)
		text, n, err := RenderJSON(xs, 30, byteTokens)
		if err != nil {
			t.Fatal(err)
		}
		if n > 30 {
			t.Fatalf("over budget: %q (%d)", text, n)
		}
		if !strings.HasSuffix(text, `"<omitted:count>"]`) {
			t.Fatalf("expected omitted marker, got %q", text)
		}
	})

	t.Run("cuts strings", func(t *testing.T) {
		text, n, err := RenderJSON(strings.Repeat("x", 200), 20, byteTokens)
		if err != nil {
			t.Fatal(err)
		}
		if n > 20 || !strings.HasPrefix(text, `"xxx`) {
			t.Fatalf("got %q (%d)", text, n)
		}
	})

	t.Run("minimum output", func(t *testing.T) {
		text, _, err := RenderJSON(map[string]string{"key": "value"}, 2, byteTokens)
		if err != nil {
			t.Fatal(err)
		}
		if text != "{}" {
			t.Fatalf("got %q", text)
		}
	})

	t.Run("budget too small", func(t *testing.T) {
		if _, _, err := RenderJSON(1, 1, byteTokens); err == nil {
			t.Fatal("expected error for maxTokens < 2")
		}
	})
}

func TestExtractReferences(t *testing.T) {
	names, text := ExtractReferences(`Use <a.b> and \<c> then <a><d>, <:out> and <e.f.g>.`)
	if strings.Join(names, ",") != "a,d,e" {
		t.Fatalf("names = %v", names)
	}
	if !strings.Contains(text, "and <c> then") {
		t.Fatalf("escaped token not unescaped: %q", text)
	}
}

func TestRenderSection(t *testing.T) {
	items := []Item{
		{Name: "b", Value: 2},
		{Name: "__hidden", Value: 1},
		{Name: "a", Value: "x"},
		{Name: "fn", Value: func(int) string { return "" }},
	}
	got, err := RenderSection(items, SectionLimits{MaxItems: 10, SectionMaxTokens: 1000, ValueMaxTokens: 50}, byteTokens, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := "a: string = \"x\"\nb: int = 2\nfn: func(int) string = \"<nonserializable>\""
	if got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}

	got, err = RenderSection(items, SectionLimits{MaxItems: 1, SectionMaxTokens: 1000, ValueMaxTokens: 50}, byteTokens, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a: string = \"x\"\n"+SnippedMarker {
		t.Fatalf("max items: %q", got)
	}

	got, err = RenderSection(items, SectionLimits{MaxItems: 10, SectionMaxTokens: 20, ValueMaxTokens: 50}, byteTokens, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(got, SnippedMarker) != 1 || strings.Contains(got, "fn:") {
		t.Fatalf("token budget: %q", got)
	}
}

func TestRedaction(t *testing.T) {
	r := DefaultRedaction()
	if got := r.Apply("apiKey", "sk-123"); got != DefaultMarker {
		t.Fatalf("name mask: %v", got)
	}
	got := compactJSON(r.Apply("cfg", map[string]any{"host": "h", "Password": "p"}))
	if got != `{"Password":"<redacted>","host":"h"}` {
		t.Fatalf("nested mask: %s", got)
	}
	r.Allowlist = []string{"x"}
	if r.Allowed("y") || !r.Allowed("x") {
		t.Fatal("allowlist not applied")
	}
	var none *Redaction
	if none.Apply("token", 1) != 1 {
		t.Fatal("nil redaction must pass values through")
	}
}

func TestBuildUserPrompt(t *testing.T) {
	ec := core.NewExecutionContext("step-1")
	ec.Locals["b"] = 2
	ec.Locals["a"] = 1
	ec.Globals["limit"] = 10

	prompt, err := BuildUserPrompt(`Add <limit> to <a>, see \<b>, call <len>.`, ec, PromptOptions{Tokenizer: byteTokens})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"<<<NH:PROGRAM>>>\nAdd <limit> to <a>, see <b>, call <len>.\n<<<NH:END_PROGRAM>>>",
		"<<<NH:LOCALS>>>\na: int = 1\nb: int = 2\n<<<NH:END_LOCALS>>>",
		"limit: int = 10",
		"len: expr.Builtin = ",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "NH:MEMORY") {
		t.Fatal("memory section rendered without memory")
	}

	ec.Memory = map[string]any{"notes": "n"}
	prompt, err = BuildUserPrompt("x", ec, PromptOptions{Tokenizer: byteTokens})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "<<<NH:MEMORY>>>\n{\"notes\":\"n\"}\n<<<NH:END_MEMORY>>>") {
		t.Fatalf("memory section missing:\n%s", prompt)
	}
}
