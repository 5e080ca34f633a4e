package render

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/pkoukk/tiktoken-go"
)

// failingLoader stands in for the network download of BPE ranks.
type failingLoader struct{ calls int }

func (l *failingLoader) LoadTiktokenBpe(string) (map[string]int, error) {
	l.calls++
	return nil, errors.New("offline")
}

func TestNewTokenizer_FallsBackToApproximate(t *testing.T) {
	loader := &failingLoader{}
	tiktoken.SetBpeLoader(loader)
	t.Cleanup(func() { tiktoken.SetBpeLoader(tiktoken.NewDefaultBpeLoader()) })

	tests := []struct {
		name       string
		model      string
		encoding   string
		wantLoads  bool
		wantInWarn string
	}{
		{"unknown encoding", "", "no_such_encoding", false, "no_such_encoding"},
		{"unknown model and encoding", "not-a-model", "still_not_an_encoding", false, "still_not_an_encoding"},
		{"known model without ranks", "gpt-4o", "cl100k_base", true, "cl100k_base"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader.calls = 0
			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))

			tok := NewTokenizer(tt.model, tt.encoding, logger)
			if got, want := tok.Count("twelve chars"), Approximate.Count("twelve chars"); got != want {
				t.Fatalf("Count = %d, want approximate %d", got, want)
			}
			if tt.wantLoads != (loader.calls > 0) {
				t.Errorf("loader calls = %d, want loads %v", loader.calls, tt.wantLoads)
			}
			if !strings.Contains(logs.String(), "using approximate counts") || !strings.Contains(logs.String(), tt.wantInWarn) {
				t.Errorf("warning not logged: %q", logs.String())
			}

			logs.Reset()
			NewTokenizer(tt.model, tt.encoding, logger)
			if logs.Len() != 0 {
				t.Errorf("second lookup was not cached: %q", logs.String())
			}
		})
	}
}

func TestNewTokenizer_DefaultEncoding(t *testing.T) {
	loader := &failingLoader{}
	tiktoken.SetBpeLoader(loader)
	t.Cleanup(func() { tiktoken.SetBpeLoader(tiktoken.NewDefaultBpeLoader()) })

	var logs bytes.Buffer
	NewTokenizer("default-encoding-test", "", slog.New(slog.NewTextHandler(&logs, nil)))
	if !strings.Contains(logs.String(), DefaultEncoding) {
		t.Fatalf("empty encoding should fall back to %s, log: %q", DefaultEncoding, logs.String())
	}
}

func TestApproximate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := Approximate.Count(tt.text); got != tt.want {
			t.Errorf("Approximate.Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
