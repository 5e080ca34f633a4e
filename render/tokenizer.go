package render

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when the active model has no known encoding.
const DefaultEncoding = "o200k_base"

// Tokenizer counts tokens in rendered text.
type Tokenizer interface {
	Count(text string) int
}

// TokenizerFunc adapts a plain function to the Tokenizer interface.
type TokenizerFunc func(text string) int

// Count calls f(text).
func (f TokenizerFunc) Count(text string) int { return f(text) }

// Approximate counts one token per four bytes, rounded up.
var Approximate Tokenizer = TokenizerFunc(func(text string) int {
	return (len(text) + 3) / 4
})

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

var (
	encodingsMu sync.Mutex
	encodings   = map[string]Tokenizer{}
)

// NewTokenizer returns a tiktoken-backed tokenizer. The encoding is chosen
// from model when tiktoken knows it, otherwise encoding (or DefaultEncoding
// when empty). If no encoding can be loaded the approximate counter is
// returned and a warning is logged.
func NewTokenizer(model, encoding string, logger *slog.Logger) Tokenizer {
	if logger == nil {
		logger = slog.Default()
	}
	if encoding == "" {
		encoding = DefaultEncoding
	}

	key := model + "|" + encoding
	encodingsMu.Lock()
	defer encodingsMu.Unlock()
	if tok, ok := encodings[key]; ok {
		return tok
	}

	var tok Tokenizer
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			tok = &tiktokenTokenizer{enc: enc}
		}
	}
	if tok == nil {
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			logger.Warn("tokenizer encoding unavailable, using approximate counts",
				"encoding", encoding, "error", err)
			tok = Approximate
		} else {
			tok = &tiktokenTokenizer{enc: enc}
		}
	}
	encodings[key] = tok
	return tok
}
