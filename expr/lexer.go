package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind identifies a lexical token.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenNumber
	TokenString

	TokenEq
	TokenNeq
	TokenGt
	TokenGte
	TokenLt
	TokenLte
	TokenAnd
	TokenOr
	TokenNot
	TokenNullCoal
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent

	TokenDot
	TokenLBracket
	TokenRBracket
	TokenLParen
	TokenRParen
	TokenLBrace
	TokenRBrace
	TokenComma
	TokenColon

	// word operators and literals
	TokenIn
	TokenHas
	TokenContains
	TokenStartsWith
	TokenEndsWith
	TokenMatches
	TokenTrue
	TokenFalse
	TokenNil
)

type spelling struct {
	text string
	kind TokenKind
}

// punctuation is matched longest first.
var punctuation = []spelling{
	{"==", TokenEq}, {"!=", TokenNeq}, {">=", TokenGte}, {"<=", TokenLte},
	{"&&", TokenAnd}, {"||", TokenOr}, {"??", TokenNullCoal},
	{">", TokenGt}, {"<", TokenLt}, {"!", TokenNot},
	{"+", TokenPlus}, {"-", TokenMinus}, {"*", TokenStar}, {"/", TokenSlash}, {"%", TokenPercent},
	{".", TokenDot}, {"[", TokenLBracket}, {"]", TokenRBracket}, {"(", TokenLParen}, {")", TokenRParen},
	{"{", TokenLBrace}, {"}", TokenRBrace}, {",", TokenComma}, {":", TokenColon},
}

// words are identifiers with a meaning of their own. "null" is accepted
// as a spelling of nil.
var words = []spelling{
	{"in", TokenIn}, {"has", TokenHas}, {"contains", TokenContains},
	{"startsWith", TokenStartsWith}, {"endsWith", TokenEndsWith}, {"matches", TokenMatches},
	{"true", TokenTrue}, {"false", TokenFalse}, {"nil", TokenNil}, {"null", TokenNil},
}

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "EOF"
	case TokenIdent:
		return "identifier"
	case TokenNumber:
		return "number"
	case TokenString:
		return "string"
	}
	for _, table := range [][]spelling{punctuation, words} {
		for _, s := range table {
			if s.kind == k {
				return s.text
			}
		}
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is a lexed token. For strings Value holds the unquoted text.
type Token struct {
	Kind  TokenKind
	Value string
	Pos   int // byte offset in the source
}

// Lex splits src into tokens. The last token is always TokenEOF.
func Lex(src string) ([]Token, error) {
	var out []Token
	pos := 0
	for {
		for pos < len(src) {
			r, size := utf8.DecodeRuneInString(src[pos:])
			if !unicode.IsSpace(r) {
				break
			}
			pos += size
		}
		if pos == len(src) {
			return append(out, Token{Kind: TokenEOF, Pos: pos}), nil
		}

		tok, err := scanToken(src, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, tok.Token)
		pos = tok.end
	}
}

// scanned is a token plus the offset just past it.
type scanned struct {
	Token
	end int
}

func scanToken(src string, pos int) (scanned, error) {
	r, _ := utf8.DecodeRuneInString(src[pos:])
	switch {
	case r == '"' || r == '\'':
		return scanQuoted(src, pos)
	case r == '`':
		closing := strings.IndexByte(src[pos+1:], '`')
		if closing < 0 {
			return scanned{}, fmt.Errorf("unterminated string at position %d", pos)
		}
		end := pos + 1 + closing
		return scanned{Token{TokenString, src[pos+1 : end], pos}, end + 1}, nil
	case r >= '0' && r <= '9':
		end := scanNumber(src, pos)
		return scanned{Token{TokenNumber, src[pos:end], pos}, end}, nil
	case r == '_' || unicode.IsLetter(r):
		end := pos
		for end < len(src) {
			c, size := utf8.DecodeRuneInString(src[end:])
			if c != '_' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
				break
			}
			end += size
		}
		word := src[pos:end]
		kind := TokenIdent
		for _, w := range words {
			if w.text == word {
				kind = w.kind
				break
			}
		}
		return scanned{Token{kind, word, pos}, end}, nil
	}
	for _, p := range punctuation {
		if strings.HasPrefix(src[pos:], p.text) {
			return scanned{Token{p.kind, p.text, pos}, pos + len(p.text)}, nil
		}
	}
	return scanned{}, fmt.Errorf("unexpected character %q at position %d", string(r), pos)
}

// scanQuoted reads a single or double quoted string. Unknown escapes are
// kept verbatim, backslash included.
func scanQuoted(src string, pos int) (scanned, error) {
	quote := src[pos]
	var sb strings.Builder
	for i := pos + 1; i < len(src); i++ {
		c := src[i]
		switch {
		case c == quote:
			return scanned{Token{TokenString, sb.String(), pos}, i + 1}, nil
		case c != '\\':
			sb.WriteByte(c)
			continue
		}
		i++
		if i == len(src) {
			break
		}
		switch e := src[i]; e {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case '"', '\'', '\\', '/':
			sb.WriteByte(e)
		default:
			sb.WriteByte('\\')
			sb.WriteByte(e)
		}
	}
	return scanned{}, fmt.Errorf("unterminated string at position %d", pos)
}

// scanNumber returns the end of the number starting at pos. A dot only
// continues the number when a digit follows, so 1.String stays a member
// access.
func scanNumber(src string, pos int) int {
	digits := func(i int, underscore bool) int {
		for i < len(src) && (isDigit(src[i]) || underscore && src[i] == '_') {
			i++
		}
		return i
	}
	end := digits(pos, true)
	if end+1 < len(src) && src[end] == '.' && isDigit(src[end+1]) {
		end = digits(end+1, false)
	}
	if end < len(src) && (src[end] == 'e' || src[end] == 'E') {
		exp := end + 1
		if exp < len(src) && (src[exp] == '+' || src[exp] == '-') {
			exp++
		}
		if exp < len(src) && isDigit(src[exp]) {
			end = digits(exp, false)
		}
	}
	return end
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
