package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports an expression that could not be parsed.
type SyntaxError struct {
	Msg string
}

func (e *SyntaxError) Error() string { return "syntax error: " + e.Msg }

// Parse parses an expression string into an AST.
func Parse(input string) (Expr, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, &SyntaxError{Msg: err.Error()}
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, &SyntaxError{Msg: err.Error()}
	}
	if p.current().Kind != TokenEOF {
		return nil, &SyntaxError{Msg: fmt.Sprintf("unexpected token %s at position %d", p.current().Kind, p.current().Pos)}
	}
	return expr, nil
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Kind: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	tok := p.current()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	tok := p.current()
	if tok.Kind != kind {
		return tok, fmt.Errorf("expected %s but got %s at position %d", kind, tok.Kind, tok.Pos)
	}
	p.advance()
	return tok, nil
}

// Precedence levels (low to high):
// 1. ??  (nil coalescing)
// 2. || (logical or)
// 3. && (logical and)
// 4. ==, != (equality)
// 5. <, >, <=, >= (comparison)
// 6. in, has, contains, startsWith, endsWith, matches (membership/string)
// 7. +, - (additive)
// 8. *, /, % (multiplicative)
// 9. !, - (unary)
// 10. member access, index access, call (postfix)

func (p *parser) parseExpr() (Expr, error) {
	return p.parseNullCoalescing()
}

// binaryLevel parses a left-associative level whose operands come from next.
func (p *parser) binaryLevel(next func() (Expr, error), ops ...TokenKind) (Expr, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for p.isOneOf(ops) {
		op := p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op.Kind, Right: right}
	}
	return left, nil
}

func (p *parser) isOneOf(ops []TokenKind) bool {
	kind := p.current().Kind
	for _, op := range ops {
		if kind == op {
			return true
		}
	}
	return false
}

func (p *parser) parseNullCoalescing() (Expr, error) {
	return p.binaryLevel(p.parseOr, TokenNullCoal)
}

func (p *parser) parseOr() (Expr, error) {
	return p.binaryLevel(p.parseAnd, TokenOr)
}

func (p *parser) parseAnd() (Expr, error) {
	return p.binaryLevel(p.parseEquality, TokenAnd)
}

func (p *parser) parseEquality() (Expr, error) {
	return p.binaryLevel(p.parseComparison, TokenEq, TokenNeq)
}

func (p *parser) parseComparison() (Expr, error) {
	return p.binaryLevel(p.parseMembership, TokenGt, TokenGte, TokenLt, TokenLte)
}

func (p *parser) parseMembership() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch p.current().Kind {
	case TokenIn, TokenHas, TokenContains, TokenStartsWith, TokenEndsWith, TokenMatches:
		op := p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op.Kind, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	return p.binaryLevel(p.parseMultiplicative, TokenPlus, TokenMinus)
}

func (p *parser) parseMultiplicative() (Expr, error) {
	return p.binaryLevel(p.parseUnary, TokenStar, TokenSlash, TokenPercent)
}

func (p *parser) parseUnary() (Expr, error) {
	if p.current().Kind == TokenNot || p.current().Kind == TokenMinus {
		op := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op.Kind, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.current().Kind {
		case TokenDot:
			p.advance()
			tok := p.current()
			if tok.Kind != TokenIdent && !isKeywordToken(tok.Kind) {
				return nil, fmt.Errorf("expected identifier but got %s at position %d", tok.Kind, tok.Pos)
			}
			p.advance()
			expr = &MemberExpr{Object: expr, Property: tok.Value}

		case TokenLBracket:
			p.advance()
			index, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRBracket); err != nil {
				return nil, err
			}
			expr = &IndexExpr{Object: expr, Index: index}

		case TokenLParen:
			p.advance()
			args, err := p.parseList(TokenRParen)
			if err != nil {
				return nil, err
			}
			expr = &CallExpr{Func: expr, Args: args}

		default:
			return expr, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.current()

	switch tok.Kind {
	case TokenNumber:
		p.advance()
		return parseNumber(tok)

	case TokenString:
		p.advance()
		return &LiteralExpr{Value: tok.Value}, nil

	case TokenTrue:
		p.advance()
		return &LiteralExpr{Value: true}, nil

	case TokenFalse:
		p.advance()
		return &LiteralExpr{Value: false}, nil

	case TokenNil:
		p.advance()
		return &LiteralExpr{Value: nil}, nil

	case TokenIdent:
		p.advance()
		return &IdentExpr{Name: tok.Value}, nil

	case TokenLParen:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	case TokenLBracket:
		p.advance()
		elements, err := p.parseList(TokenRBracket)
		if err != nil {
			return nil, err
		}
		return &ArrayLiteral{Elements: elements}, nil

	case TokenLBrace:
		return p.parseMapLiteral()

	default:
		return nil, fmt.Errorf("unexpected token %s at position %d", tok.Kind, tok.Pos)
	}
}

func parseNumber(tok Token) (Expr, error) {
	text := strings.ReplaceAll(tok.Value, "_", "")
	if !strings.ContainsAny(text, ".eE") {
		n, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return &LiteralExpr{Value: int(n)}, nil
		}
	}
	val, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q at position %d", tok.Value, tok.Pos)
	}
	return &LiteralExpr{Value: val}, nil
}

// parseList parses comma separated expressions up to the closing token.
// A trailing comma is allowed.
func (p *parser) parseList(closing TokenKind) ([]Expr, error) {
	var elements []Expr
	for p.current().Kind != closing {
		elem, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elements = append(elements, elem)

		if p.current().Kind != TokenComma {
			break
		}
		p.advance() // skip comma
	}
	if _, err := p.expect(closing); err != nil {
		return nil, err
	}
	return elements, nil
}

func (p *parser) parseMapLiteral() (Expr, error) {
	p.advance() // skip {
	lit := &MapLiteral{}
	for p.current().Kind != TokenRBrace {
		key := p.current()
		if key.Kind != TokenString && key.Kind != TokenIdent {
			return nil, fmt.Errorf("expected map key but got %s at position %d", key.Kind, key.Pos)
		}
		p.advance()
		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lit.Keys = append(lit.Keys, key.Value)
		lit.Values = append(lit.Values, val)

		if p.current().Kind != TokenComma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return lit, nil
}

func isKeywordToken(kind TokenKind) bool {
	switch kind {
	case TokenIn, TokenHas, TokenContains, TokenStartsWith,
		TokenEndsWith, TokenMatches, TokenTrue, TokenFalse, TokenNil:
		return true
	}
	return false
}
