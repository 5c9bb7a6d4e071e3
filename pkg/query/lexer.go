package query

import (
	"strconv"
	"strings"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenDot
	tokenField
	tokenIdent
	tokenNumber
	tokenString
	tokenLBracket
	tokenRBracket
	tokenLBrace
	tokenRBrace
	tokenLParen
	tokenRParen
	tokenPipe
	tokenComma
	tokenColon
	tokenSemicolon
	tokenQuestion
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenEq
	tokenNeq
	tokenLt
	tokenLte
	tokenGt
	tokenGte
	tokenAlt
)

// stringPart is either literal text or the source of an interpolated
// expression inside a string literal.
type stringPart struct {
	text   string
	expr   string
	offset int
	isExpr bool
}

type token struct {
	typ    tokenType
	lexeme string
	pos    int
	num    float64
	parts  []stringPart
}

// lexer turns an expression source into tokens. It stops at the first error.
type lexer struct {
	src    string
	base   int
	start  int
	cur    int
	tokens []token
}

func newLexer(src string, base int) *lexer {
	return &lexer{src: src, base: base}
}

func (l *lexer) scanTokens() ([]token, error) {
	for {
		l.skipSpace()
		if l.atEnd() {
			break
		}
		l.start = l.cur
		if err := l.scanToken(); err != nil {
			return nil, err
		}
	}

	l.tokens = append(l.tokens, token{typ: tokenEOF, pos: l.base + l.cur})
	return l.tokens, nil
}

func (l *lexer) scanToken() error {
	c := l.advance()

	switch c {
	case '.':
		if !l.atEnd() && isIdentStart(l.peek()) {
			for !l.atEnd() && isIdentPart(l.peek()) {
				l.cur++
			}
			l.add(tokenField, l.src[l.start+1:l.cur])
			return nil
		}
		l.add(tokenDot, ".")
	case '[':
		l.add(tokenLBracket, "[")
	case ']':
		l.add(tokenRBracket, "]")
	case '{':
		l.add(tokenLBrace, "{")
	case '}':
		l.add(tokenRBrace, "}")
	case '(':
		l.add(tokenLParen, "(")
	case ')':
		l.add(tokenRParen, ")")
	case '|':
		l.add(tokenPipe, "|")
	case ',':
		l.add(tokenComma, ",")
	case ':':
		l.add(tokenColon, ":")
	case ';':
		l.add(tokenSemicolon, ";")
	case '?':
		l.add(tokenQuestion, "?")
	case '+':
		l.add(tokenPlus, "+")
	case '-':
		l.add(tokenMinus, "-")
	case '*':
		l.add(tokenStar, "*")
	case '%':
		l.add(tokenPercent, "%")
	case '/':
		if l.match('/') {
			l.add(tokenAlt, "//")
			return nil
		}
		l.add(tokenSlash, "/")
	case '=':
		if l.match('=') {
			l.add(tokenEq, "==")
			return nil
		}
		return l.errorf("unexpected '=', did you mean '=='?")
	case '!':
		if l.match('=') {
			l.add(tokenNeq, "!=")
			return nil
		}
		return l.errorf("unexpected '!'")
	case '<':
		if l.match('=') {
			l.add(tokenLte, "<=")
			return nil
		}
		l.add(tokenLt, "<")
	case '>':
		if l.match('=') {
			l.add(tokenGte, ">=")
			return nil
		}
		l.add(tokenGt, ">")
	case '"':
		return l.scanString()
	default:
		switch {
		case isDigit(c):
			return l.scanNumber()
		case isIdentStart(c):
			for !l.atEnd() && isIdentPart(l.peek()) {
				l.cur++
			}
			l.add(tokenIdent, l.src[l.start:l.cur])
		default:
			return l.errorf("unexpected character %q", c)
		}
	}

	return nil
}

func (l *lexer) scanNumber() error {
	for !l.atEnd() && isDigit(l.peek()) {
		l.cur++
	}
	if !l.atEnd() && l.peek() == '.' && l.cur+1 < len(l.src) && isDigit(l.src[l.cur+1]) {
		l.cur++
		for !l.atEnd() && isDigit(l.peek()) {
			l.cur++
		}
	}
	if !l.atEnd() && (l.peek() == 'e' || l.peek() == 'E') {
		l.cur++
		if !l.atEnd() && (l.peek() == '+' || l.peek() == '-') {
			l.cur++
		}
		for !l.atEnd() && isDigit(l.peek()) {
			l.cur++
		}
	}

	text := l.src[l.start:l.cur]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return l.errorf("invalid number %q", text)
	}

	l.tokens = append(l.tokens, token{
		typ:    tokenNumber,
		lexeme: text,
		pos:    l.base + l.start,
		num:    f,
	})
	return nil
}

func (l *lexer) scanString() error {
	var (
		parts []stringPart
		buf   strings.Builder
	)

	for {
		if l.atEnd() {
			return l.errorf("unterminated string")
		}

		c := l.advance()
		if c == '"' {
			break
		}
		if c != '\\' {
			buf.WriteByte(c)
			continue
		}

		if l.atEnd() {
			return l.errorf("unterminated string")
		}

		esc := l.advance()
		switch esc {
		case '"', '\\', '/':
			buf.WriteByte(esc)
		case 'n':
			buf.WriteByte('\n')
		case 't':
			buf.WriteByte('\t')
		case 'r':
			buf.WriteByte('\r')
		case 'b':
			buf.WriteByte('\b')
		case 'f':
			buf.WriteByte('\f')
		case 'u':
			if l.cur+4 > len(l.src) {
				return l.errorf("invalid unicode escape")
			}
			r, err := strconv.ParseUint(l.src[l.cur:l.cur+4], 16, 32)
			if err != nil {
				return l.errorf("invalid unicode escape")
			}
			buf.WriteRune(rune(r))
			l.cur += 4
		case '(':
			inner, offset, err := l.scanInterpolation()
			if err != nil {
				return err
			}
			if buf.Len() > 0 {
				parts = append(parts, stringPart{text: buf.String()})
				buf.Reset()
			}
			parts = append(parts, stringPart{expr: inner, offset: offset, isExpr: true})
		default:
			return l.errorf("invalid escape '\\%c'", esc)
		}
	}

	if buf.Len() > 0 || len(parts) == 0 {
		parts = append(parts, stringPart{text: buf.String()})
	}

	l.tokens = append(l.tokens, token{
		typ:    tokenString,
		lexeme: l.src[l.start:l.cur],
		pos:    l.base + l.start,
		parts:  parts,
	})
	return nil
}

// scanInterpolation consumes up to the ')' closing a "\(" and returns the
// enclosed source. Nested parentheses and strings are skipped over.
func (l *lexer) scanInterpolation() (string, int, error) {
	begin := l.cur
	depth := 1
	inString := false

	for !l.atEnd() {
		c := l.advance()
		switch {
		case inString && c == '\\':
			if !l.atEnd() {
				l.cur++
			}
		case c == '"':
			inString = !inString
		case inString:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return l.src[begin : l.cur-1], l.base + begin, nil
			}
		}
	}

	return "", 0, l.errorf("unterminated string interpolation")
}

func (l *lexer) add(typ tokenType, lexeme string) {
	l.tokens = append(l.tokens, token{typ: typ, lexeme: lexeme, pos: l.base + l.start})
}

func (l *lexer) errorf(format string, args ...interface{}) error {
	return syntaxErrorf(l.base+l.start, format, args...)
}

func (l *lexer) skipSpace() {
	for !l.atEnd() {
		switch l.peek() {
		case ' ', '\t', '\n', '\r':
			l.cur++
		case '#':
			for !l.atEnd() && l.peek() != '\n' {
				l.cur++
			}
		default:
			return
		}
	}
}

func (l *lexer) advance() byte {
	c := l.src[l.cur]
	l.cur++
	return c
}

func (l *lexer) match(c byte) bool {
	if l.atEnd() || l.src[l.cur] != c {
		return false
	}
	l.cur++
	return true
}

func (l *lexer) peek() byte {
	return l.src[l.cur]
}

func (l *lexer) atEnd() bool {
	return l.cur >= len(l.src)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
