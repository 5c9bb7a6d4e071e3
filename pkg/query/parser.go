package query

import (
	"regexp"
	"strings"
)

// parser is a recursive descent parser. Precedence, lowest first:
// pipe, comma, alternative, or, and, comparison, additive,
// multiplicative, unary minus, postfix.
type parser struct {
	tokens  []token
	current int
}

func parse(src string, base int) (node, error) {
	tokens, err := newLexer(src, base).scanTokens()
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	if p.check(tokenEOF) {
		return nil, syntaxErrorf(p.peek().pos, "empty expression")
	}

	n, err := p.parsePipe()
	if err != nil {
		return nil, err
	}

	if !p.check(tokenEOF) {
		return nil, p.errorf("unexpected %q", p.peek().lexeme)
	}

	return n, nil
}

func (p *parser) parsePipe() (node, error) {
	left, err := p.parseComma()
	if err != nil {
		return nil, err
	}

	if p.match(tokenPipe) {
		right, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		return &pipeNode{left: left, right: right}, nil
	}

	return left, nil
}

func (p *parser) parseComma() (node, error) {
	left, err := p.parseAlt()
	if err != nil {
		return nil, err
	}

	for p.match(tokenComma) {
		right, err := p.parseAlt()
		if err != nil {
			return nil, err
		}
		left = &commaNode{left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAlt() (node, error) {
	left, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.match(tokenAlt) {
		right, err := p.parseAlt()
		if err != nil {
			return nil, err
		}
		return &altNode{left: left, right: right}, nil
	}

	return left, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.matchKeyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.matchKeyword("and") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.match(tokenEq, tokenNeq, tokenLt, tokenLte, tokenGt, tokenGte) {
		op := p.previous().typ
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if p.check(tokenEq, tokenNeq, tokenLt, tokenLte, tokenGt, tokenGte) {
			return nil, p.errorf("comparison operators are not associative")
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}

	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for p.match(tokenPlus, tokenMinus) {
		op := p.previous().typ
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.match(tokenStar, tokenSlash, tokenPercent) {
		op := p.previous().typ
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}

	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.match(tokenMinus) {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*literalNode); ok {
			if n, ok := lit.value.(Number); ok {
				return &literalNode{value: -n}, nil
			}
		}
		return &negNode{operand: operand}, nil
	}

	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	term, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.match(tokenField):
			term = &indexNode{target: term, key: &literalNode{value: String(p.previous().lexeme)}}

		case p.check(tokenDot) && p.checkNext(tokenString):
			p.advance()
			key, err := p.parseString(p.advance())
			if err != nil {
				return nil, err
			}
			term = &indexNode{target: term, key: key}

		case p.check(tokenDot) && p.checkNext(tokenLBracket):
			p.advance()

		case p.match(tokenLBracket):
			term, err = p.parseBracketSuffix(term)
			if err != nil {
				return nil, err
			}

		case p.match(tokenQuestion):
			term = &tryNode{body: term}

		default:
			return term, nil
		}
	}
}

// parseBracketSuffix parses what follows '[' after a term: iteration, an
// index or a slice.
func (p *parser) parseBracketSuffix(target node) (node, error) {
	if p.match(tokenRBracket) {
		return &iterateNode{target: target}, nil
	}

	var from node
	if !p.check(tokenColon) {
		n, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		from = n
	}

	if p.match(tokenColon) {
		var to node
		if !p.check(tokenRBracket) {
			n, err := p.parsePipe()
			if err != nil {
				return nil, err
			}
			to = n
		}
		if err := p.consume(tokenRBracket, "expected ']' after slice"); err != nil {
			return nil, err
		}
		return &sliceNode{target: target, from: from, to: to}, nil
	}

	if err := p.consume(tokenRBracket, "expected ']'"); err != nil {
		return nil, err
	}

	return &indexNode{target: target, key: from}, nil
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.peek()

	switch tok.typ {
	case tokenDot:
		p.advance()
		if p.check(tokenString) {
			key, err := p.parseString(p.advance())
			if err != nil {
				return nil, err
			}
			return &indexNode{target: &identityNode{}, key: key}, nil
		}
		return &identityNode{}, nil

	case tokenField:
		p.advance()
		return &indexNode{
			target: &identityNode{},
			key:    &literalNode{value: String(tok.lexeme)},
		}, nil

	case tokenNumber:
		p.advance()
		return &literalNode{value: Number(tok.num)}, nil

	case tokenString:
		p.advance()
		return p.parseString(tok)

	case tokenLParen:
		p.advance()
		n, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		if err := p.consume(tokenRParen, "expected ')'"); err != nil {
			return nil, err
		}
		return n, nil

	case tokenLBracket:
		p.advance()
		if p.match(tokenRBracket) {
			return &arrayNode{}, nil
		}
		body, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		if err := p.consume(tokenRBracket, "expected ']' after array"); err != nil {
			return nil, err
		}
		return &arrayNode{body: body}, nil

	case tokenLBrace:
		p.advance()
		return p.parseObject()

	case tokenIdent:
		return p.parseIdent()
	}

	if tok.typ == tokenEOF {
		return nil, p.errorf("unexpected end of expression")
	}
	return nil, p.errorf("unexpected %q", tok.lexeme)
}

func (p *parser) parseIdent() (node, error) {
	tok := p.advance()

	switch tok.lexeme {
	case "true":
		return &literalNode{value: Bool(true)}, nil
	case "false":
		return &literalNode{value: Bool(false)}, nil
	case "null":
		return &literalNode{value: Null{}}, nil
	case "if":
		return p.parseIf()
	case "then", "elif", "else", "end", "and", "or":
		return nil, syntaxErrorf(tok.pos, "unexpected keyword %q", tok.lexeme)
	}

	var args []node
	if p.match(tokenLParen) {
		for {
			arg, err := p.parsePipe()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.match(tokenSemicolon) {
				break
			}
		}
		if err := p.consume(tokenRParen, "expected ')' after arguments"); err != nil {
			return nil, err
		}
	}

	arities, ok := builtinArity[tok.lexeme]
	if !ok {
		return nil, syntaxErrorf(tok.pos, "unknown function %s", tok.lexeme)
	}
	if !containsInt(arities, len(args)) {
		return nil, syntaxErrorf(tok.pos, "%s/%d is not defined", tok.lexeme, len(args))
	}

	call := &callNode{name: tok.lexeme, args: args}

	if _, isRegex := regexBuiltins[tok.lexeme]; isRegex {
		if lit, ok := args[0].(*literalNode); ok {
			pattern, ok := lit.value.(String)
			if !ok {
				return nil, syntaxErrorf(tok.pos, "%s expects a string pattern", tok.lexeme)
			}
			re, err := regexp.Compile(string(pattern))
			if err != nil {
				return nil, syntaxErrorf(tok.pos, "invalid regular expression: %s", err)
			}
			call.re = re
		}
	}

	return call, nil
}

func (p *parser) parseIf() (node, error) {
	n := &ifNode{}

	for {
		cond, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		if !p.matchKeyword("then") {
			return nil, p.errorf("expected 'then'")
		}
		then, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		n.branches = append(n.branches, ifBranch{cond: cond, then: then})

		if p.matchKeyword("elif") {
			continue
		}
		break
	}

	if p.matchKeyword("else") {
		orElse, err := p.parsePipe()
		if err != nil {
			return nil, err
		}
		n.orElse = orElse
	}

	if !p.matchKeyword("end") {
		return nil, p.errorf("expected 'end'")
	}

	return n, nil
}

func (p *parser) parseObject() (node, error) {
	n := &objectNode{}

	if p.match(tokenRBrace) {
		return n, nil
	}

	for {
		entry, err := p.parseObjectEntry()
		if err != nil {
			return nil, err
		}
		n.entries = append(n.entries, entry)

		if p.match(tokenComma) {
			continue
		}
		if err := p.consume(tokenRBrace, "expected '}' after object"); err != nil {
			return nil, err
		}
		return n, nil
	}
}

func (p *parser) parseObjectEntry() (objectEntry, error) {
	var key node

	tok := p.peek()
	switch tok.typ {
	case tokenIdent:
		p.advance()
		key = &literalNode{value: String(tok.lexeme)}
	case tokenNumber:
		p.advance()
		key = &literalNode{value: String(tok.lexeme)}
	case tokenString:
		p.advance()
		k, err := p.parseString(tok)
		if err != nil {
			return objectEntry{}, err
		}
		key = k
	case tokenLParen:
		p.advance()
		k, err := p.parsePipe()
		if err != nil {
			return objectEntry{}, err
		}
		if err := p.consume(tokenRParen, "expected ')' after object key"); err != nil {
			return objectEntry{}, err
		}
		key = k
	default:
		return objectEntry{}, p.errorf("invalid object key %q", tok.lexeme)
	}

	if !p.match(tokenColon) {
		// {name} is shorthand for {name: .name}
		if _, ok := key.(*literalNode); !ok || tok.typ == tokenNumber {
			return objectEntry{}, p.errorf("expected ':' after object key")
		}
		return objectEntry{
			key:   key,
			value: &indexNode{target: &identityNode{}, key: key},
		}, nil
	}

	value, err := p.parseAlt()
	if err != nil {
		return objectEntry{}, err
	}

	return objectEntry{key: key, value: value}, nil
}

// parseString builds a literal for plain strings and a stringNode for
// strings with interpolations.
func (p *parser) parseString(tok token) (node, error) {
	if len(tok.parts) == 1 && !tok.parts[0].isExpr {
		return &literalNode{value: String(tok.parts[0].text)}, nil
	}

	n := &stringNode{}
	for _, part := range tok.parts {
		if !part.isExpr {
			n.parts = append(n.parts, &literalNode{value: String(part.text)})
			continue
		}
		if strings.TrimSpace(part.expr) == "" {
			return nil, syntaxErrorf(part.offset, "empty interpolation")
		}
		inner, err := parse(part.expr, part.offset)
		if err != nil {
			return nil, err
		}
		n.parts = append(n.parts, inner)
	}

	return n, nil
}

func (p *parser) consume(typ tokenType, msg string) error {
	if p.match(typ) {
		return nil
	}
	return p.errorf("%s", msg)
}

func (p *parser) match(types ...tokenType) bool {
	if p.check(types...) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) matchKeyword(word string) bool {
	if p.check(tokenIdent) && p.peek().lexeme == word {
		p.advance()
		return true
	}
	return false
}

func (p *parser) check(types ...tokenType) bool {
	cur := p.peek().typ
	for _, t := range types {
		if cur == t {
			return true
		}
	}
	return false
}

func (p *parser) checkNext(typ tokenType) bool {
	if p.current+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.current+1].typ == typ
}

func (p *parser) advance() token {
	tok := p.tokens[p.current]
	if tok.typ != tokenEOF {
		p.current++
	}
	return tok
}

func (p *parser) previous() token {
	return p.tokens[p.current-1]
}

func (p *parser) peek() token {
	return p.tokens[p.current]
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return syntaxErrorf(p.peek().pos, format, args...)
}

func containsInt(s []int, v int) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
