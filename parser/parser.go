// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package parser

import (
	"fix.alekseev.dev/core/term"
)

// Parse parses src as a single expression and returns the term it denotes,
// built in a. On a malformed program it returns an error of kind
// [coreerr.ParseError] whose Pos names the offending line:column.
func Parse(a *term.Arena, src string) (*term.Term, error) {
	p := &parser{a: a, lex: newLexer(src)}
	if err := p.fill(1); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tEOF {
		return nil, p.errorf(p.peek(), "unexpected trailing %s", p.peek().describe())
	}
	return e, nil
}

type parser struct {
	a   *term.Arena
	lex *lexer
	buf []token
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return p.lex.errorf(t.pos, format, args...)
}

// fill ensures at least n tokens are buffered for lookahead.
func (p *parser) fill(n int) error {
	for len(p.buf) < n {
		tok, err := p.lex.next()
		if err != nil {
			return err
		}
		p.buf = append(p.buf, tok)
		if tok.kind == tEOF {
			break
		}
	}
	return nil
}

func (p *parser) peek() token {
	return p.peekAt(0)
}

func (p *parser) peekAt(n int) token {
	if err := p.fill(n + 1); err != nil {
		// Lexer errors surface through the next call that actually consumes
		// the offending token via advance's caller; stash nothing special
		// here since peekAt has no error return. advance() re-derives it.
		return token{kind: tEOF}
	}
	if n < len(p.buf) {
		return p.buf[n]
	}
	return token{kind: tEOF}
}

func (p *parser) advance() (token, error) {
	if err := p.fill(1); err != nil {
		return token{}, err
	}
	t := p.buf[0]
	if t.kind != tEOF {
		p.buf = p.buf[1:]
	}
	return t, nil
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	t, err := p.advance()
	if err != nil {
		return token{}, err
	}
	if t.kind != k {
		return token{}, p.errorf(t, "expected %s, found %s", what, t.describe())
	}
	return t, nil
}

// parseExpr parses the lowest-precedence forms: if/then/else, let/in,
// lambdas, and otherwise falls through to application.
func (p *parser) parseExpr() (*term.Term, error) {
	switch p.peek().kind {
	case tIf:
		return p.parseIf()
	case tLet:
		return p.parseLet()
	case tLBrace:
		if p.looksLikeFormals() {
			return p.parseLambda()
		}
	}
	return p.parseApplication()
}

func (p *parser) parseIf() (*term.Term, error) {
	if _, err := p.advance(); err != nil { // 'if'
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tThen, "'then'"); err != nil {
		return nil, err
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tElse, "'else'"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return p.a.NewIf(cond, then, els), nil
}

// parseLet parses `let <bindings> in <expr>` and desugars it into a LetRec
// term whose bindings map carries the trailing expression under the
// hardcoded key "body" (alongside the let's own named bindings), so that
// LetRec's definition as sugar for Select(Rec(bindings), "body") applies
// uniformly regardless of what the user happened to name anything.
func (p *parser) parseLet() (*term.Term, error) {
	if _, err := p.advance(); err != nil { // 'let'
		return nil, err
	}
	bindings := make(map[string]*term.Term)
	for p.peek().kind != tIn {
		name, err := p.expect(tIdent, "a binding name")
		if err != nil {
			return nil, err
		}
		if name.text == "body" {
			return nil, p.errorf(name, "%q is a reserved binding name in let", "body")
		}
		if _, err := p.expect(tEquals, "'='"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tSemi, "';'"); err != nil {
			return nil, err
		}
		if _, dup := bindings[name.text]; dup {
			return nil, p.errorf(name, "duplicate binding %q", name.text)
		}
		bindings[name.text] = val
	}
	if _, err := p.advance(); err != nil { // 'in'
		return nil, err
	}
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	bindings["body"] = body
	return p.a.NewLetRec(bindings), nil
}

// looksLikeFormals decides, using only buffered lookahead (no lexer
// state to rewind), whether a '{' begins a lambda's formal-parameter list
// ("{a, b}: body") rather than an attribute-set literal ("{a = b;}"). The
// two forms diverge at the token following the first identifier: ',' or
// '}' says formals, '=' says attrs.
func (p *parser) looksLikeFormals() bool {
	if p.peek().kind != tLBrace {
		return false
	}
	if p.peekAt(1).kind == tRBrace {
		// "{}" is ambiguous until we see what follows the brace: a colon
		// makes it an empty formals list, anything else an empty attrs.
		return p.peekAt(2).kind == tColon
	}
	if p.peekAt(1).kind != tIdent {
		return false
	}
	switch p.peekAt(2).kind {
	case tComma, tRBrace:
		return true
	default:
		return false
	}
}

func (p *parser) parseLambda() (*term.Term, error) {
	if _, err := p.expect(tLBrace, "'{'"); err != nil {
		return nil, err
	}
	var formals []string
	for p.peek().kind != tRBrace {
		name, err := p.expect(tIdent, "a parameter name")
		if err != nil {
			return nil, err
		}
		formals = append(formals, name.text)
		if p.peek().kind == tComma {
			if _, err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(tRBrace, "'}'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tColon, "':'"); err != nil {
		return nil, err
	}
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return p.a.NewFunction(formals, body), nil
}

// parseApplication parses left-associative function application: a run of
// atoms, each a select chain, folded through Call.
func (p *parser) parseApplication() (*term.Term, error) {
	e, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	for p.startsAtom() {
		arg, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		e = p.a.NewCall(e, arg)
	}
	return e, nil
}

func (p *parser) startsAtom() bool {
	switch p.peek().kind {
	case tIdent, tString, tPath, tUri, tInt, tFloat, tTrue, tFalse, tLParen, tLBracket, tRec:
		return true
	case tLBrace:
		return !p.looksLikeFormals()
	}
	return false
}

func (p *parser) parseSelect() (*term.Term, error) {
	e, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tDot {
		if _, err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(tIdent, "an attribute name")
		if err != nil {
			return nil, err
		}
		e = p.a.NewSelect(e, name.text)
	}
	return e, nil
}

func (p *parser) parseAtom() (*term.Term, error) {
	t, err := p.advance()
	if err != nil {
		return nil, err
	}
	switch t.kind {
	case tString:
		return p.a.NewStr(t.text), nil
	case tPath:
		return p.a.NewPath(t.text), nil
	case tUri:
		return p.a.NewUri(t.text), nil
	case tTrue:
		return p.a.NewBool(true), nil
	case tFalse:
		return p.a.NewBool(false), nil
	case tInt:
		n, err := parseIntLiteral(t.text)
		if err != nil {
			return nil, p.errorf(t, "malformed integer literal %q: %v", t.text, err)
		}
		return p.a.NewInt(n), nil
	case tFloat:
		f, err := parseFloatLiteral(t.text)
		if err != nil {
			return nil, p.errorf(t, "malformed float literal %q: %v", t.text, err)
		}
		return p.a.NewFloat(f), nil
	case tIdent:
		return p.a.NewVar(t.text), nil
	case tLParen:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case tLBracket:
		return p.parseList()
	case tRec:
		return p.parseRec()
	case tLBrace:
		return p.parseAttrs()
	}
	return nil, p.errorf(t, "expected an expression, found %s", t.describe())
}

func (p *parser) parseList() (*term.Term, error) {
	var elems []*term.Term
	for p.peek().kind != tRBracket {
		e, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if _, err := p.expect(tRBracket, "']'"); err != nil {
		return nil, err
	}
	return p.a.NewList(elems), nil
}

func (p *parser) parseRec() (*term.Term, error) {
	if _, err := p.expect(tLBrace, "'{'"); err != nil {
		return nil, err
	}
	bindings, err := p.parseAttrsBody()
	if err != nil {
		return nil, err
	}
	return p.a.NewRec(bindings), nil
}

func (p *parser) parseAttrs() (*term.Term, error) {
	bindings, err := p.parseAttrsBody()
	if err != nil {
		return nil, err
	}
	return p.a.NewAttrs(bindings), nil
}

// parseAttrsBody parses "name = expr;"* up to (and consuming) the closing
// '}'. The opening '{' must already have been consumed by the caller.
func (p *parser) parseAttrsBody() (map[string]*term.Term, error) {
	bindings := make(map[string]*term.Term)
	for p.peek().kind != tRBrace {
		name, err := p.expect(tIdent, "an attribute name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tEquals, "'='"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tSemi, "';'"); err != nil {
			return nil, err
		}
		if _, dup := bindings[name.text]; dup {
			return nil, p.errorf(name, "duplicate attribute %q", name.text)
		}
		bindings[name.text] = val
	}
	if _, err := p.expect(tRBrace, "'}'"); err != nil {
		return nil, err
	}
	return bindings, nil
}
