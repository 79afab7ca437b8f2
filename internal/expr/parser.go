package expr

import "fmt"

// Parse turns equation source text into an Equation AST. Accepted forms:
//
//	D(x) == -x
//	{D(x), D(y)} == {x - y, x*y}
//	x' == sin(t) - x
//	x'(t) == x[t] - y[t]
//
// Parse performs no name resolution or evaluation; anything lexically
// valid but semantically wrong is left for the binder.
func Parse(source string) (*Equation, error) {
	p := &parser{lex: &lexer{src: source}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.cur.kind == tokEOF {
		return nil, ErrEmptyInput
	}

	derivs, err := p.parseLHS()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEq {
		return nil, p.unexpected("'=='")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	rhs, err := p.parseRHS()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, p.unexpected("end of input")
	}
	return &Equation{Derivs: derivs, RHS: rhs}, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) unexpected(want string) error {
	return &SyntaxError{Pos: p.cur.off, Msg: fmt.Sprintf("unexpected %s, expected %s", p.cur, want)}
}

func (p *parser) expect(k tokenKind, want string) error {
	if p.cur.kind != k {
		if p.cur.kind == tokEOF {
			return &SyntaxError{Pos: p.cur.off, Msg: "unterminated group, expected " + want}
		}
		return p.unexpected(want)
	}
	return p.advance()
}

func (p *parser) parseLHS() ([]Deriv, error) {
	if p.cur.kind == tokLBrace {
		if err := p.advance(); err != nil {
			return nil, err
		}
		var derivs []Deriv
		for {
			d, err := p.parseDerivHead()
			if err != nil {
				return nil, err
			}
			derivs = append(derivs, d)
			if p.cur.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.expect(tokRBrace, "'}'"); err != nil {
			return nil, err
		}
		return derivs, nil
	}
	d, err := p.parseDerivHead()
	if err != nil {
		return nil, err
	}
	return []Deriv{d}, nil
}

// parseDerivHead accepts D(x), D(x(t)), D(x[t], t) and the primed
// forms x', x'(t), x'[t].
func (p *parser) parseDerivHead() (Deriv, error) {
	if p.cur.kind != tokIdent {
		return Deriv{}, p.unexpected("derivative of a state variable (D(x) or x')")
	}
	off := p.cur.off
	name := p.cur.text

	if name == "D" {
		if err := p.advance(); err != nil {
			return Deriv{}, err
		}
		open := p.cur.kind
		if open != tokLParen && open != tokLBrack {
			return Deriv{}, p.unexpected("'(' after D")
		}
		if err := p.advance(); err != nil {
			return Deriv{}, err
		}
		if p.cur.kind != tokIdent {
			return Deriv{}, p.unexpected("state variable name")
		}
		varName := p.cur.text
		if err := p.advance(); err != nil {
			return Deriv{}, err
		}
		if err := p.skipTimeSuffix(); err != nil {
			return Deriv{}, err
		}
		// optional ", t" as in the Mathematica form D[x[t], t]
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return Deriv{}, err
			}
			if p.cur.kind != tokIdent || p.cur.text != "t" {
				return Deriv{}, p.unexpected("'t'")
			}
			if err := p.advance(); err != nil {
				return Deriv{}, err
			}
		}
		closer, closerText := tokRParen, "')'"
		if open == tokLBrack {
			closer, closerText = tokRBrack, "']'"
		}
		if err := p.expect(closer, closerText); err != nil {
			return Deriv{}, err
		}
		return Deriv{Off: off, Var: varName}, nil
	}

	if err := p.advance(); err != nil {
		return Deriv{}, err
	}
	if p.cur.kind != tokPrime {
		return Deriv{}, p.unexpected("''' or D(...)")
	}
	if err := p.advance(); err != nil {
		return Deriv{}, err
	}
	if err := p.skipTimeSuffix(); err != nil {
		return Deriv{}, err
	}
	return Deriv{Off: off, Var: name}, nil
}

// skipTimeSuffix consumes an optional (t) or [t] after a variable name.
func (p *parser) skipTimeSuffix() error {
	if p.cur.kind != tokLParen && p.cur.kind != tokLBrack {
		return nil
	}
	open := p.cur.kind
	if err := p.advance(); err != nil {
		return err
	}
	if p.cur.kind != tokIdent || p.cur.text != "t" {
		return p.unexpected("'t'")
	}
	if err := p.advance(); err != nil {
		return err
	}
	if open == tokLParen {
		return p.expect(tokRParen, "')'")
	}
	return p.expect(tokRBrack, "']'")
}

func (p *parser) parseRHS() ([]Node, error) {
	if p.cur.kind == tokLBrace {
		if err := p.advance(); err != nil {
			return nil, err
		}
		var list []Node
		for {
			e, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			list = append(list, e)
			if p.cur.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.expect(tokRBrace, "'}'"); err != nil {
			return nil, err
		}
		return list, nil
	}
	e, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	return []Node{e}, nil
}

// Binding powers: additive 1, multiplicative 2, unary minus 3,
// exponentiation 4 (right-associative, binds tighter than unary so
// -x^2 reads as -(x^2)).
func binaryPrec(k tokenKind) int {
	switch k {
	case tokPlus, tokMinus:
		return 1
	case tokStar, tokSlash:
		return 2
	case tokCaret:
		return 4
	}
	return 0
}

func opByte(k tokenKind) byte {
	switch k {
	case tokPlus:
		return '+'
	case tokMinus:
		return '-'
	case tokStar:
		return '*'
	case tokSlash:
		return '/'
	case tokCaret:
		return '^'
	}
	return 0
}

func (p *parser) parseExpr(minPrec int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec := binaryPrec(p.cur.kind)
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		op := opByte(p.cur.kind)
		off := p.cur.off
		rightAssoc := p.cur.kind == tokCaret
		if err := p.advance(); err != nil {
			return nil, err
		}
		next := prec + 1
		if rightAssoc {
			next = prec
		}
		right, err := p.parseExpr(next)
		if err != nil {
			return nil, err
		}
		left = &Binary{Off: off, Op: op, L: left, R: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	switch p.cur.kind {
	case tokMinus:
		off := p.cur.off
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseExpr(3)
		if err != nil {
			return nil, err
		}
		return &Unary{Off: off, Op: '-', X: x}, nil
	case tokPlus:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseExpr(3)
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	switch p.cur.kind {
	case tokNumber:
		n := &Number{Off: p.cur.off, Value: p.cur.num}
		return n, p.advance()

	case tokIdent:
		off := p.cur.off
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind == tokLParen || p.cur.kind == tokLBrack {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &Call{Off: off, Name: name, Args: args}, nil
		}
		return &Ident{Off: off, Name: name}, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, p.unexpected("expression")
}

func (p *parser) parseArgs() ([]Node, error) {
	open := p.cur.kind
	if err := p.advance(); err != nil {
		return nil, err
	}
	var args []Node
	for {
		e, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.cur.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if open == tokLParen {
		return args, p.expect(tokRParen, "')'")
	}
	return args, p.expect(tokRBrack, "']'")
}
