package expr

import (
	"fmt"
	"strconv"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokCaret
	tokPrime
	tokComma
	tokEq // ==
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokLBrack
	tokRBrack
)

type token struct {
	kind tokenKind
	off  int
	text string
	num  float64
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokIdent, tokNumber:
		return fmt.Sprintf("%q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

type lexer struct {
	src string
	pos int
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

// next returns the next token or a SyntaxError for an unrecognized byte
// or a malformed numeric literal.
func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, off: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch {
	case isLetter(c):
		l.pos++
		for l.pos < len(l.src) && (isLetter(l.src[l.pos]) || isDigit(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokIdent, off: start, text: l.src[start:l.pos]}, nil

	case isDigit(c) || c == '.':
		l.pos++
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		// exponent part
		if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
			mark := l.pos
			l.pos++
			if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
				l.pos++
			}
			if l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
					l.pos++
				}
			} else {
				// 'e' was the start of an identifier, not an exponent
				l.pos = mark
			}
		}
		text := l.src[start:l.pos]
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, &SyntaxError{Pos: start, Msg: fmt.Sprintf("malformed number %q", text)}
		}
		return token{kind: tokNumber, off: start, text: text, num: v}, nil
	}

	single := map[byte]tokenKind{
		'+': tokPlus, '-': tokMinus, '*': tokStar, '/': tokSlash,
		'^': tokCaret, '\'': tokPrime, ',': tokComma,
		'(': tokLParen, ')': tokRParen,
		'{': tokLBrace, '}': tokRBrace,
		'[': tokLBrack, ']': tokRBrack,
	}

	if c == '=' {
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: tokEq, off: start, text: "=="}, nil
		}
		return token{}, &SyntaxError{Pos: start, Msg: "single '=' (use '==' to separate sides)"}
	}

	if k, ok := single[c]; ok {
		l.pos++
		return token{kind: k, off: start, text: l.src[start:l.pos]}, nil
	}

	return token{}, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", string(c))}
}
