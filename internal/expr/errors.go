package expr

import (
	"errors"
	"fmt"
)

// ErrEmptyInput indicates the source text contained no equation.
var ErrEmptyInput = errors.New("expr: empty input")

// SyntaxError reports a lexical or grammatical problem together with
// the byte offset of the offending token in the source text.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: syntax error at offset %d: %s", e.Pos, e.Msg)
}
