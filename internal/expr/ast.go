package expr

// Node is one vertex of a parsed expression tree. The set of
// implementations is closed: Number, Ident, Unary, Binary and Call.
// Nodes are immutable after construction.
type Node interface {
	// Pos returns the byte offset of the node in the source text.
	Pos() int
	node()
}

// Number is a numeric literal.
type Number struct {
	Off   int
	Value float64
}

// Ident is a bare identifier. Whether it names a state variable, the
// independent variable or a parameter is decided at bind time.
type Ident struct {
	Off  int
	Name string
}

// Unary is a prefix operation. The only operator is '-'.
type Unary struct {
	Off int
	Op  byte
	X   Node
}

// Binary is an infix operation: one of '+', '-', '*', '/', '^'.
type Binary struct {
	Off  int
	Op   byte
	L, R Node
}

// Call is a function application f(args...). The callee may be a
// built-in function or, for the single-argument form x(t), a state
// variable access; the binder distinguishes the two.
type Call struct {
	Off  int
	Name string
	Args []Node
}

func (n *Number) Pos() int { return n.Off }
func (n *Ident) Pos() int  { return n.Off }
func (n *Unary) Pos() int  { return n.Off }
func (n *Binary) Pos() int { return n.Off }
func (n *Call) Pos() int   { return n.Off }

func (*Number) node() {}
func (*Ident) node()  {}
func (*Unary) node()  {}
func (*Binary) node() {}
func (*Call) node()   {}

// Deriv is one derivative head on the left-hand side, e.g. D(x) or x'.
type Deriv struct {
	Off int
	Var string
}

// Equation is the top-level construct: a list of derivative heads
// equated to a list of right-hand-side expressions. The single form
// D(x) == e parses as one-element lists.
type Equation struct {
	Derivs []Deriv
	RHS    []Node
}
