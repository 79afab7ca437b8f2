// Package ode turns parsed equation text into sandboxed, callable
// derivative evaluators.
//
// The pipeline is strictly staged:
//
//   - [Bind]: resolves every name in the AST against the state
//     variables declared on the left-hand side, the independent
//     variable t and an optional parameter map, producing a
//     [SystemSpec]
//   - [Compile]: lowers a spec into a [System] holding one pure
//     closure per state dimension, with names resolved to fixed
//     vector indices and parameters folded to constants
//   - [Cache]: shares compiled systems across jobs keyed by
//     normalized source text
//
// The compiler never generates code from user input; the only thing
// it produces is a tree of calls into the fixed built-in set, so
// untrusted equation text can never escape the numeric grammar.
//
// # Thread Safety
//
// A compiled [System] is immutable and safe for unsynchronized
// concurrent evaluation. Binding and compilation are pure computation
// with no suspension points.
package ode
