package bytecode

import "github.com/chazu/fleet/grammar"

// ---------------------------------------------------------------------------
// Boolean Primitives
// ---------------------------------------------------------------------------

// and, or and not are opcodes, since they short-circuit.
func (r *Registry) registerBoolPrimitives() {
	const b = grammar.KindBool

	r.add2("xor", b, b, b, func(x, y Value) (Value, error) {
		return x.(bool) != y.(bool), nil
	})

	r.add2("=", b, b, b, func(x, y Value) (Value, error) {
		return x.(bool) == y.(bool), nil
	})

	r.add2("implies", b, b, b, func(x, y Value) (Value, error) {
		return !x.(bool) || y.(bool), nil
	})
}
