package bytecode

import (
	"strconv"

	"github.com/chazu/fleet/grammar"
)

// ---------------------------------------------------------------------------
// Integer Primitives
// ---------------------------------------------------------------------------

// Integer arithmetic wraps on overflow, as Go's does.
func (r *Registry) registerIntPrimitives() {
	const i = grammar.KindInt

	r.add2("+", i, i, i, func(a, b Value) (Value, error) {
		return a.(int64) + b.(int64), nil
	})

	r.add2("-", i, i, i, func(a, b Value) (Value, error) {
		return a.(int64) - b.(int64), nil
	})

	r.add2("*", i, i, i, func(a, b Value) (Value, error) {
		return a.(int64) * b.(int64), nil
	})

	r.add2("/", i, i, i, func(a, b Value) (Value, error) {
		if b.(int64) == 0 {
			return nil, ErrDivisionByZero
		}
		if a.(int64) == -1<<63 && b.(int64) == -1 {
			return nil, ErrDomain
		}
		return a.(int64) / b.(int64), nil
	})

	r.add2("%", i, i, i, func(a, b Value) (Value, error) {
		if b.(int64) == 0 {
			return nil, ErrDivisionByZero
		}
		if b.(int64) == -1 {
			return int64(0), nil
		}
		return a.(int64) % b.(int64), nil
	})

	r.add1("neg", i, i, func(a Value) (Value, error) {
		return -a.(int64), nil
	})

	r.add1("abs", i, i, func(a Value) (Value, error) {
		if x := a.(int64); x < 0 {
			return -x, nil
		}
		return a, nil
	})

	r.add1("succ", i, i, func(a Value) (Value, error) {
		return a.(int64) + 1, nil
	})

	r.add1("pred", i, i, func(a Value) (Value, error) {
		return a.(int64) - 1, nil
	})

	r.add2("min", i, i, i, func(a, b Value) (Value, error) {
		return min(a.(int64), b.(int64)), nil
	})

	r.add2("max", i, i, i, func(a, b Value) (Value, error) {
		return max(a.(int64), b.(int64)), nil
	})

	r.add2("=", i, i, grammar.KindBool, func(a, b Value) (Value, error) {
		return a.(int64) == b.(int64), nil
	})

	r.add2("<", i, i, grammar.KindBool, func(a, b Value) (Value, error) {
		return a.(int64) < b.(int64), nil
	})

	r.add2("<=", i, i, grammar.KindBool, func(a, b Value) (Value, error) {
		return a.(int64) <= b.(int64), nil
	})

	r.add1("float", i, grammar.KindFloat, func(a Value) (Value, error) {
		return float64(a.(int64)), nil
	})

	r.add1("str", i, grammar.KindString, func(a Value) (Value, error) {
		return strconv.FormatInt(a.(int64), 10), nil
	})
}
