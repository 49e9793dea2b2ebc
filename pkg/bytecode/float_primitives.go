package bytecode

import (
	"math"

	"github.com/chazu/fleet/grammar"
)

// ---------------------------------------------------------------------------
// Float Primitives
// ---------------------------------------------------------------------------

// finite turns NaN and infinities into a domain error, so that Invalid is
// the only non-number a float stack ever holds.
func finite(x float64) (Value, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil, ErrDomain
	}
	return x, nil
}

func (r *Registry) registerFloatPrimitives() {
	const f = grammar.KindFloat

	r.add2("+", f, f, f, func(a, b Value) (Value, error) {
		return finite(a.(float64) + b.(float64))
	})

	r.add2("-", f, f, f, func(a, b Value) (Value, error) {
		return finite(a.(float64) - b.(float64))
	})

	r.add2("*", f, f, f, func(a, b Value) (Value, error) {
		return finite(a.(float64) * b.(float64))
	})

	r.add2("/", f, f, f, func(a, b Value) (Value, error) {
		if b.(float64) == 0 {
			return nil, ErrDivisionByZero
		}
		return finite(a.(float64) / b.(float64))
	})

	r.add1("neg", f, f, func(a Value) (Value, error) {
		return -a.(float64), nil
	})

	r.add1("exp", f, f, func(a Value) (Value, error) {
		return finite(math.Exp(a.(float64)))
	})

	r.add1("log", f, f, func(a Value) (Value, error) {
		if a.(float64) <= 0 {
			return nil, ErrDomain
		}
		return math.Log(a.(float64)), nil
	})

	r.add1("sqrt", f, f, func(a Value) (Value, error) {
		if a.(float64) < 0 {
			return nil, ErrDomain
		}
		return math.Sqrt(a.(float64)), nil
	})

	r.add2("pow", f, f, f, func(a, b Value) (Value, error) {
		return finite(math.Pow(a.(float64), b.(float64)))
	})

	r.add2("=", f, f, grammar.KindBool, func(a, b Value) (Value, error) {
		return a.(float64) == b.(float64), nil
	})

	r.add2("<", f, f, grammar.KindBool, func(a, b Value) (Value, error) {
		return a.(float64) < b.(float64), nil
	})

	r.add1("round", f, grammar.KindInt, func(a Value) (Value, error) {
		x := math.Round(a.(float64))
		if x < math.MinInt64 || x >= math.MaxInt64 {
			return nil, ErrDomain
		}
		return int64(x), nil
	})
}
