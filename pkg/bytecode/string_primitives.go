package bytecode

import (
	"strings"
	"unicode/utf8"

	"github.com/chazu/fleet/grammar"
)

// ---------------------------------------------------------------------------
// String Primitives
// ---------------------------------------------------------------------------

// Strings are treated as sequences of runes.
func (r *Registry) registerStringPrimitives() {
	const s = grammar.KindString

	r.add0("empty", s, func() (Value, error) {
		return "", nil
	})

	r.add2("concat", s, s, s, func(a, b Value) (Value, error) {
		return a.(string) + b.(string), nil
	})

	r.add2("+", s, s, s, func(a, b Value) (Value, error) {
		return a.(string) + b.(string), nil
	})

	r.add1("head", s, s, func(a Value) (Value, error) {
		c, n := utf8.DecodeRuneInString(a.(string))
		if n == 0 {
			return nil, ErrDomain
		}
		return string(c), nil
	})

	r.add1("tail", s, s, func(a Value) (Value, error) {
		_, n := utf8.DecodeRuneInString(a.(string))
		if n == 0 {
			return nil, ErrDomain
		}
		return a.(string)[n:], nil
	})

	r.add1("reverse", s, s, func(a Value) (Value, error) {
		rs := []rune(a.(string))
		for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
			rs[i], rs[j] = rs[j], rs[i]
		}
		return string(rs), nil
	})

	r.add1("len", s, grammar.KindInt, func(a Value) (Value, error) {
		return int64(utf8.RuneCountInString(a.(string))), nil
	})

	r.add2("=", s, s, grammar.KindBool, func(a, b Value) (Value, error) {
		return a.(string) == b.(string), nil
	})

	r.add2("contains", s, s, grammar.KindBool, func(a, b Value) (Value, error) {
		return strings.Contains(a.(string), b.(string)), nil
	})

	r.add2("prefix", s, s, grammar.KindBool, func(a, b Value) (Value, error) {
		return strings.HasPrefix(a.(string), b.(string)), nil
	})

	r.add1("empty?", s, grammar.KindBool, func(a Value) (Value, error) {
		return a.(string) == "", nil
	})
}
