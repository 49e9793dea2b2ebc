package bytecode

import (
	"fmt"
	"strconv"

	"github.com/chazu/fleet/grammar"
)

// Value is a run-time value: an int64, float64, bool or string matching the
// kind of the stack it lives on, or an Invalid.
type Value = any

// Invalid is the sentinel pushed in place of a value when a primitive hits
// a domain error. Primitives, conditionals and recursion that receive an
// Invalid produce an Invalid without running.
type Invalid struct {
	Reason string
}

func (v Invalid) String() string {
	return "<invalid: " + v.Reason + ">"
}

// IsInvalid reports whether v is the Invalid sentinel.
func IsInvalid(v Value) bool {
	_, ok := v.(Invalid)
	return ok
}

// KindOf returns the kind of a valid value.
func KindOf(v Value) (grammar.Kind, bool) {
	switch v.(type) {
	case int64:
		return grammar.KindInt, true
	case float64:
		return grammar.KindFloat, true
	case bool:
		return grammar.KindBool, true
	case string:
		return grammar.KindString, true
	}
	return 0, false
}

// FormatValue renders a value the way the CLI prints results.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return strconv.Quote(x)
	case Invalid:
		return x.String()
	case nil:
		return "<nil>"
	}
	return fmt.Sprintf("%v", v)
}

// ParseValue reads a literal of the given kind, as typed on a command line.
func ParseValue(kind grammar.Kind, s string) (Value, error) {
	switch kind {
	case grammar.KindInt:
		return strconv.ParseInt(s, 10, 64)
	case grammar.KindFloat:
		return strconv.ParseFloat(s, 64)
	case grammar.KindBool:
		return strconv.ParseBool(s)
	case grammar.KindString:
		if u, err := strconv.Unquote(s); err == nil {
			return u, nil
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown kind %s", kind)
}
