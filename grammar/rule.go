package grammar

import (
	"fmt"
	"strings"
)

// ChildPlaceholder marks where a child's string is substituted into a
// rule's format.
const ChildPlaceholder = "%s"

// Nonterminal identifies a type category in a grammar. Values are dense
// indexes assigned in declaration order by the Builder.
type Nonterminal int

// Kind is the value kind carried by a nonterminal's stack at run time.
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
)

// String returns the kind name used in configuration files.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ParseKind converts a configuration name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "int", "integer":
		return KindInt, nil
	case "float", "double":
		return KindFloat, nil
	case "bool", "boolean":
		return KindBool, nil
	case "string", "str":
		return KindString, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

// Op says how a rule is executed by the virtual machine.
type Op uint8

const (
	OpPrimitive  Op = iota // call the named primitive on the children's values
	OpConst                // push Rule.Const
	OpInput                // push the current call's input
	OpIf                   // if(cond, then, else), short-circuit
	OpAnd                  // and(a, b), short-circuit
	OpOr                   // or(a, b), short-circuit
	OpNot                  // not(a)
	OpRecurse              // call sub-program Rule.Arg on the child's value
	OpMemRecurse           // memoized OpRecurse
	OpFlip                 // fair coin
	OpFlipP                // coin with weight given by the child
)

var opNames = map[Op]string{
	OpPrimitive:  "primitive",
	OpConst:      "const",
	OpInput:      "input",
	OpIf:         "if",
	OpAnd:        "and",
	OpOr:         "or",
	OpNot:        "not",
	OpRecurse:    "recurse",
	OpMemRecurse: "mem-recurse",
	OpFlip:       "flip",
	OpFlipP:      "flipp",
}

// String returns the configuration name of an op.
func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", o)
}

// ParseOp converts a configuration name into an Op.
func ParseOp(s string) (Op, error) {
	for op, name := range opNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown op %q", s)
}

// Rule is one production of the grammar. Rules are created by a Builder
// and must not be modified after Build; a Rule's Index is load-bearing for
// enumeration and never changes.
type Rule struct {
	NT       Nonterminal   // nonterminal this rule produces
	NTName   string        // name of NT, for parseable output
	ArgTypes []Nonterminal // child nonterminals, in order
	Tag      string        // operator tag matched by the parser
	Format   string        // print format with one %s per child
	Weight   float64       // unnormalized probability

	Op        Op     // execution semantics
	Primitive string // primitive name when Op == OpPrimitive
	Const     any    // pushed value when Op == OpConst
	Arg       int    // sub-program index for recursion ops

	Index int     // stable position within NT's rule list
	order int     // declaration order, used as the final sort key
	lp    float64 // log(Weight / normalizer of NT)
}

// LogProb returns log(weight / normalizer) for this rule.
func (r *Rule) LogProb() float64 {
	return r.lp
}

// Arity returns the number of children.
func (r *Rule) Arity() int {
	return len(r.ArgTypes)
}

// IsTerminal reports whether the rule has no children.
func (r *Rule) IsTerminal() bool {
	return len(r.ArgTypes) == 0
}

// ArgType returns the nonterminal of the i'th child.
func (r *Rule) ArgType(i int) Nonterminal {
	return r.ArgTypes[i]
}

// String renders the rule for debugging.
func (r *Rule) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<%s -> %s :", r.NTName, r.Format)
	for _, t := range r.ArgTypes {
		fmt.Fprintf(&sb, " %d", t)
	}
	fmt.Fprintf(&sb, " w=%g>", r.Weight)
	return sb.String()
}

// less orders rules within a nonterminal: terminals first, then higher
// weight, then declaration order.
func (r *Rule) less(o *Rule) bool {
	if r.IsTerminal() != o.IsTerminal() {
		return r.IsTerminal()
	}
	if r.Weight != o.Weight {
		return r.Weight > o.Weight
	}
	return r.order < o.order
}

// defaultFormat builds "tag" or "(tag %s %s)".
func defaultFormat(tag string, arity int) string {
	if arity == 0 {
		return tag
	}
	return "(" + tag + strings.Repeat(" "+ChildPlaceholder, arity) + ")"
}
