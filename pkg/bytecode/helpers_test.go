package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/fleet/grammar"
)

// testGrammar is a small typed language: integer arithmetic with one
// integer input, comparisons, short-circuit booleans, coins, recursion,
// and a few float and string rules to exercise the other stacks.
type testGrammar struct {
	g          *grammar.Grammar
	n, b, f, s grammar.Nonterminal
}

func newTestGrammar(t testing.TB) *testGrammar {
	t.Helper()
	b := grammar.NewBuilder()
	n := b.Nonterminal("int", grammar.KindInt)
	c := b.Nonterminal("bool", grammar.KindBool)
	f := b.Nonterminal("float", grammar.KindFloat)
	s := b.Nonterminal("str", grammar.KindString)

	b.Const(n, "0", int64(0), 1)
	b.Const(n, "1", int64(1), 1)
	b.Const(n, "2", int64(2), 1)
	b.Add(grammar.RuleSpec{NT: n, Tag: "x", Op: grammar.OpInput})
	b.Primitive(n, "+", "+", 1, n, n)
	b.Primitive(n, "-", "-", 1, n, n)
	b.Primitive(n, "/", "/", 1, n, n)
	b.Primitive(n, "len", "len", 1, s)
	b.Primitive(n, "round", "round", 1, f)
	b.Add(grammar.RuleSpec{NT: n, Tag: "if", Op: grammar.OpIf, Args: []grammar.Nonterminal{c, n, n}})
	b.Add(grammar.RuleSpec{NT: n, Tag: "rec", Op: grammar.OpRecurse, Args: []grammar.Nonterminal{n}})
	b.Add(grammar.RuleSpec{NT: n, Tag: "mem", Op: grammar.OpMemRecurse, Args: []grammar.Nonterminal{n}})
	b.Add(grammar.RuleSpec{NT: n, Tag: "call1", Op: grammar.OpRecurse, Arg: 1, Args: []grammar.Nonterminal{n}})

	b.Const(c, "true", true, 1)
	b.Const(c, "false", false, 1)
	b.Primitive(c, "<", "<", 1, n, n)
	b.Primitive(c, "=", "=", 1, n, n)
	b.Add(grammar.RuleSpec{NT: c, Tag: "and", Op: grammar.OpAnd, Args: []grammar.Nonterminal{c, c}})
	b.Add(grammar.RuleSpec{NT: c, Tag: "or", Op: grammar.OpOr, Args: []grammar.Nonterminal{c, c}})
	b.Add(grammar.RuleSpec{NT: c, Tag: "not", Op: grammar.OpNot, Args: []grammar.Nonterminal{c}})
	b.Add(grammar.RuleSpec{NT: c, Tag: "flip", Op: grammar.OpFlip})
	b.Add(grammar.RuleSpec{NT: c, Tag: "flipp", Op: grammar.OpFlipP, Args: []grammar.Nonterminal{f}})

	b.Const(f, "0.25", 0.25, 1)
	b.Const(f, "1.5", 1.5, 1)
	b.Const(f, "0.0", 0.0, 1)
	b.Primitive(f, "/", "/", 1, f, f)
	b.Primitive(f, "+", "+", 1, f, f)

	b.Const(s, "hello", "hello", 1)
	b.Const(s, "nil", "", 1)
	b.Primitive(s, "head", "head", 1, s)

	g, err := b.Build(grammar.Options{Start: n})
	require.NoError(t, err)
	return &testGrammar{g: g, n: n, b: c, f: f, s: s}
}

// compile parses src as an int expression and compiles it.
func (tg *testGrammar) compile(t testing.TB, src string) *Program {
	t.Helper()
	return tg.compileAs(t, tg.n, src)
}

func (tg *testGrammar) compileAs(t testing.TB, nt grammar.Nonterminal, src string) *Program {
	t.Helper()
	tree, err := tg.g.ParseSExpr(nt, src)
	require.NoError(t, err)
	p, err := Compile(tg.g, tree)
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	return p
}

const (
	fibSource    = "(if (< x 2) x (+ (rec (- x 1)) (rec (- x 2))))"
	memFibSource = "(if (< x 2) x (+ (mem (- x 1)) (mem (- x 2))))"
)
