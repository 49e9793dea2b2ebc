package bytecode

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/fleet/grammar"
)

func ops(p *Program) []Opcode {
	out := make([]Opcode, len(p.Code))
	for i, ins := range p.Code {
		out[i] = ins.Op
	}
	return out
}

func TestCompilePostOrder(t *testing.T) {
	tg := newTestGrammar(t)
	p := tg.compile(t, "(+ 0 (- x 1))")

	assert.Equal(t, []Opcode{OpConst, OpInput, OpConst, OpPrimitive, OpPrimitive}, ops(p))
	assert.Equal(t, []int{1, 3, 4, 2, 0}, []int{p.Code[0].Node, p.Code[1].Node, p.Code[2].Node, p.Code[3].Node, p.Code[4].Node})
	assert.Equal(t, grammar.KindInt, p.Output)
	assert.Equal(t, grammar.KindInt, p.Input)
	assert.Equal(t, "(+ 0 (- x 1))", p.Source)
	assert.False(t, p.Recursive)
	assert.False(t, p.Random)

	require.Len(t, p.Primitives, 2)
	assert.Equal(t, "-", p.Primitives[p.Code[3].Arg].Name)
	assert.Equal(t, "+", p.Primitives[p.Code[4].Arg].Name)
}

func TestCompileConstantsAreShared(t *testing.T) {
	tg := newTestGrammar(t)
	p := tg.compile(t, "(+ 1 (+ 1 1))")
	assert.Equal(t, []Value{int64(1)}, p.Constants)
	assert.Len(t, p.Primitives, 1)
}

func TestCompileIfLayout(t *testing.T) {
	tg := newTestGrammar(t)
	p := tg.compile(t, "(if true 1 0)")

	require.Equal(t, []Opcode{OpConst, OpIf, OpConst, OpJump, OpConst}, ops(p))
	assert.Equal(t, 2, p.Code[1].Arg, "false jumps to the else branch")
	assert.Equal(t, 3, p.Code[1].Skip, "invalid jumps past the conditional")
	assert.Equal(t, 1, p.Code[3].Arg, "then jumps past the else branch")
	assert.Equal(t, []grammar.Kind{grammar.KindBool}, p.Code[1].In)
	assert.Equal(t, grammar.KindInt, p.Code[1].Out)
}

func TestCompileShortCircuitLayout(t *testing.T) {
	tg := newTestGrammar(t)
	p := tg.compileAs(t, tg.b, "(and true (< 1 x))")

	require.Equal(t, []Opcode{OpConst, OpAnd, OpConst, OpInput, OpPrimitive}, ops(p))
	assert.Equal(t, 3, p.Code[1].Arg)
	assert.Equal(t, grammar.KindBool, p.Output)

	p = tg.compileAs(t, tg.b, "(or false true)")
	assert.Equal(t, []Opcode{OpConst, OpOr, OpConst}, ops(p))
}

func TestCompileFlags(t *testing.T) {
	tg := newTestGrammar(t)

	p := tg.compile(t, "(rec x)")
	assert.True(t, p.Recursive)
	assert.Equal(t, OpRecurse, p.Code[1].Op)
	assert.Equal(t, 0, p.Code[1].Arg)

	p = tg.compile(t, "(call1 (mem x))")
	assert.Equal(t, []Opcode{OpInput, OpMemRecurse, OpRecurse}, ops(p))
	assert.Equal(t, 1, p.Code[2].Arg)

	p = tg.compile(t, "(if (flipp 0.25) 1 0)")
	assert.True(t, p.Random)
	assert.Equal(t, OpFlipP, p.Code[1].Op)
}

func TestCompileResolvesOverloads(t *testing.T) {
	tg := newTestGrammar(t)
	p := tg.compile(t, "(round (+ 0.25 0.25))")
	require.Len(t, p.Primitives, 2)
	assert.Equal(t, []grammar.Kind{grammar.KindFloat, grammar.KindFloat}, p.Primitives[0].In)
	assert.Equal(t, grammar.KindFloat, p.Primitives[0].Out)
}

func TestCompileErrors(t *testing.T) {
	b := grammar.NewBuilder()
	n := b.Nonterminal("int", grammar.KindInt)
	b.Const(n, "0", int64(0), 1)
	b.Primitive(n, "frob", "frobnicate", 1, n)
	g, err := b.Build(grammar.Options{Start: n})
	require.NoError(t, err)

	tree, err := g.ParseSExpr(n, "(frob 0)")
	require.NoError(t, err)
	_, err = Compile(g, tree)
	assert.ErrorIs(t, err, ErrUnknownPrimitive)

	tree.Children[0] = nil
	_, err = Compile(g, tree)
	assert.Error(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.Register(&Primitive{
		Name: "frobnicate",
		In:   []grammar.Kind{grammar.KindInt},
		Out:  grammar.KindInt,
		Fn:   func(args []Value) (Value, error) { return args[0].(int64) * 3, nil },
	}))
	tree, err = g.ParseSExpr(n, "(frob (frob 0))")
	require.NoError(t, err)
	p, err := NewCompiler(g, reg).Compile(tree)
	require.NoError(t, err)
	v, err := NewMachine().Run(p, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestProgramValidate(t *testing.T) {
	tg := newTestGrammar(t)
	p := tg.compile(t, "(if true 1 0)")
	require.NoError(t, p.Validate())

	p.Code[3].Arg = 5
	assert.Error(t, p.Validate())

	p = tg.compile(t, "(if true 1 0)")
	p.Code[1].Skip = 1
	assert.Error(t, p.Validate())

	p = tg.compile(t, "1")
	p.Code[0].Arg = 3
	assert.Error(t, p.Validate())
}

func TestGeneratedTreesNeverViolateContracts(t *testing.T) {
	tg := newTestGrammar(t)
	r := rand.New(rand.NewPCG(4, 2))
	for range 300 {
		tree, err := tg.g.GenerateRetry(r, tg.n)
		require.NoError(t, err)
		p, err := Compile(tg.g, tree)
		require.NoError(t, err, "%s", tree)
		require.NoError(t, p.Validate())

		m := NewMachine()
		m.StepBudget = 500
		m.DepthBudget = 8
		m.Loader = Lexicon{p, p}
		m.Rand = rand.New(rand.NewPCG(1, 1))
		_, err = m.Run(p, int64(3))
		if err != nil {
			assert.True(t, IsRecoverable(err), "%s: %v", tree, err)
		}
	}
}
