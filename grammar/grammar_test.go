package grammar

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/fleet/stats"
)

// additionGrammar is N -> 0 | (+ N N) with the given weights.
func additionGrammar(t *testing.T, leaf, plus float64) (*Grammar, Nonterminal) {
	t.Helper()
	b := NewBuilder()
	n := b.Nonterminal("N", KindInt)
	b.Primitive(n, "+", "+", plus, n, n)
	b.Const(n, "0", int64(0), leaf)
	g, err := b.Build(Options{Start: n})
	require.NoError(t, err)
	return g, n
}

// typedGrammar has an int and a bool nonterminal connected by if and <.
func typedGrammar(t *testing.T) (*Grammar, Nonterminal, Nonterminal) {
	t.Helper()
	b := NewBuilder()
	n := b.Nonterminal("int", KindInt)
	c := b.Nonterminal("bool", KindBool)
	b.Const(n, "0", int64(0), 1)
	b.Const(n, "1", int64(1), 1)
	b.Add(RuleSpec{NT: n, Op: OpInput, Tag: "x"})
	b.Primitive(n, "+", "+", 1, n, n)
	b.Primitive(n, "-", "-", 1, n, n)
	b.Add(RuleSpec{NT: n, Op: OpIf, Tag: "if", Args: []Nonterminal{c, n, n}})
	b.Primitive(c, "<", "<", 1, n, n)
	b.Const(c, "true", true, 1)
	g, err := b.Build(Options{Start: n, MaxDepth: 16})
	require.NoError(t, err)
	return g, n, c
}

func TestBuildOrdersRules(t *testing.T) {
	g, n := additionGrammar(t, 1, 1)

	require.Equal(t, 2, g.RuleCount(n))
	r0, err := g.GetRule(n, 0)
	require.NoError(t, err)
	assert.Equal(t, "0", r0.Tag)
	assert.Equal(t, 0, r0.Index)
	r1, err := g.GetRule(n, 1)
	require.NoError(t, err)
	assert.Equal(t, "+", r1.Tag)
	assert.Equal(t, "(+ %s %s)", r1.Format)
	assert.Equal(t, 2.0, g.Normalizer(n))
	assert.Equal(t, 1, g.CountTerminals(n))
}

func TestBuildOrdersByWeightAfterTerminals(t *testing.T) {
	b := NewBuilder()
	n := b.Nonterminal("N", KindInt)
	b.Primitive(n, "a", "+", 1, n, n)
	b.Primitive(n, "b", "+", 5, n, n)
	b.Const(n, "z", int64(3), 0.5)
	b.Const(n, "y", int64(2), 2)
	g, err := b.Build(Options{Start: n})
	require.NoError(t, err)

	var tags []string
	for r := range g.AllRules() {
		tags = append(tags, r.Tag)
	}
	assert.Equal(t, []string{"y", "z", "b", "a"}, tags)
}

func TestGetRuleOutOfRange(t *testing.T) {
	g, n := additionGrammar(t, 1, 1)

	_, err := g.GetRule(n, 2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = g.GetRule(n, -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = g.GetRule(Nonterminal(7), 0)
	assert.ErrorIs(t, err, ErrUnknownNonterminal)
}

func TestLeafLogProbability(t *testing.T) {
	g, n := additionGrammar(t, 1, 1)

	leaf, err := g.ParseSExpr(n, "0")
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.5), g.LogProbability(leaf), 1e-12)

	plus, err := g.ParseSExpr(n, "(+ 0 0)")
	require.NoError(t, err)
	assert.InDelta(t, 3*math.Log(0.5), g.LogProbability(plus), 1e-12)
	assert.Equal(t, "(+ 0 0)", plus.String())
}

func TestLogProbabilityIsDeterministic(t *testing.T) {
	g, n := additionGrammar(t, 2, 1)
	rng := rand.New(rand.NewPCG(7, 11))
	for range 50 {
		tree, err := g.GenerateRetry(rng, n)
		require.NoError(t, err)
		reparsed, err := g.ParseSExpr(n, tree.String())
		require.NoError(t, err)
		assert.Equal(t, g.LogProbability(tree), g.LogProbability(reparsed))
		assert.Equal(t, g.LogProbability(tree), g.LogProbability(tree.Clone()))
	}
}

func TestPriorFrequencyAtRoot(t *testing.T) {
	g, n := additionGrammar(t, 2, 1)
	rng := rand.New(rand.NewPCG(1, 2))

	const samples = 20000
	leaves := 0
	for range samples {
		tree, err := g.GenerateRetry(rng, n)
		require.NoError(t, err)
		if tree.IsLeaf() {
			leaves++
		}
	}
	// Binomial standard deviation is about 0.0033 here.
	assert.InDelta(t, 2.0/3.0, float64(leaves)/samples, 0.02)
}

func TestGenerateDepthExceeded(t *testing.T) {
	b := NewBuilder()
	n := b.Nonterminal("N", KindInt)
	b.Add(RuleSpec{NT: n, Tag: "s", Op: OpPrimitive, Primitive: "neg", Args: []Nonterminal{n}})
	g, err := b.Build(Options{Start: n, MaxDepth: 5})
	require.NoError(t, err)
	assert.Nil(t, g.MinimalTree(n))

	st := stats.New()
	s := NewSampler(g, rand.New(rand.NewPCG(1, 1)), st)
	_, err = s.Generate(n)
	assert.ErrorIs(t, err, ErrDepthExceeded)

	_, err = s.GenerateRetry(n)
	assert.ErrorIs(t, err, ErrGenerateRetriesFailed)
	assert.Equal(t, float64(GenerateRetries+1), testutil.ToFloat64(st.DepthExceptions))
	assert.Equal(t, 0.0, testutil.ToFloat64(st.TreesGenerated))
}

func TestGenerateRespectsTypes(t *testing.T) {
	g, n, _ := typedGrammar(t)
	st := stats.New()
	s := NewSampler(g, rand.New(rand.NewPCG(3, 4)), st)
	for range 200 {
		tree, err := s.GenerateRetry(n)
		require.NoError(t, err)
		require.NoError(t, tree.Validate())
		assert.True(t, tree.IsComplete())
		assert.LessOrEqual(t, tree.Depth(), g.MaxDepth())
	}
	assert.Equal(t, 200.0, testutil.ToFloat64(st.TreesGenerated))
}

func TestParseErrors(t *testing.T) {
	g, n := additionGrammar(t, 1, 1)

	tests := []struct {
		name string
		src  string
		pos  int
	}{
		{"unknown tag", "(+ 0 q)", 3},
		{"too few arguments", "(+ 0)", 3},
		{"too many arguments", "(+ 0 0 0)", 4},
		{"trailing tokens", "0 0", 1},
		{"empty", "", -1},
		{"unclosed", "(+ 0 0", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.ParseSExpr(n, tt.src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParse)
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.pos, pe.Pos)
		})
	}
}

func TestParseWithoutParens(t *testing.T) {
	g, n := additionGrammar(t, 1, 1)

	a, err := g.ExpandFromNames(n, []string{"+", "0", "+", "0", "0"})
	require.NoError(t, err)
	b, err := g.ParseSExpr(n, "(+ 0 (+ 0 0))")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.Equal(t, 5, a.Size())
	assert.Equal(t, 3, a.Depth())
}

func TestParseTypedTree(t *testing.T) {
	g, n, c := typedGrammar(t)

	tree, err := g.ParseSExpr(n, "(if (< x 1) 0 (+ x 1))")
	require.NoError(t, err)
	require.NoError(t, tree.Validate())
	assert.Equal(t, c, tree.Children[0].NT())
	assert.Equal(t, "(if (< x 1) 0 (+ x 1))", tree.String())

	_, err = g.ParseSExpr(n, "(if 0 0 0)")
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseableRoundTrip(t *testing.T) {
	g, n, _ := typedGrammar(t)

	tree, err := g.ParseSExpr(n, "(if (< x 1) 0 (+ x 1))")
	require.NoError(t, err)
	s := tree.Parseable()
	assert.Equal(t, "int:if;bool:<;int:x;int:1;int:0;int:+;int:x;int:1", s)

	back, err := g.FromParseable(s)
	require.NoError(t, err)
	assert.True(t, tree.Equal(back))

	_, err = g.FromParseable("int:if;bool:true")
	assert.ErrorIs(t, err, ErrParse)
	_, err = g.FromParseable("int:0;int:0")
	assert.ErrorIs(t, err, ErrParse)
	_, err = g.FromParseable("int:+;bool:true;int:0")
	assert.ErrorIs(t, err, ErrParse)
}

func TestRuleByTagPrefix(t *testing.T) {
	b := NewBuilder()
	n := b.Nonterminal("N", KindInt)
	b.Const(n, "zero", int64(0), 1)
	b.Const(n, "one", int64(1), 1)
	b.Const(n, "only", int64(1), 1)
	g, err := b.Build(Options{Start: n})
	require.NoError(t, err)

	r, err := g.RuleByTag(n, "z")
	require.NoError(t, err)
	assert.Equal(t, "zero", r.Tag)

	r, err = g.RuleByTag(n, "one")
	require.NoError(t, err)
	assert.Equal(t, "one", r.Tag)

	_, err = g.RuleByTag(n, "o")
	assert.Error(t, err)
	_, err = g.RuleByTag(n, "two")
	assert.Error(t, err)
}

func TestNeighbors(t *testing.T) {
	g, n := additionGrammar(t, 1, 1)

	leaf, err := g.ParseSExpr(n, "0")
	require.NoError(t, err)
	var got []string
	for nb := range g.Neighbors(leaf) {
		got = append(got, nb.String())
	}
	assert.Equal(t, []string{"(+ 0 0)"}, got)

	plus, err := g.ParseSExpr(n, "(+ 0 (+ 0 0))")
	require.NoError(t, err)
	got = got[:0]
	for nb := range g.Neighbors(plus) {
		require.NoError(t, nb.Validate())
		got = append(got, nb.String())
	}
	assert.Equal(t, []string{
		"0",
		"(+ (+ 0 0) (+ 0 0))",
		"(+ 0 0)",
		"(+ 0 (+ (+ 0 0) 0))",
		"(+ 0 (+ 0 (+ 0 0)))",
	}, got)
	assert.Equal(t, len(got), g.NeighborCount(plus))
	assert.Equal(t, "(+ 0 (+ 0 0))", plus.String(), "neighbors must not modify the input")

	var again []string
	for nb := range g.Neighbors(plus) {
		again = append(again, nb.String())
	}
	assert.Equal(t, got, again)
}

func TestNeighborsKeepCompatibleChildren(t *testing.T) {
	g, n, _ := typedGrammar(t)

	tree, err := g.ParseSExpr(n, "(+ x 1)")
	require.NoError(t, err)
	var got []string
	for nb := range g.Neighbors(tree) {
		got = append(got, nb.String())
	}
	assert.Contains(t, got, "(- x 1)")
	assert.Contains(t, got, "(if true 1 0)")
	assert.Contains(t, got, "(+ 0 1)")
	assert.Contains(t, got, "(+ x x)")
}

func TestRegenerate(t *testing.T) {
	g, n, _ := typedGrammar(t)
	tree, err := g.ParseSExpr(n, "(+ x (- 1 1))")
	require.NoError(t, err)
	before := tree.String()

	s := NewSampler(g, rand.New(rand.NewPCG(5, 6)), nil)
	for range 20 {
		out, err := s.Regenerate(tree, 2)
		if errors.Is(err, ErrDepthExceeded) {
			continue
		}
		require.NoError(t, err)
		require.NoError(t, out.Validate())
		assert.Equal(t, "+", out.Rule.Tag)
		assert.Equal(t, "x", out.Children[0].Rule.Tag)
	}
	assert.Equal(t, before, tree.String())

	_, err = s.Regenerate(tree, 99)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestRuleCounts(t *testing.T) {
	g, n := additionGrammar(t, 1, 1)
	tree, err := g.ParseSExpr(n, "(+ 0 (+ 0 0))")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, g.RuleCounts(tree))
}

func TestMinimalTree(t *testing.T) {
	g, n, c := typedGrammar(t)
	assert.Equal(t, "0", g.MinimalTree(n).String())
	assert.Equal(t, "true", g.MinimalTree(c).String())
}

func TestBuilderRejects(t *testing.T) {
	tests := []struct {
		name string
		add  func(b *Builder, n, c Nonterminal)
	}{
		{"bad constant kind", func(b *Builder, n, c Nonterminal) {
			b.Const(n, "half", 0.5, 1)
		}},
		{"format placeholders", func(b *Builder, n, c Nonterminal) {
			b.Add(RuleSpec{NT: n, Tag: "f", Format: "f(%s)", Args: []Nonterminal{n, n}})
		}},
		{"reserved tag", func(b *Builder, n, c Nonterminal) {
			b.Const(n, "a b", int64(1), 1)
		}},
		{"negative weight", func(b *Builder, n, c Nonterminal) {
			b.Const(n, "k", int64(1), -1)
		}},
		{"zero weight", func(b *Builder, n, c Nonterminal) {
			b.Primitive(n, "+", "+", 0, n, n)
		}},
		{"NaN weight", func(b *Builder, n, c Nonterminal) {
			b.Const(n, "k", int64(1), math.NaN())
		}},
		{"NaN constant", func(b *Builder, n, c Nonterminal) {
			f := b.Nonterminal("float", KindFloat)
			b.Const(f, "nan", math.NaN(), 1)
		}},
		{"infinite constant", func(b *Builder, n, c Nonterminal) {
			f := b.Nonterminal("float", KindFloat)
			b.Const(f, "inf", math.Inf(1), 1)
		}},
		{"if shape", func(b *Builder, n, c Nonterminal) {
			b.Add(RuleSpec{NT: n, Op: OpIf, Tag: "if", Args: []Nonterminal{n, n, n}})
		}},
		{"and shape", func(b *Builder, n, c Nonterminal) {
			b.Add(RuleSpec{NT: c, Op: OpAnd, Tag: "and", Args: []Nonterminal{c, n}})
		}},
		{"recursion output", func(b *Builder, n, c Nonterminal) {
			b.Add(RuleSpec{NT: c, Op: OpRecurse, Tag: "rec", Args: []Nonterminal{n}})
		}},
		{"unknown argument", func(b *Builder, n, c Nonterminal) {
			b.Primitive(n, "+", "+", 1, n, Nonterminal(9))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			n := b.Nonterminal("int", KindInt)
			c := b.Nonterminal("bool", KindBool)
			b.Const(n, "0", int64(0), 1)
			tt.add(b, n, c)
			_, err := b.Build(Options{Start: n})
			assert.Error(t, err)
		})
	}
}

func TestBuilderBuildsOnce(t *testing.T) {
	b := NewBuilder()
	n := b.Nonterminal("N", KindInt)
	b.Const(n, "0", int64(0), 1)
	_, err := b.Build(Options{Start: n})
	require.NoError(t, err)
	_, err = b.Build(Options{Start: n})
	assert.Error(t, err)
}

func TestUnsetWeightDefaultsToOne(t *testing.T) {
	b := NewBuilder()
	n := b.Nonterminal("N", KindInt)
	b.Add(RuleSpec{NT: n, Tag: "0", Op: OpConst, Const: int64(0)})
	b.Const(n, "1", int64(1), 3)
	g, err := b.Build(Options{Start: n})
	require.NoError(t, err)

	weights := map[string]float64{}
	for _, r := range g.Rules(n) {
		weights[r.Tag] = r.Weight
	}
	assert.Equal(t, map[string]float64{"0": 1, "1": 3}, weights)
}
