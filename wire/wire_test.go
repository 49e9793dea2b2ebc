package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/fleet/grammar"
)

func testGrammar(t *testing.T) (*grammar.Grammar, grammar.Nonterminal) {
	t.Helper()
	b := grammar.NewBuilder()
	n := b.Nonterminal("int", grammar.KindInt)
	c := b.Nonterminal("bool", grammar.KindBool)
	b.Const(n, "0", int64(0), 1)
	b.Const(n, "1", int64(1), 1)
	b.Primitive(n, "+", "+", 1, n, n)
	b.Add(grammar.RuleSpec{NT: n, Op: grammar.OpIf, Tag: "if", Args: []grammar.Nonterminal{c, n, n}})
	b.Const(c, "true", true, 1)
	b.Const(c, "false", false, 1)
	g, err := b.Build(grammar.Options{Start: n})
	require.NoError(t, err)
	return g, n
}

func TestTreeRoundTrip(t *testing.T) {
	g, n := testGrammar(t)
	tree, err := g.ParseSExpr(n, "(+ 1 (if true 0 (+ 1 1)))")
	require.NoError(t, err)

	data, err := MarshalTree(tree)
	require.NoError(t, err)

	back, err := UnmarshalTree(g, data)
	require.NoError(t, err)
	assert.True(t, tree.Equal(back))
	assert.Equal(t, tree.String(), back.String())
}

func TestTreeEncodingIsDeterministic(t *testing.T) {
	g, n := testGrammar(t)
	a, err := g.ParseSExpr(n, "(+ 0 1)")
	require.NoError(t, err)
	b, err := g.ParseSExpr(n, "(+ 0 1)")
	require.NoError(t, err)

	da, err := MarshalTree(a)
	require.NoError(t, err)
	db, err := MarshalTree(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestTreeRejectsTampering(t *testing.T) {
	g, n := testGrammar(t)
	tree, err := g.ParseSExpr(n, "(+ 0 1)")
	require.NoError(t, err)

	m, err := NewTreeMessage(tree)
	require.NoError(t, err)
	m.Nodes[2].Tag = "0"
	_, err = m.Tree(g)
	assert.ErrorContains(t, err, "hash mismatch")
}

func TestTreeRejectsMalformedMessages(t *testing.T) {
	g, n := testGrammar(t)
	tree, err := g.ParseSExpr(n, "(+ 0 1)")
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		m, err := NewTreeMessage(tree)
		require.NoError(t, err)
		m.Nodes = m.Nodes[:2]
		_, err = m.Tree(g)
		assert.ErrorContains(t, err, "truncated")
	})

	t.Run("trailing", func(t *testing.T) {
		m, err := NewTreeMessage(tree)
		require.NoError(t, err)
		m.Nodes = append(m.Nodes, NodeMessage{NT: "int", Tag: "0"})
		_, err = m.Tree(g)
		assert.ErrorContains(t, err, "trailing")
	})

	t.Run("wrong type", func(t *testing.T) {
		m, err := NewTreeMessage(tree)
		require.NoError(t, err)
		m.Nodes[1] = NodeMessage{NT: "bool", Tag: "true"}
		_, err = m.Tree(g)
		assert.ErrorIs(t, err, grammar.ErrTypeMismatch)
	})

	t.Run("unknown rule", func(t *testing.T) {
		m, err := NewTreeMessage(tree)
		require.NoError(t, err)
		m.Nodes[1].Tag = "7"
		_, err = m.Tree(g)
		assert.Error(t, err)
	})

	t.Run("version", func(t *testing.T) {
		m, err := NewTreeMessage(tree)
		require.NoError(t, err)
		m.Version = TreeVersion + 1
		_, err = m.Tree(g)
		assert.ErrorContains(t, err, "unsupported tree version")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := UnmarshalTree(g, []byte{0xff, 0x00})
		assert.Error(t, err)
	})
}

func TestIncompleteTreeIsRejected(t *testing.T) {
	g, n := testGrammar(t)
	tree, err := g.ParseSExpr(n, "(+ 0 1)")
	require.NoError(t, err)
	tree.Children[1] = nil
	_, err = MarshalTree(tree)
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	a, err := Key([]any{int64(1), "x", true})
	require.NoError(t, err)
	b, err := Key([]any{int64(1), "x", true})
	require.NoError(t, err)
	c, err := Key([]any{int64(2), "x", true})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	m1, err := Key(map[string]int{"a": 1, "b": 2})
	require.NoError(t, err)
	m2, err := Key(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}

func TestMarshalUnmarshal(t *testing.T) {
	type pair struct {
		A int64
		B string
	}
	data, err := Marshal(pair{A: 3, B: "q"})
	require.NoError(t, err)
	var p pair
	require.NoError(t, Unmarshal(data, &p))
	assert.Equal(t, pair{A: 3, B: "q"}, p)
	assert.Error(t, Unmarshal([]byte{0xff}, &p))
}
