package worker

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/fleet/grammar"
	"github.com/chazu/fleet/hash"
	"github.com/chazu/fleet/manifest"
	"github.com/chazu/fleet/pkg/bytecode"
	"github.com/chazu/fleet/stats"
)

func testGrammar(t *testing.T) *grammar.Grammar {
	t.Helper()
	g, err := manifest.Default().BuildGrammar()
	require.NoError(t, err)
	return g
}

func parse(t *testing.T, g *grammar.Grammar, src string) *grammar.Node {
	t.Helper()
	n, err := g.ParseSExpr(g.Start(), src)
	require.NoError(t, err)
	return n
}

func TestRunKeepsRequestOrder(t *testing.T) {
	g := testGrammar(t)
	st := stats.New()
	pool := New(g, Config{Workers: 3}, nil, st)

	var reqs []Request
	for i := range int64(20) {
		reqs = append(reqs, Request{Tree: parse(t, g, "(+ x 1)"), Input: i})
	}
	results, err := pool.Run(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, int64(i+1), r.Value)
		assert.Equal(t, bytecode.StatusCompleted, r.Status)
		assert.Equal(t, 3, r.Steps)
		assert.Equal(t, reqs[i].ID, r.ID)
		assert.NotEqual(t, uuid.Nil, r.ID)
	}
	assert.Equal(t, 1, pool.Cached())
	assert.Equal(t, hash.HashTree(reqs[0].Tree), results[0].Hash)
}

func TestRunReportsPerRequestErrors(t *testing.T) {
	g := testGrammar(t)
	pool := New(g, Config{Workers: 2, DepthBudget: 4}, nil, nil)

	broken := parse(t, g, "(+ x 1)")
	broken.Children = broken.Children[:1]

	results, err := pool.Run(context.Background(), []Request{
		{Tree: parse(t, g, "(rec x)"), Input: int64(0)},
		{Tree: nil},
		{Tree: broken},
		{Tree: parse(t, g, "x"), Input: "wrong kind"},
		{Tree: parse(t, g, "(* x x)"), Input: int64(7)},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, results[0].Err, bytecode.ErrDepthBudgetExceeded)
	assert.Equal(t, bytecode.StatusAborted, results[0].Status)
	assert.Error(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, grammar.ErrMalformedTree)
	assert.True(t, bytecode.IsContractViolation(results[3].Err))
	assert.Equal(t, bytecode.StatusErrored, results[3].Status)
	require.NoError(t, results[4].Err)
	assert.Equal(t, int64(49), results[4].Value)
}

func TestRunIsDeterministicAcrossWorkerCounts(t *testing.T) {
	g := testGrammar(t)
	r := rand.New(rand.NewPCG(9, 9))

	var reqs []Request
	for range 100 {
		tree, err := g.GenerateRetry(r, g.Start())
		require.NoError(t, err)
		reqs = append(reqs, Request{Tree: tree, Input: int64(5)})
	}

	run := func(workers int) []Result {
		rs := make([]Request, len(reqs))
		copy(rs, reqs)
		pool := New(g, Config{Workers: workers, Seed: 42, StepBudget: 2000, DepthBudget: 10}, nil, nil)
		results, err := pool.Run(context.Background(), rs)
		require.NoError(t, err)
		return results
	}

	one, many := run(1), run(8)
	for i := range one {
		assert.Equal(t, one[i].Value, many[i].Value, "request %d: %s", i, reqs[i].Tree)
		assert.Equal(t, one[i].Steps, many[i].Steps, "request %d", i)
		assert.Equal(t, one[i].Status, many[i].Status, "request %d", i)
	}
}

func TestRunDistribution(t *testing.T) {
	g := testGrammar(t)
	st := stats.New()
	pool := New(g, Config{Workers: 2}, nil, st)

	results, err := pool.Run(context.Background(), []Request{
		{Tree: parse(t, g, "(if flip 1 0)"), Distribution: true},
		{Tree: parse(t, g, "(if flip 1 0)")},
	})
	require.NoError(t, err)

	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Dist)
	assert.InDelta(t, 0.5, math.Exp(results[0].Dist.LogProb(int64(1))), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(st.Forks))

	require.NoError(t, results[1].Err)
	assert.Contains(t, []any{int64(0), int64(1)}, results[1].Value)
}

func TestRunCancelled(t *testing.T) {
	g := testGrammar(t)
	pool := New(g, Config{Workers: 2}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reqs := make([]Request, 50)
	for i := range reqs {
		reqs[i] = Request{Tree: parse(t, g, "x"), Input: int64(i)}
	}
	results, err := pool.Run(ctx, reqs)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 50)

	unstarted := 0
	for _, r := range results {
		if errors.Is(r.Err, context.Canceled) {
			unstarted++
		}
	}
	assert.Positive(t, unstarted)
}

func TestNewAppliesDefaults(t *testing.T) {
	pool := New(testGrammar(t), Config{}, nil, nil)
	assert.Equal(t, DefaultWorkers, pool.Workers())
	assert.Equal(t, bytecode.DefaultStepBudget, pool.cfg.StepBudget)
	assert.True(t, math.IsInf(pool.cfg.MinLP, -1))
}
