package stats

import (
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := New()
	require.NotEqual(t, uuid.Nil, c.RunID())

	c.TreeGenerated()
	c.TreeGenerated()
	c.DepthExceeded()
	c.MemoHit()
	c.MemoMiss()
	c.MemoMiss()
	c.BudgetAbort(BudgetSteps)
	c.RunFinished("completed", 3)
	c.RunFinished("completed", 5)
	c.RunFinished("aborted", 10)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.TreesGenerated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DepthExceptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MemoHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.MemoMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BudgetAborts.WithLabelValues(BudgetSteps)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.BudgetAborts.WithLabelValues(BudgetDepth)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Runs.WithLabelValues("completed")))
	assert.Equal(t, 18.0, testutil.ToFloat64(c.Instructions))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.TreeGenerated()

	assert.NotEqual(t, a.RunID(), b.RunID())
	assert.Equal(t, 1.0, testutil.ToFloat64(a.TreesGenerated))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TreesGenerated))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.TreeGenerated()
		c.DepthExceeded()
		c.TreeDecoded()
		c.RunFinished("completed", 1)
		c.MemoHit()
		c.MemoMiss()
		c.BudgetAbort(BudgetDepth)
		c.ContractViolation()
		c.Fork()
	})
	assert.Equal(t, uuid.Nil, c.RunID())
	assert.Nil(t, c.Registry())
}

func TestRegistryGathers(t *testing.T) {
	c := New()
	c.TreeDecoded()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
