// Package stats counts what happens during one run: trees generated and
// decoded, machine executions, memo traffic, budget aborts.
//
// A Collector owns a private Prometheus registry, so two runs in the same
// process never share counters. Every method is safe on a nil *Collector,
// which counts nothing; components take a collector as an explicit
// argument instead of touching package-level state.
package stats

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleet"

// Budget labels used by BudgetAbort.
const (
	BudgetSteps = "steps"
	BudgetDepth = "depth"
)

// Collector holds the counters for a single run.
type Collector struct {
	runID    uuid.UUID
	registry *prometheus.Registry

	TreesGenerated  prometheus.Counter
	DepthExceptions prometheus.Counter
	TreesDecoded    prometheus.Counter

	Runs               *prometheus.CounterVec // by final status
	Instructions       prometheus.Counter
	StepsPerRun        prometheus.Histogram
	MemoHits           prometheus.Counter
	MemoMisses         prometheus.Counter
	BudgetAborts       *prometheus.CounterVec // by budget
	ContractViolations prometheus.Counter
	Forks              prometheus.Counter
}

// New creates a collector with a fresh run id and registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	id := uuid.New()
	labels := prometheus.Labels{"run": id.String()}

	counter := func(subsystem, name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &Collector{
		runID:    id,
		registry: reg,

		TreesGenerated:  counter("grammar", "trees_generated_total", "Trees sampled from the grammar"),
		DepthExceptions: counter("grammar", "depth_exceptions_total", "Generations that hit the maximum depth"),
		TreesDecoded:    counter("enumerate", "trees_decoded_total", "Trees decoded from an enumeration index"),

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "vm",
			Name:        "runs_total",
			Help:        "Machine runs by final status",
			ConstLabels: labels,
		}, []string{"status"}),
		Instructions: counter("vm", "instructions_total", "Instructions executed"),
		StepsPerRun: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "vm",
			Name:        "steps_per_run",
			Help:        "Instructions executed per run",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 10),
		}),
		MemoHits:   counter("vm", "memo_hits_total", "Recursive calls answered from the memo table"),
		MemoMisses: counter("vm", "memo_misses_total", "Memoized recursive calls that had to execute"),
		BudgetAborts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "vm",
			Name:        "budget_aborts_total",
			Help:        "Runs aborted by an exhausted budget",
			ConstLabels: labels,
		}, []string{"budget"}),
		ContractViolations: counter("vm", "contract_violations_total", "Runs stopped by a type mismatch or stack underflow"),
		Forks:              counter("vm", "forks_total", "Machine states forked at a random choice"),
	}
}

// RunID identifies the run this collector belongs to.
func (c *Collector) RunID() uuid.UUID {
	if c == nil {
		return uuid.Nil
	}
	return c.runID
}

// Registry exposes the collector's registry for export.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) TreeGenerated() {
	if c != nil {
		c.TreesGenerated.Inc()
	}
}

func (c *Collector) DepthExceeded() {
	if c != nil {
		c.DepthExceptions.Inc()
	}
}

func (c *Collector) TreeDecoded() {
	if c != nil {
		c.TreesDecoded.Inc()
	}
}

// RunFinished records one machine run ending in status after steps
// instructions.
func (c *Collector) RunFinished(status string, steps int) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(status).Inc()
	c.Instructions.Add(float64(steps))
	c.StepsPerRun.Observe(float64(steps))
}

func (c *Collector) MemoHit() {
	if c != nil {
		c.MemoHits.Inc()
	}
}

func (c *Collector) MemoMiss() {
	if c != nil {
		c.MemoMisses.Inc()
	}
}

// BudgetAbort records a run stopped by budget (BudgetSteps or BudgetDepth).
func (c *Collector) BudgetAbort(budget string) {
	if c != nil {
		c.BudgetAborts.WithLabelValues(budget).Inc()
	}
}

func (c *Collector) ContractViolation() {
	if c != nil {
		c.ContractViolations.Inc()
	}
}

func (c *Collector) Fork() {
	if c != nil {
		c.Forks.Inc()
	}
}
