package bytecode

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/chazu/fleet/wire"
)

// Default bounds of a TracePool.
const (
	DefaultPoolSteps   = 1024
	DefaultPoolOutputs = 256
)

// Outcome is one value of a Distribution with its total log probability.
type Outcome struct {
	Value   Value
	LogProb float64
}

// Distribution is a discrete distribution over program outputs, as log
// probabilities. Values are compared by their canonical encoding.
type Distribution struct {
	index    map[string]int
	outcomes []Outcome
}

// NewDistribution returns an empty distribution.
func NewDistribution() *Distribution {
	return &Distribution{index: make(map[string]int)}
}

// Add adds lp to the mass of v, with log-sum-exp.
func (d *Distribution) Add(v Value, lp float64) error {
	k, err := wire.Key(v)
	if err != nil {
		return err
	}
	i, ok := d.index[k]
	if !ok {
		d.index[k] = len(d.outcomes)
		d.outcomes = append(d.outcomes, Outcome{Value: v, LogProb: lp})
		return nil
	}
	d.outcomes[i].LogProb = logAddExp(d.outcomes[i].LogProb, lp)
	return nil
}

// LogProb returns the log probability of v, or -Inf if it never occurred.
func (d *Distribution) LogProb(v Value) float64 {
	k, err := wire.Key(v)
	if err != nil {
		return math.Inf(-1)
	}
	if i, ok := d.index[k]; ok {
		return d.outcomes[i].LogProb
	}
	return math.Inf(-1)
}

// Len returns the number of distinct outputs.
func (d *Distribution) Len() int {
	return len(d.outcomes)
}

// Outcomes returns the outputs from most to least probable.
func (d *Distribution) Outcomes() []Outcome {
	out := make([]Outcome, len(d.outcomes))
	copy(out, d.outcomes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].LogProb > out[j].LogProb })
	return out
}

// Mass returns the log of the total probability collected.
func (d *Distribution) Mass() float64 {
	total := math.Inf(-1)
	for _, o := range d.outcomes {
		total = logAddExp(total, o.LogProb)
	}
	return total
}

func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// TracePool runs a random program exhaustively: each time a trace reaches
// a random choice it is forked into both outcomes, and the most probable
// unfinished trace is always the next to run. Traces that exhaust a budget
// are dropped, so the collected mass may be below one.
type TracePool struct {
	// Machine is the template every trace is cloned from. Its Rand is
	// ignored.
	Machine *Machine

	MaxSteps   int     // traces resumed before giving up
	MaxOutputs int     // completed traces collected before stopping
	MinLP      float64 // traces less probable than this are dropped
}

// NewTracePool returns a pool over a machine with default budgets.
func NewTracePool() *TracePool {
	return &TracePool{
		Machine:    NewMachine(),
		MaxSteps:   DefaultPoolSteps,
		MaxOutputs: DefaultPoolOutputs,
		MinLP:      math.Inf(-1),
	}
}

// Run returns the distribution of p's output on input. It fails only on a
// contract violation in some trace.
func (tp *TracePool) Run(p *Program, input Value) (*Distribution, error) {
	root := tp.Machine.Clone()
	root.Rand = nil
	root.Start(p, input)

	q := &traceQueue{root}
	dist := NewDistribution()
	completed := 0
	for steps := 0; q.Len() > 0 && steps < tp.MaxSteps && completed < tp.MaxOutputs; steps++ {
		m := heap.Pop(q).(*Machine)
		v, err := m.Resume()
		switch {
		case err == nil:
			if err := dist.Add(v, m.LogProb()); err != nil {
				return nil, err
			}
			completed++
		case errors.Is(err, ErrRandomChoice):
			if err := tp.fork(q, m); err != nil {
				return nil, err
			}
		case IsRecoverable(err):
		default:
			return nil, err
		}
	}
	if q.Len() > 0 {
		logger.Debugf("trace pool stopped with %d open traces and %d outputs", q.Len(), dist.Len())
	}
	return dist, nil
}

// fork pushes both resolutions of m's pending choice, dropping impossible
// and improbable ones.
func (tp *TracePool) fork(q *traceQueue, m *Machine) error {
	p, _ := m.PendingChoice()
	m.Stats.Fork()
	for _, v := range []bool{true, false} {
		if (v && p == 0) || (!v && p == 1) {
			continue
		}
		c := m.Clone()
		if err := c.Choose(v); err != nil {
			if IsRecoverable(err) {
				continue
			}
			return fmt.Errorf("bytecode: forking trace: %w", err)
		}
		if c.LogProb() < tp.MinLP {
			continue
		}
		heap.Push(q, c)
	}
	return nil
}

// traceQueue is a max-heap of machines by log probability.
type traceQueue []*Machine

func (q traceQueue) Len() int           { return len(q) }
func (q traceQueue) Less(i, j int) bool { return q[i].LogProb() > q[j].LogProb() }
func (q traceQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *traceQueue) Push(x any) {
	*q = append(*q, x.(*Machine))
}

func (q *traceQueue) Pop() any {
	old := *q
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return m
}
