// Package worker runs batches of programs over a bounded set of goroutines.
//
// Machines are single-threaded, so every worker goroutine owns one and
// requests are handed to workers rather than machines shared between them.
// Compiled programs are cached by tree hash and shared read-only.
package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/fleet/grammar"
	"github.com/chazu/fleet/hash"
	"github.com/chazu/fleet/pkg/bytecode"
	"github.com/chazu/fleet/stats"
)

var logger = commonlog.GetLogger("fleet.worker")

// DefaultWorkers is used when Config.Workers is not positive.
const DefaultWorkers = 4

// Config configures a Pool.
type Config struct {
	Workers     int
	StepBudget  int
	DepthBudget int
	Memoize     bool

	// Seed makes sampled random choices reproducible: request i draws
	// from a source seeded with (Seed, i) no matter which worker runs it.
	Seed uint64

	// Trace pool bounds for requests with Distribution set.
	MaxSteps   int
	MaxOutputs int
	MinLP      float64
}

// Request is one program to run.
type Request struct {
	ID    uuid.UUID // assigned by Run when zero
	Tree  *grammar.Node
	Input bytecode.Value

	// Distribution runs the program through a trace pool instead of
	// sampling a single value.
	Distribution bool
}

// Result is the outcome of one Request.
type Result struct {
	ID     uuid.UUID
	Hash   hash.Sum
	Value  bytecode.Value
	Dist   *bytecode.Distribution
	Status bytecode.Status
	Steps  int
	Err    error
}

// Pool runs requests against programs of one grammar.
type Pool struct {
	g     *grammar.Grammar
	cfg   Config
	reg   *bytecode.Registry
	stats *stats.Collector

	mu       sync.Mutex
	programs map[hash.Sum]*bytecode.Program
}

// New creates a pool. A nil registry means the standard primitives; a nil
// collector counts nothing.
func New(g *grammar.Grammar, cfg Config, reg *bytecode.Registry, st *stats.Collector) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = bytecode.DefaultStepBudget
	}
	if cfg.DepthBudget <= 0 {
		cfg.DepthBudget = bytecode.DefaultDepthBudget
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = bytecode.DefaultPoolSteps
	}
	if cfg.MaxOutputs <= 0 {
		cfg.MaxOutputs = bytecode.DefaultPoolOutputs
	}
	if cfg.MinLP == 0 {
		cfg.MinLP = math.Inf(-1)
	}
	return &Pool{
		g:        g,
		cfg:      cfg,
		reg:      reg,
		stats:    st,
		programs: make(map[hash.Sum]*bytecode.Program),
	}
}

// Workers returns the number of worker goroutines Run starts.
func (p *Pool) Workers() int { return p.cfg.Workers }

// Cached returns the number of compiled programs held by the pool.
func (p *Pool) Cached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.programs)
}

// Run executes reqs and returns one result per request, in request order.
// Per-request failures are reported in Result.Err; Run itself fails only
// when ctx is done, in which case unstarted requests carry ctx's error.
func (p *Pool) Run(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	for i := range reqs {
		if reqs[i].ID == uuid.Nil {
			reqs[i].ID = uuid.New()
		}
		results[i] = Result{ID: reqs[i].ID, Err: context.Canceled}
	}

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range reqs {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := range min(p.cfg.Workers, max(len(reqs), 1)) {
		g.Go(func() error {
			m := p.newMachine()
			for i := range jobs {
				results[i] = p.execute(m, i, &reqs[i])
			}
			logger.Debugf("worker %d done", w)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for i := range results {
			if results[i].Err == context.Canceled {
				results[i].Err = err
			}
		}
		return results, err
	}
	return results, nil
}

func (p *Pool) newMachine() *bytecode.Machine {
	m := bytecode.NewMachine()
	m.StepBudget = p.cfg.StepBudget
	m.DepthBudget = p.cfg.DepthBudget
	m.Memoize = p.cfg.Memoize
	m.Stats = p.stats
	return m
}

// execute runs one request on the worker's machine, recovering from panics.
func (p *Pool) execute(m *bytecode.Machine, i int, req *Request) (res Result) {
	res.ID = req.ID
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("request %s panicked: %v", req.ID, r)
			res.Err = fmt.Errorf("worker: request %s: panic: %v", req.ID, r)
			res.Status = bytecode.StatusErrored
		}
	}()

	prog, sum, err := p.program(req.Tree)
	res.Hash = sum
	if err != nil {
		res.Err = err
		res.Status = bytecode.StatusErrored
		return res
	}

	if req.Distribution {
		tp := &bytecode.TracePool{
			Machine:    m,
			MaxSteps:   p.cfg.MaxSteps,
			MaxOutputs: p.cfg.MaxOutputs,
			MinLP:      p.cfg.MinLP,
		}
		res.Dist, res.Err = tp.Run(prog, req.Input)
		res.Status = bytecode.StatusCompleted
		if res.Err != nil {
			res.Status = bytecode.StatusErrored
		}
		return res
	}

	m.Rand = rand.New(rand.NewPCG(p.cfg.Seed, uint64(i)))
	res.Value, res.Err = m.Run(prog, req.Input)
	res.Status = m.Status()
	res.Steps = m.Steps()
	return res
}

// program compiles tree, or returns the cached program for its hash.
func (p *Pool) program(tree *grammar.Node) (*bytecode.Program, hash.Sum, error) {
	if tree == nil {
		return nil, hash.Sum{}, fmt.Errorf("worker: request has no tree")
	}
	if err := tree.Validate(); err != nil {
		return nil, hash.Sum{}, fmt.Errorf("worker: %w", err)
	}
	sum := hash.HashTree(tree)

	p.mu.Lock()
	prog, ok := p.programs[sum]
	p.mu.Unlock()
	if ok {
		return prog, sum, nil
	}

	prog, err := bytecode.NewCompiler(p.g, p.reg).Compile(tree)
	if err != nil {
		return nil, sum, err
	}
	p.mu.Lock()
	if cached, ok := p.programs[sum]; ok {
		prog = cached
	} else {
		p.programs[sum] = prog
	}
	p.mu.Unlock()
	return prog, sum, nil
}
