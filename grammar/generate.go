package grammar

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/chazu/fleet/stats"
)

// GenerateRetries bounds how often GenerateRetry resamples after a depth
// failure.
const GenerateRetries = 1000

// Representation is what a search strategy needs from a program space:
// sampling, scoring and local moves.
type Representation interface {
	Generate(r *rand.Rand, nt Nonterminal) (*Node, error)
	LogProbability(n *Node) float64
	Neighbors(n *Node) iter.Seq[*Node]
}

var _ Representation = (*Grammar)(nil)

// Sampler draws trees from a grammar. A Sampler is not safe for concurrent
// use because its random source is not; give each goroutine its own.
type Sampler struct {
	G     *Grammar
	Rand  *rand.Rand
	Stats *stats.Collector
}

// NewSampler returns a sampler over g using r, reporting to st (which may
// be nil).
func NewSampler(g *Grammar, r *rand.Rand, st *stats.Collector) *Sampler {
	return &Sampler{G: g, Rand: r, Stats: st}
}

// Generate samples a tree for nt from the grammar's prior.
func (g *Grammar) Generate(r *rand.Rand, nt Nonterminal) (*Node, error) {
	return NewSampler(g, r, nil).Generate(nt)
}

// GenerateRetry is Generate, retried on depth failures.
func (g *Grammar) GenerateRetry(r *rand.Rand, nt Nonterminal) (*Node, error) {
	return NewSampler(g, r, nil).GenerateRetry(nt)
}

// Generate samples a tree for nt. Each rule is chosen with probability
// weight/normalizer. ErrDepthExceeded is returned when the recursion
// passes the grammar's maximum depth before bottoming out.
func (s *Sampler) Generate(nt Nonterminal) (*Node, error) {
	n, err := s.generate(nt, 0)
	if err != nil {
		if errors.Is(err, ErrDepthExceeded) {
			s.Stats.DepthExceeded()
		}
		return nil, err
	}
	s.Stats.TreeGenerated()
	return n, nil
}

// GenerateRetry calls Generate until it succeeds, at most GenerateRetries
// times. Errors other than ErrDepthExceeded are returned immediately.
func (s *Sampler) GenerateRetry(nt Nonterminal) (*Node, error) {
	for range GenerateRetries {
		n, err := s.Generate(nt)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, ErrDepthExceeded) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %d attempts for %q", ErrGenerateRetriesFailed, GenerateRetries, s.G.Name(nt))
}

// Regenerate returns a copy of n with the subtree at arena id resampled
// from the prior. The depth limit counts from the root of n.
func (s *Sampler) Regenerate(n *Node, id int) (*Node, error) {
	a := NewArena(n)
	if id < 0 || id >= a.Len() {
		return nil, fmt.Errorf("%w: arena id %d of %d", ErrIndexOutOfRange, id, a.Len())
	}
	sub, err := s.generate(a.Rule(id).NT, a.Depth(id))
	if err != nil {
		if errors.Is(err, ErrDepthExceeded) {
			s.Stats.DepthExceeded()
		}
		return nil, err
	}
	s.Stats.TreeGenerated()
	return a.Replace(id, sub)
}

func (s *Sampler) generate(nt Nonterminal, depth int) (*Node, error) {
	g := s.G
	if depth >= g.maxDepth {
		return nil, fmt.Errorf("%w: %d generating %q", ErrDepthExceeded, g.maxDepth, g.Name(nt))
	}
	r, err := s.sampleRule(nt)
	if err != nil {
		return nil, err
	}
	n := g.MakeNode(r)
	for i, a := range r.ArgTypes {
		c, err := s.generate(a, depth+1)
		if err != nil {
			return nil, err
		}
		n.Children[i] = c
	}
	return n, nil
}

func (s *Sampler) sampleRule(nt Nonterminal) (*Rule, error) {
	g := s.G
	if !g.valid(nt) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNonterminal, nt)
	}
	rs := g.rules[nt]
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoRules, g.names[nt])
	}
	u := s.Rand.Float64() * g.z[nt]
	for _, r := range rs {
		u -= r.Weight
		if u < 0 {
			return r, nil
		}
	}
	// Rounding can leave u at a tiny non-negative value.
	return rs[len(rs)-1], nil
}
