// Package enumerate maps natural numbers to grammar trees and back.
//
// Every tree a nonterminal derives gets exactly one index. Indexes are
// assigned so that small indexes decode to small trees, and decoding costs
// time proportional to the tree, not to the index, so search drivers can
// sweep program space in order.
//
// Layout of the indexes of a nonterminal:
//
//  1. the finitely-expanding rules (terminals first) in rule order, each
//     taking a block as large as the number of trees it derives;
//  2. the rules with an infinite child, ordered by the height of their
//     lowest tree and interleaved by PopMod over their number.
//
// Inside a rule, children of a finite nonterminal are peeled off the
// remaining value by PopMod with their count, then children of an infinite
// nonterminal by Rosenberg-Strong Pop, the last one taking the remainder.
// For a grammar whose nonterminals are all infinite this is the classic
// terminals-then-modular-then-Rosenberg-Strong encoding.
package enumerate

import (
	"errors"
	"fmt"
	"iter"

	"github.com/tliron/commonlog"

	"github.com/chazu/fleet/grammar"
	"github.com/chazu/fleet/stats"
)

var logger = commonlog.GetLogger("fleet.enumerate")

var (
	// ErrIndexOutOfRange is returned for an index past the number of trees
	// of a finite nonterminal. It matches grammar.ErrIndexOutOfRange.
	ErrIndexOutOfRange = grammar.ErrIndexOutOfRange

	// ErrIndexOverflow is returned when an index does not fit in 64 bits.
	ErrIndexOverflow = errors.New("enumerate: index overflows uint64")

	// ErrEmptyNonterminal is returned for nonterminals that derive no tree.
	ErrEmptyNonterminal = errors.New("enumerate: nonterminal derives no tree")
)

// Enumerable is an index <-> tree bijection.
type Enumerable interface {
	ExpandFromInteger(nt grammar.Nonterminal, i uint64) (*grammar.Node, error)
	IndexOf(n *grammar.Node) (uint64, error)
}

var _ Enumerable = (*Enumerator)(nil)

// Enumerator decodes and encodes trees of one grammar. It is read-only
// after New and safe for concurrent use.
type Enumerator struct {
	g     *grammar.Grammar
	l     *layout
	stats *stats.Collector
}

// New lays out the index space of g. It fails only if some finite
// nonterminal derives more than 2^64 trees.
func New(g *grammar.Grammar, st *stats.Collector) (*Enumerator, error) {
	l, err := computeLayout(g)
	if err != nil {
		return nil, err
	}
	for nt, c := range l.counts {
		logger.Debugf("%s: %s trees, %d finite rules, %d infinite rules",
			g.Name(grammar.Nonterminal(nt)), c, len(l.finite[nt]), len(l.infinite[nt]))
	}
	return &Enumerator{g: g, l: l, stats: st}, nil
}

// Grammar returns the grammar being enumerated.
func (e *Enumerator) Grammar() *grammar.Grammar {
	return e.g
}

// Count returns how many trees nt derives.
func (e *Enumerator) Count(nt grammar.Nonterminal) Count {
	if nt < 0 || int(nt) >= len(e.l.counts) {
		return Count{}
	}
	return e.l.counts[nt]
}

// RuleCount returns how many trees have r at the root.
func (e *Enumerator) RuleCount(r *grammar.Rule) Count {
	info := e.l.rules[e.g.GlobalIndex(r)]
	switch info.class {
	case classFinite:
		return Count{N: info.count}
	case classInfinite:
		return Count{Infinite: true}
	}
	return Count{}
}

// ExpandFromInteger decodes the i'th tree of nt.
func (e *Enumerator) ExpandFromInteger(nt grammar.Nonterminal, i uint64) (*grammar.Node, error) {
	n, err := e.decode(nt, i)
	if err != nil {
		return nil, err
	}
	e.stats.TreeDecoded()
	return n, nil
}

// ExpandFromStack decodes a tree of nt from the front of s and leaves the
// rest of the value on s for the trees that follow. The tree's index is
// PopMod(count) for a finite nt and Pop() otherwise; the last of several
// sibling trees should use ExpandFromInteger on s.Value() instead, as
// ExpandForest does.
func (e *Enumerator) ExpandFromStack(nt grammar.Nonterminal, s *IntegerizedStack) (*grammar.Node, error) {
	c := e.Count(nt)
	if c.IsZero() {
		return nil, fmt.Errorf("%w: %q", ErrEmptyNonterminal, e.g.Name(nt))
	}
	var i uint64
	if c.Infinite {
		i = s.Pop()
	} else {
		i = s.PopMod(c.N)
	}
	return e.ExpandFromInteger(nt, i)
}

// IndexOf returns the index ExpandFromInteger maps to n.
func (e *Enumerator) IndexOf(n *grammar.Node) (uint64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	return e.encode(n)
}

// ExpandForest decodes one tree per entry of nts from a single index, the
// way a rule's children are decoded.
func (e *Enumerator) ExpandForest(nts []grammar.Nonterminal, i uint64) ([]*grammar.Node, error) {
	idx, err := e.splitIndex(nts, i)
	if err != nil {
		return nil, err
	}
	out := make([]*grammar.Node, len(nts))
	for k, nt := range nts {
		if out[k], err = e.ExpandFromInteger(nt, idx[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IndexOfForest is the inverse of ExpandForest.
func (e *Enumerator) IndexOfForest(nodes []*grammar.Node) (uint64, error) {
	nts := make([]grammar.Nonterminal, len(nodes))
	idx := make([]uint64, len(nodes))
	for k, n := range nodes {
		i, err := e.IndexOf(n)
		if err != nil {
			return 0, err
		}
		nts[k], idx[k] = n.NT(), i
	}
	return e.joinIndex(nts, idx)
}

// All yields the trees of nt in index order, stopping after the last tree
// of a finite nonterminal. Iteration also stops at the first decode error,
// which is yielded with a nil tree.
func (e *Enumerator) All(nt grammar.Nonterminal) iter.Seq2[uint64, *grammar.Node] {
	return func(yield func(uint64, *grammar.Node) bool) {
		c := e.Count(nt)
		for i := uint64(0); c.Infinite || i < c.N; i++ {
			n, err := e.ExpandFromInteger(nt, i)
			if err != nil {
				logger.Errorf("decoding %s #%d: %s", e.g.Name(nt), i, err)
				yield(i, nil)
				return
			}
			if !yield(i, n) {
				return
			}
			if i == ^uint64(0) {
				return
			}
		}
	}
}

func (e *Enumerator) decode(nt grammar.Nonterminal, z uint64) (*grammar.Node, error) {
	c := e.Count(nt)
	if c.IsZero() {
		return nil, fmt.Errorf("%w: %q", ErrEmptyNonterminal, e.g.Name(nt))
	}
	if !c.Infinite && z >= c.N {
		return nil, fmt.Errorf("%w: index %d of %q (%d trees)", ErrIndexOutOfRange, z, e.g.Name(nt), c.N)
	}

	if z < e.l.finTotal[nt] {
		for _, r := range e.l.finite[nt] {
			info := e.l.rules[e.g.GlobalIndex(r)]
			if z < info.offset+info.count {
				return e.expandRule(r, z-info.offset)
			}
		}
		return nil, fmt.Errorf("%w: finite block of %q", grammar.ErrMalformedTree, e.g.Name(nt))
	}

	s := NewIntegerizedStack(z - e.l.finTotal[nt])
	inf := e.l.infinite[nt]
	r := inf[s.PopMod(uint64(len(inf)))]
	return e.expandRule(r, s.Value())
}

func (e *Enumerator) expandRule(r *grammar.Rule, z uint64) (*grammar.Node, error) {
	out := e.g.MakeNode(r)
	idx, err := e.splitIndex(r.ArgTypes, z)
	if err != nil {
		return nil, err
	}
	for i, a := range r.ArgTypes {
		c, err := e.decode(a, idx[i])
		if err != nil {
			return nil, err
		}
		out.Children[i] = c
	}
	return out, nil
}

// splitIndex divides z among trees of the given nonterminals: finite ones
// by PopMod in order, then infinite ones by Pop with the last taking what
// is left.
func (e *Enumerator) splitIndex(nts []grammar.Nonterminal, z uint64) ([]uint64, error) {
	s := NewIntegerizedStack(z)
	idx := make([]uint64, len(nts))
	var inf []int
	for k, nt := range nts {
		c := e.Count(nt)
		switch {
		case c.IsZero():
			return nil, fmt.Errorf("%w: %q", ErrEmptyNonterminal, e.g.Name(nt))
		case c.Infinite:
			inf = append(inf, k)
		default:
			idx[k] = s.PopMod(c.N)
		}
	}
	for j, k := range inf {
		if j == len(inf)-1 {
			idx[k] = s.Value()
		} else {
			idx[k] = s.Pop()
		}
	}
	if len(inf) == 0 && !s.Empty() {
		return nil, fmt.Errorf("%w: %d left over after all finite trees", ErrIndexOutOfRange, s.Value())
	}
	return idx, nil
}

// joinIndex is the inverse of splitIndex.
func (e *Enumerator) joinIndex(nts []grammar.Nonterminal, idx []uint64) (uint64, error) {
	s := NewIntegerizedStack(0)
	var inf []int
	for k, nt := range nts {
		if e.Count(nt).Infinite {
			inf = append(inf, k)
		}
	}
	if len(inf) > 0 {
		s.Set(idx[inf[len(inf)-1]])
		for j := len(inf) - 2; j >= 0; j-- {
			if err := s.Push(idx[inf[j]]); err != nil {
				return 0, err
			}
		}
	}
	for k := len(nts) - 1; k >= 0; k-- {
		c := e.Count(nts[k])
		if c.Infinite {
			continue
		}
		if err := s.PushMod(idx[k], c.N); err != nil {
			return 0, err
		}
	}
	return s.Value(), nil
}

func (e *Enumerator) encode(n *grammar.Node) (uint64, error) {
	r := n.Rule
	idx := make([]uint64, len(n.Children))
	for i, c := range n.Children {
		v, err := e.encode(c)
		if err != nil {
			return 0, err
		}
		idx[i] = v
	}
	z, err := e.joinIndex(r.ArgTypes, idx)
	if err != nil {
		return 0, err
	}

	info := e.l.rules[e.g.GlobalIndex(r)]
	switch info.class {
	case classFinite:
		return info.offset + z, nil
	case classInfinite:
		s := NewIntegerizedStack(z)
		if err := s.PushMod(info.pos, uint64(len(e.l.infinite[r.NT]))); err != nil {
			return 0, err
		}
		v := s.Value() + e.l.finTotal[r.NT]
		if v < s.Value() {
			return 0, fmt.Errorf("%w: tree %s", ErrIndexOverflow, n)
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: rule %q derives no tree", ErrEmptyNonterminal, r.Tag)
}
