package enumerate

import (
	"cmp"
	"fmt"
	"math/bits"
	"slices"
	"strconv"

	"github.com/chazu/fleet/grammar"
)

// Count is the number of trees a nonterminal or rule derives.
type Count struct {
	N        uint64
	Infinite bool
}

// IsZero reports whether there are no trees at all.
func (c Count) IsZero() bool {
	return !c.Infinite && c.N == 0
}

func (c Count) String() string {
	if c.Infinite {
		return "inf"
	}
	return strconv.FormatUint(c.N, 10)
}

type ruleClass uint8

const (
	classDead     ruleClass = iota // some child derives no tree
	classFinite                    // every child is finite
	classInfinite                  // some child is infinite
)

// ruleInfo is the enumeration layout of a single rule.
type ruleInfo struct {
	class  ruleClass
	count  uint64 // trees derived, for classFinite
	offset uint64 // first index in the finite block, for classFinite
	pos    uint64 // position among the infinite rules, for classInfinite
}

// layout is the per-grammar table both directions of the bijection read.
type layout struct {
	counts   []Count            // by nonterminal
	finite   [][]*grammar.Rule  // finitely-expanding rules per nonterminal, rule order
	infinite [][]*grammar.Rule  // the rest of the live rules, lowest first
	finTotal []uint64           // sum of finite rule counts per nonterminal
	rules    []ruleInfo         // by grammar.GlobalIndex
}

// computeLayout counts trees bottom-up. A nonterminal is finite once all
// of its live rules only use finite nonterminals; whatever never becomes
// finite is productive and sits on or above a cycle, so it is infinite.
func computeLayout(g *grammar.Grammar) (*layout, error) {
	nts := g.NonterminalCount()
	l := &layout{
		counts:   make([]Count, nts),
		finite:   make([][]*grammar.Rule, nts),
		infinite: make([][]*grammar.Rule, nts),
		finTotal: make([]uint64, nts),
		rules:    make([]ruleInfo, g.TotalRules()),
	}

	done := make([]bool, nts)
	for nt := range nts {
		if !g.Productive(grammar.Nonterminal(nt)) {
			done[nt] = true // Count{} is zero trees
		}
	}
	live := func(r *grammar.Rule) bool {
		for _, a := range r.ArgTypes {
			if !g.Productive(a) {
				return false
			}
		}
		return true
	}

	for changed := true; changed; {
		changed = false
		for nt := range nts {
			if done[nt] {
				continue
			}
			ready := true
			for _, r := range g.Rules(grammar.Nonterminal(nt)) {
				if !live(r) {
					continue
				}
				for _, a := range r.ArgTypes {
					if !done[a] {
						ready = false
					}
				}
			}
			if !ready {
				continue
			}
			total := uint64(0)
			for _, r := range g.Rules(grammar.Nonterminal(nt)) {
				if !live(r) {
					continue
				}
				n := uint64(1)
				for _, a := range r.ArgTypes {
					hi, lo := bits.Mul64(n, l.counts[a].N)
					if hi != 0 {
						return nil, fmt.Errorf("%w: counting trees of %q", ErrIndexOverflow, g.Name(r.NT))
					}
					n = lo
				}
				var carry uint64
				total, carry = bits.Add64(total, n, 0)
				if carry != 0 {
					return nil, fmt.Errorf("%w: counting trees of %q", ErrIndexOverflow, g.Name(r.NT))
				}
			}
			l.counts[nt] = Count{N: total}
			done[nt] = true
			changed = true
		}
	}
	for nt := range nts {
		if !done[nt] {
			l.counts[nt] = Count{Infinite: true}
		}
	}

	for nt := range nts {
		for _, r := range g.Rules(grammar.Nonterminal(nt)) {
			info := &l.rules[g.GlobalIndex(r)]
			if !live(r) {
				info.class = classDead
				continue
			}
			inf := false
			n := uint64(1)
			for _, a := range r.ArgTypes {
				if l.counts[a].Infinite {
					inf = true
					break
				}
				hi, lo := bits.Mul64(n, l.counts[a].N)
				if hi != 0 {
					return nil, fmt.Errorf("%w: counting trees of %q", ErrIndexOverflow, g.Name(r.NT))
				}
				n = lo
			}
			if inf {
				info.class = classInfinite
				l.infinite[nt] = append(l.infinite[nt], r)
				continue
			}
			info.class = classFinite
			info.count = n
			info.offset = l.finTotal[nt]
			l.finite[nt] = append(l.finite[nt], r)
			total, carry := bits.Add64(l.finTotal[nt], n, 0)
			if carry != 0 {
				return nil, fmt.Errorf("%w: counting trees of %q", ErrIndexOverflow, g.Name(r.NT))
			}
			l.finTotal[nt] = total
		}
	}

	// Index 0 of an infinite block decodes every child at index 0 too, so
	// position 0 must hold a rule of minimal height or decoding may never
	// reach a leaf. Ties keep rule order.
	depth := make([]int, nts)
	for nt := range nts {
		if t := g.MinimalTree(grammar.Nonterminal(nt)); t != nil {
			depth[nt] = t.Depth()
		}
	}
	height := func(r *grammar.Rule) int {
		h := 0
		for _, a := range r.ArgTypes {
			h = max(h, depth[a])
		}
		return h
	}
	for nt := range nts {
		slices.SortStableFunc(l.infinite[nt], func(x, y *grammar.Rule) int {
			return cmp.Compare(height(x), height(y))
		})
		for i, r := range l.infinite[nt] {
			l.rules[g.GlobalIndex(r)].pos = uint64(i)
		}
	}
	return l, nil
}
