// Package grammar holds the weighted context-free grammar over typed
// operations and the program trees it derives.
//
// A Grammar is built once by a Builder and is read-only afterwards, so a
// single *Grammar is shared by every goroutine without locking. Rules are
// stored per nonterminal in a fixed order (terminals first, then higher
// weight first, then declaration order); a rule's position in that order
// is its identity for enumeration and must never change.
package grammar

import (
	"fmt"
	"iter"
	"math"

	"github.com/tliron/commonlog"
)

var logger = commonlog.GetLogger("fleet.grammar")

// noCopy makes `go vet` flag copies of a Grammar. The grammar is always
// referenced, since rule identity is pointer identity.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Grammar stores the rules of every nonterminal and their normalizers.
type Grammar struct {
	_ noCopy

	names  []string
	kinds  []Kind
	byName map[string]Nonterminal

	rules   [][]*Rule
	z       []float64 // sum of weights per nonterminal (not log)
	offsets []int     // offsets[nt] = number of rules in nonterminals before nt

	minimal []*Node // smallest-height tree per nonterminal, nil if none

	start    Nonterminal
	input    Nonterminal
	maxDepth int
}

// Start returns the nonterminal whole programs produce.
func (g *Grammar) Start() Nonterminal { return g.start }

// Input returns the nonterminal of a program's argument.
func (g *Grammar) Input() Nonterminal { return g.input }

// MaxDepth returns the generation depth limit.
func (g *Grammar) MaxDepth() int { return g.maxDepth }

// NonterminalCount returns the number of declared nonterminals.
func (g *Grammar) NonterminalCount() int { return len(g.names) }

// Name returns the declared name of nt.
func (g *Grammar) Name(nt Nonterminal) string { return g.names[nt] }

// Kind returns the value kind of nt.
func (g *Grammar) Kind(nt Nonterminal) Kind { return g.kinds[nt] }

// Lookup finds a nonterminal by name.
func (g *Grammar) Lookup(name string) (Nonterminal, error) {
	nt, ok := g.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownNonterminal, name)
	}
	return nt, nil
}

func (g *Grammar) valid(nt Nonterminal) bool {
	return nt >= 0 && int(nt) < len(g.names)
}

// RuleCount returns the number of rules for nt.
func (g *Grammar) RuleCount(nt Nonterminal) int {
	if !g.valid(nt) {
		return 0
	}
	return len(g.rules[nt])
}

// TotalRules returns the number of rules across all nonterminals.
func (g *Grammar) TotalRules() int {
	return g.offsets[len(g.rules)]
}

// Rules returns the rules of nt in their fixed order. The slice is a copy;
// the rules themselves are shared and must not be modified.
func (g *Grammar) Rules(nt Nonterminal) []*Rule {
	if !g.valid(nt) {
		return nil
	}
	out := make([]*Rule, len(g.rules[nt]))
	copy(out, g.rules[nt])
	return out
}

// AllRules iterates over every rule, nonterminal by nonterminal.
func (g *Grammar) AllRules() iter.Seq[*Rule] {
	return func(yield func(*Rule) bool) {
		for _, rs := range g.rules {
			for _, r := range rs {
				if !yield(r) {
					return
				}
			}
		}
	}
}

// GetRule returns the i'th rule of nt.
func (g *Grammar) GetRule(nt Nonterminal, i int) (*Rule, error) {
	if !g.valid(nt) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNonterminal, nt)
	}
	if i < 0 || i >= len(g.rules[nt]) {
		return nil, fmt.Errorf("%w: rule %d of %q (%d rules)", ErrIndexOutOfRange, i, g.names[nt], len(g.rules[nt]))
	}
	return g.rules[nt][i], nil
}

// GlobalIndex returns r's position in the order given by AllRules.
func (g *Grammar) GlobalIndex(r *Rule) int {
	return g.offsets[r.NT] + r.Index
}

// Normalizer returns the sum of rule weights for nt (not log).
func (g *Grammar) Normalizer(nt Nonterminal) float64 {
	return g.z[nt]
}

// CountTerminals returns how many of nt's rules have no children. They
// occupy the first positions of the rule list.
func (g *Grammar) CountTerminals(nt Nonterminal) int {
	n := 0
	for _, r := range g.rules[nt] {
		if r.IsTerminal() {
			n++
		}
	}
	return n
}

// MakeNode creates a node for r with empty child slots.
func (g *Grammar) MakeNode(r *Rule) *Node {
	return &Node{Rule: r, lp: r.lp, Children: make([]*Node, r.Arity())}
}

// LogProbability returns the prior log probability of the tree: the sum
// over its nodes of log(weight/normalizer). Missing children contribute
// nothing, so partial trees get their partial prior.
func (g *Grammar) LogProbability(n *Node) float64 {
	lp := 0.0
	for x := range n.All() {
		lp += x.Rule.lp
	}
	return lp
}

// RuleCounts returns how often each rule is used in n, indexed by
// GlobalIndex.
func (g *Grammar) RuleCounts(n *Node) []int {
	out := make([]int, g.TotalRules())
	for x := range n.All() {
		out[g.GlobalIndex(x.Rule)]++
	}
	return out
}

// Productive reports whether nt derives at least one finite tree.
func (g *Grammar) Productive(nt Nonterminal) bool {
	return g.valid(nt) && g.minimal[nt] != nil
}

// MinimalTree returns a copy of the lowest tree nt derives, or nil if nt
// derives no finite tree.
func (g *Grammar) MinimalTree(nt Nonterminal) *Node {
	if !g.valid(nt) {
		return nil
	}
	return g.minimal[nt].Clone()
}

// computeMinimal finds, for each nonterminal, the first rule (in rule
// order) reaching the minimal height, by relaxation to a fixed point.
func (g *Grammar) computeMinimal() {
	n := len(g.rules)
	height := make([]int, n)
	choice := make([]*Rule, n)
	for i := range height {
		height[i] = math.MaxInt
	}
	for changed := true; changed; {
		changed = false
		for nt, rs := range g.rules {
			for _, r := range rs {
				h := 0
				for _, a := range r.ArgTypes {
					if height[a] == math.MaxInt {
						h = math.MaxInt
						break
					}
					h = max(h, height[a])
				}
				if h == math.MaxInt {
					continue
				}
				if h+1 < height[nt] {
					height[nt] = h + 1
					choice[nt] = r
					changed = true
				}
			}
		}
	}

	var build func(nt Nonterminal) *Node
	build = func(nt Nonterminal) *Node {
		r := choice[nt]
		node := g.MakeNode(r)
		for i, a := range r.ArgTypes {
			node.Children[i] = build(a)
		}
		return node
	}
	g.minimal = make([]*Node, n)
	for nt := range g.rules {
		if choice[nt] != nil {
			g.minimal[nt] = build(Nonterminal(nt))
		}
	}
}
