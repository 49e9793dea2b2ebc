package grammar

import (
	"fmt"
	"iter"
	"strings"
)

const (
	// NTDelimiter separates a nonterminal name from a tag in parseable form.
	NTDelimiter = ":"
	// RuleDelimiter separates nodes in parseable form.
	RuleDelimiter = ";"
)

// Node is one concrete program tree. A Node owns its children; trees are
// never shared between owners, so anything that mutates a tree another
// owner may still read must Clone it first.
type Node struct {
	Rule     *Rule
	Children []*Node

	// lp is log(weight/normalizer) for Rule, set when the grammar makes
	// the node.
	lp float64
}

// NT returns the nonterminal this node produces.
func (n *Node) NT() Nonterminal {
	return n.Rule.NT
}

// RuleLogProb returns the cached log probability of this node's rule
// choice (not of the whole tree).
func (n *Node) RuleLogProb() float64 {
	return n.lp
}

// SetChild replaces the i'th child. The child's nonterminal must match the
// rule's argument type.
func (n *Node) SetChild(i int, c *Node) error {
	if i < 0 || i >= n.Rule.Arity() {
		return fmt.Errorf("%w: child %d of %q (arity %d)", ErrIndexOutOfRange, i, n.Rule.Tag, n.Rule.Arity())
	}
	if c != nil && c.NT() != n.Rule.ArgType(i) {
		return fmt.Errorf("%w: child %d of %q wants nonterminal %d, got %d",
			ErrTypeMismatch, i, n.Rule.Tag, n.Rule.ArgType(i), c.NT())
	}
	n.Children[i] = c
	return nil
}

// Clone returns a deep copy of the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Rule: n.Rule, lp: n.lp, Children: make([]*Node, len(n.Children))}
	for i, c := range n.Children {
		out.Children[i] = c.Clone()
	}
	return out
}

// IsLeaf reports whether the node has a terminal rule.
func (n *Node) IsLeaf() bool {
	return n.Rule.IsTerminal()
}

// IsComplete reports whether no child anywhere below is missing.
func (n *Node) IsComplete() bool {
	if n == nil {
		return false
	}
	for _, c := range n.Children {
		if !c.IsComplete() {
			return false
		}
	}
	return len(n.Children) == n.Rule.Arity()
}

// Validate checks the structural invariants of the tree: every node has
// exactly one child per argument type, and each child's nonterminal
// matches.
func (n *Node) Validate() error {
	if n == nil || n.Rule == nil {
		return fmt.Errorf("%w: missing node", ErrMalformedTree)
	}
	if len(n.Children) != n.Rule.Arity() {
		return fmt.Errorf("%w: %q has %d children, rule arity %d",
			ErrMalformedTree, n.Rule.Tag, len(n.Children), n.Rule.Arity())
	}
	for i, c := range n.Children {
		if c == nil {
			return fmt.Errorf("%w: %q child %d is missing", ErrMalformedTree, n.Rule.Tag, i)
		}
		if c.NT() != n.Rule.ArgType(i) {
			return fmt.Errorf("%w: %q child %d has nonterminal %d, want %d",
				ErrMalformedTree, n.Rule.Tag, i, c.NT(), n.Rule.ArgType(i))
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports structural equality: same rules in the same shape.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Rule != o.Rule || len(n.Children) != len(o.Children) {
		return false
	}
	for i := range n.Children {
		if !n.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}

// Size returns the number of nodes in the tree.
func (n *Node) Size() int {
	if n == nil {
		return 0
	}
	s := 1
	for _, c := range n.Children {
		s += c.Size()
	}
	return s
}

// Depth returns the height of the tree; a leaf has depth 1.
func (n *Node) Depth() int {
	if n == nil {
		return 0
	}
	d := 0
	for _, c := range n.Children {
		d = max(d, c.Depth())
	}
	return d + 1
}

// All iterates over the tree in pre-order. The position of a node in this
// order is its arena id.
func (n *Node) All() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		n.walk(yield)
	}
}

func (n *Node) walk(yield func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !yield(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.walk(yield) {
			return false
		}
	}
	return true
}

// String renders the tree by substituting children into each rule's
// format, left to right.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.Rule.IsTerminal() {
		return n.Rule.Format
	}
	s := n.Rule.Format
	for _, c := range n.Children {
		s = strings.Replace(s, ChildPlaceholder, c.String(), 1)
	}
	return s
}

// Parseable renders the tree as "nt:tag;nt:tag;..." in pre-order, the
// format read back by Grammar.FromParseable.
func (n *Node) Parseable() string {
	var parts []string
	for x := range n.All() {
		parts = append(parts, x.Rule.NTName+NTDelimiter+x.Rule.Tag)
	}
	return strings.Join(parts, RuleDelimiter)
}
