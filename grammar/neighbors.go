package grammar

import "iter"

// Neighbors yields every tree that differs from n by the rule at exactly
// one node. The replacement rule keeps each old child whose position still
// has the same nonterminal; other positions get the nonterminal's minimal
// tree. Nodes are visited in pre-order and alternatives in rule order, so
// the sequence is the same every time it is ranged over. Each yielded tree
// is fresh and owned by the caller.
func (g *Grammar) Neighbors(n *Node) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		a := NewArena(n)
		for id := range a.Len() {
			cur := a.Rule(id)
			for _, alt := range g.rules[cur.NT] {
				if alt == cur {
					continue
				}
				repl, ok := g.substitute(a, id, alt)
				if !ok {
					continue
				}
				t, err := a.Replace(id, repl)
				if err != nil {
					logger.Errorf("neighbor of %s at %d: %s", n, id, err)
					continue
				}
				if !yield(t) {
					return
				}
			}
		}
	}
}

// NeighborCount returns how many trees Neighbors yields for n.
func (g *Grammar) NeighborCount(n *Node) int {
	count := 0
	a := NewArena(n)
	for id := range a.Len() {
		cur := a.Rule(id)
		for _, alt := range g.rules[cur.NT] {
			if alt == cur {
				continue
			}
			if _, ok := g.substitute(a, id, alt); ok {
				count++
			}
		}
	}
	return count
}

// substitute builds the node that replaces id when its rule becomes alt.
// It reports false if some position can be filled by no finite tree.
func (g *Grammar) substitute(a *Arena, id int, alt *Rule) (*Node, bool) {
	old := a.Rule(id)
	kids := a.Children(id)
	n := g.MakeNode(alt)
	for i, t := range alt.ArgTypes {
		if i < old.Arity() && i < len(kids) && old.ArgTypes[i] == t && kids[i] != NoParent {
			n.Children[i] = a.Subtree(kids[i])
			continue
		}
		m := g.minimal[t]
		if m == nil {
			return nil, false
		}
		n.Children[i] = m.Clone()
	}
	return n, true
}
