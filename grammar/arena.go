package grammar

import "fmt"

// NoParent is returned by Arena.Parent for the root.
const NoParent = -1

type arenaEntry struct {
	rule     *Rule
	lp       float64
	children []int
	parent   int
	slot     int // position in the parent's child list
}

// Arena is a flat, index-addressed view of a tree. Ids are pre-order
// positions, so the root is id 0 and ids agree with Node.All and with the
// node ids recorded in compiled programs. Parent links are plain indexes,
// which makes surgery (replace a subtree, walk to the root) safe: the arena
// is never mutated, every edit materializes a fresh tree.
type Arena struct {
	entries []arenaEntry
}

// NewArena flattens root.
func NewArena(root *Node) *Arena {
	a := &Arena{entries: make([]arenaEntry, 0, root.Size())}
	a.add(root, NoParent, 0)
	return a
}

func (a *Arena) add(n *Node, parent, slot int) int {
	id := len(a.entries)
	a.entries = append(a.entries, arenaEntry{
		rule:     n.Rule,
		lp:       n.lp,
		parent:   parent,
		slot:     slot,
		children: make([]int, 0, len(n.Children)),
	})
	for i, c := range n.Children {
		if c == nil {
			a.entries[id].children = append(a.entries[id].children, NoParent)
			continue
		}
		cid := a.add(c, id, i)
		a.entries[id].children = append(a.entries[id].children, cid)
	}
	return id
}

// Len returns the number of nodes.
func (a *Arena) Len() int {
	return len(a.entries)
}

// Root returns the id of the root, always 0.
func (a *Arena) Root() int {
	return 0
}

// Depth returns the number of ancestors of id.
func (a *Arena) Depth(id int) int {
	d := 0
	for cur := a.entries[id].parent; cur != NoParent; cur = a.entries[cur].parent {
		d++
	}
	return d
}

// Rule returns the rule at id.
func (a *Arena) Rule(id int) *Rule {
	return a.entries[id].rule
}

// Parent returns the parent id and the child slot id occupies in it, or
// NoParent for the root.
func (a *Arena) Parent(id int) (parent, slot int) {
	e := a.entries[id]
	return e.parent, e.slot
}

// Children returns the child ids of id. A missing child of a partial tree
// has id NoParent.
func (a *Arena) Children(id int) []int {
	return a.entries[id].children
}

// Path returns the ids from the root down to id, inclusive.
func (a *Arena) Path(id int) []int {
	var rev []int
	for cur := id; cur != NoParent; cur = a.entries[cur].parent {
		rev = append(rev, cur)
	}
	out := make([]int, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}

// Subtree materializes a copy of the subtree rooted at id.
func (a *Arena) Subtree(id int) *Node {
	return a.build(id, -1, nil)
}

// Tree materializes a copy of the whole tree.
func (a *Arena) Tree() *Node {
	return a.Subtree(0)
}

// Replace returns a new tree equal to this one except that the subtree at
// id is a clone of repl. repl must produce the same nonterminal.
func (a *Arena) Replace(id int, repl *Node) (*Node, error) {
	if id < 0 || id >= len(a.entries) {
		return nil, fmt.Errorf("%w: arena id %d of %d", ErrIndexOutOfRange, id, len(a.entries))
	}
	if repl.NT() != a.entries[id].rule.NT {
		return nil, fmt.Errorf("%w: replacing nonterminal %d with %d",
			ErrTypeMismatch, a.entries[id].rule.NT, repl.NT())
	}
	return a.build(0, id, repl), nil
}

func (a *Arena) build(id, at int, repl *Node) *Node {
	if id == at {
		return repl.Clone()
	}
	e := a.entries[id]
	n := &Node{Rule: e.rule, lp: e.lp, Children: make([]*Node, len(e.children))}
	for i, cid := range e.children {
		if cid == NoParent {
			continue
		}
		n.Children[i] = a.build(cid, at, repl)
	}
	return n
}
