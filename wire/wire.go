// Package wire is the CBOR encoding of trees and run-time values. Encoding
// uses canonical mode, so equal inputs always produce equal bytes; Key
// relies on that to build map keys from arbitrary values.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/fleet/grammar"
	"github.com/chazu/fleet/hash"
)

// TreeVersion is the current tree message format version.
const TreeVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal encodes v canonically.
func Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

// Key returns the canonical encoding of v as a string, for use as a map
// key.
func Key(v any) (string, error) {
	b, err := cborEncMode.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("wire: key: %w", err)
	}
	return string(b), nil
}

// NodeMessage is one node of a tree in pre-order.
type NodeMessage struct {
	NT  string `cbor:"1,keyasint"`
	Tag string `cbor:"2,keyasint"`
}

// TreeMessage carries a tree between processes. Hash is the content hash
// of the tree at the sender.
type TreeMessage struct {
	Version int           `cbor:"1,keyasint"`
	Nodes   []NodeMessage `cbor:"2,keyasint"`
	Hash    hash.Sum      `cbor:"3,keyasint"`
}

// NewTreeMessage flattens a complete tree.
func NewTreeMessage(n *grammar.Node) (*TreeMessage, error) {
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}
	m := &TreeMessage{Version: TreeVersion, Hash: hash.HashTree(n)}
	for x := range n.All() {
		m.Nodes = append(m.Nodes, NodeMessage{NT: x.Rule.NTName, Tag: x.Rule.Tag})
	}
	return m, nil
}

// Tree rebuilds the tree against g and checks it against the declared
// hash.
func (m *TreeMessage) Tree(g *grammar.Grammar) (*grammar.Node, error) {
	if m.Version != TreeVersion {
		return nil, fmt.Errorf("wire: unsupported tree version %d", m.Version)
	}
	pos := 0
	var build func(want grammar.Nonterminal, root bool) (*grammar.Node, error)
	build = func(want grammar.Nonterminal, root bool) (*grammar.Node, error) {
		if pos >= len(m.Nodes) {
			return nil, fmt.Errorf("wire: tree truncated after %d nodes", pos)
		}
		nm := m.Nodes[pos]
		nt, err := g.Lookup(nm.NT)
		if err != nil {
			return nil, fmt.Errorf("wire: node %d: %w", pos, err)
		}
		if !root && nt != want {
			return nil, fmt.Errorf("wire: node %d: %w: %s where %s is required",
				pos, grammar.ErrTypeMismatch, nm.NT, g.Name(want))
		}
		r, err := g.LookupRule(nt, nm.Tag)
		if err != nil {
			return nil, fmt.Errorf("wire: node %d: %w", pos, err)
		}
		pos++
		n := g.MakeNode(r)
		for i, a := range r.ArgTypes {
			if n.Children[i], err = build(a, false); err != nil {
				return nil, err
			}
		}
		return n, nil
	}
	n, err := build(0, true)
	if err != nil {
		return nil, err
	}
	if pos != len(m.Nodes) {
		return nil, fmt.Errorf("wire: %d trailing nodes", len(m.Nodes)-pos)
	}
	if got := hash.HashTree(n); got != m.Hash {
		return nil, fmt.Errorf("wire: hash mismatch: declared %s, computed %s", m.Hash.Short(), got.Short())
	}
	return n, nil
}

// MarshalTree serializes a tree to CBOR bytes.
func MarshalTree(n *grammar.Node) ([]byte, error) {
	m, err := NewTreeMessage(n)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(m)
}

// UnmarshalTree deserializes a tree from CBOR bytes.
func UnmarshalTree(g *grammar.Grammar, data []byte) (*grammar.Node, error) {
	var m TreeMessage
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: unmarshal tree: %w", err)
	}
	return m.Tree(g)
}
