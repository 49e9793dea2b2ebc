package hash

import (
	"encoding/binary"
	"math"

	"github.com/chazu/fleet/grammar"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of program trees.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width (int64=8B, uint16=2B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Children: serialized inline in pre-order
//
// Rules are identified by nonterminal name and tag, not by index, so a tree
// keeps its hash when unrelated rules are added to the grammar.
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of a tree.
// The returned bytes are suitable for hashing with SHA-256.
func Serialize(n *grammar.Node) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.serializeNode(n)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeFloat64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) serializeNode(n *grammar.Node) {
	if n == nil {
		s.writeByte(TagMissing)
		return
	}
	r := n.Rule
	s.writeByte(TagNode)
	s.writeString(r.NTName)
	s.writeString(r.Tag)
	s.writeByte(byte(r.Op))
	s.writeUint16(uint16(len(n.Children)))

	switch r.Op {
	case grammar.OpConst:
		s.serializeConst(r.Const)
	case grammar.OpRecurse, grammar.OpMemRecurse:
		s.writeByte(TagSubProgram)
		s.writeInt(r.Arg)
	case grammar.OpPrimitive:
		s.writeString(r.Primitive)
	}

	for _, c := range n.Children {
		s.serializeNode(c)
	}
}

func (s *serializer) serializeConst(v any) {
	switch c := v.(type) {
	case int64:
		s.writeByte(TagIntConst)
		s.writeInt64(c)
	case float64:
		s.writeByte(TagFloatConst)
		s.writeFloat64(c)
	case bool:
		s.writeByte(TagBoolConst)
		s.writeBool(c)
	case string:
		s.writeByte(TagStringConst)
		s.writeString(c)
	default:
		s.writeByte(TagNoConst)
	}
}

func (s *serializer) writeInt(v int) {
	s.writeInt64(int64(v))
}
