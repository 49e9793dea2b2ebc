package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the tree hashing serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// all previously computed content hashes.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// Tree node tags.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Structure
	TagNode    byte = 0x01 // nonterminal, tag, op, arity, then children
	TagMissing byte = 0x02 // empty child slot of a partial tree

	// Constant payloads, following a TagNode whose op is const
	TagIntConst    byte = 0x10
	TagFloatConst  byte = 0x11
	TagBoolConst   byte = 0x12
	TagStringConst byte = 0x13
	TagNoConst     byte = 0x14

	// Rule arguments
	TagSubProgram byte = 0x20 // sub-program index of a recursion rule

	// Reserved 0xFE-0xFF
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagNode, TagMissing,
	TagIntConst, TagFloatConst, TagBoolConst, TagStringConst, TagNoConst,
	TagSubProgram,
}
