package bytecode

import "fmt"

// Opcode represents a machine instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Values (0x00-0x0F)
	// ========================================================================

	OpNop   Opcode = 0x00 // No operation
	OpConst Opcode = 0x01 // Push constant: Arg = constant pool index
	OpInput Opcode = 0x02 // Push the current call's input

	// ========================================================================
	// Primitive calls (0x10-0x1F)
	// ========================================================================

	OpPrimitive Opcode = 0x10 // Pop len(In) values, push result: Arg = primitive index

	// ========================================================================
	// Control flow (0x20-0x2F)
	// ========================================================================

	OpJump Opcode = 0x20 // Skip Arg instructions
	OpIf   Opcode = 0x21 // Pop cond; false skips Arg, Invalid pushes Invalid and skips Skip
	OpAnd  Opcode = 0x22 // Pop a; false or Invalid pushes it and skips Arg
	OpOr   Opcode = 0x23 // Pop a; true or Invalid pushes it and skips Arg
	OpNot  Opcode = 0x24 // Pop a, push its negation

	// ========================================================================
	// Recursion (0x30-0x3F)
	// ========================================================================

	OpRecurse    Opcode = 0x30 // Pop input, call sub-program Arg
	OpMemRecurse Opcode = 0x31 // As OpRecurse, answering repeated inputs from the memo

	// ========================================================================
	// Random choice (0x40-0x4F)
	// ========================================================================

	OpFlip  Opcode = 0x40 // Push a fair coin
	OpFlipP Opcode = 0x41 // Pop p, push a coin that is true with probability p
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string // Human-readable name
	StackPop  int    // How many values popped (-1 = len(In))
	StackPush int    // How many values pushed
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Values
	OpNop:   {"NOP", 0, 0},
	OpConst: {"CONST", 0, 1},
	OpInput: {"INPUT", 0, 1},

	// Primitives
	OpPrimitive: {"PRIMITIVE", -1, 1},

	// Control flow
	OpJump: {"JUMP", 0, 0},
	OpIf:   {"IF", 1, 0},
	OpAnd:  {"AND", 1, 0},
	OpOr:   {"OR", 1, 0},
	OpNot:  {"NOT", 1, 1},

	// Recursion
	OpRecurse:    {"RECURSE", 1, 1},
	OpMemRecurse: {"MEM_RECURSE", 1, 1},

	// Random choice
	OpFlip:  {"FLIP", 0, 1},
	OpFlipP: {"FLIPP", 1, 1},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsJump returns true if this opcode may move the program counter forward
// past the next instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpOr
}

// IsCall returns true if this opcode enters a sub-program.
func (op Opcode) IsCall() bool {
	return op == OpRecurse || op == OpMemRecurse
}

// IsRandom returns true if this opcode makes a random choice.
func (op Opcode) IsRandom() bool {
	return op == OpFlip || op == OpFlipP
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
