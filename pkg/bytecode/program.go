package bytecode

import (
	"fmt"

	"github.com/chazu/fleet/grammar"
)

// ProgramVersion is the current instruction format version.
// Increment when making incompatible changes to the format.
const ProgramVersion uint16 = 1

// Instruction is one step of a program. Each instruction pops its inputs
// from the stacks of the In kinds (last input on top) and pushes at most
// one value onto the stack of the Out kind.
type Instruction struct {
	Op   Opcode
	Out  grammar.Kind
	In   []grammar.Kind
	Arg  int // constant index, primitive index, sub-program index, or jump distance
	Skip int // OpIf: distance to the end of the whole conditional
	Node int // pre-order id of the node this instruction came from
}

// Program is a tree linearized in post-order: children are evaluated
// before the operation that consumes them, except where control flow
// skips a branch. Jump distances count instructions after the jump.
type Program struct {
	Version uint16

	Code       []Instruction
	Constants  []Value
	Primitives []*Primitive

	Output grammar.Kind // kind of the value the program leaves behind
	Input  grammar.Kind // kind of the value INPUT pushes

	Source    string // the tree, in prefix notation
	Recursive bool   // contains RECURSE or MEM_RECURSE
	Random    bool   // contains FLIP or FLIPP
}

// NewProgram creates an empty program.
func NewProgram(output, input grammar.Kind) *Program {
	return &Program{
		Version: ProgramVersion,
		Code:    make([]Instruction, 0, 16),
		Output:  output,
		Input:   input,
	}
}

// AddConstant adds a value to the pool and returns its index.
// If the constant already exists, returns the existing index.
func (p *Program) AddConstant(v Value) int {
	for i, c := range p.Constants {
		if c == v {
			return i
		}
	}
	p.Constants = append(p.Constants, v)
	return len(p.Constants) - 1
}

// AddPrimitive adds a primitive to the table and returns its index.
func (p *Program) AddPrimitive(prim *Primitive) int {
	for i, q := range p.Primitives {
		if q == prim {
			return i
		}
	}
	p.Primitives = append(p.Primitives, prim)
	return len(p.Primitives) - 1
}

// Emit appends an instruction and returns its offset.
func (p *Program) Emit(ins Instruction) int {
	switch {
	case ins.Op.IsCall():
		p.Recursive = true
	case ins.Op.IsRandom():
		p.Random = true
	}
	p.Code = append(p.Code, ins)
	return len(p.Code) - 1
}

// PatchJump makes the jump at offset land on the current end of the code.
func (p *Program) PatchJump(offset int) {
	p.Code[offset].Arg = len(p.Code) - (offset + 1)
}

// PatchSkip makes the Invalid exit of the conditional at offset land on the
// current end of the code.
func (p *Program) PatchSkip(offset int) {
	p.Code[offset].Skip = len(p.Code) - (offset + 1)
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Code)
}

// Validate checks that every operand refers to something in the program
// and every jump stays inside it.
func (p *Program) Validate() error {
	for i, ins := range p.Code {
		bad := func(format string, args ...any) error {
			return fmt.Errorf("bytecode: %04X %s: %s", i, ins.Op, fmt.Sprintf(format, args...))
		}
		if _, ok := opcodeInfoTable[ins.Op]; !ok {
			return bad("%v", ErrUnknownOpcode)
		}
		switch ins.Op {
		case OpConst:
			if ins.Arg < 0 || ins.Arg >= len(p.Constants) {
				return bad("constant %d out of range", ins.Arg)
			}
		case OpPrimitive:
			if ins.Arg < 0 || ins.Arg >= len(p.Primitives) {
				return bad("primitive %d out of range", ins.Arg)
			}
		case OpRecurse, OpMemRecurse:
			if ins.Arg < 0 {
				return bad("negative sub-program %d", ins.Arg)
			}
		}
		if ins.Op.IsJump() {
			if ins.Arg < 0 || i+1+ins.Arg > len(p.Code) {
				return bad("jump %d leaves the program", ins.Arg)
			}
			if ins.Op == OpIf && (ins.Skip < ins.Arg || i+1+ins.Skip > len(p.Code)) {
				return bad("skip %d leaves the program", ins.Skip)
			}
		}
	}
	return nil
}

// ProgramLoader supplies the sub-programs that RECURSE and MEM_RECURSE
// call by index.
type ProgramLoader interface {
	Program(k int) (*Program, error)
}

// Lexicon is a ProgramLoader over a fixed list of programs: sub-program k
// is the k'th entry, so a program can call itself and its siblings.
type Lexicon []*Program

// Program returns the k'th program.
func (l Lexicon) Program(k int) (*Program, error) {
	if k < 0 || k >= len(l) || l[k] == nil {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnknownProgram, k, len(l))
	}
	return l[k], nil
}
