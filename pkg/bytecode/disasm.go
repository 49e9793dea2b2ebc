package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Fleet program v%d\n", p.Version))
	sb.WriteString(fmt.Sprintf("; %s -> %s", p.Input, p.Output))
	if p.Recursive {
		sb.WriteString(" [RECURSIVE]")
	}
	if p.Random {
		sb.WriteString(" [RANDOM]")
	}
	sb.WriteString("\n")
	if p.Source != "" {
		sb.WriteString(fmt.Sprintf("; Source: %s\n", p.Source))
	}
	sb.WriteString("\n")

	// Constants
	if len(p.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range p.Constants {
			display := FormatValue(v)
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
		sb.WriteString("\n")
	}

	// Primitives
	if len(p.Primitives) > 0 {
		sb.WriteString("; Primitives:\n")
		for i, prim := range p.Primitives {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, prim.Signature()))
		}
		sb.WriteString("\n")
	}

	// Code section
	sb.WriteString("; Code:\n")
	for _, line := range p.DisassembleToLines() {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return sb.String()
}

// DisassembleInstruction returns a human-readable representation of a
// single instruction.
func (p *Program) DisassembleInstruction(offset int) string {
	if offset < 0 || offset >= len(p.Code) {
		return "<end of code>"
	}
	ins := p.Code[offset]
	name := fmt.Sprintf("%-12s %-6s", ins.Op, ins.Out)

	switch ins.Op {
	case OpConst:
		val := "?"
		if ins.Arg >= 0 && ins.Arg < len(p.Constants) {
			val = FormatValue(p.Constants[ins.Arg])
		}
		return fmt.Sprintf("%s %d ; %s", name, ins.Arg, val)

	case OpPrimitive:
		sig := "?"
		if ins.Arg >= 0 && ins.Arg < len(p.Primitives) {
			sig = p.Primitives[ins.Arg].Signature()
		}
		return fmt.Sprintf("%s %d ; %s", name, ins.Arg, sig)

	case OpJump, OpAnd, OpOr:
		return fmt.Sprintf("%s %+d (-> %04X)", name, ins.Arg, offset+1+ins.Arg)

	case OpIf:
		return fmt.Sprintf("%s %+d (-> %04X) invalid -> %04X", name, ins.Arg, offset+1+ins.Arg, offset+1+ins.Skip)

	case OpRecurse, OpMemRecurse:
		return fmt.Sprintf("%s %d", name, ins.Arg)

	default:
		return strings.TrimRight(name, " ")
	}
}

// DisassembleToLines returns the code listing as a slice of lines.
func (p *Program) DisassembleToLines() []string {
	lines := make([]string, 0, len(p.Code))
	for i := range p.Code {
		lines = append(lines, fmt.Sprintf("%04X  %s", i, p.DisassembleInstruction(i)))
	}
	return lines
}
