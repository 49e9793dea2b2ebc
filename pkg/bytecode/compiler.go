package bytecode

import (
	"fmt"

	"github.com/chazu/fleet/grammar"
)

// Compiler converts grammar trees to programs.
type Compiler struct {
	g    *grammar.Grammar
	prim *Registry

	prog *Program
	id   int // pre-order id of the next node
}

// NewCompiler returns a compiler for trees of g whose primitive rules are
// resolved in reg. A nil reg means StandardRegistry.
func NewCompiler(g *grammar.Grammar, reg *Registry) *Compiler {
	if reg == nil {
		reg = StandardRegistry()
	}
	return &Compiler{g: g, prim: reg}
}

// Compile compiles a tree of g with the standard primitives.
func Compile(g *grammar.Grammar, n *grammar.Node) (*Program, error) {
	return NewCompiler(g, nil).Compile(n)
}

// Compile linearizes a complete tree. The program's output kind is that of
// the tree's nonterminal; its input kind is that of the grammar's input
// nonterminal.
func (c *Compiler) Compile(n *grammar.Node) (*Program, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	c.prog = NewProgram(c.g.Kind(n.NT()), c.g.Kind(c.g.Input()))
	c.prog.Source = n.String()
	c.id = 0
	if err := c.compileNode(n); err != nil {
		return nil, err
	}
	p := c.prog
	c.prog = nil
	return p, nil
}

func (c *Compiler) kinds(nts []grammar.Nonterminal) []grammar.Kind {
	if len(nts) == 0 {
		return nil
	}
	out := make([]grammar.Kind, len(nts))
	for i, nt := range nts {
		out[i] = c.g.Kind(nt)
	}
	return out
}

func (c *Compiler) compileNode(n *grammar.Node) error {
	r := n.Rule
	id := c.id
	c.id++
	ins := Instruction{Out: c.g.Kind(r.NT), In: c.kinds(r.ArgTypes), Node: id}
	wrap := func(err error) error {
		return fmt.Errorf("bytecode: node %d %q: %w", id, r.Tag, err)
	}

	switch r.Op {
	case grammar.OpConst:
		if k, ok := KindOf(r.Const); !ok || k != ins.Out {
			return wrap(fmt.Errorf("%w: constant %v is not a %s", ErrTypeMismatch, r.Const, ins.Out))
		}
		ins.Op = OpConst
		ins.Arg = c.prog.AddConstant(r.Const)
		c.prog.Emit(ins)

	case grammar.OpInput:
		if ins.Out != c.prog.Input {
			return wrap(fmt.Errorf("%w: input is a %s, rule produces %s", ErrTypeMismatch, c.prog.Input, ins.Out))
		}
		ins.Op = OpInput
		c.prog.Emit(ins)

	case grammar.OpPrimitive:
		p, err := c.prim.Lookup(r.Primitive, ins.In, ins.Out)
		if err != nil {
			return wrap(err)
		}
		if err := c.compileChildren(n); err != nil {
			return err
		}
		ins.Op = OpPrimitive
		ins.Arg = c.prog.AddPrimitive(p)
		c.prog.Emit(ins)

	case grammar.OpIf:
		// <cond> IF <then> JUMP <else>
		if err := c.compileNode(n.Children[0]); err != nil {
			return err
		}
		ins.Op = OpIf
		ins.In = ins.In[:1]
		at := c.prog.Emit(ins)
		if err := c.compileNode(n.Children[1]); err != nil {
			return err
		}
		jump := c.prog.Emit(Instruction{Op: OpJump, Out: ins.Out, Node: id})
		c.prog.PatchJump(at)
		if err := c.compileNode(n.Children[2]); err != nil {
			return err
		}
		c.prog.PatchJump(jump)
		c.prog.PatchSkip(at)

	case grammar.OpAnd, grammar.OpOr:
		// <a> AND <b>: the right operand runs only when it decides the result.
		if err := c.compileNode(n.Children[0]); err != nil {
			return err
		}
		ins.Op = OpAnd
		if r.Op == grammar.OpOr {
			ins.Op = OpOr
		}
		ins.In = ins.In[:1]
		at := c.prog.Emit(ins)
		if err := c.compileNode(n.Children[1]); err != nil {
			return err
		}
		c.prog.PatchJump(at)

	case grammar.OpNot:
		if err := c.compileChildren(n); err != nil {
			return err
		}
		ins.Op = OpNot
		c.prog.Emit(ins)

	case grammar.OpRecurse, grammar.OpMemRecurse:
		if err := c.compileChildren(n); err != nil {
			return err
		}
		ins.Op = OpRecurse
		if r.Op == grammar.OpMemRecurse {
			ins.Op = OpMemRecurse
		}
		ins.Arg = r.Arg
		c.prog.Emit(ins)

	case grammar.OpFlip:
		ins.Op = OpFlip
		c.prog.Emit(ins)

	case grammar.OpFlipP:
		if err := c.compileChildren(n); err != nil {
			return err
		}
		ins.Op = OpFlipP
		c.prog.Emit(ins)

	default:
		return wrap(fmt.Errorf("%w: rule op %s", ErrUnknownOpcode, r.Op))
	}
	return nil
}

func (c *Compiler) compileChildren(n *grammar.Node) error {
	for _, ch := range n.Children {
		if err := c.compileNode(ch); err != nil {
			return err
		}
	}
	return nil
}
