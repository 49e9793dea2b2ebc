package bytecode

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/fleet/grammar"
	"github.com/chazu/fleet/stats"
	"github.com/chazu/fleet/wire"
)

var logger = commonlog.GetLogger("fleet.bytecode")

// Default budgets used by NewMachine.
const (
	DefaultStepBudget  = 4096
	DefaultDepthBudget = 64
)

const numKinds = int(grammar.KindString) + 1

// Status is where a machine is in its run.
type Status uint8

const (
	StatusReady Status = iota
	StatusRunning
	StatusCompleted
	StatusErrored
	StatusAborted
	StatusRandomChoice // stopped on a FLIP or FLIPP with no random source
)

var statusNames = [...]string{
	StatusReady:        "ready",
	StatusRunning:      "running",
	StatusCompleted:    "completed",
	StatusErrored:      "errored",
	StatusAborted:      "aborted",
	StatusRandomChoice: "random-choice",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

// Executable is anything that evaluates a program on an input.
type Executable interface {
	Run(p *Program, input Value) (Value, error)
}

var _ Executable = (*Machine)(nil)

// frame is one active program: the root or a recursive call.
type frame struct {
	prog    *Program
	pc      int
	input   Value
	memoKey string // set when the result must be stored in the memo
}

// Machine executes programs. It has one value stack per kind; a value
// pushed by an instruction lands on the stack of the instruction's output
// kind, so post-order evaluation never needs to move values between
// stacks.
//
// A Machine is not safe for concurrent use; give each goroutine its own.
// Every state it keeps, including the memo, is reset by Start.
type Machine struct {
	StepBudget  int  // instructions per run, counted across recursive calls
	DepthBudget int  // nested recursive calls
	Memoize     bool // memoize RECURSE as well as MEM_RECURSE

	// Loader resolves sub-program k for recursion. When nil, sub-program 0
	// is the program passed to Run and any other index is an error.
	Loader ProgramLoader

	// Rand samples FLIP and FLIPP. When nil the machine stops at a random
	// choice with StatusRandomChoice so that a TracePool can fork it.
	Rand *rand.Rand

	Stats *stats.Collector
	Trace bool

	status Status
	root   *Program
	frames []frame
	stacks [numKinds][]Value
	steps  int
	lp     float64
	memo   map[string]Value
	result Value
	err    error
}

// NewMachine creates a machine with the default budgets.
func NewMachine() *Machine {
	return &Machine{
		StepBudget:  DefaultStepBudget,
		DepthBudget: DefaultDepthBudget,
		memo:        make(map[string]Value),
	}
}

// Run executes p on input until it completes, fails, exhausts a budget or
// reaches a random choice it cannot make.
//
// Domain errors inside primitives do not end the run: they produce Invalid,
// which may well be the result. Budget errors wrap ErrStepBudgetExceeded or
// ErrDepthBudgetExceeded; contract violations wrap the errors recognized by
// IsContractViolation and are logged with the program and offset.
func (m *Machine) Run(p *Program, input Value) (Value, error) {
	m.Start(p, input)
	return m.Resume()
}

// Start resets the machine to run p on input without executing anything.
func (m *Machine) Start(p *Program, input Value) {
	m.root = p
	m.frames = append(m.frames[:0], frame{prog: p, input: input})
	for i := range m.stacks {
		clear(m.stacks[i])
		m.stacks[i] = m.stacks[i][:0]
	}
	m.steps = 0
	m.lp = 0
	if m.memo == nil {
		m.memo = make(map[string]Value)
	} else {
		clear(m.memo)
	}
	m.result, m.err = nil, nil
	m.status = StatusRunning
}

// Resume continues a started run.
func (m *Machine) Resume() (Value, error) {
	if m.status != StatusRunning {
		return nil, fmt.Errorf("bytecode: cannot resume a machine that is %s", m.status)
	}

	for len(m.frames) > 0 {
		f := &m.frames[len(m.frames)-1]
		if f.pc >= len(f.prog.Code) {
			if err := m.ret(); err != nil {
				return m.fail(f.prog, f.pc, nil, err)
			}
			continue
		}

		ins := &f.prog.Code[f.pc]
		if m.Rand == nil && m.needsChoice(ins) {
			m.status = StatusRandomChoice
			return nil, m.locate(f.prog, f.pc, ins, ErrRandomChoice)
		}
		if err := m.tick(); err != nil {
			return m.abort(f.prog, f.pc, ins, err)
		}
		if m.Trace {
			fmt.Fprintf(os.Stderr, "[%04X] %-12s depth=%d steps=%d\n", f.pc, ins.Op, len(m.frames)-1, m.steps)
		}

		pc := f.pc
		prog := f.prog
		f.pc++
		if err := m.exec(f, ins); err != nil {
			if errors.Is(err, ErrDepthBudgetExceeded) {
				return m.abort(prog, pc, ins, err)
			}
			return m.fail(prog, pc, ins, err)
		}
	}

	m.status = StatusCompleted
	m.Stats.RunFinished(m.status.String(), m.steps)
	return m.result, nil
}

// Status returns where the machine is in its run.
func (m *Machine) Status() Status { return m.status }

// Steps returns the instructions executed so far.
func (m *Machine) Steps() int { return m.steps }

// Depth returns the current recursion depth.
func (m *Machine) Depth() int { return max(len(m.frames)-1, 0) }

// LogProb returns the log probability of the random choices made so far.
func (m *Machine) LogProb() float64 { return m.lp }

// Result returns the value of a completed run.
func (m *Machine) Result() Value { return m.result }

// Err returns the error that ended the run, if any.
func (m *Machine) Err() error { return m.err }

// Clone copies the whole run state. The copy shares Loader, Rand and
// Stats with the original.
func (m *Machine) Clone() *Machine {
	c := *m
	c.frames = slices.Clone(m.frames)
	for i := range c.stacks {
		c.stacks[i] = slices.Clone(m.stacks[i])
	}
	c.memo = maps.Clone(m.memo)
	return &c
}

// PendingChoice returns the probability that the pending random choice
// comes out true.
func (m *Machine) PendingChoice() (float64, bool) {
	if m.status != StatusRandomChoice {
		return 0, false
	}
	f := &m.frames[len(m.frames)-1]
	if f.prog.Code[f.pc].Op == OpFlip {
		return 0.5, true
	}
	s := m.stacks[grammar.KindFloat]
	return s[len(s)-1].(float64), true
}

// Choose resolves the pending random choice with v, adding its log
// probability, and leaves the machine ready to Resume.
func (m *Machine) Choose(v bool) error {
	p, ok := m.PendingChoice()
	if !ok {
		return fmt.Errorf("bytecode: no pending choice; machine is %s", m.status)
	}
	f := &m.frames[len(m.frames)-1]
	ins := &f.prog.Code[f.pc]
	if ins.Op == OpFlipP {
		if _, err := m.pop(grammar.KindFloat); err != nil {
			return err
		}
	}
	m.status = StatusRunning
	if err := m.tick(); err != nil {
		_, err = m.abort(f.prog, f.pc, ins, err)
		return err
	}
	f.pc++
	m.lp += choiceLogProb(p, v)
	if err := m.push(ins.Out, v); err != nil {
		_, err = m.fail(f.prog, f.pc-1, ins, err)
		return err
	}
	return nil
}

func choiceLogProb(p float64, v bool) float64 {
	if v {
		return math.Log(p)
	}
	return math.Log1p(-p)
}

// needsChoice reports whether ins is a random choice that has to be made.
// A FLIPP whose probability is Invalid, NaN or out of range produces
// Invalid without choosing.
func (m *Machine) needsChoice(ins *Instruction) bool {
	switch ins.Op {
	case OpFlip:
		return true
	case OpFlipP:
		s := m.stacks[grammar.KindFloat]
		if len(s) == 0 {
			return false
		}
		p, ok := s[len(s)-1].(float64)
		return ok && validProbability(p)
	}
	return false
}

// validProbability is false for NaN.
func validProbability(p float64) bool {
	return p >= 0 && p <= 1
}

func (m *Machine) tick() error {
	m.steps++
	if m.steps > m.StepBudget {
		return ErrStepBudgetExceeded
	}
	return nil
}

func (m *Machine) exec(f *frame, ins *Instruction) error {
	switch ins.Op {
	case OpNop:

	case OpConst:
		return m.push(ins.Out, f.prog.Constants[ins.Arg])

	case OpInput:
		return m.push(ins.Out, f.input)

	case OpPrimitive:
		return m.callPrimitive(f.prog.Primitives[ins.Arg], ins)

	case OpJump:
		f.pc += ins.Arg

	case OpIf:
		c, err := m.pop(grammar.KindBool)
		if err != nil {
			return err
		}
		switch c := c.(type) {
		case Invalid:
			f.pc += ins.Skip
			return m.push(ins.Out, c)
		case bool:
			if !c {
				f.pc += ins.Arg
			}
		}

	case OpAnd, OpOr:
		a, err := m.pop(grammar.KindBool)
		if err != nil {
			return err
		}
		// AND decides on false, OR on true; Invalid decides both.
		if b, ok := a.(bool); !ok || b == (ins.Op == OpOr) {
			f.pc += ins.Arg
			return m.push(ins.Out, a)
		}

	case OpNot:
		a, err := m.pop(grammar.KindBool)
		if err != nil {
			return err
		}
		if b, ok := a.(bool); ok {
			return m.push(ins.Out, !b)
		}
		return m.push(ins.Out, a)

	case OpRecurse, OpMemRecurse:
		return m.call(ins, ins.Op == OpMemRecurse || m.Memoize)

	case OpFlip:
		m.lp += math.Log(0.5)
		return m.push(ins.Out, m.Rand.Float64() < 0.5)

	case OpFlipP:
		x, err := m.pop(grammar.KindFloat)
		if err != nil {
			return err
		}
		p, ok := x.(float64)
		if !ok {
			return m.push(ins.Out, x)
		}
		if !validProbability(p) {
			return m.push(ins.Out, Invalid{Reason: "flip probability " + strconv.FormatFloat(p, 'g', -1, 64)})
		}
		v := m.Rand.Float64() < p
		m.lp += choiceLogProb(p, v)
		return m.push(ins.Out, v)

	default:
		return ErrUnknownOpcode
	}
	return nil
}

func (m *Machine) callPrimitive(prim *Primitive, ins *Instruction) error {
	args := make([]Value, len(ins.In))
	for i := len(ins.In) - 1; i >= 0; i-- {
		v, err := m.pop(ins.In[i])
		if err != nil {
			return err
		}
		args[i] = v
	}
	for _, a := range args {
		if inv, ok := a.(Invalid); ok {
			return m.push(ins.Out, inv)
		}
	}
	v, err := prim.Fn(args)
	if err != nil {
		if errors.Is(err, ErrDivisionByZero) || errors.Is(err, ErrDomain) {
			return m.push(ins.Out, Invalid{Reason: prim.Name + ": " + err.Error()})
		}
		return fmt.Errorf("primitive %s: %w", prim.Signature(), err)
	}
	return m.push(ins.Out, v)
}

// call enters sub-program ins.Arg, or answers from the memo.
func (m *Machine) call(ins *Instruction, memoize bool) error {
	x, err := m.pop(ins.In[0])
	if err != nil {
		return err
	}
	if IsInvalid(x) {
		return m.push(ins.Out, x)
	}
	p, err := m.load(ins.Arg)
	if err != nil {
		return err
	}
	if p.Output != ins.Out || p.Input != ins.In[0] {
		return fmt.Errorf("%w: sub-program %d maps %s to %s, call site needs %s to %s",
			ErrTypeMismatch, ins.Arg, p.Input, p.Output, ins.In[0], ins.Out)
	}

	var key string
	if memoize {
		k, err := wire.Key(x)
		if err != nil {
			return err
		}
		key = strconv.Itoa(ins.Arg) + ":" + k
		if v, ok := m.memo[key]; ok {
			m.Stats.MemoHit()
			return m.push(ins.Out, v)
		}
		m.Stats.MemoMiss()
	}

	if len(m.frames) > m.DepthBudget {
		return ErrDepthBudgetExceeded
	}
	m.frames = append(m.frames, frame{prog: p, input: x, memoKey: key})
	return nil
}

func (m *Machine) load(k int) (*Program, error) {
	if m.Loader != nil {
		return m.Loader.Program(k)
	}
	if k == 0 {
		return m.root, nil
	}
	return nil, fmt.Errorf("%w: %d (no loader)", ErrUnknownProgram, k)
}

// ret finishes the innermost frame, handing its value to the caller.
func (m *Machine) ret() error {
	f := m.frames[len(m.frames)-1]
	v, err := m.pop(f.prog.Output)
	if err != nil {
		return err
	}
	if f.memoKey != "" {
		m.memo[f.memoKey] = v
	}
	m.frames = m.frames[:len(m.frames)-1]
	if len(m.frames) == 0 {
		m.result = v
		return nil
	}
	return m.push(f.prog.Output, v)
}

func (m *Machine) push(kind grammar.Kind, v Value) error {
	if int(kind) >= numKinds {
		return fmt.Errorf("%w: no %s stack", ErrTypeMismatch, kind)
	}
	if !IsInvalid(v) {
		if k, ok := KindOf(v); !ok || k != kind {
			return fmt.Errorf("%w: %T value %v on the %s stack", ErrTypeMismatch, v, v, kind)
		}
	}
	m.stacks[kind] = append(m.stacks[kind], v)
	return nil
}

func (m *Machine) pop(kind grammar.Kind) (Value, error) {
	if int(kind) >= numKinds {
		return nil, fmt.Errorf("%w: no %s stack", ErrTypeMismatch, kind)
	}
	s := m.stacks[kind]
	if len(s) == 0 {
		return nil, fmt.Errorf("%w: %s stack", ErrStackUnderflow, kind)
	}
	v := s[len(s)-1]
	s[len(s)-1] = nil
	m.stacks[kind] = s[:len(s)-1]
	return v, nil
}

func (m *Machine) locate(p *Program, offset int, ins *Instruction, err error) *VMError {
	e := &VMError{Err: err, Offset: offset, Node: -1, Source: p.Source}
	if ins != nil {
		e.Op = ins.Op
		e.Node = ins.Node
	}
	return e
}

// abort ends the run on an exhausted budget.
func (m *Machine) abort(p *Program, offset int, ins *Instruction, err error) (Value, error) {
	e := m.locate(p, offset, ins, err)
	m.status = StatusAborted
	m.err = e
	budget := stats.BudgetSteps
	if errors.Is(err, ErrDepthBudgetExceeded) {
		budget = stats.BudgetDepth
	}
	m.Stats.BudgetAbort(budget)
	m.Stats.RunFinished(m.status.String(), m.steps)
	logger.Debugf("run aborted after %d steps: %s", m.steps, e)
	return nil, e
}

// fail ends the run on a contract violation.
func (m *Machine) fail(p *Program, offset int, ins *Instruction, err error) (Value, error) {
	e := m.locate(p, offset, ins, err)
	m.status = StatusErrored
	m.err = e
	m.Stats.ContractViolation()
	m.Stats.RunFinished(m.status.String(), m.steps)
	logger.Errorf("contract violation: %s", e)
	return nil, e
}
