package bytecode

import (
	"errors"
	"fmt"
)

// Expected outcomes. A run that ends with one of these is scored by the
// caller; nothing is wrong with the machine or the program.
var (
	ErrStepBudgetExceeded  = errors.New("step budget exceeded")
	ErrDepthBudgetExceeded = errors.New("depth budget exceeded")
)

// Domain errors returned by primitives. The machine turns them into
// Invalid and keeps running.
var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrDomain         = errors.New("argument outside the domain")
)

// Contract violations: the program does not match the grammar it claims to
// come from. The run is stopped and the error logged with the tree and
// instruction offset.
var (
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrUnknownProgram   = errors.New("unknown sub-program")
	ErrUnknownOpcode    = errors.New("unknown opcode")
	ErrUnknownPrimitive = errors.New("unknown primitive")
)

// ErrRandomChoice is returned by Run when the program reaches a random
// choice and the machine has no random source. A TracePool resolves it by
// exploring both branches.
var ErrRandomChoice = errors.New("random choice requires a random source or a trace pool")

// VMError locates a run-time error in a program.
type VMError struct {
	Err    error
	Op     Opcode
	Offset int    // instruction index
	Node   int    // pre-order id of the node that emitted the instruction
	Source string // the program's tree
}

func (e *VMError) Error() string {
	return fmt.Sprintf("%s at %04X (%s, node %d) in %s", e.Err, e.Offset, e.Op, e.Node, e.Source)
}

func (e *VMError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err is an expected outcome: an exhausted
// budget or a domain error.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrStepBudgetExceeded) ||
		errors.Is(err, ErrDepthBudgetExceeded) ||
		errors.Is(err, ErrDivisionByZero) ||
		errors.Is(err, ErrDomain)
}

// IsContractViolation reports whether err means the program and the
// machine disagree about the grammar.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrStackUnderflow) ||
		errors.Is(err, ErrUnknownProgram) ||
		errors.Is(err, ErrUnknownOpcode) ||
		errors.Is(err, ErrUnknownPrimitive)
}
