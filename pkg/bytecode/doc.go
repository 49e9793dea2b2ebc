// Package bytecode compiles grammar trees to flat programs and runs them on
// a stack machine with typed stacks, step and depth budgets, and
// memoized recursion.
//
// # Programs
//
// A Program is a tree linearized in post-order: every child is evaluated
// before the rule that consumes it. Control rules (if, and, or) are the
// exception. Their branches are laid out in line and skipped with forward
// jumps, so only the branch that decides the result runs:
//
//	if c t e   =>   <c> IF <t> JUMP <e>
//	and a b    =>   <a> AND <b>
//
// Each instruction records the pre-order id of the node it came from, so a
// failing instruction can be traced back to the subtree that produced it.
//
// # Machine
//
// The Machine keeps one stack per value kind (int, float, bool, string).
// Each instruction executed costs one step; a run that goes over
// StepBudget, or nests recursive calls deeper than DepthBudget, is aborted
// with an error that callers treat as an ordinary outcome (see
// IsRecoverable). Budgets are checked on every instruction, which is the
// only way a run stops early: there is no other cancellation.
//
// Primitives that hit a domain error (division by zero, log of a negative
// number) produce Invalid instead of failing. Invalid flows through
// primitives, conditionals and recursion, and may be the final result.
//
// A program that pushes a value of the wrong kind or pops an empty stack
// did not come from the grammar it was compiled against. Such contract
// violations stop the run and are logged with the program and offset.
//
// # Recursion and memoization
//
// RECURSE k calls sub-program k, supplied by the machine's ProgramLoader,
// on the value of its child. MEM_RECURSE first looks the call up in a memo
// keyed by k and the canonical encoding of the input; a hit costs no steps.
// The memo belongs to one run and is cleared by Start.
//
// # Random programs
//
// FLIP and FLIPP are sampled from Machine.Rand. Without a random source the
// machine stops at the choice, and a TracePool can fork it into both
// outcomes to compute the program's full output distribution.
package bytecode
