package grammar

import (
	"errors"
	"fmt"
)

var (
	// ErrDepthExceeded is returned when generation recurses past the
	// grammar's maximum depth. It is an expected outcome: retry or treat
	// the tree as invalid.
	ErrDepthExceeded = errors.New("grammar: depth exceeded")

	// ErrIndexOutOfRange is returned for rule or child indexes outside the
	// valid range.
	ErrIndexOutOfRange = errors.New("grammar: index out of range")

	ErrTypeMismatch          = errors.New("grammar: nonterminal mismatch")
	ErrMalformedTree         = errors.New("grammar: malformed tree")
	ErrUnknownNonterminal    = errors.New("grammar: unknown nonterminal")
	ErrNoRules               = errors.New("grammar: nonterminal has no rules")
	ErrParse                 = errors.New("grammar: parse error")
	ErrGenerateRetriesFailed = errors.New("grammar: generation failed after retries")
)

// ParseError describes a failure to turn a token sequence into a tree.
type ParseError struct {
	Pos   int    // token position, or -1 at end of input
	Token string // offending token
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("parse error at end of input: %s", e.Msg)
	}
	return fmt.Sprintf("parse error at token %d %q: %s", e.Pos, e.Token, e.Msg)
}

// Unwrap lets errors.Is(err, ErrParse) match.
func (e *ParseError) Unwrap() error {
	return ErrParse
}
