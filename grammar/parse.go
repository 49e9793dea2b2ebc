package grammar

import (
	"fmt"
	"strings"
	"unicode"
)

// RuleByTag finds the rule of nt whose tag is tag. When no tag matches
// exactly, a tag that is the unique rule with that prefix is accepted.
func (g *Grammar) RuleByTag(nt Nonterminal, tag string) (*Rule, error) {
	if !g.valid(nt) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNonterminal, nt)
	}
	var prefixed *Rule
	ambiguous := false
	for _, r := range g.rules[nt] {
		if r.Tag == tag {
			return r, nil
		}
		if strings.HasPrefix(r.Tag, tag) {
			if prefixed != nil {
				ambiguous = true
			}
			prefixed = r
		}
	}
	switch {
	case ambiguous:
		return nil, fmt.Errorf("tag %q is ambiguous in %q", tag, g.names[nt])
	case prefixed == nil:
		return nil, fmt.Errorf("no rule %q in %q", tag, g.names[nt])
	}
	return prefixed, nil
}

// Tokenize splits prefix notation into tags and parentheses.
func Tokenize(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, c := range s {
		switch {
		case c == '(' || c == ')':
			flush()
			toks = append(toks, string(c))
		case unicode.IsSpace(c):
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return toks
}

// ParseSExpr parses prefix notation such as "(+ 0 (+ 0 0))" into a tree
// for nt.
func (g *Grammar) ParseSExpr(nt Nonterminal, s string) (*Node, error) {
	return g.ExpandFromNames(nt, Tokenize(s))
}

// ExpandFromNames builds a tree for nt from tokens in prefix order. Each tag
// is matched against the rules of the nonterminal expected at its
// position, and that rule's arity says how many subtrees follow.
// Parentheses are optional, but when present they must enclose exactly one
// rule application.
func (g *Grammar) ExpandFromNames(nt Nonterminal, tokens []string) (*Node, error) {
	p := &parser{g: g, toks: tokens}
	n, err := p.parse(nt)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, p.errorf("trailing tokens")
	}
	return n, nil
}

type parser struct {
	g    *Grammar
	toks []string
	pos  int
}

func (p *parser) errorf(format string, args ...any) error {
	if p.pos >= len(p.toks) {
		return &ParseError{Pos: -1, Msg: fmt.Sprintf(format, args...)}
	}
	return &ParseError{Pos: p.pos, Token: p.toks[p.pos], Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) next() (string, bool) {
	if p.pos >= len(p.toks) {
		return "", false
	}
	t := p.toks[p.pos]
	p.pos++
	return t, true
}

func (p *parser) parse(nt Nonterminal) (*Node, error) {
	open := false
	if p.pos < len(p.toks) && p.toks[p.pos] == "(" {
		open = true
		p.pos++
	}
	if p.pos >= len(p.toks) {
		return nil, p.errorf("expected %s", p.g.names[nt])
	}
	tag := p.toks[p.pos]
	if tag == "(" || tag == ")" {
		return nil, p.errorf("expected a tag for %s", p.g.names[nt])
	}
	r, err := p.g.RuleByTag(nt, tag)
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	p.pos++

	n := p.g.MakeNode(r)
	for i, a := range r.ArgTypes {
		if p.pos >= len(p.toks) || p.toks[p.pos] == ")" {
			return nil, p.errorf("%q takes %d arguments, got %d", r.Tag, r.Arity(), i)
		}
		c, err := p.parse(a)
		if err != nil {
			return nil, err
		}
		n.Children[i] = c
	}
	if open {
		if t, ok := p.next(); !ok || t != ")" {
			if ok {
				p.pos--
			}
			return nil, p.errorf("%q takes %d arguments; expected )", r.Tag, r.Arity())
		}
	}
	return n, nil
}

// FromParseable reads the "nt:tag;nt:tag" form written by Node.Parseable.
func (g *Grammar) FromParseable(s string) (*Node, error) {
	parts := strings.Split(s, RuleDelimiter)
	pos := 0
	var build func(want Nonterminal, root bool) (*Node, error)
	build = func(want Nonterminal, root bool) (*Node, error) {
		if pos >= len(parts) {
			return nil, &ParseError{Pos: -1, Msg: "tree is incomplete"}
		}
		part := parts[pos]
		name, tag, ok := strings.Cut(part, NTDelimiter)
		if !ok {
			return nil, &ParseError{Pos: pos, Token: part, Msg: "missing " + NTDelimiter}
		}
		nt, err := g.Lookup(name)
		if err != nil {
			return nil, &ParseError{Pos: pos, Token: part, Msg: err.Error()}
		}
		if !root && nt != want {
			return nil, &ParseError{Pos: pos, Token: part, Msg: fmt.Sprintf("expected %s", g.names[want])}
		}
		r, err := g.LookupRule(nt, tag)
		if err != nil {
			return nil, &ParseError{Pos: pos, Token: part, Msg: err.Error()}
		}
		pos++
		n := g.MakeNode(r)
		for i, a := range r.ArgTypes {
			c, err := build(a, false)
			if err != nil {
				return nil, err
			}
			n.Children[i] = c
		}
		return n, nil
	}
	n, err := build(0, true)
	if err != nil {
		return nil, err
	}
	if pos != len(parts) {
		return nil, &ParseError{Pos: pos, Token: parts[pos], Msg: "trailing nodes"}
	}
	return n, nil
}

// LookupRule returns the rule of nt whose tag is exactly tag.
func (g *Grammar) LookupRule(nt Nonterminal, tag string) (*Rule, error) {
	if !g.valid(nt) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNonterminal, nt)
	}
	for _, r := range g.rules[nt] {
		if r.Tag == tag {
			return r, nil
		}
	}
	return nil, fmt.Errorf("no rule %q in %q", tag, g.names[nt])
}
