package grammar

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// DefaultMaxDepth bounds generation recursion when Options.MaxDepth is zero.
const DefaultMaxDepth = 64

// RuleSpec describes a rule to add to a Builder.
type RuleSpec struct {
	NT        Nonterminal
	Args      []Nonterminal
	Tag       string
	Format    string  // defaults to "tag" or "(tag %s ...)"
	Weight    float64 // 0 defaults to 1 in Add; Const and Primitive need it positive
	Op        Op
	Primitive string // defaults to Tag for OpPrimitive
	Const     any
	Arg       int

	weighted bool // Weight was passed explicitly
}

// Options configures Build.
type Options struct {
	Start    Nonterminal // output nonterminal of whole programs
	Input    Nonterminal // nonterminal of a program's argument; defaults to Start
	HasInput bool        // set when Input is meaningful
	MaxDepth int
}

// Builder accumulates nonterminals and rules and produces an immutable
// Grammar.
type Builder struct {
	names  []string
	kinds  []Kind
	byName map[string]Nonterminal
	specs  []RuleSpec
	built  bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{byName: make(map[string]Nonterminal)}
}

// Nonterminal declares a nonterminal (or returns the existing one with the
// same name).
func (b *Builder) Nonterminal(name string, kind Kind) Nonterminal {
	if nt, ok := b.byName[name]; ok {
		return nt
	}
	nt := Nonterminal(len(b.names))
	b.names = append(b.names, name)
	b.kinds = append(b.kinds, kind)
	b.byName[name] = nt
	return nt
}

// Lookup returns a previously declared nonterminal.
func (b *Builder) Lookup(name string) (Nonterminal, bool) {
	nt, ok := b.byName[name]
	return nt, ok
}

// Add queues a rule.
func (b *Builder) Add(spec RuleSpec) {
	b.specs = append(b.specs, spec)
}

// Const adds a terminal that pushes value.
func (b *Builder) Const(nt Nonterminal, tag string, value any, weight float64) {
	b.Add(RuleSpec{NT: nt, Tag: tag, Op: OpConst, Const: value, Weight: weight, weighted: true})
}

// Primitive adds a rule that applies the named primitive to its children.
func (b *Builder) Primitive(nt Nonterminal, tag, primitive string, weight float64, args ...Nonterminal) {
	b.Add(RuleSpec{NT: nt, Tag: tag, Op: OpPrimitive, Primitive: primitive, Weight: weight, Args: args, weighted: true})
}

// Build validates the queued rules and returns the grammar. A Builder can
// only be built once.
func (b *Builder) Build(opts Options) (*Grammar, error) {
	if b.built {
		return nil, fmt.Errorf("grammar: builder already built")
	}
	if len(b.names) == 0 {
		return nil, fmt.Errorf("grammar: no nonterminals declared")
	}
	if !b.valid(opts.Start) {
		return nil, fmt.Errorf("%w: start %d", ErrUnknownNonterminal, opts.Start)
	}
	if !opts.HasInput {
		opts.Input = opts.Start
	}
	if !b.valid(opts.Input) {
		return nil, fmt.Errorf("%w: input %d", ErrUnknownNonterminal, opts.Input)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	g := &Grammar{
		names:    slices.Clone(b.names),
		kinds:    slices.Clone(b.kinds),
		byName:   make(map[string]Nonterminal, len(b.names)),
		rules:    make([][]*Rule, len(b.names)),
		z:        make([]float64, len(b.names)),
		start:    opts.Start,
		input:    opts.Input,
		maxDepth: opts.MaxDepth,
	}
	for k, v := range b.byName {
		g.byName[k] = v
	}

	for i, spec := range b.specs {
		r, err := b.makeRule(spec, i, opts)
		if err != nil {
			return nil, err
		}
		g.rules[r.NT] = append(g.rules[r.NT], r)
		g.z[r.NT] += r.Weight
	}

	for nt, rs := range g.rules {
		slices.SortStableFunc(rs, func(x, y *Rule) int {
			switch {
			case x.less(y):
				return -1
			case y.less(x):
				return 1
			}
			return 0
		})
		for i, r := range rs {
			r.Index = i
			r.lp = math.Log(r.Weight) - math.Log(g.z[nt])
		}
		if len(rs) == 0 {
			logger.Warningf("nonterminal %q has no rules", g.names[nt])
		}
	}

	g.offsets = make([]int, len(g.rules)+1)
	for nt, rs := range g.rules {
		g.offsets[nt+1] = g.offsets[nt] + len(rs)
	}
	g.computeMinimal()

	b.built = true
	logger.Debugf("built grammar: %d nonterminals, %d rules, start %q", len(g.names), g.offsets[len(g.rules)], g.names[g.start])
	return g, nil
}

func (b *Builder) valid(nt Nonterminal) bool {
	return nt >= 0 && int(nt) < len(b.names)
}

func (b *Builder) makeRule(spec RuleSpec, order int, opts Options) (*Rule, error) {
	if !b.valid(spec.NT) {
		return nil, fmt.Errorf("%w: rule %q nonterminal %d", ErrUnknownNonterminal, spec.Tag, spec.NT)
	}
	for _, a := range spec.Args {
		if !b.valid(a) {
			return nil, fmt.Errorf("%w: rule %q argument %d", ErrUnknownNonterminal, spec.Tag, a)
		}
	}
	if spec.Tag == "" {
		return nil, fmt.Errorf("grammar: rule for %q has an empty tag", b.names[spec.NT])
	}
	if strings.ContainsAny(spec.Tag, " \t\n();:") {
		return nil, fmt.Errorf("grammar: rule tag %q contains a reserved character", spec.Tag)
	}
	w := spec.Weight
	if w == 0 && !spec.weighted {
		w = 1
	}
	if !(w > 0) || math.IsInf(w, 0) {
		return nil, fmt.Errorf("grammar: rule %q has invalid weight %v", spec.Tag, spec.Weight)
	}
	format := spec.Format
	if format == "" {
		format = defaultFormat(spec.Tag, len(spec.Args))
	}
	if n := strings.Count(format, ChildPlaceholder); n != len(spec.Args) {
		return nil, fmt.Errorf("grammar: rule %q format %q has %d placeholders for %d children", spec.Tag, format, n, len(spec.Args))
	}
	prim := spec.Primitive
	if spec.Op == OpPrimitive && prim == "" {
		prim = spec.Tag
	}

	r := &Rule{
		NT:        spec.NT,
		NTName:    b.names[spec.NT],
		ArgTypes:  slices.Clone(spec.Args),
		Tag:       spec.Tag,
		Format:    format,
		Weight:    w,
		Op:        spec.Op,
		Primitive: prim,
		Const:     spec.Const,
		Arg:       spec.Arg,
		order:     order,
	}
	if err := b.checkOp(r, opts); err != nil {
		return nil, err
	}
	return r, nil
}

// checkOp enforces the shape each builtin op needs at run time.
func (b *Builder) checkOp(r *Rule, opts Options) error {
	kindOf := func(nt Nonterminal) Kind { return b.kinds[nt] }
	bad := func(why string) error {
		return fmt.Errorf("grammar: rule %q (%s): %s", r.Tag, r.Op, why)
	}
	switch r.Op {
	case OpPrimitive:
		if r.Primitive == "" {
			return bad("missing primitive name")
		}
	case OpConst:
		if r.Arity() != 0 {
			return bad("constants take no children")
		}
		if !kindMatches(kindOf(r.NT), r.Const) {
			return bad(fmt.Sprintf("constant %v (%T) is not a %s", r.Const, r.Const, kindOf(r.NT)))
		}
		if f, ok := r.Const.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return bad(fmt.Sprintf("constant %v is not finite", f))
		}
	case OpInput:
		if r.Arity() != 0 || r.NT != opts.Input {
			return bad("input must be a terminal of the input nonterminal")
		}
	case OpIf:
		if r.Arity() != 3 || kindOf(r.ArgTypes[0]) != KindBool || r.ArgTypes[1] != r.NT || r.ArgTypes[2] != r.NT {
			return bad("if needs (bool, T, T) children producing T")
		}
	case OpAnd, OpOr:
		if r.Arity() != 2 || kindOf(r.NT) != KindBool || kindOf(r.ArgTypes[0]) != KindBool || kindOf(r.ArgTypes[1]) != KindBool {
			return bad("needs two bool children producing bool")
		}
	case OpNot:
		if r.Arity() != 1 || kindOf(r.NT) != KindBool || kindOf(r.ArgTypes[0]) != KindBool {
			return bad("needs one bool child producing bool")
		}
	case OpRecurse, OpMemRecurse:
		if r.Arity() != 1 || r.ArgTypes[0] != opts.Input || r.NT != opts.Start {
			return bad("recursion takes the input nonterminal and produces the start nonterminal")
		}
		if r.Arg < 0 {
			return bad("negative sub-program index")
		}
	case OpFlip:
		if r.Arity() != 0 || kindOf(r.NT) != KindBool {
			return bad("flip is a bool terminal")
		}
	case OpFlipP:
		if r.Arity() != 1 || kindOf(r.NT) != KindBool || kindOf(r.ArgTypes[0]) != KindFloat {
			return bad("flipp takes a float child and produces bool")
		}
	default:
		return bad("unknown op")
	}
	return nil
}

// kindMatches reports whether v is the Go representation of kind.
func kindMatches(k Kind, v any) bool {
	switch v.(type) {
	case int64:
		return k == KindInt
	case float64:
		return k == KindFloat
	case bool:
		return k == KindBool
	case string:
		return k == KindString
	}
	return false
}
