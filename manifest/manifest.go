// Package manifest handles fleet.toml configuration: the grammar programs
// are drawn from, machine budgets, trace pool bounds and logging.
package manifest

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/fleet/grammar"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "fleet.toml"

// Manifest represents a fleet.toml configuration.
type Manifest struct {
	Grammar GrammarConfig `toml:"grammar"`
	VM      VMConfig      `toml:"vm"`
	Pool    PoolConfig    `toml:"pool"`
	Log     LogConfig     `toml:"log"`

	// Dir is the directory containing the fleet.toml file (set at load time).
	Dir string `toml:"-"`
}

// GrammarConfig declares nonterminals and rules.
type GrammarConfig struct {
	Start        string              `toml:"start"`
	Input        string              `toml:"input,omitempty"`
	MaxDepth     int                 `toml:"max-depth,omitempty"`
	Nonterminals []NonterminalConfig `toml:"nonterminal"`
	Rules        []RuleConfig        `toml:"rule"`
}

// NonterminalConfig declares one nonterminal and its value kind.
type NonterminalConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

// RuleConfig declares one rule. Op defaults to "primitive" for rules with
// a Primitive or children, and to "const" for rules with a Const. A rule
// without a weight gets weight 1; a given weight must be positive.
type RuleConfig struct {
	NT        string   `toml:"nt"`
	Tag       string   `toml:"tag"`
	Args      []string `toml:"args,omitempty"`
	Weight    *float64 `toml:"weight,omitempty"`
	Op        string   `toml:"op,omitempty"`
	Primitive string   `toml:"primitive,omitempty"`
	Const     any      `toml:"const,omitempty"`
	Arg       int      `toml:"arg,omitempty"`
	Format    string   `toml:"format,omitempty"`
}

// VMConfig configures each Machine.
type VMConfig struct {
	StepBudget  int  `toml:"step-budget"`
	DepthBudget int  `toml:"depth-budget"`
	Memoize     bool `toml:"memoize"`
}

// PoolConfig configures the worker pool and trace pools.
type PoolConfig struct {
	Workers    int     `toml:"workers"`
	MaxSteps   int     `toml:"max-steps"`
	MaxOutputs int     `toml:"max-outputs"`
	MinLP      float64 `toml:"min-lp"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path,omitempty"`
}

// Default values applied by Load and Default.
const (
	DefaultStepBudget  = 4096
	DefaultDepthBudget = 64
	DefaultWorkers     = 4
	DefaultMaxSteps    = 1024
	DefaultMaxOutputs  = 256
)

// Load parses a fleet.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes fleet.toml content and applies defaults.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{Pool: PoolConfig{MinLP: math.Inf(-1)}}
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, err
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("unknown key %q", undec[0].String())
	}
	m.applyDefaults()
	return m, nil
}

func (m *Manifest) applyDefaults() {
	if m.VM.StepBudget <= 0 {
		m.VM.StepBudget = DefaultStepBudget
	}
	if m.VM.DepthBudget <= 0 {
		m.VM.DepthBudget = DefaultDepthBudget
	}
	if m.Pool.Workers <= 0 {
		m.Pool.Workers = DefaultWorkers
	}
	if m.Pool.MaxSteps <= 0 {
		m.Pool.MaxSteps = DefaultMaxSteps
	}
	if m.Pool.MaxOutputs <= 0 {
		m.Pool.MaxOutputs = DefaultMaxOutputs
	}
	if len(m.Grammar.Nonterminals) == 0 {
		m.Grammar = defaultGrammar()
	}
}

// FindAndLoad walks up from startDir to find a fleet.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Default returns the manifest used when no fleet.toml exists: the
// built-in arithmetic grammar with default budgets.
func Default() *Manifest {
	m := &Manifest{Pool: PoolConfig{MinLP: math.Inf(-1)}}
	m.applyDefaults()
	return m
}

// Write encodes m as TOML to path.
func Write(path string, m *Manifest) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// BuildGrammar turns the [grammar] section into a Grammar.
func (m *Manifest) BuildGrammar() (*grammar.Grammar, error) {
	gc := m.Grammar
	b := grammar.NewBuilder()
	for _, nc := range gc.Nonterminals {
		if nc.Name == "" {
			return nil, fmt.Errorf("manifest: nonterminal with empty name")
		}
		if _, dup := b.Lookup(nc.Name); dup {
			return nil, fmt.Errorf("manifest: nonterminal %q declared twice", nc.Name)
		}
		k, err := grammar.ParseKind(nc.Kind)
		if err != nil {
			return nil, fmt.Errorf("manifest: nonterminal %q: %w", nc.Name, err)
		}
		b.Nonterminal(nc.Name, k)
	}

	lookup := func(name, what string) (grammar.Nonterminal, error) {
		nt, ok := b.Lookup(name)
		if !ok {
			return 0, fmt.Errorf("manifest: %s: %w %q", what, grammar.ErrUnknownNonterminal, name)
		}
		return nt, nil
	}

	kinds := make(map[string]grammar.Kind, len(gc.Nonterminals))
	for _, nc := range gc.Nonterminals {
		kinds[nc.Name], _ = grammar.ParseKind(nc.Kind)
	}

	for i, rc := range gc.Rules {
		what := fmt.Sprintf("rule %d (%s)", i, rc.Tag)
		nt, err := lookup(rc.NT, what)
		if err != nil {
			return nil, err
		}
		spec := grammar.RuleSpec{
			NT:        nt,
			Tag:       rc.Tag,
			Format:    rc.Format,
			Weight:    1,
			Primitive: rc.Primitive,
			Arg:       rc.Arg,
		}
		if rc.Weight != nil {
			if w := *rc.Weight; !(w > 0) || math.IsInf(w, 0) {
				return nil, fmt.Errorf("manifest: %s: weight must be positive and finite, got %v", what, w)
			}
			spec.Weight = *rc.Weight
		}
		for _, a := range rc.Args {
			at, err := lookup(a, what)
			if err != nil {
				return nil, err
			}
			spec.Args = append(spec.Args, at)
		}
		switch {
		case rc.Op != "":
			if spec.Op, err = grammar.ParseOp(rc.Op); err != nil {
				return nil, fmt.Errorf("manifest: %s: %w", what, err)
			}
		case rc.Const != nil:
			spec.Op = grammar.OpConst
		default:
			spec.Op = grammar.OpPrimitive
		}
		if spec.Op == grammar.OpConst {
			spec.Const = coerceConst(kinds[rc.NT], rc.Const)
		}
		b.Add(spec)
	}

	opts := grammar.Options{MaxDepth: gc.MaxDepth}
	start, err := lookup(gc.Start, "start")
	if err != nil {
		return nil, err
	}
	opts.Start = start
	if gc.Input != "" {
		if opts.Input, err = lookup(gc.Input, "input"); err != nil {
			return nil, err
		}
		opts.HasInput = true
	}
	return b.Build(opts)
}

// coerceConst maps TOML's decoded types onto the kind's representation:
// integers written for a float nonterminal become floats.
func coerceConst(k grammar.Kind, v any) any {
	if i, ok := v.(int64); ok && k == grammar.KindFloat {
		return float64(i)
	}
	return v
}

func defaultGrammar() GrammarConfig {
	prim := func(tag string, args ...string) RuleConfig {
		return RuleConfig{NT: "int", Tag: tag, Args: args}
	}
	weight := func(w float64) *float64 { return &w }
	return GrammarConfig{
		Start:        "int",
		MaxDepth:     32,
		Nonterminals: []NonterminalConfig{{Name: "int", Kind: "int"}, {Name: "bool", Kind: "bool"}},
		Rules: []RuleConfig{
			{NT: "int", Tag: "0", Const: int64(0), Weight: weight(2)},
			{NT: "int", Tag: "1", Const: int64(1), Weight: weight(2)},
			{NT: "int", Tag: "x", Op: "input", Weight: weight(4)},
			prim("+", "int", "int"),
			prim("-", "int", "int"),
			prim("*", "int", "int"),
			{NT: "int", Tag: "if", Op: "if", Args: []string{"bool", "int", "int"}},
			{NT: "int", Tag: "rec", Op: "recurse", Args: []string{"int"}, Weight: weight(0.5)},
			{NT: "int", Tag: "mem", Op: "mem-recurse", Args: []string{"int"}, Weight: weight(0.5)},
			{NT: "bool", Tag: "<", Args: []string{"int", "int"}},
			{NT: "bool", Tag: "=", Args: []string{"int", "int"}},
			{NT: "bool", Tag: "flip", Op: "flip", Weight: weight(0.5)},
			{NT: "bool", Tag: "true", Const: true},
			{NT: "bool", Tag: "false", Const: false},
		},
	}
}
