package bytecode

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/fleet/grammar"
)

// PrimitiveFunc computes a primitive's result. Arguments are valid values
// of the primitive's input kinds; Invalid arguments never reach it.
// Returning ErrDivisionByZero or ErrDomain makes the machine push Invalid.
type PrimitiveFunc func(args []Value) (Value, error)

// Primitive is a named operation bound to grammar rules by Rule.Primitive.
type Primitive struct {
	Name string
	In   []grammar.Kind
	Out  grammar.Kind
	Fn   PrimitiveFunc
}

// Signature renders "name(in, ...) out".
func (p *Primitive) Signature() string {
	in := make([]string, len(p.In))
	for i, k := range p.In {
		in[i] = k.String()
	}
	return fmt.Sprintf("%s(%s) %s", p.Name, strings.Join(in, ", "), p.Out)
}

func (p *Primitive) matches(in []grammar.Kind, out grammar.Kind) bool {
	return p.Out == out && slices.Equal(p.In, in)
}

// Registry holds primitives by name. A name may be overloaded on kinds;
// Lookup picks the overload whose signature matches the rule.
type Registry struct {
	mu    sync.RWMutex
	prims map[string][]*Primitive
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{prims: make(map[string][]*Primitive)}
}

var (
	standardOnce sync.Once
	standard     *Registry
)

// StandardRegistry returns the shared registry of built-in primitives.
func StandardRegistry() *Registry {
	standardOnce.Do(func() {
		standard = NewRegistry()
		standard.registerIntPrimitives()
		standard.registerFloatPrimitives()
		standard.registerBoolPrimitives()
		standard.registerStringPrimitives()
	})
	return standard
}

// Register adds a primitive. It fails if an overload with the same
// signature exists.
func (r *Registry) Register(p *Primitive) error {
	if p.Name == "" || p.Fn == nil {
		return fmt.Errorf("bytecode: primitive needs a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.prims[p.Name] {
		if q.matches(p.In, p.Out) {
			return fmt.Errorf("bytecode: primitive %s already registered", p.Signature())
		}
	}
	r.prims[p.Name] = append(r.prims[p.Name], p)
	return nil
}

// Lookup finds the overload of name with the given signature.
func (r *Registry) Lookup(name string, in []grammar.Kind, out grammar.Kind) (*Primitive, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.prims[name] {
		if p.matches(in, out) {
			return p, nil
		}
	}
	want := (&Primitive{Name: name, In: in, Out: out}).Signature()
	if len(r.prims[name]) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrimitive, want)
	}
	return nil, fmt.Errorf("%w: no overload %s", ErrUnknownPrimitive, want)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.prims))
	for n := range r.prims {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Overloads returns every overload of name.
func (r *Registry) Overloads(name string) []*Primitive {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.prims[name])
}

// add0 .. add2 register fixed-arity primitives; registration of the
// built-ins cannot collide, so errors are programming mistakes.

func (r *Registry) add0(name string, out grammar.Kind, fn func() (Value, error)) {
	r.mustRegister(&Primitive{Name: name, Out: out, Fn: func([]Value) (Value, error) {
		return fn()
	}})
}

func (r *Registry) add1(name string, in grammar.Kind, out grammar.Kind, fn func(a Value) (Value, error)) {
	r.mustRegister(&Primitive{Name: name, In: []grammar.Kind{in}, Out: out, Fn: func(args []Value) (Value, error) {
		return fn(args[0])
	}})
}

func (r *Registry) add2(name string, a, b grammar.Kind, out grammar.Kind, fn func(a, b Value) (Value, error)) {
	r.mustRegister(&Primitive{Name: name, In: []grammar.Kind{a, b}, Out: out, Fn: func(args []Value) (Value, error) {
		return fn(args[0], args[1])
	}})
}

func (r *Registry) mustRegister(p *Primitive) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}
