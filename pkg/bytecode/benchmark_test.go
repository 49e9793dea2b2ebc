// Package bytecode benchmarks
//
// These benchmarks measure compilation and machine execution.
//
// Run: go test -bench=. ./pkg/bytecode/...
// Run with memory stats: go test -bench=. -benchmem ./pkg/bytecode/...
package bytecode

import (
	"testing"
)

// ============================================================
// Compilation Benchmarks
// ============================================================

func BenchmarkCompile(b *testing.B) {
	tg := newTestGrammar(b)
	tree, err := tg.g.ParseSExpr(tg.n, fibSource)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Compile(tg.g, tree); err != nil {
			b.Fatal(err)
		}
	}
}

// ============================================================
// Execution Benchmarks
// ============================================================

func BenchmarkRunAddition(b *testing.B) {
	tg := newTestGrammar(b)
	p := tg.compile(b, "(+ 1 2)")
	m := NewMachine()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Run(p, nil); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRunFib(b *testing.B) {
	tg := newTestGrammar(b)
	p := tg.compile(b, fibSource)
	m := NewMachine()
	m.StepBudget = 1 << 20
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Run(p, int64(12)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRunMemFib(b *testing.B) {
	tg := newTestGrammar(b)
	p := tg.compile(b, memFibSource)
	m := NewMachine()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Run(p, int64(30)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTracePoolTwoCoins(b *testing.B) {
	tg := newTestGrammar(b)
	p := tg.compile(b, "(+ (if flip 1 0) (if flip 1 0))")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewTracePool().Run(p, nil); err != nil {
			b.Fatal(err)
		}
	}
}
