package enumerate

import (
	"fmt"
	"math"
	"math/bits"
)

// IntegerizedStack treats a single unsigned integer as a stack of integers.
// Push folds a value into the integer with a pairing function and Pop
// unfolds it again, so any sequence of pops from any value is valid and
// pushes exactly undo pops.
//
// Two pairings are used. Pop/Push use the Rosenberg-Strong pairing, a
// bijection between N and N x N that fills square shells:
//
//	encode(x, y) = m(m+1) + x - y, where m = max(x, y)
//	decode(z)    = (z - m*m, m)       if z - m*m < m, where m = floor(sqrt(z))
//	             = (m, m(m+2) - z)    otherwise
//
// PopMod/PushMod use the modular pairing between [0,k) x N and N:
// encode(x, y) = x + y*k.
type IntegerizedStack struct {
	value uint64
}

// NewIntegerizedStack returns a stack holding v.
func NewIntegerizedStack(v uint64) *IntegerizedStack {
	return &IntegerizedStack{value: v}
}

// Value returns the integer the stack is folded into.
func (s *IntegerizedStack) Value() uint64 {
	return s.value
}

// Set replaces the stack's integer.
func (s *IntegerizedStack) Set(v uint64) {
	s.value = v
}

// Empty reports whether every further Pop yields 0.
func (s *IntegerizedStack) Empty() bool {
	return s.value == 0
}

// Pop removes the first Rosenberg-Strong component.
func (s *IntegerizedStack) Pop() uint64 {
	x, y := RSDecode(s.value)
	s.value = y
	return x
}

// PopMod removes a value in [0, k).
func (s *IntegerizedStack) PopMod(k uint64) uint64 {
	x, y := ModDecode(s.value, k)
	s.value = y
	return x
}

// Push folds x in front of the current value.
func (s *IntegerizedStack) Push(x uint64) error {
	v, err := RSEncode(x, s.value)
	if err != nil {
		return err
	}
	s.value = v
	return nil
}

// PushMod folds x, which must be below k, in front of the current value.
func (s *IntegerizedStack) PushMod(x, k uint64) error {
	v, err := ModEncode(x, s.value, k)
	if err != nil {
		return err
	}
	s.value = v
	return nil
}

// Split pops n-1 values and returns them followed by the remainder. The
// stack is left at zero.
func (s *IntegerizedStack) Split(n int) []uint64 {
	if n <= 0 {
		return nil
	}
	out := make([]uint64, n)
	for i := range n - 1 {
		out[i] = s.Pop()
	}
	out[n-1] = s.value
	s.value = 0
	return out
}

func (s *IntegerizedStack) String() string {
	return fmt.Sprintf("IntegerizedStack(%d)", s.value)
}

// RSDecode is the inverse of RSEncode.
func RSDecode(z uint64) (x, y uint64) {
	m := isqrt(z)
	if z-m*m < m {
		return z - m*m, m
	}
	return m, m*(m+2) - z
}

// RSEncode pairs x and y with the Rosenberg-Strong function.
func RSEncode(x, y uint64) (uint64, error) {
	m := max(x, y)
	hi, lo := bits.Mul64(m, m)
	if hi != 0 {
		return 0, fmt.Errorf("%w: pairing %d and %d", ErrIndexOverflow, x, y)
	}
	// m(m+1) - y cannot underflow since y <= m.
	lo, carry := bits.Add64(lo, m, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: pairing %d and %d", ErrIndexOverflow, x, y)
	}
	lo -= y
	z, carry := bits.Add64(lo, x, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: pairing %d and %d", ErrIndexOverflow, x, y)
	}
	return z, nil
}

// ModDecode splits z into z mod k and z div k.
func ModDecode(z, k uint64) (x, y uint64) {
	return z % k, z / k
}

// ModEncode computes x + y*k for x < k.
func ModEncode(x, y, k uint64) (uint64, error) {
	if x >= k {
		return 0, fmt.Errorf("%w: %d is not below modulus %d", ErrIndexOutOfRange, x, k)
	}
	hi, lo := bits.Mul64(y, k)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d*%d", ErrIndexOverflow, y, k)
	}
	z, carry := bits.Add64(lo, x, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d*%d+%d", ErrIndexOverflow, y, k, x)
	}
	return z, nil
}

// isqrt returns floor(sqrt(z)) exactly for every uint64.
func isqrt(z uint64) uint64 {
	m := uint64(math.Sqrt(float64(z)))
	for {
		hi, lo := bits.Mul64(m, m)
		if hi == 0 && lo <= z {
			break
		}
		m--
	}
	for {
		n := m + 1
		hi, lo := bits.Mul64(n, n)
		if hi != 0 || lo > z {
			break
		}
		m = n
	}
	return m
}
