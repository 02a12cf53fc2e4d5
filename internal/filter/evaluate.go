// Package filter decides whether a valid received value is worth committing.
// Evaluation is a pure read of the rule and the old value except for the
// deadline query; old values change only when the caller accepts a value.
package filter

import (
	"bytes"

	"example.com/sigrx/internal/signal"
)

// Evaluate applies rule to a new value against the old one. expired is the
// deadline oracle of the signal; it is consulted only by
// MaskedNewDiffersMaskedOld and only when that algorithm runs. A nil rule
// passes.
func Evaluate(rule *signal.FilterRule, newV, oldV signal.Value, expired func() bool) bool {
	if rule == nil {
		return true
	}
	switch newV.Type() {
	case signal.TypeU8:
		return integer[uint8](rule, newV, oldV, expired)
	case signal.TypeS8:
		return integer[int8](rule, newV, oldV, expired)
	case signal.TypeU16:
		return integer[uint16](rule, newV, oldV, expired)
	case signal.TypeS16:
		return integer[int16](rule, newV, oldV, expired)
	case signal.TypeU32:
		return integer[uint32](rule, newV, oldV, expired)
	case signal.TypeS32:
		return integer[int32](rule, newV, oldV, expired)
	case signal.TypeU64:
		return integer[uint64](rule, newV, oldV, expired)
	case signal.TypeS64:
		return integer[int64](rule, newV, oldV, expired)
	case signal.TypeF32:
		return float[float32](rule, newV, oldV, expired)
	case signal.TypeF64:
		return float[float64](rule, newV, oldV, expired)
	case signal.TypeBytes:
		return array(rule, newV, oldV, expired)
	case signal.TypeDynBytes:
		return EvaluateBasic(rule)
	}
	return false
}

// EvaluateBasic applies the reduced algorithm set of zero-bit and
// dynamic-array signals. Rules outside that set never pass.
func EvaluateBasic(rule *signal.FilterRule) bool {
	alg, ok := rule.Basic()
	return ok && alg == signal.BasicAlways
}

func timedOut(expired func() bool) bool {
	return expired != nil && expired()
}

func integer[T signal.Integer](rule *signal.FilterRule, newV, oldV signal.Value, expired func() bool) bool {
	n := signal.IntegerOf[T](newV)
	mask, x := T(rule.Mask), T(rule.X)
	switch rule.Algorithm {
	case signal.Always:
		return true
	case signal.Never:
		return false
	case signal.MaskedNewDiffersX:
		return n&mask != x
	case signal.MaskedNewEqualsX:
		return n&mask == x
	case signal.MaskedNewDiffersMaskedOld:
		if timedOut(expired) {
			return true
		}
		return n&mask != signal.IntegerOf[T](oldV)&mask
	case signal.NewIsWithin:
		return signal.IntegerOf[T](rule.Min) <= n && n <= signal.IntegerOf[T](rule.Max)
	case signal.NewIsOutside:
		return n < signal.IntegerOf[T](rule.Min) || n > signal.IntegerOf[T](rule.Max)
	}
	return false
}

// float applies masked algorithms to the IEEE bits and range algorithms to
// the numeric value.
func float[T signal.Float](rule *signal.FilterRule, newV, oldV signal.Value, expired func() bool) bool {
	bits := newV.Bits()
	switch rule.Algorithm {
	case signal.Always:
		return true
	case signal.Never:
		return false
	case signal.MaskedNewDiffersX:
		return bits&rule.Mask != rule.X
	case signal.MaskedNewEqualsX:
		return bits&rule.Mask == rule.X
	case signal.MaskedNewDiffersMaskedOld:
		if timedOut(expired) {
			return true
		}
		return bits&rule.Mask != oldV.Bits()&rule.Mask
	case signal.NewIsWithin:
		n := signal.FloatOf[T](newV)
		return signal.FloatOf[T](rule.Min) <= n && n <= signal.FloatOf[T](rule.Max)
	case signal.NewIsOutside:
		n := signal.FloatOf[T](newV)
		return n < signal.FloatOf[T](rule.Min) || n > signal.FloatOf[T](rule.Max)
	}
	return false
}

func array(rule *signal.FilterRule, newV, oldV signal.Value, expired func() bool) bool {
	switch rule.Algorithm {
	case signal.Always:
		return true
	case signal.Never:
		return false
	case signal.ArrayEquals:
		return bytes.Equal(newV.Bytes(), rule.ArrayX)
	case signal.MaskedNewDiffersMaskedOld:
		if timedOut(expired) {
			return true
		}
		return maskedDiffers(newV.Bytes(), oldV.Bytes(), rule.ArrayMask)
	}
	return false
}

// maskedDiffers reports whether any byte of n differs from o under mask. An
// empty mask compares every bit.
func maskedDiffers(n, o, mask []byte) bool {
	if len(n) != len(o) {
		return true
	}
	for i := range n {
		m := byte(0xFF)
		if len(mask) > 0 {
			m = mask[i]
		}
		if n[i]&m != o[i]&m {
			return true
		}
	}
	return false
}
