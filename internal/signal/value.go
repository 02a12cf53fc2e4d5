package signal

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
)

// Integer is the closed set of integer storage types.
type Integer interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64
}

// Float is the closed set of float storage types.
type Float interface {
	~float32 | ~float64
}

// Value is a decoded or stored signal value. Scalars keep their raw bits:
// integers sign- or zero-extended to 64 bits, floats as IEEE bits. Arrays keep
// their bytes. Values are treated as immutable once constructed.
type Value struct {
	typ  PrimitiveType
	bits uint64
	data []byte
}

func U8(v uint8) Value   { return Value{typ: TypeU8, bits: uint64(v)} }
func S8(v int8) Value    { return Value{typ: TypeS8, bits: uint64(int64(v))} }
func U16(v uint16) Value { return Value{typ: TypeU16, bits: uint64(v)} }
func S16(v int16) Value  { return Value{typ: TypeS16, bits: uint64(int64(v))} }
func U32(v uint32) Value { return Value{typ: TypeU32, bits: uint64(v)} }
func S32(v int32) Value  { return Value{typ: TypeS32, bits: uint64(int64(v))} }
func U64(v uint64) Value { return Value{typ: TypeU64, bits: v} }
func S64(v int64) Value  { return Value{typ: TypeS64, bits: uint64(v)} }

func F32(v float32) Value { return Value{typ: TypeF32, bits: uint64(math.Float32bits(v))} }
func F64(v float64) Value { return Value{typ: TypeF64, bits: math.Float64bits(v)} }

// Bytes returns a fixed-length array value holding a copy of b.
func Bytes(b []byte) Value {
	return Value{typ: TypeBytes, data: append([]byte(nil), b...)}
}

// DynBytes returns a dynamic-length array value holding a copy of b.
func DynBytes(b []byte) Value {
	return Value{typ: TypeDynBytes, data: append([]byte(nil), b...)}
}

// FromBits builds a scalar value of type t from raw bits, narrowing and
// re-extending them to the width of t. Array types yield an empty array.
func FromBits(t PrimitiveType, raw uint64) Value {
	switch t {
	case TypeU8:
		return U8(uint8(raw))
	case TypeS8:
		return S8(int8(raw))
	case TypeU16:
		return U16(uint16(raw))
	case TypeS16:
		return S16(int16(raw))
	case TypeU32:
		return U32(uint32(raw))
	case TypeS32:
		return S32(int32(raw))
	case TypeU64:
		return U64(raw)
	case TypeS64:
		return S64(int64(raw))
	case TypeF32:
		return Value{typ: TypeF32, bits: uint64(uint32(raw))}
	case TypeF64:
		return Value{typ: TypeF64, bits: raw}
	}
	return Value{typ: t}
}

// Zero returns the zero value of type t. Arrays get size zero-filled bytes.
func Zero(t PrimitiveType, size int) Value {
	if t.Array() {
		return Value{typ: t, data: make([]byte, size)}
	}
	return FromBits(t, 0)
}

// Type returns the tag of the value.
func (v Value) Type() PrimitiveType { return v.typ }

// Bits returns the raw scalar bits (sign-extended for signed integers).
func (v Value) Bits() uint64 { return v.bits }

// Uint returns the value as an unsigned integer.
func (v Value) Uint() uint64 { return v.bits }

// Int returns the value as a signed integer.
func (v Value) Int() int64 { return int64(v.bits) }

// Float returns the value of a float signal, or the numeric value of an
// integer signal converted to float64.
func (v Value) Float() float64 {
	switch {
	case v.typ == TypeF32:
		return float64(math.Float32frombits(uint32(v.bits)))
	case v.typ == TypeF64:
		return math.Float64frombits(v.bits)
	case v.typ.Signed():
		return float64(int64(v.bits))
	}
	return float64(v.bits)
}

// Bytes returns the array contents. The slice must not be modified.
func (v Value) Bytes() []byte { return v.data }

// Len returns the array length in bytes, or the scalar width in bytes.
func (v Value) Len() int {
	if v.typ.Array() {
		return len(v.data)
	}
	return v.typ.Width() / 8
}

// Equal reports bit-exact equality of type, scalar bits and array contents.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	if v.typ.Array() {
		return bytes.Equal(v.data, o.data)
	}
	return v.bits == o.bits
}

func (v Value) String() string {
	switch {
	case v.typ.Array():
		return hex.EncodeToString(v.data)
	case v.typ.Float():
		return strconv.FormatFloat(v.Float(), 'g', -1, v.typ.Width())
	case v.typ.Signed():
		return strconv.FormatInt(v.Int(), 10)
	}
	return strconv.FormatUint(v.bits, 10)
}

// IntegerOf narrows the raw bits of v to T.
func IntegerOf[T Integer](v Value) T {
	return T(v.bits)
}

// FloatOf returns the float value of v as T.
func FloatOf[T Float](v Value) T {
	return T(v.Float())
}
