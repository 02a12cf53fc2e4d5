package signal

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// PrimitiveType tags the storage layout of a signal. Exactly one tag is active
// per signal and every component dispatches on it.
type PrimitiveType uint8

const (
	TypeU8 PrimitiveType = iota
	TypeS8
	TypeU16
	TypeS16
	TypeU32
	TypeS32
	TypeU64
	TypeS64
	TypeF32
	TypeF64
	// TypeBytes is a fixed-length byte array.
	TypeBytes
	// TypeDynBytes is a byte array whose received length varies up to MaxLen.
	TypeDynBytes
)

var typeNames = [...]string{
	TypeU8:       "uint8",
	TypeS8:       "sint8",
	TypeU16:      "uint16",
	TypeS16:      "sint16",
	TypeU32:      "uint32",
	TypeS32:      "sint32",
	TypeU64:      "uint64",
	TypeS64:      "sint64",
	TypeF32:      "float32",
	TypeF64:      "float64",
	TypeBytes:    "uint8_n",
	TypeDynBytes: "uint8_dyn",
}

func (t PrimitiveType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t is one of the declared tags.
func (t PrimitiveType) Valid() bool {
	return t <= TypeDynBytes
}

// ParseType resolves a configuration name (e.g. "uint16", "sint8", "float32",
// "uint8_n", "uint8_dyn") into a PrimitiveType.
func ParseType(name string) (PrimitiveType, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "u8", "byte":
		return TypeU8, nil
	case "s8", "int8":
		return TypeS8, nil
	case "u16":
		return TypeU16, nil
	case "s16", "int16":
		return TypeS16, nil
	case "u32":
		return TypeU32, nil
	case "s32", "int32":
		return TypeS32, nil
	case "u64":
		return TypeU64, nil
	case "s64", "int64":
		return TypeS64, nil
	case "f32", "float":
		return TypeF32, nil
	case "f64", "double":
		return TypeF64, nil
	case "bytes", "array":
		return TypeBytes, nil
	case "dynbytes", "dynamic":
		return TypeDynBytes, nil
	}
	for i, n := range typeNames {
		if n == key {
			return PrimitiveType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// Signed reports whether the type is a two's complement integer.
func (t PrimitiveType) Signed() bool {
	switch t {
	case TypeS8, TypeS16, TypeS32, TypeS64:
		return true
	}
	return false
}

// Integer reports whether the type is a signed or unsigned integer.
func (t PrimitiveType) Integer() bool {
	return t <= TypeS64
}

// Float reports whether the type is an IEEE-754 float.
func (t PrimitiveType) Float() bool {
	return t == TypeF32 || t == TypeF64
}

// Array reports whether the type is a byte array layout.
func (t PrimitiveType) Array() bool {
	return t == TypeBytes || t == TypeDynBytes
}

// Width returns the native storage width in bits for scalar types and 0 for
// arrays.
func (t PrimitiveType) Width() int {
	switch t {
	case TypeU8, TypeS8:
		return 8
	case TypeU16, TypeS16:
		return 16
	case TypeU32, TypeS32, TypeF32:
		return 32
	case TypeU64, TypeS64, TypeF64:
		return 64
	}
	return 0
}

// ByteOrder is the wire byte order of a signal.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
	// Opaque means no conversion: the bytes are taken in host order.
	Opaque
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	case Opaque:
		return "opaque"
	}
	return fmt.Sprintf("order(%d)", uint8(o))
}

// ParseByteOrder accepts "little"/"intel", "big"/"motorola" and "opaque".
func ParseByteOrder(name string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "little", "little_endian", "intel":
		return LittleEndian, nil
	case "big", "big_endian", "motorola":
		return BigEndian, nil
	case "opaque", "host":
		return Opaque, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownByteOrder, name)
}

// HostOrder is the byte order of the running machine.
var HostOrder = func() ByteOrder {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	if b[0] == 1 {
		return LittleEndian
	}
	return BigEndian
}()

// Resolve maps Opaque onto the host order and returns the others unchanged.
func (o ByteOrder) Resolve() ByteOrder {
	if o == Opaque {
		return HostOrder
	}
	return o
}

// SignalID indexes a Descriptor in a Config.
type SignalID uint32

// GroupID indexes a Group in a Config.
type GroupID uint32

// PDUID indexes a PDU in a Config.
type PDUID uint32

// Ref names either a signal or a signal group when talking to collaborators
// (deadline monitors, update oracles, notification sinks).
type Ref struct {
	Group bool
	ID    uint32
}

// SignalRef returns the Ref of a signal.
func SignalRef(id SignalID) Ref { return Ref{ID: uint32(id)} }

// GroupRef returns the Ref of a signal group.
func GroupRef(id GroupID) Ref { return Ref{Group: true, ID: uint32(id)} }

func (r Ref) String() string {
	if r.Group {
		return fmt.Sprintf("group#%d", r.ID)
	}
	return fmt.Sprintf("signal#%d", r.ID)
}
