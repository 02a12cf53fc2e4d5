package bitfield

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sigrx/internal/fault"
	"example.com/sigrx/internal/signal"
)

func scalar(t signal.PrimitiveType, pos, length uint32, order signal.ByteOrder) *signal.Descriptor {
	return &signal.Descriptor{Name: "sig", Type: t, BitPosition: pos, BitLength: length, ByteOrder: order}
}

func TestDecodeLittleEndianU16(t *testing.T) {
	d := scalar(signal.TypeU16, 0, 16, signal.LittleEndian)
	v, err := Decode([]byte{0x12, 0x34}, d)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3412), v.Uint())
}

func TestDecodeBigEndianU16(t *testing.T) {
	d := scalar(signal.TypeU16, 7, 16, signal.BigEndian)
	v, err := Decode([]byte{0x12, 0x34}, d)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), v.Uint())
}

func TestDecodeSawtoothUnaligned(t *testing.T) {
	frame := []byte{0xAB, 0xCD, 0xEF}

	// little endian: 12 bits starting at bit 4 -> 0xEF:CD:AB >> 4 & 0xFFF
	le := scalar(signal.TypeU16, 4, 12, signal.LittleEndian)
	v, err := Decode(frame, le)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xCDA), v.Uint())

	// big endian: msb at bit 3 of byte 0, 12 bits -> low nibble of 0xAB then 0xCD
	be := scalar(signal.TypeU16, 3, 12, signal.BigEndian)
	v, err = Decode(frame, be)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xBCD), v.Uint())
}

func TestSignExtensionNibble(t *testing.T) {
	d := scalar(signal.TypeS8, 0, 4, signal.LittleEndian)

	v, err := Decode([]byte{0x08}, d)
	require.NoError(t, err)
	assert.Equal(t, int64(-8), v.Int())

	v, err = Decode([]byte{0x07}, d)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int())

	// bits above the field are ignored
	v, err = Decode([]byte{0xF7}, d)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int())
}

func TestExtractMSB(t *testing.T) {
	assert.Equal(t, uint32(15), Field{Pos: 4, Len: 12, Order: signal.LittleEndian}.MSB())
	assert.Equal(t, uint32(4), Field{Pos: 4, Len: 12, Order: signal.BigEndian}.MSB())
}

func TestRoundTripAllTypes(t *testing.T) {
	type sample struct {
		typ    signal.PrimitiveType
		length uint32
		values []signal.Value
	}
	samples := []sample{
		{signal.TypeU8, 8, []signal.Value{signal.U8(0), signal.U8(0x5A), signal.U8(0xFF)}},
		{signal.TypeU8, 3, []signal.Value{signal.U8(0), signal.U8(5), signal.U8(7)}},
		{signal.TypeS8, 8, []signal.Value{signal.S8(-128), signal.S8(-1), signal.S8(0), signal.S8(127)}},
		{signal.TypeS8, 4, []signal.Value{signal.S8(-8), signal.S8(-1), signal.S8(7)}},
		{signal.TypeU16, 16, []signal.Value{signal.U16(0), signal.U16(0xBEEF), signal.U16(0xFFFF)}},
		{signal.TypeU16, 11, []signal.Value{signal.U16(0x7FF), signal.U16(0x401)}},
		{signal.TypeS16, 12, []signal.Value{signal.S16(-2048), signal.S16(-1), signal.S16(0), signal.S16(2047)}},
		{signal.TypeS16, 16, []signal.Value{signal.S16(math.MinInt16), signal.S16(math.MaxInt16)}},
		{signal.TypeU32, 32, []signal.Value{signal.U32(0xDEADBEEF), signal.U32(1)}},
		{signal.TypeU32, 23, []signal.Value{signal.U32(0x7FFFFF), signal.U32(0x400001)}},
		{signal.TypeS32, 20, []signal.Value{signal.S32(-524288), signal.S32(-1), signal.S32(524287)}},
		{signal.TypeS32, 32, []signal.Value{signal.S32(math.MinInt32), signal.S32(math.MaxInt32)}},
		{signal.TypeU64, 64, []signal.Value{signal.U64(math.MaxUint64), signal.U64(0x0123456789ABCDEF)}},
		{signal.TypeU64, 40, []signal.Value{signal.U64(0xFFFFFFFFFF), signal.U64(0x8000000001)}},
		{signal.TypeS64, 64, []signal.Value{signal.S64(math.MinInt64), signal.S64(-1), signal.S64(math.MaxInt64)}},
		{signal.TypeS64, 33, []signal.Value{signal.S64(-(1 << 32)), signal.S64(-1), signal.S64(1<<32 - 1)}},
		{signal.TypeF32, 32, []signal.Value{signal.F32(0), signal.F32(-1.5), signal.F32(3.25e7)}},
		{signal.TypeF64, 64, []signal.Value{signal.F64(math.Pi), signal.F64(-2.5e-300)}},
	}
	orders := []signal.ByteOrder{signal.LittleEndian, signal.BigEndian, signal.Opaque}
	for _, s := range samples {
		for _, order := range orders {
			for _, pos := range []uint32{0, 3, 13} {
				if order.Resolve() == signal.BigEndian {
					pos += 7 // msb must sit inside the first byte region
				}
				d := scalar(s.typ, pos, s.length, order)
				for _, want := range s.values {
					frame := make([]byte, 12)
					for i := range frame {
						frame[i] = 0xA5
					}
					require.NoError(t, Encode(want, d, frame), "%s/%s/%d", s.typ, order, pos)
					got, err := Decode(frame, d)
					require.NoError(t, err)
					assert.True(t, want.Equal(got), "%s %d bits %s @%d: want %s got %s", s.typ, s.length, order, pos, want, got)
				}
			}
		}
	}
}

func TestEncodePreservesNeighbourBits(t *testing.T) {
	frame := []byte{0xFF, 0xFF}
	d := scalar(signal.TypeU8, 6, 4, signal.LittleEndian)
	require.NoError(t, Encode(signal.U8(0), d, frame))
	assert.Equal(t, []byte{0x3F, 0xFC}, frame)

	frame = []byte{0x00, 0x00}
	be := scalar(signal.TypeU8, 1, 4, signal.BigEndian)
	require.NoError(t, Encode(signal.U8(0xF), be, frame))
	assert.Equal(t, []byte{0x03, 0xC0}, frame)
}

func TestArrays(t *testing.T) {
	fixed := &signal.Descriptor{Name: "arr", Type: signal.TypeBytes, BitPosition: 8, BitLength: 24, MaxLen: 3}
	v, err := Decode([]byte{0, 1, 2, 3, 4}, fixed)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, v.Bytes())

	dyn := &signal.Descriptor{Name: "dyn", Type: signal.TypeDynBytes, BitPosition: 16, MaxLen: 4}
	v, err = Decode([]byte{9, 9, 1, 2}, dyn)
	require.NoError(t, err)
	assert.Equal(t, signal.TypeDynBytes, v.Type())
	assert.Equal(t, []byte{1, 2}, v.Bytes())

	v, err = Decode([]byte{9, 9, 1, 2, 3, 4, 5, 6}, dyn)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, v.Bytes())

	frame := make([]byte, 6)
	val := signal.DynBytes([]byte{7, 8, 9})
	require.NoError(t, Encode(val, dyn, frame))
	assert.Equal(t, 5, EncodedEnd(val, dyn))
	assert.Equal(t, []byte{0, 0, 7, 8, 9, 0}, frame)
}

func TestRangeViolation(t *testing.T) {
	d := scalar(signal.TypeU32, 8, 32, signal.LittleEndian)
	_, err := Decode([]byte{1, 2, 3}, d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRange))
	assert.True(t, fault.Is(err))

	dyn := &signal.Descriptor{Name: "dyn", Type: signal.TypeDynBytes, BitPosition: 32, MaxLen: 4}
	_, err = Decode([]byte{1, 2}, dyn)
	assert.ErrorIs(t, err, ErrRange)

	err = Encode(signal.U16(1), scalar(signal.TypeU32, 0, 32, signal.LittleEndian), make([]byte, 4))
	assert.ErrorIs(t, err, ErrLayout)
}
