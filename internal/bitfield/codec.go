// Package bitfield extracts and packs arbitrarily aligned bit fields of a
// frame. Little-endian fields start at their least significant bit and grow
// towards higher bit numbers; big-endian fields start at their most
// significant bit and continue at bit 7 of the following byte (sawtooth).
package bitfield

import (
	"errors"
	"fmt"

	"example.com/sigrx/internal/fault"
	"example.com/sigrx/internal/signal"
)

var (
	ErrRange  = errors.New("bitfield: copy range exceeds buffer")
	ErrLayout = errors.New("bitfield: value does not match descriptor")
)

// Field is the wire position of a scalar field.
type Field struct {
	Pos    uint32
	Len    uint32
	Order  signal.ByteOrder
	Signed bool
}

// FieldOf returns the field of a scalar descriptor.
func FieldOf(d *signal.Descriptor) Field {
	return Field{Pos: d.BitPosition, Len: d.BitLength, Order: d.ByteOrder, Signed: d.Signed()}
}

// MSB returns the frame bit number holding the most significant bit.
func (f Field) MSB() uint32 {
	if f.Order.Resolve() == signal.BigEndian {
		return f.Pos
	}
	return f.Pos + f.Len - 1
}

type extractFunc func(frame []byte, pos, n uint32) uint64

type insertFunc func(frame []byte, pos, n uint32, v uint64)

// routines picks the copy routines for a wire order. Opaque fields resolve to
// the host order, i.e. they are copied without conversion.
func routines(order signal.ByteOrder) (extractFunc, insertFunc) {
	if order.Resolve() == signal.BigEndian {
		return extractBig, insertBig
	}
	return extractLittle, insertLittle
}

func (f Field) check(frame []byte, op string) error {
	if f.Len > 64 {
		return fault.New(fault.ClassRange, "bitfield", op, fmt.Errorf("%w: %d-bit field", ErrRange, f.Len))
	}
	if f.Len == 0 {
		return nil
	}
	_, last := signal.Span(f.Pos, f.Len, f.Order, signal.TypeU64)
	if last >= len(frame) {
		return fault.New(fault.ClassRange, "bitfield", op,
			fmt.Errorf("%w: bits %d+%d need byte %d of %d", ErrRange, f.Pos, f.Len, last, len(frame)))
	}
	return nil
}

// Extract returns the field value zero-extended to 64 bits, or sign-extended
// when the field is signed and its most significant bit is set.
func Extract(frame []byte, f Field) (uint64, error) {
	if err := f.check(frame, "extract"); err != nil {
		return 0, err
	}
	if f.Len == 0 {
		return 0, nil
	}
	extract, _ := routines(f.Order)
	v := extract(frame, f.Pos, f.Len)
	if f.Signed && f.Len < 64 && v>>(f.Len-1)&1 == 1 {
		v |= ^uint64(0) << f.Len
	}
	return v, nil
}

// Insert writes the low f.Len bits of v into the field, leaving the other
// frame bits untouched.
func Insert(frame []byte, f Field, v uint64) error {
	if err := f.check(frame, "insert"); err != nil {
		return err
	}
	if f.Len == 0 {
		return nil
	}
	_, insert := routines(f.Order)
	insert(frame, f.Pos, f.Len, v)
	return nil
}

func lowMask(n uint32) uint64 {
	return uint64(1)<<n - 1
}

func extractLittle(frame []byte, pos, n uint32) uint64 {
	var v uint64
	var shift uint32
	for n > 0 {
		off := pos % 8
		take := min(8-off, n)
		chunk := uint64(frame[pos/8]>>off) & lowMask(take)
		v |= chunk << shift
		shift += take
		pos += take
		n -= take
	}
	return v
}

func extractBig(frame []byte, pos, n uint32) uint64 {
	var v uint64
	idx := pos / 8
	hi := pos % 8
	for n > 0 {
		avail := hi + 1
		take := min(avail, n)
		chunk := uint64(frame[idx]>>(avail-take)) & lowMask(take)
		v = v<<take | chunk
		n -= take
		idx++
		hi = 7
	}
	return v
}

func insertLittle(frame []byte, pos, n uint32, v uint64) {
	for n > 0 {
		off := pos % 8
		take := min(8-off, n)
		m := byte(lowMask(take) << off)
		idx := pos / 8
		frame[idx] = frame[idx]&^m | byte(v<<off)&m
		v >>= take
		pos += take
		n -= take
	}
}

func insertBig(frame []byte, pos, n uint32, v uint64) {
	idx := pos / 8
	hi := pos % 8
	for n > 0 {
		avail := hi + 1
		take := min(avail, n)
		lo := avail - take
		chunk := v >> (n - take) & lowMask(take)
		m := byte(lowMask(take) << lo)
		frame[idx] = frame[idx]&^m | byte(chunk<<lo)&m
		n -= take
		idx++
		hi = 7
	}
}
