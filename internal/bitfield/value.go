package bitfield

import (
	"fmt"

	"example.com/sigrx/internal/fault"
	"example.com/sigrx/internal/signal"
)

// Decode extracts the value of d from frame. Dynamic arrays take every byte
// from their start byte to the end of the frame, capped at MaxLen.
func Decode(frame []byte, d *signal.Descriptor) (signal.Value, error) {
	switch d.Kind() {
	case signal.KindArray:
		b, err := arraySpan(frame, d, d.MaxLen, "decode")
		if err != nil {
			return signal.Value{}, err
		}
		return signal.Bytes(b), nil
	case signal.KindDynArray:
		n := len(frame) - d.StartByte()
		if n > d.MaxLen {
			n = d.MaxLen
		}
		b, err := arraySpan(frame, d, n, "decode")
		if err != nil {
			return signal.Value{}, err
		}
		return signal.DynBytes(b), nil
	case signal.KindZeroBit:
		return signal.FromBits(d.Type, 0), nil
	}
	raw, err := Extract(frame, FieldOf(d))
	if err != nil {
		return signal.Value{}, err
	}
	return signal.FromBits(d.Type, raw), nil
}

// Encode packs v into frame at the position of d.
func Encode(v signal.Value, d *signal.Descriptor, frame []byte) error {
	if v.Type() != d.Type {
		return fault.New(fault.ClassLayout, "bitfield", "encode",
			fmt.Errorf("%w: %s value for %s signal %s", ErrLayout, v.Type(), d.Type, d.Name))
	}
	switch d.Kind() {
	case signal.KindArray, signal.KindDynArray:
		if v.Len() > d.MaxLen || (d.Kind() == signal.KindArray && v.Len() != d.MaxLen) {
			return fault.New(fault.ClassLayout, "bitfield", "encode",
				fmt.Errorf("%w: %d bytes for %s (max %d)", ErrLayout, v.Len(), d.Name, d.MaxLen))
		}
		dst, err := arraySpan(frame, d, v.Len(), "encode")
		if err != nil {
			return err
		}
		copy(dst, v.Bytes())
		return nil
	case signal.KindZeroBit:
		return nil
	}
	return Insert(frame, FieldOf(d), v.Bits()&lowMask(d.BitLength))
}

// EncodedEnd returns the frame length needed to carry v for d; for dynamic
// arrays this is where the frame ends.
func EncodedEnd(v signal.Value, d *signal.Descriptor) int {
	if d.Kind() == signal.KindDynArray {
		return d.StartByte() + v.Len()
	}
	if d.BitLength == 0 {
		return d.StartByte()
	}
	_, last := signal.Span(d.BitPosition, d.BitLength, d.ByteOrder, d.Type)
	return last + 1
}

func arraySpan(frame []byte, d *signal.Descriptor, n int, op string) ([]byte, error) {
	start := d.StartByte()
	if n < 0 || start+n > len(frame) {
		return nil, fault.New(fault.ClassRange, "bitfield", op,
			fmt.Errorf("%w: %s needs bytes %d+%d of %d", ErrRange, d.Name, start, n, len(frame)))
	}
	return frame[start : start+n], nil
}
