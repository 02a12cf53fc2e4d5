package bitfield

import (
	"bytes"
	"errors"
	"testing"

	"example.com/sigrx/internal/signal"
)

func TestEncodeFrame(t *testing.T) {
	bit := uint32(31)
	cfg, err := signal.NewConfig(
		[]signal.PDU{{Name: "Cabin", Length: 6}},
		[]signal.Descriptor{
			{Name: "Temp", Type: signal.TypeS8, BitLength: 8, Init: signal.S8(-5), UpdateBit: &bit},
			{Name: "Fan", Type: signal.TypeU16, BitPosition: 8, BitLength: 12},
			{Name: "Tag", Type: signal.TypeDynBytes, BitPosition: 32, MaxLen: 2},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	frame, err := EncodeFrame(cfg, 0, map[signal.SignalID]signal.Value{
		1: signal.U16(0x123),
		2: signal.DynBytes([]byte{0xAB}),
	})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	want := []byte{0xfb, 0x23, 0x01, 0x80, 0xab}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %x, want %x", frame, want)
	}

	if _, err := EncodeFrame(cfg, 4, nil); !errors.Is(err, signal.ErrUnknownPDU) {
		t.Fatalf("unknown pdu: %v", err)
	}
}
