package bitfield

import (
	"fmt"

	"example.com/sigrx/internal/signal"
)

// EncodeFrame builds a frame of PDU id. Every signal carried by the PDU,
// standalone or group member, holds its value from values or else its init
// value; configured update bits are set. A dynamic array ends the frame.
func EncodeFrame(cfg *signal.Config, id signal.PDUID, values map[signal.SignalID]signal.Value) ([]byte, error) {
	pdu, err := cfg.PDU(id)
	if err != nil {
		return nil, err
	}
	members := append([]signal.SignalID(nil), pdu.Signals...)
	var bits []uint32
	for _, gid := range pdu.Groups {
		g, err := cfg.Group(gid)
		if err != nil {
			return nil, err
		}
		members = append(members, g.Members...)
		if g.UpdateBit != nil {
			bits = append(bits, *g.UpdateBit)
		}
	}
	frame := make([]byte, pdu.Length)
	end := pdu.Length
	for _, sid := range members {
		d, err := cfg.Signal(sid)
		if err != nil {
			return nil, err
		}
		if d.PDU != pdu.ID {
			return nil, fmt.Errorf("%w: signal %s is not carried by %s", ErrLayout, d.Name, pdu.Name)
		}
		v, ok := values[sid]
		if !ok {
			v = d.Init
		}
		if err := Encode(v, d, frame); err != nil {
			return nil, err
		}
		if d.Kind() == signal.KindDynArray {
			end = EncodedEnd(v, d)
		}
		if d.UpdateBit != nil {
			bits = append(bits, *d.UpdateBit)
		}
	}
	for _, b := range bits {
		if int(b/8) >= len(frame) {
			return nil, fmt.Errorf("%w: update bit %d outside %s", ErrRange, b, pdu.Name)
		}
		frame[b/8] |= 1 << (b % 8)
	}
	return frame[:end], nil
}
