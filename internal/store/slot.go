package store

import (
	"sync"
	"sync/atomic"

	"example.com/sigrx/internal/signal"
)

// slot is an application-visible long-term buffer. Every load and store is a
// single synchronised operation; nothing is held across codec or filter work.
type slot interface {
	load() signal.Value
	store(v signal.Value)
	// copyTo copies array contents into dst and returns the stored length.
	// Nothing is copied and ok is false when dst is shorter than that length.
	copyTo(dst []byte) (n int, ok bool)
}

// atomicSlot holds scalars no wider than the configured atomic width.
type atomicSlot struct {
	typ  signal.PrimitiveType
	bits atomic.Uint64
}

func (s *atomicSlot) load() signal.Value {
	return signal.FromBits(s.typ, s.bits.Load())
}

func (s *atomicSlot) store(v signal.Value) {
	s.bits.Store(v.Bits())
}

func (s *atomicSlot) copyTo([]byte) (int, bool) { return 0, true }

// lockedSlot holds wide scalars and byte arrays behind a short critical
// section.
type lockedSlot struct {
	mu   sync.Mutex
	typ  signal.PrimitiveType
	bits uint64
	data []byte
	n    int
}

func (s *lockedSlot) load() signal.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.typ {
	case signal.TypeBytes:
		return signal.Bytes(s.data[:s.n])
	case signal.TypeDynBytes:
		return signal.DynBytes(s.data[:s.n])
	}
	return signal.FromBits(s.typ, s.bits)
}

func (s *lockedSlot) store(v signal.Value) {
	s.mu.Lock()
	if s.typ.Array() {
		s.n = copy(s.data, v.Bytes())
	} else {
		s.bits = v.Bits()
	}
	s.mu.Unlock()
}

func (s *lockedSlot) copyTo(dst []byte) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(dst) < s.n {
		return s.n, false
	}
	return copy(dst, s.data[:s.n]), true
}

// newSlot chooses the slot wrapper of a signal once, at construction.
func newSlot(d *signal.Descriptor, atomicWidth int) slot {
	switch d.Type {
	case signal.TypeU8, signal.TypeS8, signal.TypeU16, signal.TypeS16,
		signal.TypeU32, signal.TypeS32, signal.TypeF32,
		signal.TypeU64, signal.TypeS64, signal.TypeF64:
		if d.Type.Width() <= atomicWidth {
			return &atomicSlot{typ: d.Type}
		}
		return &lockedSlot{typ: d.Type}
	case signal.TypeBytes, signal.TypeDynBytes:
		return &lockedSlot{typ: d.Type, data: make([]byte, d.MaxLen)}
	}
	return &lockedSlot{typ: d.Type}
}
