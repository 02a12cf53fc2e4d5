package pipeline

import (
	"example.com/sigrx/internal/signal"
)

// UpdateOracle reports whether a frame carries a fresh value for a signal or
// group.
type UpdateOracle interface {
	Updated(ref signal.Ref, frame []byte) bool
}

// DeadlineMonitor is the reception deadline supervision owned outside the
// pipeline.
type DeadlineMonitor interface {
	Expired(ref signal.Ref) bool
	Clear(ref signal.Ref)
}

// Notifier receives accept, invalid, replaced and timeout notifications.
type Notifier = signal.Notifier

// Observer sees every terminal outcome.
type Observer interface {
	Observe(ref signal.Ref, o Outcome)
}

// UpdateBits is the update oracle driven by the update bits of the
// configuration. Signals and groups without an update bit are always
// updated; an update bit outside the frame reads as not updated.
type UpdateBits struct {
	cfg *signal.Config
}

// NewUpdateBits returns the update-bit oracle of cfg.
func NewUpdateBits(cfg *signal.Config) *UpdateBits {
	return &UpdateBits{cfg: cfg}
}

func (u *UpdateBits) Updated(ref signal.Ref, frame []byte) bool {
	var bit *uint32
	if ref.Group {
		g, err := u.cfg.Group(signal.GroupID(ref.ID))
		if err != nil {
			return false
		}
		bit = g.UpdateBit
	} else {
		d, err := u.cfg.Signal(signal.SignalID(ref.ID))
		if err != nil {
			return false
		}
		bit = d.UpdateBit
	}
	if bit == nil {
		return true
	}
	i := int(*bit / 8)
	if i >= len(frame) {
		return false
	}
	return frame[i]>>(*bit%8)&1 == 1
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(signal.Ref, signal.Event) {}
