// Package validity detects received sentinel values and applies the
// configured invalid action of a signal or group.
package validity

import (
	"bytes"
	"math"

	"example.com/sigrx/internal/fault"
	"example.com/sigrx/internal/signal"
)

// Substituter writes replacement values. The store implements it.
type Substituter interface {
	Commit(id signal.SignalID, v signal.Value) error
	SetInitValue(id signal.SignalID) error
	GroupShadowToLongTerm(id signal.GroupID) error
}

// MatchFunc reports whether v is the sentinel of d.
type MatchFunc func(d *signal.Descriptor, v signal.Value) bool

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMatcher replaces the sentinel test used for signals and group members.
func WithMatcher(m MatchFunc) Option {
	return func(e *Evaluator) {
		if m != nil {
			e.match = m
		}
	}
}

// Evaluator applies invalidation rules of one configuration.
type Evaluator struct {
	cfg    *signal.Config
	sub    Substituter
	notify signal.Notifier
	match  MatchFunc
}

// New builds an Evaluator. A nil notifier drops notifications.
func New(cfg *signal.Config, sub Substituter, n signal.Notifier, opts ...Option) *Evaluator {
	if n == nil {
		n = signal.NotifierFunc(func(signal.Ref, signal.Event) {})
	}
	e := &Evaluator{cfg: cfg, sub: sub, notify: n, match: Match}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match is the default sentinel test. Floats compare with a relative
// tolerance of one machine epsilon of their width, and a NaN sentinel matches
// any NaN; dynamic arrays match only at exactly the sentinel length.
func Match(d *signal.Descriptor, v signal.Value) bool {
	if d.Invalidation == nil {
		return false
	}
	s := d.Invalidation.Sentinel
	if v.Type() != s.Type() {
		return false
	}
	switch v.Type() {
	case signal.TypeF32:
		return nearlyEqual(v.Float(), s.Float(), float64(math.Nextafter32(1, 2)-1))
	case signal.TypeF64:
		return nearlyEqual(v.Float(), s.Float(), math.Nextafter(1, 2)-1)
	case signal.TypeBytes:
		return bytes.Equal(v.Bytes(), s.Bytes())
	case signal.TypeDynBytes:
		return v.Len() == s.Len() && bytes.Equal(v.Bytes(), s.Bytes())
	}
	return v.Bits() == s.Bits()
}

func nearlyEqual(a, b, eps float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= eps*scale
}

// Matches reports whether v is the sentinel of signal id, using the
// configured match function (Match by default). It has no side effects.
func (e *Evaluator) Matches(id signal.SignalID, v signal.Value) bool {
	d, err := e.cfg.Signal(id)
	if err != nil {
		fault.Report(fault.New(fault.ClassIndex, "validity", "matches", err))
		return false
	}
	return e.match(d, v)
}

// IsValid reports whether v is valid for signal id. When it is not, the
// signal's invalid action runs before returning.
func (e *Evaluator) IsValid(id signal.SignalID, v signal.Value) bool {
	d, err := e.cfg.Signal(id)
	if err != nil {
		fault.Report(fault.New(fault.ClassIndex, "validity", "is_valid", err))
		return false
	}
	if d.Invalidation == nil || !e.match(d, v) {
		return true
	}
	ref := signal.SignalRef(id)
	if d.Invalidation.Action != signal.ActionSubstitute {
		e.notify.Notify(ref, signal.EventInvalid)
		return false
	}
	sub := d.Init
	if d.Invalidation.Substitute != nil {
		sub = *d.Invalidation.Substitute
	}
	if err := e.sub.Commit(id, sub); err != nil {
		fault.Report(err)
		return false
	}
	e.notify.Notify(ref, signal.EventReplaced)
	return false
}

// IsGroupValid checks the members of group id in order against values, which
// holds one decoded value per member. The first invalid member stops the
// check and the group's invalid action runs once for the whole group.
func (e *Evaluator) IsGroupValid(id signal.GroupID, values []signal.Value) bool {
	g, err := e.cfg.Group(id)
	if err != nil {
		fault.Report(fault.New(fault.ClassIndex, "validity", "is_group_valid", err))
		return false
	}
	if len(values) != len(g.Members) {
		fault.Report(fault.New(fault.ClassRange, "validity", "is_group_valid", signal.ErrInvalidGroup))
		return false
	}
	invalid := false
	for i, m := range g.Members {
		d, err := e.cfg.Signal(m)
		if err != nil {
			fault.Report(fault.New(fault.ClassIndex, "validity", "is_group_valid", err))
			return false
		}
		if d.Invalidation != nil && e.match(d, values[i]) {
			invalid = true
			break
		}
	}
	if !invalid {
		return true
	}
	ref := signal.GroupRef(id)
	switch g.InvalidAction {
	case signal.GroupInvalidNotify:
		e.notify.Notify(ref, signal.EventInvalid)
	case signal.GroupInvalidReplace:
		for _, m := range g.Members {
			if err := e.sub.SetInitValue(m); err != nil {
				fault.Report(err)
				return false
			}
		}
		if err := e.sub.GroupShadowToLongTerm(id); err != nil {
			fault.Report(err)
			return false
		}
		e.notify.Notify(ref, signal.EventReplaced)
	}
	return false
}
