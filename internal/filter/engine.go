package filter

import (
	"example.com/sigrx/internal/bitfield"
	"example.com/sigrx/internal/fault"
	"example.com/sigrx/internal/signal"
)

// ExpiredFunc is the deadline oracle: it reports whether the reception
// deadline of a signal or group has elapsed.
type ExpiredFunc func(ref signal.Ref) bool

// Engine holds the old values of every filtered signal and the old masked
// bytes of every array-access group. Like the buffers of the store, the state
// of one signal or group must not be touched from two goroutines at once.
type Engine struct {
	cfg     *signal.Config
	expired ExpiredFunc
	old     []signal.Value
	groups  []groupState
}

type groupState struct {
	array bool
	// always is set when a member without a masked rule admits every frame.
	always bool
	offset int
	mask   []byte
	x      []byte
	initX  []byte
}

// New builds an Engine with old values taken from each rule's OldInit or the
// signal's init value. A nil oracle never reports expiry.
func New(cfg *signal.Config, expired ExpiredFunc) *Engine {
	e := &Engine{
		cfg:     cfg,
		expired: expired,
		old:     make([]signal.Value, cfg.SignalCount()),
		groups:  make([]groupState, cfg.GroupCount()),
	}
	for i := range e.groups {
		g, _ := cfg.Group(signal.GroupID(i))
		if g.ArrayAccess {
			e.groups[i] = buildGroupState(g, cfg)
		}
	}
	e.Reset()
	return e
}

// buildGroupState folds the member masks of an array-access group into one
// region mask and trims it to the bytes that carry mask bits.
func buildGroupState(g *signal.Group, cfg *signal.Config) groupState {
	gs := groupState{array: true}
	mask := make([]byte, g.Length)
	init := make([]byte, g.Length)
	for _, m := range g.Members {
		d, _ := cfg.Signal(m)
		rel := g.Regional(d)
		if err := bitfield.Encode(oldInit(d), rel, init); err != nil {
			fault.Report(err)
		}
		rule := d.Filter
		if rule == nil || rule.Algorithm == signal.Always {
			gs.always = true
			continue
		}
		if rule.Algorithm != signal.MaskedNewDiffersMaskedOld {
			continue
		}
		var mv signal.Value
		if d.Type == signal.TypeBytes {
			b := rule.ArrayMask
			if len(b) == 0 {
				b = make([]byte, d.MaxLen)
				for i := range b {
					b[i] = 0xFF
				}
			}
			mv = signal.Bytes(b)
		} else {
			mv = signal.FromBits(d.Type, rule.Mask)
		}
		part := make([]byte, g.Length)
		if err := bitfield.Encode(mv, rel, part); err != nil {
			fault.Report(err)
			continue
		}
		for i := range part {
			mask[i] |= part[i]
		}
	}
	first, last := -1, -1
	for i, b := range mask {
		if b == 0 {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return gs
	}
	gs.offset = first
	gs.mask = mask[first : last+1]
	gs.initX = make([]byte, len(gs.mask))
	for i := range gs.mask {
		gs.initX[i] = init[first+i] & gs.mask[i]
	}
	gs.x = make([]byte, len(gs.mask))
	return gs
}

func oldInit(d *signal.Descriptor) signal.Value {
	if d.Filter != nil && d.Filter.OldInit != nil {
		return *d.Filter.OldInit
	}
	return d.Init
}

// Reset restores every old value to its initial state.
func (e *Engine) Reset() {
	for i := range e.old {
		d, _ := e.cfg.Signal(signal.SignalID(i))
		e.old[i] = oldInit(d)
	}
	for i := range e.groups {
		gs := &e.groups[i]
		copy(gs.x, gs.initX)
	}
}

// Old returns the current old value of id.
func (e *Engine) Old(id signal.SignalID) (signal.Value, error) {
	if _, err := e.cfg.Signal(id); err != nil {
		return signal.Value{}, fault.New(fault.ClassIndex, "filter", "old", err)
	}
	return e.old[id], nil
}

// deadlineOf returns the lazy deadline query of d: the group's deadline for
// group members, otherwise the signal's own.
func (e *Engine) deadlineOf(d *signal.Descriptor) func() bool {
	if e.expired == nil {
		return nil
	}
	if d.Group != nil {
		g, _ := e.cfg.Group(*d.Group)
		if g == nil || !g.Deadline {
			return nil
		}
		ref := signal.GroupRef(g.ID)
		return func() bool { return e.expired(ref) }
	}
	if !d.Deadline {
		return nil
	}
	ref := signal.SignalRef(d.ID)
	return func() bool { return e.expired(ref) }
}

func (e *Engine) passes(d *signal.Descriptor, v signal.Value) bool {
	switch d.Kind() {
	case signal.KindZeroBit, signal.KindDynArray:
		return EvaluateBasic(d.Filter)
	}
	return Evaluate(d.Filter, v, e.old[d.ID], e.deadlineOf(d))
}

// Passes evaluates the filter of signal id for v.
func (e *Engine) Passes(id signal.SignalID, v signal.Value) bool {
	d, err := e.cfg.Signal(id)
	if err != nil {
		fault.Report(fault.New(fault.ClassIndex, "filter", "passes", err))
		return false
	}
	return e.passes(d, v)
}

// GroupPasses evaluates member filters in order and passes as soon as one
// member passes. Members without a rule pass.
func (e *Engine) GroupPasses(id signal.GroupID, values []signal.Value) bool {
	g, err := e.cfg.Group(id)
	if err != nil {
		fault.Report(fault.New(fault.ClassIndex, "filter", "group_passes", err))
		return false
	}
	if len(values) != len(g.Members) {
		fault.Report(fault.New(fault.ClassRange, "filter", "group_passes", signal.ErrInvalidGroup))
		return false
	}
	for i, m := range g.Members {
		d, _ := e.cfg.Signal(m)
		if e.passes(d, values[i]) {
			return true
		}
	}
	return false
}

// ArrayGroupPasses evaluates the folded member masks of an array-access group
// against its raw region bytes: it passes as soon as one masked byte differs
// from the old masked byte, or unconditionally once the group deadline has
// expired.
func (e *Engine) ArrayGroupPasses(id signal.GroupID, raw []byte) bool {
	g, err := e.cfg.Group(id)
	if err != nil {
		fault.Report(fault.New(fault.ClassIndex, "filter", "array_group_passes", err))
		return false
	}
	gs := &e.groups[id]
	if !gs.array {
		fault.Report(fault.New(fault.ClassLayout, "filter", "array_group_passes", signal.ErrInvalidGroup))
		return false
	}
	if gs.always {
		return true
	}
	if len(gs.mask) == 0 {
		return false
	}
	if len(raw) < gs.offset+len(gs.mask) {
		fault.Report(fault.New(fault.ClassRange, "filter", "array_group_passes", bitfield.ErrRange))
		return false
	}
	if g.Deadline && e.expired != nil && e.expired(signal.GroupRef(id)) {
		return true
	}
	for i, m := range gs.mask {
		if raw[gs.offset+i]&m != gs.x[i] {
			return true
		}
	}
	return false
}

// Accept records v as the old value of id.
func (e *Engine) Accept(id signal.SignalID, v signal.Value) {
	if _, err := e.cfg.Signal(id); err != nil {
		fault.Report(fault.New(fault.ClassIndex, "filter", "accept", err))
		return
	}
	e.old[id] = v
}

// AcceptGroup records the committed member values of group id and, for
// array-access groups, the masked region bytes of raw. Either may be nil.
func (e *Engine) AcceptGroup(id signal.GroupID, values []signal.Value, raw []byte) {
	g, err := e.cfg.Group(id)
	if err != nil {
		fault.Report(fault.New(fault.ClassIndex, "filter", "accept_group", err))
		return
	}
	if values != nil {
		for i, m := range g.Members {
			if i < len(values) {
				e.old[m] = values[i]
			}
		}
	}
	gs := &e.groups[id]
	if raw == nil || len(gs.mask) == 0 {
		return
	}
	if len(raw) < gs.offset+len(gs.mask) {
		fault.Report(fault.New(fault.ClassRange, "filter", "accept_group", bitfield.ErrRange))
		return
	}
	for i, m := range gs.mask {
		gs.x[i] = raw[gs.offset+i] & m
	}
}
