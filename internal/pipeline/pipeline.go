// Package pipeline runs the receive path of a signal or group for one frame:
// update check, decode into the temporary buffer, validity, filter, commit.
// Each step either advances or ends in a terminal Outcome; only contract
// violations are reported as errors.
package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"

	"example.com/sigrx/internal/common"
	"example.com/sigrx/internal/fault"
	"example.com/sigrx/internal/filter"
	"example.com/sigrx/internal/signal"
	"example.com/sigrx/internal/store"
	"example.com/sigrx/internal/validity"
)

// Options wires the collaborators of a Pipeline. Every field is optional.
type Options struct {
	Store store.Options
	// Updates decides whether a frame carries a fresh value. Nil means
	// every frame is fresh.
	Updates   UpdateOracle
	Deadlines DeadlineMonitor
	Notifier  Notifier
	Observer  Observer
	Validity []validity.Option
	Logger   *zerolog.Logger
}

// Pipeline is the receive path of one configuration. It may run concurrently
// for different signals and groups but not for the same one.
type Pipeline struct {
	cfg      *signal.Config
	store    *store.Store
	valid    *validity.Evaluator
	filter   *filter.Engine
	updates  UpdateOracle
	deadline DeadlineMonitor
	notify   Notifier
	observer Observer
	log      *zerolog.Logger
}

// New builds a Pipeline with freshly initialised buffers.
func New(cfg *signal.Config, opts Options) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		store:    store.New(cfg, opts.Store),
		updates:  opts.Updates,
		deadline: opts.Deadlines,
		notify:   opts.Notifier,
		observer: opts.Observer,
		log:      opts.Logger,
	}
	if p.notify == nil {
		p.notify = NopNotifier{}
	}
	if p.log == nil {
		p.log = common.Logger()
	}
	var expired filter.ExpiredFunc
	if p.deadline != nil {
		expired = p.deadline.Expired
	}
	p.valid = validity.New(cfg, p.store, p.notify, opts.Validity...)
	p.filter = filter.New(cfg, expired)
	return p
}

// Config returns the configuration of p.
func (p *Pipeline) Config() *signal.Config { return p.cfg }

// Store returns the buffers of p.
func (p *Pipeline) Store() *store.Store { return p.store }

func (p *Pipeline) finish(ref signal.Ref, o Outcome) Outcome {
	if p.observer != nil {
		p.observer.Observe(ref, o)
	}
	if e := p.log.Debug(); e.Enabled() {
		e.Str("ref", p.cfg.RefName(ref)).Str("outcome", o.String()).Msg("processed")
	}
	return o
}

// fault reports err through fault.Report, the hook shared with the validity,
// filter and store layers, so fault.SetReporter sees every violation.
func (p *Pipeline) fault(ref signal.Ref, err error) Outcome {
	fault.Report(err)
	return p.finish(ref, Faulted)
}

func (p *Pipeline) updated(ref signal.Ref, frame []byte) bool {
	return p.updates == nil || p.updates.Updated(ref, frame)
}

// DecodeAndProcessSignal runs the receive path of a standalone signal.
func (p *Pipeline) DecodeAndProcessSignal(frame []byte, id signal.SignalID) Outcome {
	ref := signal.SignalRef(id)
	d, err := p.cfg.Signal(id)
	if err != nil {
		return p.fault(ref, fault.New(fault.ClassIndex, "pipeline", "process_signal", err))
	}
	if d.Group != nil {
		return p.fault(ref, fault.New(fault.ClassLayout, "pipeline", "process_signal",
			fmt.Errorf("%w: %s is a member of group %d", signal.ErrInvalidGroup, d.Name, *d.Group)))
	}
	if !p.updated(ref, frame) {
		return p.finish(ref, SkippedNotUpdated)
	}
	v, err := p.store.WriteTemp(id, frame)
	if err != nil {
		return p.fault(ref, err)
	}
	if !p.valid.IsValid(id, v) {
		return p.finish(ref, DiscardedInvalid)
	}
	if !p.filter.Passes(id, v) {
		return p.finish(ref, DiscardedFiltered)
	}
	if err := p.store.Commit(id, v); err != nil {
		return p.fault(ref, err)
	}
	p.filter.Accept(id, v)
	if d.Deadline && d.UpdateBit != nil && p.deadline != nil {
		p.deadline.Clear(ref)
	}
	p.notify.Notify(ref, signal.EventAccepted)
	return p.finish(ref, Committed)
}

// DecodeAndProcessGroup runs the receive path of a signal group. Every member
// is decoded; any invalid member rejects the group while any passing member
// filter admits it.
func (p *Pipeline) DecodeAndProcessGroup(frame []byte, id signal.GroupID) Outcome {
	ref := signal.GroupRef(id)
	g, err := p.cfg.Group(id)
	if err != nil {
		return p.fault(ref, fault.New(fault.ClassIndex, "pipeline", "process_group", err))
	}
	if !p.updated(ref, frame) {
		return p.finish(ref, SkippedNotUpdated)
	}
	values := make([]signal.Value, len(g.Members))
	for i, m := range g.Members {
		v, err := p.store.WriteTemp(m, frame)
		if err != nil {
			return p.fault(ref, err)
		}
		values[i] = v
	}
	var raw []byte
	if g.ArrayAccess {
		if err := p.store.WriteGroupTemp(id, frame); err != nil {
			return p.fault(ref, err)
		}
		if raw, err = p.store.GroupTemp(id); err != nil {
			return p.fault(ref, err)
		}
	}
	if !p.valid.IsGroupValid(id, values) {
		return p.finish(ref, DiscardedInvalid)
	}
	var pass bool
	if g.ArrayAccess {
		pass = p.filter.ArrayGroupPasses(id, raw)
	} else {
		pass = p.filter.GroupPasses(id, values)
	}
	if !pass {
		return p.finish(ref, DiscardedFiltered)
	}
	if g.ArrayAccess {
		err = p.store.CommitGroupArray(id)
	} else {
		for i, m := range g.Members {
			if err = p.store.Commit(m, values[i]); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = p.store.GroupShadowToLongTerm(id)
	}
	if err != nil {
		return p.fault(ref, err)
	}
	p.filter.AcceptGroup(id, values, raw)
	if g.Deadline && g.UpdateBit != nil && p.deadline != nil {
		p.deadline.Clear(ref)
	}
	p.notify.Notify(ref, signal.EventAccepted)
	return p.finish(ref, Committed)
}

// ProcessPDU runs every standalone signal and then every group of a PDU
// against frame.
func (p *Pipeline) ProcessPDU(id signal.PDUID, frame []byte) ([]Result, error) {
	pdu, err := p.cfg.PDU(id)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(pdu.Signals)+len(pdu.Groups))
	for _, s := range pdu.Signals {
		out = append(out, Result{Ref: signal.SignalRef(s), Outcome: p.DecodeAndProcessSignal(frame, s)})
	}
	for _, g := range pdu.Groups {
		out = append(out, Result{Ref: signal.GroupRef(g), Outcome: p.DecodeAndProcessGroup(frame, g)})
	}
	return out, nil
}

// InitBuffers restores init values in every buffer and the initial old
// values of every filter.
func (p *Pipeline) InitBuffers() {
	p.store.InitBuffers()
	p.filter.Reset()
}

// ApplyTimeoutSubstitution replaces the committed value of a signal, or of
// every member of a group, with its timeout substitute and notifies
// EventTimeout.
func (p *Pipeline) ApplyTimeoutSubstitution(ref signal.Ref) error {
	if !ref.Group {
		id := signal.SignalID(ref.ID)
		d, err := p.cfg.Signal(id)
		if err != nil {
			return err
		}
		if d.Group != nil {
			return fmt.Errorf("%w: %s is a member of group %d", signal.ErrInvalidGroup, d.Name, *d.Group)
		}
		if err := p.store.SetTimeoutSubstitutionValue(id); err != nil {
			return err
		}
		p.notify.Notify(ref, signal.EventTimeout)
		return nil
	}
	id := signal.GroupID(ref.ID)
	g, err := p.cfg.Group(id)
	if err != nil {
		return err
	}
	for _, m := range g.Members {
		if err := p.store.SetTimeoutSubstitutionValue(m); err != nil {
			return err
		}
	}
	if err := p.store.GroupShadowToLongTerm(id); err != nil {
		return err
	}
	p.notify.Notify(ref, signal.EventTimeout)
	return nil
}

// ReadLongTerm returns the committed value of a signal.
func (p *Pipeline) ReadLongTerm(id signal.SignalID) (signal.Value, error) {
	return p.store.ReadLongTerm(id)
}

// ReadLongTermArray copies the committed bytes of an array signal into dest.
func (p *Pipeline) ReadLongTermArray(id signal.SignalID, dest []byte) (int, error) {
	return p.store.ReadLongTermArray(id, dest)
}

// ReadGroup returns a consistent snapshot of the committed values of a
// group.
func (p *Pipeline) ReadGroup(id signal.GroupID) ([]signal.Value, error) {
	return p.store.ReadGroup(id)
}
