package replay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/sigrx/internal/common"
	"example.com/sigrx/internal/deadline"
	"example.com/sigrx/internal/pipeline"
	"example.com/sigrx/internal/sigdb"
	"example.com/sigrx/internal/signal"
)

var ErrUnknownPDU = errors.New("replay: unknown pdu")

// SessionOptions wires the collaborators of a Session.
type SessionOptions struct {
	Notifier signal.Notifier
	Observer pipeline.Observer
	Logger   *zerolog.Logger
}

// Session is a pipeline with update bits and a deadline monitor that runs on
// frame time. Frames must be fed in time order. A Session is safe for
// concurrent use; frames are processed one at a time.
type Session struct {
	mu      sync.Mutex
	cfg     *signal.Config
	p       *pipeline.Pipeline
	mon     *deadline.Monitor
	log     *zerolog.Logger
	started bool
}

// Fed is the result of one frame.
type Fed struct {
	PDU      *signal.PDU
	Results  []pipeline.Result
	Timeouts []signal.Ref
}

// NewSession builds a Session over db.
func NewSession(db *sigdb.Database, opts SessionOptions) (*Session, error) {
	if db == nil || db.Config == nil {
		return nil, errors.New("replay: nil database")
	}
	log := opts.Logger
	if log == nil {
		log = common.Logger()
	}
	mon := deadline.New(db.Timeouts)
	return &Session{
		cfg: db.Config,
		mon: mon,
		log: log,
		p: pipeline.New(db.Config, pipeline.Options{
			Updates:   pipeline.NewUpdateBits(db.Config),
			Deadlines: mon,
			Notifier:  opts.Notifier,
			Observer:  opts.Observer,
			Logger:    log,
		}),
	}, nil
}

// Pipeline returns the pipeline of s.
func (s *Session) Pipeline() *pipeline.Pipeline { return s.p }

// Reset restores init values; deadlines restart with the next frame.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.InitBuffers()
	s.started = false
}

// Feed applies the timeouts due at t and then processes frame as PDU pdu.
// An unknown PDU still advances the deadline clock and returns ErrUnknownPDU.
func (s *Session) Feed(pdu signal.PDUID, frame []byte, t time.Duration) (Fed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Fed
	timeouts, err := s.advance(t)
	out.Timeouts = timeouts
	if err != nil {
		return out, err
	}
	p, err := s.cfg.PDU(pdu)
	if err != nil {
		return out, fmt.Errorf("%w: %d", ErrUnknownPDU, pdu)
	}
	out.PDU = p
	out.Results, err = s.p.ProcessPDU(pdu, frame)
	if err != nil {
		return out, err
	}
	for _, res := range out.Results {
		if res.Outcome != pipeline.SkippedNotUpdated && res.Outcome != pipeline.Faulted {
			s.mon.Received(res.Ref, t)
		}
	}
	return out, nil
}

func (s *Session) advance(t time.Duration) ([]signal.Ref, error) {
	if !s.started {
		s.mon.Start(t)
		s.started = true
	}
	var applied []signal.Ref
	for _, ref := range s.mon.Observe(t) {
		if !substitutes(s.cfg, ref) {
			s.log.Debug().Str("ref", s.cfg.RefName(ref)).Msg("deadline expired")
			continue
		}
		if err := s.p.ApplyTimeoutSubstitution(ref); err != nil {
			return applied, fmt.Errorf("replay: timeout %s: %w", s.cfg.RefName(ref), err)
		}
		applied = append(applied, ref)
	}
	return applied, nil
}

// substitutes reports whether an expired ref is replaced: standalone signals
// with a timeout substitute and groups with TimeoutReplace.
func substitutes(cfg *signal.Config, ref signal.Ref) bool {
	if ref.Group {
		g, err := cfg.Group(signal.GroupID(ref.ID))
		return err == nil && g.TimeoutReplace
	}
	d, err := cfg.Signal(signal.SignalID(ref.ID))
	return err == nil && d.Group == nil && d.TimeoutSubstitute != nil
}
