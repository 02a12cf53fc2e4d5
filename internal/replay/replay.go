// Package replay feeds a frame capture through the receive pipeline of a
// signal database and summarises what happened.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/sigrx/internal/capture"
	"example.com/sigrx/internal/common"
	"example.com/sigrx/internal/metrics"
	"example.com/sigrx/internal/pipeline"
	"example.com/sigrx/internal/sigdb"
	"example.com/sigrx/internal/signal"
)

// Options tunes a replay. Every field is optional.
type Options struct {
	// TracePath receives one JSONL entry per processed signal or group.
	TracePath string
	Collector *metrics.Collector
	Metrics   *common.Metrics
	Notifier  signal.Notifier
	Logger    *zerolog.Logger
}

// SignalValue is the committed value of a signal at the end of a run.
type SignalValue struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Group string `json:"group,omitempty"`
	Value string `json:"value"`
}

// Run summarises one replay.
type Run struct {
	ID         string         `json:"id"`
	Database   string         `json:"database"`
	Digest     string         `json:"digest,omitempty"`
	Capture    string         `json:"capture"`
	Started    time.Time      `json:"started"`
	Finished   time.Time      `json:"finished"`
	Records    int            `json:"records"`
	UnknownPDU int            `json:"unknownPdu"`
	Resyncs    int            `json:"resyncs"`
	Timeouts   int            `json:"timeouts"`
	Outcomes   map[string]int `json:"outcomes"`
	Values     []SignalValue  `json:"values"`
	TracePath  string         `json:"tracePath,omitempty"`
}

// Count returns how often outcome o was observed.
func (r *Run) Count(o pipeline.Outcome) int {
	return r.Outcomes[o.String()]
}

// Duration returns the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

type tally struct {
	run     *Run
	metrics *common.Metrics
	prom    *metrics.Collector
}

func (t *tally) Observe(ref signal.Ref, o pipeline.Outcome) {
	t.run.Outcomes[o.String()]++
	if t.metrics != nil {
		t.metrics.AddOutcome(o.String())
	}
	if t.prom != nil {
		t.prom.Observe(ref, o)
	}
}

// File replays the capture at path.
func File(ctx context.Context, db *sigdb.Database, path string, opts Options) (*Run, error) {
	r, err := capture.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	run, err := Reader(ctx, db, r, opts)
	if run != nil {
		run.Capture = path
	}
	return run, err
}

// Reader replays every record of r through a fresh Session. Records of
// unknown PDUs are counted and skipped.
func Reader(ctx context.Context, db *sigdb.Database, r *capture.Reader, opts Options) (*Run, error) {
	if db == nil || db.Config == nil {
		return nil, errors.New("replay: nil database")
	}
	log := opts.Logger
	if log == nil {
		log = common.Logger()
	}
	cfg := db.Config
	run := &Run{
		ID:        uuid.New().String(),
		Database:  db.Name,
		Digest:    db.Digest,
		Started:   time.Now().UTC(),
		Outcomes:  make(map[string]int),
		TracePath: opts.TracePath,
	}
	for _, o := range pipeline.Outcomes() {
		run.Outcomes[o.String()] = 0
	}

	var trace *common.TraceLog
	if opts.TracePath != "" {
		trace = common.NewTraceLog(opts.TracePath)
		defer trace.Close()
	}
	if opts.Metrics != nil {
		r.SetMetrics(opts.Metrics)
		opts.Metrics.Start()
		defer opts.Metrics.Stop()
	}

	notifier := opts.Notifier
	if opts.Collector != nil {
		notifier = opts.Collector.Notifier(notifier)
	}
	sess, err := NewSession(db, SessionOptions{
		Notifier: notifier,
		Observer: &tally{run: run, metrics: opts.Metrics, prom: opts.Collector},
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	p := sess.Pipeline()

	for {
		if err := ctx.Err(); err != nil {
			return finish(run, p, r), err
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return finish(run, p, r), fmt.Errorf("replay: record %d: %w", run.Records, err)
		}
		run.Records++
		began := time.Now()
		fed, err := sess.Feed(signal.PDUID(rec.PDU), rec.Payload, rec.Time)
		run.Timeouts += len(fed.Timeouts)
		if errors.Is(err, ErrUnknownPDU) {
			run.UnknownPDU++
			log.Debug().Uint16("pdu", rec.PDU).Int64("offset", rec.Offset).Msg("unknown pdu")
			continue
		}
		if err != nil {
			return finish(run, p, r), err
		}
		if opts.Collector != nil {
			opts.Collector.Frame(fed.PDU.Name, time.Since(began))
		}
		if trace == nil {
			continue
		}
		for _, res := range fed.Results {
			entry := common.TraceEntry{
				RunID:   run.ID,
				Offset:  rec.Offset,
				PDU:     fed.PDU.Name,
				Ref:     cfg.RefName(res.Ref),
				Outcome: res.Outcome.String(),
				TimeUs:  rec.Time.Microseconds(),
			}
			if res.Outcome == pipeline.Committed {
				entry.Value = Committed(p, res.Ref)
			}
			if err := trace.Append(entry); err != nil {
				return finish(run, p, r), fmt.Errorf("replay: trace: %w", err)
			}
		}
	}
	run = finish(run, p, r)
	if trace != nil {
		if err := trace.Close(); err != nil {
			return run, fmt.Errorf("replay: trace: %w", err)
		}
	}
	log.Info().
		Str("run", run.ID).
		Int("records", run.Records).
		Int("committed", run.Count(pipeline.Committed)).
		Int("timeouts", run.Timeouts).
		Dur("took", run.Duration()).
		Msg("replay finished")
	return run, nil
}

// Committed formats the committed value of a signal, or the member values of
// a group joined by commas.
func Committed(p *pipeline.Pipeline, ref signal.Ref) string {
	if !ref.Group {
		v, err := p.ReadLongTerm(signal.SignalID(ref.ID))
		if err != nil {
			return ""
		}
		return v.String()
	}
	vals, err := p.ReadGroup(signal.GroupID(ref.ID))
	if err != nil {
		return ""
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

func finish(run *Run, p *pipeline.Pipeline, r *capture.Reader) *Run {
	run.Finished = time.Now().UTC()
	run.Resyncs = r.Index().Resyncs
	run.Values = Values(p)
	return run
}

// Values returns the committed value of every signal of p, sorted by name.
func Values(p *pipeline.Pipeline) []SignalValue {
	cfg := p.Config()
	out := make([]SignalValue, 0, cfg.SignalCount())
	for i := 0; i < cfg.SignalCount(); i++ {
		d, err := cfg.Signal(signal.SignalID(i))
		if err != nil {
			continue
		}
		v, err := p.ReadLongTerm(d.ID)
		if err != nil {
			continue
		}
		sv := SignalValue{Name: d.Name, Type: d.Type.String(), Value: v.String()}
		if d.Group != nil {
			sv.Group = cfg.RefName(signal.GroupRef(*d.Group))
		}
		out = append(out, sv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
