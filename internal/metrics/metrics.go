// Package metrics exports pipeline counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/sigrx/internal/pipeline"
	"example.com/sigrx/internal/signal"
)

// Collector owns a private registry so that several pipelines, or tests, do
// not collide on the default one.
type Collector struct {
	registry      *prometheus.Registry
	outcomes      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	frames        *prometheus.CounterVec
	violations    prometheus.Counter
	duration      prometheus.Histogram
}

// New builds a Collector with process and Go runtime collectors attached.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigrx",
				Subsystem: "pipeline",
				Name:      "outcomes_total",
				Help:      "Terminal pipeline outcomes by kind (signal or group).",
			},
			[]string{"kind", "outcome"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigrx",
				Subsystem: "pipeline",
				Name:      "notifications_total",
				Help:      "Notifications raised by event.",
			},
			[]string{"event"},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sigrx",
				Subsystem: "ingest",
				Name:      "frames_total",
				Help:      "Frames handed to the pipeline by PDU.",
			},
			[]string{"pdu"},
		),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sigrx",
			Subsystem: "pipeline",
			Name:      "contract_violations_total",
			Help:      "Configuration contract violations reported.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sigrx",
			Subsystem: "ingest",
			Name:      "frame_duration_seconds",
			Help:      "Time spent processing one frame.",
			Buckets:   []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 1e-2},
		}),
	}
	c.registry.MustRegister(
		c.outcomes, c.notifications, c.frames, c.violations, c.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observe implements pipeline.Observer.
func (c *Collector) Observe(ref signal.Ref, o pipeline.Outcome) {
	kind := "signal"
	if ref.Group {
		kind = "group"
	}
	c.outcomes.WithLabelValues(kind, o.String()).Inc()
	if o == pipeline.Faulted {
		c.violations.Inc()
	}
}

// Frame records one processed frame of pdu.
func (c *Collector) Frame(pdu string, took time.Duration) {
	c.frames.WithLabelValues(pdu).Inc()
	c.duration.Observe(took.Seconds())
}

// Notifier wraps next so that every notification is counted first. A nil
// next only counts.
func (c *Collector) Notifier(next signal.Notifier) signal.Notifier {
	return signal.NotifierFunc(func(ref signal.Ref, ev signal.Event) {
		c.notifications.WithLabelValues(ev.String()).Inc()
		if next != nil {
			next.Notify(ref, ev)
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
