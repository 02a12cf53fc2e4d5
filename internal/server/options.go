package server

import (
	"errors"

	"github.com/rs/zerolog"

	"example.com/sigrx/internal/metrics"
	"example.com/sigrx/internal/sigdb"
	"example.com/sigrx/internal/signal"
)

// DefaultMaxBodyBytes bounds request bodies of frame and replay uploads.
const DefaultMaxBodyBytes = 64 << 20

// Options configures server creation.
type Options struct {
	Database *sigdb.Database
	// StorageDir holds uploaded captures and generated reports. Empty means
	// the system temporary directory.
	StorageDir   string
	MaxBodyBytes int64
	Collector    *metrics.Collector
	// Notifier receives pipeline notifications of injected frames.
	Notifier signal.Notifier
	Logger   *zerolog.Logger
}

func (o Options) validate() error {
	if o.Database == nil || o.Database.Config == nil {
		return errors.New("server: signal database required")
	}
	return nil
}
