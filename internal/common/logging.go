package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevelEnv overrides the configured log level when set.
const LogLevelEnv = "SIGRX_LOG_LEVEL"

var current atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Str("app", "sigrx").Logger()
	current.Store(&l)
	log.Logger = l
}

// Logger returns the process logger.
func Logger() *zerolog.Logger {
	return current.Load()
}

// SetLogger replaces the process logger and the zerolog global logger.
func SetLogger(l zerolog.Logger) {
	current.Store(&l)
	log.Logger = l
}

func Logf(format string, args ...interface{}) {
	Logger().Info().Msgf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	Logger().Fatal().Msgf(format, args...)
}

// LogConfig configures the process logger. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
	// JSON writes structured lines to stderr instead of console output.
	JSON bool `yaml:"json"`
}

// SetupLogging installs a logger built from cfg and returns a closer for the
// rotating file, if any.
func SetupLogging(cfg LogConfig) (io.Closer, error) {
	levelName := cfg.Level
	if env := strings.TrimSpace(os.Getenv(LogLevelEnv)); env != "" {
		levelName = env
	}
	level := zerolog.InfoLevel
	if levelName != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(levelName))
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", levelName, err)
		}
		level = parsed
	}

	var console io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	if cfg.JSON {
		console = os.Stderr
	}
	var (
		out    = console
		closer io.Closer
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(console, rotator)
		closer = rotator
	}
	l := zerolog.New(out).Level(level).With().Timestamp().Str("app", "sigrx").Logger()
	SetLogger(l)
	return closer, nil
}
