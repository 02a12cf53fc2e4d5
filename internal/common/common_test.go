package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.SetTotalBytes(200)
	m.Start()
	m.AddRecord(50)
	m.AddRecord(0)
	m.AddBytes(50)
	m.IncResync()
	m.AddOutcome("committed")
	m.AddOutcome("committed")
	m.AddOutcome("discarded_filtered")
	m.Stop()

	s := m.Snapshot()
	if s.Records != 1 || s.Bytes != 100 || s.Resyncs != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Completion() != 0.5 {
		t.Fatalf("completion = %v", s.Completion())
	}
	if names := s.OutcomeNames(); len(names) != 2 || names[0] != "committed" || s.Outcomes["committed"] != 2 {
		t.Fatalf("outcomes = %v", s.Outcomes)
	}
	if line := formatProgressLine(s); !strings.Contains(line, "50.00%") {
		t.Fatalf("progress line %q", line)
	}
}

func TestFormatBytes(t *testing.T) {
	for in, want := range map[int64]string{512: "512 B", 2048: "2.00 KiB", 3 << 20: "3.00 MiB"} {
		if got := FormatBytes(in); got != want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestSetupLoggingFileAndEnv(t *testing.T) {
	prev := *Logger()
	t.Cleanup(func() { SetLogger(prev) })
	t.Setenv(LogLevelEnv, "debug")

	path := filepath.Join(t.TempDir(), "logs", "sigd.log")
	closer, err := SetupLogging(LogConfig{Level: "error", File: path, MaxSizeMB: 1, JSON: true})
	if err != nil {
		t.Fatalf("SetupLogging: %v", err)
	}
	if Logger().GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %s, want env override", Logger().GetLevel())
	}
	Logger().Debug().Msg("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("log file = %q", data)
	}

	t.Setenv(LogLevelEnv, "")
	if _, err := SetupLogging(LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("bad level accepted")
	}
}

func TestHasherAndSha256OfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	const abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	sum, size, err := Sha256OfFile(path)
	if err != nil || sum != abc || size != 3 {
		t.Fatalf("Sha256OfFile = %s %d %v", sum, size, err)
	}
	h := NewHasher()
	h.Write([]byte("abc"))
	if h.Sum() != abc {
		t.Fatalf("Hasher = %s", h.Sum())
	}

	if _, _, err := Sha256OfFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("missing file hashed")
	}
	if _, _, err := Sha256OfFile(t.TempDir()); err == nil {
		t.Fatalf("directory hashed")
	}
}
