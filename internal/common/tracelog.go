package common

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TraceEntry records the outcome of one signal or group for one frame.
// TimeUs is the capture timestamp in microseconds.
type TraceEntry struct {
	RunID   string `json:"runId"`
	Offset  int64  `json:"offset"`
	PDU     string `json:"pdu"`
	Ref     string `json:"ref"`
	Outcome string `json:"outcome"`
	Value   string `json:"value,omitempty"`
	TimeUs  int64  `json:"timeUs"`
}

// TraceLog is an append-only JSONL file of TraceEntry values. The file is
// opened on first use and flushed on Close.
type TraceLog struct {
	path string
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
}

// NewTraceLog returns a TraceLog that writes to path.
func NewTraceLog(path string) *TraceLog {
	return &TraceLog{path: path}
}

// Path returns the backing file path for the log.
func (t *TraceLog) Path() string {
	if t == nil {
		return ""
	}
	return t.path
}

// Append writes entry as one JSON line.
func (t *TraceLog) Append(entry TraceEntry) error {
	if t == nil {
		return errors.New("nil trace log")
	}
	if entry.Ref == "" {
		return errors.New("trace entry missing ref")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		if dir := filepath.Dir(t.path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		t.f, t.w = f, bufio.NewWriter(f)
	}
	_, err = t.w.Write(append(data, '\n'))
	return err
}

// Close flushes buffered entries and closes the file.
func (t *TraceLog) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return nil
	}
	err := t.w.Flush()
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	t.f, t.w = nil, nil
	return err
}

// ReadTraceLog loads every entry from the supplied JSONL file.
func ReadTraceLog(path string) ([]TraceEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []TraceEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry TraceEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode trace entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
