package common

import (
	"path/filepath"
	"testing"
)

func TestTraceLogAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trace.jsonl")
	log := NewTraceLog(path)
	if err := log.Append(TraceEntry{RunID: "r1", PDU: "Body", Ref: "Door", Outcome: "committed", Value: "3", TimeUs: 1500}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(TraceEntry{RunID: "r1", PDU: "Body", Ref: "Seat", Outcome: "discarded_filtered"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(TraceEntry{}); err == nil {
		t.Fatalf("entry without ref accepted")
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, err := ReadTraceLog(path)
	if err != nil {
		t.Fatalf("ReadTraceLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Ref != "Door" || entries[0].TimeUs != 1500 || entries[1].Value != "" {
		t.Fatalf("entries = %+v", entries)
	}
	if log.Path() != path {
		t.Fatalf("path = %q", log.Path())
	}
}
