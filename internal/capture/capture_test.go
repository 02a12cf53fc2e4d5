package capture

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/sigrx/internal/common"
)

func writeRecords(t *testing.T, recs ...Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if w.Offset() != int64(buf.Len()) {
		t.Fatalf("offset %d != %d", w.Offset(), buf.Len())
	}
	return buf.Bytes()
}

func readAll(t *testing.T, r *Reader) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, rec)
	}
}

func TestRoundTrip(t *testing.T) {
	data := writeRecords(t,
		Record{PDU: 1, Time: 1500 * time.Microsecond, Payload: []byte{0x12, 0x34}},
		Record{PDU: 7, Flags: FlagTruncated, Time: 2 * time.Second, Payload: nil},
	)
	r := NewReader(bytes.NewReader(data), int64(len(data)))
	m := common.NewMetrics()
	r.SetMetrics(m)
	recs := readAll(t, r)
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].PDU != 1 || !bytes.Equal(recs[0].Payload, []byte{0x12, 0x34}) || recs[0].Time != 1500*time.Microsecond {
		t.Fatalf("record 0 = %+v", recs[0])
	}
	if recs[1].Offset != HeaderSize+2 || recs[1].Flags != FlagTruncated || len(recs[1].Payload) != 0 {
		t.Fatalf("record 1 = %+v", recs[1])
	}
	snap := m.Snapshot()
	if snap.Records != 2 || snap.Bytes != int64(len(data)) || snap.Completion() != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestResyncAfterGarbage(t *testing.T) {
	good := writeRecords(t, Record{PDU: 2, Payload: []byte{1, 2, 3}})
	corrupt := writeRecords(t, Record{PDU: 3, Payload: []byte{9}})
	corrupt[7] ^= 0xFF // break checksum

	data := append([]byte{0x00, 0x5A, 0x00}, corrupt...)
	data = append(data, good...)
	r := NewReader(bytes.NewReader(data), int64(len(data)))
	recs := readAll(t, r)
	if len(recs) != 1 || recs[0].PDU != 2 {
		t.Fatalf("records = %+v", recs)
	}
	idx := r.Index()
	if idx.Resyncs < 2 {
		t.Fatalf("resyncs = %d", idx.Resyncs)
	}
	if len(idx.Records) != 1 || idx.Records[0].Length != 3 {
		t.Fatalf("index = %+v", idx)
	}
}

func TestTruncatedTail(t *testing.T) {
	data := writeRecords(t, Record{PDU: 1, Payload: []byte{1, 2, 3, 4}})
	data = data[:len(data)-2]
	r := NewReader(bytes.NewReader(data), int64(len(data)))
	if recs := readAll(t, r); len(recs) != 0 {
		t.Fatalf("records = %+v", recs)
	}

	short := []byte{0x5A, 0x17, 0}
	r = NewReader(bytes.NewReader(short), int64(len(short)))
	if _, err := r.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v", err)
	}
}

func TestWriterRejectsLargePayload(t *testing.T) {
	w := NewWriter(io.Discard)
	if err := w.Write(Record{Payload: make([]byte, MaxPayload+1)}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v", err)
	}
}

func TestScanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.sigcap")
	data := writeRecords(t,
		Record{PDU: 0, Time: time.Millisecond, Payload: []byte{0xAA}},
		Record{PDU: 1, Time: 2 * time.Millisecond, Payload: []byte{0xBB, 0xCC}},
	)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	idx, err := ScanFile(path)
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if len(idx.Records) != 2 || idx.Records[1].Time != 2*time.Millisecond {
		t.Fatalf("index = %+v", idx)
	}
	if _, err := ScanFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("missing file accepted")
	}
}
