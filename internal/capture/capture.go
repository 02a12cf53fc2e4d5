// Package capture reads and writes frame captures: a sequence of records, each
// a 16-byte big-endian header followed by the PDU payload.
//
//	0:2   sync 0x5A17
//	2:4   PDU id
//	4:6   payload length
//	6     flags
//	7     header checksum (sum of the other 15 header bytes)
//	8:16  reception time in microseconds
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"example.com/sigrx/internal/common"
)

const (
	syncPattern         = 0x5A17
	HeaderSize          = 16
	MaxPayload          = 0xFFFF
	defaultResyncWindow = 64 * 1024
)

// FlagTruncated marks a record whose payload was cut by the recorder.
const FlagTruncated = 0x01

var (
	ErrNoSync   = errors.New("capture: sync pattern 0x5A17 not found")
	ErrChecksum = errors.New("capture: header checksum mismatch")
	ErrTooLarge = errors.New("capture: payload exceeds 65535 bytes")
)

// Record is one received frame.
type Record struct {
	Offset  int64
	PDU     uint16
	Flags   uint8
	Time    time.Duration
	Payload []byte
}

// RecordIndex is the metadata of a record kept by the Reader.
type RecordIndex struct {
	Offset int64
	PDU    uint16
	Length int
	Time   time.Duration
}

// Index summarises a scanned capture.
type Index struct {
	Records []RecordIndex
	Resyncs int
}

func headerChecksum(hdr []byte) uint8 {
	var sum uint8
	for i, b := range hdr[:HeaderSize] {
		if i != 7 {
			sum += b
		}
	}
	return sum
}

func encodeHeader(hdr []byte, rec Record) {
	binary.BigEndian.PutUint16(hdr[0:2], syncPattern)
	binary.BigEndian.PutUint16(hdr[2:4], rec.PDU)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(rec.Payload)))
	hdr[6] = rec.Flags
	hdr[7] = 0
	binary.BigEndian.PutUint64(hdr[8:16], uint64(rec.Time/time.Microsecond))
	hdr[7] = headerChecksum(hdr)
}

// Writer appends records to a stream.
type Writer struct {
	w   io.Writer
	hdr [HeaderSize]byte
	n   int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends rec. rec.Offset is ignored.
func (w *Writer) Write(rec Record) error {
	if len(rec.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d", ErrTooLarge, len(rec.Payload))
	}
	encodeHeader(w.hdr[:], rec)
	if _, err := w.w.Write(w.hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(rec.Payload); err != nil {
		return err
	}
	w.n += int64(HeaderSize + len(rec.Payload))
	return nil
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 { return w.n }

// Reader iterates over a capture sequentially, resynchronising on the sync
// pattern after corrupt headers, while building an index.
type Reader struct {
	src          io.ReaderAt
	closer       io.Closer
	size         int64
	offset       int64
	resyncWindow int64
	resyncBuf    []byte
	hdr          [HeaderSize]byte

	metrics *common.Metrics
	index   Index
}

// NewReader reads a capture of size bytes from src.
func NewReader(src io.ReaderAt, size int64) *Reader {
	return &Reader{
		src:          src,
		size:         size,
		resyncWindow: defaultResyncWindow,
		resyncBuf:    make([]byte, defaultResyncWindow),
	}
}

// Open opens the capture file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r := NewReader(f, info.Size())
	r.closer = f
	return r, nil
}

// Close releases the underlying file, if the Reader opened one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	r.src = nil
	return err
}

// SetMetrics attaches a metrics recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
	if r.metrics != nil {
		r.metrics.SetTotalBytes(r.size)
	}
}

// Index returns a copy of the accumulated index.
func (r *Reader) Index() Index {
	out := Index{Records: make([]RecordIndex, len(r.index.Records)), Resyncs: r.index.Resyncs}
	copy(out.Records, r.index.Records)
	return out
}

// Next returns the next record. The payload is freshly allocated. It returns
// io.EOF at the end of the capture.
func (r *Reader) Next() (Record, error) {
	if r.src == nil {
		return Record{}, io.EOF
	}
	for {
		if r.offset+HeaderSize > r.size {
			if r.offset >= r.size {
				return Record{}, io.EOF
			}
			return Record{}, io.ErrUnexpectedEOF
		}
		if _, err := r.src.ReadAt(r.hdr[:], r.offset); err != nil && !errors.Is(err, io.EOF) {
			return Record{}, err
		}
		hdr := r.hdr[:]
		if binary.BigEndian.Uint16(hdr[0:2]) != syncPattern {
			if err := r.resync("sync pattern"); err != nil {
				return Record{}, err
			}
			continue
		}
		if headerChecksum(hdr) != hdr[7] {
			if err := r.resync("header checksum"); err != nil {
				return Record{}, err
			}
			continue
		}
		length := int64(binary.BigEndian.Uint16(hdr[4:6]))
		next := r.offset + HeaderSize + length
		if next > r.size {
			if err := r.resync("payload beyond end of capture"); err != nil {
				return Record{}, err
			}
			continue
		}
		rec := Record{
			Offset:  r.offset,
			PDU:     binary.BigEndian.Uint16(hdr[2:4]),
			Flags:   hdr[6],
			Time:    time.Duration(binary.BigEndian.Uint64(hdr[8:16])) * time.Microsecond,
			Payload: make([]byte, length),
		}
		if length > 0 {
			if _, err := r.src.ReadAt(rec.Payload, r.offset+HeaderSize); err != nil && !errors.Is(err, io.EOF) {
				return Record{}, err
			}
		}
		r.index.Records = append(r.index.Records, RecordIndex{
			Offset: rec.Offset,
			PDU:    rec.PDU,
			Length: int(length),
			Time:   rec.Time,
		})
		if r.metrics != nil {
			r.metrics.AddRecord(HeaderSize + length)
		}
		r.offset = next
		return rec, nil
	}
}

func (r *Reader) resync(reason string) error {
	common.Logger().Debug().Int64("offset", r.offset).Str("reason", reason).Msg("resync")
	r.index.Resyncs++
	if r.metrics != nil {
		r.metrics.IncResync()
	}
	orig := r.offset
	skip := func(to int64) {
		r.offset = to
		if r.metrics != nil && r.offset > orig {
			r.metrics.AddBytes(r.offset - orig)
		}
	}
	start := r.offset + 1
	if start >= r.size {
		skip(r.size)
		return io.EOF
	}
	limit := start + r.resyncWindow
	if limit > r.size {
		limit = r.size
	}
	window := limit - start
	if window < 2 {
		skip(limit)
		return io.EOF
	}
	buf := r.resyncBuf[:window]
	n, err := r.src.ReadAt(buf, start)
	if n < 2 && err != nil {
		if errors.Is(err, io.EOF) {
			skip(r.size)
			return io.EOF
		}
		return err
	}
	for i := 0; i < n-1; i++ {
		if buf[i] == 0x5A && buf[i+1] == 0x17 {
			skip(start + int64(i))
			return nil
		}
	}
	skip(limit)
	if limit >= r.size {
		return io.EOF
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return ErrNoSync
}

// ScanFile reads every record of the capture at path and returns its index.
func ScanFile(path string) (Index, error) {
	r, err := Open(path)
	if err != nil {
		return Index{}, err
	}
	defer r.Close()
	for {
		_, err := r.Next()
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return r.Index(), err
	}
	return r.Index(), nil
}
