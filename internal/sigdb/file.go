// Package sigdb loads signal databases: YAML or TOML documents describing
// PDUs, their signals and signal groups.
package sigdb

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"example.com/sigrx/internal/signal"
)

var (
	ErrFormat = errors.New("sigdb: unsupported document format")
	ErrValue  = errors.New("sigdb: bad value")
)

// File is the document layout shared by the YAML and TOML encodings.
type File struct {
	Name string    `yaml:"name" toml:"name"`
	PDUs []PDUFile `yaml:"pdus" toml:"pdus"`
}

type PDUFile struct {
	Name    string       `yaml:"name" toml:"name"`
	Length  int          `yaml:"length" toml:"length"`
	Signals []SignalFile `yaml:"signals" toml:"signals"`
	Groups  []GroupFile  `yaml:"groups" toml:"groups"`
}

type SignalFile struct {
	Name              string       `yaml:"name" toml:"name"`
	Type              string       `yaml:"type" toml:"type"`
	BitPosition       int          `yaml:"bitPosition" toml:"bitPosition"`
	BitLength         int          `yaml:"bitLength" toml:"bitLength"`
	ByteOrder         string       `yaml:"byteOrder" toml:"byteOrder"`
	MaxLen            int          `yaml:"maxLen" toml:"maxLen"`
	Init              interface{}  `yaml:"init" toml:"init"`
	TimeoutSubstitute interface{}  `yaml:"timeoutSubstitute" toml:"timeoutSubstitute"`
	UpdateBit         *int         `yaml:"updateBit" toml:"updateBit"`
	TimeoutMs         int          `yaml:"timeoutMs" toml:"timeoutMs"`
	Invalid           *InvalidFile `yaml:"invalid" toml:"invalid"`
	Filter            *FilterFile  `yaml:"filter" toml:"filter"`
}

type InvalidFile struct {
	Sentinel   interface{} `yaml:"sentinel" toml:"sentinel"`
	Action     string      `yaml:"action" toml:"action"`
	Substitute interface{} `yaml:"substitute" toml:"substitute"`
}

type FilterFile struct {
	Algorithm string      `yaml:"algorithm" toml:"algorithm"`
	Mask      interface{} `yaml:"mask" toml:"mask"`
	X         interface{} `yaml:"x" toml:"x"`
	Min       interface{} `yaml:"min" toml:"min"`
	Max       interface{} `yaml:"max" toml:"max"`
	OldInit   interface{} `yaml:"oldInit" toml:"oldInit"`
}

type GroupFile struct {
	Name           string   `yaml:"name" toml:"name"`
	Members        []string `yaml:"members" toml:"members"`
	ArrayAccess    bool     `yaml:"arrayAccess" toml:"arrayAccess"`
	StartByte      int      `yaml:"startByte" toml:"startByte"`
	Length         int      `yaml:"length" toml:"length"`
	InvalidAction  string   `yaml:"invalidAction" toml:"invalidAction"`
	UpdateBit      *int     `yaml:"updateBit" toml:"updateBit"`
	TimeoutMs      int      `yaml:"timeoutMs" toml:"timeoutMs"`
	TimeoutReplace bool     `yaml:"timeoutReplace" toml:"timeoutReplace"`
}

// Database is a validated signal database.
type Database struct {
	Name   string
	Config *signal.Config
	// Timeouts holds the reception deadline of every supervised signal and
	// group.
	Timeouts map[signal.Ref]time.Duration
	// Digest is the SHA-256 of the source document, empty for documents
	// built in memory.
	Digest string
}

// FromFile validates a decoded document and builds its configuration.
func FromFile(file File) (*Database, error) {
	var (
		pdus    []signal.PDU
		signals []signal.Descriptor
		groups  []signal.Group
		indexOf = make(map[string]signal.SignalID)
		timeout = make(map[string]time.Duration)
		gtime   = make(map[string]time.Duration)
	)
	for pi, pf := range file.PDUs {
		if pf.Length <= 0 || pf.Length > math.MaxUint16 {
			return nil, fmt.Errorf("pdus[%d]: length out of range", pi)
		}
		pduID := signal.PDUID(len(pdus))
		pdus = append(pdus, signal.PDU{Name: pf.Name, Length: pf.Length})
		for si, sf := range pf.Signals {
			d, err := signalFromFile(sf, pduID)
			if err != nil {
				return nil, fmt.Errorf("pdus[%d].signals[%d]: %w", pi, si, err)
			}
			if sf.TimeoutMs < 0 {
				return nil, fmt.Errorf("pdus[%d].signals[%d]: timeoutMs out of range", pi, si)
			}
			if sf.TimeoutMs > 0 {
				timeout[d.Name] = time.Duration(sf.TimeoutMs) * time.Millisecond
			}
			if _, exists := indexOf[d.Name]; exists {
				return nil, fmt.Errorf("pdus[%d].signals[%d]: duplicate signal %q", pi, si, d.Name)
			}
			indexOf[d.Name] = signal.SignalID(len(signals))
			signals = append(signals, d)
		}
		for gi, gf := range pf.Groups {
			g := signal.Group{
				Name:           strings.TrimSpace(gf.Name),
				PDU:            pduID,
				ArrayAccess:    gf.ArrayAccess,
				StartByte:      gf.StartByte,
				Length:         gf.Length,
				Deadline:       gf.TimeoutMs > 0,
				TimeoutReplace: gf.TimeoutReplace,
			}
			if gf.StartByte < 0 || gf.Length < 0 {
				return nil, fmt.Errorf("pdus[%d].groups[%d]: region out of range", pi, gi)
			}
			action := strings.ToLower(strings.TrimSpace(gf.InvalidAction))
			switch action {
			case "", "none":
				g.InvalidAction = signal.GroupInvalidNone
			case "notify":
				g.InvalidAction = signal.GroupInvalidNotify
			case "replace":
				g.InvalidAction = signal.GroupInvalidReplace
			default:
				return nil, fmt.Errorf("pdus[%d].groups[%d]: unknown invalid action %q", pi, gi, gf.InvalidAction)
			}
			bit, err := updateBit(gf.UpdateBit)
			if err != nil {
				return nil, fmt.Errorf("pdus[%d].groups[%d]: %w", pi, gi, err)
			}
			g.UpdateBit = bit
			for _, name := range gf.Members {
				id, ok := indexOf[strings.TrimSpace(name)]
				if !ok {
					return nil, fmt.Errorf("pdus[%d].groups[%d]: unknown member %q", pi, gi, name)
				}
				g.Members = append(g.Members, id)
			}
			if g.InvalidAction == signal.GroupInvalidNone && guarded(signals, g.Members) {
				// Members with sentinels must notify or reset the group.
				if action == "none" {
					return nil, fmt.Errorf("pdus[%d].groups[%d]: invalidAction none with invalidation rules on members", pi, gi)
				}
				g.InvalidAction = signal.GroupInvalidNotify
			}
			if gf.TimeoutMs > 0 {
				gtime[g.Name] = time.Duration(gf.TimeoutMs) * time.Millisecond
			}
			groups = append(groups, g)
		}
	}
	cfg, err := signal.NewConfig(pdus, signals, groups)
	if err != nil {
		return nil, err
	}
	db := &Database{Name: file.Name, Config: cfg, Timeouts: make(map[signal.Ref]time.Duration)}
	for name, d := range timeout {
		id, _ := cfg.LookupSignal(name)
		db.Timeouts[signal.SignalRef(id)] = d
	}
	for name, d := range gtime {
		id, _ := cfg.LookupGroup(name)
		db.Timeouts[signal.GroupRef(id)] = d
	}
	return db, nil
}

func guarded(signals []signal.Descriptor, members []signal.SignalID) bool {
	for _, id := range members {
		if int(id) < len(signals) && signals[id].Invalidation != nil {
			return true
		}
	}
	return false
}

func updateBit(bit *int) (*uint32, error) {
	if bit == nil {
		return nil, nil
	}
	if *bit < 0 || *bit > math.MaxUint16*8 {
		return nil, errors.New("updateBit out of range")
	}
	v := uint32(*bit)
	return &v, nil
}

func signalFromFile(sf SignalFile, pdu signal.PDUID) (signal.Descriptor, error) {
	d := signal.Descriptor{Name: strings.TrimSpace(sf.Name), PDU: pdu, MaxLen: sf.MaxLen}
	var err error
	if d.Type, err = signal.ParseType(sf.Type); err != nil {
		return d, err
	}
	if d.ByteOrder, err = signal.ParseByteOrder(sf.ByteOrder); err != nil {
		return d, err
	}
	if sf.BitPosition < 0 || sf.BitPosition > math.MaxUint16*8 {
		return d, errors.New("bitPosition out of range")
	}
	if sf.BitLength < 0 || sf.BitLength > 64 && d.Type != signal.TypeBytes {
		return d, errors.New("bitLength out of range")
	}
	if sf.MaxLen < 0 {
		return d, errors.New("maxLen out of range")
	}
	d.BitPosition = uint32(sf.BitPosition)
	d.BitLength = uint32(sf.BitLength)
	if d.Type == signal.TypeBytes && d.BitLength == 0 {
		d.BitLength = uint32(sf.MaxLen) * 8
	}
	if d.UpdateBit, err = updateBit(sf.UpdateBit); err != nil {
		return d, err
	}
	d.Deadline = sf.TimeoutMs > 0

	if sf.Init != nil {
		if d.Init, err = ParseValue(d.Type, sf.Init); err != nil {
			return d, fmt.Errorf("init: %w", err)
		}
	}
	if sf.TimeoutSubstitute != nil {
		v, err := ParseValue(d.Type, sf.TimeoutSubstitute)
		if err != nil {
			return d, fmt.Errorf("timeoutSubstitute: %w", err)
		}
		d.TimeoutSubstitute = &v
	}
	if sf.Invalid != nil {
		rule := &signal.InvalidationRule{}
		if rule.Sentinel, err = ParseValue(d.Type, sf.Invalid.Sentinel); err != nil {
			return d, fmt.Errorf("invalid.sentinel: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(sf.Invalid.Action)) {
		case "", "notify":
			rule.Action = signal.ActionNotify
		case "substitute", "replace":
			rule.Action = signal.ActionSubstitute
		default:
			return d, fmt.Errorf("invalid.action: unknown %q", sf.Invalid.Action)
		}
		if sf.Invalid.Substitute != nil {
			v, err := ParseValue(d.Type, sf.Invalid.Substitute)
			if err != nil {
				return d, fmt.Errorf("invalid.substitute: %w", err)
			}
			rule.Substitute = &v
		}
		d.Invalidation = rule
	}
	if sf.Filter != nil {
		rule, err := filterFromFile(d.Type, sf.Filter)
		if err != nil {
			return d, fmt.Errorf("filter: %w", err)
		}
		d.Filter = rule
	}
	return d, nil
}

func filterFromFile(t signal.PrimitiveType, ff *FilterFile) (*signal.FilterRule, error) {
	alg, err := signal.ParseAlgorithm(ff.Algorithm)
	if err != nil {
		return nil, err
	}
	rule := &signal.FilterRule{Algorithm: alg}
	if t.Array() {
		if ff.Mask != nil {
			if rule.ArrayMask, err = parseHex(ff.Mask); err != nil {
				return nil, fmt.Errorf("mask: %w", err)
			}
		}
		if ff.X != nil {
			if rule.ArrayX, err = parseHex(ff.X); err != nil {
				return nil, fmt.Errorf("x: %w", err)
			}
		}
	} else {
		rule.Mask = lowBits(t)
		if ff.Mask != nil {
			if rule.Mask, err = parseBits(ff.Mask); err != nil {
				return nil, fmt.Errorf("mask: %w", err)
			}
		}
		if ff.X != nil {
			if rule.X, err = parseBits(ff.X); err != nil {
				return nil, fmt.Errorf("x: %w", err)
			}
		}
	}
	if ff.Min != nil {
		if rule.Min, err = ParseValue(t, ff.Min); err != nil {
			return nil, fmt.Errorf("min: %w", err)
		}
	}
	if ff.Max != nil {
		if rule.Max, err = ParseValue(t, ff.Max); err != nil {
			return nil, fmt.Errorf("max: %w", err)
		}
	}
	if ff.OldInit != nil {
		v, err := ParseValue(t, ff.OldInit)
		if err != nil {
			return nil, fmt.Errorf("oldInit: %w", err)
		}
		rule.OldInit = &v
	}
	return rule, nil
}

func lowBits(t signal.PrimitiveType) uint64 {
	if w := t.Width(); w > 0 && w < 64 {
		return 1<<uint(w) - 1
	}
	return math.MaxUint64
}

// ParseValue converts a document value into a value of type t. Arrays are
// hex strings; scalars are numbers or numeric strings ("0x1F", "-3", "2.5").
func ParseValue(t signal.PrimitiveType, raw interface{}) (signal.Value, error) {
	if t.Array() {
		b, err := parseHex(raw)
		if err != nil {
			return signal.Value{}, err
		}
		if t == signal.TypeDynBytes {
			return signal.DynBytes(b), nil
		}
		return signal.Bytes(b), nil
	}
	if t.Float() {
		f, err := parseFloat(raw)
		if err != nil {
			return signal.Value{}, err
		}
		if t == signal.TypeF32 {
			return signal.F32(float32(f)), nil
		}
		return signal.F64(f), nil
	}
	if t.Signed() {
		n, err := parseInt(raw)
		if err != nil {
			return signal.Value{}, err
		}
		w := t.Width()
		if w < 64 && (n < -(1<<(w-1)) || n >= 1<<(w-1)) {
			return signal.Value{}, fmt.Errorf("%w: %d overflows %s", ErrValue, n, t)
		}
		return signal.FromBits(t, uint64(n)), nil
	}
	n, err := parseBits(raw)
	if err != nil {
		return signal.Value{}, err
	}
	if w := t.Width(); w < 64 && n >= 1<<uint(w) {
		return signal.Value{}, fmt.Errorf("%w: %d overflows %s", ErrValue, n, t)
	}
	return signal.FromBits(t, n), nil
}

func parseHex(raw interface{}) ([]byte, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: want hex string, got %T", ErrValue, raw)
	}
	s = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(s), " ", ""), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValue, err)
	}
	return b, nil
}

func parseBits(raw interface{}) (uint64, error) {
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%w: negative %d", ErrValue, v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("%w: negative %d", ErrValue, v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case float64:
		if v < 0 || v != math.Trunc(v) || v >= math.MaxUint64 {
			return 0, fmt.Errorf("%w: %v is not an unsigned integer", ErrValue, v)
		}
		return uint64(v), nil
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: want integer, got %T", ErrValue, raw)
}

func parseInt(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrValue, v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrValue, v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: want integer, got %T", ErrValue, raw)
}

func parseFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValue, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: want number, got %T", ErrValue, raw)
}
