// Package store owns the per-signal buffers: a temporary slot holding the
// value just decoded, a long-term slot holding the last committed value, and
// for group members a shadow slot staging the value until the whole group is
// accepted. Array-access groups additionally keep their raw region bytes.
package store

import (
	"errors"
	"fmt"
	"sync"

	"example.com/sigrx/internal/bitfield"
	"example.com/sigrx/internal/fault"
	"example.com/sigrx/internal/signal"
)

var (
	ErrShortBuffer  = errors.New("store: destination buffer too small")
	ErrNotArray     = errors.New("store: signal is not a byte array")
	ErrTypeMismatch = errors.New("store: value type does not match signal")
)

// DefaultAtomicWidth is the widest scalar stored without a lock.
const DefaultAtomicWidth = 64

// Options tunes buffer synchronisation.
type Options struct {
	// AtomicWidthBits is the widest scalar width accessed atomically; wider
	// scalars get a mutex-protected slot. Zero means DefaultAtomicWidth.
	AtomicWidthBits int
}

// Store is the process-wide buffer table of one configuration.
type Store struct {
	cfg *signal.Config

	// temp and shadow are written only by the pipeline, which serialises
	// access per signal.
	temp     []signal.Value
	shadow   []signal.Value
	longTerm []slot
	groups   []groupBuffers
}

type groupBuffers struct {
	// mu makes a group commit appear atomic to ReadGroup.
	mu sync.RWMutex

	array    bool
	temp     []byte
	shadow   []byte
	longTerm []byte
}

// New allocates buffers for every signal and group of cfg and writes the init
// values.
func New(cfg *signal.Config, opts Options) *Store {
	width := opts.AtomicWidthBits
	if width <= 0 {
		width = DefaultAtomicWidth
	}
	s := &Store{
		cfg:      cfg,
		temp:     make([]signal.Value, cfg.SignalCount()),
		shadow:   make([]signal.Value, cfg.SignalCount()),
		longTerm: make([]slot, cfg.SignalCount()),
		groups:   make([]groupBuffers, cfg.GroupCount()),
	}
	for i := range s.longTerm {
		d, _ := cfg.Signal(signal.SignalID(i))
		s.longTerm[i] = newSlot(d, width)
	}
	for i := range s.groups {
		g, _ := cfg.Group(signal.GroupID(i))
		gb := &s.groups[i]
		gb.array = g.ArrayAccess
		if g.ArrayAccess {
			gb.temp = make([]byte, g.Length)
			gb.shadow = make([]byte, g.Length)
			gb.longTerm = make([]byte, g.Length)
		}
	}
	s.InitBuffers()
	return s
}

// Config returns the configuration the store was built from.
func (s *Store) Config() *signal.Config {
	return s.cfg
}

func (s *Store) signal(id signal.SignalID, op string) (*signal.Descriptor, error) {
	d, err := s.cfg.Signal(id)
	if err != nil {
		return nil, fault.New(fault.ClassIndex, "store", op, err)
	}
	return d, nil
}

func (s *Store) group(id signal.GroupID, op string) (*signal.Group, *groupBuffers, error) {
	g, err := s.cfg.Group(id)
	if err != nil {
		return nil, nil, fault.New(fault.ClassIndex, "store", op, err)
	}
	return g, &s.groups[id], nil
}

// arrayGroup returns the array-access group d belongs to, if any.
func (s *Store) arrayGroup(d *signal.Descriptor) (*signal.Group, *groupBuffers) {
	if d.Group == nil {
		return nil, nil
	}
	gb := &s.groups[*d.Group]
	if !gb.array {
		return nil, nil
	}
	g, _ := s.cfg.Group(*d.Group)
	return g, gb
}

// InitBuffers writes every signal's init value into its temporary, shadow and
// long-term buffers and rebuilds array-access group regions from them.
func (s *Store) InitBuffers() {
	for i := range s.longTerm {
		d, _ := s.cfg.Signal(signal.SignalID(i))
		s.temp[i] = d.Init
		if d.Group != nil {
			s.shadow[i] = d.Init
		}
		s.longTerm[i].store(d.Init)
	}
	for i := range s.groups {
		gb := &s.groups[i]
		if !gb.array {
			continue
		}
		g, _ := s.cfg.Group(signal.GroupID(i))
		region := make([]byte, g.Length)
		for _, m := range g.Members {
			d, _ := s.cfg.Signal(m)
			if err := bitfield.Encode(d.Init, g.Regional(d), region); err != nil {
				fault.Report(err)
			}
		}
		gb.mu.Lock()
		copy(gb.temp, region)
		copy(gb.shadow, region)
		copy(gb.longTerm, region)
		gb.mu.Unlock()
	}
}

// WriteTemp decodes signal id from frame into its temporary slot and returns
// the decoded value. On a contract violation the slot is left unchanged.
func (s *Store) WriteTemp(id signal.SignalID, frame []byte) (signal.Value, error) {
	d, err := s.signal(id, "write_temp")
	if err != nil {
		return signal.Value{}, err
	}
	v, err := bitfield.Decode(frame, d)
	if err != nil {
		return signal.Value{}, err
	}
	s.temp[id] = v
	return v, nil
}

// ReadTemp returns the temporary slot of id.
func (s *Store) ReadTemp(id signal.SignalID) (signal.Value, error) {
	if _, err := s.signal(id, "read_temp"); err != nil {
		return signal.Value{}, err
	}
	return s.temp[id], nil
}

// Commit stores v as the committed value of id: into the shadow slot for
// group members, otherwise into the long-term slot. For dynamic arrays the
// stored length follows v.
func (s *Store) Commit(id signal.SignalID, v signal.Value) error {
	d, err := s.signal(id, "commit")
	if err != nil {
		return err
	}
	return s.put(d, v, "commit")
}

func (s *Store) put(d *signal.Descriptor, v signal.Value, op string) error {
	if v.Type() != d.Type {
		return fault.New(fault.ClassLayout, "store", op,
			fmt.Errorf("%w: %s value for %s (%s)", ErrTypeMismatch, v.Type(), d.Name, d.Type))
	}
	if d.Type.Array() && v.Len() > d.MaxLen {
		return fault.New(fault.ClassRange, "store", op,
			fmt.Errorf("%w: %d bytes for %s (max %d)", ErrShortBuffer, v.Len(), d.Name, d.MaxLen))
	}
	if g, gb := s.arrayGroup(d); g != nil {
		// the region is owned by the pipeline between commits; readers only
		// see long-term bytes
		return bitfield.Encode(v, g.Regional(d), gb.shadow)
	}
	if d.Group != nil {
		s.shadow[d.ID] = v
		return nil
	}
	s.longTerm[d.ID].store(v)
	return nil
}

// SetInitValue overwrites the committed value of id (shadow if present) with
// its init value.
func (s *Store) SetInitValue(id signal.SignalID) error {
	d, err := s.signal(id, "set_init_value")
	if err != nil {
		return err
	}
	return s.put(d, d.Init, "set_init_value")
}

// SetTimeoutSubstitutionValue overwrites the committed value of id (shadow if
// present) with its timeout substitute, or its init value when none is
// configured.
func (s *Store) SetTimeoutSubstitutionValue(id signal.SignalID) error {
	d, err := s.signal(id, "set_timeout_substitution_value")
	if err != nil {
		return err
	}
	v := d.Init
	if d.TimeoutSubstitute != nil {
		v = *d.TimeoutSubstitute
	}
	return s.put(d, v, "set_timeout_substitution_value")
}

// WriteGroupTemp copies the raw region of an array-access group from frame
// into the group's temporary bytes.
func (s *Store) WriteGroupTemp(id signal.GroupID, frame []byte) error {
	g, gb, err := s.group(id, "write_group_temp")
	if err != nil {
		return err
	}
	if !gb.array {
		return nil
	}
	if g.StartByte+g.Length > len(frame) {
		return fault.New(fault.ClassRange, "store", "write_group_temp",
			fmt.Errorf("%w: group %s needs bytes %d+%d of %d", bitfield.ErrRange, g.Name, g.StartByte, g.Length, len(frame)))
	}
	copy(gb.temp, frame[g.StartByte:g.StartByte+g.Length])
	return nil
}

// GroupTemp returns the temporary region bytes of an array-access group. The
// slice is owned by the store and valid until the next WriteGroupTemp.
func (s *Store) GroupTemp(id signal.GroupID) ([]byte, error) {
	_, gb, err := s.group(id, "group_temp")
	if err != nil {
		return nil, err
	}
	return gb.temp, nil
}

// CommitGroupArray copies the temporary region of an array-access group into
// its shadow.
func (s *Store) CommitGroupArray(id signal.GroupID) error {
	_, gb, err := s.group(id, "commit_group_array")
	if err != nil {
		return err
	}
	if gb.array {
		copy(gb.shadow, gb.temp)
	}
	return nil
}

// GroupShadowToLongTerm publishes the shadow buffers of every member of a
// group (or its shadow region for array access) to long-term storage.
func (s *Store) GroupShadowToLongTerm(id signal.GroupID) error {
	g, gb, err := s.group(id, "group_shadow_to_longterm")
	if err != nil {
		return err
	}
	gb.mu.Lock()
	defer gb.mu.Unlock()
	if gb.array {
		copy(gb.longTerm, gb.shadow)
		return nil
	}
	for _, m := range g.Members {
		s.longTerm[m].store(s.shadow[m])
	}
	return nil
}

// ReadShadow returns the shadow value of a group member.
func (s *Store) ReadShadow(id signal.SignalID) (signal.Value, error) {
	d, err := s.signal(id, "read_shadow")
	if err != nil {
		return signal.Value{}, err
	}
	if g, gb := s.arrayGroup(d); g != nil {
		return bitfield.Decode(gb.shadow, g.Regional(d))
	}
	return s.shadow[id], nil
}

// ReadLongTerm returns the committed, application-visible value of id.
func (s *Store) ReadLongTerm(id signal.SignalID) (signal.Value, error) {
	d, err := s.signal(id, "read_longterm")
	if err != nil {
		return signal.Value{}, err
	}
	if g, gb := s.arrayGroup(d); g != nil {
		gb.mu.RLock()
		defer gb.mu.RUnlock()
		return bitfield.Decode(gb.longTerm, g.Regional(d))
	}
	return s.longTerm[id].load(), nil
}

// ReadLongTermArray copies the committed bytes of an array signal into dest
// and returns the stored length. dest needs room for the stored length only,
// which for a dynamic array may be shorter than MaxLen.
func (s *Store) ReadLongTermArray(id signal.SignalID, dest []byte) (int, error) {
	d, err := s.signal(id, "read_longterm_array")
	if err != nil {
		return 0, err
	}
	if !d.Type.Array() {
		return 0, fmt.Errorf("%w: %s", ErrNotArray, d.Name)
	}
	if g, _ := s.arrayGroup(d); g != nil {
		v, err := s.ReadLongTerm(id)
		if err != nil {
			return 0, err
		}
		if len(dest) < v.Len() {
			return 0, fmt.Errorf("%w: need %d bytes", ErrShortBuffer, v.Len())
		}
		return copy(dest, v.Bytes()), nil
	}
	n, ok := s.longTerm[id].copyTo(dest)
	if !ok {
		return 0, fmt.Errorf("%w: need %d bytes", ErrShortBuffer, n)
	}
	return n, nil
}

// ReadGroup returns a consistent snapshot of the committed member values of a
// group, in member order.
func (s *Store) ReadGroup(id signal.GroupID) ([]signal.Value, error) {
	g, gb, err := s.group(id, "read_group")
	if err != nil {
		return nil, err
	}
	gb.mu.RLock()
	defer gb.mu.RUnlock()
	out := make([]signal.Value, len(g.Members))
	for i, m := range g.Members {
		if gb.array {
			d, _ := s.cfg.Signal(m)
			v, err := bitfield.Decode(gb.longTerm, g.Regional(d))
			if err != nil {
				return nil, err
			}
			out[i] = v
			continue
		}
		out[i] = s.longTerm[m].load()
	}
	return out, nil
}

// ReadGroupArray copies the committed region of an array-access group into
// dest and returns the number of bytes copied.
func (s *Store) ReadGroupArray(id signal.GroupID, dest []byte) (int, error) {
	g, gb, err := s.group(id, "read_group_array")
	if err != nil {
		return 0, err
	}
	if !gb.array {
		return 0, fmt.Errorf("%w: group %s has no array access", ErrNotArray, g.Name)
	}
	if len(dest) < g.Length {
		return 0, fmt.Errorf("%w: need %d bytes", ErrShortBuffer, g.Length)
	}
	gb.mu.RLock()
	defer gb.mu.RUnlock()
	return copy(dest, gb.longTerm), nil
}
