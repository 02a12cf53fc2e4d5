package signal

import (
	"fmt"
	"strings"
)

// Config is the arena of PDUs, signal descriptors and groups. Handles are
// indexes into it and every lookup is bounds checked.
type Config struct {
	pdus    []PDU
	signals []Descriptor
	groups  []Group

	pduByName    map[string]PDUID
	signalByName map[string]SignalID
	groupByName  map[string]GroupID
}

// NewConfig validates the given tables and links them. Handles are assigned
// from slice positions; Descriptor.Group and PDU.Signals/Groups are derived
// from the group member lists and the PDU fields of signals and groups.
func NewConfig(pdus []PDU, signals []Descriptor, groups []Group) (*Config, error) {
	c := &Config{
		pdus:         make([]PDU, len(pdus)),
		signals:      make([]Descriptor, len(signals)),
		groups:       make([]Group, len(groups)),
		pduByName:    make(map[string]PDUID, len(pdus)),
		signalByName: make(map[string]SignalID, len(signals)),
		groupByName:  make(map[string]GroupID, len(groups)),
	}
	for i, p := range pdus {
		p.ID = PDUID(i)
		p.Name = strings.TrimSpace(p.Name)
		p.Signals = nil
		p.Groups = nil
		if p.Name == "" {
			return nil, fmt.Errorf("pdu[%d]: missing name", i)
		}
		if _, exists := c.pduByName[p.Name]; exists {
			return nil, fmt.Errorf("pdu[%d] %s: %w", i, p.Name, ErrDuplicateName)
		}
		if p.Length <= 0 {
			return nil, fmt.Errorf("pdu %s: length must be positive: %w", p.Name, ErrInvalidLayout)
		}
		c.pdus[i] = p
		c.pduByName[p.Name] = p.ID
	}
	for i, d := range signals {
		d.ID = SignalID(i)
		d.Name = strings.TrimSpace(d.Name)
		d.Group = nil
		if d.Name == "" {
			return nil, fmt.Errorf("signal[%d]: missing name", i)
		}
		if _, exists := c.signalByName[d.Name]; exists {
			return nil, fmt.Errorf("signal[%d] %s: %w", i, d.Name, ErrDuplicateName)
		}
		if int(d.PDU) >= len(c.pdus) {
			return nil, fmt.Errorf("signal %s: pdu %d: %w", d.Name, d.PDU, ErrUnknownPDU)
		}
		if err := normalizeSignal(&d, c.pdus[d.PDU]); err != nil {
			return nil, fmt.Errorf("signal %s: %w", d.Name, err)
		}
		c.signals[i] = d
		c.signalByName[d.Name] = d.ID
	}
	for i, g := range groups {
		g.ID = GroupID(i)
		g.Name = strings.TrimSpace(g.Name)
		g.Members = append([]SignalID(nil), g.Members...)
		if g.Name == "" {
			return nil, fmt.Errorf("group[%d]: missing name", i)
		}
		if _, exists := c.groupByName[g.Name]; exists {
			return nil, fmt.Errorf("group[%d] %s: %w", i, g.Name, ErrDuplicateName)
		}
		if int(g.PDU) >= len(c.pdus) {
			return nil, fmt.Errorf("group %s: pdu %d: %w", g.Name, g.PDU, ErrUnknownPDU)
		}
		if err := c.linkGroup(&g); err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Name, err)
		}
		c.groups[i] = g
		c.groupByName[g.Name] = g.ID
		c.pdus[g.PDU].Groups = append(c.pdus[g.PDU].Groups, g.ID)
	}
	for i := range c.signals {
		d := &c.signals[i]
		if d.Group == nil {
			c.pdus[d.PDU].Signals = append(c.pdus[d.PDU].Signals, d.ID)
		}
	}
	return c, nil
}

func normalizeSignal(d *Descriptor, pdu PDU) error {
	if !d.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownType, d.Type)
	}
	frameBits := uint32(pdu.Length) * 8
	switch {
	case d.Type.Integer():
		if int(d.BitLength) > d.Type.Width() {
			return fmt.Errorf("bit length %d exceeds %s: %w", d.BitLength, d.Type, ErrInvalidLayout)
		}
	case d.Type.Float():
		if int(d.BitLength) != d.Type.Width() {
			return fmt.Errorf("%s needs bit length %d, got %d: %w", d.Type, d.Type.Width(), d.BitLength, ErrInvalidLayout)
		}
	case d.Type == TypeBytes:
		if d.BitPosition%8 != 0 || d.BitLength%8 != 0 || d.BitLength == 0 {
			return fmt.Errorf("byte array must be byte aligned: %w", ErrInvalidLayout)
		}
		n := int(d.BitLength / 8)
		if d.MaxLen != 0 && d.MaxLen != n {
			return fmt.Errorf("max length %d disagrees with bit length %d: %w", d.MaxLen, d.BitLength, ErrInvalidLayout)
		}
		d.MaxLen = n
	case d.Type == TypeDynBytes:
		if d.BitPosition%8 != 0 || d.MaxLen <= 0 {
			return fmt.Errorf("dynamic array needs byte alignment and max length: %w", ErrInvalidLayout)
		}
		d.BitLength = uint32(d.MaxLen) * 8
	}
	if d.BitLength > 0 {
		first, last := Span(d.BitPosition, d.BitLength, d.ByteOrder, d.Type)
		if first < 0 || last >= pdu.Length {
			return fmt.Errorf("bits %d+%d exceed %d-byte pdu %s: %w", d.BitPosition, d.BitLength, pdu.Length, pdu.Name, ErrInvalidLayout)
		}
	} else if d.BitPosition >= frameBits {
		return fmt.Errorf("bit position %d outside pdu %s: %w", d.BitPosition, pdu.Name, ErrInvalidLayout)
	}
	if d.UpdateBit != nil && *d.UpdateBit >= frameBits {
		return fmt.Errorf("update bit %d outside pdu %s: %w", *d.UpdateBit, pdu.Name, ErrInvalidLayout)
	}

	init, err := coerce(d, d.Init, true)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	d.Init = init
	if d.TimeoutSubstitute != nil {
		v, err := coerce(d, *d.TimeoutSubstitute, false)
		if err != nil {
			return fmt.Errorf("timeout substitute: %w", err)
		}
		d.TimeoutSubstitute = &v
	}
	if d.Invalidation != nil {
		rule := *d.Invalidation
		if rule.Sentinel, err = coerce(d, rule.Sentinel, false); err != nil {
			return fmt.Errorf("invalid sentinel: %w", err)
		}
		if rule.Substitute != nil {
			v, err := coerce(d, *rule.Substitute, false)
			if err != nil {
				return fmt.Errorf("invalid substitute: %w", err)
			}
			rule.Substitute = &v
		}
		d.Invalidation = &rule
	}
	if d.Filter != nil {
		rule := *d.Filter
		if err := checkFilter(d, &rule); err != nil {
			return err
		}
		d.Filter = &rule
	}
	return nil
}

// coerce checks that v has the signal's layout. With allowUnset, the zero
// Value{} stands for "not configured" and becomes the zero of the type.
func coerce(d *Descriptor, v Value, allowUnset bool) (Value, error) {
	if allowUnset && v.typ != d.Type && v.typ == TypeU8 && v.bits == 0 && v.data == nil {
		size := 0
		if d.Type == TypeBytes {
			size = d.MaxLen
		}
		return Zero(d.Type, size), nil
	}
	if v.typ != d.Type {
		return v, fmt.Errorf("value of type %s for %s signal: %w", v.typ, d.Type, ErrInvalidRule)
	}
	switch d.Type {
	case TypeBytes:
		if len(v.data) != d.MaxLen {
			return v, fmt.Errorf("array of %d bytes, want %d: %w", len(v.data), d.MaxLen, ErrInvalidRule)
		}
	case TypeDynBytes:
		if len(v.data) > d.MaxLen {
			return v, fmt.Errorf("array of %d bytes exceeds %d: %w", len(v.data), d.MaxLen, ErrInvalidRule)
		}
	}
	return v, nil
}

func checkFilter(d *Descriptor, rule *FilterRule) error {
	if rule.OldInit != nil {
		v, err := coerce(d, *rule.OldInit, false)
		if err != nil {
			return fmt.Errorf("filter old value: %w", err)
		}
		rule.OldInit = &v
	}
	switch d.Kind() {
	case KindZeroBit, KindDynArray:
		if _, ok := rule.Basic(); !ok {
			return fmt.Errorf("filter %s not defined for %s signals: %w", rule.Algorithm, kindName(d.Kind()), ErrInvalidRule)
		}
		return nil
	case KindArray:
		switch rule.Algorithm {
		case Always, Never:
		case MaskedNewDiffersMaskedOld:
			if len(rule.ArrayMask) != 0 && len(rule.ArrayMask) != d.MaxLen {
				return fmt.Errorf("array mask of %d bytes, want %d: %w", len(rule.ArrayMask), d.MaxLen, ErrInvalidRule)
			}
		case ArrayEquals:
			if len(rule.ArrayX) != d.MaxLen {
				return fmt.Errorf("array x of %d bytes, want %d: %w", len(rule.ArrayX), d.MaxLen, ErrInvalidRule)
			}
		default:
			return fmt.Errorf("filter %s not defined for byte arrays: %w", rule.Algorithm, ErrInvalidRule)
		}
		return nil
	}
	switch rule.Algorithm {
	case Always, Never, MaskedNewDiffersX, MaskedNewDiffersMaskedOld, MaskedNewEqualsX:
	case NewIsWithin, NewIsOutside:
		var err error
		if rule.Min, err = coerce(d, rule.Min, false); err != nil {
			return fmt.Errorf("filter min: %w", err)
		}
		if rule.Max, err = coerce(d, rule.Max, false); err != nil {
			return fmt.Errorf("filter max: %w", err)
		}
	default:
		return fmt.Errorf("filter %s not defined for %s: %w", rule.Algorithm, d.Type, ErrInvalidRule)
	}
	return nil
}

func kindName(k Kind) string {
	switch k {
	case KindZeroBit:
		return "zero-bit"
	case KindArray:
		return "array"
	case KindDynArray:
		return "dynamic-array"
	}
	return "scalar"
}

func (c *Config) linkGroup(g *Group) error {
	if len(g.Members) == 0 {
		return fmt.Errorf("no members: %w", ErrInvalidGroup)
	}
	first, last := -1, -1
	for _, id := range g.Members {
		if int(id) >= len(c.signals) {
			return fmt.Errorf("member %d: %w", id, ErrUnknownSignal)
		}
		d := &c.signals[id]
		if d.Group != nil {
			return fmt.Errorf("member %s already in group %d: %w", d.Name, *d.Group, ErrInvalidGroup)
		}
		if d.PDU != g.PDU {
			return fmt.Errorf("member %s on another pdu: %w", d.Name, ErrInvalidGroup)
		}
		if g.ArrayAccess {
			if d.Type == TypeDynBytes {
				return fmt.Errorf("member %s: dynamic arrays cannot use array access: %w", d.Name, ErrInvalidGroup)
			}
			if d.Filter != nil {
				switch d.Filter.Algorithm {
				case Always, Never, MaskedNewDiffersMaskedOld:
				default:
					return fmt.Errorf("member %s: filter %s not available with array access: %w", d.Name, d.Filter.Algorithm, ErrInvalidGroup)
				}
			}
		}
		if d.BitLength == 0 {
			continue
		}
		lo, hi := Span(d.BitPosition, d.BitLength, d.ByteOrder, d.Type)
		if first < 0 || lo < first {
			first = lo
		}
		if hi > last {
			last = hi
		}
	}
	pdu := c.pdus[g.PDU]
	if g.Length == 0 {
		if first < 0 {
			first, last = 0, 0
		}
		g.StartByte = first
		g.Length = last - first + 1
	} else if first >= 0 && (first < g.StartByte || last >= g.StartByte+g.Length) {
		return fmt.Errorf("members exceed region %d+%d: %w", g.StartByte, g.Length, ErrInvalidGroup)
	}
	if g.StartByte < 0 || g.StartByte+g.Length > pdu.Length {
		return fmt.Errorf("region %d+%d exceeds pdu %s: %w", g.StartByte, g.Length, pdu.Name, ErrInvalidLayout)
	}
	if g.UpdateBit != nil && int(*g.UpdateBit) >= pdu.Length*8 {
		return fmt.Errorf("update bit %d outside pdu %s: %w", *g.UpdateBit, pdu.Name, ErrInvalidLayout)
	}
	id := g.ID
	for _, m := range g.Members {
		c.signals[m].Group = &id
	}
	return nil
}

// Span returns the first and last frame byte touched by a field.
func Span(pos, length uint32, order ByteOrder, t PrimitiveType) (first, last int) {
	first = int(pos / 8)
	if length == 0 {
		return first, first
	}
	if t.Array() || order.Resolve() == LittleEndian {
		return first, int((pos + length - 1) / 8)
	}
	inFirst := pos%8 + 1
	if length <= inFirst {
		return first, first
	}
	return first, first + int((length-inFirst+7)/8)
}

// Signal returns the descriptor of id.
func (c *Config) Signal(id SignalID) (*Descriptor, error) {
	if c == nil || int(id) >= len(c.signals) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSignal, id)
	}
	return &c.signals[id], nil
}

// Group returns the group of id.
func (c *Config) Group(id GroupID) (*Group, error) {
	if c == nil || int(id) >= len(c.groups) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGroup, id)
	}
	return &c.groups[id], nil
}

// PDU returns the PDU of id.
func (c *Config) PDU(id PDUID) (*PDU, error) {
	if c == nil || int(id) >= len(c.pdus) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPDU, id)
	}
	return &c.pdus[id], nil
}

func (c *Config) SignalCount() int { return len(c.signals) }
func (c *Config) GroupCount() int  { return len(c.groups) }
func (c *Config) PDUCount() int    { return len(c.pdus) }

// LookupSignal resolves a signal name.
func (c *Config) LookupSignal(name string) (SignalID, bool) {
	id, ok := c.signalByName[name]
	return id, ok
}

// LookupGroup resolves a group name.
func (c *Config) LookupGroup(name string) (GroupID, bool) {
	id, ok := c.groupByName[name]
	return id, ok
}

// LookupPDU resolves a PDU name.
func (c *Config) LookupPDU(name string) (PDUID, bool) {
	id, ok := c.pduByName[name]
	return id, ok
}

// RefName returns the configured name behind a Ref.
func (c *Config) RefName(r Ref) string {
	if r.Group {
		if g, err := c.Group(GroupID(r.ID)); err == nil {
			return g.Name
		}
	} else if d, err := c.Signal(SignalID(r.ID)); err == nil {
		return d.Name
	}
	return r.String()
}
