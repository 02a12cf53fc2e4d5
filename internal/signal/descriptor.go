package signal

import (
	"fmt"
	"strings"
)

// Kind classifies a descriptor for the components whose behaviour depends on
// more than the primitive type.
type Kind uint8

const (
	KindScalar Kind = iota
	// KindZeroBit is an integer signal of bit length zero: it carries no data,
	// only its reception matters.
	KindZeroBit
	KindArray
	KindDynArray
)

// Descriptor describes one signal of a PDU. It is built once by NewConfig and
// read-only afterwards.
type Descriptor struct {
	Name string
	ID   SignalID
	PDU  PDUID

	BitPosition uint32
	BitLength   uint32
	ByteOrder   ByteOrder
	Type        PrimitiveType
	// MaxLen is the array capacity in bytes for TypeBytes and TypeDynBytes.
	MaxLen int

	Init              Value
	TimeoutSubstitute *Value
	Invalidation      *InvalidationRule
	Filter            *FilterRule

	// UpdateBit is the frame bit position of the signal's update indicator.
	UpdateBit *uint32
	// Deadline marks the signal as supervised by a deadline monitor.
	Deadline bool
	// Group is set for members of a signal group.
	Group *GroupID
}

// Kind returns the classification of d.
func (d *Descriptor) Kind() Kind {
	switch {
	case d.Type == TypeDynBytes:
		return KindDynArray
	case d.Type == TypeBytes:
		return KindArray
	case d.BitLength == 0:
		return KindZeroBit
	}
	return KindScalar
}

// StartByte returns the first frame byte of a byte-aligned array signal.
func (d *Descriptor) StartByte() int {
	return int(d.BitPosition / 8)
}

// Signed reports whether the decoded field must be sign-extended.
func (d *Descriptor) Signed() bool {
	return d.Type.Signed()
}

// InvalidAction selects what happens when a signal receives its sentinel.
type InvalidAction uint8

const (
	ActionNotify InvalidAction = iota
	ActionSubstitute
)

func (a InvalidAction) String() string {
	if a == ActionSubstitute {
		return "substitute"
	}
	return "notify"
}

// InvalidationRule marks a sentinel value as "invalid".
type InvalidationRule struct {
	// Sentinel is the invalid value. For dynamic arrays its length is the
	// expected length: only an exact-length match is invalid.
	Sentinel Value
	Action   InvalidAction
	// Substitute is stored on ActionSubstitute; nil means the init value.
	Substitute *Value
}

// Algorithm is a receive filter algorithm.
type Algorithm uint8

const (
	Always Algorithm = iota
	Never
	MaskedNewDiffersX
	MaskedNewDiffersMaskedOld
	MaskedNewEqualsX
	NewIsWithin
	NewIsOutside
	ArrayEquals
)

var algorithmNames = [...]string{
	Always:                    "always",
	Never:                     "never",
	MaskedNewDiffersX:         "masked_new_differs_x",
	MaskedNewDiffersMaskedOld: "masked_new_differs_masked_old",
	MaskedNewEqualsX:          "masked_new_equals_x",
	NewIsWithin:               "new_is_within",
	NewIsOutside:              "new_is_outside",
	ArrayEquals:               "array_equals",
}

func (a Algorithm) String() string {
	if int(a) < len(algorithmNames) {
		return algorithmNames[a]
	}
	return fmt.Sprintf("algorithm(%d)", uint8(a))
}

// ParseAlgorithm resolves a configuration name into an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Always, nil
	}
	for i, n := range algorithmNames {
		if n == key {
			return Algorithm(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// BasicAlgorithm is the reduced algorithm set of zero-bit and dynamic-array
// signals, which define no masked comparison.
type BasicAlgorithm uint8

const (
	BasicAlways BasicAlgorithm = iota
	BasicNever
)

// FilterRule configures a receive filter. Mask, X are raw scalar bits of the
// signal type; Min, Max are values of the signal type.
type FilterRule struct {
	Algorithm Algorithm
	Mask      uint64
	X         uint64
	Min       Value
	Max       Value
	// ArrayMask and ArrayX apply to fixed arrays and array-access groups.
	ArrayMask []byte
	ArrayX    []byte
	// OldInit is the initial old value; nil means the signal's init value.
	OldInit *Value
}

// Basic returns the reduced algorithm for rules on zero-bit and dynamic-array
// signals. ok is false when the rule uses a masked or range algorithm.
func (r *FilterRule) Basic() (BasicAlgorithm, bool) {
	if r == nil {
		return BasicAlways, true
	}
	switch r.Algorithm {
	case Always:
		return BasicAlways, true
	case Never:
		return BasicNever, true
	}
	return BasicAlways, false
}

// GroupInvalidAction is the invalid action of a whole signal group.
type GroupInvalidAction uint8

const (
	GroupInvalidNone GroupInvalidAction = iota
	GroupInvalidNotify
	GroupInvalidReplace
)

// Group is a set of member signals sharing one frame region.
type Group struct {
	Name    string
	ID      GroupID
	PDU     PDUID
	Members []SignalID

	// ArrayAccess transfers the region as one opaque byte range.
	ArrayAccess bool
	StartByte   int
	Length      int

	InvalidAction GroupInvalidAction
	UpdateBit     *uint32
	Deadline      bool
	// TimeoutReplace resets members to their timeout substitution (or init)
	// values when the group deadline expires.
	TimeoutReplace bool
}

// PDU is a frame layout: its length and the signals and groups it carries.
type PDU struct {
	Name    string
	ID      PDUID
	Length  int
	Signals []SignalID
	Groups  []GroupID
}

// Regional returns a copy of member d positioned relative to the group's
// region instead of the frame.
func (g *Group) Regional(d *Descriptor) *Descriptor {
	rel := *d
	rel.BitPosition -= uint32(g.StartByte) * 8
	return &rel
}
