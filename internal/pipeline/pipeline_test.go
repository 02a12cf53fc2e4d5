package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sigrx/internal/fault"
	"example.com/sigrx/internal/signal"
	"example.com/sigrx/internal/validity"
)

type events struct {
	got []string
}

func (e *events) Notify(ref signal.Ref, ev signal.Event) {
	e.got = append(e.got, ref.String()+":"+ev.String())
}

type monitor struct {
	expired map[signal.Ref]bool
	cleared []signal.Ref
}

func (m *monitor) Expired(ref signal.Ref) bool { return m.expired[ref] }

func (m *monitor) Clear(ref signal.Ref) {
	m.cleared = append(m.cleared, ref)
	delete(m.expired, ref)
}

type counter map[Outcome]int

func (c counter) Observe(_ signal.Ref, o Outcome) { c[o]++ }

func u32(v uint32) *uint32 { return &v }

func testConfig(t *testing.T) *signal.Config {
	t.Helper()
	changed := &signal.FilterRule{Algorithm: signal.MaskedNewDiffersMaskedOld, Mask: 0xFF}
	never := &signal.FilterRule{Algorithm: signal.Never}
	ff := &signal.InvalidationRule{Sentinel: signal.U8(0xFF)}
	cfg, err := signal.NewConfig(
		[]signal.PDU{{Name: "Engine", Length: 2}, {Name: "Body", Length: 4}, {Name: "Lamps", Length: 3}},
		[]signal.Descriptor{
			// Engine
			{Name: "Rpm", Type: signal.TypeU16, BitLength: 16},
			// Body
			{Name: "Door", PDU: 1, Type: signal.TypeU8, BitLength: 8, Filter: changed,
				Deadline: true, UpdateBit: u32(31)},
			{Name: "M1", PDU: 1, Type: signal.TypeU8, BitPosition: 8, BitLength: 8, Filter: never, Invalidation: ff},
			{Name: "M2", PDU: 1, Type: signal.TypeU8, BitPosition: 16, BitLength: 8, Filter: changed, Invalidation: ff},
			// Lamps
			{Name: "L1", PDU: 2, Type: signal.TypeU8, BitLength: 8, Filter: changed},
			{Name: "L2", PDU: 2, Type: signal.TypeU16, BitPosition: 8, BitLength: 16, Init: signal.U16(0x0A0B), Filter: never},
		},
		[]signal.Group{
			{Name: "Seat", PDU: 1, Members: []signal.SignalID{2, 3}, InvalidAction: signal.GroupInvalidNotify},
			{Name: "Lamp", PDU: 2, Members: []signal.SignalID{4, 5}, ArrayAccess: true},
		},
	)
	require.NoError(t, err)
	return cfg
}

func TestEndToEndLittleEndianU16(t *testing.T) {
	p := New(testConfig(t), Options{})
	o := p.DecodeAndProcessSignal([]byte{0x12, 0x34}, 0)
	assert.Equal(t, Committed, o)

	v, err := p.ReadLongTerm(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3412), v.Uint())
}

func TestIdempotentCommit(t *testing.T) {
	ev := &events{}
	p := New(testConfig(t), Options{Notifier: ev})
	frame := []byte{0x07, 0, 0, 0}

	assert.Equal(t, Committed, p.DecodeAndProcessSignal(frame, 1))
	assert.Equal(t, DiscardedFiltered, p.DecodeAndProcessSignal(frame, 1))
	assert.Equal(t, []string{"signal#1:accepted"}, ev.got)

	v, _ := p.ReadLongTerm(1)
	assert.Equal(t, uint64(7), v.Uint())
}

func TestUpdateBitAndDeadlineClear(t *testing.T) {
	cfg := testConfig(t)
	mon := &monitor{expired: map[signal.Ref]bool{signal.SignalRef(1): true}}
	p := New(cfg, Options{Updates: NewUpdateBits(cfg), Deadlines: mon})

	assert.Equal(t, SkippedNotUpdated, p.DecodeAndProcessSignal([]byte{0, 0, 0, 0x00}, 1))

	// value equals the old value but the deadline has expired
	assert.Equal(t, Committed, p.DecodeAndProcessSignal([]byte{0, 0, 0, 0x80}, 1))
	assert.Equal(t, []signal.Ref{signal.SignalRef(1)}, mon.cleared)

	assert.Equal(t, DiscardedFiltered, p.DecodeAndProcessSignal([]byte{0, 0, 0, 0x80}, 1))
}

func TestGroupAsymmetricPolicy(t *testing.T) {
	cases := []struct {
		name  string
		m1    byte
		m2    byte
		want  Outcome
		value uint64
	}{
		// M1 never passes; M2 passes when it changes
		{"one passing filter admits the group", 0x01, 0x02, Committed, 0x02},
		{"no passing filter rejects the group", 0x01, 0x00, DiscardedFiltered, 0x00},
		{"an invalid member blocks a passing group", 0xFF, 0x02, DiscardedInvalid, 0x00},
		{"invalid member with passing filter", 0x01, 0xFF, DiscardedInvalid, 0x00},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := &events{}
			p := New(testConfig(t), Options{Notifier: ev})
			o := p.DecodeAndProcessGroup([]byte{0, tc.m1, tc.m2, 0}, 0)
			assert.Equal(t, tc.want, o)
			vals, err := p.ReadGroup(0)
			require.NoError(t, err)
			assert.Equal(t, tc.value, vals[1].Uint())
			if tc.want == DiscardedInvalid {
				assert.Equal(t, []string{"group#0:invalid"}, ev.got)
			}
		})
	}
}

func TestGroupCommitIsAllOrNothing(t *testing.T) {
	p := New(testConfig(t), Options{})
	require.Equal(t, Committed, p.DecodeAndProcessGroup([]byte{0, 0x11, 0x22, 0}, 0))
	vals, err := p.ReadGroup(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x11), vals[0].Uint())
	assert.Equal(t, uint64(0x22), vals[1].Uint())

	require.Equal(t, DiscardedInvalid, p.DecodeAndProcessGroup([]byte{0, 0x33, 0xFF, 0}, 0))
	vals, _ = p.ReadGroup(0)
	assert.Equal(t, uint64(0x11), vals[0].Uint(), "valid member of a rejected group is not committed")
}

func TestArrayAccessGroup(t *testing.T) {
	p := New(testConfig(t), Options{})
	frame := []byte{0x00, 0xCD, 0xAB}
	assert.Equal(t, DiscardedFiltered, p.DecodeAndProcessGroup(frame, 1), "L1 unchanged from init")

	frame[0] = 0x01
	assert.Equal(t, Committed, p.DecodeAndProcessGroup(frame, 1))
	vals, err := p.ReadGroup(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x01), vals[0].Uint())
	assert.Equal(t, uint64(0xABCD), vals[1].Uint())

	assert.Equal(t, DiscardedFiltered, p.DecodeAndProcessGroup(frame, 1))
}

func TestFaultsCommitNothing(t *testing.T) {
	var reported []error
	fault.SetReporter(func(err error) { reported = append(reported, err) })
	t.Cleanup(func() { fault.SetReporter(nil) })
	obs := counter{}
	p := New(testConfig(t), Options{Observer: obs})

	assert.Equal(t, Faulted, p.DecodeAndProcessSignal([]byte{0x12}, 0), "frame too short")
	assert.Equal(t, Faulted, p.DecodeAndProcessSignal([]byte{0, 0}, 99))
	assert.Equal(t, Faulted, p.DecodeAndProcessSignal([]byte{0, 0, 0, 0}, 2), "group member processed alone")
	assert.Equal(t, Faulted, p.DecodeAndProcessGroup([]byte{0, 0}, 9))
	assert.Len(t, reported, 4)
	assert.Equal(t, 4, obs[Faulted])

	// Violations from the validity layer reach the same hook.
	ev := validity.New(p.Config(), p.Store(), NopNotifier{})
	assert.False(t, ev.IsValid(99, signal.U8(0)))
	require.Len(t, reported, 5)
	assert.True(t, fault.Is(reported[4]))

	v, _ := p.ReadLongTerm(0)
	assert.Equal(t, uint64(0), v.Uint())
}

func TestProcessPDU(t *testing.T) {
	obs := counter{}
	p := New(testConfig(t), Options{Observer: obs})
	res, err := p.ProcessPDU(1, []byte{0x05, 0x01, 0x02, 0})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, Result{Ref: signal.SignalRef(1), Outcome: Committed}, res[0])
	assert.Equal(t, Result{Ref: signal.GroupRef(0), Outcome: Committed}, res[1])
	assert.Equal(t, 2, obs[Committed])

	_, err = p.ProcessPDU(7, nil)
	assert.ErrorIs(t, err, signal.ErrUnknownPDU)
}

func TestTimeoutSubstitutionAndInit(t *testing.T) {
	ev := &events{}
	p := New(testConfig(t), Options{Notifier: ev})
	require.Equal(t, Committed, p.DecodeAndProcessGroup([]byte{0x09, 0xCD, 0xAB}, 1))

	require.NoError(t, p.ApplyTimeoutSubstitution(signal.GroupRef(1)))
	vals, _ := p.ReadGroup(1)
	assert.Equal(t, uint64(0), vals[0].Uint())
	assert.Equal(t, uint64(0x0A0B), vals[1].Uint())
	assert.Contains(t, ev.got, "group#1:timeout")

	assert.Error(t, p.ApplyTimeoutSubstitution(signal.SignalRef(2)))

	require.Equal(t, Committed, p.DecodeAndProcessSignal([]byte{0x09, 0, 0, 0}, 1))
	p.InitBuffers()
	v, _ := p.ReadLongTerm(1)
	assert.Equal(t, uint64(0), v.Uint())
	assert.Equal(t, Committed, p.DecodeAndProcessSignal([]byte{0x09, 0, 0, 0}, 1), "filter old value reset too")
}

func TestUpdateBits(t *testing.T) {
	cfg := testConfig(t)
	u := NewUpdateBits(cfg)
	assert.True(t, u.Updated(signal.SignalRef(0), nil), "no update bit")
	assert.True(t, u.Updated(signal.SignalRef(1), []byte{0, 0, 0, 0x80}))
	assert.False(t, u.Updated(signal.SignalRef(1), []byte{0, 0, 0, 0x7F}))
	assert.False(t, u.Updated(signal.SignalRef(1), []byte{0}))
	assert.False(t, u.Updated(signal.SignalRef(42), nil))
}
