package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sigrx/internal/signal"
)

func testConfig(t *testing.T) *signal.Config {
	t.Helper()
	sub := signal.F32(-1)
	cfg, err := signal.NewConfig(
		[]signal.PDU{{Name: "Body", Length: 8}, {Name: "Diag", Length: 8}},
		[]signal.Descriptor{
			{Name: "Speed", Type: signal.TypeU16, BitLength: 16, Init: signal.U16(7)},
			{Name: "Temp", Type: signal.TypeF32, BitPosition: 16, BitLength: 32, Init: signal.F32(20), TimeoutSubstitute: &sub},
			{Name: "Vin", PDU: 1, Type: signal.TypeDynBytes, BitPosition: 16, MaxLen: 6, Init: signal.DynBytes([]byte{1, 2})},
			{Name: "DoorL", PDU: 1, Type: signal.TypeU8, BitPosition: 0, BitLength: 4, Init: signal.U8(1)},
			{Name: "DoorR", PDU: 1, Type: signal.TypeU8, BitPosition: 4, BitLength: 4, Init: signal.U8(2)},
			{Name: "Lamp", Type: signal.TypeU8, BitPosition: 48, BitLength: 8},
			{Name: "Odo", Type: signal.TypeS16, BitPosition: 56, BitLength: 8, Init: signal.S16(-3)},
		},
		[]signal.Group{
			{Name: "Doors", PDU: 1, Members: []signal.SignalID{3, 4}},
			{Name: "Tail", PDU: 0, Members: []signal.SignalID{5, 6}, ArrayAccess: true},
		},
	)
	require.NoError(t, err)
	return cfg
}

func TestInitValues(t *testing.T) {
	s := New(testConfig(t), Options{})

	v, err := s.ReadLongTerm(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v.Uint())

	v, err = s.ReadLongTerm(6)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), v.Int(), "array-access member decodes from region")

	buf := make([]byte, 2)
	n, err := s.ReadGroupArray(1, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x00, 0xFD}, buf)
}

func TestWriteTempAndCommit(t *testing.T) {
	s := New(testConfig(t), Options{})
	frame := []byte{0x12, 0x34, 0, 0, 0, 0, 0, 0}

	v, err := s.WriteTemp(0, frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3412), v.Uint())

	tmp, err := s.ReadTemp(0)
	require.NoError(t, err)
	assert.True(t, v.Equal(tmp))

	lt, _ := s.ReadLongTerm(0)
	assert.Equal(t, uint64(7), lt.Uint(), "temp does not leak into long-term")

	require.NoError(t, s.Commit(0, v))
	lt, _ = s.ReadLongTerm(0)
	assert.Equal(t, uint64(0x3412), lt.Uint())
}

func TestDynamicArrayLength(t *testing.T) {
	s := New(testConfig(t), Options{})
	frame := []byte{0, 0, 0xA, 0xB, 0xC}

	v, err := s.WriteTemp(2, frame)
	require.NoError(t, err)
	require.NoError(t, s.Commit(2, v))

	dest := make([]byte, 6)
	n, err := s.ReadLongTermArray(2, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0xA, 0xB, 0xC}, dest[:n])

	exact := make([]byte, 3)
	n, err = s.ReadLongTermArray(2, exact)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0xA, 0xB, 0xC}, exact)

	require.NoError(t, s.SetInitValue(2))
	n, err = s.ReadLongTermArray(2, dest)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "init resets stored length")

	short := make([]byte, 2)
	n, err = s.ReadLongTermArray(2, short)
	require.NoError(t, err, "dest sized to the stored length, not MaxLen")
	assert.Equal(t, []byte{1, 2}, short[:n])

	_, err = s.ReadLongTermArray(2, make([]byte, 1))
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, err = s.ReadLongTermArray(0, dest)
	assert.ErrorIs(t, err, ErrNotArray)
}

func TestGroupShadow(t *testing.T) {
	s := New(testConfig(t), Options{})
	frame := []byte{0x5A, 0, 0, 0, 0, 0, 0, 0}

	for _, m := range []signal.SignalID{3, 4} {
		v, err := s.WriteTemp(m, frame)
		require.NoError(t, err)
		require.NoError(t, s.Commit(m, v))
	}
	sh, err := s.ReadShadow(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xA), sh.Uint())

	vals, err := s.ReadGroup(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), vals[0].Uint(), "long-term untouched before group commit")
	assert.Equal(t, uint64(2), vals[1].Uint())

	require.NoError(t, s.GroupShadowToLongTerm(0))
	vals, err = s.ReadGroup(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xA), vals[0].Uint())
	assert.Equal(t, uint64(0x5), vals[1].Uint())
}

func TestArrayGroupCommit(t *testing.T) {
	s := New(testConfig(t), Options{})
	frame := []byte{0, 0, 0, 0, 0, 0, 0x11, 0x80}

	require.NoError(t, s.WriteGroupTemp(1, frame))
	raw, err := s.GroupTemp(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x80}, raw)

	require.NoError(t, s.CommitGroupArray(1))
	lamp, _ := s.ReadLongTerm(5)
	assert.Equal(t, uint64(0), lamp.Uint(), "shadow not yet published")

	require.NoError(t, s.GroupShadowToLongTerm(1))
	vals, err := s.ReadGroup(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x11), vals[0].Uint())
	assert.Equal(t, int64(-128), vals[1].Int())

	assert.Error(t, s.WriteGroupTemp(1, frame[:7]))
}

func TestTimeoutSubstitution(t *testing.T) {
	s := New(testConfig(t), Options{})
	require.NoError(t, s.SetTimeoutSubstitutionValue(1))
	v, _ := s.ReadLongTerm(1)
	assert.Equal(t, float64(-1), v.Float())

	require.NoError(t, s.SetTimeoutSubstitutionValue(0))
	v, _ = s.ReadLongTerm(0)
	assert.Equal(t, uint64(7), v.Uint(), "no substitute falls back to init")
}

func TestCommitTypeMismatch(t *testing.T) {
	s := New(testConfig(t), Options{})
	assert.ErrorIs(t, s.Commit(0, signal.U8(1)), ErrTypeMismatch)
	assert.ErrorIs(t, s.Commit(99, signal.U16(1)), signal.ErrUnknownSignal)
}

func TestSlotSelection(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, Options{AtomicWidthBits: 16})
	_, ok := s.longTerm[0].(*atomicSlot)
	assert.True(t, ok, "16-bit scalar is atomic")
	_, ok = s.longTerm[1].(*lockedSlot)
	assert.True(t, ok, "32-bit scalar is locked on a 16-bit atomic target")
	_, ok = s.longTerm[2].(*lockedSlot)
	assert.True(t, ok, "arrays are always locked")

	s = New(cfg, Options{})
	_, ok = s.longTerm[1].(*atomicSlot)
	assert.True(t, ok)
}

func TestConcurrentReadersDuringCommit(t *testing.T) {
	s := New(testConfig(t), Options{AtomicWidthBits: 16})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = s.Commit(1, signal.F32(float32(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			v, err := s.ReadLongTerm(1)
			if err != nil || v.Type() != signal.TypeF32 {
				t.Errorf("unexpected read %v %v", v, err)
				return
			}
		}
	}()
	wg.Wait()
}
