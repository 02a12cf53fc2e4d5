package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"example.com/sigrx/internal/signal"
)

func TestMonitorExpiry(t *testing.T) {
	sig, grp := signal.SignalRef(3), signal.GroupRef(0)
	m := New(map[signal.Ref]time.Duration{
		sig:                 100 * time.Millisecond,
		grp:                 50 * time.Millisecond,
		signal.SignalRef(9): 0,
	})
	m.Start(0)

	assert.True(t, m.Supervised(sig))
	assert.False(t, m.Supervised(signal.SignalRef(9)))
	assert.Empty(t, m.Observe(40*time.Millisecond))

	assert.Equal(t, []signal.Ref{grp}, m.Observe(50*time.Millisecond))
	assert.True(t, m.Expired(grp))
	assert.Empty(t, m.Observe(60*time.Millisecond), "expiry is reported once")

	m.Received(sig, 90*time.Millisecond)
	assert.Empty(t, m.Observe(150*time.Millisecond))
	assert.Equal(t, []signal.Ref{sig}, m.Observe(190*time.Millisecond))

	m.Clear(sig)
	assert.False(t, m.Expired(sig))
	assert.Equal(t, []signal.Ref{sig}, m.Observe(191*time.Millisecond), "clear does not restart the timer")

	m.Received(grp, 200*time.Millisecond)
	assert.False(t, m.Expired(grp))
}

func TestObserveOrder(t *testing.T) {
	m := New(map[signal.Ref]time.Duration{
		signal.GroupRef(1):  time.Millisecond,
		signal.SignalRef(2): time.Millisecond,
		signal.SignalRef(1): time.Millisecond,
	})
	m.Start(0)
	assert.Equal(t,
		[]signal.Ref{signal.SignalRef(1), signal.SignalRef(2), signal.GroupRef(1)},
		m.Observe(time.Second))
}
