// Package deadline supervises reception deadlines of signals and groups on a
// caller-supplied clock, such as capture timestamps.
package deadline

import (
	"sort"
	"sync"
	"time"

	"example.com/sigrx/internal/signal"
)

// Monitor tracks one timer per supervised ref. A timer restarts on every
// reception; once it runs out the ref is expired until it is cleared or
// received again.
type Monitor struct {
	mu       sync.Mutex
	refs     []signal.Ref
	timeouts map[signal.Ref]time.Duration
	last     map[signal.Ref]time.Duration
	expired  map[signal.Ref]bool
}

// New supervises every ref of timeouts. Non-positive timeouts are ignored.
func New(timeouts map[signal.Ref]time.Duration) *Monitor {
	m := &Monitor{
		timeouts: make(map[signal.Ref]time.Duration, len(timeouts)),
		last:     make(map[signal.Ref]time.Duration, len(timeouts)),
		expired:  make(map[signal.Ref]bool),
	}
	for ref, d := range timeouts {
		if d <= 0 {
			continue
		}
		m.timeouts[ref] = d
		m.refs = append(m.refs, ref)
	}
	sort.Slice(m.refs, func(i, j int) bool {
		a, b := m.refs[i], m.refs[j]
		if a.Group != b.Group {
			return !a.Group
		}
		return a.ID < b.ID
	})
	return m
}

// Supervised reports whether ref has a deadline.
func (m *Monitor) Supervised(ref signal.Ref) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timeouts[ref]
	return ok
}

// Start arms every timer at now and clears all expiry flags.
func (m *Monitor) Start(now time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range m.refs {
		m.last[ref] = now
	}
	m.expired = make(map[signal.Ref]bool)
}

// Received restarts the timer of ref at now and clears its expiry flag.
func (m *Monitor) Received(ref signal.Ref, now time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timeouts[ref]; !ok {
		return
	}
	m.last[ref] = now
	delete(m.expired, ref)
}

// Observe advances the clock to now and returns the refs that expired since
// the previous call, in ref order.
func (m *Monitor) Observe(now time.Duration) []signal.Ref {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []signal.Ref
	for _, ref := range m.refs {
		if m.expired[ref] {
			continue
		}
		if now-m.last[ref] >= m.timeouts[ref] {
			m.expired[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// Expired reports whether the deadline of ref has run out.
func (m *Monitor) Expired(ref signal.Ref) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired[ref]
}

// Clear resets the expiry flag of ref without restarting its timer.
func (m *Monitor) Clear(ref signal.Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expired, ref)
}
