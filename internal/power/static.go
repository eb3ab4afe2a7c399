package power

import "sync"

// StaticMonitor is a settable battery monitor used in tests and on
// platforms without a native battery feed. SetLevel publishes a band
// update when the band changes.
type StaticMonitor struct {
	mu      sync.Mutex
	level   float64
	updates chan Band
}

// NewStatic creates a monitor reporting the given charge level.
func NewStatic(level float64) *StaticMonitor {
	return &StaticMonitor{
		level:   level,
		updates: make(chan Band, 8),
	}
}

func (m *StaticMonitor) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *StaticMonitor) Band() Band {
	return BandForLevel(m.Level())
}

func (m *StaticMonitor) Updates() <-chan Band {
	return m.updates
}

// SetLevel updates the charge level and, on a band change, publishes the
// new band without blocking.
func (m *StaticMonitor) SetLevel(level float64) {
	m.mu.Lock()
	prev := BandForLevel(m.level)
	m.level = level
	next := BandForLevel(level)
	m.mu.Unlock()

	if prev == next {
		return
	}
	select {
	case m.updates <- next:
	default:
	}
}
