package power

import (
	"sync"
	"time"
)

// DrainingMonitor models a battery that loses charge linearly over time.
// It exists for development runs where a real battery feed is absent but
// a static level would never cross a band boundary.
type DrainingMonitor struct {
	mu      sync.Mutex
	start   float64
	rate    float64 // fraction of full charge lost per hour
	since   time.Time
	last    Band
	updates chan Band
	stopCh  chan struct{}
	once    sync.Once
}

// NewDraining creates a monitor starting at level that drains ratePerHour
// of full charge every hour, polling for band changes at the given
// interval.
func NewDraining(level, ratePerHour float64, poll time.Duration) *DrainingMonitor {
	if poll <= 0 {
		poll = 10 * time.Second
	}
	m := &DrainingMonitor{
		start:   level,
		rate:    ratePerHour,
		since:   time.Now(),
		last:    BandForLevel(level),
		updates: make(chan Band, 8),
		stopCh:  make(chan struct{}),
	}
	go m.poll(poll)
	return m
}

func (m *DrainingMonitor) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levelLocked()
}

func (m *DrainingMonitor) levelLocked() float64 {
	elapsed := time.Since(m.since).Hours()
	level := m.start - m.rate*elapsed
	if level < 0 {
		return 0
	}
	return level
}

func (m *DrainingMonitor) Band() Band {
	return BandForLevel(m.Level())
}

func (m *DrainingMonitor) Updates() <-chan Band {
	return m.updates
}

// Stop ends the polling goroutine.
func (m *DrainingMonitor) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

func (m *DrainingMonitor) poll(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		band := BandForLevel(m.levelLocked())
		changed := band != m.last
		m.last = band
		m.mu.Unlock()

		if !changed {
			continue
		}
		select {
		case m.updates <- band:
		default:
		}
	}
}
