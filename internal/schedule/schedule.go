// Package schedule decides when a synchronization pass runs and how much
// it drains, as a monotone function of battery band tuned by activity
// context. Retry backoff after failed passes is decoupled from the steady
// cadence.
package schedule

import (
	"sync"
	"time"

	"github.com/fairwaylabs/caddielink/internal/classify"
	"github.com/fairwaylabs/caddielink/internal/message"
	"github.com/fairwaylabs/caddielink/internal/power"
)

// Schedule is the ephemeral plan for one sync cadence: how often to tick,
// the minimum priority eligible to send on a tick, and the batch size.
type Schedule struct {
	Interval      time.Duration
	PriorityFloor message.Priority
	BatchSize     int
}

// Per-band base plans. Lower battery: longer interval, smaller batch,
// higher floor.
var bandPlans = map[power.Band]Schedule{
	power.BandNormal:       {Interval: 1 * time.Minute, PriorityFloor: message.PriorityLow, BatchSize: 10},
	power.BandConservative: {Interval: 2 * time.Minute, PriorityFloor: message.PriorityNormal, BatchSize: 5},
	power.BandAggressive:   {Interval: 5 * time.Minute, PriorityFloor: message.PriorityNormal, BatchSize: 3},
	power.BandExtreme:      {Interval: 10 * time.Minute, PriorityFloor: message.PriorityHigh, BatchSize: 1},
}

const (
	// attentionDivisor shortens the interval in high-attention contexts.
	attentionDivisor = 4

	// attentionMinInterval is the fastest cadence attention can buy.
	attentionMinInterval = 15 * time.Second

	// extremeMinInterval is the critical-battery ceiling: even full
	// attention never ticks faster than this on an extreme battery.
	extremeMinInterval = 2 * time.Minute
)

// Retry backoff bounds: base doubled per consecutive failure, capped.
const (
	RetryBase = 30 * time.Second
	RetryCap  = 600 * time.Second
)

// Plan computes the schedule for a battery band and activity context.
// High-attention contexts shorten the interval and widen the batch, but
// on a constrained battery the faster ticks are reserved for High and
// Critical traffic and the cadence respects the critical-battery ceiling.
func Plan(band power.Band, ctx classify.Context) Schedule {
	plan, ok := bandPlans[band]
	if !ok {
		plan = bandPlans[power.BandExtreme]
	}

	if !ctx.HighAttention() {
		return plan
	}

	interval := plan.Interval / attentionDivisor
	if interval < attentionMinInterval {
		interval = attentionMinInterval
	}
	if band == power.BandExtreme && interval < extremeMinInterval {
		interval = extremeMinInterval
	}
	plan.Interval = interval
	plan.BatchSize *= 2
	if band != power.BandNormal && plan.PriorityFloor < message.PriorityHigh {
		plan.PriorityFloor = message.PriorityHigh
	}
	return plan
}

// BandFloor returns the battery-derived queue admission floor for a band,
// independent of activity context. Attention-shortened ticks never raise
// the admission floor, only the per-tick send floor.
func BandFloor(band power.Band) message.Priority {
	plan, ok := bandPlans[band]
	if !ok {
		return message.PriorityHigh
	}
	return plan.PriorityFloor
}

// RetryDelay returns the backoff before the next pass after the given
// number of consecutive failures: 60s after the first failure, doubling
// per failure, capped at RetryCap.
func RetryDelay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	delay := RetryBase
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= RetryCap {
			return RetryCap
		}
	}
	return delay
}

// Scheduler tracks the live battery band and activity context and emits a
// fresh Schedule whenever either changes. The emission channel is
// latest-wins so a slow consumer only ever observes the newest plan.
type Scheduler struct {
	mu      sync.Mutex
	band    power.Band
	ctx     classify.Context
	current Schedule
	changes chan Schedule
}

// New creates a scheduler starting from the given band in Idle context.
func New(band power.Band) *Scheduler {
	s := &Scheduler{
		band:    band,
		ctx:     classify.ContextIdle,
		changes: make(chan Schedule, 1),
	}
	s.current = Plan(band, s.ctx)
	return s
}

// Current returns the schedule in force.
func (s *Scheduler) Current() Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Changes emits a schedule whenever the plan is recomputed.
func (s *Scheduler) Changes() <-chan Schedule {
	return s.changes
}

// SetBand updates the battery band and republishes the plan on change.
func (s *Scheduler) SetBand(band power.Band) {
	s.mu.Lock()
	if s.band == band {
		s.mu.Unlock()
		return
	}
	s.band = band
	s.recomputeLocked()
	s.mu.Unlock()
}

// SetContext updates the activity context and republishes the plan on
// change.
func (s *Scheduler) SetContext(ctx classify.Context) {
	s.mu.Lock()
	if s.ctx == ctx {
		s.mu.Unlock()
		return
	}
	s.ctx = ctx
	s.recomputeLocked()
	s.mu.Unlock()
}

// recomputeLocked refreshes the current plan and publishes it, replacing
// any unconsumed previous emission.
func (s *Scheduler) recomputeLocked() {
	next := Plan(s.band, s.ctx)
	if next == s.current {
		return
	}
	s.current = next
	select {
	case s.changes <- next:
	default:
		select {
		case <-s.changes:
		default:
		}
		s.changes <- next
	}
}
