// Package classify maps live signals (position relative to hole geometry,
// gross motion) to a discrete activity context. The scheduler and
// per-message priority assignment both key off the result.
package classify

import (
	"sync"

	"github.com/fairwaylabs/caddielink/internal/message"
)

// Context is the classified real-world state of play.
type Context int

const (
	ContextIdle Context = iota
	ContextTeeBox
	ContextFairway
	ContextPuttingGreen
	ContextWalking
	ContextResting
)

func (c Context) String() string {
	switch c {
	case ContextIdle:
		return "idle"
	case ContextTeeBox:
		return "tee_box"
	case ContextFairway:
		return "fairway"
	case ContextPuttingGreen:
		return "putting_green"
	case ContextWalking:
		return "walking"
	case ContextResting:
		return "resting"
	default:
		return "unknown"
	}
}

// HighAttention reports whether the context calls for tighter sync cadence
// regardless of battery (accurate state is needed for immediate decisions).
func (c Context) HighAttention() bool {
	return c == ContextTeeBox
}

// DefaultPriority is the priority assigned to context-derived traffic
// (telemetry, hole progress) created while in this context. Explicit user
// actions override this with the fixed per-kind priority.
func (c Context) DefaultPriority() message.Priority {
	switch c {
	case ContextTeeBox:
		return message.PriorityHigh
	case ContextFairway:
		return message.PriorityNormal
	default:
		return message.PriorityLow
	}
}

// Default geometry/motion thresholds.
const (
	// NearPinRadius is the distance from the green center, in meters,
	// inside which play is classified as putting.
	NearPinRadius = 20.0

	// teeBoxFraction of the hole's nominal length from the green marks
	// the tee box region.
	teeBoxFraction = 0.8

	// Walking-speed window in m/s. Below the lower bound the player is
	// resting; above the upper bound the signal is a cart or noise and
	// does not classify as walking.
	walkSpeedMin = 0.7
	walkSpeedMax = 2.5
)

// Signals are the raw inputs to one classification.
type Signals struct {
	RoundActive bool

	// DistanceToGreen is the player's distance to the current green in
	// meters. Negative when no hole geometry is known.
	DistanceToGreen float64

	// HoleLength is the hole's nominal length in meters. Zero or
	// negative when no hole geometry is known.
	HoleLength float64

	// Speed is gross motion in m/s.
	Speed float64
}

// Classifier is a state machine over activity contexts. It is safe for
// concurrent use; telemetry callbacks feed it while the engine reads it.
type Classifier struct {
	mu      sync.Mutex
	current Context
}

// New starts in Idle.
func New() *Classifier {
	return &Classifier{current: ContextIdle}
}

// Current returns the last classified context.
func (c *Classifier) Current() Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Observe classifies the given signals, stores the result as the current
// context and returns it.
func (c *Classifier) Observe(sig Signals) Context {
	next := Classify(sig)
	c.mu.Lock()
	c.current = next
	c.mu.Unlock()
	return next
}

// Classify is the pure transition rule.
func Classify(sig Signals) Context {
	if !sig.RoundActive {
		return ContextIdle
	}

	hasGeometry := sig.DistanceToGreen >= 0 && sig.HoleLength > 0
	if hasGeometry {
		if sig.DistanceToGreen <= NearPinRadius {
			return ContextPuttingGreen
		}
		if sig.DistanceToGreen >= teeBoxFraction*sig.HoleLength {
			return ContextTeeBox
		}
		return ContextFairway
	}

	// No hole geometry: fall back to motion alone.
	if sig.Speed >= walkSpeedMin && sig.Speed <= walkSpeedMax {
		return ContextWalking
	}
	return ContextResting
}
