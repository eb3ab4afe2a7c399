// Package message defines the unit of synchronization exchanged between
// peers and its wire framing. Payloads are a tagged union keyed by Kind so
// malformed bodies fail at decode time, not at use time.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders messages in the outbound queue. Higher values win.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the four defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// Kind identifies the logical payload type of a message.
type Kind string

const (
	KindRoundStart Kind = "round_start"
	KindRoundEnd   Kind = "round_end"
	KindScore      Kind = "score_update"
	KindTelemetry  Kind = "telemetry"
	KindHaptic     Kind = "haptic_cue"
	KindControl    Kind = "control"
)

const (
	// MaxRetries bounds transport retries per message. A message whose
	// RetryCount reaches this value is dropped, not resent.
	MaxRetries = 3

	// Expiry is how long a queued message stays deliverable. Older
	// messages are dropped unconsumed.
	Expiry = 5 * time.Minute
)

// LatestState reports whether the kind carries replaceable current state
// (safe to overwrite in the single latest-state slot) rather than an event
// that must be delivered individually.
func (k Kind) LatestState() bool {
	return k == KindScore || k == KindTelemetry
}

// Message is the unit of synchronization.
type Message struct {
	ID          string
	Kind        Kind
	Priority    Priority
	CreatedAt   time.Time
	RetryCount  int
	RequiresAck bool
	Body        Body
}

// Body is the typed payload of a message. Exactly one concrete body type
// exists per Kind.
type Body interface {
	Kind() Kind
}

// New builds a message for the given body with a fresh ID. Priority and
// ack requirement default per kind; callers may override Priority before
// enqueueing (context-derived priorities for telemetry).
func New(body Body) Message {
	kind := body.Kind()
	return Message{
		ID:          uuid.New().String(),
		Kind:        kind,
		Priority:    DefaultPriority(kind),
		CreatedAt:   time.Now().UTC(),
		RequiresAck: requiresAck(kind),
		Body:        body,
	}
}

// DefaultPriority returns the fixed priority for user-initiated kinds and
// the baseline for context-tuned kinds.
func DefaultPriority(k Kind) Priority {
	switch k {
	case KindRoundStart, KindRoundEnd:
		return PriorityCritical
	case KindScore:
		return PriorityHigh
	case KindHaptic:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

func requiresAck(k Kind) bool {
	switch k {
	case KindRoundStart, KindRoundEnd, KindScore:
		return true
	default:
		return false
	}
}

// Expired reports whether the message is past its delivery window at now.
func (m Message) Expired(now time.Time) bool {
	return now.Sub(m.CreatedAt) > Expiry
}

// Exhausted reports whether the message has used up its retry budget.
func (m Message) Exhausted() bool {
	return m.RetryCount >= MaxRetries
}

// RoundStartBody announces a newly started round.
type RoundStartBody struct {
	RoundID   string    `json:"round_id"`
	CourseID  string    `json:"course_id"`
	StartedAt time.Time `json:"started_at"`
}

func (RoundStartBody) Kind() Kind { return KindRoundStart }

// RoundEndBody announces the end of the active round.
type RoundEndBody struct {
	RoundID    string    `json:"round_id"`
	EndedAt    time.Time `json:"ended_at"`
	TotalScore int       `json:"total_score"`
}

func (RoundEndBody) Kind() Kind { return KindRoundEnd }

// HoleScore is one hole's score with its own timestamp so replays and
// duplicate delivery resolve idempotently.
type HoleScore struct {
	Hole      int       `json:"hole"`
	Strokes   int       `json:"strokes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScoreUpdateBody carries scorecard changes. A regular update is a delta
// with only the modified holes; a full-sync snapshot sets Snapshot and
// lists every recorded hole, and the receiver reconciles the whole card.
type ScoreUpdateBody struct {
	RoundID     string      `json:"round_id"`
	CurrentHole int         `json:"current_hole"`
	Holes       []HoleScore `json:"holes"`
	TotalScore  int         `json:"total_score"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Snapshot    bool        `json:"snapshot,omitempty"`
}

func (ScoreUpdateBody) Kind() Kind { return KindScore }

// TelemetryBody is a biometric/location snapshot.
type TelemetryBody struct {
	RoundID   string    `json:"round_id,omitempty"`
	HeartRate float64   `json:"heart_rate"`
	Calories  float64   `json:"calories"`
	Steps     int64     `json:"steps"`
	Distance  float64   `json:"distance_m"`
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy_m"`
	SampledAt time.Time `json:"sampled_at"`
}

func (TelemetryBody) Kind() Kind { return KindTelemetry }

// HapticBody asks the peer to play a haptic pattern.
type HapticBody struct {
	Pattern string `json:"pattern"`
}

func (HapticBody) Kind() Kind { return KindHaptic }

// ControlBody carries engine control traffic (ping, ack, full-sync request).
type ControlBody struct {
	Op    string `json:"op"`              // "ping", "ack", "full_sync"
	AckID string `json:"ack_id,omitempty"` // message being acknowledged
}

func (ControlBody) Kind() Kind { return KindControl }
