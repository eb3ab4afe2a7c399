// Package round holds the authoritative shared state of a golf round: the
// active round and its scorecard. Exactly one round may be live at a time;
// the sync engine owns the instances and is the only mutator.
package round

import (
	"time"

	"github.com/google/uuid"
)

// Biometrics aggregates telemetry over the life of a round.
type Biometrics struct {
	AvgHeartRate float64 `json:"avg_heart_rate"`
	Calories     float64 `json:"calories"`
	Steps        int64   `json:"steps"`
	Distance     float64 `json:"distance_m"`

	// samples backs the running heart-rate average.
	samples int64
}

// AddSample folds one telemetry reading into the aggregate. Calories,
// steps and distance arrive as round-cumulative totals; heart rate is
// averaged across samples.
func (b *Biometrics) AddSample(heartRate, calories float64, steps int64, distance float64) {
	b.samples++
	b.AvgHeartRate += (heartRate - b.AvgHeartRate) / float64(b.samples)
	b.Calories = calories
	b.Steps = steps
	b.Distance = distance
}

// Round is the authoritative shared entity for a round in progress.
type Round struct {
	ID          string     `json:"id"`
	CourseID    string     `json:"course_id"`
	CurrentHole int        `json:"current_hole"`
	TotalScore  int        `json:"total_score"`
	StartedAt   time.Time  `json:"started_at"`
	Biometrics  Biometrics `json:"biometrics"`
	LastUpdated time.Time  `json:"last_updated"`
}

// New creates a round on the given course starting at hole 1.
func New(courseID string) *Round {
	now := time.Now().UTC()
	return &Round{
		ID:          uuid.New().String(),
		CourseID:    courseID,
		CurrentHole: 1,
		StartedAt:   now,
		LastUpdated: now,
	}
}

// Clone returns an independent copy for read-only projections.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
