package round

import (
	"sort"
	"time"

	"github.com/fairwaylabs/caddielink/internal/message"
)

// Scorecard tracks per-hole scores. Each hole carries its own timestamp,
// so applying deltas is idempotent and order-insensitive per hole:
// replays and duplicate delivery are harmless.
type Scorecard struct {
	RoundID     string
	Holes       map[int]message.HoleScore
	Total       int
	LastUpdated time.Time
}

// NewScorecard creates an empty scorecard for the round.
func NewScorecard(roundID string) *Scorecard {
	return &Scorecard{
		RoundID: roundID,
		Holes:   make(map[int]message.HoleScore),
	}
}

// Record sets the score for one hole at the given time and recomputes the
// total. Returns the delta to ship to the peer.
func (sc *Scorecard) Record(hole, strokes int, at time.Time) message.ScoreUpdateBody {
	hs := message.HoleScore{Hole: hole, Strokes: strokes, UpdatedAt: at}
	sc.Holes[hole] = hs
	sc.recompute()
	if at.After(sc.LastUpdated) {
		sc.LastUpdated = at
	}
	return message.ScoreUpdateBody{
		RoundID:     sc.RoundID,
		CurrentHole: hole,
		Holes:       []message.HoleScore{hs},
		TotalScore:  sc.Total,
		UpdatedAt:   at,
	}
}

// ApplyDelta merges a scorecard delta. A hole is overwritten only when the
// incoming score carries a strictly newer timestamp, so the most recent
// write wins regardless of delivery order. Returns true when anything
// changed.
func (sc *Scorecard) ApplyDelta(d message.ScoreUpdateBody) bool {
	changed := false
	for _, hs := range d.Holes {
		existing, ok := sc.Holes[hs.Hole]
		if ok && !hs.UpdatedAt.After(existing.UpdatedAt) {
			continue
		}
		sc.Holes[hs.Hole] = hs
		changed = true
	}
	if changed {
		sc.recompute()
	}
	if d.UpdatedAt.After(sc.LastUpdated) {
		sc.LastUpdated = d.UpdatedAt
	}
	return changed
}

// ModifiedHoles returns the holes with recorded scores, ascending.
func (sc *Scorecard) ModifiedHoles() []int {
	holes := make([]int, 0, len(sc.Holes))
	for h := range sc.Holes {
		holes = append(holes, h)
	}
	sort.Ints(holes)
	return holes
}

// Clone returns an independent copy.
func (sc *Scorecard) Clone() *Scorecard {
	if sc == nil {
		return nil
	}
	cp := &Scorecard{
		RoundID:     sc.RoundID,
		Total:       sc.Total,
		LastUpdated: sc.LastUpdated,
		Holes:       make(map[int]message.HoleScore, len(sc.Holes)),
	}
	for h, hs := range sc.Holes {
		cp.Holes[h] = hs
	}
	return cp
}

// recompute refreshes the running total from the per-hole scores.
func (sc *Scorecard) recompute() {
	total := 0
	for _, hs := range sc.Holes {
		total += hs.Strokes
	}
	sc.Total = total
}
