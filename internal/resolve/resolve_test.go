package resolve

import (
	"testing"
	"time"

	"github.com/fairwaylabs/caddielink/internal/message"
	"github.com/fairwaylabs/caddielink/internal/round"
)

func card(roundID string, updated time.Time, holes ...message.HoleScore) *round.Scorecard {
	sc := round.NewScorecard(roundID)
	for _, h := range holes {
		sc.Record(h.Hole, h.Strokes, h.UpdatedAt)
	}
	sc.LastUpdated = updated
	return sc
}

func TestScorecardsDisjointMerge(t *testing.T) {
	base := time.Now().UTC()
	local := card("r1", base,
		message.HoleScore{Hole: 1, Strokes: 4, UpdatedAt: base},
		message.HoleScore{Hole: 2, Strokes: 5, UpdatedAt: base})
	remote := card("r1", base.Add(time.Minute),
		message.HoleScore{Hole: 3, Strokes: 3, UpdatedAt: base.Add(time.Minute)})

	merged := Scorecards(local, remote)
	if len(merged.Holes) != 3 {
		t.Fatalf("merged holes = %d, want 3 (union)", len(merged.Holes))
	}
	if merged.Total != 12 {
		t.Errorf("merged total = %d, want 12", merged.Total)
	}
}

func TestScorecardsDisjointMergeCommutative(t *testing.T) {
	base := time.Now().UTC()
	a := card("r1", base, message.HoleScore{Hole: 1, Strokes: 4, UpdatedAt: base})
	b := card("r1", base.Add(time.Second), message.HoleScore{Hole: 2, Strokes: 3, UpdatedAt: base.Add(time.Second)})

	ab := Scorecards(a, b)
	ba := Scorecards(b, a)

	if ab.Total != ba.Total || len(ab.Holes) != len(ba.Holes) {
		t.Fatalf("disjoint merge not commutative: %+v vs %+v", ab.Holes, ba.Holes)
	}
	for h, hs := range ab.Holes {
		if ba.Holes[h].Strokes != hs.Strokes {
			t.Errorf("hole %d differs between merge orders", h)
		}
	}
}

func TestScorecardsOverlappingNewerWins(t *testing.T) {
	base := time.Now().UTC()
	local := card("r1", base,
		message.HoleScore{Hole: 1, Strokes: 4, UpdatedAt: base},
		message.HoleScore{Hole: 2, Strokes: 6, UpdatedAt: base})
	remote := card("r1", base.Add(time.Minute),
		message.HoleScore{Hole: 1, Strokes: 5, UpdatedAt: base.Add(time.Minute)})

	merged := Scorecards(local, remote)
	// Overlap on hole 1: the whole newer card wins, local hole 2 is gone.
	if len(merged.Holes) != 1 || merged.Holes[1].Strokes != 5 {
		t.Errorf("overlapping merge = %+v, want the remote card as a whole", merged.Holes)
	}
}

func TestScorecardsOverlappingTieUnions(t *testing.T) {
	base := time.Now().UTC()
	// Both cards saw the hole-2 write; local missed hole 1's earlier
	// delivery. Equal LastUpdated means replicas, not a conflict.
	local := card("r1", base.Add(time.Minute),
		message.HoleScore{Hole: 2, Strokes: 3, UpdatedAt: base.Add(time.Minute)})
	remote := card("r1", base.Add(time.Minute),
		message.HoleScore{Hole: 1, Strokes: 4, UpdatedAt: base},
		message.HoleScore{Hole: 2, Strokes: 3, UpdatedAt: base.Add(time.Minute)})

	merged := Scorecards(local, remote)
	if len(merged.Holes) != 2 || merged.Total != 7 {
		t.Errorf("tie merge = %+v (total %d), want the union", merged.Holes, merged.Total)
	}
}

func TestScorecardsNilSides(t *testing.T) {
	base := time.Now().UTC()
	sc := card("r1", base, message.HoleScore{Hole: 1, Strokes: 4, UpdatedAt: base})

	if got := Scorecards(nil, sc); got == nil || got.Total != sc.Total {
		t.Error("nil local should resolve to remote")
	}
	if got := Scorecards(sc, nil); got == nil || got.Total != sc.Total {
		t.Error("nil remote should resolve to local")
	}
}

func TestTelemetryBetterAccuracyWins(t *testing.T) {
	local := message.TelemetryBody{Accuracy: 12, HeartRate: 90}
	remote := message.TelemetryBody{Accuracy: 5, HeartRate: 95}

	if got := Telemetry(local, remote); got.HeartRate != 95 {
		t.Error("smaller accuracy value should win")
	}
	// Ties keep local.
	tie := message.TelemetryBody{Accuracy: 12, HeartRate: 99}
	if got := Telemetry(local, tie); got.HeartRate != 90 {
		t.Error("accuracy tie should keep local")
	}
}

func TestSettingsLocalWins(t *testing.T) {
	local := Preferences{Units: "meters", HapticsEnabled: true}
	remote := Preferences{Units: "yards", HapticsEnabled: false, LastUpdated: time.Now()}

	if got := Settings(local, remote); got.Units != "meters" || !got.HapticsEnabled {
		t.Errorf("settings merge = %+v, want local", got)
	}
}

func TestRoundsNewerWins(t *testing.T) {
	base := time.Now().UTC()
	local := &round.Round{ID: "r1", TotalScore: 10, LastUpdated: base}
	remote := &round.Round{ID: "r1", TotalScore: 14, LastUpdated: base.Add(time.Minute)}

	if got := Rounds(local, remote); got.TotalScore != 14 {
		t.Error("newer round header should win")
	}
	if got := Rounds(remote, local); got.TotalScore != 14 {
		t.Error("newer round header should win regardless of side")
	}
}

func TestMergeUnknownTypeKeepsLocal(t *testing.T) {
	type mystery struct{ V int }
	local := mystery{V: 1}
	remote := mystery{V: 2}

	got := Merge(local, remote)
	if got.(mystery).V != 1 {
		t.Error("unknown entity type should resolve to local")
	}
}

func TestMergeMismatchedTypesKeepsLocal(t *testing.T) {
	local := &round.Round{ID: "r1", TotalScore: 3}
	got := Merge(local, "not a round")
	if got.(*round.Round).TotalScore != 3 {
		t.Error("mismatched remote type should resolve to local")
	}
}
