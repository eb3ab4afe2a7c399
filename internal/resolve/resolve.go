// Package resolve deterministically merges two versions of the same
// logical entity after the peers diverged while disconnected. Resolution
// is side-effect free and never fails: an unrecognized entity resolves to
// the local version, a deliberate conservative default rather than an
// error path.
package resolve

import (
	"time"

	"github.com/fairwaylabs/caddielink/internal/message"
	"github.com/fairwaylabs/caddielink/internal/round"
)

// Preferences are device-local user settings. The merging device is
// authoritative for its own configuration, so local always wins; the
// remote version is consulted only when there is no local one.
type Preferences struct {
	HapticsEnabled    bool          `json:"haptics_enabled"`
	Units             string        `json:"units"`
	TelemetryInterval time.Duration `json:"telemetry_interval"`
	LastUpdated       time.Time     `json:"last_updated"`
}

// Scorecards merges two scorecards. When the two sides modified disjoint
// hole sets, the merge is per-hole latest-timestamp-wins over the union,
// which makes it commutative. When the hole sets overlap, the card with
// the strictly more recent LastUpdated wins as a whole; equal update
// times mean the cards share their latest write and only delivery
// diverged, so they union per hole instead.
func Scorecards(local, remote *round.Scorecard) *round.Scorecard {
	if remote == nil {
		return local.Clone()
	}
	if local == nil {
		return remote.Clone()
	}

	if disjoint(local, remote) || remote.LastUpdated.Equal(local.LastUpdated) {
		merged := local.Clone()
		merged.ApplyDelta(message.ScoreUpdateBody{
			RoundID:   remote.RoundID,
			Holes:     holeScores(remote),
			UpdatedAt: remote.LastUpdated,
		})
		return merged
	}

	if remote.LastUpdated.After(local.LastUpdated) {
		return remote.Clone()
	}
	return local.Clone()
}

// Telemetry picks the sample with the better (smaller) accuracy value.
// Ties keep local.
func Telemetry(local, remote message.TelemetryBody) message.TelemetryBody {
	if remote.Accuracy < local.Accuracy {
		return remote
	}
	return local
}

// Settings keeps the local preferences unchanged.
func Settings(local, remote Preferences) Preferences {
	_ = remote
	return local
}

// Rounds merges two versions of the active round header: the more
// recently updated one wins, ties keep local.
func Rounds(local, remote *round.Round) *round.Round {
	if remote == nil {
		return local.Clone()
	}
	if local == nil {
		return remote.Clone()
	}
	if remote.LastUpdated.After(local.LastUpdated) {
		return remote.Clone()
	}
	return local.Clone()
}

// Merge dispatches on entity type. Unknown types resolve to local.
func Merge(local, remote any) any {
	switch l := local.(type) {
	case *round.Scorecard:
		r, ok := remote.(*round.Scorecard)
		if !ok {
			return local
		}
		return Scorecards(l, r)
	case *round.Round:
		r, ok := remote.(*round.Round)
		if !ok {
			return local
		}
		return Rounds(l, r)
	case message.TelemetryBody:
		r, ok := remote.(message.TelemetryBody)
		if !ok {
			return local
		}
		return Telemetry(l, r)
	case Preferences:
		r, ok := remote.(Preferences)
		if !ok {
			return local
		}
		return Settings(l, r)
	default:
		return local
	}
}

// disjoint reports whether the two cards modified non-overlapping holes.
func disjoint(a, b *round.Scorecard) bool {
	for h := range a.Holes {
		if _, ok := b.Holes[h]; ok {
			return false
		}
	}
	return true
}

func holeScores(sc *round.Scorecard) []message.HoleScore {
	out := make([]message.HoleScore, 0, len(sc.Holes))
	for _, hs := range sc.Holes {
		out = append(out, hs)
	}
	return out
}
