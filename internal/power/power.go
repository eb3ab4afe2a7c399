// Package power exposes the battery state the scheduler keys off. The
// platform battery service is an external collaborator; this package
// defines the interface plus simple monitors for tests and development.
package power

// Band buckets battery level into the four scheduling regimes.
type Band int

const (
	BandNormal Band = iota
	BandConservative
	BandAggressive
	BandExtreme
)

func (b Band) String() string {
	switch b {
	case BandNormal:
		return "normal"
	case BandConservative:
		return "conservative"
	case BandAggressive:
		return "aggressive"
	case BandExtreme:
		return "extreme"
	default:
		return "unknown"
	}
}

// Band thresholds as fractions of full charge.
const (
	conservativeBelow = 0.5
	aggressiveBelow   = 0.2
	extremeBelow      = 0.05
)

// BandForLevel maps a 0..1 charge level to its band.
func BandForLevel(level float64) Band {
	switch {
	case level <= extremeBelow:
		return BandExtreme
	case level <= aggressiveBelow:
		return BandAggressive
	case level <= conservativeBelow:
		return BandConservative
	default:
		return BandNormal
	}
}

// Monitor is the battery collaborator consumed by the sync engine.
type Monitor interface {
	// Level returns the current charge as 0..1.
	Level() float64

	// Band returns the current power-saving band.
	Band() Band

	// Updates emits a band whenever it changes. Implementations must not
	// block on a slow consumer.
	Updates() <-chan Band
}
