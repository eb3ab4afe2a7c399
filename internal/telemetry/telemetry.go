// Package telemetry defines the biometric/location collaborator the sync
// engine pulls from. The platform health service is external; this
// package ships a simulated source for tests and development.
package telemetry

import (
	"context"
	"math"
	"sync"
	"time"
)

// Sample is one point-in-time metrics snapshot. Calories, steps and
// distance are cumulative for the session; heart rate and position are
// instantaneous. Accuracy is the location fix error in meters (smaller is
// better).
type Sample struct {
	HeartRate float64
	Calories  float64
	Steps     int64
	Distance  float64
	Latitude  float64
	Longitude float64
	Speed     float64
	Accuracy  float64
	SampledAt time.Time
}

// Source is the pull-based telemetry collaborator.
type Source interface {
	Current(ctx context.Context) (Sample, error)
}

// Simulated produces a walking-pace stream of plausible metrics, useful
// when developing off-device.
type Simulated struct {
	mu      sync.Mutex
	start   time.Time
	lat     float64
	lon     float64
	heading float64
}

// NewSimulated starts a simulated walk from the given position.
func NewSimulated(lat, lon float64) *Simulated {
	return &Simulated{start: time.Now(), lat: lat, lon: lon, heading: 0.7}
}

func (s *Simulated) Current(_ context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.start).Seconds()
	const speed = 1.3 // m/s, walking pace

	// Drift position along the heading; ~1e-5 degrees per meter.
	s.lat += speed * math.Cos(s.heading) * 1e-5
	s.lon += speed * math.Sin(s.heading) * 1e-5

	return Sample{
		HeartRate: 95 + 15*math.Sin(elapsed/60),
		Calories:  elapsed * 0.08,
		Steps:     int64(elapsed * 1.7),
		Distance:  elapsed * speed,
		Latitude:  s.lat,
		Longitude: s.lon,
		Speed:     speed,
		Accuracy:  8,
		SampledAt: time.Now().UTC(),
	}, nil
}

// Distance returns the great-circle distance between two coordinates in
// meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
