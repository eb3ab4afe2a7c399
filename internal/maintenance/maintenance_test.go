package maintenance

import (
	"sync/atomic"
	"testing"
	"time"
)

type countingSyncer struct {
	calls atomic.Int64
}

func (s *countingSyncer) RequestFullSync() { s.calls.Add(1) }

func TestStartRejectsInvalidSchedules(t *testing.T) {
	r := New(Config{
		FullSyncSchedule: "not a cron expr",
	}, nil, &countingSyncer{}, nil)

	if err := r.Start(); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestStartAndStop(t *testing.T) {
	s := &countingSyncer{}
	r := New(Config{
		FullSyncSchedule: "@every 1h",
	}, nil, s, nil)

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
}

func TestFullSyncJobFires(t *testing.T) {
	s := &countingSyncer{}
	r := New(Config{
		FullSyncSchedule: "@every 10ms",
	}, nil, s, nil)

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.calls.Load() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("full-sync job never fired")
}

func TestStopWithoutStart(t *testing.T) {
	r := New(Config{}, nil, nil, nil)
	r.Stop() // must not panic
}

func TestEmptySchedulesDisabled(t *testing.T) {
	// No store, no syncer, no schedules: Start registers nothing and
	// still succeeds.
	r := New(Config{Retention: 24 * time.Hour}, nil, nil, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
}
