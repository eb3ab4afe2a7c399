package message

import (
	"testing"
	"time"
)

func TestDefaultPriority(t *testing.T) {
	tests := []struct {
		kind Kind
		want Priority
	}{
		{KindRoundStart, PriorityCritical},
		{KindRoundEnd, PriorityCritical},
		{KindScore, PriorityHigh},
		{KindHaptic, PriorityNormal},
		{KindTelemetry, PriorityLow},
		{KindControl, PriorityLow},
	}
	for _, tt := range tests {
		if got := DefaultPriority(tt.kind); got != tt.want {
			t.Errorf("DefaultPriority(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	m := New(RoundStartBody{RoundID: "r1", CourseID: "c1"})
	if m.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if m.Priority != PriorityCritical {
		t.Errorf("round start priority = %s, want critical", m.Priority)
	}
	if !m.RequiresAck {
		t.Error("round start should require ack")
	}

	tel := New(TelemetryBody{HeartRate: 100})
	if tel.RequiresAck {
		t.Error("telemetry should not require ack")
	}
	if tel.Priority != PriorityLow {
		t.Errorf("telemetry priority = %s, want low", tel.Priority)
	}
}

func TestExpiredAndExhausted(t *testing.T) {
	m := New(TelemetryBody{})
	now := m.CreatedAt

	if m.Expired(now.Add(Expiry)) {
		t.Error("message at exactly the expiry window should not be expired")
	}
	if !m.Expired(now.Add(Expiry + time.Second)) {
		t.Error("message past the expiry window should be expired")
	}

	m.RetryCount = MaxRetries - 1
	if m.Exhausted() {
		t.Error("message below the retry budget should not be exhausted")
	}
	m.RetryCount = MaxRetries
	if !m.Exhausted() {
		t.Error("message at the retry budget should be exhausted")
	}
}

func TestLatestStateKinds(t *testing.T) {
	for _, k := range []Kind{KindScore, KindTelemetry} {
		if !k.LatestState() {
			t.Errorf("%s should be a latest-state kind", k)
		}
	}
	for _, k := range []Kind{KindRoundStart, KindRoundEnd, KindHaptic, KindControl} {
		if k.LatestState() {
			t.Errorf("%s should not be a latest-state kind", k)
		}
	}
}

func TestPriorityValid(t *testing.T) {
	if !PriorityCritical.Valid() || !PriorityLow.Valid() {
		t.Error("defined priorities should be valid")
	}
	if Priority(-1).Valid() || Priority(4).Valid() {
		t.Error("out-of-range priorities should be invalid")
	}
}
