package message

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	at := time.Date(2026, 6, 14, 9, 30, 0, 0, time.UTC)
	m := New(ScoreUpdateBody{
		RoundID:     "r1",
		CurrentHole: 4,
		Holes:       []HoleScore{{Hole: 3, Strokes: 5, UpdatedAt: at}},
		TotalScore:  14,
		UpdatedAt:   at,
	})

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.ID != m.ID || got.Kind != m.Kind || got.Priority != m.Priority {
		t.Errorf("header mismatch: got %+v", got)
	}
	if !got.RequiresAck {
		t.Error("decoded score update should require ack")
	}
	body, ok := got.Body.(ScoreUpdateBody)
	if !ok {
		t.Fatalf("decoded body has type %T", got.Body)
	}
	if body.TotalScore != 14 || len(body.Holes) != 1 || body.Holes[0].Strokes != 5 {
		t.Errorf("body mismatch: %+v", body)
	}
}

func TestEncodeCompressesLargeBodies(t *testing.T) {
	// A large, highly repetitive body crosses the compression threshold.
	m := New(HapticBody{Pattern: strings.Repeat("tap-pause-", 200)})

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	body := got.Body.(HapticBody)
	if body.Pattern != strings.Repeat("tap-pause-", 200) {
		t.Error("compressed body did not round-trip")
	}
}

func TestEncodeNilBody(t *testing.T) {
	m := Message{ID: "x", Kind: KindControl}
	if _, err := Encode(m); err == nil {
		t.Fatal("expected error for nil body")
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	m := New(ControlBody{Op: "ping"})
	m.Kind = Kind("gibberish")
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
