package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fairwaylabs/caddielink/internal/round"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "rounds.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func finishedRound(t *testing.T) (*round.Round, *round.Scorecard) {
	t.Helper()
	r := round.New("links-01")
	sc := round.NewScorecard(r.ID)
	at := time.Now().UTC()
	sc.Record(1, 4, at)
	sc.Record(2, 5, at.Add(time.Minute))
	r.TotalScore = sc.Total
	return r, sc
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	r, sc := finishedRound(t)
	ended := time.Now().UTC()

	if err := s.Save(context.Background(), r, sc, ended); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, err := s.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.TotalScore != 9 || rec.HolesPlayed != 2 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Scorecard[1] != 4 || rec.Scorecard[2] != 5 {
		t.Errorf("scorecard = %+v", rec.Scorecard)
	}
	if rec.CourseID != "links-01" {
		t.Errorf("CourseID = %s", rec.CourseID)
	}
}

func TestSaveUpserts(t *testing.T) {
	s := openTestStore(t)
	r, sc := finishedRound(t)
	ended := time.Now().UTC()

	if err := s.Save(context.Background(), r, sc, ended); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	// A re-archive after late deltas replaces, never duplicates.
	sc.Record(3, 3, ended)
	if err := s.Save(context.Background(), r, sc, ended.Add(time.Minute)); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	recs, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("List returned %d records, want 1", len(recs))
	}
	if recs[0].TotalScore != 12 || recs[0].HolesPlayed != 3 {
		t.Errorf("upserted record = %+v", recs[0])
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		r, sc := finishedRound(t)
		if err := s.Save(context.Background(), r, sc, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	recs, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("List = %d records, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].EndedAt.After(recs[i-1].EndedAt) {
			t.Error("records not ordered newest first")
		}
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	old, oldSc := finishedRound(t)
	recent, recentSc := finishedRound(t)
	s.Save(context.Background(), old, oldSc, now.Add(-48*time.Hour))
	s.Save(context.Background(), recent, recentSc, now)

	n, err := s.Prune(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rounds, want 1", n)
	}
	if _, err := s.Get(context.Background(), old.ID); !errors.Is(err, ErrNotFound) {
		t.Error("old round should be gone")
	}
	if _, err := s.Get(context.Background(), recent.ID); err != nil {
		t.Errorf("recent round should survive: %v", err)
	}
}
