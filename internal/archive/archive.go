// Package archive persists completed rounds to SQLite. The active round
// lives only in the engine; on EndRound the final state lands here.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fairwaylabs/caddielink/internal/round"
)

// ErrNotFound is returned when no archived round has the given ID.
var ErrNotFound = errors.New("archive: round not found")

const schema = `
CREATE TABLE IF NOT EXISTS rounds (
	id           TEXT PRIMARY KEY,
	course_id    TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	ended_at     INTEGER NOT NULL,
	total_score  INTEGER NOT NULL,
	holes_played INTEGER NOT NULL,
	biometrics   TEXT NOT NULL,
	scorecard    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rounds_ended_at ON rounds(ended_at);
`

// Record is one archived round.
type Record struct {
	ID          string
	CourseID    string
	StartedAt   time.Time
	EndedAt     time.Time
	TotalScore  int
	HolesPlayed int
	Biometrics  round.Biometrics
	Scorecard   map[int]int // hole -> strokes
}

// Store is the SQLite-backed round archive. Use ":memory:" as the path in
// tests.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the archive database.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive db: %w", err)
	}

	// One writer at a time; WAL keeps reads cheap.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save archives a finished round with its scorecard.
func (s *Store) Save(ctx context.Context, r *round.Round, sc *round.Scorecard, endedAt time.Time) error {
	bio, err := json.Marshal(r.Biometrics)
	if err != nil {
		return fmt.Errorf("marshal biometrics: %w", err)
	}

	scores := make(map[int]int, len(sc.Holes))
	for h, hs := range sc.Holes {
		scores[h] = hs.Strokes
	}
	card, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("marshal scorecard: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rounds (id, course_id, started_at, ended_at, total_score, holes_played, biometrics, scorecard)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   ended_at = excluded.ended_at,
		   total_score = excluded.total_score,
		   holes_played = excluded.holes_played,
		   biometrics = excluded.biometrics,
		   scorecard = excluded.scorecard`,
		r.ID, r.CourseID, r.StartedAt.Unix(), endedAt.Unix(),
		sc.Total, len(sc.Holes), string(bio), string(card),
	)
	if err != nil {
		return fmt.Errorf("insert round %s: %w", r.ID, err)
	}
	return nil
}

// Get loads one archived round.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, course_id, started_at, ended_at, total_score, holes_played, biometrics, scorecard
		 FROM rounds WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns archived rounds, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, course_id, started_at, ended_at, total_score, holes_played, biometrics, scorecard
		 FROM rounds ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes rounds that ended before the cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rounds WHERE ended_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune rounds: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec               Record
		started, ended    int64
		bioJSON, cardJSON string
	)
	if err := row.Scan(&rec.ID, &rec.CourseID, &started, &ended,
		&rec.TotalScore, &rec.HolesPlayed, &bioJSON, &cardJSON); err != nil {
		return nil, err
	}
	rec.StartedAt = time.Unix(started, 0).UTC()
	rec.EndedAt = time.Unix(ended, 0).UTC()
	if err := json.Unmarshal([]byte(bioJSON), &rec.Biometrics); err != nil {
		return nil, fmt.Errorf("unmarshal biometrics for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(cardJSON), &rec.Scorecard); err != nil {
		return nil, fmt.Errorf("unmarshal scorecard for %s: %w", rec.ID, err)
	}
	return &rec, nil
}
