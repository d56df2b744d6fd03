// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/tuisync/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoSettings means no latency pair has been saved yet.
var ErrNoSettings = errors.New("no latency settings saved")

// Store wraps SQLite access for latency settings and calibration history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS latency_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			audio_ns INTEGER NOT NULL,
			video_ns INTEGER NOT NULL,
			source TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			latency_ns INTEGER NOT NULL,
			correction_ns INTEGER NOT NULL,
			samples INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			misses INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_samples (
			session_id TEXT NOT NULL,
			beat INTEGER NOT NULL,
			raw_ns INTEGER NOT NULL,
			effective_ns INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			PRIMARY KEY (session_id, beat)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_kind ON sessions(kind);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadLatency returns the saved latency pair or ErrNoSettings.
func (s *Store) LoadLatency(ctx context.Context) (model.LatencyRecord, error) {
	var rec model.LatencyRecord
	var audio, video int64
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT audio_ns, video_ns, source, updated_at FROM latency_settings WHERE id = 1`,
	).Scan(&audio, &video, &rec.Source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LatencyRecord{}, ErrNoSettings
	}
	if err != nil {
		return model.LatencyRecord{}, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return model.LatencyRecord{}, err
	}
	rec.Audio = time.Duration(audio)
	rec.Video = time.Duration(video)
	rec.UpdatedAt = parsed
	return rec, nil
}

// SaveLatency replaces the saved latency pair.
func (s *Store) SaveLatency(ctx context.Context, rec model.LatencyRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO latency_settings (id, audio_ns, video_ns, source, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			audio_ns = excluded.audio_ns,
			video_ns = excluded.video_ns,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		int64(rec.Audio),
		int64(rec.Video),
		rec.Source,
		rec.UpdatedAt.UTC().Format(timeLayout),
	)
	return err
}

// ResetLatency deletes the saved latency pair.
func (s *Store) ResetLatency(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM latency_settings`)
	return err
}

// InsertSession stores a finalized session and its samples. An empty ID is
// replaced by a new UUID, which is returned.
func (s *Store) InsertSession(ctx context.Context, rec model.SessionRecord, samples []model.SampleRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, kind, started_at, ended_at, latency_ns, correction_ns, samples, rejected, misses)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Kind,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.EndedAt.UTC().Format(timeLayout),
		int64(rec.Latency),
		int64(rec.Correction),
		rec.Samples,
		rec.Rejected,
		rec.Misses,
	)
	if err != nil {
		return "", err
	}

	if len(samples) > 0 {
		var stmt *sql.Stmt
		stmt, err = tx.PrepareContext(ctx,
			`INSERT INTO session_samples (session_id, beat, raw_ns, effective_ns, rejected)
			 VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return "", err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, smp := range samples {
			if _, err = stmt.ExecContext(ctx, rec.ID, smp.Beat, int64(smp.Raw), int64(smp.Effective), boolInt(smp.Rejected)); err != nil {
				return "", err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// ListSessions returns sessions filtered by history config, oldest first.
// Last keeps only the most recent N matches.
func (s *Store) ListSessions(ctx context.Context, cfg model.HistoryConfig) ([]model.SessionRecord, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if cfg.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, cfg.Kind)
	}
	if cfg.Since != nil {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, cfg.Since.UTC().Format(timeLayout))
	}
	limit := -1
	if cfg.Last > 0 {
		limit = cfg.Last
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id, kind, started_at, ended_at, latency_ns, correction_ns, samples, rejected, misses
		FROM (
			SELECT * FROM sessions
			WHERE %s
			ORDER BY ended_at DESC
			LIMIT ?
		)
		ORDER BY ended_at ASC`, strings.Join(clauses, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []model.SessionRecord
	for rows.Next() {
		var rec model.SessionRecord
		var startedAt, endedAt string
		var latency, correction int64
		if err := rows.Scan(&rec.ID, &rec.Kind, &startedAt, &endedAt, &latency, &correction, &rec.Samples, &rec.Rejected, &rec.Misses); err != nil {
			return nil, err
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, err
		}
		if rec.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
			return nil, err
		}
		rec.Latency = time.Duration(latency)
		rec.Correction = time.Duration(correction)
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListSamples returns the samples of one session in beat order.
func (s *Store) ListSamples(ctx context.Context, sessionID string) ([]model.SampleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT beat, raw_ns, effective_ns, rejected FROM session_samples
		 WHERE session_id = ?
		 ORDER BY beat ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.SampleRecord
	for rows.Next() {
		var smp model.SampleRecord
		var raw, effective int64
		var rejected int
		if err := rows.Scan(&smp.Beat, &raw, &effective, &rejected); err != nil {
			return nil, err
		}
		smp.Raw = time.Duration(raw)
		smp.Effective = time.Duration(effective)
		smp.Rejected = rejected != 0
		result = append(result, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteSessions removes all calibration history.
func (s *Store) DeleteSessions(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_samples`); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return err
	}
	return tx.Commit()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
