// Package store provides a SQLite-backed implementation of the generation
// persistence ports.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/maauso/narration-api/internal/generation"
	"github.com/maauso/narration-api/internal/provider"
	"github.com/maauso/narration-api/internal/router"
)

// Compile-time checks.
var (
	_ generation.JobStore     = (*SQLiteStore)(nil)
	_ generation.SegmentStore = (*SQLiteStore)(nil)
)

// SQLiteStore persists generations and segments in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info("sqlite store opened", slog.String("path", path))
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS generations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    text TEXT NOT NULL,
    character_count INTEGER NOT NULL,
    voice_id TEXT,
    preference TEXT,
    preferred_provider TEXT,
    provider TEXT,
    output_format TEXT,
    status TEXT NOT NULL,
    audio_url TEXT,
    audio_format TEXT,
    audio_duration_ms INTEGER NOT NULL DEFAULT 0,
    audio_size_bytes INTEGER NOT NULL DEFAULT 0,
    estimated_cost TEXT NOT NULL DEFAULT '0',
    actual_cost TEXT NOT NULL DEFAULT '0',
    currency TEXT,
    segment_count INTEGER NOT NULL DEFAULT 0,
    segments_completed INTEGER NOT NULL DEFAULT 0,
    progress INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    started_at INTEGER NOT NULL DEFAULT 0,
    completed_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_generations_user_created ON generations(user_id, created_at);
CREATE TABLE IF NOT EXISTS segments (
    id TEXT PRIMARY KEY,
    generation_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    text TEXT NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset INTEGER NOT NULL,
    character_count INTEGER NOT NULL,
    status TEXT NOT NULL,
    provider TEXT,
    audio BLOB,
    audio_format TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    cost TEXT NOT NULL DEFAULT '0',
    error TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    started_at INTEGER NOT NULL DEFAULT 0,
    completed_at INTEGER NOT NULL DEFAULT 0,
    UNIQUE(generation_id, idx),
    FOREIGN KEY(generation_id) REFERENCES generations(id) ON DELETE CASCADE
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save creates or updates a generation.
func (s *SQLiteStore) Save(ctx context.Context, g *generation.Generation) error {
	c := g.Clone()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations(id, user_id, text, character_count, voice_id, preference, preferred_provider,
		    provider, output_format, status, audio_url, audio_format, audio_duration_ms, audio_size_bytes,
		    estimated_cost, actual_cost, currency, segment_count, segments_completed, progress, error,
		    retry_count, created_at, updated_at, started_at, completed_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		    voice_id=excluded.voice_id, preference=excluded.preference,
		    preferred_provider=excluded.preferred_provider, provider=excluded.provider,
		    output_format=excluded.output_format, status=excluded.status,
		    audio_url=excluded.audio_url, audio_format=excluded.audio_format,
		    audio_duration_ms=excluded.audio_duration_ms, audio_size_bytes=excluded.audio_size_bytes,
		    estimated_cost=excluded.estimated_cost, actual_cost=excluded.actual_cost,
		    currency=excluded.currency, segment_count=excluded.segment_count,
		    segments_completed=excluded.segments_completed, progress=excluded.progress,
		    error=excluded.error, retry_count=excluded.retry_count,
		    updated_at=excluded.updated_at, started_at=excluded.started_at,
		    completed_at=excluded.completed_at`,
		c.ID, c.UserID, c.Text, c.CharacterCount, c.VoiceID, string(c.Preference), string(c.PreferredProvider),
		string(c.Provider), c.OutputFormat, string(c.Status), c.AudioURL, c.AudioFormat, c.AudioDurationMs,
		c.AudioSizeBytes, c.EstimatedCost.String(), c.ActualCost.String(), c.Currency, c.SegmentCount,
		c.SegmentsCompleted, c.Progress, c.Error, c.RetryCount,
		toNanos(c.CreatedAt), toNanos(c.UpdatedAt), toNanos(c.StartedAt), toNanos(c.CompletedAt))
	if err != nil {
		return fmt.Errorf("save generation %s: %w", c.ID, err)
	}
	return nil
}

const generationColumns = `id, user_id, text, character_count, voice_id, preference, preferred_provider,
    provider, output_format, status, audio_url, audio_format, audio_duration_ms, audio_size_bytes,
    estimated_cost, actual_cost, currency, segment_count, segments_completed, progress, error,
    retry_count, created_at, updated_at, started_at, completed_at`

// FindByID retrieves a generation by its unique identifier.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*generation.Generation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	g, err := scanGeneration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generation.ErrGenerationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find generation %s: %w", id, err)
	}
	return g, nil
}

// ListByUser returns the generations of a user, newest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]*generation.Generation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE user_id = ? ORDER BY created_at DESC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*generation.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeneration(sc scanner) (*generation.Generation, error) {
	var (
		g                                   generation.Generation
		preference, preferred, prov, status string
		estimated, actual                   string
		created, updated, started, done     int64
	)
	err := sc.Scan(&g.ID, &g.UserID, &g.Text, &g.CharacterCount, &g.VoiceID, &preference, &preferred,
		&prov, &g.OutputFormat, &status, &g.AudioURL, &g.AudioFormat, &g.AudioDurationMs, &g.AudioSizeBytes,
		&estimated, &actual, &g.Currency, &g.SegmentCount, &g.SegmentsCompleted, &g.Progress, &g.Error,
		&g.RetryCount, &created, &updated, &started, &done)
	if err != nil {
		return nil, err
	}

	g.Preference = router.Preference(preference)
	g.PreferredProvider = provider.ID(preferred)
	g.Provider = provider.ID(prov)
	g.Status = generation.Status(status)
	if g.EstimatedCost, err = decimal.NewFromString(estimated); err != nil {
		return nil, fmt.Errorf("estimated cost: %w", err)
	}
	if g.ActualCost, err = decimal.NewFromString(actual); err != nil {
		return nil, fmt.Errorf("actual cost: %w", err)
	}
	g.CreatedAt = fromNanos(created)
	g.UpdatedAt = fromNanos(updated)
	g.StartedAt = fromNanos(started)
	g.CompletedAt = fromNanos(done)
	return &g, nil
}

// SaveSegments creates the segments of a generation in one transaction.
func (s *SQLiteStore) SaveSegments(ctx context.Context, segments []*generation.Segment) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO segments(id, generation_id, idx, text, start_offset, end_offset, character_count,
		    status, provider, audio, audio_format, duration_ms, cost, error, retry_count,
		    created_at, updated_at, started_at, completed_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, seg := range segments {
		if _, err = stmt.ExecContext(ctx, seg.ID, seg.GenerationID, seg.Index, seg.Text, seg.StartOffset,
			seg.EndOffset, seg.CharacterCount, string(seg.Status), string(seg.Provider), seg.Audio,
			seg.AudioFormat, seg.DurationMs, seg.Cost.String(), seg.Error, seg.RetryCount,
			toNanos(seg.CreatedAt), toNanos(seg.UpdatedAt), toNanos(seg.StartedAt), toNanos(seg.CompletedAt)); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.Index, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateSegment replaces a stored segment.
func (s *SQLiteStore) UpdateSegment(ctx context.Context, seg *generation.Segment) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE segments SET status = ?, provider = ?, audio = ?, audio_format = ?, duration_ms = ?,
		    cost = ?, error = ?, retry_count = ?, updated_at = ?, started_at = ?, completed_at = ?
		 WHERE id = ?`,
		string(seg.Status), string(seg.Provider), seg.Audio, seg.AudioFormat, seg.DurationMs,
		seg.Cost.String(), seg.Error, seg.RetryCount,
		toNanos(seg.UpdatedAt), toNanos(seg.StartedAt), toNanos(seg.CompletedAt), seg.ID)
	if err != nil {
		return fmt.Errorf("update segment %s: %w", seg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update segment %s: %w", seg.ID, err)
	}
	if n == 0 {
		return generation.ErrSegmentNotFound
	}
	return nil
}

// ListSegments returns the segments of a generation ordered by index.
func (s *SQLiteStore) ListSegments(ctx context.Context, generationID string) ([]*generation.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, generation_id, idx, text, start_offset, end_offset, character_count, status, provider,
		    audio, audio_format, duration_ms, cost, error, retry_count, created_at, updated_at, started_at, completed_at
		 FROM segments WHERE generation_id = ? ORDER BY idx ASC`, generationID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*generation.Segment
	for rows.Next() {
		var (
			seg                             generation.Segment
			status, prov, cost              string
			created, updated, started, done int64
		)
		if err := rows.Scan(&seg.ID, &seg.GenerationID, &seg.Index, &seg.Text, &seg.StartOffset, &seg.EndOffset,
			&seg.CharacterCount, &status, &prov, &seg.Audio, &seg.AudioFormat, &seg.DurationMs, &cost,
			&seg.Error, &seg.RetryCount, &created, &updated, &started, &done); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Status = generation.SegmentStatus(status)
		seg.Provider = provider.ID(prov)
		if seg.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("segment cost: %w", err)
		}
		seg.CreatedAt = fromNanos(created)
		seg.UpdatedAt = fromNanos(updated)
		seg.StartedAt = fromNanos(started)
		seg.CompletedAt = fromNanos(done)
		out = append(out, &seg)
	}
	return out, rows.Err()
}

// Zero times are stored as 0 so they survive a round trip as time.Time{}.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
