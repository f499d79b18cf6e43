// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/segrelay/internal/persistence/sqlite"
)

const schemaVersion = 1

const segmentColumns = `token, path, work_index, recorded_at_ms, duration_ms, size_bytes, work_id,
	upload_state, remote_handle, bytes_acked, retry_count, completed_at_ms`

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the catalog database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate(ctx context.Context) error {
	return sqlite.Migrate(ctx, s.DB, schemaVersion,
		`CREATE TABLE IF NOT EXISTS works (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			serial TEXT NOT NULL,
			process TEXT NOT NULL,
			state TEXT NOT NULL,
			started_at_ms INTEGER NOT NULL,
			ended_at_ms INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			token TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			work_index INTEGER,
			recorded_at_ms INTEGER NOT NULL,
			duration_ms INTEGER,
			size_bytes INTEGER,
			work_id TEXT NOT NULL DEFAULT '',
			upload_state TEXT NOT NULL,
			remote_handle TEXT NOT NULL DEFAULT '',
			bytes_acked INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			completed_at_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_state_recorded ON segments(upload_state, recorded_at_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_work ON segments(work_id, work_index)`,
	)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (*Segment, error) {
	var (
		seg         Segment
		index       sql.NullInt64
		recordedMs  int64
		duration    sql.NullInt64
		size        sql.NullInt64
		state       string
		completedMs sql.NullInt64
	)
	err := row.Scan(&seg.Token, &seg.Path, &index, &recordedMs, &duration, &size, &seg.WorkID,
		&state, &seg.RemoteHandle, &seg.BytesAcked, &seg.RetryCount, &completedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	seg.UploadState = UploadState(state)
	seg.RecordedAt = time.UnixMilli(recordedMs).UTC()
	if index.Valid {
		v := int(index.Int64)
		seg.Index = &v
	}
	if duration.Valid {
		v := duration.Int64
		seg.DurationMs = &v
	}
	if size.Valid {
		v := size.Int64
		seg.SizeBytes = &v
	}
	if completedMs.Valid {
		t := time.UnixMilli(completedMs.Int64).UTC()
		seg.CompletedAt = &t
	}
	return &seg, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SqliteStore) Insert(ctx context.Context, seg *Segment) error {
	if err := validateNew(seg); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO segments (`+segmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.Token, seg.Path, nullInt(seg.Index), seg.RecordedAt.UnixMilli(), nullInt64(seg.DurationMs),
		nullInt64(seg.SizeBytes), seg.WorkID, string(seg.UploadState), seg.RemoteHandle, seg.BytesAcked,
		seg.RetryCount, nullTime(seg.CompletedAt))
	if isConstraint(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SqliteStore) Get(ctx context.Context, token string) (*Segment, error) {
	return scanSegment(s.DB.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments WHERE token = ?`, token))
}

func (s *SqliteStore) GetByPath(ctx context.Context, path string) (*Segment, error) {
	return scanSegment(s.DB.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments WHERE path = ?`, path))
}

// Update reads, mutates and writes the row inside one transaction. The write is
// a single UPDATE of every mutable column.
func (s *SqliteStore) Update(ctx context.Context, token string, fn Mutation) (*Segment, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	seg, err := scanSegment(tx.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments WHERE token = ?`, token))
	if err != nil {
		return nil, err
	}
	if err := fn(seg); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE segments SET
			work_index = ?, duration_ms = ?, size_bytes = ?, work_id = ?, upload_state = ?,
			remote_handle = ?, bytes_acked = ?, retry_count = ?, completed_at_ms = ?
		WHERE token = ?`,
		nullInt(seg.Index), nullInt64(seg.DurationMs), nullInt64(seg.SizeBytes), seg.WorkID,
		string(seg.UploadState), seg.RemoteHandle, seg.BytesAcked, seg.RetryCount, nullTime(seg.CompletedAt),
		token)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, token)
}

func (s *SqliteStore) Delete(ctx context.Context, token string) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM segments WHERE token = ?", token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SqliteStore) querySegments(ctx context.Context, query string, args ...any) ([]*Segment, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *SqliteStore) List(ctx context.Context, f ListFilter) ([]*Segment, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkID != "" {
		where = append(where, "work_id = ?")
		args = append(args, f.WorkID)
	}
	if f.State != "" {
		where = append(where, "upload_state = ?")
		args = append(args, string(f.State))
	}
	query := `SELECT ` + segmentColumns + ` FROM segments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at_ms, token"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.querySegments(ctx, query, args...)
}

func (s *SqliteStore) MaxIndex(ctx context.Context, workID string) (int, error) {
	var maxIdx int
	err := s.DB.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(work_index), 0) FROM segments WHERE work_id = ?", workID).Scan(&maxIdx)
	return maxIdx, err
}

func (s *SqliteStore) OlderThan(ctx context.Context, t time.Time) ([]*Segment, error) {
	return s.querySegments(ctx, `SELECT `+segmentColumns+` FROM segments
		WHERE recorded_at_ms < ? ORDER BY recorded_at_ms, token`, t.UnixMilli())
}

func (s *SqliteStore) NextCandidate(ctx context.Context, maxRetry int) (*Segment, error) {
	seg, err := scanSegment(s.DB.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments
		WHERE work_id <> ''
		  AND duration_ms IS NOT NULL
		  AND size_bytes IS NOT NULL
		  AND (upload_state IN (?, ?) OR (upload_state = ? AND retry_count < ?))
		ORDER BY recorded_at_ms, token
		LIMIT 1`,
		string(StatePending), string(StateUploading), string(StateFailed), maxRetry))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return seg, err
}

func scanWork(row rowScanner) (*Work, error) {
	var (
		w         Work
		state     string
		startedMs int64
		endedMs   sql.NullInt64
	)
	if err := row.Scan(&w.ID, &w.Model, &w.Serial, &w.Process, &state, &startedMs, &endedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	w.State = WorkState(state)
	w.StartedAt = time.UnixMilli(startedMs).UTC()
	if endedMs.Valid {
		t := time.UnixMilli(endedMs.Int64).UTC()
		w.EndedAt = &t
	}
	return &w, nil
}

const workColumns = "id, model, serial, process, state, started_at_ms, ended_at_ms"

func (s *SqliteStore) InsertWork(ctx context.Context, w *Work) error {
	if err := validateWork(w); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO works (`+workColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Model, w.Serial, w.Process, string(w.State), w.StartedAt.UnixMilli(), nullTime(w.EndedAt))
	if isConstraint(err) {
		return ErrDuplicate
	}
	return err
}

func (s *SqliteStore) GetWork(ctx context.Context, id string) (*Work, error) {
	return scanWork(s.DB.QueryRowContext(ctx, `SELECT `+workColumns+` FROM works WHERE id = ?`, id))
}

func (s *SqliteStore) UpdateWork(ctx context.Context, id string, fn WorkMutation) (*Work, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	w, err := scanWork(tx.QueryRowContext(ctx, `SELECT `+workColumns+` FROM works WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	w.ID = id
	if _, err := tx.ExecContext(ctx, "UPDATE works SET state = ?, ended_at_ms = ? WHERE id = ?",
		string(w.State), nullTime(w.EndedAt), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *SqliteStore) ListWorks(ctx context.Context) ([]*Work, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+workColumns+` FROM works ORDER BY started_at_ms, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
