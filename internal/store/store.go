// Package store keeps encoded event batches in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/eventcam/internal/monitoring"
	"github.com/banshee-data/eventcam/internal/sparse"
)

var logf = monitoring.Component("store")

// ErrNotFound is returned by Load for an unknown batch id.
var ErrNotFound = errors.New("store: batch not found")

// Store wraps the batch database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// BatchInfo describes a stored batch without its payload.
type BatchInfo struct {
	ID      uuid.UUID `json:"id"`
	Source  string    `json:"source"`
	Events  int       `json:"events"`
	FirstTS *int64    `json:"first_ts,omitempty"`
	LastTS  *int64    `json:"last_ts,omitempty"`
	Created time.Time `json:"created"`
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying handle for read-only inspection tools.
func (s *Store) DB() *sql.DB { return s.db }

// Save stores batch under a new id and returns it.
func (s *Store) Save(ctx context.Context, batch *sparse.Batch, source string) (uuid.UUID, error) {
	payload, err := batch.MarshalBinary()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	var first, last sql.NullInt64
	if f, l, ok := batch.TimeRange(); ok {
		first = sql.NullInt64{Int64: f, Valid: true}
		last = sql.NullInt64{Int64: l, Valid: true}
	}

	id := uuid.New()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (batch_id, source, event_count, first_ts, last_ts, payload, created_unix_nanos)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), source, batch.Len(), first, last, payload, s.now().UnixNano(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert batch: %w", err)
	}
	return id, nil
}

// Load returns the batch stored under id.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (*sparse.Batch, BatchInfo, error) {
	var (
		info    BatchInfo
		payload []byte
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT batch_id, source, event_count, first_ts, last_ts, created_unix_nanos, payload
		 FROM batches WHERE batch_id = ?`, id.String())
	if err := scanInfo(row, &info, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, BatchInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, BatchInfo{}, err
	}

	b := new(sparse.Batch)
	if err := b.UnmarshalBinary(payload); err != nil {
		return nil, BatchInfo{}, fmt.Errorf("batch %s: %w", id, err)
	}
	return b, info, nil
}

// List returns up to limit batches, newest first. A limit of zero or less
// returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]BatchInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, source, event_count, first_ts, last_ts, created_unix_nanos
		 FROM batches ORDER BY created_unix_nanos DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchInfo
	for rows.Next() {
		var info BatchInfo
		if err := scanInfo(rows, &info, nil); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes the batch stored under id.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE batch_id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInfo(sc scanner, info *BatchInfo, payload *[]byte) error {
	var (
		id          string
		first, last sql.NullInt64
		created     int64
	)
	dest := []any{&id, &info.Source, &info.Events, &first, &last, &created}
	if payload != nil {
		dest = append(dest, payload)
	}
	if err := sc.Scan(dest...); err != nil {
		return err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid batch id %q: %w", id, err)
	}
	info.ID = parsed
	if first.Valid {
		info.FirstTS = &first.Int64
	}
	if last.Valid {
		info.LastTS = &last.Int64
	}
	info.Created = time.Unix(0, created).UTC()
	return nil
}

// Backup writes a consistent copy of the database to path with VACUUM INTO.
// path must not exist.
func (s *Store) Backup(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	logf("backup written to %s", path)
	return nil
}
