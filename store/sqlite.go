package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the violation log in a SQLite table with the same
// columns and text formats as the CSV log.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	log    zerolog.Logger
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path and applies any
// pending schema migrations.
func NewSQLiteStore(ctx context.Context, path string, log zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create store directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// One writer; the engine is frame-sequential anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "open sqlite")
	}

	log = log.With().Str("store", "sqlite").Str("path", path).Logger()
	if err := migrateUp(db, log); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, log: log}, nil
}

// SchemaVersion returns the applied migration version and whether the last
// migration failed halfway.
func (s *SQLiteStore) SchemaVersion() (uint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, ErrClosed
	}
	return schemaVersion(s.db, s.log)
}

// Append inserts r.
func (s *SQLiteStore) Append(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	row := r.Row()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO violations (time, plate_number, detection_confidence, source, image_file) VALUES (?, ?, ?, ?, ?)`,
		row[0], row[1], row[2], row[3], row[4])
	return errors.Wrap(err, "insert violation")
}

// Records returns every row ordered by insertion.
func (s *SQLiteStore) Records(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT time, plate_number, detection_confidence, source, image_file FROM violations ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query violations")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		row := make([]string, len(Header))
		if err := rows.Scan(&row[0], &row[1], &row[2], &row[3], &row[4]); err != nil {
			return nil, errors.Wrap(err, "scan violation")
		}
		rec, err := ParseRow(row)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping malformed violation row")
			continue
		}
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "iterate violations")
}

// Stats summarises the table relative to now.
func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(records, now), nil
}

// Reset deletes every row.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.log.Info().Msg("resetting violation table")
	_, err := s.db.ExecContext(ctx, `DELETE FROM violations`)
	return errors.Wrap(err, "reset violations")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
