package store

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// CSVStore appends violations to a CSV file with a fixed header.
//
// The file is reopened in append mode for every record so external review
// tooling may edit Plate_Number between writes.
type CSVStore struct {
	mu     sync.Mutex
	path   string
	log    zerolog.Logger
	closed bool
}

// NewCSVStore opens the log at path, creating it (and its directory) with
// the header row when it does not exist or is empty. An existing file must
// start with Header.
//
// Arguments:
//   - path: The CSV file location.
//   - log: Logger for skipped rows and write failures.
//
// Returns:
//   - *CSVStore: The initialized store.
//   - error: ErrSchemaMismatch for a foreign file, or an I/O error.
func NewCSVStore(path string, log zerolog.Logger) (*CSVStore, error) {
	s := &CSVStore{
		path: path,
		log:  log.With().Str("store", "csv").Str("path", path).Logger(),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSVStore) init() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create store directory")
		}
	}

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.writeHeader()
	}
	if err != nil {
		return errors.Wrap(err, "open violation log")
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return s.writeHeader()
	}
	if err != nil {
		return errors.Wrap(err, "read violation log header")
	}
	if !slices.Equal(header, Header) {
		return errors.Wrapf(ErrSchemaMismatch, "%s has %v", s.path, header)
	}
	return nil
}

// writeHeader truncates the file and writes the header row.
func (s *CSVStore) writeHeader() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "create violation log")
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return errors.Wrap(err, "write header")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, "write header")
	}
	return f.Close()
}

// Append writes r as one CSV row.
func (s *CSVStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open violation log")
	}
	w := csv.NewWriter(f)
	if err := w.Write(r.Row()); err != nil {
		f.Close()
		return errors.Wrap(err, "append violation")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, "append violation")
	}
	return errors.Wrap(f.Close(), "close violation log")
}

// Records reads every data row. Rows that cannot be parsed are logged and skipped.
func (s *CSVStore) Records(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "open violation log")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var records []Record
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read line %d", line)
		}
		if line == 1 {
			continue
		}
		rec, err := ParseRow(row)
		if err != nil {
			s.log.Warn().Err(err).Int("line", line).Msg("skipping malformed violation row")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Stats summarises the log relative to now.
func (s *CSVStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(records, now), nil
}

// Reset truncates the log back to its header.
func (s *CSVStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.log.Info().Msg("resetting violation log")
	return s.writeHeader()
}

// Close marks the store closed. The file itself is never held open.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
