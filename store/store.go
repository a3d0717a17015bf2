// Package store - Append-only log of confirmed helmet violations.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TimeLayout is the timestamp format of the Time column.
const TimeLayout = "2006-01-02 15:04:05"

// NoPlateImage is the Image_File value of violations recorded without a plate.
const NoPlateImage = "NO_PLATE"

// Header is the fixed column order of the violation log.
var Header = []string{"Time", "Plate_Number", "Detection_Confidence", "Source", "Image_File"}

// Driver selects the store backend.
type Driver string

const (
	// DriverCSV writes a CSV file read by the review tooling.
	DriverCSV Driver = "csv"
	// DriverSQLite writes the same columns into a SQLite table.
	DriverSQLite Driver = "sqlite"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
	// ErrSchemaMismatch is returned when an existing log has a different header.
	ErrSchemaMismatch = errors.New("violation log header mismatch")
	// ErrUnknownDriver is returned by Open for an unsupported driver.
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Record is one persisted violation.
type Record struct {
	// Time is when the violation was saved.
	Time time.Time
	// PlateNumber is filled in later by a human reviewer; empty when written.
	PlateNumber string
	// Confidence is the detection confidence of the plate evidence.
	Confidence float32
	// Source is a free-text origin label such as "Video".
	Source string
	// ImageFile is the evidence file name relative to the images directory.
	ImageFile string
}

// Row renders the record in Header order.
func (r Record) Row() []string {
	return []string{
		r.Time.Format(TimeLayout),
		r.PlateNumber,
		strconv.FormatFloat(float64(r.Confidence), 'f', 3, 32),
		r.Source,
		r.ImageFile,
	}
}

// ParseRow is the inverse of Record.Row. Times are read in the local zone.
func ParseRow(row []string) (Record, error) {
	if len(row) != len(Header) {
		return Record{}, errors.Errorf("expected %d columns, got %d", len(Header), len(row))
	}
	ts, err := time.ParseInLocation(TimeLayout, row[0], time.Local)
	if err != nil {
		return Record{}, errors.Wrap(err, "parse time")
	}
	conf, err := strconv.ParseFloat(row[2], 32)
	if err != nil {
		return Record{}, errors.Wrap(err, "parse confidence")
	}
	return Record{
		Time:        ts,
		PlateNumber: row[1],
		Confidence:  float32(conf),
		Source:      row[3],
		ImageFile:   row[4],
	}, nil
}

// Reviewed reports whether a reviewer has transcribed the plate.
func (r Record) Reviewed() bool {
	return r.PlateNumber != ""
}

// Stats summarises the log for operators.
type Stats struct {
	Total    int `json:"total"`
	Today    int `json:"today"`
	Pending  int `json:"pending"`
	Reviewed int `json:"reviewed"`
}

// Summarize computes Stats over records, counting "today" in now's zone.
func Summarize(records []Record, now time.Time) Stats {
	var s Stats
	y, m, d := now.Date()
	for _, r := range records {
		s.Total++
		ry, rm, rd := r.Time.In(now.Location()).Date()
		if ry == y && rm == m && rd == d {
			s.Today++
		}
		if r.Reviewed() {
			s.Reviewed++
		} else {
			s.Pending++
		}
	}
	return s
}

// Store is an append-only violation log. Implementations serialize Append
// internally; records are never modified by this module.
type Store interface {
	// Append adds one record.
	Append(ctx context.Context, r Record) error
	// Records returns every record in insertion order.
	Records(ctx context.Context) ([]Record, error)
	// Stats summarises the log relative to now.
	Stats(ctx context.Context, now time.Time) (Stats, error)
	// Reset removes every record, leaving an initialized empty log.
	Reset(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// Config selects and locates the store.
type Config struct {
	Driver Driver `json:"driver" yaml:"driver" mapstructure:"driver"`
	Path   string `json:"path" yaml:"path" mapstructure:"path"`
}

// DefaultConfig writes violations.csv in the working directory.
func DefaultConfig() Config {
	return Config{
		Driver: DriverCSV,
		Path:   "violations.csv",
	}
}

// Open creates or opens the configured store. The log is initialized (header
// or schema) before Open returns.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case DriverCSV, "":
		return NewCSVStore(cfg.Path, log)
	case DriverSQLite:
		return NewSQLiteStore(ctx, cfg.Path, log)
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "%q", cfg.Driver)
	}
}
