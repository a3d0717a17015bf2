// Package dedup - Spatial and temporal suppression of repeated plate captures.
package dedup

import (
	"sync"
	"time"

	"github.com/nvr-ai/helmet-watch/images"
)

const (
	// DefaultWindow is how long a captured location stays suppressed.
	DefaultWindow = 15 * time.Second
	// DefaultRadius is the distance in pixels under which two centers are
	// considered the same physical plate.
	DefaultRadius = 150
)

// Config configures a Deduplicator.
type Config struct {
	// Window is the rolling interval during which a location counts as captured.
	Window time.Duration `json:"window" yaml:"window" mapstructure:"window"`
	// Radius is the suppression distance in pixels.
	Radius float32 `json:"radius" yaml:"radius" mapstructure:"radius"`
}

// DefaultConfig returns a 15 second window with a 150 pixel radius.
func DefaultConfig() Config {
	return Config{
		Window: DefaultWindow,
		Radius: DefaultRadius,
	}
}

// Entry is one recently captured location.
type Entry struct {
	Center    images.Point
	Timestamp time.Time
}

// Deduplicator remembers where plates were captured recently.
//
// Entries expire lazily: every lookup first drops entries that are at least
// Window old. Correctness relies on callers supplying non-decreasing
// timestamps. State lives only as long as the Deduplicator; nothing is
// persisted.
type Deduplicator struct {
	mu      sync.Mutex
	cfg     Config
	entries []Entry
}

// New creates an empty Deduplicator. Non-positive fields fall back to the defaults.
func New(cfg Config) *Deduplicator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Radius <= 0 {
		cfg.Radius = DefaultRadius
	}
	return &Deduplicator{cfg: cfg}
}

// Check reports whether center duplicates a location captured within the
// window. A non-duplicate center is registered before returning.
//
// Arguments:
//   - center: Candidate plate center.
//   - now: Current stream time.
//
// Returns:
//   - bool: True when the candidate was already captured.
func (d *Deduplicator) Check(center images.Point, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seenLocked(center, now) {
		return true
	}
	d.entries = append(d.entries, Entry{Center: center, Timestamp: now})
	return false
}

// Seen is the read half of Check: it prunes expired entries and reports
// whether center is a duplicate without registering it.
func (d *Deduplicator) Seen(center images.Point, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seenLocked(center, now)
}

// Register records center as captured at now.
func (d *Deduplicator) Register(center images.Point, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, Entry{Center: center, Timestamp: now})
}

// Len returns the number of live entries as of the last prune.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Entries returns a copy of the current entries.
func (d *Deduplicator) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Entry(nil), d.entries...)
}

// Reset forgets every entry.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
}

func (d *Deduplicator) seenLocked(center images.Point, now time.Time) bool {
	d.pruneLocked(now)
	for _, e := range d.entries {
		if center.Distance(e.Center) < d.cfg.Radius {
			return true
		}
	}
	return false
}

func (d *Deduplicator) pruneLocked(now time.Time) {
	kept := d.entries[:0]
	for _, e := range d.entries {
		if now.Sub(e.Timestamp) < d.cfg.Window {
			kept = append(kept, e)
		}
	}
	// Zero the dropped tail.
	clear(d.entries[len(kept):])
	d.entries = kept
}
