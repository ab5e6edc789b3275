// Package store persists alerts, reports, scan stats and the operator
// configuration as JSON documents in one directory.
//
// Every write replaces its file atomically (temp file, fsync, rename), so a
// reader sees either the previous or the new document. Read-modify-write
// sequences are serialized by a per-Store mutex; one Store must own the
// directory.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Document file names under the store directory.
const (
	AlertsFile  = "alerts.json"
	ReportsFile = "reports.json"
	StatsFile   = "stats.json"
	ConfigFile  = "config.json"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAbsent is returned by LoadConfiguration when no configuration exists.
	ErrAbsent = errors.New("store: document absent")
)

// CorruptError reports a document that exists but cannot be decoded.
type CorruptError struct {
	File string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("store: %s is corrupt: %v", e.File, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store is a directory of JSON documents.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates dir if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the full path of a document file.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// --- alerts ---

// LoadAlerts returns the persisted alerts in stored order (newest batch
// first). An absent or empty file yields an empty slice.
func (s *Store) LoadAlerts() ([]Alert, error) {
	var alerts []Alert
	if _, err := s.read(AlertsFile, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// AppendAlerts prepends batch to the stored alerts and returns the resulting
// collection.
func (s *Store) AppendAlerts(batch []Alert) ([]Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.LoadAlerts()
	if err != nil {
		return nil, err
	}
	all := make([]Alert, 0, len(batch)+len(existing))
	all = append(all, batch...)
	all = append(all, existing...)
	if err := s.write(AlertsFile, all); err != nil {
		return nil, err
	}
	return all, nil
}

// RecentAlerts returns alerts sorted by timestamp, newest first, capped at
// n. n <= 0 returns all of them.
func (s *Store) RecentAlerts(n int) ([]Alert, error) {
	alerts, err := s.LoadAlerts()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	if n > 0 && len(alerts) > n {
		alerts = alerts[:n]
	}
	return alerts, nil
}

// PruneAlerts drops alerts with a timestamp before cutoff and returns how
// many were removed.
func (s *Store) PruneAlerts(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alerts, err := s.LoadAlerts()
	if err != nil {
		return 0, err
	}
	kept := alerts[:0:0]
	for _, a := range alerts {
		if !a.Timestamp.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	removed := len(alerts) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.write(AlertsFile, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// --- reports ---

// LoadReports returns reports in append order.
func (s *Store) LoadReports() ([]Report, error) {
	var reports []Report
	if _, err := s.read(ReportsFile, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// AppendReport adds r at the end of the report collection.
func (s *Store) AppendReport(r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.LoadReports()
	if err != nil {
		return err
	}
	return s.write(ReportsFile, append(reports, r))
}

// ReportsByDate returns reports newest first.
func (s *Store) ReportsByDate() ([]Report, error) {
	reports, err := s.LoadReports()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Date.After(reports[j].Date)
	})
	return reports, nil
}

// GetReport returns the report with id or ErrNotFound.
func (s *Store) GetReport(id string) (*Report, error) {
	reports, err := s.LoadReports()
	if err != nil {
		return nil, err
	}
	for i := range reports {
		if reports[i].ID == id {
			return &reports[i], nil
		}
	}
	return nil, ErrNotFound
}

// --- stats ---

// LoadStats returns zero Stats when none were saved.
func (s *Store) LoadStats() (Stats, error) {
	var st Stats
	if _, err := s.read(StatsFile, &st); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// SetLastScan records t as the last scan instant.
func (s *Store) SetLastScan(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.LoadStats()
	if err != nil {
		// A damaged stats file only loses the previous timestamp.
		st = Stats{}
	}
	t = t.UTC()
	st.LastScan = &t
	return s.write(StatsFile, st)
}

// --- configuration ---

// LoadConfiguration returns ErrAbsent when no configuration was saved and a
// *CorruptError when it cannot be decoded.
func (s *Store) LoadConfiguration() (*Configuration, error) {
	var cfg Configuration
	ok, err := s.read(ConfigFile, &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAbsent
	}
	return &cfg, nil
}

// SaveConfiguration replaces the configuration document.
func (s *Store) SaveConfiguration(cfg *Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ConfigFile, cfg)
}

// --- files ---

// read decodes name into v. ok is false when the file is absent or blank.
func (s *Store) read(name string, v any) (ok bool, err error) {
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: read %s: %w", name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &CorruptError{File: name, Err: err}
	}
	return true, nil
}

// write replaces name with the indented JSON encoding of v.
func (s *Store) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: temp for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("store: chmod %s: %w", name, err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(name)); err != nil {
		return fmt.Errorf("store: replace %s: %w", name, err)
	}
	return nil
}
