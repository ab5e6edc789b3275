package riskwatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/riskwatch/riskwatch/internal/archive"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/report"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/scheduler"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

// DefaultAlertLimit caps ListAlerts when no limit is given.
const DefaultAlertLimit = 50

// ErrInvalidReportType is returned for report types other than daily and
// weekly.
var ErrInvalidReportType = errors.New("riskwatch: report type must be daily or weekly")

// ErrNotFound is returned when a report id does not exist.
var ErrNotFound = store.ErrNotFound

// Stats is the dashboard summary.
type Stats struct {
	TotalAlerts    int        `json:"totalAlerts"`
	CriticalAlerts int        `json:"criticalAlerts"`
	HighRiskAlerts int        `json:"highRiskAlerts"`
	LastScan       string     `json:"lastScan"` // "Never" before the first scan
	LastScanAt     *time.Time `json:"lastScanAt,omitempty"`
	State          State      `json:"state"`
	Interval       string     `json:"scanInterval"`
	NextScan       *time.Time `json:"nextScan,omitempty"`
}

// ListAlerts returns the newest alerts first, at most limit of them
// (DefaultAlertLimit when limit <= 0).
func (s *Service) ListAlerts(limit int) ([]store.Alert, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	alerts, err := s.store.RecentAlerts(limit)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []store.Alert{}
	}
	return alerts, nil
}

// SearchAlerts runs a full-text query against the archive.
func (s *Service) SearchAlerts(ctx context.Context, query string, limit int) ([]store.Alert, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	alerts, err := s.archive.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []store.Alert{}
	}
	return alerts, nil
}

// Runs lists recent scan runs from the archive log.
func (s *Service) Runs(ctx context.Context, limit int) ([]archive.Run, error) {
	if s.archive == nil {
		return nil, ErrNoArchive
	}
	return s.archive.Runs(ctx, limit)
}

// ListReports returns reports, newest first.
func (s *Service) ListReports() ([]store.Report, error) {
	reports, err := s.store.ReportsByDate()
	if err != nil {
		return nil, err
	}
	if reports == nil {
		reports = []store.Report{}
	}
	return reports, nil
}

// GenerateReport computes a report over all stored alerts and saves it.
func (s *Service) GenerateReport(t store.ReportType) (*store.Report, error) {
	if t != store.Daily && t != store.Weekly {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReportType, t)
	}
	alerts, err := s.store.LoadAlerts()
	if err != nil {
		return nil, err
	}
	rep := report.Generate(t, alerts, s.now(), s.newReportID)
	if err := s.store.AppendReport(rep); err != nil {
		return nil, fmt.Errorf("%w: save report: %w", ErrPersistence, err)
	}
	return &rep, nil
}

// ReportText renders a stored report as a plain-text document.
func (s *Service) ReportText(id string) (*store.Report, string, error) {
	rep, err := s.store.GetReport(id)
	if err != nil {
		return nil, "", err
	}
	alerts, err := s.store.LoadAlerts()
	if err != nil {
		return nil, "", err
	}
	return rep, report.Text(*rep, alerts, s.loc), nil
}

// LastScan returns the time of the last completed persist, nil if none.
func (s *Service) LastScan() (*time.Time, error) {
	st, err := s.store.LoadStats()
	if err != nil {
		return nil, err
	}
	return st.LastScan, nil
}

// Stats counts stored alerts and reports scan bookkeeping.
func (s *Service) Stats() (*Stats, error) {
	alerts, err := s.store.LoadAlerts()
	if err != nil {
		return nil, err
	}
	last, err := s.LastScan()
	if err != nil {
		return nil, err
	}
	out := &Stats{
		TotalAlerts: len(alerts),
		LastScan:    "Never",
		LastScanAt:  last,
		State:       s.State(),
		Interval:    string(s.scheduler.Interval()),
	}
	for _, a := range alerts {
		switch a.Severity {
		case store.Critical:
			out.CriticalAlerts++
		case store.High:
			out.HighRiskAlerts++
		}
	}
	if last != nil {
		out.LastScan = last.In(s.loc).Format("2006-01-02 15:04:05 MST")
	}
	if next := s.scheduler.NextRun(); !next.IsZero() {
		out.NextScan = &next
	}
	return out, nil
}

// Configuration returns the saved operator configuration, or
// DefaultConfiguration with saved=false when none exists.
func (s *Service) Configuration() (cfg store.Configuration, saved bool, err error) {
	c, err := s.store.LoadConfiguration()
	if errors.Is(err, store.ErrAbsent) {
		return DefaultConfiguration(), false, nil
	}
	if err != nil {
		return store.Configuration{}, false, err
	}
	return *c, true, nil
}

// UpdateConfiguration validates and saves cfg, then applies its scan
// interval to the scheduler.
func (s *Service) UpdateConfiguration(cfg store.Configuration) (*store.Configuration, error) {
	if err := ValidateConfiguration(&cfg); err != nil {
		return nil, err
	}
	if err := s.store.SaveConfiguration(&cfg); err != nil {
		return nil, fmt.Errorf("%w: save configuration: %w", ErrPersistence, err)
	}
	s.scheduler.Reconfigure(cfg.ScanInterval)
	s.logger.Info("riskwatch: configuration updated",
		"sources", len(cfg.Sources), "keywords", len(cfg.Keywords), "interval", cfg.ScanInterval)
	return &cfg, nil
}

// ReloadConfiguration re-reads the configuration file after an external
// edit and applies its scan interval.
func (s *Service) ReloadConfiguration() error {
	c, err := s.store.LoadConfiguration()
	if err != nil {
		return err
	}
	if !scheduler.Valid(c.ScanInterval) {
		s.logger.Warn("riskwatch: reloaded configuration has an unknown interval", "interval", c.ScanInterval)
	}
	s.scheduler.Reconfigure(c.ScanInterval)
	return nil
}

// ConfigPath is the configuration document watched for external edits.
func (s *Service) ConfigPath() string { return s.store.Path(store.ConfigFile) }
