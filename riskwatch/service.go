// Package riskwatch scans news sources for business risks affecting a set of
// industries, stores the resulting alerts, notifies operators of urgent ones
// and rolls them up into reports.
package riskwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/riskwatch/channels"
	"github.com/hazyhaar/riskwatch/idgen"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/archive"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/classify"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/fetch"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/notify"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/report"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/scheduler"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/sheets"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

// State is the scan pipeline phase.
type State string

const (
	StateIdle          State = "idle"
	StateLoadingConfig State = "loading_config"
	StateFetching      State = "fetching"
	StateClassifying   State = "classifying"
	StatePersisting    State = "persisting"
	StateNotifying     State = "notifying"
	StateReporting     State = "reporting"
	StateFailed        State = "failed"
)

// Scan triggers.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// SourceResult summarises one source in a scan.
type SourceResult struct {
	URL      string `json:"url"`
	Articles int    `json:"articles"`
	Alerts   int    `json:"alerts"`
	Rendered bool   `json:"rendered,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ScanResult is returned by a successful scan.
type ScanResult struct {
	RunID      string         `json:"runId"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Alerts     []store.Alert  `json:"alerts"`
	Sources    []SourceResult `json:"sources"`
	Urgent     int            `json:"urgent"`
	Delivered  int            `json:"delivered"`
	Report     *store.Report  `json:"report,omitempty"`
}

// Service wires the scan pipeline to its store, sinks and scheduler.
type Service struct {
	cfg        *Config
	store      *store.Store
	fetcher    *fetch.Fetcher
	browser    *fetch.BrowserLoader
	classifier classify.Classifier
	dispatcher *notify.Dispatcher
	archive    *archive.Archive
	sheets     *sheets.Client
	scheduler  *scheduler.Scheduler
	logger     *slog.Logger
	loc        *time.Location

	now         func() time.Time
	newRunID    idgen.Generator
	newReportID idgen.Generator

	// slot admits one scan at a time; waiting callers queue on it.
	slot chan struct{}

	mu    sync.Mutex
	state State
	last  *ScanResult
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithClassifier replaces the classifier selected from Config.AI.
func WithClassifier(c classify.Classifier) ServiceOption {
	return func(s *Service) { s.classifier = c }
}

// WithFetcher replaces the fetcher built from Config.Fetch.
func WithFetcher(f *fetch.Fetcher) ServiceOption {
	return func(s *Service) { s.fetcher = f }
}

// WithDispatcher replaces the dispatcher built from the channel configs.
func WithDispatcher(d *notify.Dispatcher) ServiceOption {
	return func(s *Service) { s.dispatcher = d }
}

// WithSheets replaces the Sheets backup client.
func WithSheets(c *sheets.Client) ServiceOption {
	return func(s *Service) { s.sheets = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// New opens the data directory and builds every component from cfg.
func New(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.location()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:         cfg,
		store:       st,
		logger:      logger,
		loc:         loc,
		now:         time.Now,
		newRunID:    idgen.Run,
		newReportID: idgen.Report,
		slot:        make(chan struct{}, 1),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.fetcher == nil {
		fc := fetch.Config{
			Timeout:           cfg.Fetch.Timeout,
			UserAgent:         cfg.Fetch.UserAgent,
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
			Logger:            logger,
		}
		if cfg.Fetch.AllowPrivate {
			fc.URLValidator = fetch.ValidateScheme
		}
		if cfg.Fetch.BrowserURL != "" {
			svc.browser = &fetch.BrowserLoader{ControlURL: cfg.Fetch.BrowserURL, Timeout: 2 * cfg.Fetch.Timeout}
			fc.Browser = svc.browser
		}
		svc.fetcher = fetch.New(fc)
	}

	if svc.classifier == nil {
		svc.classifier = classify.New(classify.AIConfig{
			APIKey:            cfg.AI.APIKey,
			BaseURL:           cfg.AI.BaseURL,
			Model:             cfg.AI.Model,
			Temperature:       cfg.AI.Temperature,
			Timeout:           cfg.AI.Timeout,
			MaxRetries:        cfg.AI.MaxRetries,
			RequestsPerMinute: cfg.AI.RequestsPerMinute,
			FallbackBaseURL:   cfg.AI.FallbackBaseURL,
			FallbackAPIKey:    cfg.AI.FallbackAPIKey,
			FallbackModel:     cfg.AI.FallbackModel,
		}, logger)
	}

	if svc.dispatcher == nil {
		d, err := newDispatcher(cfg, logger)
		if err != nil {
			return nil, err
		}
		svc.dispatcher = d
	}

	if svc.sheets == nil {
		sc, err := sheets.New(sheets.Config{
			APIKey:        cfg.Sheets.APIKey,
			SpreadsheetID: cfg.Sheets.SpreadsheetID,
			Sheet:         cfg.Sheets.Sheet,
			BaseURL:       cfg.Sheets.BaseURL,
			Logger:        logger,
		})
		switch {
		case err == nil:
			svc.sheets = sc
		case errors.Is(err, sheets.ErrNotConfigured):
			logger.Info("riskwatch: sheets backup disabled")
		default:
			return nil, err
		}
	}

	if cfg.ArchivePath != "off" {
		a, err := archive.Open(cfg.ArchivePath)
		if err != nil {
			return nil, err
		}
		svc.archive = a
	}

	svc.scheduler = scheduler.New(func(ctx context.Context) error {
		_, err := svc.scan(ctx, TriggerScheduled, false)
		return err
	}, scheduler.Options{Location: loc, Logger: logger})

	return svc, nil
}

// newDispatcher builds one sender per channel with credentials. Channels
// without credentials stay nil and their recipients are skipped.
func newDispatcher(cfg *Config, logger *slog.Logger) (*notify.Dispatcher, error) {
	d := &notify.Dispatcher{Logger: logger}

	email, err := channels.NewEmail(channels.EmailConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		Timeout:  cfg.Email.Timeout,
	})
	switch {
	case err == nil:
		d.Email = email
	case !errors.Is(err, channels.ErrNotConfigured):
		return nil, err
	}

	wa, err := channels.NewWhatsApp(channels.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		From:       cfg.Twilio.From,
		BaseURL:    cfg.Twilio.BaseURL,
	})
	switch {
	case err == nil:
		d.WhatsApp = wa
	case !errors.Is(err, channels.ErrNotConfigured):
		return nil, err
	}

	d.Webhook = channels.NewWebhook(channels.WebhookConfig{Secret: cfg.Webhook.Secret})
	return d, nil
}

// Start arms the scheduler with the saved scan interval (daily when no
// configuration exists yet).
func (s *Service) Start(ctx context.Context) {
	interval := string(scheduler.Daily)
	if c, err := s.store.LoadConfiguration(); err == nil {
		interval = c.ScanInterval
	}
	s.scheduler.Start(ctx, interval)
}

// Close stops the scheduler and releases the archive and browser.
func (s *Service) Close() error {
	s.scheduler.Stop()
	var errs []error
	if s.archive != nil {
		errs = append(errs, s.archive.Close())
	}
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	return errors.Join(errs...)
}

// State returns the current pipeline phase.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastResult returns the most recent successful scan, nil before the first.
func (s *Service) LastResult() *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Scan runs the pipeline once. A scan already running makes the caller
// wait; ErrScanInProgress is returned if ctx ends while waiting. If ctx
// ends during the run, nothing is persisted and ctx's error is returned.
func (s *Service) Scan(ctx context.Context) (*ScanResult, error) {
	return s.scan(ctx, TriggerManual, false)
}

// ManualScan is Scan for request-driven callers: ctx bounds the wait for
// the run slot only. Once started, the run completes even if the caller
// goes away.
func (s *Service) ManualScan(ctx context.Context) (*ScanResult, error) {
	return s.scan(ctx, TriggerManual, true)
}

// TriggerScan runs a manual scan and returns the number of new alerts.
func (s *Service) TriggerScan(ctx context.Context) (int, error) {
	res, err := s.ManualScan(ctx)
	if err != nil {
		return 0, err
	}
	return len(res.Alerts), nil
}

func (s *Service) scan(ctx context.Context, trigger string, detach bool) (*ScanResult, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrScanInProgress, ctx.Err())
	}
	defer func() { <-s.slot }()
	if detach {
		ctx = context.WithoutCancel(ctx)
	}

	res := &ScanResult{RunID: s.newRunID(), Trigger: trigger, StartedAt: s.now()}
	log := s.logger.With("run_id", res.RunID, "trigger", trigger)
	log.InfoContext(ctx, "scan: started")

	if s.archive != nil {
		if err := s.archive.StartRun(ctx, res.RunID, trigger, res.StartedAt); err != nil {
			log.WarnContext(ctx, "scan: archive run log", "error", err)
		}
	}

	err := s.pipeline(ctx, log, res)
	res.FinishedAt = s.now()
	s.recordRun(ctx, log, res, err)

	if err != nil {
		s.setState(StateFailed)
		log.ErrorContext(ctx, "scan: failed", "error", err, "duration", res.FinishedAt.Sub(res.StartedAt))
		return nil, err
	}
	s.mu.Lock()
	s.state = StateIdle
	s.last = res
	s.mu.Unlock()
	log.InfoContext(ctx, "scan: done",
		"new_alerts", len(res.Alerts),
		"urgent", res.Urgent,
		"duration", res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

func (s *Service) recordRun(ctx context.Context, log *slog.Logger, res *ScanResult, runErr error) {
	if s.archive == nil {
		return
	}
	run := archive.Run{
		ID:         res.RunID,
		Status:     archive.RunSucceeded,
		Sources:    len(res.Sources),
		NewAlerts:  len(res.Alerts),
		Urgent:     res.Urgent,
		FinishedAt: &res.FinishedAt,
	}
	for _, sr := range res.Sources {
		if sr.Error != "" {
			run.Failed++
		}
	}
	if runErr != nil {
		run.Status = archive.RunFailed
		run.Error = runErr.Error()
	}
	// The run log is written even when the scan context is already done.
	if err := s.archive.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.WarnContext(ctx, "scan: archive run log", "error", err)
	}
}

func (s *Service) pipeline(ctx context.Context, log *slog.Logger, res *ScanResult) error {
	s.setState(StateLoadingConfig)
	cfg, err := s.store.LoadConfiguration()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigMissing, err)
	}

	s.setState(StateFetching)
	fetched := s.fetchAll(ctx, cfg.Sources)

	s.setState(StateClassifying)
	res.Sources, res.Alerts = s.classifyAll(ctx, log, fetched, cfg)

	// Fetch and classify failures are fail-soft, so a cancelled run looks
	// like an empty one from here on. Stop before anything is written.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan cancelled before persisting: %w", err)
	}

	s.setState(StatePersisting)
	all, err := s.store.AppendAlerts(res.Alerts)
	if err != nil {
		return fmt.Errorf("%w: save alerts: %w", ErrPersistence, err)
	}
	if err := s.store.SetLastScan(s.now()); err != nil {
		return fmt.Errorf("%w: save stats: %w", ErrPersistence, err)
	}
	if s.cfg.Retention > 0 {
		if n, err := s.store.PruneAlerts(s.now().Add(-s.cfg.Retention)); err != nil {
			log.WarnContext(ctx, "scan: prune alerts", "error", err)
		} else if n > 0 {
			log.InfoContext(ctx, "scan: pruned alerts", "removed", n)
			if all, err = s.store.LoadAlerts(); err != nil {
				return fmt.Errorf("%w: reload alerts: %w", ErrPersistence, err)
			}
		}
	}
	s.mirror(ctx, log, res)

	s.setState(StateNotifying)
	urgent := notify.Urgent(res.Alerts)
	res.Urgent = len(urgent)
	if len(urgent) > 0 {
		out := s.dispatcher.Notify(ctx, urgent, notify.Recipients{
			Emails:   cfg.Emails,
			WhatsApp: cfg.WhatsappNumbers,
			Webhooks: cfg.Webhooks,
		})
		res.Delivered = out.Delivered
		if out.Err != nil {
			log.WarnContext(ctx, "scan: some notifications failed",
				"attempted", out.Attempted, "delivered", out.Delivered, "error", out.Err)
		}
	}

	s.setState(StateReporting)
	rep := report.Generate(store.Daily, all, s.now(), s.newReportID)
	if err := s.store.AppendReport(rep); err != nil {
		return fmt.Errorf("%w: save report: %w", ErrPersistence, err)
	}
	res.Report = &rep
	return nil
}

// fetchAll fetches every source with bounded concurrency. Results keep the
// source order.
func (s *Service) fetchAll(ctx context.Context, sources []string) []fetch.Result {
	results := make([]fetch.Result, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Fetch.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			results[i] = s.fetcher.Fetch(gctx, src)
			return nil
		})
	}
	g.Wait()
	return results
}

// classifyAll classifies every fetched article. Alerts keep source order,
// then article order.
func (s *Service) classifyAll(ctx context.Context, log *slog.Logger, fetched []fetch.Result, cfg *store.Configuration) ([]SourceResult, []store.Alert) {
	perSource := make([][]*store.Alert, len(fetched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Fetch.Concurrency)
	for i, fr := range fetched {
		perSource[i] = make([]*store.Alert, len(fr.Articles))
		for j, text := range fr.Articles {
			g.Go(func() error {
				a, err := s.classifier.Classify(gctx, text, cfg.Keywords, cfg.Industries)
				if err != nil {
					log.WarnContext(ctx, "scan: classification failed", "source", fr.URL, "error", err)
					return nil
				}
				perSource[i][j] = a
				return nil
			})
		}
	}
	g.Wait()

	sources := make([]SourceResult, len(fetched))
	var alerts []store.Alert
	for i, fr := range fetched {
		sr := SourceResult{URL: fr.URL, Articles: len(fr.Articles), Rendered: fr.Rendered}
		if fr.Err != nil {
			sr.Error = fr.Err.Error()
		}
		for _, a := range perSource[i] {
			if a == nil {
				continue
			}
			a.Source = fr.URL
			if a.ID == "" {
				a.ID = idgen.Alert()
			}
			alerts = append(alerts, *a)
			sr.Alerts++
		}
		sources[i] = sr
	}
	return sources, alerts
}

// mirror copies new alerts to the archive and the Sheets backup. Failures
// are logged only.
func (s *Service) mirror(ctx context.Context, log *slog.Logger, res *ScanResult) {
	if len(res.Alerts) == 0 {
		return
	}
	if s.archive != nil {
		if _, err := s.archive.Mirror(ctx, res.RunID, res.Alerts); err != nil {
			log.WarnContext(ctx, "scan: archive mirror failed", "error", err)
		}
	}
	if s.sheets != nil {
		if err := s.sheets.Append(ctx, res.Alerts); err != nil {
			log.WarnContext(ctx, "scan: sheets backup failed", "error", err)
		}
	}
}
