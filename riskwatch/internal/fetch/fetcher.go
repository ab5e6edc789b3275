// Package fetch retrieves news source pages and extracts candidate article
// texts from them.
//
// Fetching is fail-soft: a source that cannot be reached, answers with an
// error status or yields unparseable markup produces an empty Result with
// Err set, never a panic or an aborted scan.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/riskwatch/extract"
)

// DefaultUserAgent is a desktop browser identity; several news sites reject
// script-like clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Config configures the fetcher.
type Config struct {
	Timeout     time.Duration // per request, default 10s
	UserAgent   string
	MaxBytes    int64 // response cap, default 10 MiB
	MaxArticles int   // default 10
	MinLength   int   // characters, default 100
	MaxLength   int   // characters, default 1000
	// RequestsPerSecond paces outgoing requests across all sources.
	// Zero means unpaced.
	RequestsPerSecond float64
	// URLValidator runs on the source URL and every redirect target.
	// Default ValidatePublicURL.
	URLValidator func(string) error
	// Browser renders the page when the plain HTTP body yields no
	// candidates. Optional.
	Browser Loader
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxArticles <= 0 {
		c.MaxArticles = 10
	}
	if c.MinLength <= 0 {
		c.MinLength = 100
	}
	if c.MaxLength <= 0 {
		c.MaxLength = 1000
	}
	if c.URLValidator == nil {
		c.URLValidator = ValidatePublicURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result is the outcome of fetching one source.
type Result struct {
	URL        string
	Articles   []string
	StatusCode int
	Rendered   bool // articles came from the browser loader
	Duration   time.Duration
	Err        error
}

// Fetcher fetches sources. It is safe for concurrent use.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a Fetcher whose client re-validates every redirect target.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Fetch retrieves sourceURL and returns at most MaxArticles candidate texts.
// Failures are logged and reported in Result.Err with no articles.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) Result {
	start := time.Now()
	res := f.fetch(ctx, sourceURL)
	res.URL = sourceURL
	res.Duration = time.Since(start)

	log := f.cfg.Logger.With("source", sourceURL)
	if res.Err != nil {
		log.WarnContext(ctx, "fetch: source failed", "status", res.StatusCode, "error", res.Err)
		res.Articles = nil
		return res
	}
	log.DebugContext(ctx, "fetch: source ok",
		"articles", len(res.Articles),
		"rendered", res.Rendered,
		"duration_ms", res.Duration.Milliseconds())
	return res
}

func (f *Fetcher) fetch(ctx context.Context, sourceURL string) Result {
	if err := f.cfg.URLValidator(sourceURL); err != nil {
		return Result{Err: err}
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return Result{Err: err}
	}

	body, status, err := f.get(ctx, sourceURL)
	if err != nil {
		return Result{StatusCode: status, Err: err}
	}
	articles, err := f.extract(body)
	if err != nil {
		return Result{StatusCode: status, Err: err}
	}
	if len(articles) > 0 || f.cfg.Browser == nil {
		return Result{StatusCode: status, Articles: articles}
	}

	rendered, err := f.cfg.Browser.Load(ctx, sourceURL)
	if err != nil {
		// The HTTP path succeeded; an empty page is a valid outcome.
		f.cfg.Logger.WarnContext(ctx, "fetch: browser render failed", "source", sourceURL, "error", err)
		return Result{StatusCode: status}
	}
	articles, err = f.extract(rendered)
	if err != nil {
		return Result{StatusCode: status, Err: err}
	}
	return Result{StatusCode: status, Articles: articles, Rendered: len(articles) > 0}
}

func (f *Fetcher) get(ctx context.Context, sourceURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) extract(body []byte) ([]string, error) {
	return extract.Articles(body, extract.Options{
		MinLength: f.cfg.MinLength,
		MaxLength: f.cfg.MaxLength,
		Limit:     f.cfg.MaxArticles,
	})
}
