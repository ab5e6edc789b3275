// Package sheets appends alerts as rows to a Google Sheets spreadsheet,
// one row per alert, as an operator-visible backup.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/riskwatch/connectivity"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

// DefaultBaseURL is the Sheets API root.
const DefaultBaseURL = "https://sheets.googleapis.com"

// ErrNotConfigured means the API key or spreadsheet ID is missing.
var ErrNotConfigured = errors.New("sheets: not configured")

// Config holds the backup target.
type Config struct {
	APIKey        string
	SpreadsheetID string
	Sheet         string // default "Alerts"
	BaseURL       string // default DefaultBaseURL
	Timeout       time.Duration
	MaxRetries    int
	Client        *http.Client
	Logger        *slog.Logger
}

// Client appends rows through the values:append endpoint.
type Client struct {
	call connectivity.Handler
}

// New validates cfg and builds the call chain.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.SpreadsheetID == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Sheet == "" {
		cfg.Sheet = "Alerts"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := url.Values{"valueInputOption": {"RAW"}, "key": {cfg.APIKey}}
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:append?%s",
		strings.TrimRight(cfg.BaseURL, "/"), url.PathEscape(cfg.SpreadsheetID),
		url.PathEscape(cfg.Sheet), q.Encode())

	base := connectivity.HTTP(connectivity.HTTPConfig{URL: endpoint, Client: cfg.Client})
	chain := connectivity.Chain(
		connectivity.Logging("sheets", cfg.Logger),
		connectivity.WithRetry(cfg.MaxRetries, 500*time.Millisecond, cfg.Logger),
		connectivity.WithTimeout(cfg.Timeout),
	)
	return &Client{call: chain(base)}, nil
}

// Row is the column layout of one alert:
// timestamp, severity, riskRank, title, impact, source, summary.
func Row(a store.Alert) []any {
	return []any{
		a.Timestamp.UTC().Format(time.RFC3339),
		string(a.Severity),
		a.RiskRank,
		a.Title,
		a.Impact,
		a.Source,
		a.Summary,
	}
}

// Append writes one row per alert. An empty batch is a no-op.
func (c *Client) Append(ctx context.Context, alerts []store.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	rows := make([][]any, len(alerts))
	for i, a := range alerts {
		rows[i] = Row(a)
	}
	body, err := json.Marshal(map[string]any{"values": rows})
	if err != nil {
		return fmt.Errorf("sheets: encode: %w", err)
	}
	if _, err := c.call(ctx, body); err != nil {
		return fmt.Errorf("sheets: append %d rows: %w", len(alerts), err)
	}
	return nil
}
