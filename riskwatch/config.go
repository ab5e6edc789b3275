package riskwatch

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/riskwatch/riskwatch/internal/scheduler"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

// Config is the process configuration: where data lives and how to reach
// the remote backends. Operator-editable scan settings live in
// store.Configuration instead.
type Config struct {
	DataDir string `yaml:"data_dir"`
	// ArchivePath is the SQLite mirror. "off" disables it.
	ArchivePath string `yaml:"archive_path"`
	// Timezone anchors schedule cadences and report dates. Default local.
	Timezone string `yaml:"timezone"`
	// Retention prunes alerts older than this after every scan. Zero keeps
	// everything.
	Retention time.Duration `yaml:"retention"`

	Fetch   FetchConfig   `yaml:"fetch"`
	AI      AIConfig      `yaml:"ai"`
	Email   EmailConfig   `yaml:"email"`
	Twilio  TwilioConfig  `yaml:"twilio"`
	Webhook WebhookConfig `yaml:"webhook"`
	Sheets  SheetsConfig  `yaml:"sheets"`
}

// FetchConfig controls source retrieval.
type FetchConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"user_agent"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	// BrowserURL is a remote Chrome DevTools endpoint used for pages whose
	// articles only appear after scripts run. Optional.
	BrowserURL string `yaml:"browser_url"`
	// AllowPrivate lets sources resolve to loopback and private networks.
	AllowPrivate bool `yaml:"allow_private"`
}

// AIConfig selects the LLM classifier. Without an API key the rule-based
// classifier is used.
type AIConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerMinute float64       `yaml:"requests_per_minute"`
	FallbackBaseURL   string        `yaml:"fallback_base_url"`
	FallbackAPIKey    string        `yaml:"fallback_api_key"`
	FallbackModel     string        `yaml:"fallback_model"`
}

type EmailConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	BaseURL    string `yaml:"base_url"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

type SheetsConfig struct {
	APIKey        string `yaml:"api_key"`
	SpreadsheetID string `yaml:"spreadsheet_id"`
	Sheet         string `yaml:"sheet"`
	BaseURL       string `yaml:"base_url"`
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.ArchivePath == "" {
		c.ArchivePath = filepath.Join(c.DataDir, "archive.db")
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 10 * time.Second
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = 4
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
}

// location resolves Timezone, falling back to time.Local.
func (c *Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("riskwatch: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("riskwatch: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. Empty values
// leave the field unchanged.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("ARCHIVE_PATH", &c.ArchivePath)
	str("TZ_NAME", &c.Timezone)
	str("BROWSER_URL", &c.Fetch.BrowserURL)

	str("OPENAI_API_KEY", &c.AI.APIKey)
	str("OPENAI_BASE_URL", &c.AI.BaseURL)
	str("OPENAI_MODEL", &c.AI.Model)

	str("EMAIL_HOST", &c.Email.Host)
	str("EMAIL_USER", &c.Email.Username)
	str("EMAIL_PASSWORD", &c.Email.Password)
	str("EMAIL_FROM", &c.Email.From)
	if v := getenv("EMAIL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Email.Port = p
		}
	}

	str("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	str("TWILIO_WHATSAPP_FROM", &c.Twilio.From)

	str("WEBHOOK_SECRET", &c.Webhook.Secret)

	str("GOOGLE_SHEETS_API_KEY", &c.Sheets.APIKey)
	str("GOOGLE_SHEETS_SPREADSHEET_ID", &c.Sheets.SpreadsheetID)
}

// DefaultConfiguration is shown to operators before any configuration has
// been saved. Scans still require a saved configuration.
func DefaultConfiguration() store.Configuration {
	return store.Configuration{
		Sources: []string{
			"https://www.reuters.com/business/autos-transportation/",
			"https://www.bbc.com/news/business",
			"https://www.cnbc.com/automotive/",
			"https://www.ft.com/companies/automobiles",
		},
		Keywords: []string{
			"geopolitical", "economic downturn", "supply chain", "recession",
			"trade war", "sanctions", "inflation", "semiconductor shortage",
			"oil prices", "regulatory changes",
		},
		Industries:      []string{"Automobile"},
		Emails:          []string{},
		WhatsappNumbers: []string{},
		ScanInterval:    string(scheduler.Daily),
	}
}

// ValidateConfiguration checks an operator configuration before it is
// saved. Blank entries are dropped in place.
func ValidateConfiguration(cfg *store.Configuration) error {
	cfg.Sources = compact(cfg.Sources)
	cfg.Keywords = compact(cfg.Keywords)
	cfg.Industries = compact(cfg.Industries)
	cfg.Emails = compact(cfg.Emails)
	cfg.WhatsappNumbers = compact(cfg.WhatsappNumbers)
	cfg.Webhooks = compact(cfg.Webhooks)

	var problems []string
	if len(cfg.Keywords) == 0 {
		problems = append(problems, "keywords must not be empty")
	}
	if len(cfg.Industries) == 0 {
		problems = append(problems, "industries must not be empty")
	}
	if cfg.ScanInterval == "" {
		cfg.ScanInterval = string(scheduler.Daily)
	}
	if !scheduler.Valid(cfg.ScanInterval) {
		problems = append(problems, fmt.Sprintf("scanInterval %q is not one of hourly, every6hours, daily, weekly", cfg.ScanInterval))
	}
	for _, s := range cfg.Sources {
		if !httpURL(s) {
			problems = append(problems, fmt.Sprintf("source %q is not an http(s) URL", s))
		}
	}
	for _, s := range cfg.Webhooks {
		if !httpURL(s) {
			problems = append(problems, fmt.Sprintf("webhook %q is not an http(s) URL", s))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func httpURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
