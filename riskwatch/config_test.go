package riskwatch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskwatch.yaml")
	os.WriteFile(path, []byte(`
data_dir: /var/lib/riskwatch
timezone: Europe/Paris
retention: 720h
fetch:
  timeout: 15s
  concurrency: 8
ai:
  model: gpt-4o-mini
  requests_per_minute: 30
sheets:
  spreadsheet_id: abc
`), 0o644)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/var/lib/riskwatch" || cfg.Timezone != "Europe/Paris" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Retention != 720*time.Hour || cfg.Fetch.Timeout != 15*time.Second || cfg.Fetch.Concurrency != 8 {
		t.Fatalf("durations = %v %v", cfg.Retention, cfg.Fetch.Timeout)
	}
	if cfg.AI.RequestsPerMinute != 30 || cfg.Sheets.SpreadsheetID != "abc" {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DATA_DIR":          "/data",
		"OPENAI_API_KEY":    "sk-test",
		"EMAIL_PORT":        "465",
		"WEBHOOK_SECRET":    "s3cret",
		"TWILIO_AUTH_TOKEN": "tok",
	}
	cfg := &Config{DataDir: "keep", Email: EmailConfig{Host: "smtp.example.com"}}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.DataDir != "/data" || cfg.AI.APIKey != "sk-test" || cfg.Email.Port != 465 {
		t.Fatalf("cfg = %+v", cfg)
	}
	// WHAT: unset variables leave file values alone.
	if cfg.Email.Host != "smtp.example.com" || cfg.Webhook.Secret != "s3cret" || cfg.Twilio.AuthToken != "tok" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{DataDir: "/d"}
	cfg.defaults()
	if cfg.ArchivePath != filepath.Join("/d", "archive.db") || cfg.Fetch.Concurrency != 4 || cfg.Email.Port != 587 {
		t.Fatalf("cfg = %+v", cfg)
	}
	bad := &Config{Timezone: "Mars/Olympus"}
	if _, err := bad.location(); err == nil {
		t.Fatal("expected unknown timezone error")
	}
}

func TestValidateConfiguration(t *testing.T) {
	cfg := store.Configuration{
		Sources:    []string{" https://example.com/news ", ""},
		Keywords:   []string{"recession", "  "},
		Industries: []string{"Automobile"},
	}
	if err := ValidateConfiguration(&cfg); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0] != "https://example.com/news" || len(cfg.Keywords) != 1 {
		t.Fatalf("not compacted: %+v", cfg)
	}
	// WHAT: a missing interval is stored as daily.
	if cfg.ScanInterval != "daily" {
		t.Fatalf("interval = %q", cfg.ScanInterval)
	}

	cases := []store.Configuration{
		{Keywords: []string{}, Industries: []string{"x"}},
		{Keywords: []string{"x"}, Industries: nil},
		{Keywords: []string{"x"}, Industries: []string{"y"}, ScanInterval: "monthly"},
		{Keywords: []string{"x"}, Industries: []string{"y"}, Sources: []string{"ftp://example.com"}},
		{Keywords: []string{"x"}, Industries: []string{"y"}, Webhooks: []string{"not a url"}},
	}
	for i, c := range cases {
		if err := ValidateConfiguration(&c); !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("case %d: err = %v", i, err)
		}
	}
}

func TestDefaultConfiguration_Valid(t *testing.T) {
	cfg := DefaultConfiguration()
	if err := ValidateConfiguration(&cfg); err != nil {
		t.Fatal(err)
	}
}
