package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/riskwatch/connectivity"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNew_NotConfigured(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestAppend(t *testing.T) {
	// WHAT: alerts are posted as RAW rows in the documented column order.
	// WHY: operators sort and filter the sheet by these columns.
	var (
		gotPath, gotQuery string
		gotBody           struct {
			Values [][]any `json:"values"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"updates":{}}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "secret", SpreadsheetID: "sheet123", BaseURL: srv.URL, Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	alert := store.Alert{
		Title: "Plant shutdown", Severity: store.Critical, RiskRank: 8, Impact: "Potential critical impact",
		Source: "https://news.example.com", Summary: "text...", Timestamp: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}
	if err := c.Append(context.Background(), []store.Alert{alert}); err != nil {
		t.Fatal(err)
	}

	if gotPath != "/v4/spreadsheets/sheet123/values/Alerts:append" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotQuery != "key=secret&valueInputOption=RAW" {
		t.Fatalf("query = %s", gotQuery)
	}
	if len(gotBody.Values) != 1 || len(gotBody.Values[0]) != 7 {
		t.Fatalf("body = %+v", gotBody)
	}
	row := gotBody.Values[0]
	if row[0] != "2026-10-14T09:00:00Z" || row[1] != "critical" || row[2] != float64(8) || row[3] != "Plant shutdown" {
		t.Fatalf("row = %v", row)
	}
}

func TestAppend_Empty(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()
	c, _ := New(Config{APIKey: "k", SpreadsheetID: "s", BaseURL: srv.URL, Logger: quiet()})
	if err := c.Append(context.Background(), nil); err != nil || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestAppend_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()
	c, _ := New(Config{APIKey: "k", SpreadsheetID: "s", BaseURL: srv.URL, MaxRetries: 2, Logger: quiet()})

	err := c.Append(context.Background(), []store.Alert{{Title: "x", Severity: store.Low}})
	var status *connectivity.ErrHTTPStatus
	if !errors.As(err, &status) || status.StatusCode != http.StatusForbidden {
		t.Fatalf("err = %v", err)
	}
}
