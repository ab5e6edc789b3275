package riskwatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
	"github.com/hazyhaar/riskwatch/shield"
)

func serve(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.svc.Handler(shield.APIStack(shield.Options{Logger: quiet()})...))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestAPI_ConfigRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	srv := serve(t, f)

	// WHAT: GET before any save returns the defaults.
	resp, err := http.Get(srv.URL + "/api/config")
	if err != nil {
		t.Fatal(err)
	}
	var cfg store.Configuration
	decode(t, resp, &cfg)
	if len(cfg.Keywords) != 10 || cfg.ScanInterval != "daily" {
		t.Fatalf("defaults = %+v", cfg)
	}

	// WHAT: empty keyword list is rejected with 400.
	resp = post(t, srv.URL+"/api/config", `{"sources":[],"keywords":[],"industries":["Automobile"]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid config status = %d", resp.StatusCode)
	}

	resp = post(t, srv.URL+"/api/config", `{"sources":[],"keywords":["strike"],"industries":["Rail"],"scanInterval":"every6hours"}`)
	var out struct {
		Success bool                `json:"success"`
		Config  store.Configuration `json:"config"`
	}
	decode(t, resp, &out)
	if resp.StatusCode != http.StatusOK || !out.Success || out.Config.Keywords[0] != "strike" {
		t.Fatalf("status=%d out=%+v", resp.StatusCode, out)
	}
	if f.svc.scheduler.Interval() != "every6hours" {
		t.Fatalf("interval = %s", f.svc.scheduler.Interval())
	}
}

func TestAPI_ScanWithoutConfiguration(t *testing.T) {
	f := newFixture(t, nil)
	srv := serve(t, f)

	resp := post(t, srv.URL+"/api/scan", "")
	var out map[string]any
	decode(t, resp, &out)
	if resp.StatusCode != http.StatusConflict || out["success"] != false {
		t.Fatalf("status=%d out=%v", resp.StatusCode, out)
	}
}

func TestAPI_ScanAndList(t *testing.T) {
	src := newsServer(t, riskyText)
	f := newFixture(t, nil)
	f.configure(t, store.Configuration{Sources: []string{src.URL}})
	srv := serve(t, f)

	resp := post(t, srv.URL+"/api/scan", "")
	var scan struct {
		Success   bool   `json:"success"`
		RunID     string `json:"runId"`
		NewAlerts int    `json:"newAlerts"`
	}
	decode(t, resp, &scan)
	if !scan.Success || scan.NewAlerts != 1 || !strings.HasPrefix(scan.RunID, "run_") {
		t.Fatalf("scan = %+v", scan)
	}

	resp, _ = http.Get(srv.URL + "/api/alerts?limit=5")
	var alerts []store.Alert
	decode(t, resp, &alerts)
	if len(alerts) != 1 || alerts[0].Source != src.URL {
		t.Fatalf("alerts = %+v", alerts)
	}

	resp, _ = http.Get(srv.URL + "/api/stats")
	var st Stats
	decode(t, resp, &st)
	if st.TotalAlerts != 1 || st.CriticalAlerts != 1 || st.LastScan == "Never" {
		t.Fatalf("stats = %+v", st)
	}

	resp, _ = http.Get(srv.URL + "/api/alerts/search?q=recession")
	var found []store.Alert
	decode(t, resp, &found)
	if len(found) != 1 {
		t.Fatalf("search = %+v", found)
	}

	resp, _ = http.Get(srv.URL + "/api/runs")
	var runs []map[string]any
	decode(t, resp, &runs)
	if len(runs) != 1 {
		t.Fatalf("runs = %v", runs)
	}
}

func TestAPI_SearchRequiresQuery(t *testing.T) {
	srv := serve(t, newFixture(t, nil))
	resp, err := http.Get(srv.URL + "/api/alerts/search")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAPI_SearchWithoutArchive(t *testing.T) {
	srv := serve(t, newFixture(t, func(c *Config) { c.ArchivePath = "off" }))
	resp, err := http.Get(srv.URL + "/api/alerts/search?q=x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAPI_Reports(t *testing.T) {
	f := newFixture(t, nil)
	srv := serve(t, f)

	// WHAT: POST with no body generates a daily report.
	resp := post(t, srv.URL+"/api/reports", "")
	var rep store.Report
	decode(t, resp, &rep)
	if resp.StatusCode != http.StatusCreated || rep.Type != store.Daily {
		t.Fatalf("status=%d rep=%+v", resp.StatusCode, rep)
	}

	resp = post(t, srv.URL+"/api/reports", `{"type":"monthly"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid type status = %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/api/reports/" + rep.ID + "/download")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="risk-report-`+rep.ID+`.txt"` {
		t.Fatalf("Content-Disposition = %q", cd)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	resp2, _ := http.Get(srv.URL + "/api/reports/rpt_missing/download")
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("missing report status = %d", resp2.StatusCode)
	}

	resp3, _ := http.Get(srv.URL + "/api/reports")
	var list []store.Report
	decode(t, resp3, &list)
	if len(list) != 1 || list[0].ID != rep.ID {
		t.Fatalf("list = %+v", list)
	}
}

func TestAPI_SecurityHeadersApplied(t *testing.T) {
	srv := serve(t, newFixture(t, nil))
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" || resp.Header.Get("X-Trace-ID") == "" {
		t.Fatalf("headers = %v", resp.Header)
	}
}

func mcpSession(t *testing.T, f *fixture) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	srv := f.svc.MCPServer()
	go func() { _ = srv.Run(ctx, serverT) }()
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "riskwatch-test", Version: "0.1.0"}, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestMCP_Tools(t *testing.T) {
	f := newFixture(t, nil)
	cs := mcpSession(t, f)
	ctx := context.Background()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools.Tools) != 5 {
		t.Fatalf("tools = %d", len(tools.Tools))
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "riskwatch_stats", Arguments: map[string]any{}})
	if err != nil || res.IsError {
		t.Fatalf("stats: %v %+v", err, res)
	}
	var st Stats
	json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &st)
	if st.LastScan != "Never" {
		t.Fatalf("stats = %+v", st)
	}

	// WHAT: a scan without configuration is a tool error, not a transport error.
	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "riskwatch_trigger_scan", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected tool error")
	}

	f.svc.store.AppendAlerts([]store.Alert{{ID: "a1", Title: "t", Severity: store.High}})
	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "riskwatch_list_alerts", Arguments: map[string]any{"limit": 1}})
	if err != nil || res.IsError {
		t.Fatalf("list: %v %+v", err, res)
	}
	var alerts []store.Alert
	json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &alerts)
	if len(alerts) != 1 || alerts[0].ID != "a1" {
		t.Fatalf("alerts = %+v", alerts)
	}
}
