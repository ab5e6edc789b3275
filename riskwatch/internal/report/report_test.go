package report

import (
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

var now = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func at(sev store.Severity, age time.Duration) store.Alert {
	return store.Alert{ID: string(sev), Title: "t-" + string(sev), Severity: sev, RiskRank: 5, Timestamp: now.Add(-age)}
}

func fixedID() string { return "rpt-1" }

func TestGenerate_DailyWindow(t *testing.T) {
	alerts := []store.Alert{
		at(store.Critical, time.Hour),
		at(store.High, 23*time.Hour),
		at(store.Medium, 24*time.Hour), // exactly at the cutoff: excluded
		at(store.Low, 3*24*time.Hour),
	}
	r := Generate(store.Daily, alerts, now, fixedID)
	if r.TotalRisks != 2 || r.CriticalCount != 1 || r.HighCount != 1 || r.MediumCount != 0 || r.LowCount != 0 {
		t.Fatalf("report = %+v", r)
	}
	if r.ID != "rpt-1" || r.Type != store.Daily || !r.Date.Equal(now) {
		t.Fatalf("header = %+v", r)
	}
}

func TestGenerate_WeeklyWindow(t *testing.T) {
	alerts := []store.Alert{at(store.Low, 3*24*time.Hour), at(store.Low, 8*24*time.Hour)}
	r := Generate(store.Weekly, alerts, now, fixedID)
	if r.TotalRisks != 1 || r.LowCount != 1 {
		t.Fatalf("report = %+v", r)
	}
}

func TestGenerate_TotalEqualsSum(t *testing.T) {
	// WHAT: total equals the sum of the four counters, even with a bad row.
	// WHY: a hand-edited alerts file must not break the report invariant.
	alerts := []store.Alert{
		at(store.Critical, time.Minute), at(store.High, time.Minute), at(store.Medium, time.Minute),
		at(store.Low, time.Minute), at(store.Severity("severe"), time.Minute),
	}
	for _, typ := range []store.ReportType{store.Daily, store.Weekly} {
		r := Generate(typ, alerts, now, fixedID)
		if r.TotalRisks != r.CriticalCount+r.HighCount+r.MediumCount+r.LowCount {
			t.Fatalf("%s: %+v", typ, r)
		}
		if r.TotalRisks != 4 {
			t.Fatalf("%s: total = %d", typ, r.TotalRisks)
		}
	}
}

func TestText(t *testing.T) {
	alerts := []store.Alert{at(store.Low, time.Hour), at(store.Critical, time.Hour)}
	r := Generate(store.Daily, alerts, now, fixedID)
	txt := Text(r, alerts, time.UTC)
	for _, want := range []string{
		"RISK MONITORING REPORT",
		"Report ID: rpt-1",
		"Type: daily",
		"Date: 2024-06-10 09:00:00 UTC",
		"Total Risks: 2",
		"Critical: 1",
		"TOP ALERTS",
	} {
		if !strings.Contains(txt, want) {
			t.Errorf("text missing %q:\n%s", want, txt)
		}
	}
	if strings.Index(txt, "[CRITICAL]") > strings.Index(txt, "[LOW]") {
		t.Error("critical alert not listed first")
	}
	if strings.Contains(Text(r, nil, time.UTC), "TOP ALERTS") {
		t.Error("alert section rendered without alerts")
	}
}
