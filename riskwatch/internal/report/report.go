// Package report rolls alert collections up into daily and weekly counts
// and renders them as downloadable text.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/riskwatch/idgen"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

// Window returns the lookback of a report type: one day for daily, seven
// days for anything else.
func Window(t store.ReportType) time.Duration {
	if t == store.Daily {
		return 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

// InWindow returns the alerts strictly newer than now minus the window of t.
func InWindow(t store.ReportType, alerts []store.Alert, now time.Time) []store.Alert {
	cutoff := now.Add(-Window(t))
	var out []store.Alert
	for _, a := range alerts {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// Generate counts alerts in the window of t ending at now. Alerts with a
// severity outside the four known values are not counted, so TotalRisks
// always equals the sum of the per-severity counts.
func Generate(t store.ReportType, alerts []store.Alert, now time.Time, newID idgen.Generator) store.Report {
	if newID == nil {
		newID = idgen.Report
	}
	r := store.Report{ID: newID(), Type: t, Date: now.UTC()}
	for _, a := range InWindow(t, alerts, now) {
		switch a.Severity {
		case store.Critical:
			r.CriticalCount++
		case store.High:
			r.HighCount++
		case store.Medium:
			r.MediumCount++
		case store.Low:
			r.LowCount++
		default:
			continue
		}
		r.TotalRisks++
	}
	return r
}

// maxListed caps the alert list in Text.
const maxListed = 20

// Text renders r as a plain-text document. alerts, when given, are the
// collection the report was computed from; the most severe ones in the
// report window are listed.
func Text(r store.Report, alerts []store.Alert, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	b.WriteString("RISK MONITORING REPORT\n")
	b.WriteString("======================\n\n")
	fmt.Fprintf(&b, "Report ID: %s\n", r.ID)
	fmt.Fprintf(&b, "Type: %s\n", r.Type)
	fmt.Fprintf(&b, "Date: %s\n\n", r.Date.In(loc).Format("2006-01-02 15:04:05 MST"))
	b.WriteString("SUMMARY\n-------\n")
	fmt.Fprintf(&b, "Total Risks: %d\n", r.TotalRisks)
	fmt.Fprintf(&b, "Critical: %d\n", r.CriticalCount)
	fmt.Fprintf(&b, "High: %d\n", r.HighCount)
	fmt.Fprintf(&b, "Medium: %d\n", r.MediumCount)
	fmt.Fprintf(&b, "Low: %d\n", r.LowCount)

	listed := InWindow(r.Type, alerts, r.Date)
	if len(listed) == 0 {
		return b.String()
	}
	sort.SliceStable(listed, func(i, j int) bool {
		if ri, rj := listed[i].Severity.Rank(), listed[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		return listed[i].RiskRank > listed[j].RiskRank
	})
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	b.WriteString("\nTOP ALERTS\n----------\n")
	for _, a := range listed {
		fmt.Fprintf(&b, "- [%s] (%d/10) %s\n", strings.ToUpper(string(a.Severity)), a.RiskRank, a.Title)
		if a.Source != "" {
			fmt.Fprintf(&b, "  %s\n", a.Source)
		}
	}
	return b.String()
}
