package archive

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/riskwatch/dbopen"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

func setup(t *testing.T) *Archive {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

var sample = []store.Alert{
	{ID: "a1", Title: "Risk Alert: shutdown affecting Automobile", Severity: store.Critical, RiskRank: 7,
		Impact: "Potential critical impact on Automobile industry", Source: "https://news.example.com",
		Summary: "Assembly plant shutdown after supply-chain collapse.", Timestamp: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)},
	{ID: "a2", Title: "Risk Alert: sanctions affecting Energy", Severity: store.High, RiskRank: 4,
		Impact: "Potential high impact on Energy industry", Source: "https://wire.example.com",
		Summary: "New sanctions on exports.", Timestamp: time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)},
}

func TestMirrorAndSearch(t *testing.T) {
	// WHAT: mirrored alerts are findable by full text.
	// WHY: the JSON store has no search; the archive provides it.
	a := setup(t)
	ctx := context.Background()

	n, err := a.Mirror(ctx, "run_1", sample)
	if err != nil || n != 2 {
		t.Fatalf("mirror: n=%d err=%v", n, err)
	}

	got, err := a.Search(ctx, "sanctions", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a2" || got[0].Severity != store.High {
		t.Fatalf("search = %+v", got)
	}
	if !got[0].Timestamp.Equal(sample[1].Timestamp) {
		t.Fatalf("timestamp = %s", got[0].Timestamp)
	}
}

func TestMirror_Idempotent(t *testing.T) {
	a := setup(t)
	ctx := context.Background()
	a.Mirror(ctx, "run_1", sample)
	n, err := a.Mirror(ctx, "run_2", sample)
	if err != nil || n != 0 {
		t.Fatalf("second mirror: n=%d err=%v", n, err)
	}
	if c, _ := a.Count(ctx); c != 2 {
		t.Fatalf("count = %d", c)
	}
}

func TestSearch_PunctuationIsLiteral(t *testing.T) {
	// WHAT: hyphens and quotes in a query do not raise FTS5 syntax errors.
	a := setup(t)
	ctx := context.Background()
	a.Mirror(ctx, "run_1", sample)

	got, err := a.Search(ctx, `supply-chain "collapse`, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("search = %+v", got)
	}
	if got, _ := a.Search(ctx, "   ", 10); got != nil {
		t.Fatalf("blank query = %+v", got)
	}
}

func TestRuns(t *testing.T) {
	a := setup(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	if err := a.StartRun(ctx, "run_1", "manual", start); err != nil {
		t.Fatal(err)
	}
	runs, _ := a.Runs(ctx, 0)
	if len(runs) != 1 || runs[0].Status != RunRunning || runs[0].FinishedAt != nil {
		t.Fatalf("runs = %+v", runs)
	}

	end := start.Add(3 * time.Second)
	err := a.FinishRun(ctx, Run{ID: "run_1", Status: RunSucceeded, Sources: 4, Failed: 1, NewAlerts: 2, Urgent: 1, FinishedAt: &end})
	if err != nil {
		t.Fatal(err)
	}
	runs, _ = a.Runs(ctx, 0)
	r := runs[0]
	if r.Status != RunSucceeded || r.Sources != 4 || r.Failed != 1 || r.NewAlerts != 2 || r.FinishedAt == nil || !r.FinishedAt.Equal(end) {
		t.Fatalf("run = %+v", r)
	}

	if err := a.FinishRun(ctx, Run{ID: "missing", Status: RunFailed}); err == nil {
		t.Fatal("finishing an unknown run should fail")
	}
}
