package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/riskwatch/dbopen"
)

// Run is one scan-run log entry.
type Run struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	Sources    int        `json:"sources"`
	Failed     int        `json:"failed"`
	NewAlerts  int        `json:"newAlerts"`
	Urgent     int        `json:"urgent"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// StartRun records a run in the running state.
func (a *Archive) StartRun(ctx context.Context, id, trigger string, at time.Time) error {
	_, err := dbopen.Exec(ctx, a.DB,
		`INSERT INTO scan_runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		id, trigger, RunRunning, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("archive: start run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and status of r.
func (a *Archive) FinishRun(ctx context.Context, r Run) error {
	finished := time.Now()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	res, err := dbopen.Exec(ctx, a.DB,
		`UPDATE scan_runs SET status = ?, sources = ?, failed = ?, new_alerts = ?, urgent = ?,
		error_message = ?, finished_at = ? WHERE id = ?`,
		r.Status, r.Sources, r.Failed, r.NewAlerts, r.Urgent, r.Error, finished.UnixMilli(), r.ID)
	if err != nil {
		return fmt.Errorf("archive: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("archive: finish run %s: not started", r.ID)
	}
	return nil
}

// Runs returns the latest runs, newest first.
func (a *Archive) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.DB.QueryContext(ctx,
		`SELECT id, kind, status, sources, failed, new_alerts, urgent, error_message, started_at, finished_at
		FROM scan_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.Sources, &r.Failed, &r.NewAlerts,
			&r.Urgent, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("archive: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
