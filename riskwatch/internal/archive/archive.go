// Package archive mirrors alerts into SQLite for full-text search and keeps
// a log of scan runs. The JSON documents in the store stay authoritative;
// the archive is a queryable copy.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/riskwatch/dbopen"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Archive wraps the mirror database.
type Archive struct {
	DB *sql.DB
}

// Open opens (or creates) the archive database at path.
func Open(path string) (*Archive, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return &Archive{DB: db}, nil
}

// New wraps an already opened database with Schema applied.
func New(db *sql.DB) *Archive { return &Archive{DB: db} }

// Close closes the database.
func (a *Archive) Close() error { return a.DB.Close() }

// Mirror inserts alerts not already present. Returns the number inserted.
func (a *Archive) Mirror(ctx context.Context, runID string, alerts []store.Alert) (int, error) {
	inserted := 0
	err := dbopen.RunTx(ctx, a.DB, func(tx *sql.Tx) error {
		inserted = 0
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO alerts (id, title, severity, risk_rank, impact, source, summary, detected_at, run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, al := range alerts {
			res, err := stmt.ExecContext(ctx, al.ID, al.Title, string(al.Severity), al.RiskRank,
				al.Impact, al.Source, al.Summary, al.Timestamp.UnixMilli(), runID)
			if err != nil {
				return fmt.Errorf("insert alert %s: %w", al.ID, err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("archive: mirror: %w", err)
	}
	return inserted, nil
}

// Search runs a full-text query over title, impact and summary, best match
// first. Every whitespace-separated term must match; FTS5 operators in the
// input are treated as literal text.
func (a *Archive) Search(ctx context.Context, query string, limit int) ([]store.Alert, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.DB.QueryContext(ctx,
		`SELECT a.id, a.title, a.severity, a.risk_rank, a.impact, a.source, a.summary, a.detected_at
		FROM alerts_fts f
		JOIN alerts a ON a.rowid = f.rowid
		WHERE alerts_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}
	defer rows.Close()

	var out []store.Alert
	for rows.Next() {
		var (
			al  store.Alert
			sev string
			ms  int64
		)
		if err := rows.Scan(&al.ID, &al.Title, &sev, &al.RiskRank, &al.Impact, &al.Source, &al.Summary, &ms); err != nil {
			return nil, fmt.Errorf("archive: scan search result: %w", err)
		}
		al.Severity = store.Severity(sev)
		al.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, al)
	}
	return out, rows.Err()
}

// ftsQuery quotes each term so punctuation like "supply-chain" cannot be
// parsed as FTS5 syntax.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}

// Count returns the number of mirrored alerts.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n)
	return n, err
}
