package archive

// Schema holds the alert mirror, its FTS5 index and the scan-run log.
const Schema = `
CREATE TABLE IF NOT EXISTS alerts (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    severity    TEXT NOT NULL,
    risk_rank   INTEGER NOT NULL,
    impact      TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT '',
    summary     TEXT NOT NULL DEFAULT '',
    detected_at INTEGER NOT NULL,
    run_id      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity, detected_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS alerts_fts USING fts5(
    title, impact, summary, content='alerts', content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS alerts_ai AFTER INSERT ON alerts BEGIN
    INSERT INTO alerts_fts(rowid, title, impact, summary) VALUES (new.rowid, new.title, new.impact, new.summary);
END;
CREATE TRIGGER IF NOT EXISTS alerts_ad AFTER DELETE ON alerts BEGIN
    INSERT INTO alerts_fts(alerts_fts, rowid, title, impact, summary) VALUES('delete', old.rowid, old.title, old.impact, old.summary);
END;

CREATE TABLE IF NOT EXISTS scan_runs (
    id            TEXT PRIMARY KEY,
    kind          TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    sources       INTEGER NOT NULL DEFAULT 0,
    failed        INTEGER NOT NULL DEFAULT 0,
    new_alerts    INTEGER NOT NULL DEFAULT 0,
    urgent        INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    started_at    INTEGER NOT NULL,
    finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_scan_runs_time ON scan_runs(started_at DESC);
`
