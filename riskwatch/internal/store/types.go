package store

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks an alert. Only the four constants below may be stored.
type Severity string

const (
	Critical Severity = "critical"
	High     Severity = "high"
	Medium   Severity = "medium"
	Low      Severity = "low"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{Critical, High, Medium, Low}

// ParseSeverity accepts any letter case.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("store: unknown severity %q", s)
	}
	return sev, nil
}

// Valid reports whether s is one of the four severities.
func (s Severity) Valid() bool {
	switch s {
	case Critical, High, Medium, Low:
		return true
	}
	return false
}

// Rank orders severities: critical 4 down to low 1, 0 for invalid values.
func (s Severity) Rank() int {
	switch s {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	}
	return 0
}

// Urgent reports whether s triggers notification.
func (s Severity) Urgent() bool { return s == Critical || s == High }

// Alert is one detected risk. It is immutable once appended.
type Alert struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Severity  Severity  `json:"severity"`
	RiskRank  int       `json:"riskRank"`
	Impact    string    `json:"impact"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
	FullText  string    `json:"fullText,omitempty"`
}

// ReportType selects the lookback window of a report.
type ReportType string

const (
	Daily  ReportType = "daily"
	Weekly ReportType = "weekly"
)

// Report is a rollup of alert counts over a window ending at Date.
type Report struct {
	ID            string     `json:"id"`
	Type          ReportType `json:"type"`
	Date          time.Time  `json:"date"`
	TotalRisks    int        `json:"totalRisks"`
	CriticalCount int        `json:"criticalCount"`
	HighCount     int        `json:"highCount"`
	MediumCount   int        `json:"mediumCount"`
	LowCount      int        `json:"lowCount"`
}

// Stats holds scan bookkeeping.
type Stats struct {
	LastScan *time.Time `json:"lastScan,omitempty"`
}

// Configuration is the operator-controlled scan input.
type Configuration struct {
	Sources         []string `json:"sources"`
	Keywords        []string `json:"keywords"`
	Industries      []string `json:"industries"`
	Emails          []string `json:"emails"`
	WhatsappNumbers []string `json:"whatsappNumbers"`
	Webhooks        []string `json:"webhooks,omitempty"`
	ScanInterval    string   `json:"scanInterval"`
}
