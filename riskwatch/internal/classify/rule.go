package classify

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/riskwatch/idgen"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

var (
	criticalKeywords = map[string]bool{"recession": true, "collapse": true, "crisis": true, "shutdown": true}
	highKeywords     = map[string]bool{"downturn": true, "sanctions": true, "shortage": true}
)

const summaryLength = 300

// Rule is the deterministic keyword classifier. Its output for a given
// (text, keywords, industries) is identical across calls except for ID and
// Timestamp.
type Rule struct {
	NewID idgen.Generator  // default idgen.Alert
	Now   func() time.Time // default time.Now
}

// Classify matches industries then keywords case-insensitively as
// substrings, and grades severity with the first applicable rung:
//
//	critical keyword matched  -> critical, rank = n+5
//	high keyword matched      -> high,     rank = n+3
//	more than two matches     -> medium,   rank = n+1
//	otherwise                 -> low,      rank = n
//
// where n is the number of matched keywords and ranks are capped at 10.
func (r *Rule) Classify(_ context.Context, text string, keywords, industries []string) (*store.Alert, error) {
	lower := strings.ToLower(text)

	relevant := false
	for _, ind := range industries {
		if strings.Contains(lower, strings.ToLower(ind)) {
			relevant = true
			break
		}
	}
	if !relevant {
		return nil, nil
	}

	var matched []string
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	severity, rank := grade(matched)

	head := matched
	if len(head) > 2 {
		head = head[:2]
	}
	newID, now := r.NewID, r.Now
	if newID == nil {
		newID = idgen.Alert
	}
	if now == nil {
		now = time.Now
	}
	return &store.Alert{
		ID:        newID(),
		Title:     fmt.Sprintf("Risk Alert: %s affecting %s", strings.Join(head, ", "), industries[0]),
		Severity:  severity,
		RiskRank:  rank,
		Impact:    fmt.Sprintf("Potential %s impact on %s industry", severity, strings.Join(industries, ", ")),
		Source:    SourceRule,
		Timestamp: now().UTC(),
		Summary:   prefix(text, summaryLength) + "...",
		FullText:  text,
	}, nil
}

func grade(matched []string) (store.Severity, int) {
	n := len(matched)
	anyIn := func(set map[string]bool) bool {
		for _, kw := range matched {
			if set[strings.ToLower(kw)] {
				return true
			}
		}
		return false
	}
	switch {
	case anyIn(criticalKeywords):
		return store.Critical, min(10, n+5)
	case anyIn(highKeywords):
		return store.High, min(10, n+3)
	case n > 2:
		return store.Medium, min(10, n+1)
	default:
		return store.Low, min(10, n)
	}
}

// prefix returns the first n characters of s.
func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}
