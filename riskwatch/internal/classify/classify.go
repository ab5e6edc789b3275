// Package classify decides whether an article text describes a business
// risk for the monitored industries, and how severe it is.
//
// Two strategies implement Classifier: Rule, a deterministic keyword ladder,
// and AI, backed by an OpenAI-compatible chat completion endpoint. New wires
// AI in front of Rule through Fallback so that every text gets a verdict.
package classify

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

// Source labels set on alerts by each strategy. The orchestrator replaces
// them with the originating source URL.
const (
	SourceRule = "Rule-based Analysis"
	SourceAI   = "AI Analysis"
)

// Classifier evaluates one text. A nil alert with a nil error means the text
// is not relevant.
type Classifier interface {
	Classify(ctx context.Context, text string, keywords, industries []string) (*store.Alert, error)
}

// Fallback runs Primary and, when it fails, returns Secondary's verdict.
// A "not relevant" answer from Primary is a verdict, not a failure.
type Fallback struct {
	Primary   Classifier
	Secondary Classifier
	Logger    *slog.Logger
}

func (f *Fallback) Classify(ctx context.Context, text string, keywords, industries []string) (*store.Alert, error) {
	alert, err := f.Primary.Classify(ctx, text, keywords, industries)
	if err == nil {
		return alert, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log := f.Logger
	if log == nil {
		log = slog.Default()
	}
	log.WarnContext(ctx, "classify: primary failed, using fallback", "error", err)
	return f.Secondary.Classify(ctx, text, keywords, industries)
}

// New returns Rule when cfg has no API key, and AI falling back to Rule
// otherwise.
func New(cfg AIConfig, logger *slog.Logger) Classifier {
	rule := &Rule{}
	if cfg.APIKey == "" {
		if logger != nil {
			logger.Info("classify: no API key, using rule-based analysis")
		}
		return rule
	}
	cfg.Logger = logger
	return &Fallback{Primary: NewAI(cfg), Secondary: rule, Logger: logger}
}
