package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/riskwatch/connectivity"
	"github.com/hazyhaar/riskwatch/idgen"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

// AIConfig configures the LLM-backed classifier.
type AIConfig struct {
	APIKey      string
	BaseURL     string  // default https://api.openai.com/v1
	Model       string  // default gpt-3.5-turbo
	Temperature float64 // default 0.3
	Timeout     time.Duration
	MaxRetries  int

	// Secondary endpoint tried when the primary endpoint fails. Optional.
	FallbackBaseURL string
	FallbackAPIKey  string
	FallbackModel   string

	// RequestsPerMinute paces completion calls. Zero means unpaced.
	RequestsPerMinute float64

	// Breaker opens after BreakerThreshold consecutive failures and stays
	// open for BreakerReset.
	BreakerThreshold int
	BreakerReset     time.Duration

	HTTPClient *http.Client
	NewID      idgen.Generator
	Now        func() time.Time
	Logger     *slog.Logger
}

func (c *AIConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-3.5-turbo"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FallbackModel == "" {
		c.FallbackModel = c.Model
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = time.Minute
	}
	if c.NewID == nil {
		c.NewID = idgen.Alert
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ErrMalformedReply is wrapped by AI.Classify when the model answer does not
// match the expected schema.
var ErrMalformedReply = errors.New("classify: malformed model reply")

// AI classifies through a chat completion endpoint.
type AI struct {
	cfg     AIConfig
	call    connectivity.Handler
	breaker *connectivity.CircuitBreaker
	limiter *rate.Limiter
	policy  *bluemonday.Policy
}

// NewAI builds the call chain: recovery, fallback endpoint, circuit breaker,
// retry, per-attempt timeout.
func NewAI(cfg AIConfig) *AI {
	cfg.defaults()
	log := cfg.Logger

	breaker := connectivity.NewCircuitBreaker(
		connectivity.WithBreakerThreshold(cfg.BreakerThreshold),
		connectivity.WithBreakerResetTimeout(cfg.BreakerReset),
		connectivity.WithBreakerStateChange(func(from, to connectivity.BreakerState) {
			log.Warn("classify: llm breaker state change", "from", from.String(), "to", to.String())
		}),
	)

	var secondary connectivity.Handler
	if cfg.FallbackBaseURL != "" {
		secondary = connectivity.WithTimeout(cfg.Timeout)(
			completionEndpoint(cfg.FallbackBaseURL, cfg.FallbackAPIKey, cfg.FallbackModel, cfg.Temperature, cfg.HTTPClient))
	}

	call := connectivity.Chain(
		connectivity.Recovery(log),
		connectivity.Logging("llm", log),
		connectivity.WithFallback(secondary, "llm", log),
		connectivity.WithCircuitBreaker(breaker, "llm"),
		connectivity.WithRetry(cfg.MaxRetries, time.Second, log),
		connectivity.WithTimeout(cfg.Timeout),
	)(completionEndpoint(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.HTTPClient))

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	return &AI{
		cfg:     cfg,
		call:    call,
		breaker: breaker,
		limiter: rate.NewLimiter(limit, 1),
		policy:  bluemonday.StrictPolicy(),
	}
}

// BreakerState exposes the primary endpoint's breaker state.
func (a *AI) BreakerState() connectivity.BreakerState { return a.breaker.State() }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// completionEndpoint posts a prompt and returns the first choice's content.
// The payload is the prompt text; model and credentials are bound per
// endpoint.
func completionEndpoint(baseURL, apiKey, model string, temperature float64, client *http.Client) connectivity.Handler {
	post := connectivity.HTTP(connectivity.HTTPConfig{
		URL:    strings.TrimRight(baseURL, "/") + "/chat/completions",
		Header: map[string]string{"Authorization": "Bearer " + apiKey},
		Client: client,
	})
	return func(ctx context.Context, prompt []byte) ([]byte, error) {
		body, err := json.Marshal(chatRequest{
			Model:       model,
			Messages:    []chatMessage{{Role: "user", Content: string(prompt)}},
			Temperature: temperature,
		})
		if err != nil {
			return nil, err
		}
		raw, err := post(ctx, body)
		if err != nil {
			return nil, err
		}
		var resp chatResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("%w: completion envelope: %v", ErrMalformedReply, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: no choices", ErrMalformedReply)
		}
		return []byte(resp.Choices[0].Message.Content), nil
	}
}

// verdict is the JSON object the model is asked to return.
type verdict struct {
	IsRelevant *bool   `json:"isRelevant"`
	Title      string  `json:"title"`
	Severity   string  `json:"severity"`
	RiskRank   float64 `json:"riskRank"`
	Impact     string  `json:"impact"`
	Summary    string  `json:"summary"`
}

// Classify asks the model for a verdict. Transport failures, open breakers
// and replies that do not match the schema are returned as errors.
func (a *AI) Classify(ctx context.Context, text string, keywords, industries []string) (*store.Alert, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	content, err := a.call(ctx, []byte(Prompt(text, keywords, industries)))
	if err != nil {
		return nil, fmt.Errorf("classify: llm call: %w", err)
	}

	v, err := parseVerdict(content)
	if err != nil {
		return nil, err
	}
	if !*v.IsRelevant {
		return nil, nil
	}

	sev, err := store.ParseSeverity(v.Severity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	title := a.clean(v.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: empty title", ErrMalformedReply)
	}
	return &store.Alert{
		ID:        a.cfg.NewID(),
		Title:     title,
		Severity:  sev,
		RiskRank:  clampRank(v.RiskRank),
		Impact:    a.clean(v.Impact),
		Source:    SourceAI,
		Timestamp: a.cfg.Now().UTC(),
		Summary:   a.clean(v.Summary),
		FullText:  text,
	}, nil
}

// clean strips markup from a model-supplied field. The policy escapes text,
// so entities are decoded back to plain characters.
func (a *AI) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(a.policy.Sanitize(s)))
}

// Prompt renders the instruction sent to the model.
func Prompt(text string, keywords, industries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following news content for business risks and disruptions related to these industries: %s.\n\n", strings.Join(industries, ", "))
	fmt.Fprintf(&b, "Keywords to focus on: %s\n\n", strings.Join(keywords, ", "))
	fmt.Fprintf(&b, "News content:\n%s\n\n", text)
	b.WriteString(`Provide a JSON response with:
{
  "isRelevant": boolean (true if this poses a risk),
  "title": "Brief title of the risk",
  "severity": "critical" | "high" | "medium" | "low",
  "riskRank": number (1-10),
  "impact": "Description of potential impact",
  "summary": "2-3 sentence summary of the risk"
}`)
	return b.String()
}

// parseVerdict extracts the JSON object from a reply that may be wrapped in
// a Markdown code fence or surrounded by prose.
func parseVerdict(content []byte) (*verdict, error) {
	s := strings.TrimSpace(string(content))
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	var v verdict
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if v.IsRelevant == nil {
		return nil, fmt.Errorf("%w: missing isRelevant", ErrMalformedReply)
	}
	return &v, nil
}

// clampRank bounds r to [1,10] before rounding, so huge or non-finite
// model values never reach the int conversion.
func clampRank(r float64) int {
	switch {
	case math.IsNaN(r) || r < 1:
		return 1
	case r > 10:
		return 10
	}
	return int(math.Round(r))
}
