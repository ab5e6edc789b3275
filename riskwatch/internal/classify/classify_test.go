package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

var fixedNow = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func fixedRule() *Rule {
	return &Rule{NewID: func() string { return "id-1" }, Now: func() time.Time { return fixedNow }}
}

const automobileText = "The Automobile sector faces a recession this quarter as dealers report falling orders and suppliers warn of further pressure ahead."

// ---------------------------------------------------------------------------
// Rule
// ---------------------------------------------------------------------------

func TestRule_NotRelevant(t *testing.T) {
	r := fixedRule()
	ctx := context.Background()
	got, err := r.Classify(ctx, automobileText, []string{"recession"}, []string{"Banking"})
	if err != nil || got != nil {
		t.Fatalf("no industry: got %+v, %v", got, err)
	}
	got, err = r.Classify(ctx, automobileText, []string{"tariff"}, []string{"Automobile"})
	if err != nil || got != nil {
		t.Fatalf("no keyword: got %+v, %v", got, err)
	}
}

func TestRule_CriticalScenario(t *testing.T) {
	a, err := fixedRule().Classify(context.Background(), automobileText, []string{"recession"}, []string{"Automobile"})
	if err != nil || a == nil {
		t.Fatalf("got %+v, %v", a, err)
	}
	if a.Severity != store.Critical || a.RiskRank != 6 {
		t.Fatalf("severity=%s rank=%d", a.Severity, a.RiskRank)
	}
	if a.Title != "Risk Alert: recession affecting Automobile" {
		t.Errorf("title = %q", a.Title)
	}
	if a.Impact != "Potential critical impact on Automobile industry" {
		t.Errorf("impact = %q", a.Impact)
	}
	if a.Source != SourceRule || a.FullText != automobileText {
		t.Errorf("source=%q fullText=%q", a.Source, a.FullText)
	}
	if a.Summary != automobileText+"..." {
		t.Errorf("summary = %q", a.Summary)
	}
}

func TestRule_Deterministic(t *testing.T) {
	// WHAT: two runs on identical input produce identical alerts.
	// WHY: rule mode is the reproducible baseline operators compare against.
	kw := []string{"shortage", "strike", "recall"}
	ind := []string{"Automobile", "Steel"}
	text := "Automobile plants hit by chip shortage, a strike and a recall; steel buyers wait."
	a, _ := fixedRule().Classify(context.Background(), text, kw, ind)
	b, _ := fixedRule().Classify(context.Background(), text, kw, ind)
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Fatalf("non-deterministic:\n%s\n%s", ja, jb)
	}
}

func TestRule_LadderPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		keywords []string
		sev      store.Severity
		rank     int
	}{
		{"critical beats high", "automobile sanctions and crisis", []string{"sanctions", "crisis"}, store.Critical, 7},
		{"high", "automobile sanctions", []string{"sanctions"}, store.High, 4},
		{"medium", "automobile strike recall layoffs", []string{"strike", "recall", "layoffs"}, store.Medium, 4},
		{"low", "automobile strike recall", []string{"strike", "recall"}, store.Low, 2},
		{"case-insensitive keyword set", "automobile SHUTDOWN", []string{"Shutdown"}, store.Critical, 6},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a, _ := fixedRule().Classify(context.Background(), c.text, c.keywords, []string{"Automobile"})
			if a == nil || a.Severity != c.sev || a.RiskRank != c.rank {
				t.Fatalf("got %+v, want %s/%d", a, c.sev, c.rank)
			}
		})
	}
}

func TestRule_RankClamped(t *testing.T) {
	kw := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "recession"}
	text := "automobile a1 a2 a3 a4 a5 a6 a7 recession"
	a, _ := fixedRule().Classify(context.Background(), text, kw, []string{"automobile"})
	if a.RiskRank != 10 {
		t.Fatalf("rank = %d, want 10", a.RiskRank)
	}
	for _, n := range []int{1, 2, 3, 9, 12} {
		matched := make([]string, n)
		for i := range matched {
			matched[i] = "k"
		}
		for _, sevKw := range []string{"", "crisis", "shortage"} {
			if sevKw != "" {
				matched[0] = sevKw
			}
			_, rank := grade(matched)
			if rank < 1 || rank > 10 {
				t.Fatalf("grade(%v) rank = %d", matched, rank)
			}
		}
	}
}

func TestRule_SummaryTruncatedByCharacters(t *testing.T) {
	text := "automobile recession " + strings.Repeat("é", 400)
	a, _ := fixedRule().Classify(context.Background(), text, []string{"recession"}, []string{"automobile"})
	body := strings.TrimSuffix(a.Summary, "...")
	if n := len([]rune(body)); n != 300 {
		t.Fatalf("summary = %d chars, want 300", n)
	}
}

// ---------------------------------------------------------------------------
// AI
// ---------------------------------------------------------------------------

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func llmServer(t *testing.T, status int, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer key" {
			http.Error(w, "bad request", http.StatusNotFound)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "gpt-3.5-turbo" || req.Temperature != 0.3 {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "upstream", status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testAI(baseURL string) *AI {
	return NewAI(AIConfig{
		APIKey:  "key",
		BaseURL: baseURL,
		NewID:   func() string { return "ai-1" },
		Now:     func() time.Time { return fixedNow },
		Logger:  quiet(),
	})
}

func TestAI_RelevantReply(t *testing.T) {
	reply := "```json\n{\"isRelevant\": true, \"title\": \"Plant <b>shutdown</b>\", \"severity\": \"HIGH\", \"riskRank\": 14, \"impact\": \"R&D delays\", \"summary\": \"Line stops.\"}\n```"
	srv := llmServer(t, http.StatusOK, reply, nil)

	a, err := testAI(srv.URL).Classify(context.Background(), automobileText, []string{"shutdown"}, []string{"Automobile"})
	if err != nil || a == nil {
		t.Fatalf("got %+v, %v", a, err)
	}
	if a.Title != "Plant shutdown" {
		t.Errorf("title = %q", a.Title)
	}
	if a.Impact != "R&D delays" {
		t.Errorf("impact = %q", a.Impact)
	}
	if a.Severity != store.High || a.RiskRank != 10 || a.Source != SourceAI || a.ID != "ai-1" {
		t.Errorf("alert = %+v", a)
	}
}

func TestAI_NotRelevant(t *testing.T) {
	srv := llmServer(t, http.StatusOK, `{"isRelevant": false}`, nil)
	a, err := testAI(srv.URL).Classify(context.Background(), "x", nil, nil)
	if err != nil || a != nil {
		t.Fatalf("got %+v, %v", a, err)
	}
}

func TestAI_MalformedReplies(t *testing.T) {
	for _, reply := range []string{
		"I cannot help with that.",
		`{"title": "no verdict field"}`,
		`{"isRelevant": true, "title": "x", "severity": "extreme", "riskRank": 5}`,
		`{"isRelevant": true, "title": "", "severity": "low", "riskRank": 5}`,
	} {
		srv := llmServer(t, http.StatusOK, reply, nil)
		_, err := testAI(srv.URL).Classify(context.Background(), "x", nil, nil)
		if !errors.Is(err, ErrMalformedReply) {
			t.Errorf("reply %q: err = %v, want ErrMalformedReply", reply, err)
		}
	}
}

func TestAI_SecondaryEndpoint(t *testing.T) {
	primary := llmServer(t, http.StatusInternalServerError, "", nil)
	secondary := llmServer(t, http.StatusOK, `{"isRelevant": true, "title": "t", "severity": "low", "riskRank": 2}`, nil)

	ai := NewAI(AIConfig{APIKey: "key", BaseURL: primary.URL, FallbackBaseURL: secondary.URL, FallbackAPIKey: "key", Logger: quiet()})
	a, err := ai.Classify(context.Background(), "x", nil, nil)
	if err != nil || a == nil || a.Severity != store.Low {
		t.Fatalf("got %+v, %v", a, err)
	}
}

func TestFallback_UsesRuleOnFailure(t *testing.T) {
	// WHAT: an auth failure from the model still yields the rule verdict.
	// WHY: every text must get a verdict through at least the deterministic path.
	var calls atomic.Int32
	srv := llmServer(t, http.StatusUnauthorized, "", &calls)

	c := &Fallback{Primary: testAI(srv.URL), Secondary: fixedRule(), Logger: quiet()}
	a, err := c.Classify(context.Background(), automobileText, []string{"recession"}, []string{"Automobile"})
	if err != nil || a == nil {
		t.Fatalf("got %+v, %v", a, err)
	}
	if a.Source != SourceRule || a.Severity != store.Critical {
		t.Fatalf("alert = %+v", a)
	}
	if calls.Load() != 1 {
		t.Fatalf("llm calls = %d, want 1", calls.Load())
	}
}

func TestFallback_NotRelevantIsAVerdict(t *testing.T) {
	srv := llmServer(t, http.StatusOK, `{"isRelevant": false}`, nil)
	c := &Fallback{Primary: testAI(srv.URL), Secondary: fixedRule(), Logger: quiet()}
	a, err := c.Classify(context.Background(), automobileText, []string{"recession"}, []string{"Automobile"})
	if err != nil || a != nil {
		t.Fatalf("got %+v, %v; rule must not override a negative model verdict", a, err)
	}
}

func TestAI_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := llmServer(t, http.StatusInternalServerError, "", &calls)
	ai := NewAI(AIConfig{APIKey: "key", BaseURL: srv.URL, BreakerThreshold: 2, Logger: quiet()})
	for i := 0; i < 4; i++ {
		ai.Classify(context.Background(), "x", nil, nil)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 before the breaker opened", calls.Load())
	}
}

func TestNew_SelectsStrategy(t *testing.T) {
	if _, ok := New(AIConfig{}, quiet()).(*Rule); !ok {
		t.Fatal("no key should select Rule")
	}
	if _, ok := New(AIConfig{APIKey: "k"}, quiet()).(*Fallback); !ok {
		t.Fatal("key should select Fallback")
	}
}

func TestPrompt(t *testing.T) {
	p := Prompt("body text", []string{"recession", "strike"}, []string{"Automobile", "Steel"})
	for _, want := range []string{"industries: Automobile, Steel.", "Keywords to focus on: recession, strike", "News content:\nbody text", `"isRelevant"`} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestClampRank(t *testing.T) {
	// WHAT: out-of-range model ranks are bounded before rounding.
	// WHY: converting a huge float to int wraps around on some platforms.
	cases := []struct {
		in   float64
		want int
	}{
		{-3, 1}, {0.4, 1}, {1.4, 1}, {4.5, 5}, {9.6, 10}, {14, 10},
		{1e19, 10}, {1e300, 10}, {math.Inf(1), 10}, {math.Inf(-1), 1}, {math.NaN(), 1},
	}
	for _, c := range cases {
		if got := clampRank(c.in); got != c.want {
			t.Errorf("clampRank(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}
