package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testFetcher(cfg Config) *Fetcher {
	if cfg.URLValidator == nil {
		cfg.URLValidator = ValidateScheme
	}
	cfg.Logger = quiet()
	return New(cfg)
}

func article(s string) string {
	return "<article>" + strings.Repeat(s+" ", 30) + "</article>"
}

func TestFetch_ExtractsArticles(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte("<html><body>" + article("one") + article("two") + article("three") + "</body></html>"))
	}))
	defer srv.Close()

	res := testFetcher(Config{}).Fetch(context.Background(), srv.URL)
	if res.Err != nil {
		t.Fatalf("err: %v", res.Err)
	}
	if len(res.Articles) != 3 {
		t.Fatalf("articles = %d, want 3", len(res.Articles))
	}
	if ua != DefaultUserAgent {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestFetch_UnreachableIsEmpty(t *testing.T) {
	// WHAT: an unreachable source yields no articles and an error value.
	// WHY: one dead source must not abort the scan.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := testFetcher(Config{}).Fetch(context.Background(), url)
	if res.Err == nil || len(res.Articles) != 0 {
		t.Fatalf("res = %+v", res)
	}
}

func TestFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(article("blocked")))
	}))
	defer srv.Close()

	res := testFetcher(Config{}).Fetch(context.Background(), srv.URL)
	if res.Err == nil || res.StatusCode != http.StatusForbidden || len(res.Articles) != 0 {
		t.Fatalf("res = %+v", res)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	res := testFetcher(Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	if res.Err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestFetch_DefaultGuardRejectsLoopback(t *testing.T) {
	f := New(Config{Logger: quiet()})
	res := f.Fetch(context.Background(), "http://127.0.0.1:1/")
	if !errors.Is(res.Err, ErrPrivateTarget) {
		t.Fatalf("err = %v, want ErrPrivateTarget", res.Err)
	}
	res = f.Fetch(context.Background(), "file:///etc/passwd")
	if !errors.Is(res.Err, ErrUnsafeScheme) {
		t.Fatalf("err = %v, want ErrUnsafeScheme", res.Err)
	}
}

type stubLoader struct {
	body  string
	err   error
	calls int
}

func (s *stubLoader) Load(ctx context.Context, pageURL string) ([]byte, error) {
	s.calls++
	return []byte(s.body), s.err
}

func TestFetch_BrowserOnlyWhenEmpty(t *testing.T) {
	page := "<html><body><div id=app></div></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	loader := &stubLoader{body: "<html><body>" + article("rendered") + "</body></html>"}
	res := testFetcher(Config{Browser: loader}).Fetch(context.Background(), srv.URL)
	if res.Err != nil || len(res.Articles) != 1 || !res.Rendered {
		t.Fatalf("res = %+v", res)
	}

	page = "<html><body>" + article("static") + "</body></html>"
	loader.calls = 0
	res = testFetcher(Config{Browser: loader}).Fetch(context.Background(), srv.URL)
	if loader.calls != 0 || res.Rendered {
		t.Fatalf("browser used for a page with articles: calls=%d", loader.calls)
	}
}

func TestFetch_BrowserFailureIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>short</p>"))
	}))
	defer srv.Close()

	res := testFetcher(Config{Browser: &stubLoader{err: errors.New("no chrome")}}).Fetch(context.Background(), srv.URL)
	if res.Err != nil || len(res.Articles) != 0 {
		t.Fatalf("res = %+v", res)
	}
}

func TestValidatePublicURL(t *testing.T) {
	for _, u := range []string{"http://10.0.0.1/", "http://192.168.1.1/x", "http://[::1]/", "http://169.254.169.254/latest"} {
		if err := ValidatePublicURL(u); !errors.Is(err, ErrPrivateTarget) {
			t.Errorf("%s: err = %v", u, err)
		}
	}
	if err := ValidatePublicURL("https://93.184.216.34/"); err != nil {
		t.Errorf("public IP rejected: %v", err)
	}
	if err := ValidateScheme("https:///nohost"); err == nil {
		t.Error("missing host accepted")
	}
}
