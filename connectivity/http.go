package connectivity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBody caps response data read from remote endpoints (10 MiB).
const maxResponseBody int64 = 10 << 20

// HTTPConfig describes a POST endpoint.
type HTTPConfig struct {
	URL         string
	ContentType string            // default application/json
	Header      map[string]string // added to every request
	BasicUser   string            // basic auth when non-empty
	BasicPass   string
	Client      *http.Client // default http.DefaultClient
}

// HTTP returns a Handler that POSTs the payload to cfg.URL and returns the
// response body. Non-2xx responses yield *ErrHTTPStatus.
func HTTP(cfg HTTPConfig) Handler {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: create request: %w", err)
		}
		req.Header.Set("Content-Type", cfg.ContentType)
		for k, v := range cfg.Header {
			req.Header.Set(k, v)
		}
		if cfg.BasicUser != "" {
			req.SetBasicAuth(cfg.BasicUser, cfg.BasicPass)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: do request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &ErrHTTPStatus{StatusCode: resp.StatusCode, Body: truncateBody(body)}
		}
		return body, nil
	}
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
