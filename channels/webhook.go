package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/riskwatch/connectivity"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body,
// prefixed with "sha256=".
const SignatureHeader = "X-Signature-256"

// WebhookConfig configures outbound webhook delivery.
type WebhookConfig struct {
	// Secret signs each payload when non-empty.
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

// WebhookPayload is the JSON body POSTed to webhook recipients.
type WebhookPayload struct {
	Subject  string            `json:"subject,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Webhook POSTs messages as JSON to the recipient URL.
type Webhook struct {
	cfg WebhookConfig
	now func() time.Time
}

// NewWebhook never returns ErrNotConfigured: webhooks need no credentials.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{cfg: cfg, now: time.Now}
}

func (w *Webhook) Platform() string { return PlatformWebhook }

// Send POSTs msg to msg.Recipient, which must be an absolute http(s) URL.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	u, err := url.Parse(msg.Recipient)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ErrInvalidRecipient{Platform: PlatformWebhook, Recipient: msg.Recipient,
			Cause: fmt.Errorf("need an absolute http(s) URL")}
	}

	body, err := json.Marshal(WebhookPayload{
		Subject:  msg.Subject,
		Text:     msg.Text,
		Metadata: msg.Metadata,
		SentAt:   w.now().UTC(),
	})
	if err != nil {
		return &ErrSendFailed{Platform: PlatformWebhook, Recipient: msg.Recipient, Cause: err}
	}

	hdr := map[string]string{}
	if w.cfg.Secret != "" {
		hdr[SignatureHeader] = Sign(w.cfg.Secret, body)
	}
	call := connectivity.WithTimeout(w.cfg.Timeout)(connectivity.HTTP(connectivity.HTTPConfig{
		URL:    u.String(),
		Header: hdr,
		Client: w.cfg.Client,
	}))
	if _, err := call(ctx, body); err != nil {
		return &ErrSendFailed{Platform: PlatformWebhook, Recipient: msg.Recipient, Cause: err}
	}
	return nil
}

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a SignatureHeader value against body. The
// "sha256=" prefix is optional.
func VerifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
