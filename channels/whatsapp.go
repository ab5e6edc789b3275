package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/riskwatch/connectivity"
)

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// TwilioConfig holds WhatsApp-over-Twilio credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string // sender number, with or without the "whatsapp:" prefix
	BaseURL    string // default DefaultTwilioBaseURL
	Timeout    time.Duration
	Client     *http.Client
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// WhatsApp sends text messages through Twilio's Messages API.
type WhatsApp struct {
	from string
	call connectivity.Handler
}

// NewWhatsApp validates cfg. AccountSID, AuthToken and From are required.
func NewWhatsApp(cfg TwilioConfig) (*WhatsApp, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") +
		"/2010-04-01/Accounts/" + url.PathEscape(cfg.AccountSID) + "/Messages.json"

	base := connectivity.HTTP(connectivity.HTTPConfig{
		URL:         endpoint,
		ContentType: "application/x-www-form-urlencoded",
		BasicUser:   cfg.AccountSID,
		BasicPass:   cfg.AuthToken,
		Client:      cfg.Client,
	})
	return &WhatsApp{
		from: whatsappAddr(cfg.From),
		call: connectivity.WithTimeout(cfg.Timeout)(base),
	}, nil
}

func (w *WhatsApp) Platform() string { return PlatformWhatsApp }

// Send delivers msg.Text to the phone number in msg.Recipient.
func (w *WhatsApp) Send(ctx context.Context, msg Message) error {
	number := normalizePhone(msg.Recipient)
	if !phonePattern.MatchString(number) {
		return &ErrInvalidRecipient{Platform: PlatformWhatsApp, Recipient: msg.Recipient,
			Cause: errors.New("not a phone number")}
	}
	form := url.Values{
		"From": {w.from},
		"To":   {whatsappAddr(number)},
		"Body": {msg.Text},
	}
	if _, err := w.call(ctx, []byte(form.Encode())); err != nil {
		return &ErrSendFailed{Platform: PlatformWhatsApp, Recipient: msg.Recipient,
			Cause: fmt.Errorf("twilio: %w", err)}
	}
	return nil
}

func whatsappAddr(n string) string {
	if strings.HasPrefix(n, "whatsapp:") {
		return n
	}
	return "whatsapp:" + n
}

// normalizePhone drops the spacing and punctuation people put in numbers.
func normalizePhone(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "whatsapp:")
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, s)
}
