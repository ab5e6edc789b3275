// Package channels delivers outbound notifications over email (SMTP),
// WhatsApp (Twilio REST) and signed HTTP webhooks.
//
// Each backend implements Sender. Backends are constructed from explicit
// credentials; a constructor returns ErrNotConfigured when the credentials
// are absent so callers can skip the channel instead of failing.
//
//	email, err := channels.NewEmail(channels.EmailConfig{Host: host, Username: user, Password: pass})
//	if errors.Is(err, channels.ErrNotConfigured) {
//		// channel disabled
//	}
//	err = email.Send(ctx, channels.Message{Recipient: "ops@example.com", Subject: "Urgent Risk Alert", Text: body})
package channels

import "context"

// Platform names used in logs and errors.
const (
	PlatformEmail    = "email"
	PlatformWhatsApp = "whatsapp"
	PlatformWebhook  = "webhook"
)

// Message is one outbound notification to one recipient.
type Message struct {
	Recipient string            `json:"recipient"`         // email address, phone number or URL
	Subject   string            `json:"subject,omitempty"` // ignored by platforms without subjects
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sender pushes a message to a single recipient.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Platform() string
}

// SenderFunc adapts a function to Sender.
type SenderFunc struct {
	Name string
	Fn   func(ctx context.Context, msg Message) error
}

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f.Fn(ctx, msg) }
func (f SenderFunc) Platform() string                            { return f.Name }
