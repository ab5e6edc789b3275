// Package notify fans a summary of urgent alerts out to every configured
// recipient. Each delivery is independent: one failing recipient is logged
// and recorded in the Outcome, and the remaining recipients are still tried.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/hazyhaar/riskwatch/channels"
	"github.com/hazyhaar/riskwatch/riskwatch/internal/store"
)

// Subject is the email subject of every alert notification.
const Subject = "Urgent Risk Alert"

// Recipients lists addresses per channel.
type Recipients struct {
	Emails   []string
	WhatsApp []string
	Webhooks []string
}

// Outcome summarises one Notify call. Err aggregates per-recipient errors
// and is nil when every attempted delivery succeeded.
type Outcome struct {
	Attempted int
	Delivered int
	Skipped   int // recipients on channels without credentials
	Err       error
}

// Dispatcher holds one sender per channel. A nil sender disables its
// channel.
type Dispatcher struct {
	Email    channels.Sender
	WhatsApp channels.Sender
	Webhook  channels.Sender
	Logger   *slog.Logger
}

// Urgent filters alerts down to critical and high severities.
func Urgent(alerts []store.Alert) []store.Alert {
	var out []store.Alert
	for _, a := range alerts {
		if a.Severity.Urgent() {
			out = append(out, a)
		}
	}
	return out
}

// Summary renders the notification body.
func Summary(alerts []store.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d urgent risk alert(s) detected:\n\n", len(alerts))
	for i, a := range alerts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- [%s] %s", strings.ToUpper(string(a.Severity)), a.Title)
	}
	return b.String()
}

// Notify sends the summary of alerts to every recipient. It does nothing
// when alerts is empty.
func (d *Dispatcher) Notify(ctx context.Context, alerts []store.Alert, to Recipients) Outcome {
	var out Outcome
	if len(alerts) == 0 {
		return out
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	text := Summary(alerts)
	var errs *multierror.Error
	deliver := func(sender channels.Sender, name string, recipients []string) {
		if len(recipients) == 0 {
			return
		}
		if sender == nil {
			out.Skipped += len(recipients)
			log.InfoContext(ctx, "notify: channel not configured, skipping", "channel", name, "recipients", len(recipients))
			return
		}
		for _, r := range recipients {
			if ctx.Err() != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s %s: %w", name, r, ctx.Err()))
				continue
			}
			out.Attempted++
			err := sender.Send(ctx, channels.Message{
				Recipient: r,
				Subject:   Subject,
				Text:      text,
				Metadata:  map[string]string{"alerts": fmt.Sprint(len(alerts))},
			})
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s %s: %w", name, r, err))
				log.WarnContext(ctx, "notify: delivery failed", "channel", name, "recipient", r, "error", err)
				continue
			}
			out.Delivered++
			log.InfoContext(ctx, "notify: delivered", "channel", name, "recipient", r)
		}
	}

	deliver(d.Email, channels.PlatformEmail, to.Emails)
	deliver(d.WhatsApp, channels.PlatformWhatsApp, to.WhatsApp)
	deliver(d.Webhook, channels.PlatformWebhook, to.Webhooks)

	out.Err = errs.ErrorOrNil()
	return out
}
