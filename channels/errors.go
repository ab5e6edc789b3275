package channels

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned by constructors when required credentials
// are absent.
var ErrNotConfigured = errors.New("channels: not configured")

// ErrInvalidRecipient is returned by Send when the recipient cannot be
// addressed on the platform.
type ErrInvalidRecipient struct {
	Platform  string
	Recipient string
	Cause     error
}

func (e *ErrInvalidRecipient) Error() string {
	return fmt.Sprintf("channels: invalid %s recipient %q: %v", e.Platform, e.Recipient, e.Cause)
}

func (e *ErrInvalidRecipient) Unwrap() error { return e.Cause }

// ErrSendFailed is returned when the platform rejected or never received
// the message.
type ErrSendFailed struct {
	Platform  string
	Recipient string
	Cause     error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("channels: send to %s on %s failed: %v", e.Recipient, e.Platform, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }
