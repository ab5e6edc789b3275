package channels

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/textproto"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/microcosm-cc/bluemonday"
)

// EmailConfig holds SMTP credentials.
type EmailConfig struct {
	Host     string
	Port     int    // default 587; 465 uses implicit TLS
	Username string // also the sender address unless From is set
	Password string
	From     string

	// Timeout bounds one delivery, dial to QUIT. Default 30s.
	Timeout time.Duration
}

type sendMailFunc func(ctx context.Context, addr string, a sasl.Client, from string, to []string, r io.Reader) error

// Email sends plain-text notifications with an HTML alternative.
type Email struct {
	cfg    EmailConfig
	from   *mail.Address
	policy *bluemonday.Policy
	send   sendMailFunc
	now    func() time.Time
}

// NewEmail validates cfg. Host, Username and Password are required.
func NewEmail(cfg EmailConfig) (*Email, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	fromAddr := cfg.From
	if fromAddr == "" {
		fromAddr = cfg.Username
	}
	from, err := mail.ParseAddress(fromAddr)
	if err != nil {
		return nil, fmt.Errorf("channels/email: sender address: %w", err)
	}

	e := &Email{
		cfg:    cfg,
		from:   from,
		policy: bluemonday.UGCPolicy(),
		now:    time.Now,
	}
	e.send = e.deliver
	return e, nil
}

func (e *Email) Platform() string { return PlatformEmail }

// Send delivers msg to a single address. An unparseable address yields
// *ErrInvalidRecipient without contacting the server.
func (e *Email) Send(ctx context.Context, msg Message) error {
	to, err := mail.ParseAddress(msg.Recipient)
	if err != nil {
		return &ErrInvalidRecipient{Platform: PlatformEmail, Recipient: msg.Recipient, Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := e.compose(to, msg)
	if err != nil {
		return &ErrSendFailed{Platform: PlatformEmail, Recipient: msg.Recipient, Cause: err}
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	auth := sasl.NewPlainClient("", e.cfg.Username, e.cfg.Password)
	if err := e.send(ctx, addr, auth, e.from.Address, []string{to.Address}, bytes.NewReader(body)); err != nil {
		return &ErrSendFailed{Platform: PlatformEmail, Recipient: msg.Recipient, Cause: err}
	}
	return nil
}

// deliver runs one SMTP transaction: STARTTLS on submission ports, implicit
// TLS on 465. The connection is closed as soon as ctx ends, which unblocks
// any exchange still waiting on the server.
func (e *Email) deliver(ctx context.Context, addr string, a sasl.Client, from string, to []string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	tlsCfg := &tls.Config{ServerName: e.cfg.Host}
	var c *smtp.Client
	if e.cfg.Port == 465 {
		c = smtp.NewClient(tls.Client(conn, tlsCfg))
	} else if c, err = smtp.NewClientStartTLS(conn, tlsCfg); err != nil {
		return ctxErr(ctx, err)
	}
	defer c.Close()
	c.CommandTimeout = e.cfg.Timeout
	c.SubmissionTimeout = e.cfg.Timeout

	if ok, _ := c.Extension("AUTH"); !ok {
		return ctxErr(ctx, errors.New("server does not support AUTH"))
	}
	if err := c.Auth(a); err != nil {
		return ctxErr(ctx, err)
	}
	if err := c.SendMail(from, to, r); err != nil {
		return ctxErr(ctx, err)
	}
	return ctxErr(ctx, c.Quit())
}

// ctxErr prefers the context error over the closed-connection error it
// caused.
func ctxErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

// compose builds a multipart/alternative message: the text as is, and the
// same text inside <pre> as HTML.
func (e *Email) compose(to *mail.Address, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("From", e.from.String())
	hdr.Set("To", to.String())
	hdr.Set("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	hdr.Set("Date", e.now().Format(time.RFC1123Z))
	hdr.Set("MIME-Version", "1.0")
	hdr.Set("Content-Type", "multipart/alternative; boundary="+mw.Boundary())

	var head bytes.Buffer
	for _, k := range []string{"From", "To", "Subject", "Date", "MIME-Version", "Content-Type"} {
		fmt.Fprintf(&head, "%s: %s\r\n", k, hdr.Get(k))
	}
	head.WriteString("\r\n")

	htmlBody := e.policy.Sanitize("<pre>" + html.EscapeString(msg.Text) + "</pre>")
	parts := []struct{ ctype, body string }{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", htmlBody},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return append(head.Bytes(), buf.Bytes()...), nil
}
