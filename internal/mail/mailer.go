// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

// Package mail delivers password reset emails.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"mime/multipart"
	"net"
	netmail "net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/tenantkit/tenantkit/internal/auth"
)

const resetSubject = "Reset your password"

var resetHTML = htmltemplate.Must(htmltemplate.New("reset").Parse(`<!DOCTYPE html>
<html>
<body>
<p>We received a request to reset your password.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>If you did not request this, you can ignore this email. The link expires in {{.ValidFor}}.</p>
</body>
</html>
`))

var resetText = texttemplate.Must(texttemplate.New("reset").Parse(`We received a request to reset your password.

Choose a new password: {{.Link}}

If you did not request this, you can ignore this email. The link expires in {{.ValidFor}}.
`))

type resetData struct {
	Link     string
	ValidFor string
}

// DefaultSendTimeout bounds one SMTP delivery when SMTPConfig.Timeout is zero.
const DefaultSendTimeout = 10 * time.Second

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SendFunc delivers one message. It must return once ctx is done.
type SendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends reset emails through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	cfg      SMTPConfig
	validFor string
	send     SendFunc
}

// NewSMTPMailer creates an SMTPMailer. validFor is the human-readable
// token lifetime shown in the message.
func NewSMTPMailer(cfg SMTPConfig, validFor string) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.From == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").
			With("host", cfg.Host).
			With("port", cfg.Port).
			Errorf("smtp host, port and from address are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSendTimeout
	}
	return &SMTPMailer{cfg: cfg, validFor: validFor, send: sendMail}, nil
}

// WithSendFunc replaces the SMTP transport.
func (m *SMTPMailer) WithSendFunc(send SendFunc) *SMTPMailer {
	m.send = send
	return m
}

// SendPasswordReset implements auth.ResetMailer. Delivery is bounded by
// ctx and by the configured timeout.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, toEmail, resetLink string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").Wrap(err)
	}
	if strings.ContainsAny(toEmail, "\r\n") {
		return oops.Code("MAIL_INVALID_RECIPIENT").Errorf("recipient contains line breaks")
	}

	msg, err := m.compose(toEmail, resetData{Link: resetLink, ValidFor: m.validFor}, time.Now())
	if err != nil {
		return err
	}

	var smtpAuth smtp.Auth
	if m.cfg.Username != "" {
		smtpAuth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))
	if err := m.send(ctx, addr, smtpAuth, m.cfg.From, []string{toEmail}, msg); err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("smtp_addr", addr).
			Wrap(err)
	}
	return nil
}

// sendMail is smtp.SendMail with the connection bound to ctx: the dial
// honours ctx, the deadline follows ctx and cancellation closes the socket.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			_ = conn.Close()
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		_ = conn.Close()
		return err
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close() //nolint:errcheck // Quit already reported the outcome

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (m *SMTPMailer) compose(to string, data resetData, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		render      func(*bytes.Buffer) error
	}{
		{"text/plain; charset=utf-8", func(b *bytes.Buffer) error { return resetText.Execute(b, data) }},
		{"text/html; charset=utf-8", func(b *bytes.Buffer) error { return resetHTML.Execute(b, data) }},
	}
	for _, p := range parts {
		var rendered bytes.Buffer
		if err := p.render(&rendered); err != nil {
			return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
		}
		pw, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
		}
		if _, err := pw.Write(rendered.Bytes()); err != nil {
			return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@%s>\r\n", ulid.Make().String(), messageIDDomain(m.cfg.From, m.cfg.Host))
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", resetSubject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", w.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// messageIDDomain returns the domain of the from address, or host when
// from does not parse.
func messageIDDomain(from, host string) string {
	if addr, err := netmail.ParseAddress(from); err == nil {
		if _, domain, ok := strings.Cut(addr.Address, "@"); ok && domain != "" {
			return domain
		}
	}
	return host
}

// LogMailer logs reset links instead of sending them. For development only.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer. Nil uses slog.Default().
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendPasswordReset implements auth.ResetMailer.
func (m *LogMailer) SendPasswordReset(ctx context.Context, toEmail, resetLink string) error {
	m.logger.InfoContext(ctx, "password reset email (not sent)",
		"to", toEmail,
		"reset_link", resetLink)
	return nil
}

// DisabledMailer refuses every send. Used when no SMTP relay is configured
// outside development, so reset links never reach the logs.
type DisabledMailer struct{}

// SendPasswordReset implements auth.ResetMailer.
func (DisabledMailer) SendPasswordReset(context.Context, string, string) error {
	return oops.Code("MAIL_NOT_CONFIGURED").Errorf("email delivery is not configured")
}

var (
	_ auth.ResetMailer = (*SMTPMailer)(nil)
	_ auth.ResetMailer = (*LogMailer)(nil)
	_ auth.ResetMailer = DisabledMailer{}
)
