// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail delivers account email over SMTP.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/credkeep/internal/auth"
)

// Compile-time interface check.
var _ auth.Notifier = (*SMTPNotifier)(nil)

// Defaults applied by NewSMTPNotifier.
const (
	DefaultPort     = 587
	DefaultTimeout  = 10 * time.Second
	DefaultAttempts = 3
	DefaultBackoff  = 250 * time.Millisecond
)

// Config describes the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the sender used when a message carries none.
	From string
	// Secure dials with implicit TLS (port 465 style). Otherwise STARTTLS is
	// used when the server offers it.
	Secure bool
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
	// Attempts is the total number of tries per message.
	Attempts uint64
	// Backoff is the first delay between attempts; it doubles each retry.
	Backoff time.Duration
}

// Validate checks cfg for values the notifier cannot work with.
func (c Config) Validate() error {
	if c.Host == "" {
		return oops.Code("MAIL_CONFIG_INVALID").With("field", "host").Errorf("smtp host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return oops.Code("MAIL_CONFIG_INVALID").With("field", "port").With("port", c.Port).
			Errorf("smtp port out of range")
	}
	if c.From != "" {
		if _, err := mail.ParseAddress(c.From); err != nil {
			return oops.Code("MAIL_CONFIG_INVALID").With("field", "from").Wrap(err)
		}
	}
	return nil
}

// DialFunc opens the transport connection to the relay. A non-nil tlsConfig
// asks for implicit TLS.
type DialFunc func(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error)

func defaultDial(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	if tlsConfig != nil {
		d := &tls.Dialer{Config: tlsConfig}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// SMTPNotifier sends auth.Message values through an SMTP relay.
type SMTPNotifier struct {
	cfg    Config
	dial   DialFunc
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an SMTPNotifier.
type Option func(*SMTPNotifier)

// WithDialer replaces the network dialer.
func WithDialer(dial DialFunc) Option {
	return func(n *SMTPNotifier) {
		if dial != nil {
			n.dial = dial
		}
	}
}

// WithLogger sets the logger for failed attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(n *SMTPNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewSMTPNotifier validates cfg and fills in defaults.
func NewSMTPNotifier(cfg Config, opts ...Option) (*SMTPNotifier, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	n := &SMTPNotifier{
		cfg:    cfg,
		dial:   defaultDial,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Send delivers msg, retrying transient failures. Permanent (5xx) replies
// stop the retry loop.
func (n *SMTPNotifier) Send(ctx context.Context, msg auth.Message) error {
	if msg.From == "" {
		msg.From = n.cfg.From
	}
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return oops.Code("MAIL_INVALID_FROM").Wrap(err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return oops.Code("MAIL_INVALID_RECIPIENT").Wrap(err)
	}
	body, err := n.compose(from, to, msg)
	if err != nil {
		return err
	}

	var attempt uint64
	b := retry.WithMaxRetries(n.cfg.Attempts-1, retry.NewExponential(n.cfg.Backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := n.deliver(ctx, from.Address, to.Address, body)
		if err == nil {
			return nil
		}
		n.logger.WarnContext(ctx, "smtp delivery attempt failed",
			"attempt", attempt,
			"max_attempts", n.cfg.Attempts,
			"error", err)
		if isPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("attempts", attempt).
			With("host", n.cfg.Host).
			Wrap(err)
	}
	return nil
}

func (n *SMTPNotifier) addr() string {
	return net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
}

func (n *SMTPNotifier) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}
}

// deliver runs one SMTP transaction.
func (n *SMTPNotifier) deliver(ctx context.Context, from, to string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	var implicit *tls.Config
	if n.cfg.Secure {
		implicit = n.tlsConfig()
	}
	conn, err := n.dial(ctx, n.addr(), implicit)
	if err != nil {
		return fmt.Errorf("dial %s: %w", n.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("greeting: %w", err)
	}
	defer c.Close() //nolint:errcheck // Quit already reported the result

	if !n.cfg.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(n.tlsConfig()); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if n.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}

// compose renders the RFC 5322 message.
func (n *SMTPNotifier) compose(from, to *mail.Address, msg auth.Message) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", n.now().Format(time.RFC1123Z))
	header("Message-ID", "<"+ulid.Make().String()+"@"+n.cfg.Host+">")
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, oops.Code("MAIL_COMPOSE_FAILED").Wrap(err)
	}
	if err := qp.Close(); err != nil {
		return nil, oops.Code("MAIL_COMPOSE_FAILED").Wrap(err)
	}
	return buf.Bytes(), nil
}

// isPermanent reports whether err carries a 5xx SMTP reply.
func isPermanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}
