// Package notify delivers out-of-band secrets (password reset and email
// verification links) to principals.
package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// Kind names the notification template.
type Kind string

const (
	KindPasswordReset     Kind = "password_reset"
	KindEmailVerification Kind = "email_verification"
)

// Notification carries a single-use secret to its owner.
type Notification struct {
	Kind        Kind
	PrincipalID string
	Email       string
	Secret      string
	ExpiresAt   time.Time
}

// Notifier delivers notifications. A delivery failure never invalidates the
// secret; the principal can ask again.
type Notifier interface {
	Deliver(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Deliver(context.Context, Notification) error { return nil }

// SMTPConfig configures SMTPNotifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TLSMode is "starttls" (default), "ssl" or "none".
	TLSMode string `yaml:"tls_mode"`
	// ResetURL and VerifyURL receive the secret as the "token" query value.
	ResetURL  string `yaml:"reset_url"`
	VerifyURL string `yaml:"verify_url"`
}

// SMTPNotifier sends plain-text mails through go-mail.
type SMTPNotifier struct {
	cfg    SMTPConfig
	logger *zap.Logger
	send   func(*mail.Message) error
}

// NewSMTPNotifier validates cfg.
func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.Port <= 0 || cfg.From == "" {
		return nil, errors.New("notify: smtp host, port and from are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &SMTPNotifier{cfg: cfg, logger: logger.Named("notify")}
	n.send = n.dialAndSend
	return n, nil
}

func (n *SMTPNotifier) Deliver(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if note.Email == "" {
		return errors.New("notify: missing recipient")
	}
	subject, body, err := n.render(note)
	if err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", note.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.send(m); err != nil {
		n.logger.Warn("smtp delivery failed",
			zap.String("kind", string(note.Kind)),
			zap.String("principal_id", note.PrincipalID),
			zap.Error(err),
		)
		return fmt.Errorf("smtp send: %w", err)
	}
	n.logger.Debug("notification sent", zap.String("kind", string(note.Kind)), zap.String("principal_id", note.PrincipalID))
	return nil
}

func (n *SMTPNotifier) render(note Notification) (string, string, error) {
	var subject, base string
	switch note.Kind {
	case KindPasswordReset:
		subject, base = "Reset your password", n.cfg.ResetURL
	case KindEmailVerification:
		subject, base = "Verify your email address", n.cfg.VerifyURL
	default:
		return "", "", fmt.Errorf("notify: unknown kind %q", note.Kind)
	}

	link := note.Secret
	if base != "" {
		u, err := url.Parse(base)
		if err != nil {
			return "", "", fmt.Errorf("notify: bad link base: %w", err)
		}
		q := u.Query()
		q.Set("token", note.Secret)
		u.RawQuery = q.Encode()
		link = u.String()
	}

	body := fmt.Sprintf("%s\n\n%s\n\nThis link expires at %s.\n",
		subject, link, note.ExpiresAt.UTC().Format(time.RFC1123))
	return subject, body, nil
}

func (n *SMTPNotifier) dialAndSend(m *mail.Message) error {
	d := mail.NewDialer(n.cfg.Host, n.cfg.Port, n.cfg.Username, n.cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}
	switch n.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	}
	return d.DialAndSend(m)
}
