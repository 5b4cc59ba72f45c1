package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/require"
)

func TestSMTPNotifierRendersLink(t *testing.T) {
	n, err := NewSMTPNotifier(SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		From:     "no-reply@example.com",
		ResetURL: "https://app.example.com/reset",
	}, nil)
	require.NoError(t, err)

	var sent *mail.Message
	n.send = func(m *mail.Message) error {
		sent = m
		return nil
	}

	err = n.Deliver(context.Background(), Notification{
		Kind:      KindPasswordReset,
		Email:     "jane@example.com",
		Secret:    "abc_DEF-123",
		ExpiresAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotNil(t, sent)
	require.Equal(t, []string{"jane@example.com"}, sent.GetHeader("To"))

	var buf bytes.Buffer
	_, err = sent.WriteTo(&buf)
	require.NoError(t, err)
	require.True(t, strings.Contains(buf.String(), "https://app.example.com/reset?token=3Dabc_DEF-123") ||
		strings.Contains(buf.String(), "https://app.example.com/reset?token=abc_DEF-123"))
}

func TestSMTPNotifierPropagatesFailure(t *testing.T) {
	n, err := NewSMTPNotifier(SMTPConfig{Host: "h", Port: 25, From: "f@example.com"}, nil)
	require.NoError(t, err)
	n.send = func(*mail.Message) error { return errors.New("connection refused") }

	err = n.Deliver(context.Background(), Notification{Kind: KindEmailVerification, Email: "x@example.com", Secret: "s"})
	require.ErrorContains(t, err, "connection refused")
}

func TestSMTPNotifierValidation(t *testing.T) {
	_, err := NewSMTPNotifier(SMTPConfig{}, nil)
	require.Error(t, err)

	n, err := NewSMTPNotifier(SMTPConfig{Host: "h", Port: 25, From: "f@example.com"}, nil)
	require.NoError(t, err)
	require.Error(t, n.Deliver(context.Background(), Notification{Kind: "sms", Email: "x@example.com"}))
	require.Error(t, n.Deliver(context.Background(), Notification{Kind: KindPasswordReset}))
}
