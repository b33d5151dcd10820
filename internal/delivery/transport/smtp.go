package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// SMTPConfig holds SMTP server connection configuration
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPTransport sends mail through a plain SMTP server.
// There is no call-site timeout: a hung server stalls the calling worker.
type SMTPTransport struct {
	config *SMTPConfig
	logger *slog.Logger
}

// NewSMTPTransport creates an SMTP-backed transport.
func NewSMTPTransport(config *SMTPConfig, logger *slog.Logger) *SMTPTransport {
	return &SMTPTransport{
		config: config,
		logger: logger,
	}
}

// Send transmits one HTML email to the recipient.
func (t *SMTPTransport) Send(ctx context.Context, recipient, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)

	var auth smtp.Auth
	if t.config.User != "" {
		auth = smtp.PlainAuth("", t.config.User, t.config.Password, t.config.Host)
	}

	msg := buildMessage(t.config.From, recipient, subject, htmlBody)

	if err := smtp.SendMail(addr, auth, t.config.From, []string{recipient}, msg); err != nil {
		t.logger.Error("Failed to send email",
			slog.String("recipient", recipient),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to send email to %s: %w", recipient, err)
	}

	t.logger.Debug("Email sent",
		slog.String("recipient", recipient),
		slog.String("subject", subject),
	)

	return nil
}

// buildMessage assembles a minimal HTML MIME message.
func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")

	return []byte(b.String())
}
