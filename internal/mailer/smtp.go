package mailer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

// SMTPTransport delivers email over SMTP. Deliverability headers
// (List-Unsubscribe with one-click, Precedence: bulk) are set on every
// message so provider feedback loops work out of the box.
type SMTPTransport struct {
	dialer *gomail.Dialer
	logger *zap.Logger
}

func NewSMTPTransport(host string, port int, username, password string, logger *zap.Logger) (*SMTPTransport, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if port <= 0 {
		port = 587
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPTransport{
		dialer: gomail.NewDialer(host, port, username, password),
		logger: logger,
	}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, email Email) error {
	if t == nil || t.dialer == nil {
		return fmt.Errorf("smtp transport is not initialized")
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	m := gomail.NewMessage()
	m.SetHeader("From", email.From)
	m.SetHeader("To", email.To)
	if len(email.CC) > 0 {
		m.SetHeader("Cc", email.CC...)
	}
	if len(email.BCC) > 0 {
		m.SetHeader("Bcc", email.BCC...)
	}
	m.SetHeader("Subject", email.Subject)
	if email.ReplyTo != "" {
		m.SetHeader("Reply-To", email.ReplyTo)
	}
	if email.MessageID != "" {
		m.SetHeader("Message-ID", email.MessageID)
	}
	if email.UnsubscribeURL != "" {
		m.SetHeader("List-Unsubscribe", fmt.Sprintf("<%s>", email.UnsubscribeURL))
		m.SetHeader("List-Unsubscribe-Post", "List-Unsubscribe=One-Click")
	}
	m.SetHeader("Precedence", "bulk")
	if email.BatchID != "" {
		m.SetHeader("X-Batch-Id", email.BatchID)
	}
	if email.EntityRefID != "" {
		m.SetHeader("X-Entity-Ref-ID", email.EntityRefID)
	}

	m.SetBody("text/plain", email.TextBody)
	m.AddAlternative("text/html", email.HTMLBody)

	if err := t.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", email.To, err)
	}

	return nil
}
