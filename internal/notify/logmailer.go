package notify

import (
	"context"
	"strings"

	"ordergate/internal/logger"
)

// LogMailer writes messages to the log instead of sending them. It backs the
// notifier when email delivery is disabled.
type LogMailer struct {
	log *logger.Logger
}

// NewLogMailer returns a mailer that only logs.
func NewLogMailer(log *logger.Logger) *LogMailer {
	return &LogMailer{log: log.WithComponent("mailer")}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("email delivery disabled; message not sent",
		"to", strings.Join(msg.To, ","), "subject", msg.Subject, "body_bytes", len(msg.HTMLBody))
	return nil
}
