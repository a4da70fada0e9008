package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogMailer writes messages to the logger instead of delivering them.
// It stands in for SMTP when no host is configured.
type LogMailer struct {
	Logger *zap.Logger
}

func (l LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.Logger.Info("mail_logged",
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
