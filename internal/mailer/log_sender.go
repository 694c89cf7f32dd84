package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of sending them. Used when
// SMTP is not configured or dry_run is set.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("email (dry run)", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	s.logger.Debug("email body (dry run)", zap.String("to", msg.To), zap.String("text", msg.Text))
	return nil
}
