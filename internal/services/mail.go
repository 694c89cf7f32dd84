package services

import (
	"go.uber.org/zap"

	"passgate/internal/mailer"
)

// MailQueue is satisfied by *mailer.Dispatcher.
type MailQueue interface {
	Enqueue(msg mailer.Message) (string, error)
}

// queueMail hands msg to the queue. Delivery is best effort: a full or
// closed queue is logged and reported as false, never as an error.
func queueMail(q MailQueue, logger *zap.Logger, msg mailer.Message, err error) bool {
	if err != nil {
		logger.Error("failed to render email", zap.String("to", msg.To), zap.Error(err))
		return false
	}
	if q == nil {
		logger.Warn("no mail queue configured, email skipped", zap.String("to", msg.To))
		return false
	}
	id, err := q.Enqueue(msg)
	if err != nil {
		logger.Error("failed to queue email", zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.Error(err))
		return false
	}
	logger.Debug("email queued", zap.String("job_id", id), zap.String("to", msg.To))
	return true
}
