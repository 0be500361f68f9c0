package notify

import (
	"context"
	"log/slog"

	"volunteersync.org/internal/obs"
)

// Log writes each message to the logger instead of sending it. Bodies carry
// codes and reset links, so it is meant for development only.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

func (l *Log) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "email", "to", to, "subject", subject, "body", body)
	obs.DeliveryAttempt("log", "sent")
	return nil
}
