package notify

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// LogSender writes notifications to the structured log at a level matching
// their severity.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "notification"))}
}

func (l *LogSender) Send(ctx context.Context, n domain.Notification) error {
	level := slog.LevelInfo
	switch n.Severity {
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, n.Title,
		slog.String("event", n.Event),
		slog.String("severity", string(n.Severity)),
		slog.String("description", n.Description),
	)
	return nil
}

func (l *LogSender) Name() string { return "log" }
