package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers human-readable alerts to moderators and guild
// administrators. Delivery is best-effort: callers log failures and move on,
// a bounced message never blocks a moderation decision.
type Notifier interface {
	NotifyModerator(ctx context.Context, userID, text string) error
	NotifyAdministrators(ctx context.Context, guildID, text string) error
}

// LogNotifier writes alerts to the structured log instead of delivering
// them. Used as the default when no delivery channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger.With("system", "notify")}
}

func (n *LogNotifier) NotifyModerator(ctx context.Context, userID, text string) error {
	n.Logger.Info("moderator notification", "userID", userID, "text", text)
	return nil
}

func (n *LogNotifier) NotifyAdministrators(ctx context.Context, guildID, text string) error {
	n.Logger.Info("administrator notification", "guildID", guildID, "text", text)
	return nil
}
