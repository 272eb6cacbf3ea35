package notify

import (
	"context"
	"log/slog"

	id "relay/pkg/domain"
)

// LogNotifier writes notifications to the log. It is the default sink when no
// broker is configured. The principal is not logged.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, _ id.Principal, text string) error {
	n.logger.InfoContext(ctx, "notification", "text", text)
	return nil
}
