// Package notify implements the notification backends behind the rule
// engine's notify action. The log backend writes structured log lines; the
// smtp backend delivers a small digest mail through a submission server.
package notify

import (
	"context"
	"fmt"

	"github.com/kochj23/mailsummary/config"
	"github.com/kochj23/mailsummary/logger"
	"github.com/kochj23/mailsummary/pkg/metrics"
	"github.com/kochj23/mailsummary/rules"
)

// NewFromConfig builds the configured notification backend. An empty
// backend selects the log notifier.
func NewFromConfig(cfg config.NotifierConfig) (rules.Notifier, error) {
	switch cfg.Backend {
	case "", "log":
		return &LogNotifier{}, nil
	case "smtp":
		return NewSMTPNotifier(cfg), nil
	default:
		return nil, fmt.Errorf("unknown notifier backend %q", cfg.Backend)
	}
}

// LogNotifier emits notifications as log lines. It never fails, which
// makes it the safe default.
type LogNotifier struct{}

func (n *LogNotifier) Notify(ctx context.Context, title, body string) error {
	logger.InfoContext(ctx, "notification", "title", title, "body", body)
	metrics.NotificationsTotal.WithLabelValues("log", "success").Inc()
	return nil
}
