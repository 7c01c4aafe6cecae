// Package alert notifies an operator about failed or degraded runs.
// Sending is always best-effort; a broken alert channel never fails the
// purchase flow.
package alert

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier delivers one operator notification.
type Notifier interface {
	Send(ctx context.Context, subject, message string) error
}

// Noop discards notifications.
type Noop struct{}

// Send does nothing.
func (Noop) Send(context.Context, string, string) error { return nil }

// Log writes notifications to the process log. Used by the local runner.
type Log struct {
	Logger zerolog.Logger
}

// Send logs the notification at warn level.
func (l Log) Send(_ context.Context, subject, message string) error {
	l.Logger.Warn().Str("subject", subject).Str("message", message).Msg("operator alert")
	return nil
}
