// Package notify delivers operator messages to one or more channels.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sender is a single delivery channel.
type Sender interface {
	Send(ctx context.Context, text string) error
	Name() string
}

// Notifier fans a message out to every sender. A failing sender does not block the others.
type Notifier struct {
	senders []Sender
	logger  *zap.Logger
}

func NewNotifier(logger *zap.Logger, senders ...Sender) *Notifier {
	return &Notifier{senders: senders, logger: logger.Named("notifier")}
}

func (n *Notifier) Send(ctx context.Context, text string) error {
	var errs error
	for _, s := range n.senders {
		if err := s.Send(ctx, text); err != nil {
			n.logger.Error("Sender failed", zap.String("sender", s.Name()), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.Debug("Notification sent", zap.String("sender", s.Name()))
	}
	return errs
}

// LogSender writes messages to the log. It is the fallback channel when no chat is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("notify")}
}

func (l *LogSender) Send(_ context.Context, text string) error {
	l.logger.Info("Notification", zap.String("text", text))
	return nil
}

func (l *LogSender) Name() string {
	return "log"
}
