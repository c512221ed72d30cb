package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/trade_engine/internal/domain"
	"go.uber.org/zap"
)

const notifyTimeout = 5 * time.Second

// notifications delivers operator messages. Delivery is best effort: failures are logged only.
type notifications struct {
	notifier domain.Notifier
	logger   *zap.Logger
}

func (n *notifications) send(ctx context.Context, text string) {
	if n.notifier == nil {
		return
	}
	// Sent after the exchange side effect has happened, so caller cancellation must not drop it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := n.notifier.Send(ctx, text); err != nil {
		n.logger.Warn("Notification failed", zap.Error(err), zap.String("text", text))
	}
}

func buyMessage(pair string, rate float64) string {
	return fmt.Sprintf("Buying [%s] with limit `%.8f`", pair, rate)
}

func sellMessage(pair string, rate, ratio, profit float64, fiat string) string {
	msg := fmt.Sprintf("Selling [%s] with limit `%.8f` (%s)", pair, rate, profitText(ratio, profit))
	if fiat != "" {
		msg += " " + fiat
	}
	return msg
}

func closedMessage(pair string, rate, ratio, profit float64) string {
	return fmt.Sprintf("Closed [%s] at `%.8f` (%s)", pair, rate, profitText(ratio, profit))
}

func stoppedMessage(reason string) string {
	return fmt.Sprintf("Engine stopped: %s", reason)
}

func profitText(ratio, profit float64) string {
	word := "profit"
	if profit < 0 {
		word = "loss"
	}
	return fmt.Sprintf("%s: %.2f%%, %.8f", word, ratio*100, profit)
}
