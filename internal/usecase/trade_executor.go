package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/trade_engine/internal/domain"
)

const defaultCallTimeout = 10 * time.Second

// TradeExecutor places limit orders with a bounded exchange call time.
type TradeExecutor struct {
	exchange domain.Exchange
	timeout  time.Duration
}

func NewTradeExecutor(exchange domain.Exchange, timeout time.Duration) *TradeExecutor {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &TradeExecutor{
		exchange: exchange,
		timeout:  timeout,
	}
}

// Execute places a limit order and returns the exchange order id.
func (e *TradeExecutor) Execute(ctx context.Context, pair string, side domain.Side, rate, amount float64) (string, error) {
	if rate <= 0 || amount <= 0 {
		return "", fmt.Errorf("invalid order for %s: rate=%.8f amount=%.8f", pair, rate, amount)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch side {
	case domain.SideBuy:
		return e.exchange.Buy(ctx, pair, rate, amount)
	case domain.SideSell:
		return e.exchange.Sell(ctx, pair, rate, amount)
	}
	return "", fmt.Errorf("invalid side: %s", side)
}
