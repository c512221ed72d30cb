package domain

import (
	"context"
	"time"
)

// Exchange is the spot exchange capability the engine trades through.
// Implementations return *TransientError for failures worth retrying on a later tick.
type Exchange interface {
	Name() string
	GetTicker(ctx context.Context, pair string) (*Ticker, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
	ValidatePairs(ctx context.Context, pairs []string) error
	GetWalletHealth(ctx context.Context) ([]WalletHealth, error)
	GetMinNotional(ctx context.Context, pair string) (float64, error)
	Buy(ctx context.Context, pair string, rate, amount float64) (string, error)
	Sell(ctx context.Context, pair string, rate, amount float64) (string, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

// CandleSource provides OHLCV history for signal computation.
type CandleSource interface {
	GetCandles(ctx context.Context, pair, interval string, limit int) ([]Candle, error)
}

type SignalType string

const (
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
)

// SignalProvider yields strategy signals for a pair at a point in time.
type SignalProvider interface {
	GetSignal(ctx context.Context, pair string, signal SignalType, asOf time.Time) (bool, error)
}

// PositionRepository defines storage operations for positions.
type PositionRepository interface {
	SavePosition(ctx context.Context, pos *Position) error
	GetPosition(ctx context.Context, id string) (*Position, error)
	QueryPositions(ctx context.Context, isOpen bool) ([]*Position, error)
}

// Notifier delivers a text message to the operator.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// FiatConverter converts a crypto amount into a fiat display currency.
type FiatConverter interface {
	Convert(ctx context.Context, amount float64, crypto, fiat string) (float64, error)
}
