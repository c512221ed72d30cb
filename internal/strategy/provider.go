package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/trade_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultInterval    = "5"
	defaultCandleLimit = 200
	// DefaultStaleAfter is the maximum age of the newest candle a signal may be computed from.
	DefaultStaleAfter = 10 * time.Minute
)

type Config struct {
	Interval    string
	CandleLimit int
	StaleAfter  time.Duration
	Buy         Rules
	Sell        Rules
}

// Provider computes buy/sell signals from exchange candles.
type Provider struct {
	candles domain.CandleSource
	cfg     Config
	buy     []Predicate
	sell    []Predicate
	logger  *zap.Logger
}

func NewProvider(candles domain.CandleSource, cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.Interval == "" {
		cfg.Interval = defaultInterval
	}
	if cfg.CandleLimit < MinCandles {
		cfg.CandleLimit = defaultCandleLimit
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	buy, err := cfg.Buy.Compile()
	if err != nil {
		return nil, fmt.Errorf("buy rules: %w", err)
	}
	sell, err := cfg.Sell.Compile()
	if err != nil {
		return nil, fmt.Errorf("sell rules: %w", err)
	}

	return &Provider{
		candles: candles,
		cfg:     cfg,
		buy:     buy,
		sell:    sell,
		logger:  logger.Named("strategy"),
	}, nil
}

// GetSignal evaluates the rules for signal on the newest candle. Short or stale history
// yields false without an error.
func (p *Provider) GetSignal(ctx context.Context, pair string, signal domain.SignalType, asOf time.Time) (bool, error) {
	var preds []Predicate
	switch signal {
	case domain.SignalBuy:
		preds = p.buy
	case domain.SignalSell:
		preds = p.sell
	default:
		return false, fmt.Errorf("unknown signal type %q", signal)
	}
	if len(preds) == 0 {
		return false, nil
	}

	candles, err := p.candles.GetCandles(ctx, pair, p.cfg.Interval, p.cfg.CandleLimit)
	if err != nil {
		return false, fmt.Errorf("get candles %s: %w", pair, err)
	}
	if len(candles) < MinCandles {
		p.logger.Warn("Not enough candles for signal",
			zap.String("pair", pair),
			zap.Int("candles", len(candles)))
		return false, nil
	}

	last := candles[len(candles)-1]
	signalTime := time.Unix(last.Time, 0)
	if asOf.Sub(signalTime) > p.cfg.StaleAfter {
		p.logger.Warn("Outdated candle history, ignoring signal",
			zap.String("pair", pair),
			zap.Time("candle", signalTime),
			zap.Time("as_of", asOf))
		return false, nil
	}

	frame := NewFrame(candles)
	result := Match(preds, frame, frame.Len()-1)
	p.logger.Debug("Signal evaluated",
		zap.String("pair", pair),
		zap.String("signal", string(signal)),
		zap.Bool("result", result))
	return result, nil
}
