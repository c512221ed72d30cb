package strategy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_engine/internal/domain"
	"github.com/vitos/trade_engine/internal/strategy"
	"go.uber.org/zap"
)

type MockCandleSource struct {
	Candles []domain.Candle
	Err     error
	Calls   int
}

func (m *MockCandleSource) GetCandles(ctx context.Context, pair, interval string, limit int) ([]domain.Candle, error) {
	m.Calls++
	return m.Candles, m.Err
}

var asOf = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// series builds 5 minute candles from closes, the newest ending at asOf.
func series(closes []float64, green bool) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	start := asOf.Add(-time.Duration(len(closes)) * 5 * time.Minute)
	for i, c := range closes {
		open := c + 0.5
		if green {
			open = c - 0.5
		}
		out[i] = domain.Candle{
			Time:   start.Add(time.Duration(i+1) * 5 * time.Minute).Unix(),
			Open:   open,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 100,
		}
	}
	return out
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestRules_Compile(t *testing.T) {
	rules := strategy.Rules{
		Guards: []strategy.Guard{
			{Indicator: "mfi", Enabled: true, Value: 20},
			{Indicator: "adx", Enabled: false, Value: 30},
			{Indicator: "green_candle", Enabled: true},
		},
		Trigger: "macd_cross_signal",
	}
	preds, err := rules.Compile()
	require.NoError(t, err)

	names := make([]string, len(preds))
	for i, p := range preds {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"mfi", "green_candle", "macd_cross_signal"}, names)

	_, err = strategy.Rules{Guards: []strategy.Guard{{Indicator: "vwap", Enabled: false}}}.Compile()
	assert.Error(t, err, "unknown guards are rejected even when disabled")

	_, err = strategy.Rules{Trigger: "moon"}.Compile()
	assert.Error(t, err)

	preds, err = strategy.Rules{Trigger: strategy.TriggerNone}.Compile()
	require.NoError(t, err)
	assert.Empty(t, preds)

	assert.NoError(t, strategy.DefaultBuyRules().Validate())
	assert.NoError(t, strategy.DefaultSellRules().Validate())
}

func TestMatch(t *testing.T) {
	frame := strategy.NewFrame(series(rising(strategy.MinCandles), true))
	yes := strategy.Predicate{Name: "yes", Eval: func(*strategy.Frame, int) bool { return true }}
	no := strategy.Predicate{Name: "no", Eval: func(*strategy.Frame, int) bool { return false }}
	last := frame.Len() - 1

	assert.True(t, strategy.Match([]strategy.Predicate{yes, yes}, frame, last))
	assert.False(t, strategy.Match([]strategy.Predicate{yes, no}, frame, last))
	assert.False(t, strategy.Match(nil, frame, last))
	assert.False(t, strategy.Match([]strategy.Predicate{yes}, frame, frame.Len()))
}

func newProvider(t *testing.T, src *MockCandleSource, buy, sell strategy.Rules) *strategy.Provider {
	t.Helper()
	p, err := strategy.NewProvider(src, strategy.Config{Buy: buy, Sell: sell}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestProvider_GetSignal(t *testing.T) {
	greenOnly := strategy.Rules{Guards: []strategy.Guard{{Indicator: "green_candle", Enabled: true}}}
	uptrend := strategy.Rules{
		Guards: []strategy.Guard{
			{Indicator: "uptrend_short_ema", Enabled: true},
			{Indicator: "uptrend_long_ema", Enabled: true},
			{Indicator: "uptrend_sma", Enabled: true},
		},
		Trigger: strategy.TriggerNone,
	}

	falling := make([]float64, 150)
	for i := range falling {
		falling[i] = 500 - float64(i)
	}
	reversal := append(append([]float64{}, falling...), falling[len(falling)-1]+100)

	tests := []struct {
		name    string
		candles []domain.Candle
		rules   strategy.Rules
		want    bool
	}{
		{"Green Candle", series(rising(150), true), greenOnly, true},
		{"Red Candle", series(rising(150), false), greenOnly, false},
		{"Uptrend", series(rising(150), true), uptrend, true},
		{"Downtrend", series(falling, true), uptrend, false},
		{"EMA Cross On Reversal", series(reversal, true), strategy.Rules{Trigger: "ema5_cross_ema10"}, true},
		{"No EMA Cross In Uptrend", series(rising(150), true), strategy.Rules{Trigger: "ema5_cross_ema10"}, false},
		{"Too Few Candles", series(rising(strategy.MinCandles-1), true), greenOnly, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &MockCandleSource{Candles: tt.candles}
			p := newProvider(t, src, tt.rules, strategy.Rules{})

			got, err := p.GetSignal(context.Background(), "ETH/BTC", domain.SignalBuy, asOf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProvider_StaleCandles(t *testing.T) {
	src := &MockCandleSource{Candles: series(rising(150), true)}
	greenOnly := strategy.Rules{Guards: []strategy.Guard{{Indicator: "green_candle", Enabled: true}}}
	p := newProvider(t, src, greenOnly, greenOnly)

	got, err := p.GetSignal(context.Background(), "ETH/BTC", domain.SignalSell, asOf.Add(9*time.Minute))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = p.GetSignal(context.Background(), "ETH/BTC", domain.SignalSell, asOf.Add(11*time.Minute))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestProvider_EmptyRulesSkipFetch(t *testing.T) {
	src := &MockCandleSource{Candles: series(rising(150), true)}
	p := newProvider(t, src, strategy.Rules{}, strategy.Rules{})

	got, err := p.GetSignal(context.Background(), "ETH/BTC", domain.SignalBuy, asOf)
	require.NoError(t, err)
	assert.False(t, got)
	assert.Zero(t, src.Calls)
}

func TestProvider_Errors(t *testing.T) {
	src := &MockCandleSource{Err: domain.NewTransientError("kline", errors.New("timeout"))}
	greenOnly := strategy.Rules{Guards: []strategy.Guard{{Indicator: "green_candle", Enabled: true}}}
	p := newProvider(t, src, greenOnly, greenOnly)

	_, err := p.GetSignal(context.Background(), "ETH/BTC", domain.SignalBuy, asOf)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	_, err = p.GetSignal(context.Background(), "ETH/BTC", domain.SignalType("hold"), asOf)
	assert.Error(t, err)

	_, err = strategy.NewProvider(src, strategy.Config{Buy: strategy.Rules{Trigger: "moon"}}, zap.NewNop())
	assert.Error(t, err)
}
