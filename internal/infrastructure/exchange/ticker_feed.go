package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/trade_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	pingInterval      = 20 * time.Second
	reconnectDelayMin = time.Second
	reconnectDelayMax = time.Minute
)

// TickerFeed keeps the latest top of book and last trade per symbol from the public spot stream.
type TickerFeed struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	tickers map[string]domain.Ticker
}

func NewTickerFeed(wsURL string, logger *zap.Logger) *TickerFeed {
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	return &TickerFeed{
		url:     wsURL,
		dialer:  websocket.DefaultDialer,
		logger:  logger.Named("ticker_feed"),
		now:     time.Now,
		tickers: make(map[string]domain.Ticker),
	}
}

// Ticker returns the latest snapshot for an exchange symbol such as "ETHBTC".
func (f *TickerFeed) Ticker(symbol string) (domain.Ticker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tickers[symbol]
	return t, ok
}

// Run streams the pairs until ctx is done, reconnecting with backoff on failures.
func (f *TickerFeed) Run(ctx context.Context, pairs []string) error {
	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		symbols = append(symbols, Symbol(p))
	}

	delay := reconnectDelayMin
	for {
		started := f.now()
		err := f.session(ctx, symbols)
		if ctx.Err() != nil {
			return nil
		}
		if f.now().Sub(started) > reconnectDelayMax {
			delay = reconnectDelayMin
		}
		f.logger.Warn("Ticker stream disconnected, reconnecting",
			zap.Error(err), zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectDelayMax {
			delay = reconnectDelayMax
		}
	}
}

func (f *TickerFeed) session(ctx context.Context, symbols []string) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	if err := write(subscribeMessage(symbols)); err != nil {
		return err
	}
	f.logger.Info("Ticker stream subscribed", zap.Strings("symbols", symbols))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := write(map[string]interface{}{"op": "ping"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(message)
	}
}

func subscribeMessage(symbols []string) map[string]interface{} {
	args := make([]interface{}, 0, 2*len(symbols))
	for _, s := range symbols {
		args = append(args, "orderbook.1."+s)
	}
	for _, s := range symbols {
		args = append(args, "publicTrade."+s)
	}
	return map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	}
}

func (f *TickerFeed) handleMessage(message []byte) {
	var event map[string]interface{}
	if err := json.Unmarshal(message, &event); err != nil {
		f.logger.Debug("Ticker stream unmarshal error", zap.Error(err))
		return
	}

	topic, ok := event["topic"].(string)
	if !ok {
		return
	}

	switch {
	case strings.HasPrefix(topic, "orderbook.1."):
		data, ok := event["data"].(map[string]interface{})
		if !ok {
			return
		}
		symbol := strings.TrimPrefix(topic, "orderbook.1.")
		ask, askOK := bestLevel(data["a"])
		bid, bidOK := bestLevel(data["b"])
		if !askOK && !bidOK {
			return
		}
		f.update(symbol, func(t *domain.Ticker) {
			if askOK {
				t.Ask = ask
			}
			if bidOK {
				t.Bid = bid
			}
		})
	case strings.HasPrefix(topic, "publicTrade."):
		data, ok := event["data"].([]interface{})
		if !ok || len(data) == 0 {
			return
		}
		symbol := strings.TrimPrefix(topic, "publicTrade.")
		// Trades arrive oldest first within a message.
		trade, ok := data[len(data)-1].(map[string]interface{})
		if !ok {
			return
		}
		priceStr, _ := trade["p"].(string)
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil || price <= 0 {
			return
		}
		f.update(symbol, func(t *domain.Ticker) { t.Last = price })
	}
}

// bestLevel parses the first [price, size] entry of an order book side.
func bestLevel(raw interface{}) (float64, bool) {
	levels, ok := raw.([]interface{})
	if !ok || len(levels) == 0 {
		return 0, false
	}
	entry, ok := levels[0].([]interface{})
	if !ok || len(entry) < 1 {
		return 0, false
	}
	priceStr, ok := entry[0].(string)
	if !ok {
		return 0, false
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

func (f *TickerFeed) update(symbol string, apply func(*domain.Ticker)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tickers[symbol]
	apply(&t)
	t.UpdatedAt = f.now()
	f.tickers[symbol] = t
}
