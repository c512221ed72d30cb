package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/trade_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/spot"

	category         = "spot"
	recvWindow       = 5000
	instrumentsTTL   = time.Hour
	defaultHTTPLimit = 10 * time.Second
)

// retCodes that mean "try again later": server timeout, rate limits, internal errors.
var transientRetCodes = map[int]bool{
	10000: true,
	10006: true,
	10016: true,
	10429: true,
}

type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
	logger    *zap.Logger

	feed       *TickerFeed
	staleAfter time.Duration

	mu            sync.Mutex
	instruments   map[string]spotInstrument // symbol -> instrument
	instrumentsAt time.Time
	now           func() time.Time
}

type spotInstrument struct {
	domain.Instrument
	basePrecision decimal.Decimal
	tickSize      decimal.Decimal
}

func NewBybitAdapter(apiKey, apiSecret, baseURL string, timeout time.Duration, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if timeout <= 0 {
		timeout = defaultHTTPLimit
	}
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		logger:    logger.Named("bybit"),
		now:       time.Now,
	}
}

// UseTickerFeed serves GetTicker from feed while its data is younger than staleAfter.
func (b *BybitAdapter) UseTickerFeed(feed *TickerFeed, staleAfter time.Duration) {
	b.feed = feed
	b.staleAfter = staleAfter
}

func (b *BybitAdapter) Name() string {
	return "bybit"
}

// Symbol converts "ETH/BTC" to the exchange symbol "ETHBTC".
func Symbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// call sends a signed request and decodes the result field into out.
// GET requests carry query as the query string, POST requests carry body as JSON.
func (b *BybitAdapter) call(ctx context.Context, op, method, path string, query url.Values, body map[string]interface{}, out interface{}) error {
	timestamp := b.now().UnixMilli()

	var (
		payload   []byte
		paramsStr string
		target    = b.baseURL + path
	)
	if method == http.MethodGet {
		paramsStr = query.Encode()
		if paramsStr != "" {
			target += "?" + paramsStr
		}
	} else if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		payload = jsonBody
		paramsStr = string(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		// Network failures and timeouts never reached a decision on the exchange side.
		return domain.NewTransientError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransientError(op, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.NewTransientError(op, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(respBody)))
	case resp.StatusCode >= 400:
		return domain.NewOperationalError(op, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(respBody)))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return domain.NewTransientError(op, fmt.Errorf("decode response: %w", err))
	}
	if env.RetCode != 0 {
		apiErr := &APIError{Code: env.RetCode, Message: env.RetMsg}
		if transientRetCodes[env.RetCode] {
			return domain.NewTransientError(op, apiErr)
		}
		return domain.NewOperationalError(op, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", op, err)
	}
	return nil
}

// APIError is a non-zero retCode answer from Bybit.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error %d: %s", e.Code, e.Message)
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func (b *BybitAdapter) GetTicker(ctx context.Context, pair string) (*domain.Ticker, error) {
	symbol := Symbol(pair)
	if b.feed != nil {
		if t, ok := b.feed.Ticker(symbol); ok && b.now().Sub(t.UpdatedAt) <= b.staleAfter && t.Bid > 0 && t.Ask > 0 && t.Last > 0 {
			t.Pair = pair
			return &t, nil
		}
	}

	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {symbol}}
	if err := b.call(ctx, "get_ticker", http.MethodGet, "/v5/market/tickers", query, nil, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, domain.NewOperationalError("get_ticker", fmt.Errorf("symbol %s not found", symbol))
	}

	item := result.List[0]
	bid, _ := strconv.ParseFloat(item.Bid1Price, 64)
	ask, _ := strconv.ParseFloat(item.Ask1Price, 64)
	last, _ := strconv.ParseFloat(item.LastPrice, 64)
	return &domain.Ticker{Pair: pair, Bid: bid, Ask: ask, Last: last, UpdatedAt: b.now()}, nil
}

// GetBalance returns the free (wallet minus locked) balance of asset.
func (b *BybitAdapter) GetBalance(ctx context.Context, asset string) (float64, error) {
	var result struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	query := url.Values{"accountType": {"UNIFIED"}, "coin": {strings.ToUpper(asset)}}
	if err := b.call(ctx, "get_balance", http.MethodGet, "/v5/account/wallet-balance", query, nil, &result); err != nil {
		return 0, err
	}

	for _, account := range result.List {
		for _, c := range account.Coin {
			if !strings.EqualFold(c.Coin, asset) {
				continue
			}
			wallet, _ := strconv.ParseFloat(c.WalletBalance, 64)
			locked, _ := strconv.ParseFloat(c.Locked, 64)
			return wallet - locked, nil
		}
	}
	return 0, nil
}

func (b *BybitAdapter) loadInstruments(ctx context.Context) (map[string]spotInstrument, error) {
	b.mu.Lock()
	if b.instruments != nil && b.now().Sub(b.instrumentsAt) < instrumentsTTL {
		cached := b.instruments
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			BaseCoin      string `json:"baseCoin"`
			QuoteCoin     string `json:"quoteCoin"`
			Status        string `json:"status"`
			LotSizeFilter struct {
				BasePrecision string `json:"basePrecision"`
				MinOrderAmt   string `json:"minOrderAmt"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}}
	if err := b.call(ctx, "instruments", http.MethodGet, "/v5/market/instruments-info", query, nil, &result); err != nil {
		return nil, err
	}

	instruments := make(map[string]spotInstrument, len(result.List))
	for _, item := range result.List {
		minAmt, _ := strconv.ParseFloat(item.LotSizeFilter.MinOrderAmt, 64)
		precision, err := decimal.NewFromString(item.LotSizeFilter.BasePrecision)
		if err != nil {
			precision = decimal.Zero
		}
		tick, err := decimal.NewFromString(item.PriceFilter.TickSize)
		if err != nil {
			tick = decimal.Zero
		}
		instruments[item.Symbol] = spotInstrument{
			Instrument: domain.Instrument{
				Symbol:      item.Symbol,
				BaseCoin:    item.BaseCoin,
				QuoteCoin:   item.QuoteCoin,
				Status:      item.Status,
				MinOrderAmt: minAmt,
			},
			basePrecision: precision,
			tickSize:      tick,
		}
	}

	b.mu.Lock()
	b.instruments = instruments
	b.instrumentsAt = b.now()
	b.mu.Unlock()
	return instruments, nil
}

// Instruments lists the spot instruments of the exchange.
func (b *BybitAdapter) Instruments(ctx context.Context) ([]domain.Instrument, error) {
	instruments, err := b.loadInstruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		out = append(out, inst.Instrument)
	}
	return out, nil
}

// ValidatePairs fails when any pair is unknown or not trading.
func (b *BybitAdapter) ValidatePairs(ctx context.Context, pairs []string) error {
	instruments, err := b.loadInstruments(ctx)
	if err != nil {
		return err
	}

	var invalid []string
	for _, pair := range pairs {
		base, quote, err := domain.SplitPair(pair)
		if err != nil {
			invalid = append(invalid, pair)
			continue
		}
		inst, ok := instruments[base+quote]
		if !ok || inst.Status != "Trading" {
			invalid = append(invalid, pair)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("pairs not available on %s: %s", b.Name(), strings.Join(invalid, ", "))
	}
	return nil
}

func (b *BybitAdapter) instrument(ctx context.Context, pair string) (spotInstrument, error) {
	instruments, err := b.loadInstruments(ctx)
	if err != nil {
		return spotInstrument{}, err
	}
	inst, ok := instruments[Symbol(pair)]
	if !ok {
		return spotInstrument{}, domain.NewOperationalError("instrument", fmt.Errorf("unknown pair %s", pair))
	}
	return inst, nil
}

// GetMinNotional is the minimum order value in quote currency.
func (b *BybitAdapter) GetMinNotional(ctx context.Context, pair string) (float64, error) {
	inst, err := b.instrument(ctx, pair)
	if err != nil {
		return 0, err
	}
	return inst.MinOrderAmt, nil
}

// GetWalletHealth reports a coin active when at least one chain allows deposit and withdrawal.
func (b *BybitAdapter) GetWalletHealth(ctx context.Context) ([]domain.WalletHealth, error) {
	var result struct {
		Rows []struct {
			Coin   string `json:"coin"`
			Chains []struct {
				ChainDeposit  string `json:"chainDeposit"`
				ChainWithdraw string `json:"chainWithdraw"`
			} `json:"chains"`
		} `json:"rows"`
	}
	if err := b.call(ctx, "wallet_health", http.MethodGet, "/v5/asset/coin/query-info", url.Values{}, nil, &result); err != nil {
		return nil, err
	}

	health := make([]domain.WalletHealth, 0, len(result.Rows))
	for _, row := range result.Rows {
		active := false
		for _, chain := range row.Chains {
			if chain.ChainDeposit == "1" && chain.ChainWithdraw == "1" {
				active = true
				break
			}
		}
		health = append(health, domain.WalletHealth{Currency: strings.ToUpper(row.Coin), Active: active})
	}
	return health, nil
}

func (b *BybitAdapter) Buy(ctx context.Context, pair string, rate, amount float64) (string, error) {
	return b.placeLimitOrder(ctx, pair, "Buy", rate, amount)
}

func (b *BybitAdapter) Sell(ctx context.Context, pair string, rate, amount float64) (string, error) {
	return b.placeLimitOrder(ctx, pair, "Sell", rate, amount)
}

func (b *BybitAdapter) placeLimitOrder(ctx context.Context, pair, side string, rate, amount float64) (string, error) {
	inst, err := b.instrument(ctx, pair)
	if err != nil {
		return "", err
	}
	qty := roundDown(decimal.NewFromFloat(amount), inst.basePrecision)
	price := roundDown(decimal.NewFromFloat(rate), inst.tickSize)
	if !qty.IsPositive() || !price.IsPositive() {
		return "", domain.NewOperationalError("place_order", fmt.Errorf("%s %s: quantity %s or price %s rounds to zero", side, pair, qty, price))
	}

	body := map[string]interface{}{
		"category":    category,
		"symbol":      inst.Symbol,
		"side":        side,
		"orderType":   "Limit",
		"qty":         qty.String(),
		"price":       price.String(),
		"timeInForce": "GTC",
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := b.call(ctx, "place_order", http.MethodPost, "/v5/order/create", nil, body, &result); err != nil {
		return "", err
	}
	b.logger.Info("Limit order placed",
		zap.String("symbol", inst.Symbol),
		zap.String("side", side),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()),
		zap.String("order_id", result.OrderID))
	return result.OrderID, nil
}

// roundDown truncates v to a multiple of step. A zero step leaves v unchanged.
func roundDown(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

type orderRecord struct {
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	LeavesQty   string `json:"leavesQty"`
	OrderStatus string `json:"orderStatus"`
}

var errOrderNotFound = errors.New("order not found")

func (b *BybitAdapter) findOrder(ctx context.Context, path, orderID string) (*orderRecord, error) {
	var result struct {
		List []orderRecord `json:"list"`
	}
	query := url.Values{"category": {category}, "orderId": {orderID}}
	if err := b.call(ctx, "get_order", http.MethodGet, path, query, nil, &result); err != nil {
		return nil, err
	}
	for i := range result.List {
		if result.List[i].OrderID == orderID {
			return &result.List[i], nil
		}
	}
	return nil, errOrderNotFound
}

// GetOrder looks the order up among open orders first, then in the order history.
func (b *BybitAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	rec, err := b.findOrder(ctx, "/v5/order/realtime", orderID)
	if errors.Is(err, errOrderNotFound) {
		rec, err = b.findOrder(ctx, "/v5/order/history", orderID)
	}
	if errors.Is(err, errOrderNotFound) {
		return nil, domain.NewOperationalError("get_order", fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound))
	}
	if err != nil {
		return nil, err
	}

	switch rec.OrderStatus {
	case "Cancelled", "Rejected", "PartiallyFilledCanceled", "Deactivated":
		return nil, domain.NewOperationalError("get_order", fmt.Errorf("order %s is %s", orderID, rec.OrderStatus))
	}

	qty, _ := strconv.ParseFloat(rec.Qty, 64)
	filledQty, _ := strconv.ParseFloat(rec.CumExecQty, 64)
	leaves, _ := strconv.ParseFloat(rec.LeavesQty, 64)
	avg, _ := strconv.ParseFloat(rec.AvgPrice, 64)

	side := domain.SideBuy
	if rec.Side == "Sell" {
		side = domain.SideSell
	}
	order := &domain.Order{
		ID:        rec.OrderID,
		Pair:      b.pairFor(rec.Symbol),
		Side:      side,
		Rate:      avg,
		Amount:    filledQty,
		Remaining: leaves,
		Filled:    rec.OrderStatus == "Filled",
	}
	if !order.Filled {
		order.Amount = qty
	}
	return order, nil
}

func (b *BybitAdapter) pairFor(symbol string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst, ok := b.instruments[symbol]; ok {
		return inst.BaseCoin + "/" + inst.QuoteCoin
	}
	return symbol
}

func (b *BybitAdapter) GetCandles(ctx context.Context, pair, interval string, limit int) ([]domain.Candle, error) {
	var result struct {
		List [][]string `json:"list"`
	}
	query := url.Values{
		"category": {category},
		"symbol":   {Symbol(pair)},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := b.call(ctx, "kline", http.MethodGet, "/v5/market/kline", query, nil, &result); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(result.List))
	for _, raw := range result.List {
		// Format: [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}

		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		open, _ := strconv.ParseFloat(raw[1], 64)
		high, _ := strconv.ParseFloat(raw[2], 64)
		low, _ := strconv.ParseFloat(raw[3], 64)
		closePrice, _ := strconv.ParseFloat(raw[4], 64)
		volume, _ := strconv.ParseFloat(raw[5], 64)

		candles = append(candles, domain.Candle{
			Time:   ts / 1000,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	// Bybit returns newest first; callers expect oldest first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}

	return candles, nil
}
