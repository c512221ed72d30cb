// Package fiat converts crypto amounts into a fiat display currency.
package fiat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	CoinGeckoURL = "https://api.coingecko.com/api/v3"
	RateTTL      = 6 * time.Hour
)

// coinIDs maps exchange tickers to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"USDC": "usd-coin",
	"BNB":  "binancecoin",
	"SOL":  "solana",
	"XRP":  "ripple",
	"LTC":  "litecoin",
}

type cachedRate struct {
	rate      float64
	fetchedAt time.Time
}

// CoinGeckoConverter prices crypto in fiat through the CoinGecko simple price API.
// Rates are cached for RateTTL.
type CoinGeckoConverter struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	rates map[string]cachedRate
}

func NewCoinGeckoConverter(baseURL string, logger *zap.Logger) *CoinGeckoConverter {
	if baseURL == "" {
		baseURL = CoinGeckoURL
	}
	return &CoinGeckoConverter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("fiat"),
		now:     time.Now,
		rates:   make(map[string]cachedRate),
	}
}

func (c *CoinGeckoConverter) Convert(ctx context.Context, amount float64, crypto, fiat string) (float64, error) {
	rate, err := c.Rate(ctx, crypto, fiat)
	if err != nil {
		return 0, err
	}
	return amount * rate, nil
}

// Rate returns the price of one unit of crypto in fiat.
func (c *CoinGeckoConverter) Rate(ctx context.Context, crypto, fiat string) (float64, error) {
	crypto = strings.ToUpper(crypto)
	fiat = strings.ToLower(fiat)
	if strings.EqualFold(crypto, fiat) {
		return 1, nil
	}
	key := crypto + "/" + fiat

	c.mu.Lock()
	cached, ok := c.rates[key]
	c.mu.Unlock()
	if ok && c.now().Sub(cached.fetchedAt) < RateTTL {
		return cached.rate, nil
	}

	rate, err := c.fetch(ctx, crypto, fiat)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.rates[key] = cachedRate{rate: rate, fetchedAt: c.now()}
	c.mu.Unlock()
	c.logger.Debug("Fiat rate refreshed", zap.String("pair", key), zap.Float64("rate", rate))
	return rate, nil
}

func (c *CoinGeckoConverter) fetch(ctx context.Context, crypto, fiat string) (float64, error) {
	id, ok := coinIDs[crypto]
	if !ok {
		id = strings.ToLower(crypto)
	}

	query := url.Values{"ids": {id}, "vs_currencies": {fiat}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("coingecko: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("coingecko: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("coingecko: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	// {"bitcoin":{"usd":43000.12}}
	var prices map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return 0, fmt.Errorf("coingecko: decode response: %w", err)
	}
	rate, ok := prices[id][fiat]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("coingecko: no %s price for %s", fiat, crypto)
	}
	return rate, nil
}
