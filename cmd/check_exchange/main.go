package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vitos/trade_engine/internal/config"
	"github.com/vitos/trade_engine/internal/domain"
	"github.com/vitos/trade_engine/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	path := "config/config.yaml"
	if p := os.Getenv("BOT_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ex := cfg.Exchange
	adapter := exchange.NewBybitAdapter(ex.APIKey, ex.APISecret, ex.RESTEndpoint, ex.Timeout, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// 2. Balance
	fmt.Printf("Checking %s...\n", adapter.Name())
	balance, err := adapter.GetBalance(ctx, cfg.StakeCurrency)
	if err != nil {
		fmt.Printf("❌ Balance: %v\n", err)
	} else {
		fmt.Printf("✅ Balance: %.8f %s\n", balance, cfg.StakeCurrency)
	}

	// 3. Markets
	if err := adapter.ValidatePairs(ctx, ex.PairWhitelist); err != nil {
		fmt.Printf("❌ Whitelist: %v\n", err)
	} else {
		fmt.Printf("✅ Whitelist: %d pairs trading\n", len(ex.PairWhitelist))
	}

	// 4. Wallet health
	active := make(map[string]bool)
	health, err := adapter.GetWalletHealth(ctx)
	if err != nil {
		fmt.Printf("⚠️ Wallet health unavailable: %v\n", err)
	}
	for _, h := range health {
		active[h.Currency] = h.Active
	}

	// 5. Per pair
	for _, pair := range ex.PairWhitelist {
		fmt.Printf("\n%s\n", pair)

		ticker, err := adapter.GetTicker(ctx, pair)
		if err != nil {
			fmt.Printf("  ❌ Ticker: %v\n", err)
		} else {
			fmt.Printf("  Ticker: bid=%.8f ask=%.8f last=%.8f\n", ticker.Bid, ticker.Ask, ticker.Last)
		}

		minNotional, err := adapter.GetMinNotional(ctx, pair)
		if err != nil {
			fmt.Printf("  ❌ Min notional: %v\n", err)
		} else {
			fmt.Printf("  Min notional: %.8f %s\n", minNotional, cfg.StakeCurrency)
		}

		base, _, err := domain.SplitPair(pair)
		if err != nil {
			continue
		}
		if ok, known := active[base]; !known {
			fmt.Printf("  ⚠️ Wallet %s: unknown\n", base)
		} else if ok {
			fmt.Printf("  ✅ Wallet %s: active\n", base)
		} else {
			fmt.Printf("  ❌ Wallet %s: deposits or withdrawals suspended\n", base)
		}
	}
}
