package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/trade_engine/internal/config"
	"github.com/vitos/trade_engine/internal/infrastructure/storage"
)

func main() {
	path := "config/config.yaml"
	if p := os.Getenv("BOT_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	for _, isOpen := range []bool{true, false} {
		positions, err := store.QueryPositions(ctx, isOpen)
		if err != nil {
			fmt.Printf("Failed to query positions: %v\n", err)
			os.Exit(1)
		}

		label := "closed"
		if isOpen {
			label = "open"
		}
		fmt.Printf("Found %d %s positions:\n", len(positions), label)

		for _, p := range positions {
			fmt.Printf("- %s %s stake=%.8f amount=%.8f open_rate=%.8f opened=%s\n",
				p.ID, p.Pair, p.StakeAmount, p.Amount, p.OpenRate, p.OpenedAt.Format("2006-01-02 15:04:05"))
			if p.HasOpenOrder() {
				fmt.Printf("  ⏳ Pending %s order %s\n", p.PendingSide(), p.OpenOrderID)
			}
			if p.CloseRate != nil {
				fmt.Printf("  ✅ Closed at %.8f (%s): profit %.8f, ratio %.2f%%\n",
					*p.CloseRate, p.ExitReason, p.Profit(*p.CloseRate), p.ProfitRatio(*p.CloseRate)*100)
			}
		}
	}
}
