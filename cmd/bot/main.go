package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/trade_engine/internal/config"
	"github.com/vitos/trade_engine/internal/domain"
	"github.com/vitos/trade_engine/internal/infrastructure/exchange"
	"github.com/vitos/trade_engine/internal/infrastructure/fiat"
	"github.com/vitos/trade_engine/internal/infrastructure/logger"
	"github.com/vitos/trade_engine/internal/infrastructure/notify"
	"github.com/vitos/trade_engine/internal/infrastructure/storage"
	"github.com/vitos/trade_engine/internal/strategy"
	"github.com/vitos/trade_engine/internal/usecase"
	"github.com/vitos/trade_engine/internal/web"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func configPath() string {
	if p := os.Getenv("BOT_CONFIG"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func main() {
	// 1. Load Config
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Bot exited with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roi, err := cfg.ROITable()
	if err != nil {
		return err
	}

	// 3. Init Storage
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	// 4. Init Exchange (Bybit spot) with the streaming ticker feed
	ex := cfg.Exchange
	bybit := exchange.NewBybitAdapter(ex.APIKey, ex.APISecret, ex.RESTEndpoint, ex.Timeout, log)
	feed := exchange.NewTickerFeed(ex.WSEndpoint, log)
	bybit.UseTickerFeed(feed, ex.TickerStaleAfter)
	go func() {
		if err := feed.Run(ctx, ex.PairWhitelist); err != nil {
			log.Error("Ticker feed failed", zap.Error(err))
		}
	}()

	// 5. Notifications
	senders := []notify.Sender{notify.NewLogSender(log)}
	if cfg.Telegram.Enabled {
		senders = append(senders, notify.NewTelegramSender(cfg.Telegram.Token, cfg.Telegram.ChatID, ""))
	}
	notifier := notify.NewNotifier(log, senders...)

	// 6. Strategy
	signals, err := strategy.NewProvider(bybit, strategy.Config{
		Interval:   cfg.Strategy.Interval,
		StaleAfter: cfg.Strategy.StaleAfter,
		Buy:        cfg.Strategy.Buy,
		Sell:       cfg.Strategy.Sell,
	}, log)
	if err != nil {
		return fmt.Errorf("init strategy: %w", err)
	}

	// 7. Engine
	var opts []usecase.ServiceOption
	if cfg.FiatCurrency != "" {
		opts = append(opts, usecase.WithFiatConverter(fiat.NewCoinGeckoConverter("", log)))
	}
	service := usecase.NewPositionService(store, bybit, signals, notifier, usecase.EngineConfig{
		StakeCurrency:    cfg.StakeCurrency,
		FiatCurrency:     cfg.FiatCurrency,
		MaxOpenPositions: cfg.MaxOpenPositions,
		Fee:              cfg.Fee,
		ROI:              roi,
		StopLoss:         cfg.StopLoss,
		AskLastBalance:   cfg.BidStrategy.AskLastBalance,
		UseSellSignal:    cfg.Experimental.UseSellSignal,
		SellProfitOnly:   cfg.Experimental.SellProfitOnly,
		CallTimeout:      ex.Timeout,
	}, log, opts...)

	loop := usecase.NewControlLoop(service, store, domain.NewProcessState(), notifier, usecase.LoopConfig{
		Interval:         cfg.Loop.Interval,
		BackoffMax:       cfg.Loop.BackoffMax,
		Workers:          cfg.Loop.Workers,
		MaxOpenPositions: cfg.MaxOpenPositions,
		StakeAmount:      cfg.StakeAmount,
		Whitelist:        ex.PairWhitelist,
		Blacklist:        ex.PairBlacklist,
	}, log)

	// 8. Web control surface
	server := web.NewServer(ctx, cfg.Server.Port, loop, store, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Web server failed", zap.Error(err))
		}
	}()

	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("start control loop: %w", err)
	}
	log.Info("Bot started",
		zap.String("exchange", bybit.Name()),
		zap.Strings("whitelist", ex.PairWhitelist),
		zap.Int("max_open_positions", cfg.MaxOpenPositions))

	// 9. Wait for Shutdown
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case <-loop.Stopped():
		runErr = errors.New("engine stopped: " + loop.State().Reason())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// The in-flight tick finishes before the loop returns.
	if err := loop.Stop(shutdownCtx); err != nil {
		log.Error("Control loop did not stop in time", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	return runErr
}
