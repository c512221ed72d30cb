package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/trade_engine/internal/domain"
	"go.uber.org/zap"
)

// EngineConfig holds the trading parameters of the lifecycle engine.
type EngineConfig struct {
	StakeCurrency    string
	FiatCurrency     string
	MaxOpenPositions int
	Fee              float64
	ROI              domain.ROITable
	StopLoss         float64 // negative ratio, 0 disables
	AskLastBalance   float64
	UseSellSignal    bool
	SellProfitOnly   bool
	CallTimeout      time.Duration
}

// PositionService drives a single position through creation, fill reconciliation and exit.
// Callers must not run two operations on the same position concurrently.
type PositionService struct {
	repo     domain.PositionRepository
	exchange domain.Exchange
	signals  domain.SignalProvider
	fiat     domain.FiatConverter
	notify   *notifications
	policy   *PricePolicy
	executor *TradeExecutor
	cfg      EngineConfig
	logger   *zap.Logger

	now   func() time.Time
	newID func() string
}

type ServiceOption func(*PositionService)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *PositionService) { s.now = now }
}

func WithFiatConverter(fiat domain.FiatConverter) ServiceOption {
	return func(s *PositionService) { s.fiat = fiat }
}

func WithIDGenerator(newID func() string) ServiceOption {
	return func(s *PositionService) { s.newID = newID }
}

func NewPositionService(
	repo domain.PositionRepository,
	exchange domain.Exchange,
	signals domain.SignalProvider,
	notifier domain.Notifier,
	cfg EngineConfig,
	logger *zap.Logger,
	opts ...ServiceOption,
) *PositionService {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Fee <= 0 {
		cfg.Fee = domain.DefaultFee
	}
	if cfg.MaxOpenPositions < 1 {
		cfg.MaxOpenPositions = 1
	}
	logger = logger.Named("positions")
	s := &PositionService{
		repo:     repo,
		exchange: exchange,
		signals:  signals,
		notify:   &notifications{notifier: notifier, logger: logger},
		policy:   NewPricePolicy(cfg.AskLastBalance),
		executor: NewTradeExecutor(exchange, cfg.CallTimeout),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PositionService) Config() EngineConfig {
	return s.cfg
}

// Create opens a new position on the first eligible whitelist pair with a buy signal.
// It returns (nil, nil) when no pair signals a buy. ErrNoEligiblePairs and ErrInsufficientStake
// mean no position can be opened right now and are not failures of the engine.
func (s *PositionService) Create(ctx context.Context, stakeAmount float64, whitelist, blacklist []string) (*domain.Position, error) {
	pairs := subtractPairs(whitelist, blacklist)
	if len(pairs) == 0 {
		return nil, fmt.Errorf("create: %w", domain.ErrNoEligiblePairs)
	}

	if err := s.call(ctx, func(ctx context.Context) error {
		return s.exchange.ValidatePairs(ctx, pairs)
	}); err != nil {
		if domain.IsTransient(err) {
			return nil, fmt.Errorf("create: validate pairs: %w", err)
		}
		return nil, fmt.Errorf("create: %w: %w", domain.ErrInvalidMarket, err)
	}

	open, err := s.repo.QueryPositions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("create: query open positions: %w", err)
	}
	pairs = excludeOpenPairs(pairs, open)

	var health []domain.WalletHealth
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		health, err = s.exchange.GetWalletHealth(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("create: wallet health: %w", err)
	}
	pairs = excludeInactiveWallets(pairs, health)

	if len(pairs) == 0 {
		return nil, fmt.Errorf("create: %w", domain.ErrNoEligiblePairs)
	}

	now := s.now()
	pair := ""
	for _, candidate := range pairs {
		buy, err := s.signals.GetSignal(ctx, candidate, domain.SignalBuy, now)
		if err != nil {
			return nil, fmt.Errorf("create: buy signal %s: %w", candidate, err)
		}
		if buy {
			pair = candidate
			break
		}
	}
	if pair == "" {
		s.logger.Debug("No buy signal", zap.Strings("pairs", pairs))
		return nil, nil
	}

	stake, err := s.resolveStake(ctx, pair, stakeAmount, len(open))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", pair, err)
	}

	var ticker *domain.Ticker
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		ticker, err = s.exchange.GetTicker(ctx, pair)
		return err
	}); err != nil {
		return nil, fmt.Errorf("create %s: get ticker: %w", pair, err)
	}

	bid := s.policy.TargetBid(ticker)
	if bid <= 0 {
		return nil, domain.NewTransientError("create "+pair, fmt.Errorf("no usable price: ask=%.8f last=%.8f", ticker.Ask, ticker.Last))
	}

	orderID, err := s.executor.Execute(ctx, pair, domain.SideBuy, bid, stake/bid)
	if err != nil {
		return nil, fmt.Errorf("create %s: buy: %w", pair, err)
	}

	pos := &domain.Position{
		ID:          s.newID(),
		Exchange:    s.exchange.Name(),
		Pair:        pair,
		StakeAmount: stake,
		Fee:         s.cfg.Fee,
		OpenOrderID: orderID,
		IsOpen:      true,
		OpenedAt:    now,
	}
	if err := pos.Validate(); err != nil {
		return nil, domain.NewOperationalError("create "+pair, err)
	}
	if err := s.repo.SavePosition(ctx, pos); err != nil {
		// The buy order is live on the exchange but untracked.
		return nil, domain.NewOperationalError("create "+pair, fmt.Errorf("save position for order %s: %w", orderID, err))
	}

	s.logger.Info("Position opened",
		zap.String("id", pos.ID),
		zap.String("pair", pair),
		zap.Float64("rate", bid),
		zap.Float64("stake", stake),
		zap.String("order_id", orderID))
	s.notify.send(ctx, buyMessage(pair, bid))
	return pos, nil
}

func (s *PositionService) resolveStake(ctx context.Context, pair string, stake float64, openCount int) (float64, error) {
	var balance float64
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		balance, err = s.exchange.GetBalance(ctx, s.cfg.StakeCurrency)
		return err
	}); err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	if stake > 0 {
		if balance < stake {
			return 0, fmt.Errorf("%w: balance %.8f %s below stake %.8f", domain.ErrInsufficientStake, balance, s.cfg.StakeCurrency, stake)
		}
	} else {
		free := s.cfg.MaxOpenPositions - openCount
		if free < 1 {
			free = 1
		}
		stake = balance / float64(free)
	}

	var minNotional float64
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		minNotional, err = s.exchange.GetMinNotional(ctx, pair)
		return err
	}); err != nil {
		return 0, fmt.Errorf("get min notional: %w", err)
	}

	if stake <= 0 || stake < minNotional {
		return 0, fmt.Errorf("%w: stake %.8f %s below minimum %.8f", domain.ErrInsufficientStake, stake, s.cfg.StakeCurrency, minNotional)
	}
	return stake, nil
}

// Reconcile applies the fill of the outstanding order, if any. It reports whether the
// position changed. A position without an outstanding order is left untouched.
func (s *PositionService) Reconcile(ctx context.Context, pos *domain.Position) (bool, error) {
	if !pos.IsOpen || !pos.HasOpenOrder() {
		return false, nil
	}

	var order *domain.Order
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.exchange.GetOrder(ctx, pos.OpenOrderID)
		return err
	}); err != nil {
		return false, fmt.Errorf("reconcile %s: get order %s: %w", pos.ID, pos.OpenOrderID, err)
	}
	if !order.Filled {
		s.logger.Debug("Order still open",
			zap.String("id", pos.ID),
			zap.String("order_id", order.ID),
			zap.Float64("remaining", order.Remaining))
		return false, nil
	}

	side := pos.PendingSide()
	if err := pos.ApplyFill(order, s.now()); err != nil {
		return false, domain.NewOperationalError("reconcile "+pos.ID, err)
	}
	if err := s.repo.SavePosition(ctx, pos); err != nil {
		return false, fmt.Errorf("reconcile %s: save: %w", pos.ID, err)
	}

	switch side {
	case domain.SideBuy:
		s.logger.Info("Buy filled",
			zap.String("id", pos.ID),
			zap.String("pair", pos.Pair),
			zap.Float64("open_rate", pos.OpenRate),
			zap.Float64("amount", pos.Amount))
	case domain.SideSell:
		profit := pos.Profit(0)
		s.logger.Info("Position closed",
			zap.String("id", pos.ID),
			zap.String("pair", pos.Pair),
			zap.Float64("close_rate", *pos.CloseRate),
			zap.Float64("profit", profit),
			zap.String("reason", string(pos.ExitReason)))
		s.notify.send(ctx, closedMessage(pos.Pair, *pos.CloseRate, *pos.CloseProfit, profit))
	}
	return true, nil
}

// EvaluateExit decides whether an open, filled position should be sold now.
// Stop loss and ROI take precedence over the sell signal.
func (s *PositionService) EvaluateExit(ctx context.Context, pos *domain.Position, now time.Time) (domain.ExitDecision, error) {
	if !pos.IsOpen {
		return domain.Hold(), &domain.ClosedPositionError{PositionID: pos.ID}
	}
	if !pos.IsFilled() || pos.HasOpenOrder() {
		return domain.Hold(), nil
	}

	var ticker *domain.Ticker
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		ticker, err = s.exchange.GetTicker(ctx, pos.Pair)
		return err
	}); err != nil {
		return domain.Hold(), fmt.Errorf("evaluate %s: get ticker: %w", pos.ID, err)
	}

	if ticker.Bid <= 0 {
		// An empty book side is a market condition, not a loss.
		return domain.Hold(), domain.NewTransientError("evaluate "+pos.ID, fmt.Errorf("no usable bid for %s: bid=%.8f", pos.Pair, ticker.Bid))
	}

	decision := domain.ExitDecision{Rate: ticker.Bid, ProfitRatio: pos.ProfitRatio(ticker.Bid)}

	if s.cfg.StopLoss < 0 && decision.ProfitRatio < s.cfg.StopLoss {
		decision.Sell, decision.Reason = true, domain.ExitStopLoss
		return decision, nil
	}
	if s.cfg.ROI.Reached(pos.Duration(now), decision.ProfitRatio) {
		decision.Sell, decision.Reason = true, domain.ExitROI
		return decision, nil
	}
	if !s.cfg.UseSellSignal {
		return decision, nil
	}

	sell, err := s.signals.GetSignal(ctx, pos.Pair, domain.SignalSell, now)
	if err != nil {
		return domain.Hold(), fmt.Errorf("evaluate %s: sell signal: %w", pos.ID, err)
	}
	if sell && (!s.cfg.SellProfitOnly || decision.ProfitRatio > 0) {
		decision.Sell, decision.Reason = true, domain.ExitSignal
	}
	return decision, nil
}

// ExecuteExit places a sell order for the whole position at limit and records it as the
// outstanding order. The position closes when a later Reconcile observes the fill.
func (s *PositionService) ExecuteExit(ctx context.Context, pos *domain.Position, limit float64) error {
	if !pos.IsOpen {
		return &domain.ClosedPositionError{PositionID: pos.ID}
	}
	if pos.HasOpenOrder() {
		return fmt.Errorf("exit %s: %w: %s", pos.ID, domain.ErrOrderOutstanding, pos.OpenOrderID)
	}

	amount, err := s.sellAmount(ctx, pos)
	if err != nil {
		return fmt.Errorf("exit %s: %w", pos.ID, err)
	}

	orderID, err := s.executor.Execute(ctx, pos.Pair, domain.SideSell, limit, amount)
	if err != nil {
		return fmt.Errorf("exit %s: sell: %w", pos.ID, err)
	}
	pos.OpenOrderID = orderID
	if err := s.repo.SavePosition(ctx, pos); err != nil {
		return domain.NewOperationalError("exit "+pos.ID, fmt.Errorf("save position for order %s: %w", orderID, err))
	}

	profit := pos.Profit(limit)
	ratio := pos.ProfitRatio(limit)
	s.logger.Info("Sell order placed",
		zap.String("id", pos.ID),
		zap.String("pair", pos.Pair),
		zap.Float64("rate", limit),
		zap.Float64("profit", profit),
		zap.String("reason", string(pos.ExitReason)),
		zap.String("order_id", orderID))
	s.notify.send(ctx, sellMessage(pos.Pair, limit, ratio, profit, s.fiatText(ctx, profit)))
	return nil
}

// Handle runs one lifecycle step for an open position and reports whether a sell was placed.
func (s *PositionService) Handle(ctx context.Context, pos *domain.Position) (bool, error) {
	if _, err := s.Reconcile(ctx, pos); err != nil {
		return false, err
	}
	if !pos.IsOpen {
		return false, nil
	}

	decision, err := s.EvaluateExit(ctx, pos, s.now())
	if err != nil {
		return false, err
	}
	if !decision.Sell {
		return false, nil
	}

	pos.ExitReason = decision.Reason
	if err := s.ExecuteExit(ctx, pos, decision.Rate); err != nil {
		return false, err
	}
	return true, nil
}

// sellAmount is the position amount capped at the free base balance. Exchanges that charge
// the buy fee in the base asset leave slightly less than the filled quantity.
func (s *PositionService) sellAmount(ctx context.Context, pos *domain.Position) (float64, error) {
	base, _, err := domain.SplitPair(pos.Pair)
	if err != nil {
		return 0, domain.NewOperationalError("sell amount", err)
	}

	var free float64
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		free, err = s.exchange.GetBalance(ctx, base)
		return err
	}); err != nil {
		return 0, fmt.Errorf("get %s balance: %w", base, err)
	}

	if free <= 0 {
		return 0, domain.NewOperationalError("sell amount", fmt.Errorf("no free %s balance for %.8f", base, pos.Amount))
	}
	if free < pos.Amount {
		s.logger.Info("Sell capped at free balance",
			zap.String("id", pos.ID),
			zap.String("asset", base),
			zap.Float64("amount", pos.Amount),
			zap.Float64("free", free))
		return free, nil
	}
	return pos.Amount, nil
}

func (s *PositionService) fiatText(ctx context.Context, profit float64) string {
	if s.fiat == nil || s.cfg.FiatCurrency == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	value, err := s.fiat.Convert(ctx, profit, s.cfg.StakeCurrency, s.cfg.FiatCurrency)
	if err != nil {
		s.logger.Warn("Fiat conversion failed", zap.Error(err))
		return ""
	}
	return fmt.Sprintf("`%.3f %s`", value, s.cfg.FiatCurrency)
}

func (s *PositionService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}

func subtractPairs(whitelist, blacklist []string) []string {
	blocked := make(map[string]bool, len(blacklist))
	for _, p := range blacklist {
		blocked[p] = true
	}
	var out []string
	seen := make(map[string]bool, len(whitelist))
	for _, p := range whitelist {
		if blocked[p] || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func excludeOpenPairs(pairs []string, open []*domain.Position) []string {
	taken := make(map[string]bool, len(open))
	for _, p := range open {
		taken[p.Pair] = true
	}
	var out []string
	for _, p := range pairs {
		if !taken[p] {
			out = append(out, p)
		}
	}
	return out
}

// excludeInactiveWallets drops pairs whose base asset wallet is reported inactive.
// Currencies missing from the report are assumed healthy.
func excludeInactiveWallets(pairs []string, health []domain.WalletHealth) []string {
	inactive := make(map[string]bool)
	for _, h := range health {
		if !h.Active {
			inactive[h.Currency] = true
		}
	}
	var out []string
	for _, p := range pairs {
		base, _, err := domain.SplitPair(p)
		if err == nil && inactive[base] {
			continue
		}
		out = append(out, p)
	}
	return out
}
