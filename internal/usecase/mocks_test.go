package usecase_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/trade_engine/internal/domain"
)

// MockExchange is an in-memory exchange. Orders fill only when FillOrder is called.
type MockExchange struct {
	mu sync.Mutex

	Tickers     map[string]*domain.Ticker
	Balance     float64            // stake currency and any asset missing from Balances
	Balances    map[string]float64 // per-asset free balances
	MinNotional float64
	Health      []domain.WalletHealth
	Orders      map[string]*domain.Order

	BuyErr      error
	SellErr     error
	TickerErr   error
	GetOrderErr error
	ValidateErr error

	BuyCalls       int
	SellCalls      int
	GetOrderCalls  int
	LastBuyRate    float64
	LastBuyAmount  float64
	LastSellRate   float64
	LastSellAmount float64

	// BuyEntered and BuyRelease, when set, make Buy signal entry and block until released.
	BuyEntered chan struct{}
	BuyRelease chan struct{}

	nextID int
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		Tickers:  map[string]*domain.Ticker{},
		Balance:  1,
		Balances: map[string]float64{"ETH": 1000},
		Orders:   map[string]*domain.Order{},
	}
}

func (m *MockExchange) SetTicker(pair string, bid, ask, last float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tickers[pair] = &domain.Ticker{Pair: pair, Bid: bid, Ask: ask, Last: last}
}

// FillOrder marks an order filled at rate/amount.
func (m *MockExchange) FillOrder(id string, rate, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[id]
	if !ok {
		panic(fmt.Sprintf("unknown order %s", id))
	}
	o.Rate = rate
	o.Amount = amount
	o.Remaining = 0
	o.Filled = true
}

func (m *MockExchange) Name() string { return "mock" }

func (m *MockExchange) GetTicker(ctx context.Context, pair string) (*domain.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TickerErr != nil {
		return nil, m.TickerErr
	}
	t, ok := m.Tickers[pair]
	if !ok {
		return nil, fmt.Errorf("no ticker for %s", pair)
	}
	cp := *t
	return &cp, nil
}

func (m *MockExchange) GetBalance(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.Balances[asset]; ok {
		return b, nil
	}
	return m.Balance, nil
}

func (m *MockExchange) ValidatePairs(ctx context.Context, pairs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ValidateErr
}

func (m *MockExchange) GetWalletHealth(ctx context.Context) ([]domain.WalletHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Health, nil
}

func (m *MockExchange) GetMinNotional(ctx context.Context, pair string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MinNotional, nil
}

func (m *MockExchange) Buy(ctx context.Context, pair string, rate, amount float64) (string, error) {
	if m.BuyEntered != nil {
		m.BuyEntered <- struct{}{}
		<-m.BuyRelease
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BuyCalls++
	if m.BuyErr != nil {
		return "", m.BuyErr
	}
	m.LastBuyRate = rate
	m.LastBuyAmount = amount
	return m.place(pair, domain.SideBuy, rate, amount), nil
}

func (m *MockExchange) Sell(ctx context.Context, pair string, rate, amount float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SellCalls++
	if m.SellErr != nil {
		return "", m.SellErr
	}
	m.LastSellRate = rate
	m.LastSellAmount = amount
	return m.place(pair, domain.SideSell, rate, amount), nil
}

func (m *MockExchange) place(pair string, side domain.Side, rate, amount float64) string {
	m.nextID++
	id := fmt.Sprintf("mocked_limit_%s_%d", side, m.nextID)
	m.Orders[id] = &domain.Order{ID: id, Pair: pair, Side: side, Rate: rate, Amount: amount, Remaining: amount}
	return id
}

func (m *MockExchange) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetOrderCalls++
	if m.GetOrderErr != nil {
		return nil, m.GetOrderErr
	}
	o, ok := m.Orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

// MockSignals returns fixed buy/sell answers.
type MockSignals struct {
	mu   sync.Mutex
	Buy  bool
	Sell bool
	// BuyPairs, when set, limits buy signals to these pairs.
	BuyPairs map[string]bool
	Err      error
	Calls    int
}

func (m *MockSignals) GetSignal(ctx context.Context, pair string, signal domain.SignalType, asOf time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return false, m.Err
	}
	if signal == domain.SignalBuy {
		if m.BuyPairs != nil {
			return m.BuyPairs[pair], nil
		}
		return m.Buy, nil
	}
	return m.Sell, nil
}

func (m *MockSignals) Set(buy, sell bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Buy, m.Sell = buy, sell
}

// MockPositionRepo stores copies so tests observe only what was saved.
type MockPositionRepo struct {
	mu        sync.Mutex
	Positions map[string]*domain.Position
	Saves     int
	SaveErr   error
}

func NewMockPositionRepo() *MockPositionRepo {
	return &MockPositionRepo{Positions: map[string]*domain.Position{}}
}

func copyPosition(p *domain.Position) *domain.Position {
	cp := *p
	if p.CloseRate != nil {
		v := *p.CloseRate
		cp.CloseRate = &v
	}
	if p.CloseProfit != nil {
		v := *p.CloseProfit
		cp.CloseProfit = &v
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		cp.ClosedAt = &v
	}
	return &cp
}

func (m *MockPositionRepo) SavePosition(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Saves++
	m.Positions[pos.ID] = copyPosition(pos)
	return nil
}

func (m *MockPositionRepo) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Positions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyPosition(p), nil
}

func (m *MockPositionRepo) QueryPositions(ctx context.Context, isOpen bool) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for _, p := range m.Positions {
		if p.IsOpen == isOpen {
			out = append(out, copyPosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *MockPositionRepo) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Saves
}

func (m *MockPositionRepo) All() []*domain.Position {
	open, _ := m.QueryPositions(context.Background(), true)
	closed, _ := m.QueryPositions(context.Background(), false)
	return append(open, closed...)
}

type MockNotifier struct {
	mu       sync.Mutex
	Messages []string
	Err      error
}

func (m *MockNotifier) Send(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, text)
	return m.Err
}

func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

func (m *MockNotifier) Last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1]
}

type MockFiat struct {
	Rate float64
	Err  error
}

func (m *MockFiat) Convert(ctx context.Context, amount float64, crypto, fiat string) (float64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	return amount * m.Rate, nil
}
