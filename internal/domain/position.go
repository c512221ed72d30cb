package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFee is the per-side exchange fee used when a position carries none.
const DefaultFee = 0.0025

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Position is one trade attempt, from the opening buy order until the closing sell fill.
// Amount and OpenRate stay zero until the opening order is confirmed filled.
type Position struct {
	ID          string
	Exchange    string
	Pair        string
	StakeAmount float64
	Amount      float64
	OpenRate    float64
	CloseRate   *float64
	CloseProfit *float64
	Fee         float64
	OpenOrderID string
	ExitReason  ExitReason
	IsOpen      bool
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// IsFilled reports whether the opening order has been reconciled.
func (p *Position) IsFilled() bool {
	return p.OpenRate > 0 && p.Amount > 0
}

func (p *Position) HasOpenOrder() bool {
	return p.OpenOrderID != ""
}

// PendingSide is the side of the outstanding order, or "" when there is none.
func (p *Position) PendingSide() Side {
	if !p.HasOpenOrder() {
		return ""
	}
	if p.IsFilled() {
		return SideSell
	}
	return SideBuy
}

// ApplyFill records a filled order against the position. A buy fill sets the open rate and
// amount; a sell fill closes the position. The outstanding order id is cleared in both cases.
func (p *Position) ApplyFill(order *Order, now time.Time) error {
	if !p.IsOpen {
		return &ClosedPositionError{PositionID: p.ID}
	}
	if order == nil || !order.Filled {
		return fmt.Errorf("position %s: order is not filled", p.ID)
	}
	if order.ID != p.OpenOrderID {
		return fmt.Errorf("position %s: fill for order %s, outstanding order is %q", p.ID, order.ID, p.OpenOrderID)
	}

	switch p.PendingSide() {
	case SideBuy:
		p.OpenRate = order.Rate
		p.Amount = order.Amount
	case SideSell:
		rate := order.Rate
		ratio := p.ProfitRatio(rate)
		closedAt := now
		p.CloseRate = &rate
		p.CloseProfit = &ratio
		p.ClosedAt = &closedAt
		p.IsOpen = false
	}
	p.OpenOrderID = ""
	return nil
}

// Profit is the quote-currency result of selling the whole amount at rate, net of the
// round-trip fee. A non-positive rate on a closed position means "use the close rate".
func (p *Position) Profit(rate float64) float64 {
	buy, sell := p.tradeValues(rate)
	return sell.Sub(buy).Round(8).InexactFloat64()
}

// ProfitRatio is Profit relative to the fee-inclusive cost basis.
func (p *Position) ProfitRatio(rate float64) float64 {
	buy, sell := p.tradeValues(rate)
	if buy.IsZero() {
		return 0
	}
	return sell.Div(buy).Sub(decimal.NewFromInt(1)).Round(8).InexactFloat64()
}

// Duration is the holding time so far, or the total holding time once closed.
func (p *Position) Duration(now time.Time) time.Duration {
	if p.ClosedAt != nil {
		return p.ClosedAt.Sub(p.OpenedAt)
	}
	return now.Sub(p.OpenedAt)
}

// Validate checks that the stored fields are consistent with each other.
func (p *Position) Validate() error {
	if p.IsOpen != (p.ClosedAt == nil) {
		return fmt.Errorf("position %s: is_open=%t inconsistent with close time", p.ID, p.IsOpen)
	}
	if p.IsOpen != (p.CloseRate == nil) {
		return fmt.Errorf("position %s: is_open=%t inconsistent with close rate", p.ID, p.IsOpen)
	}
	if p.IsOpen && !p.IsFilled() && !p.HasOpenOrder() {
		return fmt.Errorf("position %s: unfilled position without an outstanding order", p.ID)
	}
	return nil
}

func (p *Position) fee() decimal.Decimal {
	if p.Fee > 0 {
		return decimal.NewFromFloat(p.Fee)
	}
	return decimal.NewFromFloat(DefaultFee)
}

func (p *Position) tradeValues(rate float64) (buy, sell decimal.Decimal) {
	if rate <= 0 && p.CloseRate != nil {
		rate = *p.CloseRate
	}
	fee := p.fee()
	amount := decimal.NewFromFloat(p.Amount)

	openValue := amount.Mul(decimal.NewFromFloat(p.OpenRate))
	buy = openValue.Add(openValue.Mul(fee))

	closeValue := amount.Mul(decimal.NewFromFloat(rate))
	sell = closeValue.Sub(closeValue.Mul(fee))
	return buy, sell
}
