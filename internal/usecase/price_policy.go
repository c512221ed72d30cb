package usecase

import "github.com/vitos/trade_engine/internal/domain"

// PricePolicy picks the limit price for opening orders.
type PricePolicy struct {
	askLastBalance float64
}

func NewPricePolicy(askLastBalance float64) *PricePolicy {
	return &PricePolicy{askLastBalance: askLastBalance}
}

func (p *PricePolicy) TargetBid(ticker *domain.Ticker) float64 {
	return TargetBid(ticker, p.askLastBalance)
}

// TargetBid interpolates between ask (balance 0) and last (balance 1). The result never exceeds ask.
func TargetBid(ticker *domain.Ticker, balance float64) float64 {
	if ticker.Last > ticker.Ask {
		return ticker.Ask
	}
	return ticker.Ask + balance*(ticker.Last-ticker.Ask)
}
