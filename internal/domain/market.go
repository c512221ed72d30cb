package domain

import (
	"fmt"
	"strings"
	"time"
)

// Ticker is a top-of-book snapshot for a pair.
type Ticker struct {
	Pair      string
	Bid       float64
	Ask       float64
	Last      float64
	UpdatedAt time.Time
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// WalletHealth reports whether deposits and withdrawals of a currency are working.
type WalletHealth struct {
	Currency string
	Active   bool
}

type Instrument struct {
	Symbol      string
	BaseCoin    string
	QuoteCoin   string
	Status      string
	MinOrderAmt float64
}

// SplitPair splits "BASE/QUOTE" into its assets.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed pair %q, expected BASE/QUOTE", pair)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}
