package domain

// Order is the exchange's view of an order placed for a position.
type Order struct {
	ID        string
	Pair      string
	Side      Side
	Rate      float64
	Amount    float64
	Remaining float64
	Filled    bool
}
