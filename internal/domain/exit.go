package domain

import (
	"sort"
	"time"
)

type ExitReason string

const (
	ExitNone     ExitReason = ""
	ExitROI      ExitReason = "roi"
	ExitStopLoss ExitReason = "stop_loss"
	ExitSignal   ExitReason = "sell_signal"
)

// ExitDecision is the outcome of evaluating an open position. Rate and ProfitRatio carry the
// market values the decision was made on.
type ExitDecision struct {
	Sell        bool
	Reason      ExitReason
	Rate        float64
	ProfitRatio float64
}

func Hold() ExitDecision {
	return ExitDecision{}
}

type ROIEntry struct {
	After time.Duration
	Ratio float64
}

// ROITable maps a minimum holding duration to the profit ratio that triggers an exit.
type ROITable []ROIEntry

func NewROITable(entries map[time.Duration]float64) ROITable {
	table := make(ROITable, 0, len(entries))
	for after, ratio := range entries {
		table = append(table, ROIEntry{After: after, Ratio: ratio})
	}
	sort.Slice(table, func(i, j int) bool { return table[i].After < table[j].After })
	return table
}

// Reached reports whether any entry whose duration has elapsed has a threshold at or below ratio.
func (t ROITable) Reached(held time.Duration, ratio float64) bool {
	for _, e := range t {
		if held < e.After {
			break
		}
		if ratio >= e.Ratio {
			return true
		}
	}
	return false
}
