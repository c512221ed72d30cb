package strategy

import (
	"fmt"
	"strings"
)

// Guard is one indicator condition. Value is the threshold for the comparisons that take one.
type Guard struct {
	Indicator string  `yaml:"indicator"`
	Enabled   bool    `yaml:"enabled"`
	Value     float64 `yaml:"value"`
}

// Rules is the condition set for one signal type: every enabled guard and the trigger must hold.
type Rules struct {
	Guards  []Guard `yaml:"guards"`
	Trigger string  `yaml:"trigger"`
}

// Predicate evaluates one condition at candle index i.
type Predicate struct {
	Name string
	Eval func(f *Frame, i int) bool
}

type guardFactory func(value float64) func(f *Frame, i int) bool

var guards = map[string]guardFactory{
	"uptrend_long_ema": func(float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return f.EMA50[i] > f.EMA100[i] }
	},
	"uptrend_short_ema": func(float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return f.EMA5[i] > f.EMA10[i] }
	},
	"mfi": func(v float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return f.MFI[i] < v }
	},
	"fastd": func(v float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return f.FastD[i] < v }
	},
	"adx": func(v float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return f.ADX[i] > v }
	},
	"rsi": func(v float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return f.RSI[i] < v }
	},
	"rsi_above": func(v float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return f.RSI[i] > v }
	},
	"over_sar": func(float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return f.Close[i] > f.SAR[i] }
	},
	"green_candle": func(float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return f.Close[i] > f.Open[i] }
	},
	"uptrend_sma": func(float64) func(*Frame, int) bool {
		return func(f *Frame, i int) bool { return i > 0 && f.SMA[i] > f.SMA[i-1] }
	},
}

var triggers = map[string]func(f *Frame, i int) bool{
	"lower_bb":          func(f *Frame, i int) bool { return f.TEMA[i] <= f.BBLower[i] },
	"faststoch10":       func(f *Frame, i int) bool { return crossedAboveValue(f.FastD, 10, i) },
	"ao_cross_zero":     func(f *Frame, i int) bool { return crossedAboveValue(f.AO, 0, i) },
	"ema5_cross_ema10":  func(f *Frame, i int) bool { return crossedAbove(f.EMA5, f.EMA10, i) },
	"macd_cross_signal": func(f *Frame, i int) bool { return crossedAbove(f.MACD, f.MACDSignal, i) },
	"sar_reversal":      func(f *Frame, i int) bool { return crossedAbove(f.Close, f.SAR, i) },
	"stochf_cross":      func(f *Frame, i int) bool { return crossedAbove(f.FastK, f.FastD, i) },
	"ht_sine":           func(f *Frame, i int) bool { return crossedAbove(f.HTLeadSine, f.HTSine, i) },
	"rsi_cross_70":      func(f *Frame, i int) bool { return crossedAboveValue(f.RSI, 70, i) },
}

// TriggerNone disables the trigger so that only guards decide.
const TriggerNone = "none"

// Compile turns rules into an ordered predicate list: guards in declaration order, then the trigger.
// Disabled guards are dropped.
func (r Rules) Compile() ([]Predicate, error) {
	var preds []Predicate
	for _, g := range r.Guards {
		factory, ok := guards[g.Indicator]
		if !ok {
			return nil, fmt.Errorf("unknown guard indicator %q", g.Indicator)
		}
		if !g.Enabled {
			continue
		}
		preds = append(preds, Predicate{Name: g.Indicator, Eval: factory(g.Value)})
	}

	trigger := strings.TrimSpace(r.Trigger)
	if trigger == "" || trigger == TriggerNone {
		return preds, nil
	}
	eval, ok := triggers[trigger]
	if !ok {
		return nil, fmt.Errorf("unknown trigger %q", trigger)
	}
	return append(preds, Predicate{Name: trigger, Eval: eval}), nil
}

// Validate reports the first unknown indicator or trigger name.
func (r Rules) Validate() error {
	_, err := r.Compile()
	return err
}

// Match reports whether every predicate holds at index i. An empty list never matches.
func Match(preds []Predicate, f *Frame, i int) bool {
	if len(preds) == 0 || i < 0 || i >= f.Len() {
		return false
	}
	for _, p := range preds {
		if !p.Eval(f, i) {
			return false
		}
	}
	return true
}

// DefaultBuyRules mirrors a conservative oversold entry.
func DefaultBuyRules() Rules {
	return Rules{
		Guards: []Guard{
			{Indicator: "mfi", Enabled: true, Value: 25},
			{Indicator: "fastd", Enabled: true, Value: 25},
			{Indicator: "adx", Enabled: true, Value: 30},
		},
		Trigger: "lower_bb",
	}
}

func DefaultSellRules() Rules {
	return Rules{
		Guards: []Guard{
			{Indicator: "rsi_above", Enabled: false, Value: 70},
		},
		Trigger: "rsi_cross_70",
	}
}
