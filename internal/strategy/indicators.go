package strategy

import (
	"github.com/markcheno/go-talib"
	"github.com/vitos/trade_engine/internal/domain"
)

// MinCandles is the shortest history the indicator set can be computed on.
const MinCandles = 120

// Frame holds the candle series and every indicator the rules can reference, index-aligned
// with the candles. Leading values inside an indicator's lookback window are zero.
type Frame struct {
	Time   []int64
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64

	EMA5   []float64
	EMA10  []float64
	EMA50  []float64
	EMA100 []float64
	SMA    []float64
	TEMA   []float64

	MFI   []float64
	RSI   []float64
	ADX   []float64
	FastK []float64
	FastD []float64
	SAR   []float64

	BBLower []float64
	AO      []float64

	MACD       []float64
	MACDSignal []float64

	HTSine     []float64
	HTLeadSine []float64
}

// NewFrame computes indicators over candles ordered oldest first.
func NewFrame(candles []domain.Candle) *Frame {
	n := len(candles)
	f := &Frame{
		Time:   make([]int64, n),
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  make([]float64, n),
		Volume: make([]float64, n),
	}
	for i, c := range candles {
		f.Time[i] = c.Time
		f.Open[i] = c.Open
		f.High[i] = c.High
		f.Low[i] = c.Low
		f.Close[i] = c.Close
		f.Volume[i] = c.Volume
	}

	f.EMA5 = talib.Ema(f.Close, 5)
	f.EMA10 = talib.Ema(f.Close, 10)
	f.EMA50 = talib.Ema(f.Close, 50)
	f.EMA100 = talib.Ema(f.Close, 100)
	f.SMA = talib.Sma(f.Close, 40)
	f.TEMA = talib.Tema(f.Close, 9)

	f.MFI = talib.Mfi(f.High, f.Low, f.Close, f.Volume, 14)
	f.RSI = talib.Rsi(f.Close, 14)
	f.ADX = talib.Adx(f.High, f.Low, f.Close, 14)
	f.FastK, f.FastD = talib.StochF(f.High, f.Low, f.Close, 5, 3, talib.SMA)
	f.SAR = talib.Sar(f.High, f.Low, 0.02, 0.2)

	_, _, f.BBLower = talib.BBands(f.Close, 20, 2, 2, talib.SMA)

	// Awesome oscillator: SMA5 - SMA34 of the median price.
	median := talib.MedPrice(f.High, f.Low)
	fast, slow := talib.Sma(median, 5), talib.Sma(median, 34)
	f.AO = make([]float64, n)
	for i := range f.AO {
		f.AO[i] = fast[i] - slow[i]
	}

	f.MACD, f.MACDSignal, _ = talib.Macd(f.Close, 12, 26, 9)
	f.HTSine, f.HTLeadSine = talib.HtSine(f.Close)
	return f
}

func (f *Frame) Len() int {
	return len(f.Close)
}

// crossedAbove reports whether a moved from at or below b to above b at index i.
func crossedAbove(a, b []float64, i int) bool {
	if i < 1 {
		return false
	}
	return a[i-1] <= b[i-1] && a[i] > b[i]
}

func crossedAboveValue(a []float64, value float64, i int) bool {
	if i < 1 {
		return false
	}
	return a[i-1] <= value && a[i] > value
}
