package market

import (
	"encoding/json"
	"math"
)

// Frame is a bar series with its computed indicator columns. All columns are
// parallel to Bars; NaN marks values outside a column's valid range.
type Frame struct {
	Bars       []Bar
	RSI        []float64
	MACD       []float64
	MACDSignal []float64
	MACDHist   []float64
	EMA10      []float64
	EMA100     []float64
	VWAP       []float64
	OBV        []float64
	TR         []float64
	ATR14      []float64
}

// ComputeIndicators derives every indicator column from the bar series.
func ComputeIndicators(bars []Bar) *Frame {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	f := &Frame{Bars: bars}
	f.RSI = rsi(closes, 14)
	f.MACD, f.MACDSignal, f.MACDHist = macd(closes, 12, 26, 9)
	f.EMA10 = ema(closes, 10)
	f.EMA100 = ema(closes, 100)
	f.VWAP = vwap(bars)
	f.OBV = obv(bars)
	f.TR = trueRange(bars)
	f.ATR14 = rollingMean(f.TR, 14)

	for _, col := range [][]float64{
		f.RSI, f.MACD, f.MACDSignal, f.MACDHist, f.EMA10, f.EMA100,
		f.VWAP, f.OBV, f.TR, f.ATR14,
	} {
		for i, v := range col {
			if math.IsInf(v, 0) {
				col[i] = math.NaN()
			}
		}
	}
	return f
}

// ema is the span-parameterized exponential moving average, seeded with the
// first value.
func ema(values []float64, span int) []float64 {
	return ewm(values, 2.0/(float64(span)+1.0))
}

func ewm(values []float64, alpha float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rsi is the Wilder-smoothed relative strength index. Series too short for
// the lookback, and bars where the smoothed loss is zero, report the neutral
// value 50.
func rsi(closes []float64, length int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < length+1 {
		for i := range out {
			out[i] = 50.0
		}
		return out
	}

	up := make([]float64, len(closes))
	down := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			up[i] = delta
		} else {
			down[i] = -delta
		}
	}

	alpha := 1.0 / float64(length)
	rollUp := ewm(up, alpha)
	rollDown := ewm(down, alpha)

	for i := range out {
		if rollDown[i] == 0 {
			out[i] = 50.0
			continue
		}
		rs := rollUp[i] / rollDown[i]
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out
}

func macd(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	emaFast := ema(closes, fast)
	emaSlow := ema(closes, slow)

	line = make([]float64, len(closes))
	for i := range line {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig = ema(line, signal)

	hist = make([]float64, len(closes))
	for i := range hist {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// vwap is the cumulative volume-weighted average of the typical price. Bars
// before any volume has traded take the first defined value.
func vwap(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	var cumTPV, cumVol float64
	for i, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3.0
		cumTPV += typical * b.Volume
		cumVol += b.Volume
		if cumVol == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = cumTPV / cumVol
	}

	// Backfill the leading undefined stretch.
	for i := len(out) - 2; i >= 0; i-- {
		if math.IsNaN(out[i]) && !math.IsNaN(out[i+1]) {
			out[i] = out[i+1]
		}
	}
	return out
}

// obv accumulates signed volume; a flat or down close counts as down.
func obv(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	var cum float64
	for i, b := range bars {
		sign := -1.0
		if i > 0 && b.Close > bars[i-1].Close {
			sign = 1.0
		}
		cum += sign * b.Volume
		out[i] = cum
	}
	return out
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|); the first
// bar has no previous close so only the intrabar range applies.
func trueRange(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Abs(b.High-prev))
			tr = math.Max(tr, math.Abs(b.Low-prev))
		}
		out[i] = tr
	}
	return out
}

// rollingMean averages over a trailing window, shrinking at the head so the
// first values are means over what exists so far.
func rollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		n := window
		if i+1 < window {
			n = i + 1
		} else if i >= window {
			sum -= values[i-window]
		}
		out[i] = sum / float64(n)
	}
	return out
}

// jsonFloat renders NaN and infinities as null, which encoding/json would
// otherwise reject.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// IndicatorRow is one record of the compute-indicators response.
type IndicatorRow struct {
	Datetime   string    `json:"datetime"`
	Open       jsonFloat `json:"open"`
	High       jsonFloat `json:"high"`
	Low        jsonFloat `json:"low"`
	Close      jsonFloat `json:"close"`
	Volume     jsonFloat `json:"volume"`
	RSI        jsonFloat `json:"RSI"`
	MACD       jsonFloat `json:"MACD"`
	MACDSignal jsonFloat `json:"MACD_signal"`
	MACDHist   jsonFloat `json:"MACD_hist"`
	EMA10      jsonFloat `json:"EMA_10"`
	EMA100     jsonFloat `json:"EMA_100"`
	VWAP       jsonFloat `json:"VWAP"`
	OBV        jsonFloat `json:"OBV"`
	TR         jsonFloat `json:"TR"`
	ATR14      jsonFloat `json:"ATR_14"`
}

// Columns lists the response column names in serving order.
func (f *Frame) Columns() []string {
	return []string{
		"open", "high", "low", "close", "volume",
		"RSI", "MACD", "MACD_signal", "MACD_hist",
		"EMA_10", "EMA_100", "VWAP", "OBV", "TR", "ATR_14",
	}
}

// Records flattens the frame into the row records the API serves.
func (f *Frame) Records() []IndicatorRow {
	rows := make([]IndicatorRow, len(f.Bars))
	for i, b := range f.Bars {
		rows[i] = IndicatorRow{
			Datetime:   b.Time.Format("2006-01-02 15:04:05"),
			Open:       jsonFloat(b.Open),
			High:       jsonFloat(b.High),
			Low:        jsonFloat(b.Low),
			Close:      jsonFloat(b.Close),
			Volume:     jsonFloat(b.Volume),
			RSI:        jsonFloat(f.RSI[i]),
			MACD:       jsonFloat(f.MACD[i]),
			MACDSignal: jsonFloat(f.MACDSignal[i]),
			MACDHist:   jsonFloat(f.MACDHist[i]),
			EMA10:      jsonFloat(f.EMA10[i]),
			EMA100:     jsonFloat(f.EMA100[i]),
			VWAP:       jsonFloat(f.VWAP[i]),
			OBV:        jsonFloat(f.OBV[i]),
			TR:         jsonFloat(f.TR[i]),
			ATR14:      jsonFloat(f.ATR14[i]),
		}
	}
	return rows
}
