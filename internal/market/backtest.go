package market

import (
	"encoding/json"
	"math"
	"time"
)

const startingCash = 100000.0

// Trade is one fill, serialized as an [action, datetime, price] triple.
type Trade struct {
	Action string
	Time   time.Time
	Price  float64
}

// MarshalJSON keeps the tuple shape of the API contract.
func (t Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.Action, t.Time.Format("2006-01-02 15:04:05"), t.Price})
}

// BacktestResult summarizes a simulated run of the MACD crossover strategy.
type BacktestResult struct {
	FinalPortfolioValue float64 `json:"final_portfolio_value"`
	NTrades             int     `json:"n_trades"`
	WinRate             float64 `json:"win_rate"`
	TradesSample        []Trade `json:"trades_sample"`
}

// Backtest simulates a long-only MACD crossover strategy over the frame.
// A buy signal needs the MACD line above its signal, the close above the
// 10-bar EMA, and above-average volume; a sell signal is the bearish MACD
// cross with the close below the EMA. Fills happen at the next bar's open,
// never the signal bar itself.
func Backtest(f *Frame) BacktestResult {
	n := len(f.Bars)
	volMean20 := rollingMeanVolume(f.Bars, 20)

	signals := make([]int, n)
	for i := 0; i < n; i++ {
		b := f.Bars[i]
		switch {
		case f.MACD[i] > f.MACDSignal[i] && b.Close > f.EMA10[i] && b.Volume > volMean20[i]:
			signals[i] = 1
		case f.MACD[i] < f.MACDSignal[i] && b.Close < f.EMA10[i]:
			signals[i] = -1
		}
	}

	cash := startingCash
	position := 0.0
	var trades []Trade

	for i := 0; i < n-1; i++ {
		price := f.Bars[i+1].Open
		if math.IsNaN(price) || price <= 0 {
			continue
		}
		switch {
		case signals[i] == 1 && position == 0:
			position = cash / price
			cash = 0
			trades = append(trades, Trade{Action: "buy", Time: f.Bars[i+1].Time, Price: price})
		case signals[i] == -1 && position > 0:
			cash = position * price
			position = 0
			trades = append(trades, Trade{Action: "sell", Time: f.Bars[i+1].Time, Price: price})
		}
	}

	finalValue := cash
	if position > 0 && n > 0 {
		finalValue += position * f.Bars[n-1].Close
	}

	// Win rate counts completed buy/sell pairs whose exit beat the entry.
	wins := 0
	for j := 0; j+1 < len(trades); j += 2 {
		if trades[j].Action == "buy" && trades[j+1].Action == "sell" && trades[j+1].Price > trades[j].Price {
			wins++
		}
	}
	winRate := 0.0
	if len(trades) >= 2 {
		winRate = float64(wins) / (float64(len(trades)) / 2.0)
	}

	sample := trades
	if len(sample) > 10 {
		sample = sample[:10]
	}
	if sample == nil {
		sample = []Trade{}
	}

	return BacktestResult{
		FinalPortfolioValue: finalValue,
		NTrades:             len(trades),
		WinRate:             winRate,
		TradesSample:        sample,
	}
}

func rollingMeanVolume(bars []Bar, window int) []float64 {
	vols := make([]float64, len(bars))
	for i, b := range bars {
		vols[i] = b.Volume
	}
	return rollingMean(vols, window)
}
