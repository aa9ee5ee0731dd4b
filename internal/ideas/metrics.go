package ideas

import (
	"github.com/ivolkov/tg-fin-assistant/internal/market"
)

// Metrics are the numbers an idea is scored on. Nil means "not computable
// from the data we had", which the scorers treat as neutral.
type Metrics struct {
	Price    *float64
	Currency string

	DMA20  *float64
	DMA50  *float64
	DMA200 *float64
	RSI14  *float64
	High52 *float64
	Low52  *float64

	AvgVolume *float64
	AvgValue  *float64

	PE            *float64
	DividendYield *float64
	MarketCap     *float64

	Lot           int
	LotValue      *float64
	ChangePercent *float64

	KeyRatePercent *float64
	MacroIndicator *float64

	// Crypto-only deltas.
	Change24h *float64
	Change7d  *float64
	Change30d *float64
}

func computeMetrics(history []market.HistoryPoint, quote market.Quote, snapshot market.Row) Metrics {
	m := Metrics{
		Price:    quote.Price,
		Currency: quote.Currency,
	}

	closes := make([]float64, 0, len(history))
	for _, p := range history {
		if p.Close != nil {
			closes = append(closes, *p.Close)
		}
	}
	if len(closes) > 0 {
		m.DMA20 = movingAverage(closes, 20)
		m.DMA50 = movingAverage(closes, 50)
		m.DMA200 = movingAverage(closes, 200)
		m.RSI14 = computeRSI(closes, 14)

		window := closes
		if len(window) > 260 {
			window = window[len(window)-260:]
		}
		hi, lo := window[0], window[0]
		for _, v := range window[1:] {
			if v > hi {
				hi = v
			}
			if v < lo {
				lo = v
			}
		}
		m.High52, m.Low52 = &hi, &lo
	}

	m.AvgVolume = tailAverage(history, func(p market.HistoryPoint) *float64 { return p.Volume })
	m.AvgValue = tailAverage(history, func(p market.HistoryPoint) *float64 { return p.Value })

	if snapshot != nil {
		m.PE = snapshot.Float("PE")
		m.DividendYield = snapshot.Float("DIVYIELD")
		m.MarketCap = snapshot.Float("ISSUECAPITALIZATION")
	}

	m.Lot = quote.Lot
	if quote.Price != nil && quote.Lot > 0 {
		lotValue := *quote.Price * float64(quote.Lot)
		m.LotValue = &lotValue
	}
	m.ChangePercent = quote.Change
	return m
}

func movingAverage(values []float64, window int) *float64 {
	if len(values) < window {
		return nil
	}
	sum := 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	avg := sum / float64(window)
	return &avg
}

// computeRSI is the classic 14-period relative strength index over daily
// closes, unsmoothed.
func computeRSI(values []float64, window int) *float64 {
	if len(values) <= window {
		return nil
	}
	var gains, losses []float64
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}
	if len(gains) < window {
		return nil
	}
	avgGain, avgLoss := 0.0, 0.0
	for _, g := range gains[len(gains)-window:] {
		avgGain += g
	}
	for _, l := range losses[len(losses)-window:] {
		avgLoss += l
	}
	avgGain /= float64(window)
	avgLoss /= float64(window)
	if avgLoss == 0 {
		rsi := 100.0
		return &rsi
	}
	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	return &rsi
}

// tailAverage averages the most recent 20 non-nil values of a history field.
func tailAverage(history []market.HistoryPoint, pick func(market.HistoryPoint) *float64) *float64 {
	values := make([]float64, 0, len(history))
	for _, p := range history {
		if v := pick(p); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	if len(values) > 20 {
		values = values[len(values)-20:]
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	return &avg
}
