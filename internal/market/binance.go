package market

import (
	"context"
	"net/url"
	"time"
)

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

// binanceQuote fetches a crypto pair. Crypto is binary in this design: a
// missing price is a hard MarketDataError, not a degraded quote.
func (s *Service) binanceQuote(ctx context.Context, ticker string, route SourceRoute) (Quote, error) {
	var payload binanceTicker
	params := url.Values{"symbol": {route.Symbol}}
	if err := s.http.GetJSON(ctx, s.opts.BinanceBaseURL+"/api/v3/ticker/24hr", params, nil, &payload); err != nil {
		return Quote{}, err
	}

	price, ok := toFloat(payload.LastPrice)
	if !ok || price == 0 {
		return Quote{}, dataErr("binance returned no price for %s", route.Symbol)
	}

	quote := Quote{
		Ticker:   ticker,
		Price:    floatPtr(price),
		Currency: route.Currency,
		Source:   UpstreamBinance,
		Board:    "CRYPTO",
	}
	if payload.CloseTime > 0 {
		quote.AsOf = time.UnixMilli(payload.CloseTime).UTC()
	}
	if change, ok := toFloat(payload.PriceChangePercent); ok {
		quote.Change = floatPtr(change)
	}
	if volume, ok := toFloat(payload.Volume); ok {
		quote.Volume = floatPtr(volume)
	}
	if value, ok := toFloat(payload.QuoteVolume); ok {
		quote.Value = floatPtr(value)
	}
	return quote, nil
}
