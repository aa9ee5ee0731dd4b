package market_test

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ivolkov/tg-fin-assistant/internal/market"
)

func sberBoards() map[string]any {
	return map[string]any{
		"boards": map[string]any{
			"columns": []string{"boardid", "market", "engine", "is_traded", "currencyid"},
			"data": [][]any{
				{"TQBR", "shares", "stock", 1, "RUB"},
			},
		},
	}
}

func TestGetQuoteCachedWithinTTL(t *testing.T) {
	t.Parallel()

	var quoteCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/iss/securities/SBER.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sberBoards())
	})
	mux.HandleFunc("/iss/engines/stock/markets/shares/securities/SBER.json", func(w http.ResponseWriter, r *http.Request) {
		quoteCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"securities": []map[string]any{
				{"BOARDID": "TQBR", "FACEUNIT": "RUB", "LOTSIZE": 10},
			},
			"marketdata": []map[string]any{
				{"BOARDID": "TQBR", "LAST": 250.5, "VOLTODAY": 123456, "VALTODAY": 4567890, "LASTCHANGEPRCNT": 1.25, "SYSTIME": "2024-10-01 12:00:00"},
			},
		})
	})
	svc := newTestService(t, mux, nil)

	quote, err := svc.GetQuote(context.Background(), "SBER")
	require.NoError(t, err)
	require.NotNil(t, quote.Price)
	require.Equal(t, 250.5, *quote.Price)
	require.Equal(t, "RUB", quote.Currency)
	require.Equal(t, market.UpstreamMOEX, quote.Source)
	require.Equal(t, 10, quote.Lot)
	require.Equal(t, time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC), quote.AsOf)
	require.NotNil(t, quote.Change)
	require.Equal(t, 1.25, *quote.Change)
	require.Empty(t, quote.Reason)

	// Second call within TTL: no new upstream request.
	_, err = svc.GetQuote(context.Background(), "sber")
	require.NoError(t, err)
	require.EqualValues(t, 1, quoteCalls.Load())
}

func TestGetQuoteRefetchesAfterTTL(t *testing.T) {
	t.Parallel()

	var quoteCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/iss/securities/SBER.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sberBoards())
	})
	mux.HandleFunc("/iss/engines/stock/markets/shares/securities/SBER.json", func(w http.ResponseWriter, r *http.Request) {
		quoteCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"marketdata": []map[string]any{{"BOARDID": "TQBR", "LAST": 100.0}},
		})
	})
	svc := newTestService(t, mux, func(o *market.Options) { o.QuoteTTL = time.Nanosecond })

	_, err := svc.GetQuote(context.Background(), "SBER")
	require.NoError(t, err)
	_, err = svc.GetQuote(context.Background(), "SBER")
	require.NoError(t, err)
	require.EqualValues(t, 2, quoteCalls.Load())
}

func TestGetQuoteServesStaleOnOutage(t *testing.T) {
	t.Parallel()

	var down atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/iss/securities/SBER.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sberBoards())
	})
	mux.HandleFunc("/iss/engines/stock/markets/shares/securities/SBER.json", func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "gateway down", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"marketdata": []map[string]any{{"BOARDID": "TQBR", "LAST": 250.5}},
		})
	})
	svc := newTestService(t, mux, func(o *market.Options) { o.QuoteTTL = time.Nanosecond })

	quote, err := svc.GetQuote(context.Background(), "SBER")
	require.NoError(t, err)
	require.NotNil(t, quote.Price)
	require.Empty(t, quote.Reason)

	// The cache entry has expired and MOEX is now down: the expired entry is
	// served instead of an error, tagged as stale.
	down.Store(true)
	quote, err = svc.GetQuote(context.Background(), "SBER")
	require.NoError(t, err)
	require.NotNil(t, quote.Price)
	require.Equal(t, 250.5, *quote.Price)
	require.Equal(t, market.ReasonStalePrice, quote.Reason)
}

func TestGetQuoteEODCloseFallback(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/iss/securities/OBLG.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"boards": map[string]any{
				"columns": []string{"boardid", "market", "engine", "is_traded", "currencyid"},
				"data":    [][]any{{"TQBR", "shares", "stock", 1, "RUB"}},
			},
		})
	})
	mux.HandleFunc("/iss/engines/stock/markets/shares/securities/OBLG.json", func(w http.ResponseWriter, r *http.Request) {
		// A timestamp but no usable live price.
		json.NewEncoder(w).Encode(map[string]any{
			"marketdata": []map[string]any{{"BOARDID": "TQBR", "SYSTIME": "2024-10-01 18:45:00", "LAST": nil}},
		})
	})
	mux.HandleFunc("/iss/history/engines/stock/markets/shares/securities/OBLG.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"history": []map[string]any{{"BOARDID": "TQBR", "TRADEDATE": "2024-10-01", "CLOSE": 248.0}},
		})
	})
	svc := newTestService(t, mux, nil)

	quote, err := svc.GetQuote(context.Background(), "OBLG")
	require.NoError(t, err)
	require.NotNil(t, quote.Price)
	require.Equal(t, 248.0, *quote.Price)
	require.Equal(t, market.ReasonEODCloseFallback, quote.Reason)
}

func TestGetQuoteNoTradesNoHistory(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/iss/securities/OBLG.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"boards": map[string]any{
				"columns": []string{"boardid", "market", "engine", "is_traded", "currencyid"},
				"data":    [][]any{{"TQBR", "shares", "stock", 1, "RUB"}},
			},
		})
	})
	mux.HandleFunc("/iss/engines/stock/markets/shares/securities/OBLG.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"marketdata": []map[string]any{}})
	})
	mux.HandleFunc("/iss/history/engines/stock/markets/shares/securities/OBLG.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"history": []map[string]any{}})
	})
	svc := newTestService(t, mux, nil)

	quote, err := svc.GetQuote(context.Background(), "OBLG")
	require.NoError(t, err)
	require.Nil(t, quote.Price)
	require.Equal(t, market.ReasonNoTradesNoHistory, quote.Reason)
}

func TestGetQuoteAggregatorWithoutKeys(t *testing.T) {
	t.Parallel()

	// FIVE routes via the static override; with no aggregator keys configured
	// the quote short-circuits without any network call.
	svc := newTestService(t, refuseAll(t), nil)

	quote, err := svc.GetQuote(context.Background(), "FIVE")
	require.NoError(t, err)
	require.Nil(t, quote.Price)
	require.Equal(t, market.UpstreamTwelveData, quote.Source)
	require.Equal(t, market.ReasonMissingAPIKey, quote.Reason)
	require.Equal(t, market.ReasonDelistingAnnounced, quote.Context)
}

func TestGetQuoteAggregatorFallsThroughToFinnhub(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/twelvedata/price", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "error", "code": 404, "message": "symbol not found"})
	})
	mux.HandleFunc("/finnhub/quote", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "fh-key", r.URL.Query().Get("token"))
		json.NewEncoder(w).Encode(map[string]any{"c": 12.34, "t": 1727800000})
	})
	svc := newTestService(t, mux, func(o *market.Options) {
		o.TwelveDataAPIKey = "td-key"
		o.FinnhubAPIKey = "fh-key"
	})

	quote, err := svc.GetQuote(context.Background(), "POLY")
	require.NoError(t, err)
	require.NotNil(t, quote.Price)
	require.Equal(t, 12.34, *quote.Price)
	require.Equal(t, market.UpstreamFinnhub, quote.Source)
	require.Equal(t, market.ReasonDelisted, quote.Context)
	require.Empty(t, quote.Reason)
}

func TestGetQuoteAggregatorAuthFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/twelvedata/price", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "error", "code": 401, "message": "invalid api key"})
	})
	svc := newTestService(t, mux, func(o *market.Options) {
		o.TwelveDataAPIKey = "bad-key"
		o.FinnhubAPIKey = "fh-key"
	})

	// Auth failures never silently fall through to the second aggregator.
	quote, err := svc.GetQuote(context.Background(), "POLY")
	require.NoError(t, err)
	require.Nil(t, quote.Price)
	require.Equal(t, market.ReasonMissingAPIKey, quote.Reason)
}

func TestGetQuoteAggregatorBothUnavailable(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/twelvedata/price", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	mux.HandleFunc("/finnhub/quote", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"c": 0})
	})
	svc := newTestService(t, mux, func(o *market.Options) {
		o.TwelveDataAPIKey = "td-key"
		o.FinnhubAPIKey = "fh-key"
	})

	quote, err := svc.GetQuote(context.Background(), "QIWI")
	require.NoError(t, err)
	require.Nil(t, quote.Price)
	require.Equal(t, market.ReasonUpstreamUnavailable, quote.Reason)
	require.Equal(t, market.ReasonDelisted, quote.Context)
}

func TestGetQuoteCrypto(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/binance/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		json.NewEncoder(w).Encode(map[string]any{
			"symbol": "BTCUSDT", "lastPrice": "64250.10", "priceChangePercent": "-1.2",
			"volume": "1234.5", "quoteVolume": "79000000", "closeTime": 1727800000000,
		})
	})
	svc := newTestService(t, mux, nil)

	quote, err := svc.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, quote.Price)
	require.Equal(t, 64250.10, *quote.Price)
	require.Equal(t, market.UpstreamBinance, quote.Source)
	require.Equal(t, "USDT", quote.Currency)
}

func TestGetQuoteCryptoMissingPriceIsHardFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/binance/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"symbol": "XXXUSDT", "lastPrice": ""})
	})
	svc := newTestService(t, mux, nil)

	_, err := svc.GetQuote(context.Background(), "XXXUSDT")
	require.Error(t, err)
	require.True(t, market.IsMarketDataError(err))
}
