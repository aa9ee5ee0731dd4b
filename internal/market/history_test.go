package market_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ivolkov/tg-fin-assistant/internal/market"
)

func historyPage(start, count int) map[string]any {
	rows := make([]map[string]any, 0, count)
	for i := 0; i < count; i++ {
		day := start + i
		rows = append(rows, map[string]any{
			"TRADEDATE": fmt.Sprintf("2024-%02d-%02d", 1+day/28, 1+day%28),
			"CLOSE":     100.0 + float64(day),
			"VOLUME":    1000 + day,
			"VALUE":     100000 + day,
		})
	}
	return map[string]any{"history": rows}
}

func TestHistoryStopsOnShortPage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/iss/history/engines/stock/markets/shares/securities/SBER.json", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Query().Get("start") {
		case "0":
			json.NewEncoder(w).Encode(historyPage(0, 100))
		case "100":
			json.NewEncoder(w).Encode(historyPage(100, 30))
		default:
			t.Errorf("unexpected start offset %q", r.URL.Query().Get("start"))
			json.NewEncoder(w).Encode(historyPage(0, 0))
		}
	})
	svc := newTestService(t, mux, nil)

	rows, err := svc.GetSecurityHistory(context.Background(), "SBER", "TQBR", 260)
	require.NoError(t, err)
	require.Len(t, rows, 130, "short page ends pagination; pages concatenate")
	require.EqualValues(t, 2, calls.Load())

	// Field values survive untouched.
	first := rows[0]
	require.Equal(t, "2024-01-01", first["TRADEDATE"])
	v, ok := first["CLOSE"].(json.Number)
	require.True(t, ok)
	f, err := v.Float64()
	require.NoError(t, err)
	require.Equal(t, 100.0, f)

	// Cached on the (ticker, board, days) key.
	_, err = svc.GetSecurityHistory(context.Background(), "SBER", "TQBR", 260)
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestHistoryStopsAtRequestedDays(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/iss/history/engines/stock/markets/shares/securities/SBER.json", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(historyPage(0, 100))
	})
	svc := newTestService(t, mux, nil)

	rows, err := svc.GetSecurityHistory(context.Background(), "SBER", "TQBR", 50)
	require.NoError(t, err)
	require.Len(t, rows, 100)
	require.EqualValues(t, 1, calls.Load())
}

func TestHistoryTriesMarketCandidatesInOrder(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/iss/history/engines/stock/markets/shares/securities/FXRL.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"history": []map[string]any{}})
	})
	mux.HandleFunc("/iss/history/engines/stock/markets/etf/securities/FXRL.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(historyPage(0, 10))
	})
	svc := newTestService(t, mux, nil)

	// TQTF tries shares first, then etf; stops at the first candidate with rows.
	rows, err := svc.GetSecurityHistory(context.Background(), "FXRL", "TQTF", 260)
	require.NoError(t, err)
	require.Len(t, rows, 10)
}

func TestHistoryPartialOnUpstreamError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/iss/history/engines/stock/markets/shares/securities/SBER.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") == "0" {
			json.NewEncoder(w).Encode(historyPage(0, 100))
			return
		}
		http.NotFound(w, r)
	})
	svc := newTestService(t, mux, nil)

	rows, err := svc.GetSecurityHistory(context.Background(), "SBER", "TQBR", 260)
	require.NoError(t, err, "partial success is not an error")
	require.Len(t, rows, 100)
}

func TestNormalizeHistorySortsAndTruncates(t *testing.T) {
	t.Parallel()

	rows := []market.Row{
		{"TRADEDATE": "2024-09-03", "CLOSE": 252.0},
		{"TRADEDATE": "2024-09-01", "CLOSE": 250.0, "VOLUME": 1000.0},
		{"TRADEDATE": "not-a-date"},
		{"TRADEDATE": "2024-09-02", "CLOSE": "251,5"},
	}
	points := market.NormalizeHistory(rows, 2)
	require.Len(t, points, 2)
	require.Equal(t, "2024-09-02", points[0].Date.Format("2006-01-02"))
	require.NotNil(t, points[0].Close)
	require.Equal(t, 251.5, *points[0].Close, "comma decimal separators are accepted")
	require.Equal(t, "2024-09-03", points[1].Date.Format("2006-01-02"))
}
