package market_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/httpx"
	"github.com/ivolkov/tg-fin-assistant/internal/market"
)

// newTestService wires a Service against a single httptest server that plays
// every upstream at once. mutate tweaks options after the URLs are set.
func newTestService(t *testing.T, handler http.Handler, mutate func(*market.Options)) *market.Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := httpx.New(2 * time.Second)
	client.Retry = httpx.RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}

	opts := market.Options{
		MOEXBaseURL:       srv.URL,
		CBRKeyRateURL:     srv.URL + "/cbr/key-rate.json",
		BinanceBaseURL:    srv.URL + "/binance",
		TwelveDataBaseURL: srv.URL + "/twelvedata",
		FinnhubBaseURL:    srv.URL + "/finnhub",
	}
	if mutate != nil {
		mutate(&opts)
	}
	return market.NewService(zap.NewNop(), client, opts)
}

// refuseAll fails the test on any network call.
func refuseAll(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected upstream call: %s", r.URL.String())
		http.NotFound(w, r)
	})
}
