package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/httpx"
)

// aggregatorQuote serves tickers MOEX cannot: TwelveData first, Finnhub as
// the redundant second. An authentication failure is surfaced as
// missing_api_key so the operator knows to configure a key rather than wait.
// Whatever reason routed us here survives in Context, never in Reason.
func (s *Service) aggregatorQuote(ctx context.Context, ticker string, route SourceRoute) (Quote, error) {
	symbol := route.Symbol
	if symbol == "" {
		symbol = ticker
	}
	currency := route.Currency
	if currency == "" {
		currency = "USD"
	}
	quote := Quote{
		Ticker:   ticker,
		Currency: currency,
		Source:   UpstreamTwelveData,
		Context:  route.Reason,
	}

	if s.opts.TwelveDataAPIKey == "" && s.opts.FinnhubAPIKey == "" {
		quote.Reason = ReasonMissingAPIKey
		return quote, nil
	}

	if s.opts.TwelveDataAPIKey != "" {
		price, err := s.twelveDataPrice(ctx, symbol)
		switch {
		case err == nil && price != nil:
			quote.Price = price
			quote.AsOf = time.Now().UTC()
			return quote, nil
		case isAuthFailure(err):
			quote.Reason = ReasonMissingAPIKey
			return quote, nil
		case err != nil:
			s.log.Warn("twelvedata quote failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	if s.opts.FinnhubAPIKey != "" {
		price, asOf, err := s.finnhubPrice(ctx, symbol)
		switch {
		case err == nil && price != nil:
			quote.Price = price
			quote.Source = UpstreamFinnhub
			quote.AsOf = asOf
			return quote, nil
		case isAuthFailure(err):
			quote.Reason = ReasonMissingAPIKey
			return quote, nil
		case err != nil:
			s.log.Warn("finnhub quote failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	quote.Reason = ReasonUpstreamUnavailable
	return quote, nil
}

type twelveDataResponse struct {
	Price   string      `json:"price"`
	Status  string      `json:"status"`
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
}

func (s *Service) twelveDataPrice(ctx context.Context, symbol string) (*float64, error) {
	params := url.Values{"symbol": {symbol}, "apikey": {s.opts.TwelveDataAPIKey}}
	var payload twelveDataResponse
	if err := s.http.GetJSON(ctx, s.opts.TwelveDataBaseURL+"/price", params, nil, &payload); err != nil {
		return nil, err
	}
	if payload.Status == "error" {
		code, _ := payload.Code.Int64()
		if code == 401 || code == 403 || mentionsAPIKey(payload.Message) {
			return nil, errAuth
		}
		return nil, dataErr("twelvedata error for %s: %s", symbol, payload.Message)
	}
	if f, ok := toFloat(payload.Price); ok && f != 0 {
		return floatPtr(f), nil
	}
	return nil, dataErr("twelvedata returned no price for %s", symbol)
}

type finnhubQuote struct {
	Current   float64 `json:"c"`
	Timestamp int64   `json:"t"`
}

func (s *Service) finnhubPrice(ctx context.Context, symbol string) (*float64, time.Time, error) {
	params := url.Values{"symbol": {symbol}, "token": {s.opts.FinnhubAPIKey}}
	var payload finnhubQuote
	if err := s.http.GetJSON(ctx, s.opts.FinnhubBaseURL+"/quote", params, nil, &payload); err != nil {
		return nil, time.Time{}, err
	}
	if payload.Current == 0 {
		return nil, time.Time{}, dataErr("finnhub returned no price for %s", symbol)
	}
	asOf := time.Time{}
	if payload.Timestamp > 0 {
		asOf = time.Unix(payload.Timestamp, 0).UTC()
	}
	return floatPtr(payload.Current), asOf, nil
}

var errAuth = errors.New("aggregator rejected credentials")

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errAuth) {
		return true
	}
	var se *httpx.StatusError
	if errors.As(err, &se) {
		return se.Code == 401 || se.Code == 403
	}
	return false
}

func mentionsAPIKey(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "api key") || strings.Contains(m, "apikey") || strings.Contains(m, "token")
}
