package market

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// cryptoPairRe matches exchange pair symbols like BTCUSDT or ETHBTC.
var cryptoPairRe = regexp.MustCompile(`^[A-Z]+(USDT|BTC|BUSD)$`)

type aggregatorMapping struct {
	Symbol   string
	Currency string
}

// alwaysAggregator lists tickers that must never hit the MOEX feed: either
// already delisted or trading under an announced delisting. The two reason
// codes differ only in the note shown to the user, routing is identical.
var alwaysAggregator = map[string]SourceRoute{
	"POLY": {Kind: RouteAggregator, Symbol: "POYYF", Currency: "USD", Reason: ReasonDelisted},
	"QIWI": {Kind: RouteAggregator, Symbol: "QIWI", Currency: "USD", Reason: ReasonDelisted},
	"FIVE": {Kind: RouteAggregator, Symbol: "FIVE", Currency: "USD", Reason: ReasonDelistingAnnounced},
	"AGRO": {Kind: RouteAggregator, Symbol: "AGRO", Currency: "USD", Reason: ReasonDelistingAnnounced},
}

// aggregatorSymbols maps MOEX tickers to aggregator identifiers for fallback
// when the primary feed cannot serve them.
var aggregatorSymbols = map[string]aggregatorMapping{
	"POLY": {Symbol: "POYYF", Currency: "USD"},
	"QIWI": {Symbol: "QIWI", Currency: "USD"},
	"FIVE": {Symbol: "FIVE", Currency: "USD"},
	"AGRO": {Symbol: "AGRO", Currency: "USD"},
	"YNDX": {Symbol: "YNDX", Currency: "USD"},
	"OZON": {Symbol: "OZON", Currency: "USD"},
}

// ResolveSource classifies a ticker into a route. Decision order: static
// override table, crypto pair pattern, then a live MOEX boards lookup with
// aggregator fallback when MOEX does not know or does not trade the ticker.
func (s *Service) ResolveSource(ctx context.Context, ticker string) (SourceRoute, error) {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if symbol == "" {
		return SourceRoute{Kind: RouteUnknown, Reason: ReasonUnknownTicker}, nil
	}

	if route, ok := alwaysAggregator[symbol]; ok {
		return route, nil
	}

	if cryptoPairRe.MatchString(symbol) {
		return SourceRoute{
			Kind:     RouteCrypto,
			Symbol:   symbol,
			Currency: cryptoPairRe.FindStringSubmatch(symbol)[1],
		}, nil
	}

	if route, ok := s.routes.Get(symbol); ok {
		return route, nil
	}

	route, err := s.lookupBoards(ctx, symbol)
	if err != nil {
		return SourceRoute{}, err
	}
	// A transport blip must not pin the ticker to the fallback route for the
	// whole route TTL; the next call retries MOEX.
	if route.Reason != ReasonMOEXUnavailable {
		s.routes.Set(symbol, route)
	}
	return route, nil
}

// lookupBoards asks ISS which boards list the ticker and picks the first one
// flagged as actively traded.
func (s *Service) lookupBoards(ctx context.Context, symbol string) (SourceRoute, error) {
	tables, err := s.fetchTables(ctx, s.opts.MOEXBaseURL+"/iss/securities/"+url.PathEscape(symbol)+".json", nil)
	if err != nil {
		if isNotFound(err) {
			return s.aggregatorFallback(symbol, ReasonUnknownTicker), nil
		}
		s.log.Warn("moex boards lookup failed", zap.String("ticker", symbol), zap.Error(err))
		if m, ok := aggregatorSymbols[symbol]; ok {
			return SourceRoute{Kind: RouteAggregator, Symbol: m.Symbol, Currency: m.Currency, Reason: ReasonMOEXUnavailable}, nil
		}
		return SourceRoute{}, dataErr("boards lookup for %s failed: %v", symbol, err)
	}

	boards := tables["boards"]
	if len(boards) == 0 {
		return s.aggregatorFallback(symbol, ReasonUnknownTicker), nil
	}

	for _, row := range boards {
		if rowInt(row, "is_traded", "IS_TRADED") != 1 {
			continue
		}
		return SourceRoute{
			Kind:     RoutePrimary,
			Symbol:   symbol,
			Board:    rowString(row, "boardid", "BOARDID"),
			Market:   rowString(row, "market", "MARKET"),
			Engine:   rowString(row, "engine", "ENGINE"),
			Currency: rowString(row, "currencyid", "CURRENCYID"),
		}, nil
	}

	// Listed but nothing trades. Prefer the aggregator; otherwise hand the
	// caller a flagged primary route so it can still try the EOD close.
	if m, ok := aggregatorSymbols[symbol]; ok {
		return SourceRoute{Kind: RouteAggregator, Symbol: m.Symbol, Currency: m.Currency, Reason: ReasonNoActiveTrading}, nil
	}
	first := boards[0]
	return SourceRoute{
		Kind:     RoutePrimary,
		Symbol:   symbol,
		Board:    rowString(first, "boardid", "BOARDID"),
		Market:   rowString(first, "market", "MARKET"),
		Engine:   rowString(first, "engine", "ENGINE"),
		Currency: rowString(first, "currencyid", "CURRENCYID"),
		Reason:   ReasonNoActiveTrading,
	}, nil
}

func (s *Service) aggregatorFallback(symbol, reason string) SourceRoute {
	if m, ok := aggregatorSymbols[symbol]; ok {
		return SourceRoute{Kind: RouteAggregator, Symbol: m.Symbol, Currency: m.Currency, Reason: reason}
	}
	return SourceRoute{Kind: RouteUnknown, Symbol: symbol, Reason: reason}
}
