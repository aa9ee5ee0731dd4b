// Package market is the quoting layer: it decides which upstream serves a
// ticker (MOEX ISS, Binance, or a paid aggregator), fetches and caches quotes,
// and reports why a quote is degraded instead of just failing.
package market

import (
	"errors"
	"fmt"
	"time"
)

// Upstream identifies the source a quote came from.
type Upstream string

const (
	UpstreamMOEX       Upstream = "moex"
	UpstreamBinance    Upstream = "binance"
	UpstreamTwelveData Upstream = "twelvedata"
	UpstreamFinnhub    Upstream = "finnhub"
	UpstreamUnknown    Upstream = "unknown"
)

// RouteKind classifies which fetcher should serve a ticker.
type RouteKind string

const (
	RoutePrimary    RouteKind = "primary"
	RouteCrypto     RouteKind = "crypto"
	RouteAggregator RouteKind = "aggregator"
	RouteUnknown    RouteKind = "unknown"
)

// Degradation reason codes. Closed set; rendered to users by internal/render.
const (
	ReasonNoActiveTrading     = "no_active_trading_on_moex"
	ReasonDelisted            = "delisted_from_moex"
	ReasonDelistingAnnounced  = "moex_delisting_announced"
	ReasonEODCloseFallback    = "eod_close_fallback"
	ReasonStalePrice          = "stale_price"
	ReasonNoTradesNoHistory   = "no_trades_no_history"
	ReasonMissingAPIKey       = "missing_api_key"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonUnknownTicker       = "unknown_ticker"
	ReasonMOEXUnavailable     = "moex_unavailable"
	ReasonNotInTBank          = "not_available_in_tbank"
)

// SourceRoute is the resolved decision of which upstream and venue should
// serve a ticker. Produced once per resolution call, never persisted.
type SourceRoute struct {
	Kind     RouteKind
	Symbol   string // upstream-specific identifier
	Board    string
	Market   string
	Engine   string
	Currency string
	Reason   string // why this route is degraded, if at all
}

// Quote is the normalized result of a quote fetch. A nil Price with a Reason
// code is the dominant "known unavailable" outcome in this subsystem and is
// distinct from an error.
type Quote struct {
	Ticker   string
	Price    *float64
	Currency string
	AsOf     time.Time // zero when the upstream gave no usable timestamp
	Source   Upstream
	Board    string
	Market   string
	Lot      int // minimum tradable unit; 0 when unknown, never guessed
	Change   *float64
	Volume   *float64
	Value    *float64
	Reason   string
	Context  string // secondary degradation code layered on top of Reason
}

// MarketDataError means an upstream responded but the needed data is
// structurally absent. It is never retried.
type MarketDataError struct {
	Msg string
}

func (e *MarketDataError) Error() string { return e.Msg }

func dataErr(format string, args ...any) error {
	return &MarketDataError{Msg: fmt.Sprintf(format, args...)}
}

func IsMarketDataError(err error) bool {
	var me *MarketDataError
	return errors.As(err, &me)
}

func floatPtr(v float64) *float64 { return &v }
