package market

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Ordered candidate fields for a usable live price; first non-null non-zero
// wins. Mirrors how ISS populates marketdata across boards.
var priceFields = []string{"LAST", "LASTTOPREVPRICE", "LCLOSEPRICE", "MARKETPRICE3", "MARKETPRICE", "CLOSE"}

var closeFields = []string{"CLOSE", "LEGALCLOSEPRICE", "MARKETPRICE3", "MARKETPRICE"}

// moexQuote fetches live market data for a resolved board, falling back to the
// same-day end-of-day close when the board has no live price.
func (s *Service) moexQuote(ctx context.Context, ticker string, route SourceRoute) (Quote, error) {
	quote := Quote{
		Ticker:   ticker,
		Source:   UpstreamMOEX,
		Board:    route.Board,
		Market:   route.Market,
		Currency: route.Currency,
	}

	if route.Board == "" {
		quote.Reason = route.Reason
		if quote.Reason == "" {
			quote.Reason = ReasonNoActiveTrading
		}
		return quote, nil
	}

	engine := route.Engine
	if engine == "" {
		engine = "stock"
	}
	market := route.Market
	if market == "" {
		market = "shares"
	}

	endpoint := s.opts.MOEXBaseURL + "/iss/engines/" + url.PathEscape(engine) +
		"/markets/" + url.PathEscape(market) + "/securities/" + url.PathEscape(ticker) + ".json"
	tables, err := s.fetchTables(ctx, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}

	securities := tables["securities"]
	marketdata := tables["marketdata"]

	secRow := findRow(securities, "BOARDID", route.Board)
	if secRow == nil && len(securities) > 0 {
		secRow = securities[0]
	}
	mdRow := findRow(marketdata, "BOARDID", route.Board)
	if mdRow == nil && len(marketdata) > 0 {
		mdRow = marketdata[0]
	}

	if secRow != nil {
		if cur := rowString(secRow, "FACEUNIT", "CURRENCYID"); cur != "" {
			quote.Currency = cur
		}
	}
	if quote.Currency == "" {
		quote.Currency = "RUB"
	}

	if mdRow != nil {
		quote.Price = rowPrice(mdRow, priceFields...)
		quote.AsOf = rowTimestamp(mdRow, "SYSTIME", "TIME", "UPDATETIME", "DATETIME")
		quote.Change = rowFloat(mdRow, "LASTCHANGEPRCNT")
		quote.Volume = rowFloat(mdRow, "VOLTODAY")
		quote.Value = rowFloat(mdRow, "VALTODAY")
		quote.Lot = rowInt(mdRow, "LOTSIZE")
	}
	if quote.Lot == 0 && secRow != nil {
		quote.Lot = rowInt(secRow, "LOTSIZE")
	}

	if quote.Price != nil {
		quote.Reason = route.Reason
		return quote, nil
	}

	// No live price on the board; try today's end-of-day close.
	today := time.Now().UTC().Format("2006-01-02")
	closePrice, err := s.GetDailyClose(ctx, ticker, route.Board, market, today)
	if err == nil {
		quote.Price = floatPtr(closePrice)
		quote.Reason = ReasonEODCloseFallback
		quote.Context = route.Reason
		return quote, nil
	}
	if !IsMarketDataError(err) {
		s.log.Warn("eod close lookup failed", zap.String("ticker", ticker), zap.Error(err))
	}
	quote.Reason = ReasonNoTradesNoHistory
	quote.Context = route.Reason
	return quote, nil
}

// GetDailyClose returns the official close for a single trading day.
func (s *Service) GetDailyClose(ctx context.Context, ticker, board, market, date string) (float64, error) {
	if market == "" {
		market = "shares"
	}
	endpoint := s.opts.MOEXBaseURL + "/iss/history/engines/stock/markets/" + url.PathEscape(market) +
		"/securities/" + url.PathEscape(ticker) + ".json"
	params := url.Values{"from": {date}, "till": {date}}
	tables, err := s.fetchTables(ctx, endpoint, params)
	if err != nil {
		return 0, err
	}
	rows := tables["history"]
	if board != "" {
		if row := findRow(rows, "BOARDID", board); row != nil {
			rows = []Row{row}
		}
	}
	for _, row := range rows {
		if p := rowPrice(row, closeFields...); p != nil {
			return *p, nil
		}
	}
	return 0, dataErr("no close for %s (%s) on %s", ticker, board, date)
}

// GetIndexValue returns the latest level for a MOEX index such as IMOEX or
// RGBI. A transient failure after a prior success serves the stale level.
func (s *Service) GetIndexValue(ctx context.Context, name string) (float64, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if v, ok := s.indexes.Get(key); ok {
		return v, nil
	}

	endpoint := s.opts.MOEXBaseURL + "/iss/statistics/engines/stock/markets/index/securities/" + url.PathEscape(key) + ".json"
	tables, err := s.fetchTables(ctx, endpoint, nil)
	if err != nil {
		s.log.Warn("index fetch failed", zap.String("index", key), zap.Error(err))
		if v, ok, _ := s.indexes.GetStale(key); ok {
			return v, nil
		}
		return 0, err
	}

	rows := tables["securities"]
	if len(rows) == 0 {
		rows = tables["index"]
	}
	if len(rows) == 0 {
		return 0, dataErr("index %s not found", key)
	}
	value := rowFloat(rows[0], "CURRENTVALUE", "LASTVALUE", "VALUE")
	if value == nil {
		return 0, dataErr("index %s has no numeric level", key)
	}
	s.indexes.Set(key, *value)
	return *value, nil
}

// GetSecuritySnapshot returns static instrument metadata (PE, dividend yield,
// capitalization and the like) from the ISS securities profile.
func (s *Service) GetSecuritySnapshot(ctx context.Context, ticker string) (Row, error) {
	key := strings.ToUpper(strings.TrimSpace(ticker))
	if row, ok := s.snapshots.Get(key); ok {
		return row, nil
	}

	tables, err := s.fetchTables(ctx, s.opts.MOEXBaseURL+"/iss/securities/"+url.PathEscape(key)+".json", nil)
	if err != nil {
		return nil, err
	}
	rows := tables["securities"]
	var row Row
	if len(rows) > 0 {
		row = rows[0]
	} else {
		row = Row{}
	}
	s.snapshots.Set(key, row)
	return row, nil
}

// Commentary is the latest analytics headline from the MOEX feed.
type Commentary struct {
	Title   string
	Source  string
	Summary string
	URL     string
}

// GetMarketCommentary returns the newest analytics item, or nil when the feed
// has nothing usable. It never fails: commentary is decorative.
func (s *Service) GetMarketCommentary(ctx context.Context) *Commentary {
	endpoint := s.opts.MOEXBaseURL + "/iss/statistics/engines/stock/markets/index/analytics.json"
	tables, err := s.fetchTables(ctx, endpoint, nil)
	if err != nil {
		s.log.Warn("analytics fetch failed", zap.Error(err))
		return nil
	}
	rows := tables["analytics"]
	if len(rows) == 0 {
		return nil
	}

	normalized := Row{}
	for k, v := range rows[0] {
		normalized[strings.ToLower(k)] = v
	}
	title := rowString(normalized, "title", "name")
	if title == "" {
		return nil
	}
	source := rowString(normalized, "source")
	if source == "" {
		source = "MOEX"
	}
	return &Commentary{
		Title:   title,
		Source:  source,
		Summary: rowString(normalized, "annotation", "brief", "text"),
		URL:     rowString(normalized, "url", "href", "link"),
	}
}
