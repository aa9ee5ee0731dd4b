package market

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// fullPage is the ISS history page size; a shorter page means the last one.
const fullPage = 100

// marketCandidates maps a board to the history markets worth trying, in
// order. Unknown boards try everything.
func marketCandidates(board string) []string {
	switch strings.ToUpper(board) {
	case "TQBR", "TQTD", "SMAL", "FQBR":
		return []string{"shares"}
	case "TQTF":
		return []string{"shares", "etf"}
	case "TQOB", "TQCB", "TQOD":
		return []string{"bonds"}
	case "TOM":
		return []string{"currencies"}
	case "SNDX":
		return []string{"index"}
	}
	return []string{"shares", "bonds", "etf", "index", "foreignshares", "currencies"}
}

// GetSecurityHistory fetches up to days of raw daily rows for a security,
// paginating through the ISS history endpoint. Rows come back in upstream
// order; callers sort. Partial results on upstream trouble are returned, not
// treated as an error. The first market candidate yielding any rows wins.
func (s *Service) GetSecurityHistory(ctx context.Context, ticker, board string, days int) ([]Row, error) {
	key := historyKey{ticker: strings.ToUpper(ticker), board: strings.ToUpper(board), days: days}
	if rows, ok := s.history.Get(key); ok {
		return rows, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days*2).Format("2006-01-02")
	var collected []Row

	for _, market := range marketCandidates(board) {
		endpoint := s.opts.MOEXBaseURL + "/iss/history/engines/stock/markets/" + url.PathEscape(market) +
			"/securities/" + url.PathEscape(key.ticker) + ".json"
		start := 0
		for {
			params := url.Values{
				"from":  {cutoff},
				"start": {strconv.Itoa(start)},
			}
			tables, err := s.fetchTables(ctx, endpoint, params)
			if err != nil {
				s.log.Warn("history fetch failed",
					zap.String("ticker", key.ticker),
					zap.String("market", market),
					zap.Error(err))
				break
			}
			rows := tables["history"]
			if len(rows) == 0 {
				break
			}
			collected = append(collected, rows...)
			if len(rows) < fullPage || len(collected) >= days {
				break
			}
			start += len(rows)
		}
		if len(collected) > 0 {
			break
		}
	}

	s.history.Set(key, collected)
	return collected, nil
}

// HistoryPoint is a normalized daily bar. Derived on each fetch, sorted
// ascending by date, never persisted.
type HistoryPoint struct {
	Date   time.Time
	Close  *float64
	Volume *float64
	Value  *float64
}

// NormalizeHistory converts raw history rows into sorted HistoryPoints,
// truncated to the most recent maxPoints.
func NormalizeHistory(rows []Row, maxPoints int) []HistoryPoint {
	points := make([]HistoryPoint, 0, len(rows))
	for _, row := range rows {
		dateStr := rowString(row, "TRADEDATE", "DATE")
		if dateStr == "" {
			continue
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		points = append(points, HistoryPoint{
			Date:   date,
			Close:  rowFloat(row, "CLOSE", "LEGALCLOSEPRICE", "MARKETPRICE3", "MARKETPRICE"),
			Volume: rowFloat(row, "VOLUME"),
			Value:  rowFloat(row, "VALUE"),
		})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	if maxPoints > 0 && len(points) > maxPoints {
		points = points[len(points)-maxPoints:]
	}
	return points
}
