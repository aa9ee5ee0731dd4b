package market

import (
	"context"
	"encoding/json"
	"net/url"

	"go.uber.org/zap"
)

const keyRateCacheKey = "key_rate"

// GetKeyRate returns the current key rate as a fraction (0.16 for 16%).
// Resolution order: MOEX RUONIA statistics, then the central-bank daily feed,
// then the configured static fallback. A transient failure after a prior
// success serves the stale cached rate instead of failing the caller.
func (s *Service) GetKeyRate(ctx context.Context) (float64, error) {
	if v, ok := s.keyRate.Get(keyRateCacheKey); ok {
		return v, nil
	}

	rate, err := s.keyRateRUONIA(ctx)
	if err != nil {
		s.log.Warn("ruonia key rate failed", zap.Error(err))
		rate, err = s.keyRateCBR(ctx)
	}
	if err != nil {
		s.log.Warn("cbr key rate failed", zap.Error(err))
		if v, ok, _ := s.keyRate.GetStale(keyRateCacheKey); ok {
			return v, nil
		}
		if s.opts.KeyRateFallback != nil {
			return *s.opts.KeyRateFallback, nil
		}
		return 0, dataErr("key rate unavailable: %v", err)
	}

	s.keyRate.Set(keyRateCacheKey, rate)
	return rate, nil
}

func (s *Service) keyRateRUONIA(ctx context.Context) (float64, error) {
	endpoint := s.opts.MOEXBaseURL + "/iss/statistics/engines/stock/markets/bonds/ruonia.json"
	tables, err := s.fetchTables(ctx, endpoint, url.Values{"limit": {"1"}})
	if err != nil {
		return 0, err
	}
	rows := tables["ruonia"]
	if len(rows) == 0 {
		rows = tables["data"]
	}
	if len(rows) == 0 {
		return 0, dataErr("ruonia feed returned no rows")
	}
	value := rowFloat(rows[0], "RUONIA", "RUONIAINDEX", "VALUE")
	if value == nil {
		return 0, dataErr("ruonia row has no numeric value")
	}
	return normalizeRate(*value), nil
}

func (s *Service) keyRateCBR(ctx context.Context) (float64, error) {
	var payload map[string]json.RawMessage
	if err := s.http.GetJSON(ctx, s.opts.CBRKeyRateURL, nil, nil, &payload); err != nil {
		return 0, err
	}
	raw, ok := payload["KeyRate"]
	if !ok {
		return 0, dataErr("cbr feed has no KeyRate field")
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if f, ok := toFloat(asString); ok {
			return normalizeRate(f), nil
		}
		return 0, dataErr("cbr KeyRate %q is not numeric", asString)
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return normalizeRate(asNumber), nil
	}
	return 0, dataErr("cbr KeyRate has unexpected shape")
}

// normalizeRate reconciles the feeds' dual representation: values above 1.5
// cannot plausibly be fractions, so they are percentages and get divided.
func normalizeRate(raw float64) float64 {
	if raw > 1.5 {
		return raw / 100
	}
	return raw
}
