// Package coingecko fetches coin market snapshots for crypto ideas. The data
// is decorative: any failure yields an empty result, never an error.
package coingecko

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/cache"
	"github.com/ivolkov/tg-fin-assistant/internal/httpx"
)

// Market is one row of the /coins/markets endpoint.
type Market struct {
	ID          string   `json:"id"`
	Symbol      string   `json:"symbol"`
	Price       float64  `json:"current_price"`
	MarketCap   *float64 `json:"market_cap"`
	TotalVolume *float64 `json:"total_volume"`
	Change24h   *float64 `json:"price_change_percentage_24h_in_currency"`
	Change7d    *float64 `json:"price_change_percentage_7d_in_currency"`
	Change30d   *float64 `json:"price_change_percentage_30d_in_currency"`
	LastUpdated string   `json:"last_updated"`
}

// UpdatedAt parses the upstream timestamp, defaulting to now.
func (m Market) UpdatedAt() time.Time {
	if t, err := time.Parse(time.RFC3339, m.LastUpdated); err == nil {
		return t
	}
	return time.Now().UTC()
}

// PageURL is the human-facing coin page used as an idea source link.
func (m Market) PageURL() string {
	return "https://www.coingecko.com/en/coins/" + url.PathEscape(m.ID)
}

type Options struct {
	BaseURL string
}

type Client struct {
	log  *zap.Logger
	http *httpx.Client
	opts Options

	markets *cache.TTL[string, *Market]
}

func New(log *zap.Logger, client *httpx.Client, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.coingecko.com/api/v3"
	}
	return &Client{
		log:     log,
		http:    client,
		opts:    opts,
		markets: cache.New[string, *Market](10 * time.Minute),
	}
}

// CoinMarket returns the market snapshot for a coin against vsCurrency, or nil
// when CoinGecko is unreachable or knows nothing about the coin.
func (c *Client) CoinMarket(ctx context.Context, coinID, vsCurrency string) *Market {
	if vsCurrency == "" {
		vsCurrency = "usd"
	}
	key := coinID + "/" + vsCurrency
	if m, ok := c.markets.Get(key); ok {
		return m
	}

	params := url.Values{
		"vs_currency":             {vsCurrency},
		"ids":                     {coinID},
		"price_change_percentage": {"24h,7d,30d"},
	}
	var rows []Market
	err := c.http.GetJSON(ctx, c.opts.BaseURL+"/coins/markets", params, nil, &rows)
	if err != nil {
		c.log.Warn("coingecko fetch failed", zap.String("coin", coinID), zap.Error(err))
		c.markets.Set(key, nil)
		return nil
	}
	if len(rows) == 0 {
		c.markets.Set(key, nil)
		return nil
	}
	m := rows[0]
	c.markets.Set(key, &m)
	return &m
}
