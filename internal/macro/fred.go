// Package macro pulls single macro-economic observations from the FRED API.
// The values decorate investment ideas; every failure degrades to "no data".
package macro

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/cache"
	"github.com/ivolkov/tg-fin-assistant/internal/httpx"
)

// Observation is the latest data point of a FRED series.
type Observation struct {
	SeriesID string
	Label    string
	Value    *float64
	Date     time.Time
	URL      string
}

type Options struct {
	BaseURL string
	APIKey  string
}

type Client struct {
	log  *zap.Logger
	http *httpx.Client
	opts Options

	obs *cache.TTL[string, *Observation]

	warnOnce sync.Once
}

func New(log *zap.Logger, client *httpx.Client, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.stlouisfed.org"
	}
	return &Client{
		log:  log,
		http: client,
		opts: opts,
		obs:  cache.New[string, *Observation](6 * time.Hour),
	}
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// LatestValue returns the newest observation for a series. A missing API key
// logs a warning once and yields nil; upstream trouble also yields nil. The
// empty result is cached so a dead series is not re-fetched every call.
func (c *Client) LatestValue(ctx context.Context, seriesID, label string) *Observation {
	if obs, ok := c.obs.Get(seriesID); ok {
		return obs
	}

	if c.opts.APIKey == "" {
		c.warnOnce.Do(func() {
			c.log.Warn("FRED API key missing; macro data disabled")
		})
		c.obs.Set(seriesID, nil)
		return nil
	}

	params := url.Values{
		"series_id":  {seriesID},
		"file_type":  {"json"},
		"sort_order": {"desc"},
		"limit":      {"1"},
		"api_key":    {c.opts.APIKey},
	}
	var resp observationsResponse
	err := c.http.GetJSON(ctx, c.opts.BaseURL+"/fred/series/observations", params, nil, &resp)
	if err != nil {
		c.log.Warn("FRED fetch failed", zap.String("series", seriesID), zap.Error(err))
		c.obs.Set(seriesID, nil)
		return nil
	}
	if len(resp.Observations) == 0 {
		c.obs.Set(seriesID, nil)
		return nil
	}

	raw := resp.Observations[0]
	obs := &Observation{
		SeriesID: seriesID,
		Label:    label,
		URL:      "https://fred.stlouisfed.org/series/" + url.PathEscape(seriesID),
	}
	if v, err := strconv.ParseFloat(raw.Value, 64); err == nil {
		obs.Value = &v
	}
	if d, err := time.Parse("2006-01-02", raw.Date); err == nil {
		obs.Date = d
	} else {
		obs.Date = time.Now().UTC()
	}
	c.obs.Set(seriesID, obs)
	return obs
}
