// Package edgar looks up the most recent SEC earnings filing for a ticker.
package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/cache"
	"github.com/ivolkov/tg-fin-assistant/internal/httpx"
)

// Filing is a single published SEC report.
type Filing struct {
	Form string // "10-Q" or "10-K"
	URL  string
	Date time.Time
}

type Options struct {
	TickerMapURL   string
	SubmissionsURL string // submissions endpoint prefix, CIK appended
}

type Client struct {
	log  *zap.Logger
	http *httpx.Client
	opts Options

	tickers     *cache.TTL[string, map[string]string]
	submissions *cache.TTL[string, submissions]
}

func New(log *zap.Logger, client *httpx.Client, opts Options) *Client {
	if opts.TickerMapURL == "" {
		opts.TickerMapURL = "https://www.sec.gov/files/company_tickers.json"
	}
	if opts.SubmissionsURL == "" {
		opts.SubmissionsURL = "https://data.sec.gov/submissions"
	}
	return &Client{
		log:         log,
		http:        client,
		opts:        opts,
		tickers:     cache.New[string, map[string]string](24 * time.Hour),
		submissions: cache.New[string, submissions](6 * time.Hour),
	}
}

type submissions struct {
	Filings struct {
		Recent struct {
			Form            []string `json:"form"`
			ReportDate      []string `json:"reportDate"`
			FilingDate      []string `json:"filingDate"`
			AccessionNumber []string `json:"accessionNumber"`
			PrimaryDocument []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

// LatestReport returns the newest 10-Q or 10-K filing for the ticker, or nil
// when the ticker is not SEC-registered or the feed is unreachable.
func (c *Client) LatestReport(ctx context.Context, ticker string) *Filing {
	mapping := c.tickerMap(ctx)
	cik, ok := mapping[strings.ToUpper(strings.TrimSpace(ticker))]
	if !ok {
		return nil
	}

	subs, ok := c.loadSubmissions(ctx, cik)
	if !ok {
		return nil
	}

	recent := subs.Filings.Recent
	for i, form := range recent.Form {
		if form != "10-Q" && form != "10-K" {
			continue
		}
		dateStr := ""
		if i < len(recent.ReportDate) {
			dateStr = recent.ReportDate[i]
		}
		if dateStr == "" && i < len(recent.FilingDate) {
			dateStr = recent.FilingDate[i]
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			date = time.Now().UTC()
		}

		link := "https://www.sec.gov/cgi-bin/browse-edgar?CIK=" + url.QueryEscape(cik)
		if i < len(recent.AccessionNumber) && i < len(recent.PrimaryDocument) {
			accession := strings.ReplaceAll(recent.AccessionNumber[i], "-", "")
			document := recent.PrimaryDocument[i]
			if accession != "" && document != "" {
				cikNum, _ := strconv.Atoi(cik)
				link = fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%d/%s/%s", cikNum, accession, document)
			}
		}
		return &Filing{Form: form, URL: link, Date: date}
	}
	return nil
}

// tickerMap loads the SEC ticker-to-CIK map, serving the stale copy when the
// refresh fails.
func (c *Client) tickerMap(ctx context.Context) map[string]string {
	const key = "tickers"
	if m, ok := c.tickers.Get(key); ok {
		return m
	}

	var payload map[string]json.RawMessage
	if err := c.http.GetJSON(ctx, c.opts.TickerMapURL, nil, nil, &payload); err != nil {
		c.log.Warn("SEC ticker map fetch failed", zap.Error(err))
		if m, ok, _ := c.tickers.GetStale(key); ok {
			return m
		}
		return map[string]string{}
	}

	mapping := make(map[string]string, len(payload))
	for _, raw := range payload {
		var entry struct {
			Ticker string          `json:"ticker"`
			CIK    json.RawMessage `json:"cik_str"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		ticker := strings.ToUpper(entry.Ticker)
		cik := strings.Trim(string(entry.CIK), `"`)
		if ticker == "" || cik == "" {
			continue
		}
		// CIKs are zero-padded to ten digits in the submissions endpoint.
		for len(cik) < 10 {
			cik = "0" + cik
		}
		mapping[ticker] = cik
	}
	c.tickers.Set(key, mapping)
	return mapping
}

func (c *Client) loadSubmissions(ctx context.Context, cik string) (submissions, bool) {
	if s, ok := c.submissions.Get(cik); ok {
		return s, true
	}

	var subs submissions
	err := c.http.GetJSON(ctx, c.opts.SubmissionsURL+"/CIK"+cik+".json", nil, nil, &subs)
	if err != nil {
		c.log.Warn("SEC submissions fetch failed", zap.String("cik", cik), zap.Error(err))
		if s, ok, _ := c.submissions.GetStale(cik); ok {
			return s, true
		}
		return submissions{}, false
	}
	c.submissions.Set(cik, subs)
	return subs, true
}
