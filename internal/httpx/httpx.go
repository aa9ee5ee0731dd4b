package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a small wrapper around http.Client with sane defaults and
// a bounded retry policy for transient transport failures.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Retry     RetryPolicy
}

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: "tg-fin-assistant/1.0",
		Retry:     DefaultRetry(),
	}
}

// StatusError reports a non-2xx response. 5xx counts as transient transport
// trouble and is retried; 4xx means the data simply is not there.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// GetJSON fetches url with query params and decodes the JSON body into out.
// The request is retried per the client's retry policy; decode failures and
// 4xx statuses are not retried.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, headers map[string]string, out any) error {
	body, err := c.GetBody(ctx, rawURL, params, headers)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		snip := string(body)
		if len(snip) > 200 {
			snip = snip[:200]
		}
		return fmt.Errorf("decode %s: %w (%s)", rawURL, err, snip)
	}
	return nil
}

// GetBody fetches url and returns the raw body, retrying transient failures.
func (c *Client) GetBody(ctx context.Context, rawURL string, params url.Values, headers map[string]string) ([]byte, error) {
	full := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		full = rawURL + sep + params.Encode()
	}

	var body []byte
	err := Do(ctx, c.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return err
		}
		if c.UserAgent != "" {
			req.Header.Set("User-Agent", c.UserAgent)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
