package market

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/cache"
	"github.com/ivolkov/tg-fin-assistant/internal/httpx"
)

// Options configures a Service. Base URLs default to the live upstreams and
// exist mostly so tests can point the service at an httptest server.
type Options struct {
	MOEXBaseURL       string
	CBRKeyRateURL     string
	BinanceBaseURL    string
	TwelveDataBaseURL string
	FinnhubBaseURL    string

	TwelveDataAPIKey string
	FinnhubAPIKey    string

	QuoteTTL   time.Duration
	KeyRateTTL time.Duration
	// KeyRateFallback is the configured static rate (a fraction) used when
	// both key-rate sources fail. Nil disables the fallback.
	KeyRateFallback *float64
}

func (o *Options) fillDefaults() {
	if o.MOEXBaseURL == "" {
		o.MOEXBaseURL = "https://iss.moex.com"
	}
	if o.CBRKeyRateURL == "" {
		o.CBRKeyRateURL = "https://www.cbr-xml-daily.ru/key-rate.json"
	}
	if o.BinanceBaseURL == "" {
		o.BinanceBaseURL = "https://api.binance.com"
	}
	if o.TwelveDataBaseURL == "" {
		o.TwelveDataBaseURL = "https://api.twelvedata.com"
	}
	if o.FinnhubBaseURL == "" {
		o.FinnhubBaseURL = "https://finnhub.io/api/v1"
	}
	if o.QuoteTTL <= 0 {
		o.QuoteTTL = 10 * time.Minute
	}
	if o.KeyRateTTL <= 0 {
		o.KeyRateTTL = time.Hour
	}
}

type historyKey struct {
	ticker string
	board  string
	days   int
}

// Service owns the TTL caches and implements the quoting interface. One
// instance per process; callers get it constructor-injected.
type Service struct {
	log  *zap.Logger
	http *httpx.Client
	opts Options

	quotes    *cache.TTL[string, Quote]
	routes    *cache.TTL[string, SourceRoute]
	keyRate   *cache.TTL[string, float64]
	indexes   *cache.TTL[string, float64]
	snapshots *cache.TTL[string, Row]
	history   *cache.TTL[historyKey, []Row]
}

func NewService(log *zap.Logger, client *httpx.Client, opts Options) *Service {
	opts.fillDefaults()
	return &Service{
		log:       log,
		http:      client,
		opts:      opts,
		quotes:    cache.New[string, Quote](opts.QuoteTTL),
		routes:    cache.New[string, SourceRoute](4 * time.Hour),
		keyRate:   cache.New[string, float64](opts.KeyRateTTL),
		indexes:   cache.New[string, float64](10 * time.Minute),
		snapshots: cache.New[string, Row](10 * time.Minute),
		history:   cache.New[historyKey, []Row](10 * time.Minute),
	}
}

// ClearCaches resets every cache. Tests only.
func (s *Service) ClearCaches() {
	s.quotes.Clear()
	s.routes.Clear()
	s.keyRate.Clear()
	s.indexes.Clear()
	s.snapshots.Clear()
	s.history.Clear()
}

// GetQuote returns the freshest quote for ticker, routing through the
// resolver. It does not fail for "no data": those come back as a Quote with a
// nil price and a reason code. It fails only when the route's upstream is
// unreachable after retries and nothing cached can stand in.
func (s *Service) GetQuote(ctx context.Context, ticker string) (Quote, error) {
	key := strings.ToUpper(strings.TrimSpace(ticker))
	if q, ok := s.quotes.Get(key); ok {
		return q, nil
	}

	route, err := s.ResolveSource(ctx, ticker)
	if err != nil {
		return s.staleOr(key, err)
	}

	var quote Quote
	switch route.Kind {
	case RoutePrimary:
		quote, err = s.moexQuote(ctx, key, route)
	case RouteCrypto:
		quote, err = s.binanceQuote(ctx, key, route)
	case RouteAggregator:
		quote, err = s.aggregatorQuote(ctx, key, route)
	default:
		reason := route.Reason
		if reason == "" {
			reason = ReasonUnknownTicker
		}
		quote = Quote{Ticker: key, Source: UpstreamUnknown, Reason: reason}
	}
	if err != nil {
		return s.staleOr(key, err)
	}

	s.quotes.Set(key, quote)
	return quote, nil
}

// staleOr serves an expired cached quote tagged stale_price when the upstream
// is down, otherwise propagates the fetch error.
func (s *Service) staleOr(key string, err error) (Quote, error) {
	if q, ok, fresh := s.quotes.GetStale(key); ok && !fresh {
		s.log.Warn("serving stale quote", zap.String("ticker", key), zap.Error(err))
		q.Reason = ReasonStalePrice
		return q, nil
	}
	return Quote{}, err
}

// fetchTables GETs an ISS-style JSON endpoint and normalizes every block.
func (s *Service) fetchTables(ctx context.Context, rawURL string, params url.Values) (map[string][]Row, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("iss.meta", "off")
	var payload any
	if err := s.http.GetJSON(ctx, rawURL, params, nil, &payload); err != nil {
		return nil, err
	}
	return normalizeTables(payload), nil
}

// isNotFound reports a 404-equivalent upstream answer.
func isNotFound(err error) bool {
	var se *httpx.StatusError
	return errors.As(err, &se) && se.Code == 404
}
