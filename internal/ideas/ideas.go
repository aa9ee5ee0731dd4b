// Package ideas builds and ranks daily investment ideas: one per portfolio
// instrument plus a crypto pick, each scored on fundamentals, technicals,
// news coverage and liquidity.
package ideas

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/coingecko"
	"github.com/ivolkov/tg-fin-assistant/internal/edgar"
	"github.com/ivolkov/tg-fin-assistant/internal/macro"
	"github.com/ivolkov/tg-fin-assistant/internal/market"
	"github.com/ivolkov/tg-fin-assistant/internal/strategy"
)

// Idea is a single ranked investment suggestion.
type Idea struct {
	Ticker      string
	Board       string
	AssetType   string
	Thesis      string
	HorizonDays int
	EntryLow    float64
	EntryHigh   float64
	StopHint    float64
	Metrics     Metrics
	Risks       []string
	Confidence  string // low, mid, high
	Sources     []Source
	Score       float64
}

// MarketData is the slice of the market service idea building needs.
type MarketData interface {
	GetQuote(ctx context.Context, ticker string) (market.Quote, error)
	GetSecuritySnapshot(ctx context.Context, ticker string) (market.Row, error)
	GetSecurityHistory(ctx context.Context, ticker, board string, days int) ([]market.Row, error)
	GetKeyRate(ctx context.Context) (float64, error)
	GetMarketCommentary(ctx context.Context) *market.Commentary
}

// CoinData supplies crypto market snapshots.
type CoinData interface {
	CoinMarket(ctx context.Context, coinID, vsCurrency string) *coingecko.Market
}

// FilingData supplies SEC filings.
type FilingData interface {
	LatestReport(ctx context.Context, ticker string) *edgar.Filing
}

// MacroData supplies macro-economic series observations.
type MacroData interface {
	LatestValue(ctx context.Context, seriesID, label string) *macro.Observation
}

type Options struct {
	TopN           int
	MinSources     int
	ScoreThreshold float64
	MaxAgeDays     int
}

func (o *Options) fillDefaults() {
	if o.TopN <= 0 {
		o.TopN = 5
	}
	if o.MinSources <= 0 {
		o.MinSources = 2
	}
	if o.ScoreThreshold <= 0 {
		o.ScoreThreshold = 0.6
	}
	if o.MaxAgeDays <= 0 {
		o.MaxAgeDays = 90
	}
}

type Service struct {
	log     *zap.Logger
	market  MarketData
	coins   CoinData
	filings FilingData
	macro   MacroData
	opts    Options

	krMu     sync.Mutex
	krWarned bool
}

func NewService(log *zap.Logger, marketData MarketData, coins CoinData, filings FilingData, macroData MacroData, opts Options) *Service {
	opts.fillDefaults()
	return &Service{
		log:     log,
		market:  marketData,
		coins:   coins,
		filings: filings,
		macro:   macroData,
		opts:    opts,
	}
}

// GenerateIdeas builds the unranked idea list for a risk profile. One bad
// instrument never aborts the batch; it is logged and skipped.
func (s *Service) GenerateIdeas(ctx context.Context, risk string) []Idea {
	type key struct{ ticker, board string }
	seen := map[key]bool{}
	var out []Idea

	for _, asset := range strategy.PortfolioAssets(risk) {
		if asset.Ticker == "" {
			continue
		}
		board := asset.Board
		if board == "" {
			board = "TQBR"
		}
		k := key{asset.Ticker, board}
		if seen[k] {
			continue
		}
		seen[k] = true
		tag := asset.Tag
		if tag == "" {
			tag = asset.Type
		}
		if idea := s.buildSecurityIdea(ctx, asset.Ticker, board, tag); idea != nil {
			out = append(out, *idea)
		}
	}

	// ETF and index picks offered regardless of the risk profile.
	for _, extra := range extraCandidates() {
		k := key{extra.ticker, extra.board}
		if seen[k] {
			continue
		}
		seen[k] = true
		if idea := s.buildSecurityIdea(ctx, extra.ticker, extra.board, extra.tag); idea != nil {
			out = append(out, *idea)
		}
	}

	if idea := s.buildCryptoIdea(ctx, "bitcoin", "BTC"); idea != nil {
		out = append(out, *idea)
	}
	return out
}

// RankAndFilter scores ideas, assigns confidence bands and returns the top
// picks. Ideas below the score threshold are dropped unless that would leave
// fewer than three.
func (s *Service) RankAndFilter(ctx context.Context, ideas []Idea) []Idea {
	scored := make([]Idea, 0, len(ideas))
	for _, idea := range ideas {
		idea.Sources = FilterFresh(idea.Sources, s.opts.MaxAgeDays, time.Time{})

		fund := s.scoreFundamentals(ctx, &idea)
		tech := scoreTech(idea)
		news := scoreNews(idea)
		liquidity := scoreLiquidity(idea)
		score := 0.35*fund + 0.25*tech + 0.25*news + 0.15*liquidity
		idea.Score = math.Round(score*10000) / 10000

		if len(idea.Sources) < s.opts.MinSources {
			idea.Confidence = "low"
			idea.Risks = appendRisk(idea.Risks, "данных недостаточно: мало свежих источников")
		} else if idea.Score >= 0.75 {
			idea.Confidence = "high"
		} else if idea.Score >= 0.55 {
			idea.Confidence = "mid"
		} else {
			idea.Confidence = "low"
		}
		scored = append(scored, idea)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	filtered := make([]Idea, 0, len(scored))
	for _, idea := range scored {
		if idea.Score >= s.opts.ScoreThreshold {
			filtered = append(filtered, idea)
		}
	}
	if len(filtered) < 3 {
		n := 3
		if len(scored) < n {
			n = len(scored)
		}
		filtered = scored[:n]
	}
	if len(filtered) > s.opts.TopN {
		filtered = filtered[:s.opts.TopN]
	}
	return filtered
}

type candidate struct{ ticker, board, tag string }

func extraCandidates() []candidate {
	return []candidate{
		{"FXRL", "TQTF", "etf"},
		{"FXDE", "TQTF", "etf"},
		{"RGBI", "SNDX", "bonds_index"},
	}
}

func (s *Service) buildSecurityIdea(ctx context.Context, ticker, board, tag string) *Idea {
	quote, err := s.market.GetQuote(ctx, ticker)
	if err != nil {
		s.log.Warn("quote unavailable for idea", zap.String("ticker", ticker), zap.Error(err))
		return nil
	}
	if quote.Price == nil {
		s.log.Warn("skipping idea without a price",
			zap.String("ticker", ticker),
			zap.String("reason", quote.Reason))
		return nil
	}
	if quote.Board != "" {
		board = quote.Board
	}

	snapshot, err := s.market.GetSecuritySnapshot(ctx, ticker)
	if err != nil {
		s.log.Warn("snapshot unavailable for idea", zap.String("ticker", ticker), zap.Error(err))
		snapshot = market.Row{}
	}

	rows, err := s.market.GetSecurityHistory(ctx, ticker, board, 260)
	if err != nil || len(rows) == 0 {
		s.log.Warn("history empty for idea", zap.String("ticker", ticker), zap.Error(err))
		return nil
	}
	history := market.NormalizeHistory(rows, 260)
	if len(history) == 0 {
		s.log.Warn("history normalize failed for idea", zap.String("ticker", ticker))
		return nil
	}

	metrics := computeMetrics(history, quote, snapshot)
	if rate := s.safeKeyRate(ctx); rate != nil {
		percent := *rate * 100
		metrics.KeyRatePercent = &percent
	}

	price := *quote.Price
	idea := &Idea{
		Ticker:      strings.ToUpper(ticker),
		Board:       strings.ToUpper(board),
		AssetType:   tag,
		HorizonDays: horizonFor(tag),
		EntryLow:    round2(price * 0.97),
		EntryHigh:   round2(price * 1.03),
		StopHint:    round2(price * 0.9),
		Confidence:  "low",
	}

	sources, macroValue := s.collectSources(ctx, ticker, board, quote, snapshot, tag)
	metrics.MacroIndicator = macroValue
	idea.Metrics = metrics
	idea.Thesis = composeThesis(idea.Ticker, metrics)
	idea.Risks = detectRisks(metrics, tag)
	idea.Sources = sources
	return idea
}

func (s *Service) buildCryptoIdea(ctx context.Context, coinID, symbol string) *Idea {
	m := s.coins.CoinMarket(ctx, coinID, "usd")
	if m == nil {
		return nil
	}

	price := m.Price
	thesis := fmt.Sprintf("%s/USD %.0f USD", symbol, price)
	if m.Change7d != nil {
		thesis = fmt.Sprintf("%s/USD %.0f USD, 7д изм. %.1f%%", symbol, price, *m.Change7d)
	}

	return &Idea{
		Ticker:      strings.ToUpper(symbol),
		Board:       "CRYPTO",
		AssetType:   "crypto",
		Thesis:      thesis,
		HorizonDays: 60,
		EntryLow:    round2(price * 0.95),
		EntryHigh:   round2(price * 1.05),
		StopHint:    round2(price * 0.85),
		Metrics: Metrics{
			Price:     &m.Price,
			Currency:  "USD",
			MarketCap: m.MarketCap,
			AvgValue:  m.TotalVolume,
			Change24h: m.Change24h,
			Change7d:  m.Change7d,
			Change30d: m.Change30d,
		},
		Risks:      []string{"высокая волатильность криптовалют"},
		Confidence: "low",
		Sources: []Source{{
			URL:  m.PageURL(),
			Name: "CoinGecko " + titleCase(coinID),
			Date: m.UpdatedAt(),
		}},
	}
}

// collectSources gathers the reference links backing a security idea and, for
// some asset categories, a relevant macro reading.
func (s *Service) collectSources(ctx context.Context, ticker, board string, quote market.Quote, snapshot market.Row, tag string) ([]Source, *float64) {
	sources := []Source{{
		URL:  fmt.Sprintf("https://www.moex.com/ru/issue/%s.aspx?board=%s", ticker, board),
		Name: "MOEX ISS котировки",
		Date: quote.AsOf,
	}}

	profileDate := quote.AsOf
	if snapshot != nil {
		if updated := snapshot.String("UPDATEDATE", "LISTLEVELCHANGEDATE"); updated != "" {
			if ts, err := time.Parse("2006-01-02", updated); err == nil {
				profileDate = ts
			}
		}
	}
	sources = append(sources, Source{
		URL:  fmt.Sprintf("https://iss.moex.com/iss/securities/%s.json", ticker),
		Name: "MOEX профиль эмитента",
		Date: profileDate,
	})

	if commentary := s.market.GetMarketCommentary(ctx); commentary != nil && commentary.URL != "" {
		sources = append(sources, Source{
			URL:  commentary.URL,
			Name: commentary.Source + " аналитика",
			Date: time.Now().UTC(),
		})
	}

	if s.filings != nil {
		if filing := s.filings.LatestReport(ctx, ticker); filing != nil {
			sources = append(sources, Source{URL: filing.URL, Name: "SEC " + filing.Form, Date: filing.Date})
		}
	}

	var macroValue *float64
	if series, label := macroSeriesFor(tag); series != "" && s.macro != nil {
		if obs := s.macro.LatestValue(ctx, series, label); obs != nil {
			macroValue = obs.Value
			sources = append(sources, Source{URL: obs.URL, Name: obs.Label, Date: obs.Date})
		}
	}
	return sources, macroValue
}

func macroSeriesFor(tag string) (string, string) {
	switch tag {
	case "bonds", "bonds_index":
		return "RUSCPIALLMINMEI", "OECD Russia CPI"
	case "growth", "core_equity":
		return "DGS10", "US 10Y Treasury"
	case "dividends":
		return "FEDFUNDS", "US Fed Funds Rate"
	}
	return "", ""
}

// safeKeyRate swallows transient key-rate failures, warning only on the
// first consecutive miss.
func (s *Service) safeKeyRate(ctx context.Context) *float64 {
	rate, err := s.market.GetKeyRate(ctx)
	s.krMu.Lock()
	defer s.krMu.Unlock()
	if err != nil {
		if !s.krWarned {
			s.log.Warn("key rate unavailable", zap.Error(err))
			s.krWarned = true
		}
		return nil
	}
	s.krWarned = false
	return &rate
}

func composeThesis(ticker string, m Metrics) string {
	price := 0.0
	if m.Price != nil {
		price = *m.Price
	}
	currency := m.Currency
	if currency == "" {
		currency = "RUB"
	}
	parts := []string{fmt.Sprintf("%s %.2f %s", ticker, price, currency)}
	if m.DMA50 != nil {
		parts = append(parts, fmt.Sprintf(">50DMA %.2f", *m.DMA50))
	}
	if m.ChangePercent != nil {
		parts = append(parts, fmt.Sprintf("день %.2f%%", *m.ChangePercent))
	}
	if m.KeyRatePercent != nil {
		parts = append(parts, fmt.Sprintf("ключевая %.2f%%", *m.KeyRatePercent))
	}
	return strings.Join(parts, ", ")
}

func horizonFor(tag string) int {
	switch tag {
	case "cash":
		return 30
	case "bonds", "bonds_index", "alternatives":
		return 120
	case "core_equity", "dividends":
		return 180
	case "growth":
		return 210
	case "gold", "etf":
		return 150
	}
	return 120
}

func detectRisks(m Metrics, tag string) []string {
	var risks []string
	if m.RSI14 != nil {
		if *m.RSI14 > 70 {
			risks = append(risks, "перекупленность по RSI")
		} else if *m.RSI14 < 30 {
			risks = append(risks, "перепроданность по RSI")
		}
	}
	if m.ChangePercent != nil && math.Abs(*m.ChangePercent) > 3 {
		risks = append(risks, "дневная волатильность выше 3%")
	}
	if tag == "alternatives" || tag == "crypto" {
		risks = append(risks, "повышенный риск категории актива")
	}
	return risks
}

func (s *Service) scoreFundamentals(ctx context.Context, idea *Idea) float64 {
	m := &idea.Metrics
	score := 0.4
	if m.PE != nil && *m.PE > 0 {
		switch {
		case *m.PE >= 5 && *m.PE <= 15:
			score += 0.3
		case *m.PE < 5 || *m.PE > 25:
			score -= 0.1
		}
	}
	if m.KeyRatePercent == nil {
		if rate := s.safeKeyRate(ctx); rate != nil {
			percent := *rate * 100
			m.KeyRatePercent = &percent
		}
	}
	if m.DividendYield != nil && *m.DividendYield != 0 {
		if m.KeyRatePercent != nil && *m.DividendYield >= *m.KeyRatePercent {
			score += 0.2
		} else if *m.DividendYield >= 5 {
			score += 0.1
		}
	}
	return clamp01(score)
}

func scoreTech(idea Idea) float64 {
	m := idea.Metrics
	score := 0.5
	if m.Price != nil && m.DMA20 != nil {
		dma50 := *m.DMA20
		if m.DMA50 != nil {
			dma50 = *m.DMA50
		}
		if *m.Price >= *m.DMA20 && *m.DMA20 >= dma50 {
			score += 0.2
		} else if *m.Price < *m.DMA20 {
			score -= 0.1
		}
	}
	if m.Price != nil && m.DMA200 != nil && *m.Price >= *m.DMA200 {
		score += 0.1
	}
	if m.RSI14 != nil {
		if *m.RSI14 >= 40 && *m.RSI14 <= 60 {
			score += 0.1
		} else if *m.RSI14 > 70 || *m.RSI14 < 30 {
			score -= 0.1
		}
	}
	return clamp01(score)
}

func scoreNews(idea Idea) float64 {
	if len(idea.Sources) == 0 {
		return 0
	}
	count := 0
	for _, src := range idea.Sources {
		name := strings.ToLower(src.Name)
		if strings.Contains(name, "аналит") || strings.Contains(name, "sec") {
			count++
		}
	}
	return clamp01(float64(count)/float64(len(idea.Sources)) + 0.3)
}

func scoreLiquidity(idea Idea) float64 {
	m := idea.Metrics
	if m.AvgValue != nil && *m.AvgValue != 0 {
		switch {
		case *m.AvgValue >= 1e8:
			return 1.0
		case *m.AvgValue >= 5e7:
			return 0.8
		case *m.AvgValue >= 1e7:
			return 0.6
		}
		return 0.3
	}
	if m.AvgVolume != nil && *m.AvgVolume != 0 {
		switch {
		case *m.AvgVolume >= 1_000_000:
			return 0.8
		case *m.AvgVolume >= 200_000:
			return 0.6
		}
		return 0.3
	}
	return 0.1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func appendRisk(risks []string, risk string) []string {
	for _, r := range risks {
		if r == risk {
			return risks
		}
	}
	return append(risks, risk)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
