// Package strategy turns a contribution amount and a risk profile into a
// concrete allocation plan over model portfolios.
package strategy

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/market"
)

// Asset is one slot of a model portfolio. Ticker may be empty for buckets
// without a single listed instrument (crypto, cash held at the broker).
type Asset struct {
	Label  string
	Ticker string
	Board  string
	Type   string // stock, bond, etf, crypto, cash
	Tag    string // idea-generation category
	Weight float64
}

// Line is one row of a proposed allocation.
type Line struct {
	Label  string
	Ticker string
	Weight float64
	Amount float64 // roubles, rounded
	Quote  *market.Quote
	Note   string
}

// Advice is a complete allocation proposal.
type Advice struct {
	Target    string
	KeyRate   *float64 // current key rate as a fraction, nil when unavailable
	Plan      []Line
	Analytics *market.Commentary
}

// Quoter is the slice of the market service the planner needs.
type Quoter interface {
	GetQuote(ctx context.Context, ticker string) (market.Quote, error)
	GetKeyRate(ctx context.Context) (float64, error)
	GetMarketCommentary(ctx context.Context) *market.Commentary
}

// Broker reports instrument availability at the user's broker.
type Broker interface {
	IsTradable(ticker, secType string) bool
}

type Planner struct {
	log    *zap.Logger
	quotes Quoter
	broker Broker
}

func NewPlanner(log *zap.Logger, quotes Quoter, broker Broker) *Planner {
	return &Planner{log: log, quotes: quotes, broker: broker}
}

var conservativeAssets = []Asset{
	{Label: "ОФЗ/корп облигации", Ticker: "SU26238RMFS9", Board: "TQOB", Type: "bond", Tag: "bonds", Weight: 0.55},
	{Label: "Дивидендные акции РФ", Ticker: "SBER", Board: "TQBR", Type: "stock", Tag: "dividends", Weight: 0.20},
	{Label: "Фонды денежного рынка", Ticker: "LQDT", Board: "TQTF", Type: "etf", Tag: "cash", Weight: 0.15},
	{Label: "Золото (БПИФ)", Ticker: "GOLD", Board: "TQTF", Type: "etf", Tag: "gold", Weight: 0.10},
}

var balancedAssets = []Asset{
	{Label: "Акции РФ (смешанные)", Ticker: "ROSN", Board: "TQBR", Type: "stock", Tag: "core_equity", Weight: 0.30},
	{Label: "Дивидендные акции", Ticker: "SBER", Board: "TQBR", Type: "stock", Tag: "dividends", Weight: 0.20},
	{Label: "ОФЗ/корп облигации", Ticker: "SU26238RMFS9", Board: "TQOB", Type: "bond", Tag: "bonds", Weight: 0.25},
	{Label: "Глобальные акции (ETF)", Ticker: "FXUS", Board: "TQTF", Type: "etf", Tag: "etf", Weight: 0.05},
	{Label: "Золото (БПИФ)", Ticker: "GOLD", Board: "TQTF", Type: "etf", Tag: "gold", Weight: 0.10},
	{Label: "Крипто (BTC/ETH)", Type: "crypto", Tag: "crypto", Weight: 0.10},
}

var aggressiveAssets = []Asset{
	{Label: "Акции роста РФ/друж. рынки", Ticker: "POSI", Board: "TQBR", Type: "stock", Tag: "growth", Weight: 0.50},
	{Label: "Дивидендные акции РФ", Ticker: "SBER", Board: "TQBR", Type: "stock", Tag: "dividends", Weight: 0.15},
	{Label: "Крипто (BTC/ETH)", Type: "crypto", Tag: "crypto", Weight: 0.10},
	{Label: "Золото (БПИФ)", Ticker: "GOLD", Board: "TQTF", Type: "etf", Tag: "gold", Weight: 0.10},
	{Label: "Корп облигации (ВДО)", Ticker: "OBLG", Board: "TQTF", Type: "etf", Tag: "bonds", Weight: 0.10},
	{Label: "Кэш/Денежный рынок", Ticker: "LQDT", Board: "TQTF", Type: "etf", Tag: "cash", Weight: 0.05},
}

// PortfolioAssets returns the model portfolio for a risk profile. Unknown
// profiles get the balanced one.
func PortfolioAssets(risk string) []Asset {
	switch risk {
	case "conservative":
		return conservativeAssets
	case "aggressive":
		return aggressiveAssets
	}
	return balancedAssets
}

func targetFor(risk string) string {
	switch risk {
	case "conservative":
		return "≈12–17% годовых"
	case "aggressive":
		return "≈20–25% годовых"
	}
	return "≈18–20% годовых"
}

// ProposeAllocation splits amount across the model portfolio for risk. Lines
// whose instrument is not tradable at the broker carry a degraded quote with
// reason not_available_in_tbank and are never fetched upstream.
func (p *Planner) ProposeAllocation(ctx context.Context, amount float64, risk string) Advice {
	advice := Advice{Target: targetFor(risk)}

	for _, asset := range PortfolioAssets(risk) {
		line := Line{
			Label:  asset.Label,
			Ticker: asset.Ticker,
			Weight: asset.Weight,
			Amount: math.Round(asset.Weight * amount),
		}
		if asset.Ticker != "" {
			line.Quote = p.lineQuote(ctx, asset)
			if line.Quote != nil && line.Quote.Reason == market.ReasonNotInTBank {
				line.Note = "Недоступно в Т-Банке"
			}
		}
		advice.Plan = append(advice.Plan, line)
	}

	if rate, err := p.quotes.GetKeyRate(ctx); err == nil {
		advice.KeyRate = &rate
	} else {
		p.log.Warn("key rate unavailable for allocation", zap.Error(err))
	}
	advice.Analytics = p.quotes.GetMarketCommentary(ctx)
	return advice
}

func (p *Planner) lineQuote(ctx context.Context, asset Asset) *market.Quote {
	if p.broker != nil && !p.broker.IsTradable(asset.Ticker, asset.Type) {
		return &market.Quote{Ticker: asset.Ticker, Reason: market.ReasonNotInTBank}
	}
	q, err := p.quotes.GetQuote(ctx, asset.Ticker)
	if err != nil {
		p.log.Warn("allocation quote failed", zap.String("ticker", asset.Ticker), zap.Error(err))
		return nil
	}
	return &q
}
