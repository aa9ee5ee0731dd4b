package strategy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/market"
	"github.com/ivolkov/tg-fin-assistant/internal/strategy"
)

type fakeQuotes struct {
	requested []string
}

func (f *fakeQuotes) GetQuote(_ context.Context, ticker string) (market.Quote, error) {
	f.requested = append(f.requested, ticker)
	price := 245.5
	return market.Quote{Ticker: ticker, Price: &price, Currency: "RUB", Source: market.UpstreamMOEX, Board: "TQBR", Lot: 10}, nil
}

func (f *fakeQuotes) GetKeyRate(context.Context) (float64, error) { return 0.16, nil }

func (f *fakeQuotes) GetMarketCommentary(context.Context) *market.Commentary { return nil }

type allowList map[string]bool

func (a allowList) IsTradable(ticker, secType string) bool {
	if secType != "stock" && secType != "bond" && secType != "etf" {
		return true
	}
	return a[ticker]
}

func TestProposeAllocationMarksUnavailable(t *testing.T) {
	t.Parallel()

	quotes := &fakeQuotes{}
	broker := allowList{"SBER": true, "SU26238RMFS9": true, "GOLD": true}
	planner := strategy.NewPlanner(zap.NewNop(), quotes, broker)

	advice := planner.ProposeAllocation(context.Background(), 10_000, "balanced")
	require.Equal(t, "≈18–20% годовых", advice.Target)
	require.NotNil(t, advice.KeyRate)
	require.Equal(t, 0.16, *advice.KeyRate)

	byTicker := map[string]strategy.Line{}
	for _, line := range advice.Plan {
		byTicker[line.Ticker] = line
	}

	rosn := byTicker["ROSN"]
	require.Equal(t, "Недоступно в Т-Банке", rosn.Note)
	require.NotNil(t, rosn.Quote)
	require.Equal(t, market.ReasonNotInTBank, rosn.Quote.Reason)
	require.Nil(t, rosn.Quote.Price)

	fxus := byTicker["FXUS"]
	require.Equal(t, market.ReasonNotInTBank, fxus.Quote.Reason)

	require.NotContains(t, quotes.requested, "ROSN", "filtered instruments are never fetched")
	require.NotContains(t, quotes.requested, "FXUS")
	require.Contains(t, quotes.requested, "SBER")
}

func TestProposeAllocationAmounts(t *testing.T) {
	t.Parallel()

	planner := strategy.NewPlanner(zap.NewNop(), &fakeQuotes{}, nil)
	advice := planner.ProposeAllocation(context.Background(), 50_000, "conservative")

	require.Len(t, advice.Plan, 4)
	total := 0.0
	for _, line := range advice.Plan {
		total += line.Amount
	}
	require.Equal(t, 50_000.0, total)
	require.Equal(t, 27_500.0, advice.Plan[0].Amount, "55% bonds slice")
}

func TestPortfolioAssetsUnknownRiskFallsBackToBalanced(t *testing.T) {
	t.Parallel()

	require.Equal(t, strategy.PortfolioAssets("balanced"), strategy.PortfolioAssets("whatever"))
}
