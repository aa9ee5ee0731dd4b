package render_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ivolkov/tg-fin-assistant/internal/ideas"
	"github.com/ivolkov/tg-fin-assistant/internal/market"
	"github.com/ivolkov/tg-fin-assistant/internal/render"
	"github.com/ivolkov/tg-fin-assistant/internal/strategy"
)

func fptr(v float64) *float64 { return &v }

func TestReasonNoteCoversEveryCode(t *testing.T) {
	t.Parallel()

	codes := []string{
		market.ReasonNoActiveTrading,
		market.ReasonDelisted,
		market.ReasonDelistingAnnounced,
		market.ReasonEODCloseFallback,
		market.ReasonStalePrice,
		market.ReasonNoTradesNoHistory,
		market.ReasonMissingAPIKey,
		market.ReasonUpstreamUnavailable,
		market.ReasonUnknownTicker,
		market.ReasonMOEXUnavailable,
		market.ReasonNotInTBank,
	}
	for _, code := range codes {
		note := render.ReasonNote(code)
		require.NotEmpty(t, note)
		require.NotEqual(t, code, note, "code %s must have a human-readable note", code)
	}

	// Unknown codes pass through unchanged.
	require.Equal(t, "some_new_code", render.ReasonNote("some_new_code"))
}

func TestQuoteLine(t *testing.T) {
	t.Parallel()

	withPrice := market.Quote{Ticker: "SBER", Price: fptr(250.5), Currency: "RUB", Change: fptr(1.25)}
	require.Equal(t, "SBER 250.50 RUB (+1.25%)", render.QuoteLine(withPrice))

	degraded := market.Quote{Ticker: "FIVE", Reason: market.ReasonMissingAPIKey, Context: market.ReasonDelistingAnnounced}
	line := render.QuoteLine(degraded)
	require.Contains(t, line, "—")
	require.Contains(t, line, "нет API-ключа")
	require.Contains(t, line, "объявлен делистинг")
}

func TestAllocationMessage(t *testing.T) {
	t.Parallel()

	rate := 0.16
	advice := strategy.Advice{
		Target:  "≈18–20% годовых",
		KeyRate: &rate,
		Plan: []strategy.Line{
			{Label: "Дивидендные акции", Ticker: "SBER", Weight: 0.20, Amount: 10000,
				Quote: &market.Quote{Ticker: "SBER", Price: fptr(250.5), Currency: "RUB"}},
			{Label: "Акции РФ (смешанные)", Ticker: "ROSN", Weight: 0.30, Amount: 15000,
				Quote: &market.Quote{Ticker: "ROSN", Reason: market.ReasonNotInTBank},
				Note:  "Недоступно в Т-Банке"},
		},
		Analytics: &market.Commentary{Title: "Обзор рынка", Source: "MOEX", URL: "https://moex.com/a"},
	}

	msg := render.AllocationMessage(advice)
	require.Contains(t, msg, "Цель: ≈18–20% годовых")
	require.Contains(t, msg, "Ключевая ставка: 16.00%")
	require.Contains(t, msg, "- Дивидендные акции: 10 000 ₽ (~20%) — SBER 250.50 RUB")
	require.Contains(t, msg, "- Акции РФ (смешанные): 15 000 ₽ (~30%) — Недоступно в Т-Банке")
	require.Contains(t, msg, "Свежая аналитика MOEX: Обзор рынка")
	require.Contains(t, msg, "https://moex.com/a")
}

func TestIdeasDigestHeaders(t *testing.T) {
	t.Parallel()

	one := []ideas.Idea{{Ticker: "SBER", Board: "TQBR", AssetType: "dividends", Thesis: "SBER 250.00 RUB", Confidence: "high", HorizonDays: 180, EntryLow: 242.5, EntryHigh: 257.5, StopHint: 225}}
	digest := render.IdeasDigest(one)
	require.Contains(t, digest, "Идея дня:")
	require.Contains(t, digest, "уверенность высокая")
	require.Contains(t, digest, "Вход: 242.50–257.50, стоп: 225.00, горизонт: 180 дн.")

	two := append(one, ideas.Idea{Ticker: "BTC", Board: "CRYPTO", AssetType: "crypto", Confidence: "mid",
		Risks: []string{"высокая волатильность криптовалют"}})
	digest = render.IdeasDigest(two)
	require.Contains(t, digest, "Идеи на сегодня:")
	require.Contains(t, digest, "Риски: высокая волатильность криптовалют")

	require.Empty(t, render.IdeasDigest(nil))
}
