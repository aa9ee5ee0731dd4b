// Package render formats bot replies: allocation plans, idea digests and the
// human-readable notes behind degraded quotes.
package render

import (
	"fmt"
	"strings"

	"github.com/ivolkov/tg-fin-assistant/internal/ideas"
	"github.com/ivolkov/tg-fin-assistant/internal/market"
	"github.com/ivolkov/tg-fin-assistant/internal/strategy"
	"github.com/ivolkov/tg-fin-assistant/internal/utils"
)

// reasonNotes maps every degradation reason code to a short user-facing note.
var reasonNotes = map[string]string{
	market.ReasonNoActiveTrading:     "на MOEX нет активных торгов",
	market.ReasonDelisted:            "бумага делистингована с MOEX",
	market.ReasonDelistingAnnounced:  "объявлен делистинг с MOEX",
	market.ReasonEODCloseFallback:    "цена закрытия дня вместо текущей",
	market.ReasonStalePrice:          "цена устарела, источник недоступен",
	market.ReasonNoTradesNoHistory:   "нет ни сделок, ни истории",
	market.ReasonMissingAPIKey:       "нет API-ключа для внешнего источника",
	market.ReasonUpstreamUnavailable: "внешний источник недоступен",
	market.ReasonUnknownTicker:       "тикер не найден",
	market.ReasonMOEXUnavailable:     "MOEX временно недоступна",
	market.ReasonNotInTBank:          "недоступно в Т-Банке",
}

// ReasonNote translates a degradation reason code. Unknown codes come back
// as-is so nothing is silently swallowed.
func ReasonNote(reason string) string {
	if note, ok := reasonNotes[reason]; ok {
		return note
	}
	return reason
}

// QuoteLine renders a one-line quote with its degradation note, if any.
func QuoteLine(q market.Quote) string {
	var b strings.Builder
	b.WriteString(q.Ticker)
	if q.Price != nil {
		fmt.Fprintf(&b, " %s %s", utils.FormatAmount(*q.Price, 2), q.Currency)
		if q.Change != nil {
			fmt.Fprintf(&b, " (%s%%)", utils.FormatSigned(*q.Change, 2))
		}
	} else {
		b.WriteString(" —")
	}
	if q.Reason != "" {
		fmt.Fprintf(&b, " · %s", ReasonNote(q.Reason))
	}
	if q.Context != "" && q.Context != q.Reason {
		fmt.Fprintf(&b, " (%s)", ReasonNote(q.Context))
	}
	return b.String()
}

// AllocationMessage renders an allocation proposal: target, per-line amounts
// with share percentages, instrument notes and optional analytics.
func AllocationMessage(advice strategy.Advice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Цель: %s\n", advice.Target)
	if advice.KeyRate != nil {
		fmt.Fprintf(&b, "Ключевая ставка: %.2f%%\n", *advice.KeyRate*100)
	}
	b.WriteString("Распределение:\n")
	for _, line := range advice.Plan {
		fmt.Fprintf(&b, "- %s: %s ₽ (~%d%%)", line.Label, utils.FormatAmount(line.Amount, 0), int(line.Weight*100+0.5))
		if line.Note != "" {
			fmt.Fprintf(&b, " — %s", line.Note)
		} else if line.Quote != nil && line.Quote.Price != nil {
			fmt.Fprintf(&b, " — %s %s %s", line.Ticker, utils.FormatAmount(*line.Quote.Price, 2), line.Quote.Currency)
			if line.Quote.Reason != "" {
				fmt.Fprintf(&b, ", %s", ReasonNote(line.Quote.Reason))
			}
		}
		b.WriteByte('\n')
	}
	if advice.Analytics != nil && advice.Analytics.Title != "" {
		fmt.Fprintf(&b, "\nСвежая аналитика %s: %s", advice.Analytics.Source, advice.Analytics.Title)
		if advice.Analytics.URL != "" {
			b.WriteByte('\n')
			b.WriteString(advice.Analytics.URL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// IdeaDigest renders one idea as a compact block for the daily digest.
func IdeaDigest(idea ideas.Idea) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s) — %s\n", idea.Ticker, idea.Board, idea.AssetType, confidenceLabel(idea.Confidence))
	fmt.Fprintf(&b, "%s\n", idea.Thesis)
	fmt.Fprintf(&b, "Вход: %s–%s, стоп: %s, горизонт: %d дн.",
		utils.FormatAmount(idea.EntryLow, 2),
		utils.FormatAmount(idea.EntryHigh, 2),
		utils.FormatAmount(idea.StopHint, 2),
		idea.HorizonDays)
	if len(idea.Risks) > 0 {
		fmt.Fprintf(&b, "\nРиски: %s", strings.Join(idea.Risks, "; "))
	}
	if len(idea.Sources) > 0 {
		b.WriteString("\nИсточники:")
		for _, src := range idea.Sources {
			fmt.Fprintf(&b, "\n· %s %s", src.Name, src.URL)
		}
	}
	return b.String()
}

// IdeasDigest joins ranked ideas under a header.
func IdeasDigest(list []ideas.Idea) string {
	if len(list) == 0 {
		return ""
	}
	header := "Идея дня:"
	if len(list) > 1 {
		header = "Идеи на сегодня:"
	}
	blocks := make([]string, 0, len(list))
	for _, idea := range list {
		blocks = append(blocks, IdeaDigest(idea))
	}
	return header + "\n" + strings.Join(blocks, "\n\n")
}

func confidenceLabel(confidence string) string {
	switch confidence {
	case "high":
		return "уверенность высокая"
	case "mid":
		return "уверенность средняя"
	}
	return "уверенность низкая"
}
