package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/db"
	"github.com/ivolkov/tg-fin-assistant/internal/render"
	"github.com/ivolkov/tg-fin-assistant/internal/utils"
)

const (
	btnContribute = "Внести взнос"
	btnStatus     = "Статус"
	btnIdeas      = "Идеи"
	btnRisk       = "Сменить риск"
	btnCancel     = "Отмена"
)

var mainKeyboard = tgbotapi.NewReplyKeyboard(
	tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton(btnContribute),
		tgbotapi.NewKeyboardButton(btnStatus),
	),
	tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton(btnIdeas),
		tgbotapi.NewKeyboardButton(btnRisk),
	),
)

var riskKeyboard = tgbotapi.NewReplyKeyboard(
	tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton("conservative"),
		tgbotapi.NewKeyboardButton("balanced"),
		tgbotapi.NewKeyboardButton("aggressive"),
	),
	tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton(btnCancel),
	),
)

var riskChoices = map[string]bool{
	"conservative": true,
	"balanced":     true,
	"aggressive":   true,
}

func (a *App) handleMessage(msg tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	ctx, cancel := a.handlerCtx()
	defer cancel()

	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	if msg.IsCommand() {
		a.handleCommand(ctx, userID, msg)
		return
	}

	switch text {
	case btnCancel:
		a.clearAwait(userID)
		a.reply(userID, "Ок, отменил.")
		return
	case btnContribute:
		a.startContribution(userID)
		return
	case btnStatus:
		a.sendStatus(ctx, userID)
		return
	case btnIdeas:
		a.sendIdeas(ctx, userID)
		return
	case btnRisk:
		a.startRiskChange(userID)
		return
	}

	sess := a.ensureSession(userID)
	if sess.Await == AwaitNone {
		a.reply(userID, "Не понял. Используй кнопки внизу или команды /setup, /ideas, /stats.")
		return
	}
	a.handleAwaited(ctx, userID, sess, text)
}

func (a *App) handleCommand(ctx context.Context, userID int64, msg tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		a.clearAwait(userID)
		if _, err := a.db.EnsureUser(ctx, userID); err != nil {
			a.log.Error("ensure user", zap.Int64("user", userID), zap.Error(err))
			a.reply(userID, "Что-то пошло не так, попробуй ещё раз.")
			return
		}
		a.reply(userID,
			"Привет! Я помогу регулярно откладывать и подскажу, куда.\n"+
				"Начни с /setup, чтобы задать дни выплат и размер взноса.\n"+
				"Кнопки внизу: взнос, статус, идеи, риск-профиль.")
	case "setup":
		a.startSetup(userID)
	case "cancel":
		a.clearAwait(userID)
		a.reply(userID, "Ок, отменил.")
	case "ideas":
		a.sendIdeas(ctx, userID)
	case "stats":
		a.sendStats(ctx, userID)
	case "quote":
		a.sendQuote(ctx, userID, strings.TrimSpace(msg.CommandArguments()))
	default:
		a.reply(userID, "Не знаю такую команду. Есть /setup, /ideas, /stats, /quote, /cancel.")
	}
}

// --- /setup wizard ---

func (a *App) startSetup(userID int64) {
	sess := a.ensureSession(userID)
	*sess = Session{Await: AwaitAdvanceDay}
	a.reply(userID, "Настроим план. В какой день месяца приходит аванс? (1–28)")
}

func (a *App) handleAwaited(ctx context.Context, userID int64, sess *Session, text string) {
	switch sess.Await {
	case AwaitAdvanceDay:
		day, ok := parseDay(text)
		if !ok {
			a.reply(userID, "Нужно число от 1 до 28. В какой день приходит аванс?")
			return
		}
		sess.AdvanceDay = day
		sess.Await = AwaitSalaryDay
		a.reply(userID, "А зарплата? (1–28)")
	case AwaitSalaryDay:
		day, ok := parseDay(text)
		if !ok {
			a.reply(userID, "Нужно число от 1 до 28. В какой день приходит зарплата?")
			return
		}
		sess.SalaryDay = day
		sess.Await = AwaitMinAmount
		a.reply(userID, "Минимальный взнос в месяц, в рублях?")
	case AwaitMinAmount:
		amount, err := parseAmount(text)
		if err != nil || amount < 0 {
			a.reply(userID, "Введи сумму числом, например 40000.")
			return
		}
		sess.MinContrib = int(amount)
		sess.Await = AwaitMaxAmount
		a.reply(userID, "Максимальный взнос в месяц?")
	case AwaitMaxAmount:
		amount, err := parseAmount(text)
		if err != nil || int(amount) <= sess.MinContrib {
			a.reply(userID, fmt.Sprintf("Максимум должен быть больше минимума (%d). Попробуй ещё раз.", sess.MinContrib))
			return
		}
		sess.MaxContrib = int(amount)
		sess.Await = AwaitRisk
		a.replyWithKeyboard(userID,
			"Какой риск-профиль? conservative / balanced / aggressive", riskKeyboard)
	case AwaitRisk:
		risk := strings.ToLower(text)
		if !riskChoices[risk] {
			a.reply(userID, "Выбери один из вариантов: conservative, balanced, aggressive.")
			return
		}
		u := db.User{
			UserID:     userID,
			SalaryDay:  sess.SalaryDay,
			AdvanceDay: sess.AdvanceDay,
			MinContrib: sess.MinContrib,
			MaxContrib: sess.MaxContrib,
			Risk:       risk,
		}
		if err := a.db.SaveSetup(ctx, u); err != nil {
			a.log.Error("save setup", zap.Int64("user", userID), zap.Error(err))
			a.reply(userID, "Не получилось сохранить, попробуй /setup ещё раз.")
			a.clearAwait(userID)
			return
		}
		a.clearAwait(userID)
		a.reply(userID, fmt.Sprintf(
			"Готово. Аванс %d-го, зарплата %d-го, взнос %d–%d ₽, риск: %s.\n"+
				"Буду напоминать в дни выплат.",
			u.AdvanceDay, u.SalaryDay, u.MinContrib, u.MaxContrib, u.Risk))
	case AwaitContribAmount:
		a.finishContribution(ctx, userID, text)
	case AwaitRiskChange:
		risk := strings.ToLower(text)
		if !riskChoices[risk] {
			a.reply(userID, "Выбери один из вариантов: conservative, balanced, aggressive.")
			return
		}
		if err := a.db.SetRisk(ctx, userID, risk); err != nil {
			a.log.Error("set risk", zap.Int64("user", userID), zap.Error(err))
			a.reply(userID, "Сначала запусти /start.")
			a.clearAwait(userID)
			return
		}
		a.clearAwait(userID)
		a.reply(userID, "Риск-профиль обновлён: "+risk+".")
	}
}

// --- contribution flow ---

func (a *App) startContribution(userID int64) {
	sess := a.ensureSession(userID)
	*sess = Session{Await: AwaitContribAmount}
	a.reply(userID, "Сколько вносишь? Введи сумму в рублях.")
}

func (a *App) finishContribution(ctx context.Context, userID int64, text string) {
	amount, err := parseAmount(text)
	if err != nil || amount <= 0 {
		a.reply(userID, "Введи сумму числом, например 45000.")
		return
	}
	a.clearAwait(userID)

	u, err := a.db.EnsureUser(ctx, userID)
	if err != nil {
		a.log.Error("ensure user", zap.Int64("user", userID), zap.Error(err))
		a.reply(userID, "Что-то пошло не так, попробуй ещё раз.")
		return
	}
	if _, err := a.db.AddContribution(ctx, userID, utils.NowLocal(), amount, "manual"); err != nil {
		a.log.Error("add contribution", zap.Int64("user", userID), zap.Error(err))
		a.reply(userID, "Не получилось записать взнос, попробуй ещё раз.")
		return
	}
	total, err := a.db.TotalContributions(ctx, userID)
	if err != nil {
		a.log.Warn("total contributions", zap.Int64("user", userID), zap.Error(err))
	}

	advice := a.planner.ProposeAllocation(ctx, amount, u.Risk)
	text = fmt.Sprintf("Зачислил %s ₽.\n\n%s\n\nТекущий баланс: %s ₽",
		utils.FormatAmount(amount, 0),
		render.AllocationMessage(advice),
		utils.FormatAmount(total, 0))
	a.reply(userID, text)
}

// --- risk change ---

func (a *App) startRiskChange(userID int64) {
	sess := a.ensureSession(userID)
	*sess = Session{Await: AwaitRiskChange}
	a.replyWithKeyboard(userID, "Какой риск-профиль ставим?", riskKeyboard)
}

// --- read-only views ---

func (a *App) sendStatus(ctx context.Context, userID int64) {
	u, err := a.db.GetUser(ctx, userID)
	if err != nil {
		a.reply(userID, "Сначала запусти /start.")
		return
	}
	total, err := a.db.TotalContributions(ctx, userID)
	if err != nil {
		a.log.Warn("total contributions", zap.Int64("user", userID), zap.Error(err))
	}
	a.reply(userID, fmt.Sprintf(
		"Аванс %d-го, зарплата %d-го.\nВзнос: %d–%d ₽ в месяц.\nРиск: %s.\nВсего внесено: %s ₽.",
		u.AdvanceDay, u.SalaryDay, u.MinContrib, u.MaxContrib, u.Risk,
		utils.FormatAmount(total, 0)))
}

func (a *App) sendStats(ctx context.Context, userID int64) {
	months, err := a.db.MonthlyTotals(ctx, userID, 12)
	if err != nil {
		a.log.Error("monthly totals", zap.Int64("user", userID), zap.Error(err))
		a.reply(userID, "Не получилось собрать статистику.")
		return
	}
	if len(months) == 0 {
		a.reply(userID, "Взносов пока нет. Нажми «Внести взнос», когда будешь готов.")
		return
	}
	var b strings.Builder
	b.WriteString("Взносы по месяцам:\n")
	for _, m := range months {
		fmt.Fprintf(&b, "%s: %s ₽\n", m.Month, utils.FormatAmount(m.Total, 0))
	}
	a.reply(userID, strings.TrimRight(b.String(), "\n"))
}

func (a *App) sendIdeas(ctx context.Context, userID int64) {
	risk := "balanced"
	if u, err := a.db.GetUser(ctx, userID); err == nil && u.Risk != "" {
		risk = u.Risk
	}
	a.reply(userID, "Собираю идеи, минуту...")
	ranked := a.ideas.RankAndFilter(ctx, a.ideas.GenerateIdeas(ctx, risk))
	if len(ranked) == 0 {
		a.reply(userID, "Сегодня надёжных идей не набралось. Попробуй позже.")
		return
	}
	a.reply(userID, render.IdeasDigest(ranked))
}

func (a *App) sendQuote(ctx context.Context, userID int64, ticker string) {
	if ticker == "" {
		a.reply(userID, "Укажи тикер: /quote SBER")
		return
	}
	q, err := a.market.GetQuote(ctx, strings.ToUpper(ticker))
	if err != nil {
		a.log.Warn("quote", zap.String("ticker", ticker), zap.Error(err))
		a.reply(userID, "Не нашёл данных по "+strings.ToUpper(ticker)+".")
		return
	}
	a.reply(userID, render.QuoteLine(q))
}

// --- plumbing ---

func (a *App) reply(userID int64, text string) {
	a.SendText(userID, text)
}

func (a *App) replyWithKeyboard(userID int64, text string, kb tgbotapi.ReplyKeyboardMarkup) {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = kb
	msg.DisableWebPagePreview = true
	if _, err := a.bot.Send(msg); err != nil {
		a.log.Warn("send failed", zap.Int64("chat", userID), zap.Error(err))
	}
}

func parseDay(s string) (int, bool) {
	day, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || day < 1 || day > 28 {
		return 0, false
	}
	return day, true
}

// parseAmount accepts "45 000", "45000" and "45000,50".
func parseAmount(s string) (float64, error) {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}
