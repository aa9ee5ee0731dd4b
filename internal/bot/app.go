// Package bot is the Telegram application: it wires the market stack to the
// chat surface, tracks per-user wizard sessions and runs the long poll loop.
package bot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/brokers"
	"github.com/ivolkov/tg-fin-assistant/internal/coingecko"
	"github.com/ivolkov/tg-fin-assistant/internal/config"
	"github.com/ivolkov/tg-fin-assistant/internal/db"
	"github.com/ivolkov/tg-fin-assistant/internal/edgar"
	"github.com/ivolkov/tg-fin-assistant/internal/httpx"
	"github.com/ivolkov/tg-fin-assistant/internal/ideas"
	"github.com/ivolkov/tg-fin-assistant/internal/macro"
	"github.com/ivolkov/tg-fin-assistant/internal/market"
	"github.com/ivolkov/tg-fin-assistant/internal/scheduler"
	"github.com/ivolkov/tg-fin-assistant/internal/strategy"
	"github.com/ivolkov/tg-fin-assistant/internal/utils"
)

// Awaiting is what the next free-form message from a user means.
type Awaiting string

const (
	AwaitNone Awaiting = ""

	// /setup wizard steps, in order.
	AwaitAdvanceDay Awaiting = "setup_advance_day"
	AwaitSalaryDay  Awaiting = "setup_salary_day"
	AwaitMinAmount  Awaiting = "setup_min_amount"
	AwaitMaxAmount  Awaiting = "setup_max_amount"
	AwaitRisk       Awaiting = "setup_risk"

	AwaitContribAmount Awaiting = "contrib_amount"
	AwaitRiskChange    Awaiting = "risk_change"
)

type Session struct {
	Await Awaiting

	// Wizard accumulators.
	AdvanceDay int
	SalaryDay  int
	MinContrib int
	MaxContrib int
}

type App struct {
	cfg config.Config
	log *zap.Logger
	db  *db.DB

	bot *tgbotapi.BotAPI

	market  *market.Service
	planner *strategy.Planner
	ideas   *ideas.Service
	sched   *scheduler.Scheduler

	sessMu sync.Mutex
	sess   map[int64]*Session // by user id
}

func New(log *zap.Logger, cfg config.Config) (*App, error) {
	if cfg.Timezone != "" {
		if err := utils.SetLocation(cfg.Timezone); err != nil {
			log.Warn("unknown timezone, keeping Europe/Moscow",
				zap.String("timezone", cfg.Timezone), zap.Error(err))
		}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, err
	}
	database, err := db.Open(filepath.Join(cfg.DataDir, "bot.db"))
	if err != nil {
		return nil, err
	}

	b, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	b.Debug = cfg.Debug

	client := httpx.New(time.Duration(cfg.HTTPTimeoutSec * float64(time.Second)))
	if cfg.SECUserAgent != "" {
		client.UserAgent = cfg.SECUserAgent
	}

	marketOpts := market.Options{
		TwelveDataAPIKey: cfg.TwelveDataAPIKey,
		FinnhubAPIKey:    cfg.FinnhubAPIKey,
		QuoteTTL:         time.Duration(cfg.QuoteTTLSec) * time.Second,
	}
	if cfg.KeyRateFallback > 0 {
		fallback := cfg.KeyRateFallback
		marketOpts.KeyRateFallback = &fallback
	}
	marketSvc := market.NewService(log.Named("market"), client, marketOpts)

	filter := brokers.NewFilter(log.Named("brokers"), cfg.BrokerUniversePath, cfg.BrokerFilterEnabled)
	planner := strategy.NewPlanner(log.Named("strategy"), marketSvc, filter)
	ideaSvc := ideas.NewService(
		log.Named("ideas"),
		marketSvc,
		coingecko.New(log.Named("coingecko"), client, coingecko.Options{}),
		edgar.New(log.Named("edgar"), client, edgar.Options{}),
		macro.New(log.Named("macro"), client, macro.Options{APIKey: cfg.FREDAPIKey}),
		ideas.Options{
			TopN:           cfg.IdeasTopN,
			MinSources:     cfg.IdeasMinSources,
			ScoreThreshold: cfg.IdeasScoreThreshold,
			MaxAgeDays:     cfg.IdeasMaxAgeDays,
		},
	)

	app := &App{
		cfg:     cfg,
		log:     log,
		db:      database,
		bot:     b,
		market:  marketSvc,
		planner: planner,
		ideas:   ideaSvc,
		sess:    map[int64]*Session{},
	}
	app.sched = scheduler.New(log.Named("scheduler"), database, planner, ideaSvc, app, cfg.DataDir)
	return app, nil
}

func (a *App) Close() {
	if a.sched != nil {
		a.sched.Stop()
	}
	_ = a.db.Close()
}

func (a *App) Run() error {
	a.log.Info("bot authorized", zap.String("username", a.bot.Self.UserName))

	a.sched.Start()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := a.bot.GetUpdatesChan(u)
	for upd := range updates {
		if upd.Message != nil {
			a.handleMessage(*upd.Message)
		}
	}
	return nil
}

// SendText implements scheduler.Sender.
func (a *App) SendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainKeyboard
	msg.DisableWebPagePreview = true
	if _, err := a.bot.Send(msg); err != nil {
		a.log.Warn("send failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

func (a *App) ensureSession(userID int64) *Session {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	s, ok := a.sess[userID]
	if !ok {
		s = &Session{}
		a.sess[userID] = s
	}
	return s
}

func (a *App) clearAwait(userID int64) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	if s, ok := a.sess[userID]; ok {
		*s = Session{}
	}
}

func (a *App) handlerCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 40*time.Second)
}
