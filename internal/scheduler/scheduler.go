// Package scheduler runs the daily bot jobs: payday pings, the mid-month
// contribution nudge and the morning ideas digest, all on the assistant's
// wall clock (Moscow unless configured otherwise).
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ivolkov/tg-fin-assistant/internal/db"
	"github.com/ivolkov/tg-fin-assistant/internal/ideas"
	"github.com/ivolkov/tg-fin-assistant/internal/render"
	"github.com/ivolkov/tg-fin-assistant/internal/strategy"
	"github.com/ivolkov/tg-fin-assistant/internal/utils"
)

// Sender delivers a plain-text message to a user chat.
type Sender interface {
	SendText(chatID int64, text string)
}

type Scheduler struct {
	log     *zap.Logger
	db      *db.DB
	planner *strategy.Planner
	ideas   *ideas.Service
	send    Sender

	// backupDir, when set, receives a nightly VACUUM INTO snapshot.
	backupDir string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(log *zap.Logger, database *db.DB, planner *strategy.Planner, ideaSvc *ideas.Service, sender Sender, backupDir string) *Scheduler {
	return &Scheduler{
		log:       log,
		db:        database,
		planner:   planner,
		ideas:     ideaSvc,
		send:      sender,
		backupDir: backupDir,
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	for {
		// Sleep until the next minute boundary on the assistant clock.
		now := utils.NowLocal()
		next := now.Truncate(time.Minute).Add(time.Minute)
		select {
		case <-time.After(time.Until(next)):
			// tick
		case <-s.stopCh:
			return
		}
		s.runTick(utils.NowLocal())
	}
}

func (s *Scheduler) runTick(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Second)
	defer cancel()

	switch utils.TimeHHMM(now) {
	case "10:00":
		s.pingPaydays(ctx, now.Day())
	case "10:30":
		s.pushDailyIdeas(ctx)
	case "11:00":
		if now.Day() == 15 {
			s.softNudge(ctx)
		}
	case "03:30":
		s.nightlyBackup(ctx)
	}
}

// pingPaydays reminds users whose advance or salary day is today.
func (s *Scheduler) pingPaydays(ctx context.Context, today int) {
	users, err := s.db.ListUsers(ctx)
	if err != nil {
		s.log.Error("payday ping: list users", zap.Error(err))
		return
	}
	for _, u := range users {
		if today != u.AdvanceDay && today != u.SalaryDay {
			continue
		}
		s.send.SendText(u.UserID,
			"Сегодня день выплаты (аванс/зарплата). Получил доход?"+
				" Нажми «Внести взнос» и введи сумму — я предложу распределение."+
				" Если параметры поменялись, запусти /setup.")
	}
}

// softNudge sends the mid-month reminder with an allocation preview for the
// middle of each user's contribution range.
func (s *Scheduler) softNudge(ctx context.Context) {
	users, err := s.db.ListUsers(ctx)
	if err != nil {
		s.log.Error("soft nudge: list users", zap.Error(err))
		return
	}
	for _, u := range users {
		amount := float64(u.MinContrib+u.MaxContrib) / 2
		advice := s.planner.ProposeAllocation(ctx, amount, u.Risk)
		text := "Напоминание про взнос.\n" + render.AllocationMessage(advice) +
			"\n\nКогда будешь готов, нажми «Внести взнос» и введи сумму."
		s.send.SendText(u.UserID, text)
	}
}

// pushDailyIdeas sends each user the ranked idea digest for their risk
// profile. One user's failure never blocks the rest.
func (s *Scheduler) pushDailyIdeas(ctx context.Context) {
	users, err := s.db.ListUsers(ctx)
	if err != nil {
		s.log.Error("ideas digest: list users", zap.Error(err))
		return
	}
	for _, u := range users {
		risk := u.Risk
		if risk == "" {
			risk = "balanced"
		}
		ranked := s.ideas.RankAndFilter(ctx, s.ideas.GenerateIdeas(ctx, risk))
		if len(ranked) == 0 {
			s.log.Warn("ideas digest empty", zap.Int64("user", u.UserID), zap.String("risk", risk))
			continue
		}
		s.send.SendText(u.UserID, render.IdeasDigest(ranked))
	}
}

func (s *Scheduler) nightlyBackup(ctx context.Context) {
	if s.backupDir == "" {
		return
	}
	dst := filepath.Join(s.backupDir, "bot-backup.db")
	// VACUUM INTO refuses to overwrite.
	_ = os.Remove(dst)
	if err := s.db.BackupTo(ctx, dst); err != nil {
		s.log.Error("nightly backup failed", zap.String("dst", dst), zap.Error(err))
		return
	}
	s.log.Info("nightly backup written", zap.String("dst", dst))
}
