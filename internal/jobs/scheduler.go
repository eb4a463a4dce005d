// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежеминутное закрытие вкладов,
// срок которых истёк, с уведомлением владельцев.
package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/features/ledger"
	"serotonyl.ru/invest-bot/internal/i18n"
	"serotonyl.ru/invest-bot/internal/messaging"
)

const (
	maturitySchedule = "@every 1m"
	// Сколько вкладов закрывается за один запуск
	maturityBatch = 100
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron      *cron.Cron
	ledger    *ledger.Service
	catalog   *i18n.Catalog
	messenger messaging.Messenger
}

// NewScheduler создаёт планировщик. Запуски не накладываются:
// если прошлый ещё идёт, очередной пропускается.
func NewScheduler(l *ledger.Service, catalog *i18n.Catalog, m messaging.Messenger) *Scheduler {
	logger := cron.PrintfLogger(log.WithField("component", "cron"))
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		cron:      c,
		ledger:    l,
		catalog:   catalog,
		messenger: m,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(maturitySchedule, func() {
		if n := s.MatureInvestments(ctx); n > 0 {
			log.WithField("count", n).Info("[CRON] Вклады закрыты")
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	log.Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт текущий запуск.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// MatureInvestments закрывает созревшие вклады и уведомляет владельцев
// на их языке. Возвращает число закрытых вкладов.
func (s *Scheduler) MatureInvestments(ctx context.Context) int {
	matured, err := s.ledger.MatureDue(ctx, maturityBatch)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка выборки вкладов")
		return 0
	}

	for _, m := range matured {
		t := s.catalog.For(m.User.Locale(s.catalog.Fallback()))
		text := t.T("investments.matured",
			common.FormatMoney(m.Investment.Amount),
			common.FormatMoney(m.Investment.Payout()),
		)
		if _, err := s.messenger.Send(ctx, m.User.TelegramID, messaging.Message{Text: text}); err != nil {
			log.WithError(err).WithField("user_id", m.User.ID).Debug("Не удалось отправить уведомление о вкладе")
		}
	}
	return len(matured)
}
