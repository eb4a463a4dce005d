// Package ledger выполняет все операции, меняющие балансы пользователей.
// Каждая операция выполняется одной транзакцией БД: блокировка пользователя
// (или заявки), проверка, запись. Либо применяются все изменения, либо ни одно.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/models"
	"serotonyl.ru/invest-bot/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Limits: денежные ограничения из конфигурации.
type Limits struct {
	MinDeposit      decimal.Decimal
	MinWithdrawal   decimal.Decimal
	ReferralPercent decimal.Decimal
}

// Service выполняет денежные операции.
type Service struct {
	store  store.Store
	limits Limits
	now    func() time.Time
}

// NewService создаёт сервис с системными часами.
func NewService(st store.Store, limits Limits) *Service {
	return &Service{store: st, limits: limits, now: time.Now}
}

// WithClock подменяет источник времени (для тестов и задач по расписанию).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Limits возвращает текущие ограничения.
func (s *Service) Limits() Limits {
	return s.limits
}

// Invest создаёт вклад по плану: списывает amount с основного баланса,
// увеличивает totalInvested и сбрасывает состояние диалога.
//
// Ошибки валидации: ErrInvalidAmount, ErrBelowMinimum, ErrInsufficientBalance.
// Баланс сверяется с заблокированной строкой, а не с копией из апдейта.
func (s *Service) Invest(ctx context.Context, userID int64, plan models.Plan, amount decimal.Decimal) (*models.Investment, error) {
	if !amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	if amount.LessThan(plan.Min) {
		return nil, common.ErrBelowMinimum
	}

	var inv *models.Investment
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		u, err := q.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(u.MainBalance) {
			return common.ErrInsufficientBalance
		}

		inv = plan.NewInvestment(u.ID, amount, s.now())
		if err := q.CreateInvestment(ctx, inv); err != nil {
			return err
		}

		u.MainBalance = u.MainBalance.Sub(amount)
		u.TotalInvested = u.TotalInvested.Add(amount)
		u.State = models.Idle{}
		return q.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":       userID,
		"investment_id": inv.ID,
		"plan":          plan.ID,
		"amount":        amount.String(),
	}).Info("Вклад создан")
	return inv, nil
}

// RequestWithdrawal списывает amount с основного баланса и создаёт
// заявку на вывод в статусе pending на сохранённый кошелёк.
func (s *Service) RequestWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	if amount.LessThan(s.limits.MinWithdrawal) {
		return nil, common.ErrBelowMinimum
	}

	var tx *models.Transaction
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		u, err := q.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if !u.HasWallet() {
			return common.ErrInvalidWallet
		}
		if amount.GreaterThan(u.MainBalance) {
			return common.ErrInsufficientBalance
		}

		u.MainBalance = u.MainBalance.Sub(amount)
		u.State = models.Idle{}
		if err := q.SaveUser(ctx, u); err != nil {
			return err
		}

		wallet := *u.WalletAddress
		tx = &models.Transaction{
			UserID:        u.ID,
			Type:          models.TxTypeWithdrawal,
			Amount:        amount,
			Status:        models.TxStatusPending,
			WalletAddress: &wallet,
		}
		if err := q.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		tx.User = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"tx_id":   tx.ID,
		"amount":  amount.String(),
	}).Info("Заявка на вывод создана")
	return tx, nil
}

// CreateDeposit записывает заявку на пополнение на сумму, введённую пользователем
// (не на сумму из ответа платёжного провайдера), и сбрасывает состояние диалога.
// orderID: идентификатор счёта у провайдера.
func (s *Service) CreateDeposit(ctx context.Context, userID int64, amount decimal.Decimal, orderID string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, common.ErrInvalidAmount
	}
	if amount.LessThan(s.limits.MinDeposit) {
		return nil, common.ErrBelowMinimum
	}

	var tx *models.Transaction
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		u, err := q.LockUser(ctx, userID)
		if err != nil {
			return err
		}

		tx = &models.Transaction{
			UserID: u.ID,
			Type:   models.TxTypeDeposit,
			Amount: amount,
			Status: models.TxStatusPending,
		}
		if orderID != "" {
			tx.ExternalID = &orderID
		}
		if err := q.CreateTransaction(ctx, tx); err != nil {
			return err
		}

		u.State = models.Idle{}
		tx.User = u
		return q.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":  userID,
		"tx_id":    tx.ID,
		"order_id": orderID,
		"amount":   amount.String(),
	}).Info("Заявка на пополнение создана")
	return tx, nil
}

// UnlockBonus переносит весь бонусный баланс на основной, если у пользователя
// есть хотя бы один активный вклад. Возвращает перенесённую сумму (ноль, если
// переносить нечего) и актуальную запись пользователя.
func (s *Service) UnlockBonus(ctx context.Context, userID int64) (decimal.Decimal, *models.User, error) {
	unlocked := decimal.Zero
	var user *models.User
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		u, err := q.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		user = u
		if !u.BonusBalance.IsPositive() {
			return nil
		}

		running, err := q.CountInvestments(ctx, u.ID, models.InvestmentRunning)
		if err != nil {
			return err
		}
		if running == 0 {
			return nil
		}

		unlocked = u.BonusBalance
		u.MainBalance = u.MainBalance.Add(unlocked)
		u.BonusBalance = decimal.Zero
		return q.SaveUser(ctx, u)
	})
	if err != nil {
		return decimal.Zero, nil, err
	}

	if unlocked.IsPositive() {
		log.WithFields(log.Fields{
			"user_id": userID,
			"amount":  unlocked.String(),
		}).Info("Бонус разблокирован")
	}
	return unlocked, user, nil
}

// PendingDeposit возвращает заявку на пополнение, если она принадлежит userID
// и ещё ожидает обработки.
func (s *Service) PendingDeposit(ctx context.Context, userID, txID int64) (*models.Transaction, error) {
	tx, err := s.store.Queries().FindTransaction(ctx, txID, false)
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID || tx.Type != models.TxTypeDeposit {
		return nil, common.ErrTransactionNotFound
	}
	if !tx.IsPending() {
		return nil, common.ErrAlreadyProcessed
	}
	return tx, nil
}

// Resolve закрывает заявку решением администратора.
//
//   - вывод, одобрение: completed, totalWithdrawn += amount
//   - вывод, отказ:     failed, amount возвращается на основной баланс
//   - пополнение, одобрение: completed, mainBalance += amount
//   - пополнение, отказ:     failed, балансы не меняются
//
// Статус читается с блокировкой и меняется условным UPDATE в той же транзакции,
// поэтому два параллельных решения по одной заявке применятся ровно один раз.
// txType должен совпадать с типом заявки, иначе ErrTransactionNotFound.
func (s *Service) Resolve(ctx context.Context, txID int64, txType models.TxType, approve bool) (*models.Transaction, error) {
	to := models.TxStatusFailed
	if approve {
		to = models.TxStatusCompleted
	}

	var tx *models.Transaction
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		t, err := q.FindTransaction(ctx, txID, true)
		if errors.Is(err, store.ErrNotFound) {
			return common.ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		if t.Type != txType {
			return common.ErrTransactionNotFound
		}
		if !t.IsPending() {
			return common.ErrAlreadyProcessed
		}

		if err := q.MarkTransaction(ctx, t.ID, models.TxStatusPending, to); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				return common.ErrAlreadyProcessed
			}
			return err
		}
		t.Status = to

		u := t.User
		changed := true
		switch {
		case t.Type == models.TxTypeWithdrawal && approve:
			u.TotalWithdrawn = u.TotalWithdrawn.Add(t.Amount)
		case t.Type == models.TxTypeWithdrawal && !approve:
			u.MainBalance = u.MainBalance.Add(t.Amount)
		case t.Type == models.TxTypeDeposit && approve:
			u.MainBalance = u.MainBalance.Add(t.Amount)
		default:
			changed = false
		}
		if changed {
			if err := q.SaveUser(ctx, u); err != nil {
				return err
			}
		}
		tx = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tx_id":   tx.ID,
		"user_id": tx.UserID,
		"type":    tx.Type,
		"status":  tx.Status,
		"amount":  tx.Amount.String(),
	}).Info("Заявка обработана")
	return tx, nil
}

// CreditReferral начисляет пригласившему REFERRAL_PERCENT от суммы вклада.
// Выполняется отдельной транзакцией после вклада: её ошибка вклад не отменяет.
// Возвращает nil, если у инвестора нет пригласившего или процент нулевой.
func (s *Service) CreditReferral(ctx context.Context, investor *models.User, amount decimal.Decimal) (*models.User, decimal.Decimal, error) {
	if investor.ReferrerID == nil || !s.limits.ReferralPercent.IsPositive() {
		return nil, decimal.Zero, nil
	}
	bonus := amount.Mul(s.limits.ReferralPercent).Div(hundred).Round(8)
	if !bonus.IsPositive() {
		return nil, decimal.Zero, nil
	}

	var referrer *models.User
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		u, err := q.LockUser(ctx, *investor.ReferrerID)
		if err != nil {
			return err
		}
		u.MainBalance = u.MainBalance.Add(bonus)
		referrer = u
		return q.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, decimal.Zero, err
	}

	log.WithFields(log.Fields{
		"referrer_id": referrer.ID,
		"investor_id": investor.ID,
		"bonus":       bonus.String(),
	}).Info("Реферальный бонус начислен")
	return referrer, bonus, nil
}

// Matured: закрытый вклад и его владелец после начисления.
type Matured struct {
	Investment *models.Investment
	User       *models.User
}

// MatureDue закрывает до limit вкладов, срок которых истёк: статус completed,
// amount + profit на основной баланс. Каждый вклад: отдельная транзакция.
// Вклад, который уже закрыл параллельный процесс, пропускается.
func (s *Service) MatureDue(ctx context.Context, limit int) ([]Matured, error) {
	due, err := s.store.Queries().ListMaturedInvestments(ctx, s.now(), limit)
	if err != nil {
		return nil, err
	}

	var out []Matured
	for _, inv := range due {
		var owner *models.User
		err := s.store.WithinTx(ctx, func(q store.Queries) error {
			if err := q.MarkInvestment(ctx, inv.ID, models.InvestmentRunning, models.InvestmentCompleted); err != nil {
				return err
			}
			u, err := q.LockUser(ctx, inv.UserID)
			if err != nil {
				return err
			}
			u.MainBalance = u.MainBalance.Add(inv.Payout())
			owner = u
			return q.SaveUser(ctx, u)
		})
		if errors.Is(err, store.ErrStatusConflict) {
			continue
		}
		if err != nil {
			log.WithError(err).WithField("investment_id", inv.ID).Error("Не удалось закрыть вклад")
			continue
		}

		inv.Status = models.InvestmentCompleted
		out = append(out, Matured{Investment: inv, User: owner})
		log.WithFields(log.Fields{
			"investment_id": inv.ID,
			"user_id":       inv.UserID,
			"payout":        inv.Payout().String(),
		}).Info("Вклад закрыт")
	}
	return out, nil
}

// RecentTransactions: последние limit заявок пользователя, новые сверху.
func (s *Service) RecentTransactions(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	return s.store.Queries().ListTransactions(ctx, userID, limit)
}

// RecentInvestments: последние limit вкладов пользователя, новые сверху.
func (s *Service) RecentInvestments(ctx context.Context, userID int64, limit int) ([]*models.Investment, error) {
	return s.store.Queries().ListInvestments(ctx, userID, limit)
}
