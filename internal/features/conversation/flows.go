package conversation

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/messaging"
	"serotonyl.ru/invest-bot/internal/models"
)

// --- Инвестиции ---

func (h *Handler) selectPlan(ctx context.Context, tr *turn, number string) {
	plan, ok := h.plans.Get("plan_" + number)
	if !ok {
		log.WithError(common.ErrUnknownPlan).WithFields(log.Fields{
			"user_id": tr.user.ID,
			"plan":    number,
		}).Debug("Выбран несуществующий план")
		h.answer(ctx, tr, tr.t.T("plans.invalid_plan"), false)
		return
	}
	if err := h.setState(ctx, tr, models.AwaitingInvestmentAmount{PlanID: plan.ID}); err != nil {
		h.fail(ctx, tr, err)
		return
	}
	h.show(ctx, tr, messaging.Message{
		Text: tr.t.T("plans.details",
			plan.Percent.String(),
			strconv.Itoa(plan.Hours),
			common.FormatMoney(plan.Min),
			tr.t.T("common.balance", common.FormatMoney(tr.user.MainBalance)),
		),
		Inline: cancelKeyboard(tr.t),
	})
}

func (h *Handler) investAmount(ctx context.Context, tr *turn, st models.AwaitingInvestmentAmount, input string) {
	plan, ok := h.plans.Get(st.PlanID)
	if !ok {
		// План убрали из конфигурации, пока пользователь вводил сумму
		if err := h.resetState(ctx, tr); err != nil {
			h.fail(ctx, tr, err)
			return
		}
		h.send(ctx, tr, messaging.Message{Text: tr.t.T("plans.invalid_plan"), Menu: mainMenu(tr.t)})
		return
	}

	amount, err := common.ParseAmount(input)
	if err != nil {
		h.reprompt(ctx, tr, tr.t.T("plans.err_invalid_amount"))
		return
	}
	if amount.LessThan(plan.Min) {
		h.reprompt(ctx, tr, tr.t.T("plans.err_min_amount", common.FormatMoney(plan.Min)))
		return
	}
	if amount.GreaterThan(tr.user.MainBalance) {
		h.reprompt(ctx, tr, tr.t.T("plans.err_insufficient_funds", common.FormatMoney(tr.user.MainBalance)))
		return
	}

	if _, err := h.ledger.Invest(ctx, tr.user.ID, plan, amount); err != nil {
		if errors.Is(err, common.ErrInsufficientBalance) {
			h.reprompt(ctx, tr, tr.t.T("plans.err_insufficient_funds", h.freshBalance(ctx, tr)))
			return
		}
		h.fail(ctx, tr, err)
		return
	}

	h.send(ctx, tr, messaging.Message{Text: tr.t.T("plans.invest_success",
		common.FormatMoney(amount), planLabel(tr.t, plan), strconv.Itoa(plan.Hours),
	)})
	h.creditReferral(ctx, tr.user, amount)
}

// creditReferral начисляет бонус пригласившему. Вклад к этому моменту уже
// зафиксирован, поэтому ошибка только логируется.
func (h *Handler) creditReferral(ctx context.Context, investor *models.User, amount decimal.Decimal) {
	referrer, bonus, err := h.ledger.CreditReferral(ctx, investor, amount)
	if err != nil {
		log.WithError(err).WithField("user_id", investor.ID).Error("Не удалось начислить реферальный бонус")
		return
	}
	if referrer == nil {
		return
	}
	t := h.translator(referrer)
	if _, err := h.messenger.Send(ctx, referrer.TelegramID, messaging.Message{
		Text: t.T("referral.bonus_received", common.FormatMoney(bonus)),
	}); err != nil {
		log.WithError(err).WithField("user_id", referrer.ID).Warn("Не удалось уведомить о реферальном бонусе")
	}
}

// freshBalance перечитывает основной баланс после отказа в транзакции.
func (h *Handler) freshBalance(ctx context.Context, tr *turn) string {
	if u, err := h.users.GetByID(ctx, tr.user.ID); err == nil {
		tr.user = u
	}
	return common.FormatMoney(tr.user.MainBalance)
}

// --- Пополнение ---

func (h *Handler) startDeposit(ctx context.Context, tr *turn) {
	if err := h.setState(ctx, tr, models.AwaitingDepositAmount{}); err != nil {
		h.fail(ctx, tr, err)
		return
	}
	h.show(ctx, tr, messaging.Message{
		Text:   tr.t.T("deposit.ask_amount", common.FormatMoney(h.ledger.Limits().MinDeposit)),
		Inline: cancelKeyboard(tr.t),
	})
}

// depositAmount создаёт счёт у провайдера и заявку на введённую сумму.
// Если провайдер недоступен, заявка не создаётся и пользователь может ввести сумму снова.
func (h *Handler) depositAmount(ctx context.Context, tr *turn, input string) {
	minAmount := h.ledger.Limits().MinDeposit
	amount, err := common.ParseAmount(input)
	if err != nil || amount.LessThan(minAmount) {
		h.reprompt(ctx, tr, tr.t.T("deposit.min_error", common.FormatMoney(minAmount)))
		return
	}

	invoice, err := h.invoices.CreateDepositInvoice(ctx, tr.user, amount)
	if err != nil {
		log.WithError(err).WithField("user_id", tr.user.ID).Error("Не удалось создать счёт")
		h.reprompt(ctx, tr, tr.t.T("deposit.api_error"))
		return
	}

	tx, err := h.ledger.CreateDeposit(ctx, tr.user.ID, amount, invoice.OrderID)
	if err != nil {
		h.fail(ctx, tr, err)
		return
	}
	h.send(ctx, tr, messaging.Message{
		Text:   tr.t.T("deposit.invoice_created", common.FormatMoney(amount)),
		HTML:   true,
		Inline: invoiceKeyboard(tr.t, invoice.URL, tx.ID),
	})
}

// depositPaid обрабатывает «Я оплатил»: заявка уходит администратору на проверку.
func (h *Handler) depositPaid(ctx context.Context, tr *turn, txID int64) {
	tx, err := h.ledger.PendingDeposit(ctx, tr.user.ID, txID)
	switch {
	case errors.Is(err, common.ErrTransactionNotFound):
		h.answer(ctx, tr, tr.t.T("deposit.not_found"), true)
		return
	case errors.Is(err, common.ErrAlreadyProcessed):
		h.answer(ctx, tr, tr.t.T("deposit.already_processing"), true)
		return
	case err != nil:
		h.fail(ctx, tr, err)
		return
	}

	// Состояние не сбрасываем: кнопка «Я оплатил» остаётся на счёте для повтора
	if err := h.review.NotifyDeposit(ctx, tr.user, tx); err != nil {
		h.answer(ctx, tr, tr.t.T("deposit.notify_failed"), true)
		return
	}

	if err := h.resetState(ctx, tr); err != nil {
		h.fail(ctx, tr, err)
		return
	}
	h.show(ctx, tr, messaging.Message{Text: tr.t.T("deposit.admin_notified")})
	h.send(ctx, tr, mainMenuMessage(tr.t, tr.ev.From.FirstName))
}

// --- Вывод ---

// unlockBonus переносит бонус на основной баланс, если есть активный вклад,
// и сообщает об этом пользователю.
func (h *Handler) unlockBonus(ctx context.Context, tr *turn) error {
	unlocked, u, err := h.ledger.UnlockBonus(ctx, tr.user.ID)
	if err != nil {
		return err
	}
	tr.user = u
	if unlocked.IsPositive() {
		h.send(ctx, tr, messaging.Message{Text: tr.t.T("bonus_unlocked", common.FormatMoney(unlocked))})
	}
	return nil
}

func (h *Handler) startWithdraw(ctx context.Context, tr *turn) {
	if err := h.unlockBonus(ctx, tr); err != nil {
		h.fail(ctx, tr, err)
		return
	}

	minAmount := h.ledger.Limits().MinWithdrawal
	if tr.user.MainBalance.LessThan(minAmount) {
		h.answer(ctx, tr, tr.t.T("withdraw.min_error", common.FormatMoney(minAmount)), true)
		return
	}

	if !tr.user.HasWallet() {
		if err := h.setState(ctx, tr, models.AwaitingWalletAddress{}); err != nil {
			h.fail(ctx, tr, err)
			return
		}
		h.show(ctx, tr, messaging.Message{Text: tr.t.T("withdraw.ask_wallet"), Inline: cancelKeyboard(tr.t)})
		return
	}

	if err := h.setState(ctx, tr, models.AwaitingWithdrawalAmount{}); err != nil {
		h.fail(ctx, tr, err)
		return
	}
	h.show(ctx, tr, messaging.Message{
		Text: tr.t.T("withdraw.ask_amount",
			*tr.user.WalletAddress,
			networkName(tr.user),
			tr.t.T("common.balance", common.FormatMoney(tr.user.MainBalance)),
			common.FormatMoney(minAmount),
		),
		Inline: cancelKeyboard(tr.t),
	})
}

func (h *Handler) walletAddress(ctx context.Context, tr *turn, input string) {
	address := strings.TrimSpace(input)
	if !common.IsValidWallet(address) {
		h.reprompt(ctx, tr, tr.t.T("withdraw.invalid_wallet"))
		return
	}
	if err := h.setState(ctx, tr, models.AwaitingWalletNetwork{Wallet: address}); err != nil {
		h.fail(ctx, tr, err)
		return
	}
	h.send(ctx, tr, messaging.Message{Text: tr.t.T("withdraw.ask_network"), Inline: networkKeyboard(tr.t)})
}

// setNetwork сохраняет кошелёк с выбранной сетью. Нажатие на старую
// клавиатуру (состояние уже другое) отклоняется.
func (h *Handler) setNetwork(ctx context.Context, tr *turn, network string) {
	u, err := h.users.SetWallet(ctx, tr.user.ID, network)
	switch {
	case errors.Is(err, common.ErrStateExpired), errors.Is(err, common.ErrUnknownNetwork):
		h.answer(ctx, tr, tr.t.T("withdraw.request_expired"), true)
		return
	case err != nil:
		h.fail(ctx, tr, err)
		return
	}
	tr.user = u

	h.show(ctx, tr, messaging.Message{
		Text: tr.t.T("withdraw.wallet_set_success",
			*u.WalletAddress, networkName(u), common.FormatMoney(h.ledger.Limits().MinWithdrawal),
		),
		Inline: cancelKeyboard(tr.t),
	})
}

func (h *Handler) withdrawalAmount(ctx context.Context, tr *turn, input string) {
	if err := h.unlockBonus(ctx, tr); err != nil {
		h.fail(ctx, tr, err)
		return
	}

	minAmount := h.ledger.Limits().MinWithdrawal
	amount, err := common.ParseAmount(input)
	if err != nil {
		h.reprompt(ctx, tr, tr.t.T("plans.err_invalid_amount"))
		return
	}
	if amount.LessThan(minAmount) {
		h.reprompt(ctx, tr, tr.t.T("withdraw.min_error", common.FormatMoney(minAmount)))
		return
	}
	if amount.GreaterThan(tr.user.MainBalance) {
		h.reprompt(ctx, tr, tr.t.T("withdraw.insufficient_funds", common.FormatMoney(tr.user.MainBalance)))
		return
	}

	tx, err := h.ledger.RequestWithdrawal(ctx, tr.user.ID, amount)
	switch {
	case errors.Is(err, common.ErrInsufficientBalance):
		h.reprompt(ctx, tr, tr.t.T("withdraw.insufficient_funds", h.freshBalance(ctx, tr)))
		return
	case errors.Is(err, common.ErrInvalidWallet):
		if err := h.setState(ctx, tr, models.AwaitingWalletAddress{}); err != nil {
			h.fail(ctx, tr, err)
			return
		}
		h.reprompt(ctx, tr, tr.t.T("withdraw.ask_wallet"))
		return
	case err != nil:
		h.fail(ctx, tr, err)
		return
	}
	tr.user = tx.User

	if err := h.review.NotifyWithdrawal(ctx, tx.User, tx); err != nil {
		h.send(ctx, tr, messaging.Message{Text: tr.t.T("withdraw.notify_failed", strconv.FormatInt(tx.ID, 10))})
		return
	}
	h.send(ctx, tr, messaging.Message{Text: tr.t.T("withdraw.request_success", common.FormatMoney(amount))})
}

// --- Отмена ---

// cancel сбрасывает сценарий и возвращает на экран, с которого он начался:
// баланс для пополнения и вывода, главное меню для остального.
func (h *Handler) cancel(ctx context.Context, tr *turn) {
	prior := tr.user.State
	if err := h.resetState(ctx, tr); err != nil {
		h.fail(ctx, tr, err)
		return
	}
	h.show(ctx, tr, messaging.Message{Text: tr.t.T("action_canceled")})

	if h.cancelToBalance(tr, prior) {
		h.send(ctx, tr, messaging.Message{Text: balanceText(tr.t, tr.user), Inline: balanceKeyboard(tr.t)})
		return
	}
	h.send(ctx, tr, mainMenuMessage(tr.t, tr.ev.From.FirstName))
}

// cancelToBalance решает по прежнему состоянию, а если его уже нет,
// по тексту сообщения, на котором нажали «Отмена».
func (h *Handler) cancelToBalance(tr *turn, prior models.State) bool {
	switch prior.(type) {
	case models.AwaitingDepositAmount, models.AwaitingWalletAddress,
		models.AwaitingWalletNetwork, models.AwaitingWithdrawalAmount:
		return true
	case models.AwaitingInvestmentAmount:
		return false
	}

	screens := []string{"balance.title", "deposit.ask_amount", "withdraw.ask_wallet", "withdraw.ask_amount", "withdraw.wallet_set_success"}
	for _, key := range screens {
		head := templateHead(tr.t.T(key))
		if head != "" && strings.HasPrefix(tr.ev.MessageText, head) {
			return true
		}
	}
	return false
}
