// Package review применяет решения администратора по заявкам на вывод и пополнение.
//
// Поток: пользователь создаёт заявку → администратору приходит уведомление
// с кнопками → нажатие кнопки закрывает заявку через ledger.Resolve →
// пользователь получает результат, а сообщение администратора
// дополняется строкой «кем обработано» и теряет кнопки.
package review

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/features/ledger"
	"serotonyl.ru/invest-bot/internal/i18n"
	"serotonyl.ru/invest-bot/internal/messaging"
	"serotonyl.ru/invest-bot/internal/models"
)

// Префиксы callback-данных кнопок администратора.
// Префиксы пополнения длиннее, поэтому проверяются первыми.
const (
	prefixApproveDeposit    = "admin_approve_deposit_"
	prefixRejectDeposit     = "admin_reject_deposit_"
	prefixApproveWithdrawal = "admin_approve_"
	prefixRejectWithdrawal  = "admin_reject_"
)

// Decision: разобранное нажатие кнопки администратора.
type Decision struct {
	TxID    int64
	Type    models.TxType
	Approve bool
}

// ParseDecision разбирает callback-данные. ok == false: это не кнопка администратора.
func ParseDecision(data string) (Decision, bool) {
	routes := []struct {
		prefix  string
		txType  models.TxType
		approve bool
	}{
		{prefixApproveDeposit, models.TxTypeDeposit, true},
		{prefixRejectDeposit, models.TxTypeDeposit, false},
		{prefixApproveWithdrawal, models.TxTypeWithdrawal, true},
		{prefixRejectWithdrawal, models.TxTypeWithdrawal, false},
	}
	for _, r := range routes {
		rest, found := strings.CutPrefix(data, r.prefix)
		if !found {
			continue
		}
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return Decision{}, false
		}
		return Decision{TxID: id, Type: r.txType, Approve: r.approve}, true
	}
	return Decision{}, false
}

// Press: нажатие кнопки в чате администратора.
type Press struct {
	CallbackID string
	ChatID     int64
	MessageID  int
	// Text: текст сообщения с кнопками (дополняется итогом)
	Text     string
	FromID   int64
	FromName string
}

// Handler отправляет заявки на проверку и применяет решения.
type Handler struct {
	ledger      *ledger.Service
	catalog     *i18n.Catalog
	messenger   messaging.Messenger
	adminChatID int64
	admin       i18n.Translator
}

// NewHandler создаёт обработчик.
//
// Параметры:
//   - adminChatID: Telegram ID администратора (он же чат уведомлений)
//   - adminLocale: язык уведомлений администратору
func NewHandler(l *ledger.Service, catalog *i18n.Catalog, m messaging.Messenger, adminChatID int64, adminLocale string) *Handler {
	return &Handler{
		ledger:      l,
		catalog:     catalog,
		messenger:   m,
		adminChatID: adminChatID,
		admin:       catalog.For(adminLocale),
	}
}

// IsAdmin сообщает, является ли пользователь администратором.
func (h *Handler) IsAdmin(telegramID int64) bool {
	return telegramID == h.adminChatID
}

// NotifyWithdrawal отправляет администратору заявку на вывод.
func (h *Handler) NotifyWithdrawal(ctx context.Context, u *models.User, tx *models.Transaction) error {
	wallet, network := "", ""
	if tx.WalletAddress != nil {
		wallet = *tx.WalletAddress
	}
	if u.WalletNetwork != nil {
		network = strings.ToUpper(*u.WalletNetwork)
	}
	text := h.admin.T("withdraw.notify_admin",
		u.DisplayName(), strconv.FormatInt(u.TelegramID, 10), common.FormatMoney(tx.Amount),
		wallet, network, strconv.FormatInt(tx.ID, 10),
	)
	return h.notify(ctx, tx, text, prefixApproveWithdrawal, prefixRejectWithdrawal)
}

// NotifyDeposit отправляет администратору заявку на пополнение.
func (h *Handler) NotifyDeposit(ctx context.Context, u *models.User, tx *models.Transaction) error {
	text := h.admin.T("deposit.notify_admin",
		u.DisplayName(), strconv.FormatInt(u.TelegramID, 10), common.FormatMoney(tx.Amount),
		strconv.FormatInt(tx.ID, 10),
	)
	return h.notify(ctx, tx, text, prefixApproveDeposit, prefixRejectDeposit)
}

func (h *Handler) notify(ctx context.Context, tx *models.Transaction, text, approve, reject string) error {
	id := strconv.FormatInt(tx.ID, 10)
	_, err := h.messenger.Send(ctx, h.adminChatID, messaging.Message{
		Text: text,
		Inline: [][]messaging.Button{messaging.Row(
			messaging.Callback(h.admin.T("admin.approve"), approve+id),
			messaging.Callback(h.admin.T("admin.reject"), reject+id),
		)},
	})
	if err != nil {
		log.WithError(err).WithField("tx_id", tx.ID).Error("Не удалось уведомить администратора")
		return fmt.Errorf("уведомление администратора: %w", err)
	}
	return nil
}

// Handle применяет решение администратора.
// Нажатие не от администратора отклоняется без изменений в БД.
func (h *Handler) Handle(ctx context.Context, p Press, d Decision) {
	if !h.IsAdmin(p.FromID) {
		log.WithError(common.ErrNotAdmin).WithFields(log.Fields{
			"from_id": p.FromID,
			"tx_id":   d.TxID,
		}).Warn("Попытка обработать заявку без прав администратора")
		h.answer(ctx, p, h.admin.T("admin.not_authorized"), true)
		return
	}

	tx, err := h.ledger.Resolve(ctx, d.TxID, d.Type, d.Approve)
	if err != nil {
		var key string
		switch {
		case errors.Is(err, common.ErrTransactionNotFound):
			key = "admin.not_found"
		case errors.Is(err, common.ErrAlreadyProcessed):
			key = "admin.already_processed"
		default:
			// Заявка осталась pending: сообщение и кнопки не трогаем, нажатие можно повторить
			log.WithError(err).WithField("tx_id", d.TxID).Error("Ошибка обработки заявки")
			h.answer(ctx, p, h.admin.T("admin.db_error"), true)
			return
		}
		text := h.admin.T(key)
		if editErr := h.messenger.Edit(ctx, p.ChatID, p.MessageID, messaging.Message{Text: appendLine(p.Text, text)}); editErr != nil {
			log.WithError(editErr).Debug("Не удалось отредактировать сообщение администратора")
		}
		h.answer(ctx, p, text, false)
		return
	}

	h.notifyOwner(ctx, tx)

	verdict := h.admin.T("admin.rejected_by", p.FromName)
	if d.Approve {
		verdict = h.admin.T("admin.approved_by", p.FromName)
	}
	if err := h.messenger.Edit(ctx, p.ChatID, p.MessageID, messaging.Message{Text: appendLine(p.Text, verdict)}); err != nil {
		log.WithError(err).WithField("tx_id", tx.ID).Warn("Не удалось отредактировать сообщение администратора")
	}
	h.answer(ctx, p, h.admin.T("admin.processed"), false)
}

// notifyOwner сообщает владельцу заявки о решении на его языке.
// Ошибка отправки не откатывает решение.
func (h *Handler) notifyOwner(ctx context.Context, tx *models.Transaction) {
	if tx.User == nil {
		return
	}
	t := h.catalog.For(tx.User.Locale(h.catalog.Fallback()))
	amount := common.FormatMoney(tx.Amount)

	var text string
	switch {
	case tx.Type == models.TxTypeWithdrawal && tx.Status == models.TxStatusCompleted:
		text = t.T("withdraw.notify_user_approved", amount)
	case tx.Type == models.TxTypeWithdrawal:
		text = t.T("withdraw.notify_user_rejected", amount)
	case tx.Status == models.TxStatusCompleted:
		text = t.T("deposit.notify_user_approved", amount)
	default:
		text = t.T("deposit.notify_user_rejected")
	}

	if _, err := h.messenger.Send(ctx, tx.User.TelegramID, messaging.Message{Text: text}); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"tx_id":   tx.ID,
			"user_id": tx.UserID,
		}).Warn("Не удалось уведомить пользователя о решении")
	}
}

// appendLine дописывает итог к тексту заявки через пустую строку.
func appendLine(text, line string) string {
	if text == "" {
		return line
	}
	return text + "\n\n" + line
}

func (h *Handler) answer(ctx context.Context, p Press, text string, alert bool) {
	if p.CallbackID == "" {
		return
	}
	if err := h.messenger.AnswerCallback(ctx, p.CallbackID, text, alert); err != nil {
		log.WithError(err).Debug("Не удалось ответить на callback")
	}
}
