package conversation

import (
	"context"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/messaging"
)

// start обрабатывает /start: новичку выбор языка, остальным главное меню.
func (h *Handler) start(ctx context.Context, tr *turn) {
	if err := h.resetState(ctx, tr); err != nil {
		h.fail(ctx, tr, err)
		return
	}
	if tr.user.Language == "" {
		h.askLanguage(ctx, tr, false)
		return
	}
	h.send(ctx, tr, mainMenuMessage(tr.t, tr.ev.From.FirstName))
}

// askLanguage показывает выбор языка. edit: заменить сообщение с кнопкой.
func (h *Handler) askLanguage(ctx context.Context, tr *turn, edit bool) {
	msg := messaging.Message{Text: tr.t.T("choose_language"), Inline: h.languageKeyboard()}
	if edit {
		h.show(ctx, tr, msg)
		return
	}
	h.send(ctx, tr, msg)
}

// setLanguage сохраняет язык и показывает приветствие уже на нём.
// Бонус за регистрацию упоминается только при первом выборе языка.
func (h *Handler) setLanguage(ctx context.Context, tr *turn, locale string) {
	if !h.catalog.Has(locale) {
		h.answer(ctx, tr, tr.t.T("error_generic"), true)
		return
	}

	u, first, err := h.users.SetLanguage(ctx, tr.user.ID, locale)
	if err != nil {
		h.fail(ctx, tr, err)
		return
	}
	tr.user = u
	tr.t = h.catalog.For(locale)
	name := tr.ev.From.FirstName

	h.show(ctx, tr, messaging.Message{Text: tr.t.T("language_set", tr.t.T("language_name"), name)})
	h.send(ctx, tr, messaging.Message{Text: tr.t.T("welcome_description"), HTML: true})
	if first && h.welcomeBonus.IsPositive() {
		h.send(ctx, tr, messaging.Message{Text: tr.t.T("welcome_bonus_message", common.FormatMoney(h.welcomeBonus))})
	}
	h.send(ctx, tr, mainMenuMessage(tr.t, name))

	log.WithFields(log.Fields{
		"user_id":  u.ID,
		"language": locale,
	}).Info("Язык пользователя изменён")
}

func (h *Handler) backToMain(ctx context.Context, tr *turn) {
	if err := h.resetState(ctx, tr); err != nil {
		h.fail(ctx, tr, err)
		return
	}
	h.show(ctx, tr, messaging.Message{Text: tr.t.T("main_menu_title", tr.ev.From.FirstName)})
	h.send(ctx, tr, mainMenuMessage(tr.t, tr.ev.From.FirstName))
}

func (h *Handler) backToBalance(ctx context.Context, tr *turn) {
	if err := h.resetState(ctx, tr); err != nil {
		h.fail(ctx, tr, err)
		return
	}
	h.show(ctx, tr, messaging.Message{Text: balanceText(tr.t, tr.user), Inline: balanceKeyboard(tr.t)})
}

// handleMenu выполняет пункт главного меню. Состояние к этому моменту: Idle.
func (h *Handler) handleMenu(ctx context.Context, tr *turn, item string) {
	switch item {
	case MenuMakeInvestment:
		h.send(ctx, tr, h.plansScreen(tr.t, tr.user))
	case MenuMyInvestments:
		h.showInvestments(ctx, tr)
	case MenuMyBalance:
		h.send(ctx, tr, messaging.Message{Text: balanceText(tr.t, tr.user), Inline: balanceKeyboard(tr.t)})
	case MenuReferralProgram:
		h.showReferral(ctx, tr)
	case MenuFAQ:
		h.send(ctx, tr, messaging.Message{Text: tr.t.T("faq.text"), HTML: true})
	case MenuSupport:
		h.send(ctx, tr, messaging.Message{Text: tr.t.T("support.text", h.supportContact)})
	case MenuChangeLanguage:
		h.askLanguage(ctx, tr, false)
	}
}

func (h *Handler) showInvestments(ctx context.Context, tr *turn) {
	list, err := h.ledger.RecentInvestments(ctx, tr.user.ID, historyLimit)
	if err != nil {
		h.fail(ctx, tr, err)
		return
	}
	if len(list) == 0 {
		h.send(ctx, tr, messaging.Message{Text: tr.t.T("investments.empty"), Inline: showPlansKeyboard(tr.t)})
		return
	}

	var sb strings.Builder
	sb.WriteString(tr.t.T("investments.title"))
	sb.WriteString("\n\n")
	for _, inv := range list {
		sb.WriteString(tr.t.T("investments.entry",
			common.FormatMoney(inv.Amount),
			inv.ProfitPercent.String(),
			common.FormatMoney(inv.ProfitAmount),
			common.FormatDateTime(inv.MaturesAt),
			string(inv.Status),
		))
		sb.WriteString("\n")
	}
	h.send(ctx, tr, messaging.Message{Text: strings.TrimRight(sb.String(), "\n"), Inline: showPlansKeyboard(tr.t)})
}

func (h *Handler) showReferral(ctx context.Context, tr *turn) {
	count, err := h.users.CountReferrals(ctx, tr.user.ID)
	if err != nil {
		h.fail(ctx, tr, err)
		return
	}
	link := "https://t.me/" + h.botUsername + "?start=" + strconv.FormatInt(tr.user.TelegramID, 10)
	h.send(ctx, tr, messaging.Message{Text: tr.t.T("referral.info",
		h.ledger.Limits().ReferralPercent.String(), link, strconv.Itoa(count),
	)})
}

// showTransactions: последние заявки, новые сверху.
func (h *Handler) showTransactions(ctx context.Context, tr *turn) {
	list, err := h.ledger.RecentTransactions(ctx, tr.user.ID, historyLimit)
	if err != nil {
		h.fail(ctx, tr, err)
		return
	}
	back := backKeyboard(tr.t, cbBackToBalance)
	if len(list) == 0 {
		h.show(ctx, tr, messaging.Message{Text: tr.t.T("transactions.no_transactions"), Inline: back})
		return
	}

	lines := make([]string, 0, len(list))
	for _, tx := range list {
		lines = append(lines, tr.t.T("transactions.entry",
			common.FormatDate(tx.CreatedAt),
			string(tx.Type),
			common.FormatMoney(tx.Amount),
			string(tx.Status),
		))
	}
	text := tr.t.T("transactions.title") + "\n\n" + strings.Join(lines, "\n")
	h.show(ctx, tr, messaging.Message{Text: text, Inline: back})
}
