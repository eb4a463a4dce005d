package conversation

import (
	"strconv"
	"strings"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/i18n"
	"serotonyl.ru/invest-bot/internal/messaging"
	"serotonyl.ru/invest-bot/internal/models"
)

// languageKeyboard: выбор языка, по кнопке на каждый язык каталога.
func (h *Handler) languageKeyboard() [][]messaging.Button {
	var rows [][]messaging.Button
	var row []messaging.Button
	for _, locale := range h.catalog.Locales() {
		row = append(row, messaging.Callback(h.catalog.T(locale, "language_name"), cbSetLangPrefix+locale))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

// mainMenu строит постоянную клавиатуру (1 / 2 / 2 / 2 кнопки).
func mainMenu(t i18n.Translator) [][]string {
	label := func(item string) string { return t.T("menu." + item) }
	return [][]string{
		{label(MenuMakeInvestment)},
		{label(MenuMyInvestments), label(MenuMyBalance)},
		{label(MenuReferralProgram), label(MenuFAQ)},
		{label(MenuSupport), label(MenuChangeLanguage)},
	}
}

func balanceKeyboard(t i18n.Translator) [][]messaging.Button {
	return [][]messaging.Button{
		messaging.Row(
			messaging.Callback(t.T("balance.deposit"), cbDeposit),
			messaging.Callback(t.T("balance.withdraw"), cbWithdraw),
		),
		messaging.Row(messaging.Callback(t.T("balance.transactions"), cbTransactions)),
	}
}

// plansKeyboard: кнопки тарифов по две в ряд и «Назад».
func plansKeyboard(t i18n.Translator, plans []models.Plan) [][]messaging.Button {
	var rows [][]messaging.Button
	for i := 0; i < len(plans); i += 2 {
		row := []messaging.Button{planButton(t, plans[i])}
		if i+1 < len(plans) {
			row = append(row, planButton(t, plans[i+1]))
		}
		rows = append(rows, row)
	}
	return append(rows, messaging.Row(messaging.Callback(t.T("common.back"), cbBackToMain)))
}

func planButton(t i18n.Translator, p models.Plan) messaging.Button {
	return messaging.Callback(planLabel(t, p), cbInvestPlanPrefix+strings.TrimPrefix(p.ID, "plan_"))
}

func planLabel(t i18n.Translator, p models.Plan) string {
	return t.T("plans.button", p.Percent.String(), strconv.Itoa(p.Hours))
}

func networkKeyboard(t i18n.Translator) [][]messaging.Button {
	return [][]messaging.Button{
		messaging.Row(
			messaging.Callback("TRC20 (Tron)", cbSetNetworkPrefix+"trc20"),
			messaging.Callback("BEP20 (BSC)", cbSetNetworkPrefix+"bep20"),
		),
		messaging.Row(messaging.Callback(t.T("common.cancel"), cbCancel)),
	}
}

func cancelKeyboard(t i18n.Translator) [][]messaging.Button {
	return [][]messaging.Button{messaging.Row(messaging.Callback(t.T("common.cancel"), cbCancel))}
}

func backKeyboard(t i18n.Translator, target string) [][]messaging.Button {
	return [][]messaging.Button{messaging.Row(messaging.Callback(t.T("common.back"), target))}
}

func showPlansKeyboard(t i18n.Translator) [][]messaging.Button {
	return [][]messaging.Button{messaging.Row(messaging.Callback(t.T("menu."+MenuMakeInvestment), cbShowPlans))}
}

// invoiceKeyboard: оплата по ссылке, «Я оплатил» и отмена.
func invoiceKeyboard(t i18n.Translator, url string, txID int64) [][]messaging.Button {
	return [][]messaging.Button{
		messaging.Row(messaging.Link(t.T("deposit.pay_button"), url)),
		messaging.Row(messaging.Callback(t.T("deposit.paid_button"), cbDepositPaidPref+strconv.FormatInt(txID, 10))),
		messaging.Row(messaging.Callback(t.T("common.cancel"), cbCancel)),
	}
}

// balanceText: экран баланса.
func balanceText(t i18n.Translator, u *models.User) string {
	return t.T("balance.title",
		common.FormatMoney(u.MainBalance),
		common.FormatMoney(u.BonusBalance),
		common.FormatMoney(u.TotalInvested),
		common.FormatMoney(u.TotalWithdrawn),
	)
}

func (h *Handler) plansScreen(t i18n.Translator, u *models.User) messaging.Message {
	return messaging.Message{
		Text:   t.T("plans.title") + "\n\n" + t.T("common.balance", common.FormatMoney(u.MainBalance)),
		Inline: plansKeyboard(t, h.plans.All()),
	}
}

func mainMenuMessage(t i18n.Translator, firstName string) messaging.Message {
	return messaging.Message{Text: t.T("main_menu_title", firstName), Menu: mainMenu(t)}
}

// templateHead: постоянная часть шаблона до первой подстановки.
// Используется, чтобы узнать экран по тексту сообщения.
func templateHead(tmpl string) string {
	head, _, _ := strings.Cut(tmpl, "%")
	head, _, _ = strings.Cut(head, "\n")
	return strings.TrimSpace(head)
}
