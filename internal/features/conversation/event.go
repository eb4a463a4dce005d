package conversation

import (
	"strconv"
	"strings"

	"serotonyl.ru/invest-bot/internal/features/users"
	"serotonyl.ru/invest-bot/internal/i18n"
)

// Event: входящее действие пользователя, уже отвязанное от транспорта.
type Event struct {
	ChatID int64
	From   users.Profile

	// Текстовое сообщение
	Text string

	// Нажатие inline-кнопки
	CallbackID  string
	Data        string
	MessageID   int    // сообщение с нажатой кнопкой
	MessageText string // его текст
}

// IsCallback сообщает, что событие: нажатие кнопки.
func (e Event) IsCallback() bool {
	return e.CallbackID != ""
}

// CommandKind: вид нормализованной текстовой команды.
type CommandKind int

const (
	// CommandInput: свободный ввод для текущего состояния (сумма, кошелёк)
	CommandInput CommandKind = iota
	// CommandStart: /start с необязательным ID пригласившего
	CommandStart
	// CommandMenu: нажатие кнопки главного меню
	CommandMenu
)

// Пункты главного меню (суффиксы ключей menu.*)
const (
	MenuMakeInvestment  = "make_investment"
	MenuMyInvestments   = "my_investments"
	MenuMyBalance       = "my_balance"
	MenuReferralProgram = "referral_program"
	MenuFAQ             = "faq"
	MenuSupport         = "support"
	MenuChangeLanguage  = "change_language"
)

// MenuItems: пункты меню в порядке раскладки клавиатуры.
var MenuItems = []string{
	MenuMakeInvestment,
	MenuMyInvestments, MenuMyBalance,
	MenuReferralProgram, MenuFAQ,
	MenuSupport, MenuChangeLanguage,
}

// Command: результат нормализации текста.
type Command struct {
	Kind CommandKind
	// Menu: пункт меню для CommandMenu
	Menu string
	// Referrer: Telegram ID пригласившего для CommandStart (0: нет)
	Referrer int64
	// Input: обрезанный текст для CommandInput
	Input string
}

// MenuIndex сопоставляет подписи кнопок меню (на всех языках) пунктам меню.
type MenuIndex map[string]string

// NewMenuIndex строит индекс по всем языкам каталога.
// Кнопка, нажатая в старой клавиатуре после смены языка, всё равно распознаётся.
func NewMenuIndex(catalog *i18n.Catalog) MenuIndex {
	idx := make(MenuIndex)
	for _, locale := range catalog.Locales() {
		for _, item := range MenuItems {
			idx[catalog.T(locale, "menu."+item)] = item
		}
	}
	return idx
}

// Normalize превращает текст в команду. Проверяется до разбора по состоянию:
// кнопка меню или /start прерывают любой незавершённый сценарий.
func (idx MenuIndex) Normalize(text string) Command {
	text = strings.TrimSpace(text)

	if cmd, arg, ok := parseSlashCommand(text); ok && cmd == "start" {
		ref, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || ref <= 0 {
			ref = 0
		}
		return Command{Kind: CommandStart, Referrer: ref}
	}

	if item, ok := idx[text]; ok {
		return Command{Kind: CommandMenu, Menu: item}
	}
	return Command{Kind: CommandInput, Input: text}
}

// parseSlashCommand разбирает "/cmd@bot arg".
func parseSlashCommand(text string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest), head != ""
}

// Callback-данные кнопок пользователя.
const (
	cbSetLangPrefix    = "set_lang_"
	cbBackToMain       = "back_to_main"
	cbBackToBalance    = "back_to_balance"
	cbBackToPlans      = "back_to_plans"
	cbShowPlans        = "show_invest_plans"
	cbInvestPlanPrefix = "invest_plan_"
	cbCancel           = "cancel_action"
	cbDeposit          = "deposit"
	cbDepositPaidPref  = "deposit_paid_"
	cbWithdraw         = "withdraw"
	cbSetNetworkPrefix = "set_network_"
	cbTransactions     = "transactions"
)

// Action: разобранное нажатие кнопки пользователя.
type Action struct {
	Name string // одна из констант cb* без параметра
	Arg  string // язык, номер плана, сеть
	ID   int64  // ID заявки для deposit_paid_
}

// ParseAction разбирает callback-данные. ok == false: неизвестная кнопка.
func ParseAction(data string) (Action, bool) {
	switch data {
	case cbBackToMain, cbBackToBalance, cbBackToPlans, cbShowPlans,
		cbCancel, cbDeposit, cbWithdraw, cbTransactions:
		return Action{Name: data}, true
	}

	prefixed := []string{cbSetLangPrefix, cbInvestPlanPrefix, cbSetNetworkPrefix}
	for _, p := range prefixed {
		if arg, found := strings.CutPrefix(data, p); found {
			if arg == "" {
				return Action{}, false
			}
			return Action{Name: p, Arg: arg}, true
		}
	}

	if arg, found := strings.CutPrefix(data, cbDepositPaidPref); found {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return Action{}, false
		}
		return Action{Name: cbDepositPaidPref, ID: id}, true
	}
	return Action{}, false
}
