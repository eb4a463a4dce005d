// Package conversation реализует конечный автомат диалога с пользователем.
//
// Каждое событие (текст или нажатие кнопки) разбирается относительно
// сохранённого состояния пользователя:
//
//	событие → нормализация (меню, /start) → состояние → проверка →
//	атомарная запись (ledger / users) → уведомления → новое состояние
//
// Состояние живёт только в БД, обработчик не хранит ничего между событиями.
package conversation

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/config"
	"serotonyl.ru/invest-bot/internal/features/ledger"
	"serotonyl.ru/invest-bot/internal/features/review"
	"serotonyl.ru/invest-bot/internal/features/users"
	"serotonyl.ru/invest-bot/internal/i18n"
	"serotonyl.ru/invest-bot/internal/messaging"
	"serotonyl.ru/invest-bot/internal/models"
	"serotonyl.ru/invest-bot/internal/payments"
)

// historyLimit: сколько записей показывают экраны истории.
const historyLimit = 10

// Deps: зависимости обработчика.
type Deps struct {
	Users     *users.Service
	Ledger    *ledger.Service
	Review    *review.Handler
	Invoices  payments.Invoicer
	Catalog   *i18n.Catalog
	Messenger messaging.Messenger
	Plans     *config.PlanSet

	WelcomeBonus   decimal.Decimal
	BotUsername    string // для реферальной ссылки t.me/<bot>?start=<id>
	SupportContact string
}

// Handler обрабатывает события пользователей.
type Handler struct {
	users     *users.Service
	ledger    *ledger.Service
	review    *review.Handler
	invoices  payments.Invoicer
	catalog   *i18n.Catalog
	messenger messaging.Messenger
	plans     *config.PlanSet
	menu      MenuIndex

	welcomeBonus   decimal.Decimal
	botUsername    string
	supportContact string
}

// NewHandler создаёт обработчик диалога.
func NewHandler(d Deps) *Handler {
	return &Handler{
		users:          d.Users,
		ledger:         d.Ledger,
		review:         d.Review,
		invoices:       d.Invoices,
		catalog:        d.Catalog,
		messenger:      d.Messenger,
		plans:          d.Plans,
		menu:           NewMenuIndex(d.Catalog),
		welcomeBonus:   d.WelcomeBonus,
		botUsername:    d.BotUsername,
		supportContact: d.SupportContact,
	}
}

// turn: одно событие вместе с пользователем и его языком.
type turn struct {
	ev       Event
	user     *models.User
	t        i18n.Translator
	answered bool
}

func (h *Handler) translator(u *models.User) i18n.Translator {
	return h.catalog.For(u.Locale(h.catalog.Fallback()))
}

// Handle обрабатывает одно событие. Ошибки не возвращаются: пользователь
// всегда получает ответ, а подробности пишутся в лог.
func (h *Handler) Handle(ctx context.Context, ev Event) {
	if ev.IsCallback() {
		if d, ok := review.ParseDecision(ev.Data); ok {
			h.review.Handle(ctx, review.Press{
				CallbackID: ev.CallbackID,
				ChatID:     ev.ChatID,
				MessageID:  ev.MessageID,
				Text:       ev.MessageText,
				FromID:     ev.From.TelegramID,
				FromName:   ev.From.FirstName,
			}, d)
			return
		}
	}

	var cmd Command
	if !ev.IsCallback() {
		cmd = h.menu.Normalize(ev.Text)
	}

	u, _, err := h.users.Ensure(ctx, ev.From, cmd.Referrer)
	if err != nil {
		log.WithError(err).WithField("telegram_id", ev.From.TelegramID).Error("Не удалось загрузить пользователя")
		t := h.catalog.For(h.catalog.Fallback())
		if ev.IsCallback() {
			_ = h.messenger.AnswerCallback(ctx, ev.CallbackID, t.T("error_generic"), true)
			return
		}
		_, _ = h.messenger.Send(ctx, ev.ChatID, messaging.Message{Text: t.T("error_generic")})
		return
	}

	tr := &turn{ev: ev, user: u, t: h.translator(u)}
	if ev.IsCallback() {
		h.handleCallback(ctx, tr)
		if !tr.answered {
			h.answer(ctx, tr, "", false)
		}
		return
	}
	h.handleText(ctx, tr, cmd)
}

func (h *Handler) handleText(ctx context.Context, tr *turn, cmd Command) {
	if cmd.Kind == CommandStart {
		h.start(ctx, tr)
		return
	}
	if tr.user.Language == "" {
		h.askLanguage(ctx, tr, false)
		return
	}

	if cmd.Kind == CommandMenu {
		if !models.IsIdle(tr.user.State) {
			log.WithFields(log.Fields{
				"user_id": tr.user.ID,
				"state":   tr.user.State.Name(),
				"menu":    cmd.Menu,
			}).Debug("Сценарий прерван кнопкой меню")
			if err := h.resetState(ctx, tr); err != nil {
				h.fail(ctx, tr, err)
				return
			}
		}
		h.handleMenu(ctx, tr, cmd.Menu)
		return
	}

	switch st := tr.user.State.(type) {
	case models.AwaitingInvestmentAmount:
		h.investAmount(ctx, tr, st, cmd.Input)
	case models.AwaitingDepositAmount:
		h.depositAmount(ctx, tr, cmd.Input)
	case models.AwaitingWalletAddress:
		h.walletAddress(ctx, tr, cmd.Input)
	case models.AwaitingWalletNetwork:
		h.send(ctx, tr, messaging.Message{Text: tr.t.T("withdraw.ask_network"), Inline: networkKeyboard(tr.t)})
	case models.AwaitingWithdrawalAmount:
		h.withdrawalAmount(ctx, tr, cmd.Input)
	default:
		h.send(ctx, tr, messaging.Message{Text: tr.t.T("unknown_input"), Menu: mainMenu(tr.t)})
	}
}

func (h *Handler) handleCallback(ctx context.Context, tr *turn) {
	a, ok := ParseAction(tr.ev.Data)
	if !ok {
		log.WithFields(log.Fields{
			"user_id": tr.user.ID,
			"data":    tr.ev.Data,
		}).Debug("Неизвестная кнопка")
		return
	}

	switch a.Name {
	case cbSetLangPrefix:
		h.setLanguage(ctx, tr, a.Arg)
	case cbBackToMain:
		h.backToMain(ctx, tr)
	case cbBackToBalance:
		h.backToBalance(ctx, tr)
	case cbBackToPlans, cbShowPlans:
		if err := h.resetState(ctx, tr); err != nil {
			h.fail(ctx, tr, err)
			return
		}
		h.show(ctx, tr, h.plansScreen(tr.t, tr.user))
	case cbInvestPlanPrefix:
		h.selectPlan(ctx, tr, a.Arg)
	case cbCancel:
		h.cancel(ctx, tr)
	case cbDeposit:
		h.startDeposit(ctx, tr)
	case cbDepositPaidPref:
		h.depositPaid(ctx, tr, a.ID)
	case cbWithdraw:
		h.startWithdraw(ctx, tr)
	case cbSetNetworkPrefix:
		h.setNetwork(ctx, tr, a.Arg)
	case cbTransactions:
		h.showTransactions(ctx, tr)
	}
}

// --- Общие помощники ---

// send отправляет новое сообщение в чат пользователя.
func (h *Handler) send(ctx context.Context, tr *turn, msg messaging.Message) {
	if _, err := h.messenger.Send(ctx, tr.ev.ChatID, msg); err != nil {
		log.WithError(err).WithField("user_id", tr.user.ID).Error("Ошибка отправки сообщения")
	}
}

// show заменяет сообщение с нажатой кнопкой, а для текстовых событий отправляет новое.
func (h *Handler) show(ctx context.Context, tr *turn, msg messaging.Message) {
	if err := messaging.EditOrSend(ctx, h.messenger, tr.ev.ChatID, tr.ev.MessageID, msg); err != nil {
		log.WithError(err).WithField("user_id", tr.user.ID).Error("Ошибка отправки сообщения")
	}
}

// reprompt сообщает об ошибке ввода, оставляя пользователя в том же состоянии.
func (h *Handler) reprompt(ctx context.Context, tr *turn, text string) {
	h.send(ctx, tr, messaging.Message{Text: text, Inline: cancelKeyboard(tr.t)})
}

func (h *Handler) answer(ctx context.Context, tr *turn, text string, alert bool) {
	tr.answered = true
	if err := h.messenger.AnswerCallback(ctx, tr.ev.CallbackID, text, alert); err != nil {
		log.WithError(err).Debug("Не удалось ответить на callback")
	}
}

// setState сохраняет новое состояние и обновляет копию пользователя.
func (h *Handler) setState(ctx context.Context, tr *turn, st models.State) error {
	u, err := h.users.SetState(ctx, tr.user.ID, st)
	if err != nil {
		return err
	}
	tr.user = u
	return nil
}

func (h *Handler) resetState(ctx context.Context, tr *turn) error {
	if models.IsIdle(tr.user.State) {
		return nil
	}
	return h.setState(ctx, tr, models.Idle{})
}

// fail обрабатывает сбой хранилища посреди сценария: диалог сбрасывается,
// пользователь получает общее сообщение об ошибке.
func (h *Handler) fail(ctx context.Context, tr *turn, err error) {
	log.WithError(err).WithFields(log.Fields{
		"user_id":     tr.user.ID,
		"telegram_id": tr.user.TelegramID,
		"state":       stateName(tr.user.State),
	}).Error("Ошибка обработки события")

	if _, rerr := h.users.ResetState(ctx, tr.user.ID); rerr != nil {
		log.WithError(rerr).WithField("user_id", tr.user.ID).Error("Не удалось сбросить состояние")
	}

	if tr.ev.IsCallback() && !tr.answered {
		h.answer(ctx, tr, tr.t.T("error_generic"), true)
		return
	}
	h.send(ctx, tr, messaging.Message{Text: tr.t.T("error_generic")})
}

func stateName(s models.State) models.StateName {
	if s == nil {
		return models.StateNone
	}
	return s.Name()
}

func networkName(u *models.User) string {
	if u.WalletNetwork == nil {
		return ""
	}
	return strings.ToUpper(*u.WalletNetwork)
}
