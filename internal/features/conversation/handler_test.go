package conversation

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/config"
	"serotonyl.ru/invest-bot/internal/db/sqlite"
	"serotonyl.ru/invest-bot/internal/features/ledger"
	"serotonyl.ru/invest-bot/internal/features/review"
	"serotonyl.ru/invest-bot/internal/features/users"
	"serotonyl.ru/invest-bot/internal/i18n"
	"serotonyl.ru/invest-bot/internal/messaging/messagingtest"
	"serotonyl.ru/invest-bot/internal/models"
	"serotonyl.ru/invest-bot/internal/payments"
	"serotonyl.ru/invest-bot/internal/store"
)

const adminID = 9000

type fakeInvoicer struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeInvoicer) CreateDepositInvoice(_ context.Context, _ *models.User, _ decimal.Decimal) (payments.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return payments.Invoice{}, common.ErrInvoiceFailed
	}
	n := strconv.Itoa(f.calls)
	return payments.Invoice{URL: "https://pay.test/" + n, OrderID: "order-" + n}, nil
}

type fixture struct {
	h        *Handler
	rec      *messagingtest.Recorder
	users    *users.Service
	ledger   *ledger.Service
	store    store.Store
	invoices *fakeInvoicer
}

func setupConversation(t *testing.T) (*fixture, func()) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := sqlite.OpenMemory(context.Background(), name)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	catalog, err := i18n.Load("en")
	if err != nil {
		t.Fatalf("i18n.Load: %v", err)
	}

	rec := &messagingtest.Recorder{}
	l := ledger.NewService(st, ledger.Limits{
		MinDeposit:      decimal.NewFromInt(10),
		MinWithdrawal:   decimal.NewFromInt(10),
		ReferralPercent: decimal.NewFromInt(5),
	})
	u := users.NewService(st, decimal.NewFromInt(5))
	inv := &fakeInvoicer{}
	plans := config.NewPlanSet(
		models.Plan{ID: "plan_1", Percent: decimal.NewFromInt(5), Hours: 24, Min: decimal.NewFromInt(10)},
		models.Plan{ID: "plan_2", Percent: decimal.NewFromInt(12), Hours: 72, Min: decimal.NewFromInt(50)},
	)

	h := NewHandler(Deps{
		Users:          u,
		Ledger:         l,
		Review:         review.NewHandler(l, catalog, rec, adminID, "en"),
		Invoices:       inv,
		Catalog:        catalog,
		Messenger:      rec,
		Plans:          plans,
		WelcomeBonus:   decimal.NewFromInt(5),
		BotUsername:    "invest_test_bot",
		SupportContact: "@help",
	})
	return &fixture{h: h, rec: rec, users: u, ledger: l, store: st, invoices: inv}, st.Close
}

func textEvent(tg int64, text string) Event {
	return Event{ChatID: tg, From: users.Profile{TelegramID: tg, FirstName: "Ann"}, Text: text}
}

func pressEvent(tg int64, data string) Event {
	return Event{
		ChatID:     tg,
		From:       users.Profile{TelegramID: tg, FirstName: "Ann"},
		CallbackID: "cb-" + data,
		Data:       data,
		MessageID:  1,
	}
}

// seed создаёт пользователя с выбранным языком и балансами.
func (f *fixture) seed(t *testing.T, tg int64, main, bonus string) *models.User {
	t.Helper()
	ctx := context.Background()
	u, _, err := f.users.Ensure(ctx, users.Profile{TelegramID: tg, FirstName: "Ann"}, 0)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	u, err = f.users.Update(ctx, u.ID, func(u *models.User) error {
		u.Language = "en"
		u.MainBalance = decimal.RequireFromString(main)
		u.BonusBalance = decimal.RequireFromString(bonus)
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	return u
}

func (f *fixture) user(t *testing.T, tg int64) *models.User {
	t.Helper()
	u, err := f.users.Get(context.Background(), tg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return u
}

func (f *fixture) do(ev Event) {
	f.h.Handle(context.Background(), ev)
}

func assertState(t *testing.T, u *models.User, want models.StateName) {
	t.Helper()
	if got := u.State.Name(); got != want {
		t.Fatalf("state = %s, want %s", got, want)
	}
}

func TestStartThenLanguageSelection(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.do(textEvent(1, "/start"))
	last, ok := f.rec.Last(1)
	if !ok || last.Message.Text != "Please choose your language:" {
		t.Fatalf("expected language picker, got %+v", last)
	}
	if len(last.Message.Inline) == 0 || last.Message.Inline[0][0].Data != "set_lang_en" {
		t.Fatalf("unexpected language keyboard %+v", last.Message.Inline)
	}

	u := f.user(t, 1)
	if !u.BonusBalance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("welcome bonus = %s, want 5", u.BonusBalance)
	}

	f.do(pressEvent(1, "set_lang_ru"))
	if got := f.user(t, 1).Language; got != "ru" {
		t.Fatalf("language = %q", got)
	}
	if !f.rec.Contains(1, "5.00") {
		t.Errorf("welcome bonus note missing")
	}
	menu, _ := f.rec.Last(1)
	if len(menu.Message.Menu) != 4 {
		t.Errorf("main menu keyboard expected, got %+v", menu.Message)
	}

	// Повторная смена языка без бонусного сообщения
	f.rec.Reset()
	f.do(pressEvent(1, "set_lang_en"))
	if f.rec.Contains(1, "welcome bonus") {
		t.Errorf("bonus note must be shown only once")
	}
}

func TestTextBeforeLanguageAsksLanguage(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.do(textEvent(1, "hello"))
	last, _ := f.rec.Last(1)
	if last.Message.Text != "Please choose your language:" {
		t.Errorf("got %q", last.Message.Text)
	}
}

func TestInvestFlow(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "100", "0")
	f.do(pressEvent(1, "invest_plan_1"))
	u := f.user(t, 1)
	st, ok := u.State.(models.AwaitingInvestmentAmount)
	if !ok || st.PlanID != "plan_1" {
		t.Fatalf("unexpected state %#v", u.State)
	}

	f.do(textEvent(1, "abc"))
	if !f.rec.Contains(1, "valid positive number") {
		t.Errorf("invalid amount must re-prompt")
	}
	f.do(textEvent(1, "5"))
	if !f.rec.Contains(1, "minimum amount for this plan is 10.00") {
		t.Errorf("below-minimum must re-prompt")
	}
	f.do(textEvent(1, "500"))
	if !f.rec.Contains(1, "Insufficient funds. Your balance: 100.00") {
		t.Errorf("insufficient funds must re-prompt")
	}
	assertState(t, f.user(t, 1), models.StateAwaitingInvestmentAmount)

	f.do(textEvent(1, "50"))
	u = f.user(t, 1)
	assertState(t, u, models.StateNone)
	if !u.MainBalance.Equal(decimal.NewFromInt(50)) || !u.TotalInvested.Equal(decimal.NewFromInt(50)) {
		t.Errorf("balances main=%s invested=%s", u.MainBalance, u.TotalInvested)
	}
	n, _ := f.store.Queries().CountInvestments(context.Background(), u.ID, models.InvestmentRunning)
	if n != 1 {
		t.Errorf("expected one running investment, got %d", n)
	}
	if !f.rec.Contains(1, "Invested 50.00 USDT in plan 5% / 24h") {
		t.Errorf("success message missing: %+v", f.rec.To(1))
	}
}

func TestUnknownPlanButton(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "100", "0")
	f.do(pressEvent(1, "invest_plan_9"))

	answers := f.rec.Answers()
	if len(answers) != 1 || answers[0].Text != "Invalid plan." {
		t.Fatalf("unexpected answers %+v", answers)
	}
	assertState(t, f.user(t, 1), models.StateNone)
}

func TestMenuInterruptsFlow(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "42", "0")
	f.do(pressEvent(1, "deposit"))
	assertState(t, f.user(t, 1), models.StateAwaitingDepositAmount)

	f.do(textEvent(1, "💰 My balance"))
	assertState(t, f.user(t, 1), models.StateNone)
	last, _ := f.rec.Last(1)
	if !strings.HasPrefix(last.Message.Text, "💰 Your balance") || !strings.Contains(last.Message.Text, "Main: 42.00") {
		t.Errorf("balance screen expected, got %q", last.Message.Text)
	}
	if f.invoices.calls != 0 {
		t.Errorf("menu label must not be treated as an amount")
	}
}

func TestMenuLabelFromOtherLocale(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "0", "0")
	f.do(textEvent(1, "❓ Вопросы"))
	last, _ := f.rec.Last(1)
	if !last.Message.HTML || !strings.Contains(last.Message.Text, "FAQ") {
		t.Errorf("FAQ in the user's language expected, got %+v", last.Message)
	}
}

func TestWithdrawWalletFlow(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()
	ctx := context.Background()

	f.seed(t, 1, "100", "0")
	f.do(pressEvent(1, "withdraw"))
	assertState(t, f.user(t, 1), models.StateAwaitingWalletAddress)

	f.do(textEvent(1, "0xabc"))
	if !f.rec.Contains(1, "Invalid wallet address") {
		t.Errorf("short address must be rejected")
	}
	assertState(t, f.user(t, 1), models.StateAwaitingWalletAddress)

	wallet := "0x" + strings.Repeat("1f", 20)
	f.do(textEvent(1, wallet))
	u := f.user(t, 1)
	if st, ok := u.State.(models.AwaitingWalletNetwork); !ok || st.Wallet != wallet {
		t.Fatalf("unexpected state %#v", u.State)
	}

	f.do(pressEvent(1, "set_network_bep20"))
	u = f.user(t, 1)
	assertState(t, u, models.StateAwaitingWithdrawalAmount)
	if !u.HasWallet() || *u.WalletAddress != wallet || *u.WalletNetwork != "bep20" {
		t.Fatalf("wallet not saved: %+v", u)
	}

	f.do(pressEvent(1, "set_network_trc20"))
	answers := f.rec.Answers()
	if last := answers[len(answers)-1]; last.Text != "This request has expired." || !last.Alert {
		t.Errorf("stale network press must be rejected, got %+v", last)
	}
	if got := *f.user(t, 1).WalletNetwork; got != "bep20" {
		t.Errorf("network changed by stale press: %s", got)
	}

	f.do(textEvent(1, "30"))
	u = f.user(t, 1)
	assertState(t, u, models.StateNone)
	if !u.MainBalance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("main = %s, want 70", u.MainBalance)
	}
	txs, _ := f.ledger.RecentTransactions(ctx, u.ID, 10)
	if len(txs) != 1 || txs[0].Type != models.TxTypeWithdrawal || !txs[0].IsPending() {
		t.Fatalf("expected one pending withdrawal, got %+v", txs)
	}
	notice, ok := f.rec.Last(adminID)
	if !ok || !strings.Contains(notice.Message.Text, "BEP20") {
		t.Fatalf("admin not notified: %+v", notice)
	}
}

func TestWithdrawBelowMinimumAlerts(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "3", "0")
	f.do(pressEvent(1, "withdraw"))

	answers := f.rec.Answers()
	if len(answers) != 1 || !answers[0].Alert || !strings.Contains(answers[0].Text, "10.00") {
		t.Fatalf("unexpected answers %+v", answers)
	}
	assertState(t, f.user(t, 1), models.StateNone)
}

func TestWithdrawUnlocksBonus(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "100", "5")
	f.do(pressEvent(1, "invest_plan_1"))
	f.do(textEvent(1, "50"))

	f.do(pressEvent(1, "withdraw"))
	u := f.user(t, 1)
	if !u.BonusBalance.IsZero() || !u.MainBalance.Equal(decimal.NewFromInt(55)) {
		t.Errorf("bonus not unlocked: main=%s bonus=%s", u.MainBalance, u.BonusBalance)
	}
	if !f.rec.Contains(1, "bonus of 5.00 USDT has been unlocked") {
		t.Errorf("unlock notification missing")
	}
}

func TestDepositFlowWithAdminApproval(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "0", "0")
	f.do(pressEvent(1, "deposit"))
	f.do(textEvent(1, "5"))
	if !f.rec.Contains(1, "minimum deposit is 10.00") {
		t.Errorf("below-minimum deposit must re-prompt")
	}

	f.do(textEvent(1, "25"))
	assertState(t, f.user(t, 1), models.StateNone)
	invoice, _ := f.rec.Last(1)
	if !invoice.Message.HTML || invoice.Message.Inline[0][0].URL != "https://pay.test/1" {
		t.Fatalf("unexpected invoice message %+v", invoice.Message)
	}
	paid := invoice.Message.Inline[1][0].Data
	if !strings.HasPrefix(paid, "deposit_paid_") {
		t.Fatalf("paid button data = %q", paid)
	}

	// Чужой пользователь не может отметить заявку оплаченной
	f.seed(t, 2, "0", "0")
	f.do(pressEvent(2, paid))
	if a := f.rec.Answers(); a[len(a)-1].Text != "Transaction not found." {
		t.Errorf("foreign deposit must be hidden, got %+v", a[len(a)-1])
	}

	f.do(pressEvent(1, paid))
	notice, ok := f.rec.Last(adminID)
	if !ok || !strings.Contains(notice.Message.Text, "25.00") {
		t.Fatalf("admin not notified: %+v", notice)
	}

	f.do(Event{
		ChatID:      adminID,
		From:        users.Profile{TelegramID: adminID, FirstName: "Root"},
		CallbackID:  "admin-cb",
		Data:        notice.Message.Inline[0][0].Data,
		MessageID:   notice.MessageID,
		MessageText: notice.Message.Text,
	})
	if got := f.user(t, 1).MainBalance; !got.Equal(decimal.NewFromInt(25)) {
		t.Errorf("main = %s, want 25", got)
	}

	f.do(pressEvent(1, paid))
	if a := f.rec.Answers(); a[len(a)-1].Text != "This deposit is already being processed." {
		t.Errorf("processed deposit press, got %+v", a[len(a)-1])
	}
}

func TestDepositInvoiceFailureKeepsState(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	u := f.seed(t, 1, "0", "0")
	f.invoices.fail = true
	f.do(pressEvent(1, "deposit"))
	f.do(textEvent(1, "25"))

	if !f.rec.Contains(1, "Payment provider is unavailable") {
		t.Errorf("api error message missing")
	}
	assertState(t, f.user(t, 1), models.StateAwaitingDepositAmount)
	txs, _ := f.ledger.RecentTransactions(context.Background(), u.ID, 10)
	if len(txs) != 0 {
		t.Errorf("no transaction must be created, got %d", len(txs))
	}
}

func TestDepositPaidRetriesWhenAdminUnreachable(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "0", "0")
	f.do(pressEvent(1, "deposit"))
	f.do(textEvent(1, "25"))
	invoice, _ := f.rec.Last(1)
	paid := invoice.Message.Inline[1][0].Data

	f.rec.FailSendTo = adminID
	f.do(pressEvent(1, paid))

	a := f.rec.Answers()
	if last := a[len(a)-1]; !last.Alert || !strings.Contains(last.Text, "Could not reach the administrator") {
		t.Errorf("expected a retry alert, got %+v", last)
	}
	if f.rec.Contains(1, "The administrator will confirm") {
		t.Errorf("user must not be told the admin was notified")
	}

	f.rec.FailSendTo = 0
	f.do(pressEvent(1, paid))
	if notice, ok := f.rec.Last(adminID); !ok || !strings.Contains(notice.Message.Text, "25.00") {
		t.Fatalf("retry must reach the admin: %+v", notice)
	}
	if !f.rec.Contains(1, "The administrator will confirm") {
		t.Errorf("confirmation missing after retry")
	}
}

func TestWithdrawalReportsUnsentAdminNotice(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	u := f.seed(t, 1, "100", "0")
	f.do(pressEvent(1, "withdraw"))
	f.do(textEvent(1, "0x"+strings.Repeat("a", 40)))
	f.do(pressEvent(1, "set_network_bep20"))

	f.rec.FailSendTo = adminID
	f.do(textEvent(1, "20"))

	txs, _ := f.ledger.RecentTransactions(context.Background(), u.ID, 10)
	if len(txs) != 1 || !txs[0].IsPending() {
		t.Fatalf("withdrawal must be recorded as pending, got %+v", txs)
	}
	last, _ := f.rec.Last(1)
	want := "Request #" + strconv.FormatInt(txs[0].ID, 10) + " is saved"
	if !strings.Contains(last.Message.Text, want) {
		t.Errorf("last message = %q, want it to contain %q", last.Message.Text, want)
	}
	if f.rec.Contains(1, "It will be processed by the administrator") {
		t.Errorf("success message must not be sent")
	}
}

func TestCancelRouting(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "10", "0")

	f.do(pressEvent(1, "deposit"))
	f.rec.Reset()
	f.do(pressEvent(1, "cancel_action"))
	assertState(t, f.user(t, 1), models.StateNone)
	msgs := f.rec.To(1)
	if len(msgs) != 2 || msgs[0].Message.Text != "Action canceled." {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if !strings.HasPrefix(msgs[1].Message.Text, "💰 Your balance") {
		t.Errorf("cancel from deposit must return to balance, got %q", msgs[1].Message.Text)
	}

	f.do(pressEvent(1, "invest_plan_1"))
	f.rec.Reset()
	f.do(pressEvent(1, "cancel_action"))
	last, _ := f.rec.Last(1)
	if len(last.Message.Menu) == 0 {
		t.Errorf("cancel from plan must return to main menu, got %+v", last.Message)
	}
}

func TestTransactionsList(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "0", "0")
	f.do(pressEvent(1, "transactions"))
	last, _ := f.rec.Last(1)
	if last.Message.Text != "You have no transactions yet." || last.Message.Inline[0][0].Data != "back_to_balance" {
		t.Fatalf("unexpected empty history %+v", last.Message)
	}

	f.do(pressEvent(1, "deposit"))
	f.do(textEvent(1, "20"))
	f.do(pressEvent(1, "transactions"))
	last, _ = f.rec.Last(1)
	if !strings.Contains(last.Message.Text, "deposit · 20.00 USDT · pending") {
		t.Errorf("history entry missing: %q", last.Message.Text)
	}
}

func TestReferralBonusAfterInvestment(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	ref := f.seed(t, 1, "0", "0")
	f.do(textEvent(2, "/start 1"))
	invited := f.user(t, 2)
	if invited.ReferrerID == nil || *invited.ReferrerID != ref.ID {
		t.Fatalf("referrer not linked")
	}
	f.seed(t, 2, "200", "0")

	f.do(pressEvent(2, "invest_plan_1"))
	f.do(textEvent(2, "100"))

	if got := f.user(t, 1).MainBalance; !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("referrer main = %s, want 5", got)
	}
	if !f.rec.Contains(1, "referral bonus of 5.00") {
		t.Errorf("referrer not notified")
	}

	f.rec.Reset()
	f.do(textEvent(1, "👥 Referral program"))
	if !f.rec.Contains(1, "https://t.me/invest_test_bot?start=1") || !f.rec.Contains(1, "Invited: 1") {
		t.Errorf("referral screen: %+v", f.rec.To(1))
	}
}

func TestStoreFailureSendsGenericError(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.store.Close()
	f.do(textEvent(1, "/start"))
	last, ok := f.rec.Last(1)
	if !ok || last.Message.Text != "❌ Something went wrong. Please try again later." {
		t.Fatalf("expected generic error, got %+v", last)
	}
}

func TestConcurrentAdminPressesApplyOnce(t *testing.T) {
	f, cleanup := setupConversation(t)
	defer cleanup()

	f.seed(t, 1, "100", "0")
	f.do(pressEvent(1, "withdraw"))
	f.do(textEvent(1, "0x"+strings.Repeat("a", 40)))
	f.do(pressEvent(1, "set_network_trc20"))
	f.do(textEvent(1, "20"))

	notice, ok := f.rec.Last(adminID)
	if !ok {
		t.Fatal("admin not notified")
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.do(Event{
				ChatID:     adminID,
				From:       users.Profile{TelegramID: adminID, FirstName: "Root"},
				CallbackID: "admin",
				Data:       notice.Message.Inline[0][0].Data,
				MessageID:  notice.MessageID,
			})
		}()
	}
	wg.Wait()

	u := f.user(t, 1)
	if !u.TotalWithdrawn.Equal(decimal.NewFromInt(20)) || !u.MainBalance.Equal(decimal.NewFromInt(80)) {
		t.Errorf("withdrawn=%s main=%s", u.TotalWithdrawn, u.MainBalance)
	}
	if n := strings.Count(strings.Join(texts(f.rec.To(1)), "\n"), "has been sent"); n != 1 {
		t.Errorf("user notified %d times", n)
	}
}

func texts(msgs []messagingtest.Sent) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Message.Text)
	}
	return out
}
