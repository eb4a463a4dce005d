package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/db/sqlite"
	"serotonyl.ru/invest-bot/internal/models"
	"serotonyl.ru/invest-bot/internal/store"
)

var testPlan = models.Plan{ID: "plan_1", Percent: decimal.NewFromInt(5), Hours: 24, Min: decimal.NewFromInt(10)}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setupLedger(t *testing.T) (*Service, store.Store, func()) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := sqlite.OpenMemory(context.Background(), name)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	svc := NewService(st, Limits{
		MinDeposit:      dec("10"),
		MinWithdrawal:   dec("10"),
		ReferralPercent: dec("5"),
	})
	return svc, st, st.Close
}

func seedUser(t *testing.T, st store.Store, telegramID int64, main, bonus string) *models.User {
	t.Helper()
	u := &models.User{
		TelegramID:   telegramID,
		FirstName:    "Test",
		MainBalance:  dec(main),
		BonusBalance: dec(bonus),
		State:        models.Idle{},
	}
	if err := st.Queries().CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func reload(t *testing.T, st store.Store, id int64) *models.User {
	t.Helper()
	u, err := st.Queries().FindUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	return u
}

func setWallet(t *testing.T, st store.Store, u *models.User) {
	t.Helper()
	wallet := "T" + strings.Repeat("x", 33)
	network := "trc20"
	u.WalletAddress = &wallet
	u.WalletNetwork = &network
	if err := st.Queries().SaveUser(context.Background(), u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
}

func TestInvestDebitsMainAndCreatesInvestment(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "100", "0")
	u.State = models.AwaitingInvestmentAmount{PlanID: testPlan.ID}
	if err := st.Queries().SaveUser(ctx, u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	inv, err := svc.Invest(ctx, u.ID, testPlan, dec("50"))
	if err != nil {
		t.Fatalf("Invest: %v", err)
	}
	if !inv.ProfitAmount.Equal(dec("2.5")) {
		t.Errorf("profit = %s, want 2.5", inv.ProfitAmount)
	}

	got := reload(t, st, u.ID)
	if !got.MainBalance.Equal(dec("50")) {
		t.Errorf("main = %s, want 50", got.MainBalance)
	}
	if !got.TotalInvested.Equal(dec("50")) {
		t.Errorf("totalInvested = %s, want 50", got.TotalInvested)
	}
	if !models.IsIdle(got.State) {
		t.Errorf("state = %v, want idle", got.State.Name())
	}
	n, _ := st.Queries().CountInvestments(ctx, u.ID, models.InvestmentRunning)
	if n != 1 {
		t.Errorf("running investments = %d, want 1", n)
	}
}

func TestInvestValidation(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "30", "0")

	tests := []struct {
		amount string
		want   error
	}{
		{"0", common.ErrInvalidAmount},
		{"-5", common.ErrInvalidAmount},
		{"5", common.ErrBelowMinimum},
		{"31", common.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		_, err := svc.Invest(ctx, u.ID, testPlan, dec(tt.amount))
		if !errors.Is(err, tt.want) {
			t.Errorf("Invest(%s): got %v, want %v", tt.amount, err, tt.want)
		}
	}

	got := reload(t, st, u.ID)
	if !got.MainBalance.Equal(dec("30")) || !got.TotalInvested.IsZero() {
		t.Errorf("failed validation must not mutate: %+v", got)
	}
	if n, _ := st.Queries().CountInvestments(ctx, u.ID, models.InvestmentRunning); n != 0 {
		t.Errorf("no investment expected, got %d", n)
	}
}

func TestWithdrawalRejectNetsToZero(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "100", "0")
	setWallet(t, st, u)

	tx, err := svc.RequestWithdrawal(ctx, u.ID, dec("40"))
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	if tx.WalletAddress == nil || *tx.WalletAddress != *u.WalletAddress {
		t.Errorf("withdrawal must carry the wallet address")
	}
	if got := reload(t, st, u.ID); !got.MainBalance.Equal(dec("60")) {
		t.Fatalf("main after request = %s, want 60", got.MainBalance)
	}

	resolved, err := svc.Resolve(ctx, tx.ID, models.TxTypeWithdrawal, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != models.TxStatusFailed {
		t.Errorf("status = %s, want failed", resolved.Status)
	}
	got := reload(t, st, u.ID)
	if !got.MainBalance.Equal(dec("100")) {
		t.Errorf("main after reject = %s, want 100", got.MainBalance)
	}
	if !got.TotalWithdrawn.IsZero() {
		t.Errorf("totalWithdrawn = %s, want 0", got.TotalWithdrawn)
	}
}

func TestWithdrawalApproveIsIdempotent(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "20", "0")
	setWallet(t, st, u)

	tx, err := svc.RequestWithdrawal(ctx, u.ID, dec("20"))
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}

	if _, err := svc.Resolve(ctx, tx.ID, models.TxTypeWithdrawal, true); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	_, err = svc.Resolve(ctx, tx.ID, models.TxTypeWithdrawal, true)
	if !errors.Is(err, common.ErrAlreadyProcessed) {
		t.Fatalf("second Resolve: got %v, want ErrAlreadyProcessed", err)
	}
	_, err = svc.Resolve(ctx, tx.ID, models.TxTypeWithdrawal, false)
	if !errors.Is(err, common.ErrAlreadyProcessed) {
		t.Fatalf("reject after approve: got %v, want ErrAlreadyProcessed", err)
	}

	got := reload(t, st, u.ID)
	if !got.TotalWithdrawn.Equal(dec("20")) || !got.MainBalance.IsZero() {
		t.Errorf("unexpected balances: main=%s withdrawn=%s", got.MainBalance, got.TotalWithdrawn)
	}
}

func TestConcurrentResolveAppliesOnce(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "0", "0")
	tx, err := svc.CreateDeposit(ctx, u.ID, dec("25"), "order-1")
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Resolve(ctx, tx.ID, models.TxTypeDeposit, true)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, common.ErrAlreadyProcessed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one successful resolution, got %d", succeeded)
	}
	if got := reload(t, st, u.ID); !got.MainBalance.Equal(dec("25")) {
		t.Errorf("main = %s, want 25", got.MainBalance)
	}
}

func TestDepositApproveCreditsTypedAmount(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "3", "0")
	tx, err := svc.CreateDeposit(ctx, u.ID, dec("12.34"), "order-2")
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
	if tx.ExternalID == nil || *tx.ExternalID != "order-2" {
		t.Errorf("order id not stored: %v", tx.ExternalID)
	}

	if _, err := svc.Resolve(ctx, tx.ID, models.TxTypeDeposit, true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := reload(t, st, u.ID); !got.MainBalance.Equal(dec("15.34")) {
		t.Errorf("main = %s, want 15.34", got.MainBalance)
	}
}

func TestDepositRejectDoesNotTouchBalance(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "7", "0")
	tx, err := svc.CreateDeposit(ctx, u.ID, dec("50"), "")
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}
	if _, err := svc.Resolve(ctx, tx.ID, models.TxTypeDeposit, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := reload(t, st, u.ID); !got.MainBalance.Equal(dec("7")) {
		t.Errorf("main = %s, want 7", got.MainBalance)
	}
}

func TestResolveTypeMismatchIsNotFound(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "0", "0")
	tx, err := svc.CreateDeposit(ctx, u.ID, dec("50"), "")
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}

	_, err = svc.Resolve(ctx, tx.ID, models.TxTypeWithdrawal, true)
	if !errors.Is(err, common.ErrTransactionNotFound) {
		t.Fatalf("got %v, want ErrTransactionNotFound", err)
	}
	_, err = svc.Resolve(ctx, 9999, models.TxTypeDeposit, true)
	if !errors.Is(err, common.ErrTransactionNotFound) {
		t.Fatalf("missing tx: got %v, want ErrTransactionNotFound", err)
	}
}

func TestUnlockBonusRequiresRunningInvestment(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "20", "5")

	unlocked, _, err := svc.UnlockBonus(ctx, u.ID)
	if err != nil {
		t.Fatalf("UnlockBonus: %v", err)
	}
	if !unlocked.IsZero() {
		t.Fatalf("bonus must stay locked without investments, unlocked %s", unlocked)
	}

	if _, err := svc.Invest(ctx, u.ID, testPlan, dec("10")); err != nil {
		t.Fatalf("Invest: %v", err)
	}

	unlocked, user, err := svc.UnlockBonus(ctx, u.ID)
	if err != nil {
		t.Fatalf("UnlockBonus: %v", err)
	}
	if !unlocked.Equal(dec("5")) {
		t.Fatalf("unlocked = %s, want 5", unlocked)
	}
	if !user.MainBalance.Equal(dec("15")) || !user.BonusBalance.IsZero() {
		t.Errorf("unexpected balances: main=%s bonus=%s", user.MainBalance, user.BonusBalance)
	}

	again, _, err := svc.UnlockBonus(ctx, u.ID)
	if err != nil || !again.IsZero() {
		t.Errorf("second unlock = %s, %v", again, err)
	}
}

func TestRequestWithdrawalChecks(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	u := seedUser(t, st, 1, "15", "0")
	if _, err := svc.RequestWithdrawal(ctx, u.ID, dec("10")); !errors.Is(err, common.ErrInvalidWallet) {
		t.Errorf("no wallet: got %v", err)
	}
	setWallet(t, st, u)
	if _, err := svc.RequestWithdrawal(ctx, u.ID, dec("9.99")); !errors.Is(err, common.ErrBelowMinimum) {
		t.Errorf("below minimum: got %v", err)
	}
	if _, err := svc.RequestWithdrawal(ctx, u.ID, dec("15.01")); !errors.Is(err, common.ErrInsufficientBalance) {
		t.Errorf("insufficient: got %v", err)
	}
	if got := reload(t, st, u.ID); !got.MainBalance.Equal(dec("15")) {
		t.Errorf("main = %s, want 15", got.MainBalance)
	}
}

func TestPendingDepositOwnership(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	owner := seedUser(t, st, 1, "0", "0")
	other := seedUser(t, st, 2, "0", "0")
	tx, err := svc.CreateDeposit(ctx, owner.ID, dec("10"), "")
	if err != nil {
		t.Fatalf("CreateDeposit: %v", err)
	}

	if _, err := svc.PendingDeposit(ctx, owner.ID, tx.ID); err != nil {
		t.Errorf("owner: %v", err)
	}
	if _, err := svc.PendingDeposit(ctx, other.ID, tx.ID); !errors.Is(err, common.ErrTransactionNotFound) {
		t.Errorf("other user: got %v", err)
	}
	if _, err := svc.Resolve(ctx, tx.ID, models.TxTypeDeposit, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := svc.PendingDeposit(ctx, owner.ID, tx.ID); !errors.Is(err, common.ErrAlreadyProcessed) {
		t.Errorf("processed: got %v", err)
	}
}

func TestCreditReferral(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	referrer := seedUser(t, st, 1, "0", "0")
	investor := &models.User{TelegramID: 2, ReferrerID: &referrer.ID}
	if err := st.Queries().CreateUser(ctx, investor); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, bonus, err := svc.CreditReferral(ctx, investor, dec("200"))
	if err != nil {
		t.Fatalf("CreditReferral: %v", err)
	}
	if !bonus.Equal(dec("10")) || got == nil || got.ID != referrer.ID {
		t.Fatalf("bonus = %s, referrer = %+v", bonus, got)
	}
	if r := reload(t, st, referrer.ID); !r.MainBalance.Equal(dec("10")) {
		t.Errorf("referrer main = %s, want 10", r.MainBalance)
	}

	none, _, err := svc.CreditReferral(ctx, referrer, dec("200"))
	if err != nil || none != nil {
		t.Errorf("no referrer: got %+v, %v", none, err)
	}
}

func TestMatureDue(t *testing.T) {
	svc, st, cleanup := setupLedger(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := start
	svc.WithClock(func() time.Time { return clock })

	u := seedUser(t, st, 1, "100", "0")
	if _, err := svc.Invest(ctx, u.ID, testPlan, dec("100")); err != nil {
		t.Fatalf("Invest: %v", err)
	}

	matured, err := svc.MatureDue(ctx, 10)
	if err != nil || len(matured) != 0 {
		t.Fatalf("nothing is due yet: %v, %v", matured, err)
	}

	clock = start.Add(25 * time.Hour)
	matured, err = svc.MatureDue(ctx, 10)
	if err != nil {
		t.Fatalf("MatureDue: %v", err)
	}
	if len(matured) != 1 {
		t.Fatalf("expected one matured investment, got %d", len(matured))
	}
	if !matured[0].User.MainBalance.Equal(dec("105")) {
		t.Errorf("main = %s, want 105", matured[0].User.MainBalance)
	}

	matured, err = svc.MatureDue(ctx, 10)
	if err != nil || len(matured) != 0 {
		t.Fatalf("investment must mature once: %v, %v", matured, err)
	}
	if got := reload(t, st, u.ID); !got.MainBalance.Equal(dec("105")) {
		t.Errorf("main = %s, want 105", got.MainBalance)
	}
}
