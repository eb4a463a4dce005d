package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-bot/internal/db/sqlite"
	"serotonyl.ru/invest-bot/internal/features/ledger"
	"serotonyl.ru/invest-bot/internal/i18n"
	"serotonyl.ru/invest-bot/internal/messaging/messagingtest"
	"serotonyl.ru/invest-bot/internal/models"
)

func TestMatureInvestmentsNotifiesOwner(t *testing.T) {
	ctx := context.Background()
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := sqlite.OpenMemory(ctx, name)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer st.Close()

	catalog, err := i18n.Load("en")
	if err != nil {
		t.Fatalf("i18n.Load: %v", err)
	}

	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := ledger.NewService(st, ledger.Limits{
		MinDeposit:      decimal.NewFromInt(10),
		MinWithdrawal:   decimal.NewFromInt(10),
		ReferralPercent: decimal.NewFromInt(5),
	}).WithClock(func() time.Time { return clock })

	u := &models.User{
		TelegramID:  501,
		FirstName:   "Ivan",
		Language:    "ru",
		MainBalance: decimal.NewFromInt(100),
		State:       models.Idle{},
	}
	if err := st.Queries().CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	plan := models.Plan{ID: "plan_1", Percent: decimal.NewFromInt(10), Hours: 1, Min: decimal.NewFromInt(10)}
	if _, err := l.Invest(ctx, u.ID, plan, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("Invest: %v", err)
	}

	rec := &messagingtest.Recorder{}
	s := NewScheduler(l, catalog, rec)

	if n := s.MatureInvestments(ctx); n != 0 {
		t.Fatalf("nothing is due yet, closed %d", n)
	}

	clock = clock.Add(2 * time.Hour)
	if n := s.MatureInvestments(ctx); n != 1 {
		t.Fatalf("closed %d investments, want 1", n)
	}
	last, ok := rec.Last(501)
	if !ok {
		t.Fatal("owner was not notified")
	}
	want := catalog.T("ru", "investments.matured", "50.00", "55.00")
	if last.Message.Text != want {
		t.Errorf("notification = %q, want %q", last.Message.Text, want)
	}

	if n := s.MatureInvestments(ctx); n != 0 {
		t.Errorf("investment closed twice")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(nil, nil, &messagingtest.Recorder{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
