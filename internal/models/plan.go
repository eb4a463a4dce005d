package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan: тарифный план. Статическая конфигурация, не меняется в рантайме.
type Plan struct {
	ID      string
	Percent decimal.Decimal // Доходность за весь срок, %
	Hours   int             // Срок вклада
	Min     decimal.Decimal // Минимальная сумма
}

// Duration возвращает срок вклада.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.Hours) * time.Hour
}

// Profit считает доход для суммы amount: amount * percent / 100.
func (p Plan) Profit(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(p.Percent).Div(decimal.NewFromInt(100))
}

// NewInvestment собирает вклад по плану. maturesAt = createdAt + hours.
func (p Plan) NewInvestment(userID int64, amount decimal.Decimal, now time.Time) *Investment {
	return &Investment{
		UserID:        userID,
		PlanID:        p.ID,
		Amount:        amount,
		ProfitPercent: p.Percent,
		ProfitAmount:  p.Profit(amount),
		MaturesAt:     now.Add(p.Duration()),
		Status:        InvestmentRunning,
		CreatedAt:     now,
	}
}
