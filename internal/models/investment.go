package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvestmentStatus: статус вклада.
type InvestmentStatus string

const (
	InvestmentRunning   InvestmentStatus = "running"
	InvestmentCompleted InvestmentStatus = "completed"
)

// Investment: вклад по тарифному плану.
// Сумма списывается с основного баланса в момент создания.
type Investment struct {
	ID            int64            `db:"id"`
	UserID        int64            `db:"user_id"`
	PlanID        string           `db:"plan_id"`
	Amount        decimal.Decimal  `db:"amount"`
	ProfitPercent decimal.Decimal  `db:"profit_percent"`
	ProfitAmount  decimal.Decimal  `db:"profit_amount"`
	MaturesAt     time.Time        `db:"matures_at"`
	Status        InvestmentStatus `db:"status"`
	CreatedAt     time.Time        `db:"created_at"`
}

// Payout: сколько вернётся на основной баланс по окончании срока.
func (i *Investment) Payout() decimal.Decimal {
	return i.Amount.Add(i.ProfitAmount)
}
