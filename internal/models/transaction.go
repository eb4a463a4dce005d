package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType: тип денежной заявки.
type TxType string

// TxStatus: статус заявки. Из pending можно перейти ровно один раз.
type TxStatus string

const (
	TxTypeDeposit    TxType = "deposit"
	TxTypeWithdrawal TxType = "withdrawal"

	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusFailed    TxStatus = "failed"
)

// Transaction: заявка на пополнение или вывод.
// Создаётся диалогом пользователя, закрывается только администратором.
type Transaction struct {
	ID            int64           `db:"id"`
	UserID        int64           `db:"user_id"`
	Type          TxType          `db:"type"`
	Amount        decimal.Decimal `db:"amount"` // Всегда положительная
	Status        TxStatus        `db:"status"`
	WalletAddress *string         `db:"wallet_address"` // Только для вывода
	ExternalID    *string         `db:"tx_id"`          // order_id платёжного провайдера
	CreatedAt     time.Time       `db:"created_at"`

	// User заполняется при FindTransaction (владелец заявки).
	User *User `db:"-"`
}

// IsPending сообщает, что заявка ещё не обработана.
func (t *Transaction) IsPending() bool {
	return t.Status == TxStatusPending
}
