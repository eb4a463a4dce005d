// Package models описывает доменные сущности бота: пользователей,
// транзакции (депозиты/выводы), инвестиции и тарифные планы.
// Пакет не зависит от хранилища: его используют и postgres, и sqlite.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User: пользователь бота.
// Создаётся при первом контакте, никогда не удаляется.
type User struct {
	ID         int64  `db:"id"`          // Внутренний ID записи
	TelegramID int64  `db:"telegram_id"` // Telegram user ID (уникальный)
	Username   string `db:"username"`    // @username (может быть пустым)
	FirstName  string `db:"first_name"`  // Имя

	MainBalance    decimal.Decimal `db:"main_balance"`    // Доступно для инвестиций и вывода
	BonusBalance   decimal.Decimal `db:"bonus_balance"`   // Заблокировано до первой активной инвестиции
	TotalInvested  decimal.Decimal `db:"total_invested"`  // Сколько всего вложено
	TotalWithdrawn decimal.Decimal `db:"total_withdrawn"` // Сколько всего выведено

	// Состояние диалога. Контекст хранится внутри конкретного варианта State.
	State State `db:"-"`

	Language      string  `db:"language"`       // Пустая строка: язык ещё не выбран
	WalletAddress *string `db:"wallet_address"` // nil, пока кошелёк не задан
	WalletNetwork *string `db:"wallet_network"` // trc20 / bep20
	ReferrerID    *int64  `db:"referrer_id"`    // Внутренний ID пригласившего

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// HasWallet сообщает, сохранён ли у пользователя кошелёк для вывода.
func (u *User) HasWallet() bool {
	return u.WalletAddress != nil && *u.WalletAddress != ""
}

// DisplayName возвращает имя для уведомлений администратору.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "N/A"
}

// Locale возвращает язык пользователя или fallback, если язык не выбран.
func (u *User) Locale(fallback string) string {
	if u.Language == "" {
		return fallback
	}
	return u.Language
}
