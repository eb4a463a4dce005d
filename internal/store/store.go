// Package store описывает транзакционное хранилище пользователей, заявок и вкладов.
// Реализации: internal/db/postgres (pgx) и internal/db/sqlite (database/sql).
//
// Все денежные операции выполняются через WithinTx: все записи внутри
// функции фиксируются вместе или не фиксируются вовсе.
package store

import (
	"context"
	"errors"
	"time"

	"serotonyl.ru/invest-bot/internal/models"
)

// ErrNotFound: запись не найдена. Реализации переводят в неё pgx.ErrNoRows / sql.ErrNoRows.
var ErrNotFound = errors.New("запись не найдена")

// ErrStatusConflict: условный переход статуса не затронул ни одной строки
// (заявку уже обработали в параллельной транзакции).
var ErrStatusConflict = errors.New("статус записи изменился")

// Store: хранилище с поддержкой атомарных единиц работы.
type Store interface {
	// WithinTx выполняет fn в одной транзакции БД.
	// Ошибка из fn (или паника) откатывает все записи.
	WithinTx(ctx context.Context, fn func(q Queries) error) error

	// Queries возвращает запросы вне транзакции (для чтения и одиночных записей).
	Queries() Queries

	// Ping проверяет доступность БД.
	Ping(ctx context.Context) error

	Close()
}

// Queries: набор операций над записями. Один и тот же интерфейс
// используется внутри транзакции и вне её.
type Queries interface {
	// --- Пользователи ---

	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	FindUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	// LockUser читает пользователя с блокировкой строки до конца транзакции.
	LockUser(ctx context.Context, id int64) (*models.User, error)
	// CreateUser вставляет пользователя и заполняет ID/CreatedAt.
	// При конфликте по telegram_id возвращает существующую запись.
	CreateUser(ctx context.Context, u *models.User) error
	// SaveUser сохраняет балансы, состояние, язык и кошелёк.
	SaveUser(ctx context.Context, u *models.User) error
	CountReferrals(ctx context.Context, userID int64) (int, error)

	// --- Заявки ---

	// FindTransaction возвращает заявку вместе с владельцем (User).
	// forUpdate блокирует строку заявки до конца транзакции.
	FindTransaction(ctx context.Context, id int64, forUpdate bool) (*models.Transaction, error)
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	SaveTransaction(ctx context.Context, t *models.Transaction) error
	// MarkTransaction переводит статус from → to только если текущий статус равен from.
	// Если строка не изменилась: ErrStatusConflict.
	MarkTransaction(ctx context.Context, id int64, from, to models.TxStatus) error
	// ListTransactions: последние заявки пользователя, новые сверху.
	ListTransactions(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error)

	// --- Вклады ---

	CountInvestments(ctx context.Context, userID int64, status models.InvestmentStatus) (int, error)
	CreateInvestment(ctx context.Context, inv *models.Investment) error
	ListInvestments(ctx context.Context, userID int64, limit int) ([]*models.Investment, error)
	// ListMaturedInvestments: running-вклады, у которых matures_at <= now.
	ListMaturedInvestments(ctx context.Context, now time.Time, limit int) ([]*models.Investment, error)
	// MarkInvestment: условный переход статуса вклада (аналог MarkTransaction).
	MarkInvestment(ctx context.Context, id int64, from, to models.InvestmentStatus) error
}
