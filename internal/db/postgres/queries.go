package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	version int
	name    string
	sql     string
}

// SQL-миграции встроены в код для упрощения деплоя.
// Суммы: NUMERIC(20,8), в Go читаются как decimal.Decimal через ::text.
var migrations = []migration{
	{1, "users", `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    telegram_id BIGINT UNIQUE NOT NULL,
    username VARCHAR(255) NOT NULL DEFAULT '',
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    main_balance NUMERIC(20,8) NOT NULL DEFAULT 0 CHECK (main_balance >= 0),
    bonus_balance NUMERIC(20,8) NOT NULL DEFAULT 0 CHECK (bonus_balance >= 0),
    total_invested NUMERIC(20,8) NOT NULL DEFAULT 0,
    total_withdrawn NUMERIC(20,8) NOT NULL DEFAULT 0,
    state VARCHAR(64) NOT NULL DEFAULT 'none',
    state_context JSONB NOT NULL DEFAULT '{}',
    language VARCHAR(8) NOT NULL DEFAULT '',
    wallet_address VARCHAR(128),
    wallet_network VARCHAR(16),
    referrer_id BIGINT REFERENCES users(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_referrer_id ON users(referrer_id);
`},
	{2, "transactions", `
CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    type VARCHAR(16) NOT NULL,
    amount NUMERIC(20,8) NOT NULL CHECK (amount > 0),
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    wallet_address VARCHAR(128),
    tx_id VARCHAR(128),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at DESC);
`},
	{3, "investments", `
CREATE TABLE IF NOT EXISTS investments (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    plan_id VARCHAR(32) NOT NULL,
    amount NUMERIC(20,8) NOT NULL CHECK (amount > 0),
    profit_percent NUMERIC(20,8) NOT NULL,
    profit_amount NUMERIC(20,8) NOT NULL,
    matures_at TIMESTAMPTZ NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'running',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_investments_user_id ON investments(user_id);
CREATE INDEX IF NOT EXISTS idx_investments_running_matures ON investments(matures_at) WHERE status = 'running';
`},
}

// execMigration выполняет один SQL-запрос миграции в транзакции.
// Если запрос упадёт: транзакция откатится автоматически.
// Возвращает false, если версия уже была применена.
func execMigration(ctx context.Context, pool *pgxpool.Pool, version int, sql string) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки миграции: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, sql); err != nil {
		return false, fmt.Errorf("ошибка выполнения: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1)", version,
	); err != nil {
		return false, fmt.Errorf("ошибка записи версии миграции: %w", err)
	}

	return true, tx.Commit(ctx)
}
