// Package sqlite: хранилище на SQLite для одиночного запуска и тестов.
// Транзакции открываются как BEGIN IMMEDIATE (_txlock=immediate): пишущая
// транзакция сразу берёт блокировку базы, поэтому чтение статуса и запись
// внутри WithinTx не пересекаются с параллельными транзакциями.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/models"
	"serotonyl.ru/invest-bot/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_id INTEGER NOT NULL UNIQUE,
	username TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	main_balance TEXT NOT NULL DEFAULT '0',
	bonus_balance TEXT NOT NULL DEFAULT '0',
	total_invested TEXT NOT NULL DEFAULT '0',
	total_withdrawn TEXT NOT NULL DEFAULT '0',
	state TEXT NOT NULL DEFAULT 'none',
	state_context TEXT NOT NULL DEFAULT '{}',
	language TEXT NOT NULL DEFAULT '',
	wallet_address TEXT,
	wallet_network TEXT,
	referrer_id INTEGER REFERENCES users(id),
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_referrer_id ON users(referrer_id);

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	type TEXT NOT NULL,
	amount TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	wallet_address TEXT,
	tx_id TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS investments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	plan_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	profit_percent TEXT NOT NULL,
	profit_amount TEXT NOT NULL,
	matures_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_investments_status_matures ON investments(status, matures_at);
`

// Store: реализация store.Store поверх database/sql и go-sqlite3.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open открывает файл path и создаёт схему.
func Open(ctx context.Context, path string) (*Store, error) {
	return open(ctx, "file:"+path+"?"+dsnParams().Encode())
}

// OpenMemory открывает именованную базу в памяти. Разные name: разные базы.
func OpenMemory(ctx context.Context, name string) (*Store, error) {
	params := dsnParams()
	params.Set("mode", "memory")
	params.Set("cache", "shared")
	return open(ctx, "file:"+url.PathEscape(name)+"?"+params.Encode())
}

func dsnParams() url.Values {
	v := url.Values{}
	v.Set("_txlock", "immediate")
	v.Set("_busy_timeout", "5000")
	v.Set("_foreign_keys", "on")
	return v
}

func open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть SQLite: %w", err)
	}
	// Один писатель: SQLite всё равно сериализует запись
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("SQLite недоступна: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания схемы: %w", err)
	}

	log.WithField("dsn", dsn).Debug("SQLite открыта")
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{db: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func (s *Store) Queries() store.Queries {
	return &queries{db: s.db, now: s.now}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		log.WithError(err).Warn("Ошибка закрытия SQLite")
	}
}

var _ store.Store = (*Store)(nil)

// dbtx: общее подмножество *sql.DB и *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type queries struct {
	db  dbtx
	now func() time.Time
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func (q *queries) timestamp() time.Time {
	return q.now().UTC()
}

// --- Пользователи ---

const userColumns = `
	id, telegram_id, username, first_name,
	main_balance, bonus_balance, total_invested, total_withdrawn,
	state, state_context, language, wallet_address, wallet_network, referrer_id,
	created_at, updated_at`

func scanUser(row scanner) (*models.User, error) {
	var (
		u         models.User
		stateName string
		stateCtx  string
	)
	err := row.Scan(
		&u.ID, &u.TelegramID, &u.Username, &u.FirstName,
		&u.MainBalance, &u.BonusBalance, &u.TotalInvested, &u.TotalWithdrawn,
		&stateName, &stateCtx, &u.Language, &u.WalletAddress, &u.WalletNetwork, &u.ReferrerID,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	state, err := models.DecodeState(models.StateName(stateName), []byte(stateCtx))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id": u.ID,
			"state":   stateName,
		}).Warn("не удалось разобрать состояние пользователя, сброс в idle")
		state = models.Idle{}
	}
	u.State = state
	return &u, nil
}

func (q *queries) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя %d: %w", id, err)
	}
	return u, nil
}

func (q *queries) FindUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя tg=%d: %w", telegramID, err)
	}
	return u, nil
}

// LockUser в SQLite: обычное чтение: BEGIN IMMEDIATE уже держит блокировку записи.
func (q *queries) LockUser(ctx context.Context, id int64) (*models.User, error) {
	return q.FindUserByID(ctx, id)
}

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	name, raw, err := models.EncodeState(u.State)
	if err != nil {
		return err
	}
	now := q.timestamp()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, username, first_name, main_balance, bonus_balance,
		                   total_invested, total_withdrawn, state, state_context, language,
		                   wallet_address, wallet_network, referrer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (telegram_id) DO NOTHING`,
		u.TelegramID, u.Username, u.FirstName, u.MainBalance, u.BonusBalance,
		u.TotalInvested, u.TotalWithdrawn, string(name), string(raw), u.Language,
		u.WalletAddress, u.WalletNetwork, u.ReferrerID, now, now,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	created, err := q.FindUserByTelegramID(ctx, u.TelegramID)
	if err != nil {
		return err
	}
	*u = *created
	return nil
}

func (q *queries) SaveUser(ctx context.Context, u *models.User) error {
	name, raw, err := models.EncodeState(u.State)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET
			username = ?, first_name = ?,
			main_balance = ?, bonus_balance = ?, total_invested = ?, total_withdrawn = ?,
			state = ?, state_context = ?, language = ?,
			wallet_address = ?, wallet_network = ?,
			updated_at = ?
		WHERE id = ?`,
		u.Username, u.FirstName,
		u.MainBalance, u.BonusBalance, u.TotalInvested, u.TotalWithdrawn,
		string(name), string(raw), u.Language,
		u.WalletAddress, u.WalletNetwork,
		q.timestamp(), u.ID,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения пользователя %d: %w", u.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("пользователь %d: %w", u.ID, store.ErrNotFound)
	}
	return nil
}

func (q *queries) CountReferrals(ctx context.Context, userID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE referrer_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта рефералов: %w", err)
	}
	return n, nil
}

// --- Заявки ---

const txColumns = `id, user_id, type, amount, status, wallet_address, tx_id, created_at`

func scanTransaction(row scanner) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Status, &t.WalletAddress, &t.ExternalID, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (q *queries) FindTransaction(ctx context.Context, id int64, forUpdate bool) (*models.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявки %d: %w", id, err)
	}
	t.User, err = q.FindUserByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (q *queries) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = q.timestamp()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, type, amount, status, wallet_address, tx_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, string(t.Type), t.Amount, string(t.Status), t.WalletAddress, t.ExternalID, t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (q *queries) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transactions SET amount = ?, status = ?, wallet_address = ?, tx_id = ?
		WHERE id = ?`,
		t.Amount, string(t.Status), t.WalletAddress, t.ExternalID, t.ID,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения заявки %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("заявка %d: %w", t.ID, store.ErrNotFound)
	}
	return nil
}

func (q *queries) MarkTransaction(ctx context.Context, id int64, from, to models.TxStatus) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("ошибка смены статуса заявки %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrStatusConflict
	}
	return nil
}

func (q *queries) ListTransactions(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявок: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Вклады ---

const investmentColumns = `
	id, user_id, plan_id, amount, profit_percent, profit_amount,
	matures_at, status, created_at`

func scanInvestment(row scanner) (*models.Investment, error) {
	var inv models.Investment
	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.PlanID, &inv.Amount, &inv.ProfitPercent, &inv.ProfitAmount,
		&inv.MaturesAt, &inv.Status, &inv.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (q *queries) CountInvestments(ctx context.Context, userID int64, status models.InvestmentStatus) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM investments WHERE user_id = ? AND status = ?`,
		userID, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта вкладов: %w", err)
	}
	return n, nil
}

func (q *queries) CreateInvestment(ctx context.Context, inv *models.Investment) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = q.timestamp()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO investments (user_id, plan_id, amount, profit_percent, profit_amount, matures_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.UserID, inv.PlanID, inv.Amount, inv.ProfitPercent, inv.ProfitAmount,
		inv.MaturesAt.UTC(), string(inv.Status), inv.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ошибка создания вклада: %w", err)
	}
	inv.ID, err = res.LastInsertId()
	return err
}

func (q *queries) ListInvestments(ctx context.Context, userID int64, limit int) ([]*models.Investment, error) {
	return q.listInvestments(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
}

func (q *queries) ListMaturedInvestments(ctx context.Context, now time.Time, limit int) ([]*models.Investment, error) {
	return q.listInvestments(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE status = 'running' AND matures_at <= ?
		ORDER BY matures_at, id
		LIMIT ?`, now.UTC(), limit)
}

func (q *queries) listInvestments(ctx context.Context, query string, args ...any) ([]*models.Investment, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения вкладов: %w", err)
	}
	defer rows.Close()

	var out []*models.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования вклада: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (q *queries) MarkInvestment(ctx context.Context, id int64, from, to models.InvestmentStatus) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE investments SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("ошибка смены статуса вклада %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrStatusConflict
	}
	return nil
}
