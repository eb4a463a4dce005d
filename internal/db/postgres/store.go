package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/models"
	"serotonyl.ru/invest-bot/internal/store"
)

// dbtx: общее подмножество pgxpool.Pool и pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store: реализация store.Store поверх pgxpool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore оборачивает готовый пул. Миграции должны быть применены заранее (Migrate).
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithinTx выполняет fn в транзакции READ COMMITTED.
// Гонки закрываются блокировками строк (FOR UPDATE) и условными UPDATE.
func (s *Store) WithinTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// После Commit откат ничего не делает
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func (s *Store) Queries() store.Queries {
	return &queries{db: s.pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

type queries struct {
	db dbtx
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// --- Пользователи ---

const userColumns = `
	id, telegram_id, username, first_name,
	main_balance::text, bonus_balance::text, total_invested::text, total_withdrawn::text,
	state, state_context::text, language, wallet_address, wallet_network, referrer_id,
	created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
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
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя %d: %w", id, err)
	}
	return u, nil
}

func (q *queries) FindUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользователя tg=%d: %w", telegramID, err)
	}
	return u, nil
}

func (q *queries) LockUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки пользователя %d: %w", id, err)
	}
	return u, nil
}

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	name, raw, err := models.EncodeState(u.State)
	if err != nil {
		return err
	}
	// DO UPDATE с пустым изменением нужен, чтобы RETURNING вернул существующую строку
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (telegram_id, username, first_name, main_balance, bonus_balance,
		                   total_invested, total_withdrawn, state, state_context, language,
		                   wallet_address, wallet_network, referrer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
		ON CONFLICT (telegram_id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id
		RETURNING `+userColumns,
		u.TelegramID, u.Username, u.FirstName, u.MainBalance, u.BonusBalance,
		u.TotalInvested, u.TotalWithdrawn, string(name), string(raw), u.Language,
		u.WalletAddress, u.WalletNetwork, u.ReferrerID,
	)
	created, err := scanUser(row)
	if err != nil {
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	*u = *created
	return nil
}

func (q *queries) SaveUser(ctx context.Context, u *models.User) error {
	name, raw, err := models.EncodeState(u.State)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE users SET
			username = $2, first_name = $3,
			main_balance = $4, bonus_balance = $5, total_invested = $6, total_withdrawn = $7,
			state = $8, state_context = $9::jsonb, language = $10,
			wallet_address = $11, wallet_network = $12,
			updated_at = NOW()
		WHERE id = $1`,
		u.ID, u.Username, u.FirstName,
		u.MainBalance, u.BonusBalance, u.TotalInvested, u.TotalWithdrawn,
		string(name), string(raw), u.Language,
		u.WalletAddress, u.WalletNetwork,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения пользователя %d: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("пользователь %d: %w", u.ID, store.ErrNotFound)
	}
	return nil
}

func (q *queries) CountReferrals(ctx context.Context, userID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE referrer_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта рефералов: %w", err)
	}
	return n, nil
}

// --- Заявки ---

const txColumns = `id, user_id, type, amount::text, status, wallet_address, tx_id, created_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Status, &t.WalletAddress, &t.ExternalID, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (q *queries) FindTransaction(ctx context.Context, id int64, forUpdate bool) (*models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTransaction(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявки %d: %w", id, err)
	}

	owner := q.FindUserByID
	if forUpdate {
		owner = q.LockUser
	}
	t.User, err = owner(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (q *queries) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO transactions (user_id, type, amount, status, wallet_address, tx_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		t.UserID, string(t.Type), t.Amount, string(t.Status), t.WalletAddress, t.ExternalID,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (q *queries) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE transactions SET amount = $2, status = $3, wallet_address = $4, tx_id = $5
		WHERE id = $1`,
		t.ID, t.Amount, string(t.Status), t.WalletAddress, t.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения заявки %d: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("заявка %d: %w", t.ID, store.ErrNotFound)
	}
	return nil
}

func (q *queries) MarkTransaction(ctx context.Context, id int64, from, to models.TxStatus) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE transactions SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("ошибка смены статуса заявки %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStatusConflict
	}
	return nil
}

func (q *queries) ListTransactions(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
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
	id, user_id, plan_id, amount::text, profit_percent::text, profit_amount::text,
	matures_at, status, created_at`

func scanInvestment(row pgx.Row) (*models.Investment, error) {
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
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM investments WHERE user_id = $1 AND status = $2`,
		userID, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта вкладов: %w", err)
	}
	return n, nil
}

func (q *queries) CreateInvestment(ctx context.Context, inv *models.Investment) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO investments (user_id, plan_id, amount, profit_percent, profit_amount, matures_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		inv.UserID, inv.PlanID, inv.Amount, inv.ProfitPercent, inv.ProfitAmount,
		inv.MaturesAt, string(inv.Status), inv.CreatedAt,
	).Scan(&inv.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания вклада: %w", err)
	}
	return nil
}

func (q *queries) ListInvestments(ctx context.Context, userID int64, limit int) ([]*models.Investment, error) {
	return q.listInvestments(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
}

func (q *queries) ListMaturedInvestments(ctx context.Context, now time.Time, limit int) ([]*models.Investment, error) {
	return q.listInvestments(ctx, `
		SELECT `+investmentColumns+` FROM investments
		WHERE status = 'running' AND matures_at <= $1
		ORDER BY matures_at, id
		LIMIT $2`, now, limit)
}

func (q *queries) listInvestments(ctx context.Context, sql string, args ...any) ([]*models.Investment, error) {
	rows, err := q.db.Query(ctx, sql, args...)
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
	tag, err := q.db.Exec(ctx,
		`UPDATE investments SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("ошибка смены статуса вклада %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrStatusConflict
	}
	return nil
}

var _ store.Store = (*Store)(nil)
