// Package users регистрирует пользователей и меняет их профиль:
// язык, кошелёк, состояние диалога.
//
// Запись пользователя меняется только под блокировкой строки:
// прочитать, изменить, сохранить в одной транзакции.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/common"
	"serotonyl.ru/invest-bot/internal/models"
	"serotonyl.ru/invest-bot/internal/store"
)

// Networks: сети, на которые возможен вывод.
var Networks = []string{"trc20", "bep20"}

// Profile: данные отправителя апдейта.
type Profile struct {
	TelegramID int64
	Username   string
	FirstName  string
}

// Service управляет пользователями.
type Service struct {
	store        store.Store
	welcomeBonus decimal.Decimal
}

// NewService создаёт сервис. welcomeBonus зачисляется на бонусный баланс при регистрации.
func NewService(st store.Store, welcomeBonus decimal.Decimal) *Service {
	return &Service{store: st, welcomeBonus: welcomeBonus}
}

// Get возвращает пользователя по Telegram ID или common.ErrUserNotFound.
func (s *Service) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	u, err := s.store.Queries().FindUserByTelegramID(ctx, telegramID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrUserNotFound
	}
	return u, err
}

// GetByID возвращает пользователя по внутреннему ID.
func (s *Service) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.Queries().FindUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, common.ErrUserNotFound
	}
	return u, err
}

// Ensure возвращает пользователя, создавая его при первом контакте.
// referrerTelegramID (0: нет) учитывается только при создании и только
// если такой пользователь существует и это не сам пользователь.
// created == true, если запись создана этим вызовом (при гонке двух первых
// апдейтов оба могут получить true, баланс при этом начисляется один раз).
func (s *Service) Ensure(ctx context.Context, p Profile, referrerTelegramID int64) (*models.User, bool, error) {
	existing, err := s.store.Queries().FindUserByTelegramID(ctx, p.TelegramID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	u := &models.User{
		TelegramID:   p.TelegramID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		BonusBalance: s.welcomeBonus,
		State:        models.Idle{},
	}
	if referrerTelegramID != 0 && referrerTelegramID != p.TelegramID {
		ref, err := s.store.Queries().FindUserByTelegramID(ctx, referrerTelegramID)
		switch {
		case err == nil:
			u.ReferrerID = &ref.ID
		case errors.Is(err, store.ErrNotFound):
			log.WithField("referrer", referrerTelegramID).Debug("Пригласивший не найден, регистрируем без него")
		default:
			return nil, false, err
		}
	}

	if err := s.store.Queries().CreateUser(ctx, u); err != nil {
		return nil, false, fmt.Errorf("ошибка регистрации пользователя: %w", err)
	}

	log.WithFields(log.Fields{
		"user_id":     u.ID,
		"telegram_id": u.TelegramID,
		"username":    u.Username,
		"referrer_id": u.ReferrerID,
	}).Info("Новый пользователь зарегистрирован")
	return u, true, nil
}

// Update блокирует запись пользователя, применяет fn и сохраняет результат.
// Ошибка из fn отменяет изменения.
func (s *Service) Update(ctx context.Context, userID int64, fn func(u *models.User) error) (*models.User, error) {
	var updated *models.User
	err := s.store.WithinTx(ctx, func(q store.Queries) error {
		u, err := q.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		updated = u
		return q.SaveUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetState меняет состояние диалога.
func (s *Service) SetState(ctx context.Context, userID int64, state models.State) (*models.User, error) {
	return s.Update(ctx, userID, func(u *models.User) error {
		u.State = state
		return nil
	})
}

// ResetState возвращает диалог в Idle.
func (s *Service) ResetState(ctx context.Context, userID int64) (*models.User, error) {
	return s.SetState(ctx, userID, models.Idle{})
}

// SetLanguage сохраняет язык и сбрасывает диалог.
// firstChoice == true, если язык выбран впервые.
func (s *Service) SetLanguage(ctx context.Context, userID int64, lang string) (u *models.User, firstChoice bool, err error) {
	u, err = s.Update(ctx, userID, func(u *models.User) error {
		firstChoice = u.Language == ""
		u.Language = lang
		u.State = models.Idle{}
		return nil
	})
	return u, firstChoice, err
}

// SetWallet сохраняет кошелёк из контекста состояния AwaitingWalletNetwork
// вместе с выбранной сетью и переводит диалог к вводу суммы.
// Если пользователь уже не в этом состоянии: common.ErrStateExpired.
func (s *Service) SetWallet(ctx context.Context, userID int64, network string) (*models.User, error) {
	if !IsNetwork(network) {
		return nil, common.ErrUnknownNetwork
	}
	return s.Update(ctx, userID, func(u *models.User) error {
		st, ok := u.State.(models.AwaitingWalletNetwork)
		if !ok || st.Wallet == "" {
			return common.ErrStateExpired
		}
		wallet := st.Wallet
		u.WalletAddress = &wallet
		u.WalletNetwork = &network
		u.State = models.AwaitingWithdrawalAmount{}
		return nil
	})
}

// CountReferrals возвращает число приглашённых пользователем.
func (s *Service) CountReferrals(ctx context.Context, userID int64) (int, error) {
	return s.store.Queries().CountReferrals(ctx, userID)
}

// IsNetwork проверяет, поддерживается ли сеть вывода.
func IsNetwork(network string) bool {
	for _, n := range Networks {
		if n == network {
			return true
		}
	}
	return false
}
