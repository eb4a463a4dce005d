// Package app инициализирует все компоненты приложения.
// app.go: точка сборки: открывает хранилище, создаёт сервисы, обработчики,
// фильтры, фоновые задачи и собирает всё в один объект App.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/bot"
	"serotonyl.ru/invest-bot/internal/bot/filters"
	"serotonyl.ru/invest-bot/internal/bot/middleware"
	"serotonyl.ru/invest-bot/internal/config"
	"serotonyl.ru/invest-bot/internal/db/postgres"
	"serotonyl.ru/invest-bot/internal/db/sqlite"
	"serotonyl.ru/invest-bot/internal/features/conversation"
	"serotonyl.ru/invest-bot/internal/features/ledger"
	"serotonyl.ru/invest-bot/internal/features/review"
	"serotonyl.ru/invest-bot/internal/features/users"
	"serotonyl.ru/invest-bot/internal/httpapi"
	"serotonyl.ru/invest-bot/internal/i18n"
	"serotonyl.ru/invest-bot/internal/jobs"
	"serotonyl.ru/invest-bot/internal/payments"
	"serotonyl.ru/invest-bot/internal/store"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	// HTTP: nil, если HTTP_ADDR не задан
	HTTP  *httpapi.Server
	Store store.Store

	closers []func()
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// === 1. Хранилище ===
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	// === 2. Telegram Bot API ===
	api, err := telego.NewBot(cfg.TelegramBotToken, telego.WithLogger(log.WithField("component", "telego")))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	me, err := api.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("getMe: %w", err)
	}
	log.Infof("Авторизован как @%s", me.Username)

	// === 3. Тексты и транспорт ===
	catalog, err := i18n.Load(cfg.DefaultLocale)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки переводов: %w", err)
	}
	messenger := bot.NewMessenger(api)

	// === 4. Сервисы ===
	userService := users.NewService(st, cfg.WelcomeBonus)
	ledgerService := ledger.NewService(st, ledger.Limits{
		MinDeposit:      cfg.MinDeposit,
		MinWithdrawal:   cfg.MinWithdrawal,
		ReferralPercent: cfg.ReferralPercent,
	})
	reviewHandler := review.NewHandler(ledgerService, catalog, messenger, cfg.AdminChatID, cfg.AdminLocale)

	// === 5. Обработчик диалога ===
	handler := conversation.NewHandler(conversation.Deps{
		Users:          userService,
		Ledger:         ledgerService,
		Review:         reviewHandler,
		Invoices:       newInvoicer(cfg),
		Catalog:        catalog,
		Messenger:      messenger,
		Plans:          cfg.Plans,
		WelcomeBonus:   cfg.WelcomeBonus,
		BotUsername:    me.Username,
		SupportContact: cfg.SupportContact,
	})

	// === 6. Фильтры и лимиты ===
	limiter, err := a.newLimiter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	chatFilter := filters.NewChatFilter(cfg.AdminChatID)

	// === 7. Собираем бота ===
	a.Bot = bot.New(api, cfg, handler, chatFilter, limiter)

	// === 8. Планировщик задач ===
	a.Scheduler = jobs.NewScheduler(ledgerService, catalog, messenger)

	// === 9. Служебный HTTP ===
	if cfg.HTTPAddr != "" {
		a.HTTP = httpapi.NewServer(cfg.HTTPAddr, st)
	}

	return a, nil
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openStore выбирает хранилище по DB_DRIVER. Для PostgreSQL прогоняет миграции.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.WithField("path", cfg.SQLitePath).Info("Используется SQLite")
		return st, nil

	default:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ошибка миграций: %w", err)
		}
		return postgres.NewStore(pool), nil
	}
}

func newInvoicer(cfg *config.Config) payments.Invoicer {
	if !cfg.PaymentsEnabled {
		log.Warn("PAYMENTS_ENABLED=false: ссылки на оплату будут заглушками")
		return payments.Stub{BaseURL: cfg.PaymentsStubURL}
	}
	return payments.NewClient(payments.Config{
		APIURL:     cfg.PaymentsAPIURL,
		APIKey:     cfg.PaymentsAPIKey,
		Currency:   cfg.PaymentsCurrency,
		SuccessURL: cfg.PaymentsSuccessURL,
		Timeout:    cfg.PaymentsTimeout,
	})
}

// newLimiter: Redis, если задан REDIS_ADDR, иначе счётчики в памяти.
func (a *App) newLimiter(ctx context.Context, cfg *config.Config) (middleware.Limiter, error) {
	if cfg.RedisAddr == "" {
		rl := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
		a.closers = append(a.closers, rl.Close)
		return rl, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Warn("Ошибка закрытия Redis")
		}
	})

	log.WithField("addr", cfg.RedisAddr).Info("Rate limit хранится в Redis")
	return middleware.NewRedisLimiter(client, "invest-bot:ratelimit", cfg.RateLimitRequests, cfg.RateLimitWindow), nil
}
