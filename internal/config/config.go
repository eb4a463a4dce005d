// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
// Тарифные планы читаются отдельно: из YAML-файла (см. plans.go).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-bot/internal/models"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	// Telegram ID администратора: только он подтверждает заявки,
	// в этот же чат приходят уведомления о новых заявках.
	AdminChatID int64 `envconfig:"ADMIN_CHAT_ID" required:"true"`
	// Язык уведомлений администратору (не зависит от языка пользователя)
	AdminLocale string `envconfig:"ADMIN_LOCALE" default:"en"`

	// --- Database ---
	// postgres: основной вариант, sqlite: для одиночного запуска без сервера БД.
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"invest_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"invest-bot.db"`

	// --- Application ---
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel   string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	DefaultLocale string `envconfig:"DEFAULT_LOCALE" default:"en"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Finance ---
	MinDeposit      decimal.Decimal `envconfig:"MIN_DEPOSIT" default:"10"`
	MinWithdrawal   decimal.Decimal `envconfig:"MIN_WITHDRAWAL" default:"10"`
	WelcomeBonus    decimal.Decimal `envconfig:"WELCOME_BONUS" default:"5"`
	ReferralPercent decimal.Decimal `envconfig:"REFERRAL_PERCENT" default:"5"`
	// Путь к YAML с тарифами. Пусто: встроенные планы.
	PlansFile string `envconfig:"PLANS_FILE"`

	// --- Payments (NOWPayments-совместимый API) ---
	PaymentsEnabled    bool          `envconfig:"PAYMENTS_ENABLED" default:"false"`
	PaymentsAPIURL     string        `envconfig:"PAYMENTS_API_URL" default:"https://api.nowpayments.io/v1"`
	PaymentsAPIKey     string        `envconfig:"PAYMENTS_API_KEY"`
	PaymentsCurrency   string        `envconfig:"PAYMENTS_CURRENCY" default:"usd"`
	PaymentsSuccessURL string        `envconfig:"PAYMENTS_SUCCESS_URL"`
	PaymentsTimeout    time.Duration `envconfig:"PAYMENTS_TIMEOUT" default:"15s"`
	// Базовый адрес тестовых ссылок при PAYMENTS_ENABLED=false
	PaymentsStubURL string `envconfig:"PAYMENTS_STUB_URL" default:"https://example.com/pay"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"20"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	// Если задан: лимитер хранит счётчики в Redis (общие для нескольких реплик)
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- Ops ---
	// Адрес HTTP-сервера с /healthz. Пусто: сервер не запускается.
	HTTPAddr       string `envconfig:"HTTP_ADDR"`
	SupportContact string `envconfig:"SUPPORT_CONTACT" default:"@support"`

	// Заполняется в Load из PlansFile (или встроенных планов).
	Plans *PlanSet `ignored:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN не задан")
	}
	if c.AdminChatID == 0 {
		return fmt.Errorf("ADMIN_CHAT_ID не задан или равен 0")
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	switch c.DBDriver {
	case "postgres":
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD обязателен для DB_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH не задан")
		}
	default:
		return fmt.Errorf("неизвестный DB_DRIVER %q (postgres|sqlite)", c.DBDriver)
	}
	if !c.MinDeposit.IsPositive() || !c.MinWithdrawal.IsPositive() {
		return fmt.Errorf("MIN_DEPOSIT и MIN_WITHDRAWAL должны быть > 0")
	}
	if c.WelcomeBonus.IsNegative() || c.ReferralPercent.IsNegative() {
		return fmt.Errorf("WELCOME_BONUS и REFERRAL_PERCENT не могут быть отрицательными")
	}
	if c.PaymentsEnabled && c.PaymentsAPIKey == "" {
		return fmt.Errorf("PAYMENTS_API_KEY обязателен при PAYMENTS_ENABLED=true")
	}
	if c.PaymentsTimeout <= 0 {
		return fmt.Errorf("PAYMENTS_TIMEOUT должен быть > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS и RATE_LIMIT_WINDOW должны быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	plans, err := LoadPlans(cfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("PLANS_FILE: %w", err)
	}
	cfg.Plans = plans

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Plan возвращает план по ID.
func (c *Config) Plan(id string) (models.Plan, bool) {
	if c.Plans == nil {
		return models.Plan{}, false
	}
	return c.Plans.Get(id)
}
