// Package main: точка входа бота.
// Загружает .env и конфигурацию, инициализирует приложение и запускает.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"serotonyl.ru/invest-bot/internal/app"
	"serotonyl.ru/invest-bot/internal/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := pflag.String("env-file", ".env", "файл с переменными окружения (необязательный)")
	pflag.Parse()

	// Настраиваем логирование
	setupLogging()

	log.Info("=== Бот запускается ===")

	// .env не перезаписывает уже выставленные переменные
	if err := godotenv.Load(*envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.WithField("path", *envFile).Debug("Файл .env не найден, используем переменные окружения")
		} else {
			log.WithError(err).Fatal("Не удалось прочитать .env")
		}
	}

	// Загружаем конфигурацию из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	// Устанавливаем уровень логирования из конфига
	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err == nil {
		log.SetLevel(level)
	}

	// Контекст с отменой для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем приложение (БД, бот, сервисы, обработчики)
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.Close()

	// Запускаем планировщик задач (cron)
	if err := application.Scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("Не удалось запустить планировщик")
	}
	defer application.Scheduler.Stop()

	if application.HTTP != nil {
		application.HTTP.Start()
	}

	// Обрабатываем сигналы остановки (Ctrl+C, docker stop)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем бота в отдельной горутине
	botDone := make(chan error, 1)
	go func() { botDone <- application.Bot.Start(ctx) }()

	log.Info("=== Бот готов к работе ===")

	// Ждём сигнала остановки или падения polling
	select {
	case sig := <-quit:
		log.Infof("Получен сигнал %s, останавливаемся...", sig)
	case err := <-botDone:
		if err != nil {
			log.WithError(err).Error("Бот остановился с ошибкой")
		}
		botDone = nil
	}

	// Отменяем контекст: все горутины начнут завершаться
	cancel()
	if botDone != nil {
		<-botDone
	}

	if application.HTTP != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := application.HTTP.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP сервер остановлен с ошибкой")
		}
		stop()
	}

	log.Info("=== Бот остановлен ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
