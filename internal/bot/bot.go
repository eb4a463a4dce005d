// Package bot реализует транспорт Telegram: long polling через telego,
// фильтрация и rate-limiting апдейтов, преобразование в conversation.Event.
package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/bot/filters"
	"serotonyl.ru/invest-bot/internal/bot/middleware"
	"serotonyl.ru/invest-bot/internal/config"
	"serotonyl.ru/invest-bot/internal/features/conversation"
	"serotonyl.ru/invest-bot/internal/features/users"
)

// EventHandler обрабатывает одно событие пользователя.
type EventHandler interface {
	Handle(ctx context.Context, ev conversation.Event)
}

// callbackAnswerer закрывает «часики» на нажатой кнопке.
type callbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Bot принимает апдейты и раздаёт их обработчику.
type Bot struct {
	api *telego.Bot
	cfg *config.Config

	handler     EventHandler
	chatFilter  *filters.ChatFilter
	rateLimiter middleware.Limiter
	answers     callbackAnswerer

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
	wg       sync.WaitGroup
}

// New создаёт бота.
func New(api *telego.Bot, cfg *config.Config, handler EventHandler, chatFilter *filters.ChatFilter, limiter middleware.Limiter) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:         api,
		cfg:         cfg,
		handler:     handler,
		chatFilter:  chatFilter,
		rateLimiter: limiter,
		answers:     NewMessenger(api),
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start запускает long polling и блокируется до отмены ctx.
// Перед возвратом дожидается апдейтов, которые уже в обработке.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        b.cfg.BotUpdateTimeoutSeconds,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return fmt.Errorf("не удалось запустить long polling: %w", err)
	}

	log.WithFields(log.Fields{
		"max_inflight": cap(b.inflight),
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			return nil

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

// dispatch запускает обработку апдейта, не превышая лимит параллелизма.
func (b *Bot) dispatch(ctx context.Context, update telego.Update) {
	select {
	case b.inflight <- struct{}{}:
	case <-ctx.Done():
		return
	}
	b.wg.Add(1)
	go func(upd telego.Update) {
		defer b.wg.Done()
		defer func() { <-b.inflight }()
		b.handleUpdate(ctx, upd)
	}(update)
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update telego.Update) {
	defer middleware.RecoverFromPanic(log.Fields{"update_id": update.UpdateID})

	ev, chatType, ok := toEvent(update)
	if !ok {
		return
	}
	middleware.LogEvent(ev)

	if !b.chatFilter.CheckAccess(ev.ChatID, chatType) {
		return
	}
	if !b.rateLimiter.Allow(ctx, ev.From.TelegramID) {
		log.WithField("user_id", ev.From.TelegramID).Debug("rate limited")
		if ev.IsCallback() {
			if err := b.answers.AnswerCallback(ctx, ev.CallbackID, "", false); err != nil {
				log.WithError(err).Debug("Не удалось ответить на callback")
			}
		}
		return
	}

	b.handler.Handle(ctx, ev)
}

// toEvent переводит апдейт в событие диалога. Поддерживаются текстовые
// сообщения и нажатия inline-кнопок, остальное пропускается.
func toEvent(update telego.Update) (conversation.Event, string, bool) {
	switch {
	case update.Message != nil:
		m := update.Message
		if m.From == nil || m.Text == "" {
			return conversation.Event{}, "", false
		}
		return conversation.Event{
			ChatID: m.Chat.ID,
			From:   profile(*m.From),
			Text:   m.Text,
		}, m.Chat.Type, true

	case update.CallbackQuery != nil:
		q := update.CallbackQuery
		ev := conversation.Event{
			ChatID:     q.From.ID,
			From:       profile(q.From),
			CallbackID: q.ID,
			Data:       q.Data,
		}
		chatType := telego.ChatTypePrivate
		switch msg := q.Message.(type) {
		case *telego.Message:
			ev.ChatID = msg.Chat.ID
			ev.MessageID = msg.MessageID
			ev.MessageText = msg.Text
			chatType = msg.Chat.Type
		case *telego.InaccessibleMessage:
			ev.ChatID = msg.Chat.ID
			ev.MessageID = msg.MessageID
			chatType = msg.Chat.Type
		}
		return ev, chatType, true
	}
	return conversation.Event{}, "", false
}

func profile(u telego.User) users.Profile {
	return users.Profile{
		TelegramID: u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
	}
}
