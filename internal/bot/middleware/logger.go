// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-bot/internal/features/conversation"
)

const maxLoggedText = 50

// LogEvent логирует входящее событие.
// Записывает: user_id, chat_id, username и текст (первые 50 символов) или данные кнопки.
func LogEvent(ev conversation.Event) {
	fields := log.Fields{
		"user_id":  ev.From.TelegramID,
		"chat_id":  ev.ChatID,
		"username": ev.From.Username,
	}
	if ev.IsCallback() {
		fields["callback"] = ev.Data
		log.WithFields(fields).Debug("Нажатие кнопки")
		return
	}
	fields["text"] = truncate(ev.Text, maxLoggedText)
	log.WithFields(fields).Debug("Входящее сообщение")
}

// truncate обрезает s до n символов (рун, не байт).
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
