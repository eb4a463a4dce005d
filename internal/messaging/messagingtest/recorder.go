// Package messagingtest содержит записывающий Messenger для тестов.
package messagingtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"serotonyl.ru/invest-bot/internal/messaging"
)

// Sent: отправленное или отредактированное сообщение.
type Sent struct {
	ChatID    int64
	MessageID int
	Message   messaging.Message
	Edited    bool
}

// Answer: ответ на callback.
type Answer struct {
	CallbackID string
	Text       string
	Alert      bool
}

// Recorder запоминает все вызовы. Безопасен для параллельного использования.
type Recorder struct {
	mu       sync.Mutex
	nextID   int
	messages []Sent
	answers  []Answer

	// FailEdit заставляет Edit возвращать ошибку
	FailEdit bool
	// FailSend заставляет Send возвращать ошибку
	FailSend bool
	// FailSendTo: Send в этот чат возвращает ошибку
	FailSendTo int64
}

var errInjected = errors.New("messagingtest: injected failure")

func (r *Recorder) Send(_ context.Context, chatID int64, msg messaging.Message) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailSend || (r.FailSendTo != 0 && chatID == r.FailSendTo) {
		return 0, errInjected
	}
	r.nextID++
	r.messages = append(r.messages, Sent{ChatID: chatID, MessageID: r.nextID, Message: msg})
	return r.nextID, nil
}

func (r *Recorder) Edit(_ context.Context, chatID int64, messageID int, msg messaging.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailEdit {
		return errInjected
	}
	r.messages = append(r.messages, Sent{ChatID: chatID, MessageID: messageID, Message: msg, Edited: true})
	return nil
}

func (r *Recorder) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, Answer{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

// Messages возвращает копию всех сообщений в порядке вызовов.
func (r *Recorder) Messages() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.messages...)
}

// To возвращает сообщения в чат chatID.
func (r *Recorder) To(chatID int64) []Sent {
	var out []Sent
	for _, m := range r.Messages() {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Last возвращает последнее сообщение в чат chatID.
func (r *Recorder) Last(chatID int64) (Sent, bool) {
	msgs := r.To(chatID)
	if len(msgs) == 0 {
		return Sent{}, false
	}
	return msgs[len(msgs)-1], true
}

// Contains сообщает, было ли в чате chatID сообщение с подстрокой substr.
func (r *Recorder) Contains(chatID int64, substr string) bool {
	for _, m := range r.To(chatID) {
		if strings.Contains(m.Message.Text, substr) {
			return true
		}
	}
	return false
}

// Answers возвращает копию ответов на callback.
func (r *Recorder) Answers() []Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Answer(nil), r.answers...)
}

// Reset очищает записи.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.answers = nil
}

var _ messaging.Messenger = (*Recorder)(nil)
