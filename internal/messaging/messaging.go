// Package messaging описывает транспортно-независимые исходящие сообщения.
// Логика бота собирает Message, а конкретный мессенджер (telego в internal/bot)
// превращает его в вызовы API.
package messaging

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Button: кнопка inline-клавиатуры. Задаётся либо Data (callback), либо URL.
type Button struct {
	Text string
	Data string
	URL  string
}

// Message: исходящее сообщение.
type Message struct {
	Text string
	// HTML включает разметку parse_mode=HTML
	HTML bool
	// Inline: кнопки под сообщением
	Inline [][]Button
	// Menu: постоянная клавиатура главного меню. При редактировании игнорируется.
	Menu [][]string
}

// Messenger отправляет и редактирует сообщения в чате.
type Messenger interface {
	// Send отправляет новое сообщение и возвращает его ID.
	Send(ctx context.Context, chatID int64, msg Message) (int, error)
	// Edit заменяет текст и inline-кнопки существующего сообщения.
	Edit(ctx context.Context, chatID int64, messageID int, msg Message) error
	// AnswerCallback закрывает «часики» на нажатой кнопке.
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// EditOrSend пытается отредактировать messageID, а при неудаче (или messageID == 0)
// отправляет новое сообщение. Ошибка возвращается только если не удалась отправка.
func EditOrSend(ctx context.Context, m Messenger, chatID int64, messageID int, msg Message) error {
	if messageID != 0 && len(msg.Menu) == 0 {
		err := m.Edit(ctx, chatID, messageID, msg)
		if err == nil {
			return nil
		}
		log.WithError(err).WithFields(log.Fields{
			"chat_id":    chatID,
			"message_id": messageID,
		}).Debug("Редактирование не удалось, отправляем новое сообщение")
	}
	_, err := m.Send(ctx, chatID, msg)
	return err
}

// Row: короткая запись для ряда кнопок.
func Row(buttons ...Button) []Button {
	return buttons
}

// Callback: кнопка с callback-данными.
func Callback(text, data string) Button {
	return Button{Text: text, Data: data}
}

// Link: кнопка-ссылка.
func Link(text, url string) Button {
	return Button{Text: text, URL: url}
}
