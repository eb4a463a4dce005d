package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"

	"serotonyl.ru/invest-bot/internal/messaging"
)

// Messenger: реализация messaging.Messenger поверх Telegram Bot API.
type Messenger struct {
	api *telego.Bot
}

func NewMessenger(api *telego.Bot) *Messenger {
	return &Messenger{api: api}
}

func (m *Messenger) Send(ctx context.Context, chatID int64, msg messaging.Message) (int, error) {
	params := &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: chatID},
		Text:      msg.Text,
		ParseMode: parseMode(msg),
	}
	if markup := replyMarkup(msg); markup != nil {
		params.ReplyMarkup = markup
	}

	sent, err := m.api.SendMessage(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("sendMessage chat=%d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (m *Messenger) Edit(ctx context.Context, chatID int64, messageID int, msg messaging.Message) error {
	_, err := m.api.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:      telego.ChatID{ID: chatID},
		MessageID:   messageID,
		Text:        msg.Text,
		ParseMode:   parseMode(msg),
		ReplyMarkup: inlineMarkup(msg.Inline),
	})
	if err != nil {
		return fmt.Errorf("editMessageText chat=%d message=%d: %w", chatID, messageID, err)
	}
	return nil
}

func (m *Messenger) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if callbackID == "" {
		return nil
	}
	return m.api.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
}

func parseMode(msg messaging.Message) string {
	if msg.HTML {
		return telego.ModeHTML
	}
	return ""
}

// replyMarkup выбирает клавиатуру сообщения. Telegram допускает только одну,
// inline-кнопки важнее меню. Без клавиатуры возвращается nil-интерфейс.
func replyMarkup(msg messaging.Message) telego.ReplyMarkup {
	if len(msg.Inline) > 0 {
		return inlineMarkup(msg.Inline)
	}
	if len(msg.Menu) > 0 {
		return menuMarkup(msg.Menu)
	}
	return nil
}

func inlineMarkup(rows [][]messaging.Button) *telego.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	keyboard := make([][]telego.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btn := telego.InlineKeyboardButton{Text: b.Text}
			if b.URL != "" {
				btn.URL = b.URL
			} else {
				btn.CallbackData = b.Data
			}
			buttons = append(buttons, btn)
		}
		keyboard = append(keyboard, buttons)
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

func menuMarkup(rows [][]string) *telego.ReplyKeyboardMarkup {
	keyboard := make([][]telego.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]telego.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, telego.KeyboardButton{Text: label})
		}
		keyboard = append(keyboard, buttons)
	}
	return &telego.ReplyKeyboardMarkup{Keyboard: keyboard, ResizeKeyboard: true}
}

var _ messaging.Messenger = (*Messenger)(nil)
