// Package filters решает, в каких чатах бот отвечает.
package filters

import (
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает личные чаты и чат администратора
// (туда приходят заявки с кнопками подтверждения).
type ChatFilter struct {
	adminChatID int64
}

func NewChatFilter(adminChatID int64) *ChatFilter {
	return &ChatFilter{adminChatID: adminChatID}
}

func (f *ChatFilter) CheckAccess(chatID int64, chatType string) bool {
	if chatType == telego.ChatTypePrivate {
		return true
	}
	if f.adminChatID != 0 && chatID == f.adminChatID {
		return true
	}

	log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   chatID,
		"chat_type": chatType,
	}).Debug("deny: not private and not admin chat")
	return false
}
