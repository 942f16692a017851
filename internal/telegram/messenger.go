package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatMessenger delivers streamed output into a single telegram chat
// by sending a message and then editing it in place.
type ChatMessenger struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewChatMessenger creates a messenger bound to one chat.
func NewChatMessenger(api *tgbotapi.BotAPI, chatID int64) *ChatMessenger {
	return &ChatMessenger{api: api, chatID: chatID}
}

// Send posts a new message and returns its id.
func (m *ChatMessenger) Send(_ context.Context, text string) (string, error) {
	msg := tgbotapi.NewMessage(m.chatID, text)
	sent, err := m.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// Edit replaces the text of a previously sent message.
func (m *ChatMessenger) Edit(_ context.Context, messageID, text string) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", messageID, err)
	}

	edit := tgbotapi.NewEditMessageText(m.chatID, id, text)
	if _, err := m.api.Send(edit); err != nil {
		// Telegram rejects edits that do not change the text.
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}
