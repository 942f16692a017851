package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// handleCommand processes bot commands
func (b *Bot) handleCommand(msg *tgbotapi.Message) error {
	sessionKey := SessionKey(msg.Chat.ID)
	command := msg.Command()

	b.logger.Debug().
		Int64("chat_id", msg.Chat.ID).
		Str("command", command).
		Msg("Command received")

	switch command {
	case "start", "help":
		b.sendText(msg.Chat.ID,
			"Send me a message and I'll reply.\n"+
				"/stop — interrupt the current reply\n"+
				"/status — show whether I'm working on something")
		return nil

	case "stop":
		if b.control.Interrupt(sessionKey, "user requested stop") {
			b.sendText(msg.Chat.ID, "Stopped.")
		} else {
			b.sendText(msg.Chat.ID, "Nothing is running right now.")
		}
		return nil

	case "status":
		if b.control.IsSessionActive(sessionKey) {
			b.sendText(msg.Chat.ID, "Working on your last message.")
		} else {
			b.sendText(msg.Chat.ID, "Idle.")
		}
		return nil

	default:
		b.sendText(msg.Chat.ID, fmt.Sprintf("Unknown command: /%s", command))
		return nil
	}
}
