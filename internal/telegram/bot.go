package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/corvid-ai/corvid/internal/config"
	"github.com/corvid-ai/corvid/pkg/channels"
)

// RuntimeControl is the slice of the prompt runtime the bot needs for
// its control commands.
type RuntimeControl interface {
	Interrupt(sessionKey, reason string) bool
	IsSessionActive(sessionKey string) bool
}

// Bot represents a Telegram bot instance
type Bot struct {
	api     *tgbotapi.BotAPI
	config  *config.TelegramConfig
	control RuntimeControl
	logger  zerolog.Logger

	// State
	running bool
	updates tgbotapi.UpdatesChannel
}

// New creates a new Telegram bot instance
func New(cfg *config.TelegramConfig, control RuntimeControl, logger zerolog.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	if control == nil {
		return nil, fmt.Errorf("runtime control is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := &Bot{
		api:     api,
		config:  cfg,
		control: control,
		logger:  logger.With().Str("component", "telegram").Logger(),
	}

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// Name returns the channel name
func (b *Bot) Name() string {
	return "telegram"
}

// Start starts the bot and begins processing updates
func (b *Bot) Start(ctx context.Context, dispatch channels.DispatchFunc) error {
	if b.running {
		return fmt.Errorf("bot is already running")
	}

	b.logger.Info().Msg("Starting Telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	b.updates = b.api.GetUpdatesChan(u)
	b.running = true

	go b.processUpdates(ctx, dispatch)

	b.logger.Info().Msg("Telegram bot started")

	return nil
}

// Stop stops the bot
func (b *Bot) Stop(_ context.Context) error {
	if !b.running {
		return fmt.Errorf("bot is not running")
	}

	b.logger.Info().Msg("Stopping Telegram bot")

	b.running = false
	b.api.StopReceivingUpdates()

	b.logger.Info().Msg("Telegram bot stopped")

	return nil
}

// processUpdates processes incoming updates
func (b *Bot) processUpdates(ctx context.Context, dispatch channels.DispatchFunc) {
	for update := range b.updates {
		if !b.running {
			break
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := b.handleUpdate(ctx, update, dispatch); err != nil {
			b.logger.Error().
				Err(err).
				Int("update_id", update.UpdateID).
				Msg("Failed to handle update")
		}
	}
}

// handleUpdate routes an update to the appropriate handler
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update, dispatch channels.DispatchFunc) error {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return nil
	}

	if !b.allowed(msg.From) {
		b.logger.Warn().
			Int64("user_id", msg.From.ID).
			Msg("Message from user outside allowlist dropped")
		return nil
	}

	if msg.IsCommand() {
		return b.handleCommand(msg)
	}

	sessionKey := SessionKey(msg.Chat.ID)

	// Each prompt streams back into the originating chat; the final
	// reply is delivered through the messenger, not returned here.
	go func() {
		_, err := dispatch(ctx, channels.InboundMessage{
			Channel:    "telegram",
			SessionKey: sessionKey,
			Content:    msg.Text,
			Metadata: map[string]interface{}{
				"chat_id": msg.Chat.ID,
				"user_id": msg.From.ID,
			},
			Messenger: NewChatMessenger(b.api, msg.Chat.ID),
		})
		if err != nil {
			b.logger.Error().
				Err(err).
				Str("session_key", sessionKey).
				Msg("Prompt dispatch failed")
			b.sendText(msg.Chat.ID, fmt.Sprintf("Something went wrong: %v", err))
		}
	}()

	return nil
}

func (b *Bot) allowed(user *tgbotapi.User) bool {
	if user == nil {
		return false
	}
	if len(b.config.Allowlist) == 0 {
		return true
	}
	for _, id := range b.config.Allowlist {
		if id == user.ID {
			return true
		}
	}
	return false
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

// SessionKey derives the session key for a telegram chat.
func SessionKey(chatID int64) string {
	return fmt.Sprintf("telegram:%d", chatID)
}
