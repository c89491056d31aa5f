package notify

import (
	"context"
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSink sends notifications to one chat through the Bot API.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink wraps an authenticated bot.
func NewTelegramSink(bot *tgbotapi.BotAPI, chatID int64) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID}
}

// DialTelegram authenticates token against the public Bot API.
func DialTelegram(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewTelegramSink(bot, chatID), nil
}

// Notify implements Sink. The Bot API client does not take a context, so
// cancellation is only checked before sending.
func (t *TelegramSink) Notify(ctx context.Context, id string, account json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, Message(id, account))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}
