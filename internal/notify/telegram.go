package notify

import (
	"context"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"recon_automation/internal/apperrors"
)

// Telegram posts outcome messages to a single chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64, timeout time.Duration) (*Telegram, error) {
	return newTelegram(token, tgbotapi.APIEndpoint, chatID, &http.Client{Timeout: timeout})
}

func newTelegram(token, endpoint string, chatID int64, client *http.Client) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, apperrors.NotificationDeliveryFailed(err, "telegram")
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NotificationDeliveryFailed(err, "telegram")
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, msg.Text())); err != nil {
		return apperrors.NotificationDeliveryFailed(err, "telegram")
	}
	return nil
}
