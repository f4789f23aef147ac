package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"kama-scannerv1/internal/model"
)

// TelegramNotifier sends signals to a chat via the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier authenticates the bot (getMe) and returns a notifier
// posting to chatID.
func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	return newTelegramNotifier(botToken, chatID, tgbotapi.APIEndpoint)
}

func newTelegramNotifier(botToken string, chatID int64, endpoint string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Publish(ctx context.Context, sig model.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	emoji := "🟢"
	if sig.Action == model.ActionSell {
		emoji = "🔴"
	}
	text := emoji + " " + tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, FormatSignal(sig))

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}
