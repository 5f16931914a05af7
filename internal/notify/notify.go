// Package notify posts operational messages (purchases, orphaned objects) to a
// Telegram chat watched by the team.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	api    sender
	chatID int64
	log    *slog.Logger
}

// NewTelegram connects to the Bot API. It returns Nop when token or chat is unset.
func NewTelegram(token string, chatID int64, log *slog.Logger) (Notifier, error) {
	if token == "" || chatID == 0 {
		return Nop{}, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Info("telegram notifier ready", "bot", api.Self.UserName, "chat_id", chatID)
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("telegram notify failed", "err", err)
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
