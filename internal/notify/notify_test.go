package notify

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/pawstudio/pkg/logger"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotify(t *testing.T) {
	fake := &fakeSender{}
	n := &Telegram{api: fake, chatID: -100123, log: logger.Discard()}

	require.NoError(t, n.Notify(context.Background(), "purchase: 10 credits"))
	require.Len(t, fake.sent, 1)
	assert.EqualValues(t, -100123, fake.sent[0].ChatID)
	assert.Equal(t, "purchase: 10 credits", fake.sent[0].Text)
}

func TestTelegramNotifyError(t *testing.T) {
	n := &Telegram{api: &fakeSender{err: errors.New("flood")}, chatID: 1, log: logger.Discard()}
	assert.Error(t, n.Notify(context.Background(), "x"))
}

func TestNewTelegramWithoutSettingsIsNop(t *testing.T) {
	n, err := NewTelegram("", 0, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Notify(context.Background(), "ignored"))
}
