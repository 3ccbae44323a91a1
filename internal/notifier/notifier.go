package notifier

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

var (
	// ErrUserUnreachable means the user blocked the bot or deleted the chat.
	ErrUserUnreachable = errors.New("user unreachable")
	ErrTransportError  = errors.New("transport error")
)

// Notifier delivers a formatted message to a user's chat session.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Telegram sends MarkdownV2 messages through the bot API.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	return &Telegram{bot: bot}
}

// Send delivers one message. The bot API client has no context support, so the
// call runs in a goroutine and the context bounds how long we wait for it.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return errors.Wrap(ErrTransportError, ctx.Err().Error())
	case err := <-done:
		if err == nil {
			return nil
		}
		if isBlocked(err) {
			return errors.Wrapf(ErrUserUnreachable, "chat %d: %v", chatID, err)
		}
		return errors.Wrapf(ErrTransportError, "chat %d: %v", chatID, err)
	}
}

func isBlocked(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "bot was blocked") ||
		strings.Contains(msg, "user is deactivated") ||
		strings.Contains(msg, "chat not found")
}
