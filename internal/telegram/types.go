package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"crypto-alert-telegram-bot/internal/database"
	"crypto-alert-telegram-bot/internal/types"
)

// BotConfig configuration of the bot
type BotConfig struct {
	Token            string
	Debug            bool
	UpdatesTimeout   int
	AdminChatID      int64
	DefaultCurrency  string
	DefaultThreshold float64
	BackupDir        string
}

// Gateway is the slice of the price gateway the command handlers need.
type Gateway interface {
	FetchPrice(ctx context.Context, coin, currency string) (types.PriceQuote, error)
	FetchPrices(ctx context.Context, pairs []types.Pair) (map[types.Pair]types.PriceQuote, error)
}

// Bot telegram interaction client
type Bot struct {
	Bot     *tgbotapi.BotAPI
	Config  BotConfig
	store   *database.Store
	gateway Gateway
}

// Message a telegram message struct
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
}
