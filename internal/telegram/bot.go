package telegram

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"crypto-alert-telegram-bot/internal/database"
	"crypto-alert-telegram-bot/internal/gateway"
	"crypto-alert-telegram-bot/internal/types"
	"crypto-alert-telegram-bot/lib/helpers"
	"crypto-alert-telegram-bot/lib/translation"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const commandTimeout = 15 * time.Second

// The provider batches any number of ids, the cap keeps replies readable.
const maxPricesPerRequest = 10

// NewBot creates new telegram bot
func NewBot(c BotConfig, store *database.Store, gw Gateway) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return &Bot{
		Bot:     bot,
		Config:  c,
		store:   store,
		gateway: gw,
	}, nil
}

// GetUpdatesChannel gets new updates
func (b *Bot) GetUpdatesChannel() (tgbotapi.UpdatesChannel, error) {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	return b.Bot.GetUpdatesChan(updatesConfig), nil
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	msg.ParseMode = "MarkdownV2"
	_, err := b.Bot.Send(msg)
	return errors.Wrapf(err, "could not send message to chat %d", m.ChatID)
}

// HandleUpdate processes a Telegram update and returns the reply text.
func (b *Bot) HandleUpdate(u tgbotapi.Update) string {
	chatID := u.Message.Chat.ID
	args := strings.Fields(u.Message.CommandArguments())
	log.Debugf("received command: %s from chat %d", u.Message.Command(), chatID)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch u.Message.Command() {
	case "start", "help":
		return b.helpText()
	case "price", "p":
		return b.handlePrice(ctx, chatID, args)
	case "prices":
		return b.handlePrices(ctx, chatID, args)
	case "currencies":
		return b.handleCurrencies()
	case "add":
		return b.handleAdd(ctx, chatID, args)
	case "remove":
		return b.handleRemove(chatID, args)
	case "list":
		return b.handleList(chatID)
	case "clear":
		return b.handleClear(chatID)
	case "setcurrency":
		return b.handleSetCurrency(chatID, args)
	case "threshold":
		return b.handleThreshold(chatID, args)
	case "mute":
		return b.handleNotifications(chatID, false)
	case "unmute":
		return b.handleNotifications(chatID, true)
	case "backup":
		return b.handleBackup(chatID)
	}

	return b.helpText()
}

func (b *Bot) helpText() string {
	return helpers.EscapeMarkdownV2(translation.Translate(
		"Commands:\n" +
			"/price <coin> [currency] - current price\n" +
			"/prices <coin> <coin>... [currency] - several prices at once\n" +
			"/currencies - supported currencies\n" +
			"/add <coin> [currency] [threshold%] - watch a coin\n" +
			"/remove <coin> [currency] - stop watching a coin\n" +
			"/list - your watched coins\n" +
			"/clear - remove all watched coins\n" +
			"/setcurrency <currency> - default currency\n" +
			"/threshold <percent> - update all your thresholds\n" +
			"/mute, /unmute - pause or resume alerts"))
}

func (b *Bot) handlePrice(ctx context.Context, chatID int64, args []string) string {
	if len(args) < 1 {
		return helpers.EscapeMarkdownV2(translation.Translate("Usage: /price <coin> [currency]"))
	}
	coin := strings.ToLower(args[0])
	currency := b.userCurrency(chatID)
	if len(args) > 1 {
		currency = strings.ToLower(args[1])
	}

	quote, err := b.gateway.FetchPrice(ctx, coin, currency)
	if err != nil {
		return b.lookupErrorText(coin, err)
	}

	return fmt.Sprintf("*%s*: %s%s",
		helpers.EscapeMarkdownV2(coin),
		helpers.EscapeMarkdownV2(helpers.CurrencySymbol(currency)),
		helpers.FormatPriceUS(quote.Price, true))
}

func (b *Bot) handlePrices(ctx context.Context, chatID int64, args []string) string {
	if len(args) < 1 {
		return helpers.EscapeMarkdownV2(translation.Translate("Usage: /prices <coin> <coin>... [currency]"))
	}

	currency := b.userCurrency(chatID)
	coins := args
	if len(args) > 1 {
		if last := strings.ToLower(args[len(args)-1]); helpers.IsSupportedCurrency(last) {
			currency = last
			coins = args[:len(args)-1]
		}
	}
	if len(coins) > maxPricesPerRequest {
		return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("At most %d coins per request"), maxPricesPerRequest))
	}

	pairs := make([]types.Pair, 0, len(coins))
	for _, coin := range coins {
		pairs = append(pairs, types.Pair{Coin: strings.ToLower(coin), Currency: currency})
	}

	quotes, err := b.gateway.FetchPrices(ctx, pairs)
	if err != nil {
		return b.lookupErrorText(strings.Join(coins, ", "), err)
	}

	symbol := helpers.CurrencySymbol(currency)
	var list strings.Builder
	list.WriteString(helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Prices in %s:"), strings.ToUpper(currency))) + "\n")
	for _, pair := range pairs {
		quote, ok := quotes[pair]
		if !ok {
			list.WriteString(fmt.Sprintf("▫️ *%s*: %s\n",
				helpers.EscapeMarkdownV2(pair.Coin),
				helpers.EscapeMarkdownV2(translation.Translate("price unavailable"))))
			continue
		}
		list.WriteString(fmt.Sprintf("▫️ *%s*: %s%s\n",
			helpers.EscapeMarkdownV2(pair.Coin),
			helpers.EscapeMarkdownV2(symbol),
			helpers.FormatPriceUS(quote.Price, true)))
	}
	return list.String()
}

func (b *Bot) handleCurrencies() string {
	var list strings.Builder
	list.WriteString(helpers.EscapeMarkdownV2(translation.Translate("Supported currencies:")) + "\n")
	for _, code := range helpers.SupportedCurrencies() {
		list.WriteString(fmt.Sprintf("▫️ %s %s\n",
			helpers.EscapeMarkdownV2(strings.ToUpper(code)),
			helpers.EscapeMarkdownV2(strings.TrimSpace(helpers.CurrencySymbol(code)))))
	}
	list.WriteString(helpers.EscapeMarkdownV2(translation.Translate("Set yours with /setcurrency")))
	return list.String()
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args []string) string {
	if len(args) < 1 {
		return helpers.EscapeMarkdownV2(translation.Translate("Usage: /add <coin> [currency] [threshold%]"))
	}
	coin := strings.ToLower(args[0])
	currency := b.userCurrency(chatID)
	threshold := b.Config.DefaultThreshold

	rest := args[1:]
	if len(rest) > 0 && !looksLikeThreshold(rest[0]) {
		currency = strings.ToLower(rest[0])
		rest = rest[1:]
	}
	if len(rest) > 0 {
		value, err := parseThreshold(rest[0])
		if err != nil {
			return helpers.EscapeMarkdownV2(translation.Translate("Invalid threshold, use a percent like 5 or 2.5%"))
		}
		threshold = value
	}

	// The current price becomes the subscription's first reference price.
	quote, err := b.gateway.FetchPrice(ctx, coin, currency)
	if err != nil {
		return b.lookupErrorText(coin, err)
	}

	sub, err := b.store.UpsertSubscription(chatID, coin, currency, threshold, quote.Price)
	if err != nil {
		if errors.Is(err, database.ErrThresholdOutOfRange) {
			return b.thresholdRangeText()
		}
		log.Errorf("failed to save subscription for chat %d: %v", chatID, err)
		return helpers.EscapeMarkdownV2(translation.Translate("Could not save the alert, please try again later"))
	}

	return fmt.Sprintf(
		helpers.EscapeMarkdownV2(translation.Translate("Watching %s/%s: alert on %s%% moves from %s%s")),
		helpers.EscapeMarkdownV2(sub.Coin),
		helpers.EscapeMarkdownV2(strings.ToUpper(sub.Currency)),
		helpers.EscapeMarkdownV2(helpers.FormatPercentage(sub.Threshold)),
		helpers.EscapeMarkdownV2(helpers.CurrencySymbol(sub.Currency)),
		helpers.FormatPriceUS(sub.ReferencePrice, true))
}

func (b *Bot) handleRemove(chatID int64, args []string) string {
	if len(args) < 1 {
		return helpers.EscapeMarkdownV2(translation.Translate("Usage: /remove <coin> [currency]"))
	}
	coin := strings.ToLower(args[0])
	currency := b.userCurrency(chatID)
	if len(args) > 1 {
		currency = strings.ToLower(args[1])
	}

	removed, err := b.store.RemoveSubscription(chatID, coin, currency)
	if err != nil {
		log.Errorf("failed to remove subscription for chat %d: %v", chatID, err)
		return helpers.EscapeMarkdownV2(translation.Translate("Could not remove the alert, please try again later"))
	}
	if !removed {
		return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("You are not watching %s/%s"), coin, strings.ToUpper(currency)))
	}
	return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Stopped watching %s/%s"), coin, strings.ToUpper(currency)))
}

func (b *Bot) handleList(chatID int64) string {
	profile, err := b.store.GetProfile(chatID)
	if err != nil {
		log.Errorf("failed to load profile for chat %d: %v", chatID, err)
		return helpers.EscapeMarkdownV2(translation.Translate("Could not load your alerts, please try again later"))
	}
	if len(profile.Subscriptions) == 0 {
		return helpers.EscapeMarkdownV2(translation.Translate("You have no active alerts, add one with /add"))
	}

	var list strings.Builder
	list.WriteString(helpers.EscapeMarkdownV2(translation.Translate("Your alerts:")) + "\n")
	for _, sub := range profile.Subscriptions {
		list.WriteString(fmt.Sprintf("▫️ *%s/%s* — %s%% from %s%s, added %s\n",
			helpers.EscapeMarkdownV2(sub.Coin),
			helpers.EscapeMarkdownV2(strings.ToUpper(sub.Currency)),
			helpers.EscapeMarkdownV2(helpers.FormatPercentage(sub.Threshold)),
			helpers.EscapeMarkdownV2(helpers.CurrencySymbol(sub.Currency)),
			helpers.FormatPriceUS(sub.ReferencePrice, true),
			helpers.EscapeMarkdownV2(helpers.FormatAge(sub.CreatedAt))))
	}
	return list.String()
}

func (b *Bot) handleClear(chatID int64) string {
	n, err := b.store.ClearSubscriptions(chatID)
	if err != nil {
		log.Errorf("failed to clear subscriptions for chat %d: %v", chatID, err)
		return helpers.EscapeMarkdownV2(translation.Translate("Could not clear your alerts, please try again later"))
	}
	return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Removed %d alerts"), n))
}

func (b *Bot) handleSetCurrency(chatID int64, args []string) string {
	if len(args) < 1 {
		return helpers.EscapeMarkdownV2(translation.Translate("Usage: /setcurrency <currency>"))
	}
	currency := strings.ToLower(args[0])
	if err := b.store.SetDefaultCurrency(chatID, currency); err != nil {
		log.Errorf("failed to set currency for chat %d: %v", chatID, err)
		return helpers.EscapeMarkdownV2(translation.Translate("Could not save your currency, please try again later"))
	}
	return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Default currency set to %s"), strings.ToUpper(currency)))
}

func (b *Bot) handleThreshold(chatID int64, args []string) string {
	if len(args) < 1 {
		return helpers.EscapeMarkdownV2(translation.Translate("Usage: /threshold <percent>"))
	}
	value, err := parseThreshold(args[0])
	if err != nil {
		return helpers.EscapeMarkdownV2(translation.Translate("Invalid threshold, use a percent like 5 or 2.5%"))
	}

	n, err := b.store.UpdateThresholds(chatID, value)
	if err != nil {
		if errors.Is(err, database.ErrThresholdOutOfRange) {
			return b.thresholdRangeText()
		}
		log.Errorf("failed to update thresholds for chat %d: %v", chatID, err)
		return helpers.EscapeMarkdownV2(translation.Translate("Could not update your thresholds"))
	}
	return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Threshold set to %s%% on %d alerts"), helpers.FormatPercentage(value), n))
}

func (b *Bot) handleNotifications(chatID int64, enabled bool) string {
	if err := b.store.SetNotifications(chatID, enabled); err != nil {
		log.Errorf("failed to set notifications for chat %d: %v", chatID, err)
		return helpers.EscapeMarkdownV2(translation.Translate("Could not update your settings, please try again later"))
	}
	if enabled {
		return helpers.EscapeMarkdownV2(translation.Translate("Alerts resumed"))
	}
	return helpers.EscapeMarkdownV2(translation.Translate("Alerts paused, resume with /unmute"))
}

func (b *Bot) handleBackup(chatID int64) string {
	if b.Config.AdminChatID == 0 || chatID != b.Config.AdminChatID {
		return b.helpText()
	}

	path := filepath.Join(b.Config.BackupDir, fmt.Sprintf("backup_%s.db", time.Now().Format("20060102_150405")))
	if err := b.store.Backup(path); err != nil {
		log.Errorf("backup failed: %v", err)
		return helpers.EscapeMarkdownV2(translation.Translate("Backup failed, check the logs"))
	}
	return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Backup written to %s"), path))
}

func (b *Bot) thresholdRangeText() string {
	min, max := b.store.ThresholdRange()
	return helpers.EscapeMarkdownV2(fmt.Sprintf(
		translation.Translate("Threshold must be between %s%% and %s%%"),
		helpers.FormatPercentage(min), helpers.FormatPercentage(max)))
}

func (b *Bot) userCurrency(chatID int64) string {
	profile, err := b.store.GetProfile(chatID)
	if err != nil || profile.DefaultCurrency == "" {
		return b.Config.DefaultCurrency
	}
	return profile.DefaultCurrency
}

func (b *Bot) lookupErrorText(coin string, err error) string {
	switch {
	case errors.Is(err, gateway.ErrUnknownAsset):
		return helpers.EscapeMarkdownV2(fmt.Sprintf(translation.Translate("Coin %q not found, use its full id (e.g. bitcoin)"), coin))
	case errors.Is(err, gateway.ErrRateLimited):
		return helpers.EscapeMarkdownV2(translation.Translate("The price service is busy right now, please try again in a minute"))
	default:
		log.Errorf("price lookup failed for %s: %v", coin, err)
		return helpers.EscapeMarkdownV2(translation.Translate("The price service is unavailable, please try again later"))
	}
}

func looksLikeThreshold(arg string) bool {
	arg = strings.TrimSuffix(arg, "%")
	_, err := strconv.ParseFloat(arg, 64)
	return err == nil
}

// parseThreshold turns a user percent ("5", "2.5%") into a fraction.
func parseThreshold(arg string) (float64, error) {
	arg = strings.TrimSuffix(strings.TrimSpace(arg), "%")
	percent, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, errors.Wrap(err, "invalid threshold")
	}
	return percent / 100, nil
}
