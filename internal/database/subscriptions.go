package database

import (
	"strings"

	"crypto-alert-telegram-bot/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// GetProfile returns the user's profile with all subscriptions, creating the
// profile row lazily on first interaction.
func (s *Store) GetProfile(chatID int64) (types.UserProfile, error) {
	profile := types.UserProfile{ChatID: chatID}

	tx, err := s.db.Begin()
	if err != nil {
		return profile, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO users (chat_id) VALUES (?);`, chatID); err != nil {
		return profile, errors.Wrap(err, "failed to create user")
	}

	var notifications int
	err = tx.QueryRow(
		`SELECT default_currency, notifications, created_at FROM users WHERE chat_id = ?;`, chatID,
	).Scan(&profile.DefaultCurrency, &notifications, &profile.CreatedAt)
	if err != nil {
		return profile, errors.Wrap(err, "failed to load user")
	}
	profile.Notifications = notifications != 0

	rows, err := tx.Query(
		`SELECT coin, currency, threshold, reference_price, created_at
		 FROM subscriptions WHERE chat_id = ? ORDER BY created_at;`, chatID)
	if err != nil {
		return profile, errors.Wrap(err, "failed to query subscriptions")
	}
	defer rows.Close()

	for rows.Next() {
		var sub types.Subscription
		if err := rows.Scan(&sub.Coin, &sub.Currency, &sub.Threshold, &sub.ReferencePrice, &sub.CreatedAt); err != nil {
			return profile, errors.Wrap(err, "failed to scan subscription")
		}
		profile.Subscriptions = append(profile.Subscriptions, sub)
	}
	if err := rows.Err(); err != nil {
		return profile, errors.Wrap(err, "failed to iterate subscriptions")
	}

	if err := tx.Commit(); err != nil {
		return profile, errors.Wrap(err, "failed to commit")
	}
	return profile, nil
}

// UpsertSubscription creates or replaces the (coin, currency) subscription for
// the user. The reference price is reset to the given current price either way.
func (s *Store) UpsertSubscription(chatID int64, coin, currency string, threshold, referencePrice float64) (types.Subscription, error) {
	var sub types.Subscription

	if threshold < s.minThreshold || threshold > s.maxThreshold {
		return sub, errors.Wrapf(ErrThresholdOutOfRange, "%.4f not in [%.3f, %.2f]", threshold, s.minThreshold, s.maxThreshold)
	}
	if referencePrice <= 0 {
		return sub, errors.Errorf("reference price must be positive, got %f", referencePrice)
	}

	coin = strings.ToLower(strings.TrimSpace(coin))
	currency = strings.ToLower(strings.TrimSpace(currency))

	tx, err := s.db.Begin()
	if err != nil {
		return sub, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO users (chat_id) VALUES (?);`, chatID); err != nil {
		return sub, errors.Wrap(err, "failed to create user")
	}

	_, err = tx.Exec(`
	INSERT INTO subscriptions (chat_id, coin, currency, threshold, reference_price)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (chat_id, coin, currency)
	DO UPDATE SET threshold = excluded.threshold, reference_price = excluded.reference_price;`,
		chatID, coin, currency, threshold, referencePrice)
	if err != nil {
		return sub, errors.Wrap(err, "failed to upsert subscription")
	}

	err = tx.QueryRow(
		`SELECT coin, currency, threshold, reference_price, created_at
		 FROM subscriptions WHERE chat_id = ? AND coin = ? AND currency = ?;`,
		chatID, coin, currency,
	).Scan(&sub.Coin, &sub.Currency, &sub.Threshold, &sub.ReferencePrice, &sub.CreatedAt)
	if err != nil {
		return sub, errors.Wrap(err, "failed to read back subscription")
	}

	if err := tx.Commit(); err != nil {
		return sub, errors.Wrap(err, "failed to commit")
	}

	log.Debugf("subscription saved: chat=%d %s/%s threshold=%.4f ref=%f", chatID, coin, currency, threshold, referencePrice)
	return sub, nil
}

// RemoveSubscription deletes one subscription. Returns false when it did not exist.
func (s *Store) RemoveSubscription(chatID int64, coin, currency string) (bool, error) {
	res, err := s.db.Exec(
		`DELETE FROM subscriptions WHERE chat_id = ? AND coin = ? AND currency = ?;`,
		chatID, strings.ToLower(strings.TrimSpace(coin)), strings.ToLower(strings.TrimSpace(currency)))
	if err != nil {
		return false, errors.Wrap(err, "failed to delete subscription")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n > 0, nil
}

// ClearSubscriptions removes every subscription the user has.
func (s *Store) ClearSubscriptions(chatID int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM subscriptions WHERE chat_id = ?;`, chatID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear subscriptions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return n, nil
}

// ListAll returns a snapshot of every subscription across all users. The whole
// result comes from a single query, so the engine never observes a record half
// updated by a concurrent command.
func (s *Store) ListAll() ([]types.UserSubscription, error) {
	rows, err := s.db.Query(`
	SELECT s.chat_id, u.notifications, s.coin, s.currency, s.threshold, s.reference_price, s.created_at
	FROM subscriptions s JOIN users u ON u.chat_id = s.chat_id
	ORDER BY s.chat_id, s.coin, s.currency;`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query subscriptions")
	}
	defer rows.Close()

	var all []types.UserSubscription
	for rows.Next() {
		var entry types.UserSubscription
		var notifications int
		if err := rows.Scan(&entry.ChatID, &notifications, &entry.Coin, &entry.Currency,
			&entry.Threshold, &entry.ReferencePrice, &entry.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan subscription")
		}
		entry.Notifications = notifications != 0
		all = append(all, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate subscriptions")
	}
	return all, nil
}

// UpdateReferencePrice moves the subscription's baseline to the fired price.
func (s *Store) UpdateReferencePrice(chatID int64, coin, currency string, price float64) error {
	if price <= 0 {
		return errors.Errorf("reference price must be positive, got %f", price)
	}
	_, err := s.db.Exec(
		`UPDATE subscriptions SET reference_price = ? WHERE chat_id = ? AND coin = ? AND currency = ?;`,
		price, chatID, coin, currency)
	return errors.Wrap(err, "failed to update reference price")
}

// UpdateThresholds sets a new threshold on all of the user's subscriptions.
func (s *Store) UpdateThresholds(chatID int64, threshold float64) (int64, error) {
	if threshold < s.minThreshold || threshold > s.maxThreshold {
		return 0, errors.Wrapf(ErrThresholdOutOfRange, "%.4f not in [%.3f, %.2f]", threshold, s.minThreshold, s.maxThreshold)
	}
	res, err := s.db.Exec(`UPDATE subscriptions SET threshold = ? WHERE chat_id = ?;`, threshold, chatID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to update thresholds")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return n, nil
}

func (s *Store) SetDefaultCurrency(chatID int64, currency string) error {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return errors.New("currency must not be empty")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO users (chat_id) VALUES (?);`, chatID); err != nil {
		return errors.Wrap(err, "failed to create user")
	}
	if _, err := tx.Exec(`UPDATE users SET default_currency = ? WHERE chat_id = ?;`, currency, chatID); err != nil {
		return errors.Wrap(err, "failed to set default currency")
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}

func (s *Store) SetNotifications(chatID int64, enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO users (chat_id) VALUES (?);`, chatID); err != nil {
		return errors.Wrap(err, "failed to create user")
	}
	if _, err := tx.Exec(`UPDATE users SET notifications = ? WHERE chat_id = ?;`, value, chatID); err != nil {
		return errors.Wrap(err, "failed to set notifications")
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}
