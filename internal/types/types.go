package types

import "time"

// Pair identifies a coin quoted in a fiat currency. Comparable, used as a map key.
type Pair struct {
	Coin     string `json:"coin"`
	Currency string `json:"currency"`
}

type Subscription struct {
	Coin           string  `json:"coin"`
	Currency       string  `json:"currency"`
	Threshold      float64 `json:"threshold"` // fraction, e.g. 0.05 for 5%
	ReferencePrice float64 `json:"reference_price"`
	CreatedAt      string  `json:"created_at"`
}

func (s Subscription) Pair() Pair {
	return Pair{Coin: s.Coin, Currency: s.Currency}
}

type UserProfile struct {
	ChatID          int64          `json:"chat_id"`
	DefaultCurrency string         `json:"default_currency"`
	Notifications   bool           `json:"notifications"`
	CreatedAt       string         `json:"created_at"`
	Subscriptions   []Subscription `json:"subscriptions"`
}

// UserSubscription is one row of the engine's evaluation snapshot.
type UserSubscription struct {
	ChatID        int64 `json:"chat_id"`
	Notifications bool  `json:"notifications"`
	Subscription
}

// PriceQuote is a freshly fetched price. Ephemeral, never persisted.
type PriceQuote struct {
	Coin      string    `json:"coin"`
	Currency  string    `json:"currency"`
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
}
