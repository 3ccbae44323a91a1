package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crypto-alert-telegram-bot/internal/types"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"

	// The provider accepts up to 250 ids per /simple/price call.
	maxIDsPerCall = 250
)

// Client fetches prices from the provider under the shared rate budget.
type Client struct {
	httpClient *http.Client
	baseURL    string
	budget     *Budget
	group      singleflight.Group

	// Backoff for transient provider failures: 3 attempts, 1s base, 2x growth.
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	callsTotal  prometheus.Counter
	errorsTotal prometheus.Counter
}

func New(budget *Budget, timeout time.Duration) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     defaultBaseURL,
		budget:      budget,
		maxAttempts: 3,
		baseDelay:   1 * time.Second,
		maxDelay:    8 * time.Second,
	}
}

// SetCounters attaches optional provider call counters.
func (c *Client) SetCounters(calls, errs prometheus.Counter) {
	c.callsTotal = calls
	c.errorsTotal = errs
}

// FetchPrice returns the current quote for one pair. Concurrent lookups of the
// same pair are coalesced into a single provider call, so duplicate requests
// queued behind the rate budget cost one call.
func (c *Client) FetchPrice(ctx context.Context, coin, currency string) (types.PriceQuote, error) {
	coin = strings.ToLower(strings.TrimSpace(coin))
	currency = strings.ToLower(strings.TrimSpace(currency))

	v, err, _ := c.group.Do(coin+"/"+currency, func() (interface{}, error) {
		prices, err := c.fetchChunk(ctx, []string{coin}, currency)
		if err != nil {
			return nil, err
		}
		price, ok := prices[coin]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownAsset, "%s/%s", coin, currency)
		}
		return types.PriceQuote{Coin: coin, Currency: currency, Price: price, FetchedAt: time.Now()}, nil
	})
	if err != nil {
		return types.PriceQuote{}, err
	}
	return v.(types.PriceQuote), nil
}

// FetchPrices batches the distinct pair set into the fewest provider calls:
// one call per currency per 250 coins. Pairs whose call failed or whose coin
// the provider does not know are absent from the result; the error is non-nil
// only when every call failed.
func (c *Client) FetchPrices(ctx context.Context, pairs []types.Pair) (map[types.Pair]types.PriceQuote, error) {
	byCurrency := make(map[string][]string)
	seen := make(map[types.Pair]bool)
	for _, p := range pairs {
		p.Coin = strings.ToLower(strings.TrimSpace(p.Coin))
		p.Currency = strings.ToLower(strings.TrimSpace(p.Currency))
		if seen[p] {
			continue
		}
		seen[p] = true
		byCurrency[p.Currency] = append(byCurrency[p.Currency], p.Coin)
	}

	quotes := make(map[types.Pair]types.PriceQuote)
	var lastErr error
	failed := 0
	calls := 0

	for currency, coins := range byCurrency {
		for start := 0; start < len(coins); start += maxIDsPerCall {
			end := start + maxIDsPerCall
			if end > len(coins) {
				end = len(coins)
			}
			chunk := coins[start:end]
			calls++

			prices, err := c.fetchChunk(ctx, chunk, currency)
			if err != nil {
				log.Warnf("price fetch failed for %d %s pairs: %v", len(chunk), currency, err)
				lastErr = err
				failed++
				continue
			}

			fetchedAt := time.Now()
			for _, coin := range chunk {
				price, ok := prices[coin]
				if !ok {
					log.Debugf("provider returned no price for %s/%s", coin, currency)
					continue
				}
				quotes[types.Pair{Coin: coin, Currency: currency}] = types.PriceQuote{
					Coin:      coin,
					Currency:  currency,
					Price:     price,
					FetchedAt: fetchedAt,
				}
			}
		}
	}

	if failed == calls && lastErr != nil {
		return nil, lastErr
	}
	return quotes, nil
}

// fetchChunk performs one logical provider call with bounded exponential
// backoff. Every attempt that actually goes out consumes one budget slot.
func (c *Client) fetchChunk(ctx context.Context, coins []string, currency string) (map[string]float64, error) {
	var lastErr error
	delay := c.baseDelay

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			log.Warnf("retrying price fetch (attempt %d/%d) in %s: %v", attempt+1, c.maxAttempts, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ErrTimeout, ctx.Err().Error())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.budget.Acquire(ctx); err != nil {
			return nil, err
		}

		prices, err := c.doRequest(ctx, coins, currency)
		if err == nil {
			log.Debugf("provider call ok, %d calls left in month budget", c.budget.MonthRemaining())
			return prices, nil
		}
		if c.errorsTotal != nil {
			c.errorsTotal.Inc()
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, errors.Wrapf(ErrProviderUnavailable, "%d attempts failed, last: %v", c.maxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, coins []string, currency string) (map[string]float64, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		c.baseURL, url.QueryEscape(strings.Join(coins, ",")), url.QueryEscape(currency))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	if c.callsTotal != nil {
		c.callsTotal.Inc()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, errors.Wrap(ErrTimeout, err.Error())
		}
		return nil, errors.Wrap(ErrProviderUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Wrap(ErrRateLimited, "provider returned 429")
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Wrapf(ErrUnknownAsset, "provider returned 404 for %s", strings.Join(coins, ","))
	case resp.StatusCode >= 500:
		return nil, errors.Wrapf(ErrProviderUnavailable, "provider returned %d", resp.StatusCode)
	default:
		return nil, errors.Wrapf(ErrProviderUnavailable, "unexpected status %d", resp.StatusCode)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(ErrProviderUnavailable, err.Error())
	}

	prices := make(map[string]float64, len(payload))
	for coin, byCurrency := range payload {
		if price, ok := byCurrency[currency]; ok {
			prices[coin] = price
		}
	}
	return prices, nil
}
