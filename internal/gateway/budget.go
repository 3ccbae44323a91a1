package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Budget enforces the provider's call ceilings shared by every caller in the
// process. The minute window defers callers until it rolls over; the month
// window cannot reasonably block for weeks, so exhausting it fails the call
// with ErrRateLimited and the engine skips the cycle instead.
type Budget struct {
	mu         sync.Mutex
	minute     *rate.Limiter
	perMonth   int
	monthCount int
	monthKey   string

	now func() time.Time
}

func NewBudget(perMinute, perMonth int) *Budget {
	return newBudget(perMinute, perMonth, time.Minute)
}

func newBudget(perMinute, perMonth int, window time.Duration) *Budget {
	if perMinute < 1 {
		perMinute = 1
	}
	if perMonth < 1 {
		perMonth = 1
	}
	return &Budget{
		minute:   rate.NewLimiter(rate.Every(window/time.Duration(perMinute)), perMinute),
		perMonth: perMonth,
		now:      time.Now,
	}
}

// Acquire reserves one provider call, blocking until the minute window allows
// it. The caller must hold the reservation for exactly one outbound request.
func (b *Budget) Acquire(ctx context.Context) error {
	b.mu.Lock()
	key := b.now().Format("2006-01")
	if key != b.monthKey {
		if b.monthKey != "" {
			log.Infof("rate budget month window rolled over to %s after %d calls", key, b.monthCount)
		}
		b.monthKey = key
		b.monthCount = 0
	}
	if b.monthCount >= b.perMonth {
		b.mu.Unlock()
		return errors.Wrapf(ErrRateLimited, "monthly call budget of %d exhausted", b.perMonth)
	}
	b.monthCount++
	b.mu.Unlock()

	if err := b.minute.Wait(ctx); err != nil {
		// The call never went out, give the month slot back.
		b.mu.Lock()
		b.monthCount--
		b.mu.Unlock()
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return nil
}

// MonthRemaining reports how many calls are left in the current month window.
func (b *Budget) MonthRemaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Format("2006-01") != b.monthKey {
		return b.perMonth
	}
	return b.perMonth - b.monthCount
}
