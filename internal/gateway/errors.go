package gateway

import "github.com/pkg/errors"

// Provider failure taxonomy. RateLimited, ProviderUnavailable and Timeout are
// transient and retried with backoff; UnknownAsset is a user input error and
// is returned immediately.
var (
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrRateLimited         = errors.New("rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrTimeout             = errors.New("request timed out")
)

func isTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrTimeout)
}
