package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	// Values below one are treated as one.
	MaxAttempts int `json:"maxAttempts,omitempty"`
	// InitialInterval is the wait after the first failure.
	InitialInterval time.Duration `json:"initialInterval,omitempty"`
	// MaxInterval caps the wait between tries.
	MaxInterval time.Duration `json:"maxInterval,omitempty"`
}

// DefaultPolicy is used for downloads and uploads unless configured otherwise.
var DefaultPolicy = Policy{
	MaxAttempts:     4,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

// Permanent wraps err so that [Do] stops retrying and returns err.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls operation until it succeeds, returns a [Permanent] error, the
// attempts are exhausted or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, operation func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0

	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}

	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}

	retries := max(p.MaxAttempts, 1) - 1

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	attempt := 0

	return backoff.RetryNotify(
		func() error {
			attempt++

			return operation()
		},
		b,
		func(err error, wait time.Duration) {
			slog.WarnContext(ctx, "operation failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.Any("err", err),
			)
		},
	)
}
