package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// Retry calls fn until it reports done or returns an error. It waits interval
// between attempts and gives up after maxAttempts calls (0 means no limit).
func Retry(
	ctx context.Context, interval time.Duration, maxAttempts int,
	fn func(ctx context.Context) (bool, error),
) error {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out")
			}
			return ctx.Err()
		default:
		}

		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
