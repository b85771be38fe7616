package batch

import (
	"context"
	"time"

	"github.com/3leaps/goharvest/pkg/sink"
)

// retryWrite retries op with exponential backoff while it returns a
// non-fatal error. attempts <= 1 disables retries.
func retryWrite(ctx context.Context, attempts int, baseDelay time.Duration, op func() (int, error)) (int, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		n   int
		err error
	)
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		n, err = op()
		if err == nil || sink.IsFatal(err) || attempt == attempts {
			return n, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return n, err
		case <-timer.C:
		}
		delay *= 2
	}
	return n, err
}
