package kv

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
)

const DefaultMaxRetries = 100

// retry runs attempt until it commits, fails with something other than
// core.ErrConflict, or the retry budget is spent.
func retry(ctx context.Context, maxRetries int, onRetry func(), attempt func(ctx context.Context) error) error {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	for i := 0; ; i++ {
		err := attempt(ctx)
		if err == nil || !errors.Is(err, core.ErrConflict) {
			return err
		}
		if i >= maxRetries {
			return fmt.Errorf("%w after %d attempts", core.ErrTooManyRetries, i+1)
		}
		if onRetry != nil {
			onRetry()
		}
		if err := sleep(ctx, backoff(i)); err != nil {
			return err
		}
	}
}

func backoff(attempt int) time.Duration {
	base := time.Duration(1<<min(attempt, 6)) * 100 * time.Microsecond
	return base + rand.N(base)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
