package compensation

import (
	"context"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs op up to maxAttempts times, waiting initialDelay*2^(n-1) after
// the nth failed attempt. The last error from op is returned as is. If ctx
// ends during a wait, Retry stops and returns the last error from op.
func Retry(ctx context.Context, sleep SleepFunc, maxAttempts int, initialDelay time.Duration, op func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	delay := initialDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			break
		}
		delay *= 2
	}
	return err
}
