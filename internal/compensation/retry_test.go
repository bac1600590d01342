package compensation

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sleepRecorder struct {
	delays []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return s.err
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("returns after first success", func(t *testing.T) {
		rec := &sleepRecorder{}
		calls := 0
		err := Retry(ctx, rec.sleep, 3, time.Second, func(context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 || len(rec.delays) != 0 {
			t.Errorf("expected 1 call and no sleeps, got %d calls and %v", calls, rec.delays)
		}
	})

	t.Run("backs off exponentially", func(t *testing.T) {
		rec := &sleepRecorder{}
		calls := 0
		err := Retry(ctx, rec.sleep, 4, 100*time.Millisecond, func(context.Context) error {
			calls++
			if calls < 4 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
		if len(rec.delays) != len(want) {
			t.Fatalf("expected delays %v, got %v", want, rec.delays)
		}
		for i := range want {
			if rec.delays[i] != want[i] {
				t.Errorf("delay %d: expected %s, got %s", i, want[i], rec.delays[i])
			}
		}
	})

	t.Run("returns the final error unchanged", func(t *testing.T) {
		rec := &sleepRecorder{}
		final := errors.New("attempt 3")
		calls := 0
		err := Retry(ctx, rec.sleep, 3, time.Second, func(context.Context) error {
			calls++
			if calls == 3 {
				return final
			}
			return errors.New("earlier attempt")
		})
		if err != final {
			t.Errorf("expected the exact final error, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 attempts, got %d", calls)
		}
		if len(rec.delays) != 2 {
			t.Errorf("expected no sleep after the last attempt, got %v", rec.delays)
		}
	})

	t.Run("stops when the wait is interrupted", func(t *testing.T) {
		rec := &sleepRecorder{err: context.Canceled}
		calls := 0
		cause := errors.New("transient")
		err := Retry(ctx, rec.sleep, 5, time.Second, func(context.Context) error {
			calls++
			return cause
		})
		if err != cause {
			t.Errorf("expected last op error, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 attempt, got %d", calls)
		}
	})

	t.Run("Sleep honours cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := Sleep(cctx, time.Hour); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
