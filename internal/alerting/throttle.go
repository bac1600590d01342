package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Throttle is a keyed last-seen cache. Allow reports whether an event for
// key may fire now, and if so records it so that further events for the same
// key are suppressed until window has elapsed.
type Throttle interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

type MemoryThrottle struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (t *MemoryThrottle) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.lastSeen[key]; ok && now.Sub(last) < window {
		return false, nil
	}
	t.lastSeen[key] = now
	return true, nil
}

// RedisThrottle shares throttle state between processes with SET NX PX.
type RedisThrottle struct {
	client *redis.Client
	prefix string
}

func NewRedisThrottle(client *redis.Client, prefix string) *RedisThrottle {
	return &RedisThrottle{client: client, prefix: prefix}
}

func (t *RedisThrottle) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	return t.client.SetNX(ctx, t.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), window).Result()
}

// Throttled suppresses repeated alerts sharing the same Key. Alerts without a
// key always pass through. If the throttle itself fails the alert is sent.
type Throttled struct {
	next     Alerter
	throttle Throttle
	window   time.Duration
}

func NewThrottled(next Alerter, throttle Throttle, window time.Duration) *Throttled {
	return &Throttled{next: next, throttle: throttle, window: window}
}

func (t *Throttled) Send(ctx context.Context, alert Alert) error {
	if alert.Key == "" {
		return t.next.Send(ctx, alert)
	}

	allowed, err := t.throttle.Allow(ctx, alert.Key, t.window)
	if err == nil && !allowed {
		return nil
	}
	return t.next.Send(ctx, alert)
}
