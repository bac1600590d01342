package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
	"github.com/joao-fontenele/orderflow-ledger/internal/kvstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedisService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewService(kvstore.NewRedisStore(client, "checkout:"), 0, discardLogger()), mr
}

func TestService_SaveAndResume(t *testing.T) {
	svc, mr := newRedisService(t)
	ctx := context.Background()

	saved, err := svc.Save(ctx, "user-1", "", StepShipping, json.RawMessage(`{"full_name":"Checkout User","city":"New York"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Token == "" {
		t.Fatal("expected a resume token")
	}
	if ttl := mr.TTL("checkout:" + saved.Token); ttl != DefaultTTL {
		t.Errorf("expected ttl %s, got %s", DefaultTTL, ttl)
	}

	resumed, err := svc.Resume(ctx, "user-1", saved.Token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed.Step != StepShipping {
		t.Errorf("expected step shipping, got %s", resumed.Step)
	}
	var data map[string]string
	if err := json.Unmarshal(resumed.Data, &data); err != nil || data["city"] != "New York" {
		t.Errorf("unexpected data: %s", resumed.Data)
	}

	t.Run("other users cannot resume", func(t *testing.T) {
		if _, err := svc.Resume(ctx, "user-2", saved.Token); !errors.Is(err, ErrProgressNotFound) {
			t.Errorf("expected ErrProgressNotFound, got %v", err)
		}
	})

	t.Run("update keeps token and creation time", func(t *testing.T) {
		updated, err := svc.Save(ctx, "user-1", saved.Token, StepPayment, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.Token != saved.Token || !updated.CreatedAt.Equal(saved.CreatedAt) {
			t.Errorf("expected same token and creation time, got %+v", updated)
		}
		if string(updated.Data) != "{}" {
			t.Errorf("expected empty data object, got %s", updated.Data)
		}
	})

	t.Run("other users cannot overwrite", func(t *testing.T) {
		if _, err := svc.Save(ctx, "user-2", saved.Token, StepReview, nil); !errors.Is(err, ErrProgressNotFound) {
			t.Errorf("expected ErrProgressNotFound, got %v", err)
		}
	})

	t.Run("expires", func(t *testing.T) {
		mr.FastForward(DefaultTTL + time.Second)
		if _, err := svc.Resume(ctx, "user-1", saved.Token); !errors.Is(err, ErrProgressNotFound) {
			t.Errorf("expected ErrProgressNotFound after expiry, got %v", err)
		}
	})
}

func TestService_SaveValidation(t *testing.T) {
	svc := NewService(kvstore.NewMemoryStore(), time.Minute, discardLogger())
	ctx := context.Background()

	if _, err := svc.Save(ctx, "user-1", "", Step("confirmation"), nil); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown step, got %v", err)
	}
	if _, err := svc.Save(ctx, "user-1", "", StepCart, json.RawMessage(`{broken`)); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for bad data, got %v", err)
	}
	if _, err := svc.Save(ctx, "user-1", "no-such-token", StepCart, nil); !errors.Is(err, ErrProgressNotFound) {
		t.Errorf("expected ErrProgressNotFound for unknown token, got %v", err)
	}
}

func TestService_Discard(t *testing.T) {
	svc := NewService(kvstore.NewMemoryStore(), time.Minute, discardLogger())
	ctx := context.Background()

	saved, err := svc.Save(ctx, "user-1", "", StepReview, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Discard(ctx, "user-2", saved.Token); !errors.Is(err, ErrProgressNotFound) {
		t.Errorf("expected ErrProgressNotFound for another user, got %v", err)
	}
	if err := svc.Discard(ctx, "user-1", saved.Token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Resume(ctx, "user-1", saved.Token); !errors.Is(err, ErrProgressNotFound) {
		t.Errorf("expected ErrProgressNotFound after discard, got %v", err)
	}
}
