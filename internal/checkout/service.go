// Package checkout saves partially completed checkouts so a client can resume
// them within a short window.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
	"github.com/joao-fontenele/orderflow-ledger/internal/kvstore"
)

var tracer = otel.Tracer("checkout")

// ErrProgressNotFound covers unknown, expired and foreign tokens alike.
var ErrProgressNotFound = errors.New("checkout progress not found")

const DefaultTTL = 15 * time.Minute

type Step string

const (
	StepCart     Step = "cart"
	StepShipping Step = "shipping"
	StepPayment  Step = "payment"
	StepReview   Step = "review"
)

func (s Step) Valid() bool {
	switch s {
	case StepCart, StepShipping, StepPayment, StepReview:
		return true
	}
	return false
}

type Progress struct {
	Token     string          `json:"resume_token"`
	UserID    string          `json:"user_id"`
	Step      Step            `json:"step"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Service keys progress by resume token. The store is expected to be
// dedicated to checkout progress.
type Service struct {
	store  kvstore.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService returns a Service. A non-positive ttl falls back to DefaultTTL.
func NewService(store kvstore.Store, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Save stores progress for userID. An empty token starts a new checkout;
// otherwise the existing checkout is overwritten and its expiry extended.
func (s *Service) Save(ctx context.Context, userID, token string, step Step, data json.RawMessage) (*Progress, error) {
	ctx, span := tracer.Start(ctx, "checkout.save", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("checkout.step", string(step)),
	))
	defer span.End()

	if !step.Valid() {
		return nil, fmt.Errorf("%w: unknown checkout step %q", domain.ErrInvalidRequest, step)
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: checkout data must be JSON", domain.ErrInvalidRequest)
	}

	now := s.now().UTC()
	progress := &Progress{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
	}
	if token != "" {
		existing, err := s.Resume(ctx, userID, token)
		if err != nil {
			return nil, err
		}
		progress.CreatedAt = existing.CreatedAt
	} else {
		progress.Token = uuid.NewString()
	}
	progress.Step = step
	progress.Data = data
	progress.UpdatedAt = now
	progress.ExpiresAt = now.Add(s.ttl)

	encoded, err := json.Marshal(progress)
	if err != nil {
		return nil, fmt.Errorf("encode checkout progress: %w", err)
	}
	if err := s.store.Put(ctx, progress.Token, encoded, s.ttl); err != nil {
		return nil, fmt.Errorf("save checkout progress: %w", err)
	}

	s.logger.DebugContext(ctx, "checkout progress saved", "user_id", userID, "step", step)
	return progress, nil
}

// Resume returns the saved progress for token if it belongs to userID.
func (s *Service) Resume(ctx context.Context, userID, token string) (*Progress, error) {
	if token == "" {
		return nil, ErrProgressNotFound
	}

	raw, err := s.store.Get(ctx, token)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrProgressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkout progress: %w", err)
	}

	var progress Progress
	if err := json.Unmarshal(raw, &progress); err != nil {
		return nil, fmt.Errorf("decode checkout progress: %w", err)
	}
	if progress.UserID != userID {
		return nil, ErrProgressNotFound
	}
	return &progress, nil
}

// Discard drops saved progress, typically once the order is placed.
func (s *Service) Discard(ctx context.Context, userID, token string) error {
	if _, err := s.Resume(ctx, userID, token); err != nil {
		return err
	}
	return s.store.Delete(ctx, token)
}
