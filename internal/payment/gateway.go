package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

var ErrUnknownAuthorization = errors.New("unknown authorization")

type Authorization struct {
	ID           string          `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	AuthorizedAt time.Time       `json:"authorized_at"`
}

// MockGateway stands in for a card processor. It authorizes any positive
// amount for any method not on its decline list.
type MockGateway struct {
	mu       sync.Mutex
	declined map[string]struct{}
	issued   map[string]*Authorization
	refunded map[string]bool
	now      func() time.Time
}

func NewMockGateway(declinedMethods []string) *MockGateway {
	declined := make(map[string]struct{}, len(declinedMethods))
	for _, m := range declinedMethods {
		if m = strings.TrimSpace(m); m != "" {
			declined[m] = struct{}{}
		}
	}

	return &MockGateway{
		declined: declined,
		issued:   make(map[string]*Authorization),
		refunded: make(map[string]bool),
		now:      time.Now,
	}
}

func (g *MockGateway) Authorize(_ context.Context, amount decimal.Decimal, method string) (*Authorization, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrPaymentRejected)
	}
	if method == "" {
		return nil, fmt.Errorf("%w: payment method is required", domain.ErrPaymentRejected)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.declined[method]; ok {
		return nil, fmt.Errorf("%w: method %s declined", domain.ErrPaymentRejected, method)
	}

	auth := &Authorization{
		ID:           "txn_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:       amount,
		Method:       method,
		AuthorizedAt: g.now().UTC(),
	}
	g.issued[auth.ID] = auth
	return auth, nil
}

// Refund reverses an authorization. Refunding twice is a no-op.
func (g *MockGateway) Refund(_ context.Context, auth *Authorization) error {
	if auth == nil {
		return fmt.Errorf("%w: nil authorization", ErrUnknownAuthorization)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.issued[auth.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAuthorization, auth.ID)
	}
	g.refunded[auth.ID] = true
	return nil
}

func (g *MockGateway) Refunded(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunded[id]
}
