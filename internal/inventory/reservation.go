package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

// ProductStore is the product catalog as seen by inventory. Reads and
// updates of a missing product return (nil, nil).
type ProductStore interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
	IncrementReserved(ctx context.Context, id string, quantity int) (*domain.Product, error)
	ReleaseReserved(ctx context.Context, id string, quantity int) (*domain.Product, error)
	SetStock(ctx context.Context, id string, stock int) (*domain.Product, error)
}

type Validation struct {
	Items []domain.LineItem
	Total decimal.Decimal
}

// ReservationManager checks requested quantities against available stock
// and holds stock for orders in flight.
//
// Validate and Reserve are separate steps. Two concurrent orders can both
// pass Validate against the same snapshot before either reserves, which can
// leave reserved_count above stock until one of them is released.
type ReservationManager struct {
	products ProductStore
	logger   *slog.Logger
}

func NewReservationManager(products ProductStore, logger *slog.Logger) *ReservationManager {
	return &ReservationManager{products: products, logger: logger}
}

// Validate checks every item before anything is reserved and prices the
// order from the catalog. Requests for the same product are summed.
func (m *ReservationManager) Validate(ctx context.Context, items []domain.ItemRequest) (*Validation, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", domain.ErrInvalidRequest)
	}

	requested := make(map[string]int, len(items))
	products := make(map[string]*domain.Product, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Quantity < 1 {
			return nil, fmt.Errorf("%w: each item needs a product id and a quantity of at least 1", domain.ErrInvalidRequest)
		}

		if _, seen := products[item.ProductID]; !seen {
			product, err := m.products.Get(ctx, item.ProductID)
			if err != nil {
				return nil, fmt.Errorf("get product %s: %w", item.ProductID, err)
			}
			if product == nil || !product.IsActive {
				return nil, fmt.Errorf("%w: %s", domain.ErrProductUnavailable, item.ProductID)
			}
			products[item.ProductID] = product
		}

		requested[item.ProductID] += item.Quantity
		product := products[item.ProductID]
		if available := product.AvailableStock(); requested[item.ProductID] > available {
			return nil, fmt.Errorf("%w: %s has %d available, %d requested",
				domain.ErrInsufficientStock, product.ID, available, requested[item.ProductID])
		}
	}

	lines := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		product := products[item.ProductID]
		lines = append(lines, domain.LineItem{
			ProductID: product.ID,
			Title:     product.Title,
			Quantity:  item.Quantity,
			Price:     product.Price,
		})
	}

	return &Validation{Items: lines, Total: domain.SumItems(lines)}, nil
}

// Reserve increments reserved_count for each item. On error it returns the
// items that were reserved before the failure so they can be released.
func (m *ReservationManager) Reserve(ctx context.Context, items []domain.LineItem) ([]domain.LineItem, error) {
	reserved := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		product, err := m.products.IncrementReserved(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return reserved, fmt.Errorf("reserve %s: %w", item.ProductID, err)
		}
		if product == nil {
			return reserved, fmt.Errorf("%w: %s", domain.ErrProductUnavailable, item.ProductID)
		}
		reserved = append(reserved, item)

		m.logger.DebugContext(ctx, "stock reserved",
			"product_id", item.ProductID,
			"quantity", item.Quantity,
			"reserved_count", product.ReservedCount,
		)
	}
	return reserved, nil
}

// Release undoes reservations. It attempts every item even when some fail
// and is safe to call more than once.
func (m *ReservationManager) Release(ctx context.Context, items []domain.LineItem) error {
	var errs []error
	for _, item := range items {
		product, err := m.products.ReleaseReserved(ctx, item.ProductID, item.Quantity)
		if err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", item.ProductID, err))
			continue
		}
		if product == nil {
			m.logger.WarnContext(ctx, "released stock for missing product", "product_id", item.ProductID)
			continue
		}

		m.logger.DebugContext(ctx, "stock released",
			"product_id", item.ProductID,
			"quantity", item.Quantity,
			"reserved_count", product.ReservedCount,
		)
	}
	return errors.Join(errs...)
}
