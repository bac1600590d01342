package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

type StockService struct {
	products ProductStore
	detector *AnomalyDetector
	logger   *slog.Logger
}

func NewStockService(products ProductStore, detector *AnomalyDetector, logger *slog.Logger) *StockService {
	return &StockService{products: products, detector: detector, logger: logger}
}

func (s *StockService) List(ctx context.Context) ([]domain.StockLevel, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, err
	}

	levels := make([]domain.StockLevel, 0, len(products))
	for i := range products {
		levels = append(levels, products[i].StockLevel())
	}
	return levels, nil
}

func (s *StockService) Get(ctx context.Context, productID string) (*domain.StockLevel, error) {
	product, err := s.products.Get(ctx, productID)
	if err != nil || product == nil {
		return nil, err
	}
	level := product.StockLevel()
	return &level, nil
}

type Adjustment struct {
	Level     domain.StockLevel `json:"level"`
	Anomalies []Anomaly         `json:"anomalies"`
	LowStock  bool              `json:"low_stock"`
}

// Adjust sets on-hand stock for a product, as an operator recount or an
// external sync would, and runs anomaly detection on the change.
func (s *StockService) Adjust(ctx context.Context, productID string, stock int) (*Adjustment, error) {
	if stock < 0 {
		return nil, fmt.Errorf("%w: stock must not be negative", domain.ErrInvalidRequest)
	}

	before, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductUnavailable, productID)
	}

	after, err := s.products.SetStock(ctx, productID, stock)
	if err != nil {
		return nil, err
	}
	if after == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductUnavailable, productID)
	}

	s.logger.InfoContext(ctx, "stock adjusted", "product_id", productID, "old_stock", before.Stock, "new_stock", after.Stock)

	adj := &Adjustment{Level: after.StockLevel(), Anomalies: []Anomaly{}}
	if s.detector != nil {
		if found := s.detector.Check(ctx, productID, before.Stock, after.Stock); found != nil {
			adj.Anomalies = found
		}
		adj.LowStock = s.detector.CheckLowStock(ctx, after)
	}
	return adj, nil
}
