package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Price             decimal.Decimal `json:"price"`
	Stock             int             `json:"stock"`
	ReservedCount     int             `json:"reserved_count"`
	IsActive          bool            `json:"is_active"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// AvailableStock is derived and never stored.
func (p *Product) AvailableStock() int {
	if p.ReservedCount >= p.Stock {
		return 0
	}
	return p.Stock - p.ReservedCount
}

type StockLevel struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

func (p *Product) StockLevel() StockLevel {
	return StockLevel{
		ProductID: p.ID,
		Stock:     p.Stock,
		Reserved:  p.ReservedCount,
		Available: p.AvailableStock(),
	}
}
