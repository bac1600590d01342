package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderState string

const (
	OrderStatePending    OrderState = "pending"
	OrderStateProcessing OrderState = "processing"
	OrderStateShipped    OrderState = "shipped"
	OrderStateDelivered  OrderState = "delivered"
	OrderStateCancelled  OrderState = "cancelled"
)

var stateRank = map[OrderState]int{
	OrderStatePending:    0,
	OrderStateProcessing: 1,
	OrderStateShipped:    2,
	OrderStateDelivered:  3,
}

func (s OrderState) Valid() bool {
	_, ok := stateRank[s]
	return ok || s == OrderStateCancelled
}

// Terminal reports whether no further transition is allowed out of s.
func (s OrderState) Terminal() bool {
	return s == OrderStateDelivered || s == OrderStateCancelled
}

// CanTransition allows forward moves only, plus cancellation from any
// non-terminal state.
func (s OrderState) CanTransition(to OrderState) bool {
	if s.Terminal() || !to.Valid() {
		return false
	}
	if to == OrderStateCancelled {
		return true
	}
	return stateRank[to] > stateRank[s]
}

type ShippingAddress struct {
	FullName     string `json:"full_name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
	Phone        string `json:"phone,omitempty"`
}

func (a *ShippingAddress) Complete() bool {
	return a != nil &&
		a.FullName != "" &&
		a.AddressLine1 != "" &&
		a.City != "" &&
		a.PostalCode != "" &&
		a.Country != ""
}

// ItemRequest is a line item as submitted by a client. Prices are never
// taken from the client.
type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineItem is a priced, immutable copy of a product at order time.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (i LineItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func SumItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

type AuditRef struct {
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []LineItem      `json:"items"`
	Total           decimal.Decimal `json:"total"`
	State           OrderState      `json:"state"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	ShipmentID      string          `json:"shipment_id,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	AuditRefs       []AuditRef      `json:"audit_refs"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
