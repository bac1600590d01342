package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderConfirmedEvent struct {
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	Items     []LineItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Tracking  string          `json:"tracking_number,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (OrderConfirmedEvent) EventType() string { return "order.confirmed" }

type ShipmentUpdatedEvent struct {
	OrderID        string         `json:"order_id"`
	UserID         string         `json:"user_id"`
	TrackingNumber string         `json:"tracking_number"`
	Status         ShipmentStatus `json:"status"`
	Location       string         `json:"location"`
	Timestamp      time.Time      `json:"timestamp"`
}

func (ShipmentUpdatedEvent) EventType() string { return "shipment.updated" }
