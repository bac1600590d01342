package domain

import "time"

type Carrier string

const (
	CarrierFedEx Carrier = "fedex"
	CarrierUPS   Carrier = "ups"
	CarrierUSPS  Carrier = "usps"
	CarrierDHL   Carrier = "dhl"

	DefaultCarrier = CarrierFedEx
)

func (c Carrier) Valid() bool {
	switch c {
	case CarrierFedEx, CarrierUPS, CarrierUSPS, CarrierDHL:
		return true
	}
	return false
}

type ShipmentStatus string

const (
	ShipmentStatusPending        ShipmentStatus = "pending"
	ShipmentStatusInTransit      ShipmentStatus = "in_transit"
	ShipmentStatusOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentStatusDelivered      ShipmentStatus = "delivered"
	ShipmentStatusException      ShipmentStatus = "exception"
)

func (s ShipmentStatus) Valid() bool {
	switch s {
	case ShipmentStatusPending, ShipmentStatusInTransit, ShipmentStatusOutForDelivery,
		ShipmentStatusDelivered, ShipmentStatusException:
		return true
	}
	return false
}

type TimelineEvent struct {
	Status      ShipmentStatus `json:"status"`
	Location    string         `json:"location"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description,omitempty"`
}

type ProofOfDelivery struct {
	SignedBy  string    `json:"signed_by,omitempty"`
	SignedAt  time.Time `json:"signed_at"`
	Signature string    `json:"signature,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
}

type Shipment struct {
	ID                string           `json:"id"`
	OrderID           string           `json:"order_id"`
	UserID            string           `json:"user_id"`
	Carrier           Carrier          `json:"carrier"`
	TrackingNumber    string           `json:"tracking_number"`
	Status            ShipmentStatus   `json:"status"`
	CurrentLocation   string           `json:"current_location,omitempty"`
	Timeline          []TimelineEvent  `json:"timeline"`
	ProofOfDelivery   *ProofOfDelivery `json:"proof_of_delivery,omitempty"`
	EstimatedDelivery *time.Time       `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time       `json:"actual_delivery,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}
