package shipping

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

const shipmentColumns = `id, order_id, user_id, carrier, tracking_number, status, current_location,
	timeline, proof_of_delivery, estimated_delivery, actual_delivery, created_at, updated_at`

type ShipmentRepository struct {
	db *sql.DB
}

func NewShipmentRepository(db *sql.DB) *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

func (r *ShipmentRepository) Create(ctx context.Context, s *domain.Shipment) error {
	timeline, pod, err := encodeShipment(s)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, s.ID, s.OrderID, s.UserID, s.Carrier, s.TrackingNumber, s.Status, s.CurrentLocation,
		timeline, pod, s.EstimatedDelivery, s.ActualDelivery, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *ShipmentRepository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	return r.queryOne(ctx, r.db, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1`, trackingNumber)
}

func (r *ShipmentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return r.queryOne(ctx, r.db, `
		SELECT `+shipmentColumns+` FROM shipments
		WHERE order_id = $1
		ORDER BY created_at
		LIMIT 1
	`, orderID)
}

// Mutate locks the shipment row, applies fn and writes the result back in one
// transaction. It returns nil, nil if the tracking number is unknown, and
// writes nothing if fn fails.
func (r *ShipmentRepository) Mutate(ctx context.Context, trackingNumber string, fn func(*domain.Shipment) error) (*domain.Shipment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	s, err := r.queryOne(ctx, tx, `SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1 FOR UPDATE`, trackingNumber)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	if err := fn(s); err != nil {
		return nil, err
	}

	timeline, pod, err := encodeShipment(s)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE shipments
		SET status = $2, current_location = $3, timeline = $4, proof_of_delivery = $5,
			estimated_delivery = $6, actual_delivery = $7, updated_at = $8
		WHERE id = $1
	`, s.ID, s.Status, s.CurrentLocation, timeline, pod, s.EstimatedDelivery, s.ActualDelivery, s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ShipmentRepository) queryOne(ctx context.Context, q querier, query string, args ...any) (*domain.Shipment, error) {
	var (
		s         domain.Shipment
		location  sql.NullString
		timeline  []byte
		pod       []byte
		estimated sql.NullTime
		actual    sql.NullTime
	)

	err := q.QueryRowContext(ctx, query, args...).Scan(
		&s.ID, &s.OrderID, &s.UserID, &s.Carrier, &s.TrackingNumber, &s.Status, &location,
		&timeline, &pod, &estimated, &actual, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.CurrentLocation = location.String
	if err := json.Unmarshal(timeline, &s.Timeline); err != nil {
		return nil, err
	}
	if len(pod) > 0 {
		s.ProofOfDelivery = &domain.ProofOfDelivery{}
		if err := json.Unmarshal(pod, s.ProofOfDelivery); err != nil {
			return nil, err
		}
	}
	if estimated.Valid {
		s.EstimatedDelivery = &estimated.Time
	}
	if actual.Valid {
		s.ActualDelivery = &actual.Time
	}
	return &s, nil
}

// encodeShipment returns the JSONB columns as strings; lib/pq sends []byte
// as bytea, which jsonb does not accept.
func encodeShipment(s *domain.Shipment) (string, sql.NullString, error) {
	timeline := s.Timeline
	if timeline == nil {
		timeline = []domain.TimelineEvent{}
	}
	t, err := json.Marshal(timeline)
	if err != nil {
		return "", sql.NullString{}, err
	}

	if s.ProofOfDelivery == nil {
		return string(t), sql.NullString{}, nil
	}
	p, err := json.Marshal(s.ProofOfDelivery)
	if err != nil {
		return "", sql.NullString{}, err
	}
	return string(t), sql.NullString{String: string(p), Valid: true}, nil
}
