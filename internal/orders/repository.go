package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"

	idempotencyKeyIndex = "orders_idempotency_key_idx"

	orderColumns = `id, user_id, state, total, shipping_address, payment_method, shipment_id, idempotency_key, created_at, updated_at`
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order with its items and audit refs in one transaction.
// A clash on the idempotency key index is reported as
// domain.ErrDuplicateIdempotencyKey.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.ID, order.UserID, order.State, order.Total, string(address), order.PaymentMethod,
		nullString(order.ShipmentID), nullString(order.IdempotencyKey), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation && pqErr.Constraint == idempotencyKeyIndex {
			return domain.ErrDuplicateIdempotencyKey
		}
		return err
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, title, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.NewString(), order.ID, i, item.ProductID, item.Title, item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}

	for _, ref := range order.AuditRefs {
		if err := insertAuditRef(ctx, tx, order.ID, ref); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, map[string]*domain.Order{order.ID: order}); err != nil {
		return nil, err
	}
	if err := r.loadAuditRefs(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE idempotency_key = $1`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// ListByUser returns a user's orders, newest first, without audit refs.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.LineItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.loadItems(ctx, orderMap); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

// UpdateState moves an order to state under a row lock. Moving to the
// current state is a no-op; any move the state machine forbids returns
// domain.ErrInvalidTransition. A missing order returns nil, nil.
func (r *OrderRepository) UpdateState(ctx context.Context, id string, state domain.OrderState) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current domain.OrderState
	err = tx.QueryRowContext(ctx, `SELECT state FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if current != state {
		if !current.CanTransition(state) {
			return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current, state)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET state = $1, updated_at = NOW() WHERE id = $2`, state, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *OrderRepository) AttachShipment(ctx context.Context, orderID, shipmentID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET shipment_id = $1, updated_at = NOW()
		WHERE id = $2
	`, shipmentID, orderID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) AppendAuditRef(ctx context.Context, orderID string, ref domain.AuditRef) error {
	err := insertAuditRef(ctx, r.db, orderID, ref)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
		return domain.ErrOrderNotFound
	}
	return err
}

func (r *OrderRepository) loadItems(ctx context.Context, orders map[string]*domain.Order) error {
	ids := make([]string, 0, len(orders))
	for id := range orders {
		ids = append(ids, id)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, title, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.LineItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Title, &item.Quantity, &item.Price); err != nil {
			return err
		}
		order := orders[orderID]
		order.Items = append(order.Items, item)
	}

	return rows.Err()
}

func (r *OrderRepository) loadAuditRefs(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT action, actor, metadata, created_at
		FROM order_audit_refs
		WHERE order_id = $1
		ORDER BY id
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	order.AuditRefs = []domain.AuditRef{}
	for rows.Next() {
		var (
			ref      domain.AuditRef
			actor    sql.NullString
			metadata []byte
		)
		if err := rows.Scan(&ref.Action, &actor, &metadata, &ref.Timestamp); err != nil {
			return err
		}
		ref.Actor = actor.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ref.Metadata); err != nil {
				return err
			}
		}
		order.AuditRefs = append(order.AuditRefs, ref)
	}

	return rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAuditRef(ctx context.Context, db execer, orderID string, ref domain.AuditRef) error {
	var metadata sql.NullString
	if ref.Metadata != nil {
		data, err := json.Marshal(ref.Metadata)
		if err != nil {
			return err
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO order_audit_refs (order_id, action, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, orderID, ref.Action, nullString(ref.Actor), metadata, ref.Timestamp)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order      domain.Order
		address    []byte
		shipmentID sql.NullString
		key        sql.NullString
	)
	err := row.Scan(&order.ID, &order.UserID, &order.State, &order.Total, &address, &order.PaymentMethod,
		&shipmentID, &key, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, err
	}
	order.ShipmentID = shipmentID.String
	order.IdempotencyKey = key.String
	return &order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
