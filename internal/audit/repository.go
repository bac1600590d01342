package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

// Repository stores audit entries in Postgres. The audit_log table also
// carries triggers that reject UPDATE, DELETE and TRUNCATE, so entries stay
// immutable even for clients that bypass this type.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, actor, ip_address, user_agent, resource, method, metadata, checksum, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, entry.ID, entry.Action, entry.Actor, nullString(entry.IPAddress), nullString(entry.UserAgent),
		entry.Resource, entry.Method, string(metadata), entry.Checksum, entry.Timestamp)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.AuditEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, action, actor, ip_address, user_agent, resource, method, metadata, checksum, timestamp
		FROM audit_log
		WHERE id = $1
	`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListRange returns entries with start <= timestamp <= end, oldest first.
func (r *Repository) ListRange(ctx context.Context, start, end time.Time) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, actor, ip_address, user_agent, resource, method, metadata, checksum, timestamp
		FROM audit_log
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp, id
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *Repository) Update(context.Context, *domain.AuditEntry) error {
	return domain.ErrImmutable
}

func (r *Repository) Delete(context.Context, string) error {
	return domain.ErrImmutable
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.AuditEntry, error) {
	var (
		entry     domain.AuditEntry
		actor     sql.NullString
		ipAddress sql.NullString
		userAgent sql.NullString
		metadata  []byte
	)

	err := row.Scan(&entry.ID, &entry.Action, &actor, &ipAddress, &userAgent,
		&entry.Resource, &entry.Method, &metadata, &entry.Checksum, &entry.Timestamp)
	if err != nil {
		return nil, err
	}

	if actor.Valid {
		entry.Actor = &actor.String
	}
	entry.IPAddress = ipAddress.String
	entry.UserAgent = userAgent.String
	entry.Timestamp = entry.Timestamp.UTC()

	if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
		return nil, err
	}

	return &entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
