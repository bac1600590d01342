package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

const (
	RedactionMarker = "[REDACTED]"

	// TimestampLayout is the canonical timestamp form inside the checksum
	// payload. Entry timestamps are truncated to milliseconds before storage.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

var sensitiveFields = []string{"password", "cardNumber", "cvv", "ssn", "email"}

// Redact returns a copy of metadata with sensitive top-level keys replaced by
// RedactionMarker. Nested values are not inspected.
func Redact(metadata map[string]any) map[string]any {
	redacted := make(map[string]any, len(metadata))
	for k, v := range metadata {
		redacted[k] = v
	}
	for _, field := range sensitiveFields {
		if _, ok := redacted[field]; ok {
			redacted[field] = RedactionMarker
		}
	}
	return redacted
}

type canonicalEntry struct {
	Action    string         `json:"action"`
	UserID    *string        `json:"userId"`
	Resource  string         `json:"resource"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Checksum is the hex SHA-256 of the canonical JSON encoding of the entry's
// action, actor, resource, timestamp and metadata. No other field takes part.
func Checksum(entry *domain.AuditEntry) (string, error) {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	payload, err := json.Marshal(canonicalEntry{
		Action:    entry.Action,
		UserID:    entry.Actor,
		Resource:  entry.Resource,
		Timestamp: entry.Timestamp.UTC().Format(TimestampLayout),
		Metadata:  metadata,
	})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func Verify(entry *domain.AuditEntry) bool {
	sum, err := Checksum(entry)
	if err != nil {
		return false
	}
	return sum == entry.Checksum
}

// normalizeMetadata gives metadata the exact shape it will have after a
// round trip through storage, so the checksum computed at write time matches
// the one recomputed by a scan.
func normalizeMetadata(metadata map[string]any) (map[string]any, error) {
	if len(metadata) == 0 {
		return map[string]any{}, nil
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}

	var normalized map[string]any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

func canonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
