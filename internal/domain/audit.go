package domain

import "time"

type AuditEntry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Actor     *string        `json:"actor"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Resource  string         `json:"resource"`
	Method    string         `json:"method"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
	Checksum  string         `json:"checksum"`
}
