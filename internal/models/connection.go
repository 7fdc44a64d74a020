package models

import "time"

// ConnectionState tracks the lifecycle of a cached backend connection.
type ConnectionState string

const (
	ConnectionStateConnecting ConnectionState = "connecting"
	ConnectionStateConnected  ConnectionState = "connected"
	ConnectionStateFailed     ConnectionState = "failed"
)

// CachedConnectionInfo is a read-only snapshot of one cached connection,
// exposed for the administrative listing endpoint.
type CachedConnectionInfo struct {
	ServiceName    string          `json:"service_name"`
	Version        string          `json:"version"`
	State          ConnectionState `json:"state"`
	Connected      bool            `json:"connected"`
	FailedAttempts int             `json:"failed_attempts"`
	LastUsedAt     time.Time       `json:"last_used_at"`
}
