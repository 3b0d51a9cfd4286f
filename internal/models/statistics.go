package models

import "time"

// ConnectionStatistics is a point-in-time snapshot of tunnel traffic.
// Rates are computed from the delta since the previous snapshot.
type ConnectionStatistics struct {
	BytesReceived uint64 `json:"bytes_received"`
	BytesSent     uint64 `json:"bytes_sent"`

	DownloadRate float64 `json:"download_rate"` // bytes/sec
	UploadRate   float64 `json:"upload_rate"`   // bytes/sec

	Duration time.Duration `json:"duration"`

	// WireGuard only: time of the last completed handshake.
	LastHandshake *time.Time `json:"last_handshake,omitempty"`

	// VLESS only: most recently measured round-trip latency.
	LatencyMs *int64 `json:"latency_ms,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// ConnectionTestResult is the outcome of a non-destructive probe against a
// profile's server.
type ConnectionTestResult struct {
	Success      bool   `json:"success"`
	LatencyMs    int64  `json:"latency_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
}
