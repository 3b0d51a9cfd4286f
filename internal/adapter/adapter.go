// Package adapter defines the capability contract every tunnel protocol
// implements. The connection manager drives exactly one adapter at a time;
// adapters report outcomes through return values and their state feed,
// never by touching manager state.
package adapter

import (
	"context"
	"sync"
	"time"

	"gatelink/internal/models"
	"gatelink/internal/observe"
)

// Adapter is implemented once per tunnel protocol. Every operation is safe
// to call from any state: implementations validate and fail instead of
// assuming preconditions.
type Adapter interface {
	// Protocol reports which profile protocol this adapter serves.
	Protocol() models.Protocol

	// Connect establishes and verifies a tunnel for the profile. It must
	// not return success before the tunnel is proven to carry traffic.
	// Cancelling ctx tears down anything partially established. A second
	// Connect while one is in flight is rejected with a busy error.
	Connect(ctx context.Context, profile *models.ServerProfile) (*models.Connection, error)

	// Disconnect is idempotent and never fails: teardown errors are logged
	// and the adapter still ends up observably disconnected. It is bounded
	// internally so a wedged engine cannot hang the caller.
	Disconnect(ctx context.Context)

	// TestConnection probes the server without disturbing an unrelated
	// live connection. Failures are folded into the result, not returned,
	// unless the probe itself could not run.
	TestConnection(ctx context.Context, profile *models.ServerProfile) (*models.ConnectionTestResult, error)

	// ObserveState replays the latest state to each new subscriber.
	ObserveState() *observe.Subscription[models.ConnectionState]

	// Statistics returns nil iff not connected.
	Statistics() *models.ConnectionStatistics
}

// RateMeter computes instantaneous transfer rates from successive
// cumulative byte counters. Single writer: the owning adapter's poll task.
type RateMeter struct {
	mu     sync.Mutex
	lastRx uint64
	lastTx uint64
	lastAt time.Time
}

// Update feeds the current cumulative counters and returns download and
// upload rates in bytes per second since the previous call.
func (m *RateMeter) Update(rx, tx uint64, now time.Time) (down, up float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastAt.IsZero() {
		secs := now.Sub(m.lastAt).Seconds()
		if secs > 0 {
			if rx >= m.lastRx {
				down = float64(rx-m.lastRx) / secs
			}
			if tx >= m.lastTx {
				up = float64(tx-m.lastTx) / secs
			}
		}
	}
	m.lastRx, m.lastTx, m.lastAt = rx, tx, now
	return down, up
}

// Reset clears the meter between connections.
func (m *RateMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRx, m.lastTx, m.lastAt = 0, 0, time.Time{}
}
