package wireguard

import (
	"context"
	"net"
	"time"
)

// Handle identifies one established interface to the engine that created it.
// The adapter treats it as opaque.
type Handle interface{}

// PeerStats are the engine-reported counters for a single peer.
type PeerStats struct {
	RxBytes       uint64
	TxBytes       uint64
	LastHandshake time.Time
}

// Stats is one statistics poll result.
type Stats struct {
	Peers   []PeerStats
	TotalRx uint64
	TotalTx uint64
}

// EngineConfig is the engine-native form of a profile plus its credentials.
type EngineConfig struct {
	PrivateKey    [32]byte
	PublicKey     [32]byte // derived from PrivateKey
	PeerPublicKey [32]byte
	PresharedKey  *[32]byte
	Endpoint      *net.UDPAddr
	AllowedIPs    []net.IPNet
	DNS           []net.IP
	MTU           int
	Keepalive     time.Duration
}

// Engine is the platform tunnel engine contract. The core polls it and
// never implements the protocol cryptography itself.
type Engine interface {
	// Establish creates the virtual interface for cfg without bringing it up.
	Establish(ctx context.Context, cfg *EngineConfig) (Handle, error)

	// SetState brings the interface up or down, optionally re-applying cfg.
	SetState(ctx context.Context, h Handle, up bool, cfg *EngineConfig) error

	// Statistics reports current per-peer and total byte counters.
	Statistics(h Handle) (*Stats, error)

	// Teardown destroys the interface. The handle is dead afterwards.
	Teardown(ctx context.Context, h Handle) error
}
