// Package manager owns the top-level connection state machine. It is the
// only writer of the public ConnectionState cell; adapters report outcomes
// through return values and their own feeds, and the manager folds those
// into state transitions.
package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"gatelink/internal/adapter"
	"gatelink/internal/models"
	"gatelink/internal/observe"
	"gatelink/internal/storage"
	"gatelink/internal/vpnerror"
)

// ReconnectEngine is what the manager needs from the auto-reconnect engine:
// armed exactly on a successful connect, disarmed on manual disconnect.
type ReconnectEngine interface {
	Enable(profile *models.ServerProfile)
	Disable()
}

// noopReconnect keeps the manager usable before an engine is attached.
type noopReconnect struct{}

func (noopReconnect) Enable(*models.ServerProfile) {}
func (noopReconnect) Disable()                     {}

type Manager struct {
	profiles  storage.ProfileStore
	adapters  map[models.Protocol]adapter.Adapter
	reconnect ReconnectEngine

	feed *observe.Feed[models.ConnectionState]
	busy atomic.Bool

	mu        sync.Mutex
	active    adapter.Adapter
	relayStop func()
}

func New(profiles storage.ProfileStore, adapters map[models.Protocol]adapter.Adapter) *Manager {
	m := &Manager{
		profiles:  profiles,
		adapters:  adapters,
		reconnect: noopReconnect{},
		feed:      observe.NewFeed[models.ConnectionState](),
	}
	m.feed.Set(models.Disconnected())
	return m
}

// SetReconnect attaches the auto-reconnect engine. Call before Connect.
func (m *Manager) SetReconnect(engine ReconnectEngine) {
	m.reconnect = engine
}

func (m *Manager) ObserveState() *observe.Subscription[models.ConnectionState] {
	return m.feed.Subscribe()
}

func (m *Manager) State() models.ConnectionState {
	state, _ := m.feed.Get()
	return state
}

// adapterFor is the single protocol dispatch site. An unknown protocol on a
// validated profile is a programming error, hence the panic: adding a
// protocol means adding a case here and an entry to the adapters map.
func (m *Manager) adapterFor(protocol models.Protocol) adapter.Adapter {
	switch protocol {
	case models.ProtocolWireGuard, models.ProtocolVLESS:
		ad, ok := m.adapters[protocol]
		if !ok {
			panic("manager: no adapter registered for protocol " + string(protocol))
		}
		return ad
	default:
		panic("manager: unhandled protocol " + string(protocol))
	}
}

func (m *Manager) Connect(ctx context.Context, profileID string) error {
	if !m.busy.CompareAndSwap(false, true) {
		return vpnerror.Busy("connect")
	}
	defer m.busy.Store(false)

	// The only exits from an established tunnel are Disconnect and an
	// adapter-reported drop. Replacing it here would leave the previous
	// adapter's interface and monitor running unmanaged.
	m.mu.Lock()
	connected := m.active != nil
	m.mu.Unlock()
	if connected {
		return vpnerror.Busy("connect")
	}

	logger := log.WithField("profile", profileID)

	profile, err := m.profiles.Get(ctx, profileID)
	if err != nil {
		var verr *vpnerror.Error
		if errors.Is(err, storage.ErrProfileNotFound) {
			verr = vpnerror.ProfileNotFound(profileID)
		} else {
			verr = vpnerror.Classify(err)
		}
		logger.WithError(err).Error("Profile lookup failed")
		m.feed.Set(models.Errored(verr))
		return verr
	}

	m.feed.Set(models.Connecting())

	ad := m.adapterFor(profile.Protocol)
	conn, err := ad.Connect(ctx, profile)
	if err != nil {
		verr := vpnerror.Classify(err)
		logger.WithError(err).Error("Connect failed")
		m.feed.Set(models.Errored(verr))
		return verr
	}

	m.mu.Lock()
	m.stopRelayLocked()
	m.active = ad
	m.startRelayLocked(ad)
	m.mu.Unlock()

	m.feed.Set(models.Connected(conn))
	m.reconnect.Enable(profile)

	// Non-critical bookkeeping: a failed timestamp update never fails the
	// transition.
	if err := m.profiles.UpdateLastUsed(context.WithoutCancel(ctx), profileID, time.Now()); err != nil {
		logger.WithError(err).Debug("Could not update last-used timestamp")
	}

	logger.Info("Connected")
	return nil
}

// startRelayLocked mirrors adapter-detected drops (lost peers, failed
// probes) into the manager's state cell so observers and the reconnect
// engine see them.
func (m *Manager) startRelayLocked(ad adapter.Adapter) {
	sub := ad.ObserveState()
	m.relayStop = sub.Cancel

	go func() {
		for state := range sub.C {
			if state.Phase != models.PhaseError {
				continue
			}
			m.mu.Lock()
			mine := m.active == ad
			if mine {
				m.active = nil
				m.relayStop = nil
			}
			m.mu.Unlock()
			if !mine {
				return
			}

			log.WithError(state.Err).Warn("Adapter reported connection lost")
			sub.Cancel()
			m.feed.Set(models.Errored(state.Err))
			return
		}
	}()
}

func (m *Manager) stopRelayLocked() {
	if m.relayStop != nil {
		m.relayStop()
		m.relayStop = nil
	}
}

// Disconnect is the manual path: it disarms auto-reconnect first, then
// tears the adapter down, and always ends Disconnected regardless of what
// the adapter's teardown did.
func (m *Manager) Disconnect(ctx context.Context) {
	m.reconnect.Disable()

	m.mu.Lock()
	m.stopRelayLocked()
	ad := m.active
	m.active = nil
	m.mu.Unlock()

	if ad != nil {
		ad.Disconnect(ctx)
	}
	m.feed.Set(models.Disconnected())
	log.Info("Disconnected")
}

// NoteReconnecting marks the state cell for an imminent automatic retry.
// Only the reconnect engine calls this; the cell keeps its single writer
// because the engine routes the write through the manager.
func (m *Manager) NoteReconnecting() {
	m.feed.Set(models.Reconnecting())
}

// Statistics returns the live adapter's snapshot, nil when not connected.
func (m *Manager) Statistics() *models.ConnectionStatistics {
	m.mu.Lock()
	ad := m.active
	m.mu.Unlock()
	if ad == nil {
		return nil
	}
	return ad.Statistics()
}

func (m *Manager) TestConnection(ctx context.Context, profileID string) (*models.ConnectionTestResult, error) {
	profile, err := m.profiles.Get(ctx, profileID)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			return nil, vpnerror.ProfileNotFound(profileID)
		}
		return nil, vpnerror.Classify(err)
	}
	return m.adapterFor(profile.Protocol).TestConnection(ctx, profile)
}
