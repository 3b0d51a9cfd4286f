// Package wireguard is the handshake-protocol adapter. A live socket does
// not imply a live tunnel here: the engine happily reports the interface
// "up" while the peer never answers, so Connect only succeeds once the
// peer's byte counters prove a response arrived.
package wireguard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"gatelink/internal/adapter"
	"gatelink/internal/creds"
	"gatelink/internal/models"
	"gatelink/internal/observe"
	"gatelink/internal/vpnerror"
)

// Options tune the verification and liveness loops.
type Options struct {
	VerifyWindow   time.Duration // how long to wait for the first rx bytes
	VerifyInterval time.Duration // counter poll cadence during verification

	MonitorInterval  time.Duration // background peer-stats poll cadence
	LostAfterPolls   int           // consecutive empty polls before "lost"
	MinUptimeForLost time.Duration // never report lost before this uptime

	TestTimeout       time.Duration
	DisconnectTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		VerifyWindow:      15 * time.Second,
		VerifyInterval:    time.Second,
		MonitorInterval:   5 * time.Second,
		LostAfterPolls:    6,
		MinUptimeForLost:  120 * time.Second,
		TestTimeout:       20 * time.Second,
		DisconnectTimeout: 10 * time.Second,
	}
}

type session struct {
	handle  Handle
	profile *models.ServerProfile
	conn    *models.Connection
	cancel  context.CancelFunc

	meter adapter.RateMeter

	mu            sync.Mutex
	lastHandshake time.Time
	snapshot      models.ConnectionStatistics
}

// Adapter drives one WireGuard engine.
type Adapter struct {
	engine Engine
	creds  creds.Store
	opts   Options

	feed       *observe.Feed[models.ConnectionState]
	connecting atomic.Bool

	mu   sync.Mutex
	sess *session
}

func New(engine Engine, credStore creds.Store, opts Options) *Adapter {
	a := &Adapter{
		engine: engine,
		creds:  credStore,
		opts:   opts,
		feed:   observe.NewFeed[models.ConnectionState](),
	}
	a.feed.Set(models.Disconnected())
	return a
}

func (a *Adapter) Protocol() models.Protocol { return models.ProtocolWireGuard }

func (a *Adapter) ObserveState() *observe.Subscription[models.ConnectionState] {
	return a.feed.Subscribe()
}

func (a *Adapter) Connect(ctx context.Context, profile *models.ServerProfile) (*models.Connection, error) {
	if profile.Protocol != models.ProtocolWireGuard {
		return nil, vpnerror.Configuration("protocol",
			"wireguard adapter cannot connect a "+string(profile.Protocol)+" profile")
	}
	if err := profile.Validate(); err != nil {
		return nil, vpnerror.Configuration("profile", err.Error())
	}

	if !a.connecting.CompareAndSwap(false, true) {
		return nil, vpnerror.Busy("connect")
	}
	defer a.connecting.Store(false)

	a.mu.Lock()
	alreadyUp := a.sess != nil
	a.mu.Unlock()
	if alreadyUp {
		return nil, vpnerror.Busy("connect")
	}

	logger := log.WithFields(log.Fields{
		"profile": profile.ID,
		"server":  profile.Endpoint(),
	})
	logger.Debug("Connecting wireguard tunnel")
	a.feed.Set(models.Connecting())

	cfg, verr := a.engineConfig(profile)
	if verr != nil {
		a.feed.Set(models.Errored(verr))
		return nil, verr
	}

	handle, err := a.engine.Establish(ctx, cfg)
	if err != nil {
		verr := vpnerror.Classify(err)
		logger.WithError(err).Error("Engine could not establish interface")
		a.feed.Set(models.Errored(verr))
		return nil, verr
	}
	if err := a.engine.SetState(ctx, handle, true, cfg); err != nil {
		a.teardown(handle)
		verr := vpnerror.Classify(err)
		logger.WithError(err).Error("Engine could not bring interface up")
		a.feed.Set(models.Errored(verr))
		return nil, verr
	}

	lastHandshake, verr := a.verify(ctx, handle, logger)
	if verr != nil {
		a.teardown(handle)
		a.feed.Set(models.Errored(verr))
		return nil, verr
	}

	conn := &models.Connection{
		ProfileID:  profile.ID,
		Protocol:   models.ProtocolWireGuard,
		ServerAddr: cfg.Endpoint.String(),
		StartedAt:  time.Now(),
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		handle:        handle,
		profile:       profile,
		conn:          conn,
		cancel:        cancel,
		lastHandshake: lastHandshake,
	}

	a.mu.Lock()
	a.sess = sess
	a.mu.Unlock()
	a.feed.Set(models.Connected(conn))
	logger.Info("Tunnel connected and verified")

	go a.monitor(sessCtx, sess, logger)

	return conn, nil
}

func (a *Adapter) engineConfig(profile *models.ServerProfile) (*EngineConfig, *vpnerror.Error) {
	privateKey, err := a.creds.Get(profile.ID, creds.KindWireGuardPrivateKey)
	if err != nil {
		if errors.Is(err, creds.ErrNotFound) {
			return nil, vpnerror.Authentication("no private key stored for this profile", err)
		}
		return nil, vpnerror.Classify(err)
	}
	preshared, err := a.creds.Get(profile.ID, creds.KindWireGuardPresharedKey)
	if err != nil && !errors.Is(err, creds.ErrNotFound) {
		return nil, vpnerror.Classify(err)
	}

	cfg, err := buildEngineConfig(profile, privateKey, preshared)
	if err != nil {
		return nil, vpnerror.Classify(err)
	}
	return cfg, nil
}

// verify polls the engine's counters until received bytes appear or the
// window closes. Transmitted bytes alone are not proof: the client emits
// handshake initiations whether or not anyone is listening; only rx > 0
// shows the peer answered.
func (a *Adapter) verify(ctx context.Context, handle Handle, logger *log.Entry) (time.Time, *vpnerror.Error) {
	started := time.Now()
	deadline := time.NewTimer(a.opts.VerifyWindow)
	defer deadline.Stop()
	ticker := time.NewTicker(a.opts.VerifyInterval)
	defer ticker.Stop()

	var lastRx, lastTx uint64
	for {
		select {
		case <-ctx.Done():
			logger.Warn("Connect cancelled during handshake verification")
			return time.Time{}, vpnerror.Classify(ctx.Err())
		case <-deadline.C:
			logger.WithFields(log.Fields{
				"rx": lastRx,
				"tx": lastTx,
			}).Warn("Handshake verification timed out")
			return time.Time{}, vpnerror.HandshakeTimeout(time.Since(started), lastRx, lastTx)
		case <-ticker.C:
			stats, err := a.engine.Statistics(handle)
			if err != nil {
				logger.WithError(err).Debug("Statistics poll failed during verification")
				continue
			}
			lastRx, lastTx = receivedBytes(stats), sentBytes(stats)
			if lastRx > 0 {
				logger.WithFields(log.Fields{
					"rx":      lastRx,
					"elapsed": time.Since(started),
				}).Debug("Peer responded, tunnel verified")
				if hs := latestHandshake(stats); !hs.IsZero() {
					return hs, nil
				}
				return time.Now(), nil
			}
		}
	}
}

// monitor re-checks peer statistics for the life of the session. One missed
// poll is a statistics-API hiccup, not a dead link; only a long run of
// polls with no peer records on a long-lived connection counts as loss.
func (a *Adapter) monitor(ctx context.Context, sess *session, logger *log.Entry) {
	ticker := time.NewTicker(a.opts.MonitorInterval)
	defer ticker.Stop()

	emptyPolls := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := a.engine.Statistics(sess.handle)
			if err != nil {
				logger.WithError(err).Debug("Background statistics poll failed")
				continue
			}
			if len(stats.Peers) == 0 {
				emptyPolls++
			} else {
				emptyPolls = 0
				sess.record(stats)
			}

			uptime := time.Since(sess.conn.StartedAt)
			if emptyPolls >= a.opts.LostAfterPolls && uptime > a.opts.MinUptimeForLost {
				logger.WithFields(log.Fields{
					"empty_polls": emptyPolls,
					"uptime":      uptime,
				}).Error("Peer records gone, reporting connection lost")

				a.mu.Lock()
				if a.sess == sess {
					a.sess = nil
				}
				a.mu.Unlock()
				a.teardown(sess.handle)
				a.feed.Set(models.Errored(
					vpnerror.Network("connection lost: peer is no longer reported by the engine", nil)))
				return
			}
		}
	}
}

func (sess *session) record(stats *Stats) {
	now := time.Now()
	rx, tx := receivedBytes(stats), sentBytes(stats)
	down, up := sess.meter.Update(rx, tx, now)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if hs := latestHandshake(stats); !hs.IsZero() {
		sess.lastHandshake = hs
	}
	hs := sess.lastHandshake
	sess.snapshot = models.ConnectionStatistics{
		BytesReceived: rx,
		BytesSent:     tx,
		DownloadRate:  down,
		UploadRate:    up,
		Duration:      now.Sub(sess.conn.StartedAt),
		LastHandshake: &hs,
		CollectedAt:   now,
	}
}

func (a *Adapter) Statistics() *models.ConnectionStatistics {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return nil
	}

	if stats, err := a.engine.Statistics(sess.handle); err == nil {
		sess.record(stats)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.snapshot.CollectedAt.IsZero() {
		return nil
	}
	snapshot := sess.snapshot
	return &snapshot
}

func (a *Adapter) Disconnect(ctx context.Context) {
	a.mu.Lock()
	sess := a.sess
	a.sess = nil
	a.mu.Unlock()

	if sess != nil {
		sess.cancel()
		a.teardown(sess.handle)
		log.WithField("profile", sess.profile.ID).Info("Tunnel disconnected")
	}
	a.feed.Set(models.Disconnected())
}

// teardown is fail-safe and bounded: a wedged engine cannot hang the caller
// and its errors are logged, never propagated.
func (a *Adapter) teardown(handle Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.DisconnectTimeout)
	defer cancel()

	if err := a.engine.SetState(ctx, handle, false, nil); err != nil {
		log.WithError(err).Warn("Engine refused to bring interface down")
	}
	if err := a.engine.Teardown(ctx, handle); err != nil {
		log.WithError(err).Warn("Engine teardown failed")
	}
}

func (a *Adapter) TestConnection(ctx context.Context, profile *models.ServerProfile) (*models.ConnectionTestResult, error) {
	if profile.Protocol != models.ProtocolWireGuard {
		return nil, vpnerror.Configuration("protocol",
			"wireguard adapter cannot test a "+string(profile.Protocol)+" profile")
	}

	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()

	// Probe the live tunnel when it is this exact profile.
	if sess != nil && sess.profile.ID == profile.ID {
		stats, err := a.engine.Statistics(sess.handle)
		if err != nil {
			return &models.ConnectionTestResult{ErrorMessage: vpnerror.Classify(err).Error()}, nil
		}
		if len(stats.Peers) == 0 {
			return &models.ConnectionTestResult{ErrorMessage: "tunnel is up but the peer is gone"}, nil
		}
		return &models.ConnectionTestResult{Success: true}, nil
	}

	// Otherwise a short-lived trial: connect, verify, tear down.
	ctx, cancel := context.WithTimeout(ctx, a.opts.TestTimeout)
	defer cancel()

	cfg, verr := a.engineConfig(profile)
	if verr != nil {
		return &models.ConnectionTestResult{ErrorMessage: verr.Error()}, nil
	}
	handle, err := a.engine.Establish(ctx, cfg)
	if err != nil {
		return &models.ConnectionTestResult{ErrorMessage: vpnerror.Classify(err).Error()}, nil
	}
	defer a.teardown(handle)

	if err := a.engine.SetState(ctx, handle, true, cfg); err != nil {
		return &models.ConnectionTestResult{ErrorMessage: vpnerror.Classify(err).Error()}, nil
	}

	started := time.Now()
	logger := log.WithField("profile", profile.ID)
	if _, verr := a.verify(ctx, handle, logger); verr != nil {
		return &models.ConnectionTestResult{ErrorMessage: verr.Error()}, nil
	}
	return &models.ConnectionTestResult{
		Success:   true,
		LatencyMs: time.Since(started).Milliseconds(),
	}, nil
}

func receivedBytes(stats *Stats) uint64 {
	var rx uint64
	for _, p := range stats.Peers {
		rx += p.RxBytes
	}
	if rx == 0 {
		rx = stats.TotalRx
	}
	return rx
}

func sentBytes(stats *Stats) uint64 {
	var tx uint64
	for _, p := range stats.Peers {
		tx += p.TxBytes
	}
	if tx == 0 {
		tx = stats.TotalTx
	}
	return tx
}

func latestHandshake(stats *Stats) time.Time {
	var latest time.Time
	for _, p := range stats.Peers {
		if p.LastHandshake.After(latest) {
			latest = p.LastHandshake
		}
	}
	return latest
}
