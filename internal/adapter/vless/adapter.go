// Package vless is the proxy-protocol adapter. Verification is built into
// the handshake itself: the server's response header is the proof that the
// peer answered, and the time it takes is the measured latency.
package vless

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"gatelink/internal/adapter"
	"gatelink/internal/creds"
	"gatelink/internal/models"
	"gatelink/internal/observe"
	"gatelink/internal/protocol/vless"
	"gatelink/internal/tun"
	"gatelink/internal/vpnerror"
)

// Options tune handshake bounds and the background latency probe.
type Options struct {
	HandshakeTimeout time.Duration
	TestTimeout      time.Duration

	// ProbeHost/ProbePort is the connect-TCP target used for handshake
	// verification and latency probes.
	ProbeHost string
	ProbePort uint16

	ProbeInterval     time.Duration
	ProbeFailureLimit int // consecutive probe failures before "lost"

	// Tun, when set, is the virtual-interface service brought up around
	// the proxy session. Packet routing stays outside this adapter.
	Tun       tun.Service
	TunConfig *tun.Config
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout:  15 * time.Second,
		TestTimeout:       20 * time.Second,
		ProbeHost:         "www.gstatic.com",
		ProbePort:         80,
		ProbeInterval:     10 * time.Second,
		ProbeFailureLimit: 3,
	}
}

type session struct {
	conn    *countingConn
	profile *models.ServerProfile
	dialer  Dialer
	id      uuid.UUID
	start   time.Time
	cancel  context.CancelFunc

	meter     adapter.RateMeter
	latencyMs atomic.Int64
	tunUp     bool
}

// Adapter drives one VLESS server connection.
type Adapter struct {
	creds creds.Store
	opts  Options

	feed       *observe.Feed[models.ConnectionState]
	connecting atomic.Bool

	mu   sync.Mutex
	sess *session
}

func New(credStore creds.Store, opts Options) *Adapter {
	a := &Adapter{
		creds: credStore,
		opts:  opts,
		feed:  observe.NewFeed[models.ConnectionState](),
	}
	a.feed.Set(models.Disconnected())
	return a
}

func (a *Adapter) Protocol() models.Protocol { return models.ProtocolVLESS }

func (a *Adapter) ObserveState() *observe.Subscription[models.ConnectionState] {
	return a.feed.Subscribe()
}

func (a *Adapter) clientID(profile *models.ServerProfile) (uuid.UUID, *vpnerror.Error) {
	raw, err := a.creds.Get(profile.ID, creds.KindVlessID)
	if err != nil {
		if errors.Is(err, creds.ErrNotFound) {
			return uuid.Nil, vpnerror.Authentication("no client identifier stored for this profile", err)
		}
		return uuid.Nil, vpnerror.Classify(err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, vpnerror.Authentication("stored client identifier is not a valid UUID", err)
	}
	return id, nil
}

// handshake dials the server and completes one request/response exchange,
// returning the open connection and the measured round trip.
func (a *Adapter) handshake(ctx context.Context, dialer Dialer, addr string, id uuid.UUID) (*countingConn, time.Duration, error) {
	raw, err := dialer.Dial(ctx, addr)
	if err != nil {
		return nil, 0, err
	}
	conn := &countingConn{Conn: raw}

	header, err := vless.EncodeRequest(id, vless.CommandTCP, a.opts.ProbeHost, a.opts.ProbePort)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	started := time.Now()
	if _, err := conn.Write(header); err != nil {
		conn.Close()
		return nil, 0, err
	}
	if err := vless.DecodeResponse(conn); err != nil {
		conn.Close()
		return nil, 0, err
	}
	conn.SetDeadline(time.Time{})
	return conn, time.Since(started), nil
}

func (a *Adapter) Connect(ctx context.Context, profile *models.ServerProfile) (*models.Connection, error) {
	if profile.Protocol != models.ProtocolVLESS {
		return nil, vpnerror.Configuration("protocol",
			"vless adapter cannot connect a "+string(profile.Protocol)+" profile")
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
	logger.Debug("Connecting vless tunnel")
	a.feed.Set(models.Connecting())

	fail := func(verr *vpnerror.Error) (*models.Connection, error) {
		a.feed.Set(models.Errored(verr))
		return nil, verr
	}

	id, verr := a.clientID(profile)
	if verr != nil {
		return fail(verr)
	}
	dialer, err := NewDialer(profile.VLESS, profile.Host)
	if err != nil {
		return fail(vpnerror.Classify(err))
	}

	hsCtx, cancel := context.WithTimeout(ctx, a.opts.HandshakeTimeout)
	conn, latency, err := a.handshake(hsCtx, dialer, profile.Endpoint(), id)
	cancel()
	if err != nil {
		logger.WithError(err).Error("Handshake failed")
		return fail(vpnerror.Classify(err))
	}

	if a.opts.Tun != nil {
		if err := a.bringUpTun(ctx); err != nil {
			conn.Close()
			logger.WithError(err).Error("Could not establish virtual interface")
			return fail(vpnerror.Classify(err))
		}
	}

	connection := &models.Connection{
		ProfileID:  profile.ID,
		Protocol:   models.ProtocolVLESS,
		ServerAddr: profile.Endpoint(),
		StartedAt:  time.Now(),
	}
	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		profile: profile,
		dialer:  dialer,
		id:      id,
		start:   connection.StartedAt,
		cancel:  sessCancel,
		tunUp:   a.opts.Tun != nil,
	}
	sess.latencyMs.Store(latency.Milliseconds())

	a.mu.Lock()
	a.sess = sess
	a.mu.Unlock()
	a.feed.Set(models.Connected(connection))
	logger.WithField("latency_ms", latency.Milliseconds()).Info("Tunnel connected and verified")

	go a.probeLoop(sessCtx, sess, logger)

	return connection, nil
}

func (a *Adapter) bringUpTun(ctx context.Context) error {
	cfg := a.opts.TunConfig
	if cfg == nil {
		return vpnerror.Configuration("tun", "tun service is set but has no configuration")
	}
	if err := a.opts.Tun.Establish(ctx, cfg.DeviceName); err != nil {
		return err
	}
	if err := a.opts.Tun.Configure(ctx, cfg.Address, cfg.Gateway, cfg.MTU); err != nil {
		a.opts.Tun.Teardown(ctx)
		return err
	}
	return nil
}

// probeLoop refreshes the measured latency with short fresh handshakes and
// reports the connection lost after enough consecutive failures.
func (a *Adapter) probeLoop(ctx context.Context, sess *session, logger *log.Entry) {
	ticker := time.NewTicker(a.opts.ProbeInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, a.opts.HandshakeTimeout)
			conn, latency, err := a.handshake(probeCtx, sess.dialer, sess.profile.Endpoint(), sess.id)
			cancel()
			if err != nil {
				failures++
				logger.WithError(err).WithField("failures", failures).Warn("Latency probe failed")
				if failures >= a.opts.ProbeFailureLimit {
					a.mu.Lock()
					if a.sess == sess {
						a.sess = nil
					}
					a.mu.Unlock()
					a.closeSession(sess)
					a.feed.Set(models.Errored(vpnerror.Classify(err)))
					return
				}
				continue
			}
			conn.Close()
			failures = 0
			sess.latencyMs.Store(latency.Milliseconds())
		}
	}
}

func (a *Adapter) Statistics() *models.ConnectionStatistics {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return nil
	}

	now := time.Now()
	rx, tx := sess.conn.counters()
	down, up := sess.meter.Update(rx, tx, now)
	latency := sess.latencyMs.Load()

	return &models.ConnectionStatistics{
		BytesReceived: rx,
		BytesSent:     tx,
		DownloadRate:  down,
		UploadRate:    up,
		Duration:      now.Sub(sess.start),
		LatencyMs:     &latency,
		CollectedAt:   now,
	}
}

func (a *Adapter) Disconnect(ctx context.Context) {
	a.mu.Lock()
	sess := a.sess
	a.sess = nil
	a.mu.Unlock()

	if sess != nil {
		a.closeSession(sess)
		log.WithField("profile", sess.profile.ID).Info("Tunnel disconnected")
	}
	a.feed.Set(models.Disconnected())
}

func (a *Adapter) closeSession(sess *session) {
	sess.cancel()
	if err := sess.conn.Close(); err != nil {
		log.WithError(err).Debug("Closing session connection failed")
	}
	if sess.tunUp && a.opts.Tun != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.opts.Tun.Teardown(ctx); err != nil {
			log.WithError(err).Warn("Virtual interface teardown failed")
		}
	}
}

func (a *Adapter) TestConnection(ctx context.Context, profile *models.ServerProfile) (*models.ConnectionTestResult, error) {
	if profile.Protocol != models.ProtocolVLESS {
		return nil, vpnerror.Configuration("protocol",
			"vless adapter cannot test a "+string(profile.Protocol)+" profile")
	}

	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()

	// Live connection to this profile: measure now instead of reporting
	// the last background probe.
	if sess != nil && sess.profile.ID == profile.ID {
		probeCtx, cancel := context.WithTimeout(ctx, a.opts.TestTimeout)
		defer cancel()
		conn, latency, err := a.handshake(probeCtx, sess.dialer, sess.profile.Endpoint(), sess.id)
		if err != nil {
			return &models.ConnectionTestResult{ErrorMessage: vpnerror.Classify(err).Error()}, nil
		}
		conn.Close()
		ms := latency.Milliseconds()
		sess.latencyMs.Store(ms)
		return &models.ConnectionTestResult{
			Success:   true,
			LatencyMs: ms,
		}, nil
	}

	if err := profile.Validate(); err != nil {
		return &models.ConnectionTestResult{ErrorMessage: err.Error()}, nil
	}
	id, verr := a.clientID(profile)
	if verr != nil {
		return &models.ConnectionTestResult{ErrorMessage: verr.Error()}, nil
	}
	dialer, err := NewDialer(profile.VLESS, profile.Host)
	if err != nil {
		return &models.ConnectionTestResult{ErrorMessage: vpnerror.Classify(err).Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.TestTimeout)
	defer cancel()

	conn, latency, err := a.handshake(ctx, dialer, profile.Endpoint(), id)
	if err != nil {
		return &models.ConnectionTestResult{ErrorMessage: vpnerror.Classify(err).Error()}, nil
	}
	conn.Close()

	return &models.ConnectionTestResult{
		Success:   true,
		LatencyMs: latency.Milliseconds(),
	}, nil
}
