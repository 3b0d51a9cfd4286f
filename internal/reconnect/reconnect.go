// Package reconnect watches the connection state and brings dropped tunnels
// back up with bounded exponential backoff. It is armed exactly when a
// connect succeeds and disarmed by manual disconnect; the manager never
// retries on its own.
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"gatelink/internal/models"
	"gatelink/internal/observe"
)

// Connector is what the engine drives: the connection manager. The
// Reconnecting note keeps the manager the single writer of the state cell.
type Connector interface {
	Connect(ctx context.Context, profileID string) error
	Disconnect(ctx context.Context)
	NoteReconnecting()
}

// StateSource is where the engine observes connection state from.
type StateSource interface {
	ObserveState() *observe.Subscription[models.ConnectionState]
}

type Config struct {
	// MaxAttempts bounds one retry run; afterwards the engine gives up and
	// leaves the persistent error in the state cell.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  8,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
	}
}

// Engine holds the reconnect state. Its attempt counter has a single
// writer: the engine's own run task.
type Engine struct {
	cfg       Config
	connector Connector

	mu        sync.Mutex
	enabled   bool
	profileID string
	attempts  int
	exhausted bool
}

func NewEngine(cfg Config, connector Connector) *Engine {
	return &Engine{cfg: cfg, connector: connector}
}

// Enable arms the engine for a profile. Called by the manager on every
// successful connect, which also resets the attempt counter.
func (e *Engine) Enable(profile *models.ServerProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = true
	e.profileID = profile.ID
	e.attempts = 0
	e.exhausted = false
}

// Disable disarms the engine. Called by the manager on manual disconnect.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = false
}

// Attempts reports the current attempt count, for display.
func (e *Engine) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// Exhausted reports whether the last retry run gave up.
func (e *Engine) Exhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exhausted
}

// newBackOff realizes delay = min(MaxDelay, InitialDelay * 2^(n-1)).
func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialDelay
	bo.Multiplier = 2
	bo.MaxInterval = e.cfg.MaxDelay
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Run observes connection state and network-change signals until ctx ends.
// It blocks; start it on its own goroutine.
func (e *Engine) Run(ctx context.Context, source StateSource, networkChanges <-chan struct{}) {
	sub := source.ObserveState()
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-sub.C:
			if !ok {
				return
			}
			if state.Phase == models.PhaseError && e.armed() {
				e.retryRun(ctx, sub)
			}
		case <-networkChanges:
			if e.armed() {
				log.Info("Network changed, cycling the tunnel")
				e.retryRun(ctx, sub)
			}
		}
	}
}

func (e *Engine) armed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// retryRun drives one backoff sequence. Manager calls during the run flip
// the enabled flag (Disconnect disarms, a successful Connect re-arms), so
// the flag is not consulted here; the run owns the retry decision until it
// succeeds or exhausts its attempts.
func (e *Engine) retryRun(ctx context.Context, sub *observe.Subscription[models.ConnectionState]) {
	e.mu.Lock()
	profileID := e.profileID
	e.attempts = 0
	e.mu.Unlock()

	bo := e.newBackOff()
	logger := log.WithField("profile", profileID)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		e.mu.Lock()
		e.attempts = attempt
		e.mu.Unlock()

		delay := bo.NextBackOff()
		logger.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Info("Scheduling reconnect attempt")

		e.connector.NoteReconnecting()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		// Drop whatever half-open session the failed tunnel left behind,
		// then connect fresh. Disconnect disarms the engine; a successful
		// connect re-arms it with a zeroed counter.
		e.connector.Disconnect(ctx)
		err := e.connector.Connect(ctx, profileID)
		if err == nil {
			logger.WithField("attempt", attempt).Info("Reconnected")
			e.drain(sub)
			return
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("Reconnect attempt failed")
	}

	e.mu.Lock()
	e.enabled = false
	e.exhausted = true
	e.mu.Unlock()
	logger.WithField("attempts", e.cfg.MaxAttempts).Error(
		"Giving up on automatic reconnection; the last error stands")
	e.drain(sub)
}

// drain discards state updates queued while the run was driving the
// manager itself, so they do not trigger a second run.
func (e *Engine) drain(sub *observe.Subscription[models.ConnectionState]) {
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
