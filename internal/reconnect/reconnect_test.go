package reconnect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gatelink/internal/models"
	"gatelink/internal/observe"
	"gatelink/internal/vpnerror"
)

func testProfile() *models.ServerProfile {
	return &models.ServerProfile{ID: "p-1", Protocol: models.ProtocolWireGuard}
}

// fakeConnector scripts connect outcomes: failures until succeedAfter
// attempts have been made.
type fakeConnector struct {
	feed *observe.Feed[models.ConnectionState]

	mu           sync.Mutex
	succeedAfter int
	connects     int
	disconnects  int
	notes        int
}

func newFakeConnector(succeedAfter int) *fakeConnector {
	f := &fakeConnector{feed: observe.NewFeed[models.ConnectionState](), succeedAfter: succeedAfter}
	f.feed.Set(models.Disconnected())
	return f
}

func (f *fakeConnector) Connect(ctx context.Context, profileID string) error {
	f.mu.Lock()
	f.connects++
	n := f.connects
	ok := n >= f.succeedAfter
	f.mu.Unlock()
	if !ok {
		err := vpnerror.Network("still down", nil)
		f.feed.Set(models.Errored(err))
		return err
	}
	f.feed.Set(models.Connected(&models.Connection{ProfileID: profileID}))
	return nil
}

func (f *fakeConnector) Disconnect(ctx context.Context) {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeConnector) NoteReconnecting() {
	f.mu.Lock()
	f.notes++
	f.mu.Unlock()
	f.feed.Set(models.Reconnecting())
}

func (f *fakeConnector) ObserveState() *observe.Subscription[models.ConnectionState] {
	return f.feed.Subscribe()
}

func (f *fakeConnector) counts() (connects, disconnects, notes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, f.notes
}

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     8 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBackoffSequence(t *testing.T) {
	e := NewEngine(Config{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
	}, nil)

	bo := e.newBackOff()
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, bo.NextBackOff(), "attempt %d", i+1)
	}
}

func TestEnableResetsState(t *testing.T) {
	e := NewEngine(fastConfig(3), newFakeConnector(1))

	e.Enable(testProfile())
	assert.Equal(t, 0, e.Attempts())
	assert.False(t, e.Exhausted())

	e.Disable()
	e.Enable(testProfile())
	assert.False(t, e.Exhausted())
}

func TestRetryAfterDrop(t *testing.T) {
	conn := newFakeConnector(1) // first retry succeeds
	e := NewEngine(fastConfig(5), conn)
	e.Enable(testProfile())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, conn, nil)

	// Give Run a moment to subscribe, then simulate a drop.
	time.Sleep(20 * time.Millisecond)
	conn.feed.Set(models.Errored(vpnerror.Network("lost", nil)))

	waitFor(t, func() bool {
		connects, _, _ := conn.counts()
		return connects >= 1
	})
	connects, disconnects, notes := conn.counts()
	assert.Equal(t, 1, connects)
	assert.GreaterOrEqual(t, disconnects, 1, "half-open session is dropped before retrying")
	assert.GreaterOrEqual(t, notes, 1, "reconnecting was published")
	assert.False(t, e.Exhausted())
}

func TestRetryKeepsGoingUntilSuccess(t *testing.T) {
	conn := newFakeConnector(3) // two failures, then success
	e := NewEngine(fastConfig(5), conn)
	e.Enable(testProfile())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, conn, nil)

	time.Sleep(20 * time.Millisecond)
	conn.feed.Set(models.Errored(vpnerror.Network("lost", nil)))

	waitFor(t, func() bool {
		connects, _, _ := conn.counts()
		return connects >= 3
	})
	assert.False(t, e.Exhausted())
	assert.Equal(t, 3, e.Attempts(), "counter reflects the successful attempt")
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	conn := newFakeConnector(100) // never succeeds
	e := NewEngine(fastConfig(3), conn)
	e.Enable(testProfile())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, conn, nil)

	time.Sleep(20 * time.Millisecond)
	conn.feed.Set(models.Errored(vpnerror.Network("lost", nil)))

	waitFor(t, e.Exhausted)
	connects, _, _ := conn.counts()
	assert.Equal(t, 3, connects)

	// Exhaustion disarms the engine: a later error does not start a new run.
	conn.feed.Set(models.Errored(vpnerror.Network("still lost", nil)))
	time.Sleep(50 * time.Millisecond)
	connects, _, _ = conn.counts()
	assert.Equal(t, 3, connects)
}

func TestDisarmedEngineIgnoresErrors(t *testing.T) {
	conn := newFakeConnector(1)
	e := NewEngine(fastConfig(3), conn)
	// Never enabled.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, conn, nil)

	time.Sleep(20 * time.Millisecond)
	conn.feed.Set(models.Errored(vpnerror.Network("lost", nil)))
	time.Sleep(50 * time.Millisecond)

	connects, _, _ := conn.counts()
	assert.Equal(t, 0, connects)
}

func TestNetworkChangeTriggersRetry(t *testing.T) {
	conn := newFakeConnector(1)
	e := NewEngine(fastConfig(3), conn)
	e.Enable(testProfile())

	changes := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, conn, changes)

	time.Sleep(20 * time.Millisecond)
	changes <- struct{}{}

	waitFor(t, func() bool {
		connects, _, _ := conn.counts()
		return connects >= 1
	})
}

func TestRunStopsWithContext(t *testing.T) {
	conn := newFakeConnector(1)
	e := NewEngine(fastConfig(3), conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, conn, nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop with its context")
	}
}
