package wireguard

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatelink/internal/creds"
	"gatelink/internal/models"
	"gatelink/internal/vpnerror"
)

var (
	testPrivateKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x11}, 32))
	testPeerKey    = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x22}, 32))
)

type memCreds struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newMemCreds() *memCreds { return &memCreds{secrets: map[string]string{}} }

func (m *memCreds) Get(profileID string, kind creds.Kind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[profileID+"/"+string(kind)]
	if !ok {
		return "", creds.ErrNotFound
	}
	return s, nil
}

func (m *memCreds) Set(profileID string, kind creds.Kind, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[profileID+"/"+string(kind)] = secret
	return nil
}

func (m *memCreds) Delete(profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.secrets {
		delete(m.secrets, k)
	}
	return nil
}

type fakeEngine struct {
	mu        sync.Mutex
	stats     func() (*Stats, error)
	estErr    error
	stateErr  error
	teardowns int
}

func (e *fakeEngine) Establish(ctx context.Context, cfg *EngineConfig) (Handle, error) {
	if e.estErr != nil {
		return nil, e.estErr
	}
	return "fake-iface", nil
}

func (e *fakeEngine) SetState(ctx context.Context, h Handle, up bool, cfg *EngineConfig) error {
	if up {
		return e.stateErr
	}
	return nil
}

func (e *fakeEngine) Statistics(h Handle) (*Stats, error) {
	e.mu.Lock()
	fn := e.stats
	e.mu.Unlock()
	return fn()
}

func (e *fakeEngine) Teardown(ctx context.Context, h Handle) error {
	e.mu.Lock()
	e.teardowns++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) setStats(fn func() (*Stats, error)) {
	e.mu.Lock()
	e.stats = fn
	e.mu.Unlock()
}

func (e *fakeEngine) teardownCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.teardowns
}

func respondingStats() (*Stats, error) {
	return &Stats{Peers: []PeerStats{{
		RxBytes:       1024,
		TxBytes:       2048,
		LastHandshake: time.Now(),
	}}}, nil
}

func silentStats() (*Stats, error) {
	return &Stats{Peers: []PeerStats{{TxBytes: 2048}}}, nil
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.VerifyWindow = 300 * time.Millisecond
	opts.VerifyInterval = 5 * time.Millisecond
	opts.MonitorInterval = time.Hour // keep the monitor quiet unless a test tunes it
	opts.TestTimeout = time.Second
	opts.DisconnectTimeout = time.Second
	return opts
}

func wgProfile() *models.ServerProfile {
	return &models.ServerProfile{
		ID:       "wg-test",
		Name:     "test server",
		Protocol: models.ProtocolWireGuard,
		Host:     "127.0.0.1",
		Port:     51820,
		WireGuard: &models.WireGuardConfig{
			PeerPublicKey: testPeerKey,
			AllowedIPs:    []string{"0.0.0.0/0"},
		},
		CreatedAt: time.Now(),
	}
}

func newTestAdapter(t *testing.T, engine *fakeEngine, opts Options) (*Adapter, *memCreds) {
	t.Helper()
	store := newMemCreds()
	require.NoError(t, store.Set("wg-test", creds.KindWireGuardPrivateKey, testPrivateKey))
	return New(engine, store, opts), store
}

// collectUntil drains states from sub until pred matches or the deadline
// passes, returning everything seen.
func collectUntil(t *testing.T, a *Adapter, pred func(models.ConnectionState) bool) []models.ConnectionState {
	t.Helper()
	sub := a.ObserveState()
	defer sub.Cancel()

	var seen []models.ConnectionState
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st := <-sub.C:
			seen = append(seen, st)
			if pred(st) {
				return seen
			}
		case <-deadline:
			t.Fatalf("state never reached, saw %d states", len(seen))
		}
	}
}

func TestConnectSucceedsOncePeerResponds(t *testing.T) {
	engine := &fakeEngine{stats: respondingStats}
	a, _ := newTestAdapter(t, engine, fastOptions())

	conn, err := a.Connect(context.Background(), wgProfile())
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "wg-test", conn.ProfileID)
	assert.Equal(t, models.ProtocolWireGuard, conn.Protocol)
	assert.Equal(t, "127.0.0.1:51820", conn.ServerAddr)

	st, ok := a.feed.Get()
	require.True(t, ok)
	assert.Equal(t, models.PhaseConnected, st.Phase)
	require.NotNil(t, st.Connection)

	a.Disconnect(context.Background())
}

func TestConnectTimesOutWhenOnlySending(t *testing.T) {
	engine := &fakeEngine{stats: silentStats}
	a, _ := newTestAdapter(t, engine, fastOptions())

	sub := a.ObserveState()
	defer sub.Cancel()

	conn, err := a.Connect(context.Background(), wgProfile())
	assert.Nil(t, conn)

	var ve *vpnerror.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, vpnerror.KindTimeout, ve.Kind)
	assert.Equal(t, "handshake", ve.Diagnostic("stage"))
	assert.Equal(t, "0", ve.Diagnostic("rx_bytes"))
	assert.Equal(t, "2048", ve.Diagnostic("tx_bytes"))

	// The interface came up and sent packets, but with no response the
	// adapter must tear down and never report Connected.
	assert.Equal(t, 1, engine.teardownCount())
	for {
		select {
		case st := <-sub.C:
			assert.NotEqual(t, models.PhaseConnected, st.Phase)
			if st.Phase == models.PhaseError {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("error state never published")
		}
	}
}

func TestConnectRejectsWrongProtocol(t *testing.T) {
	a, _ := newTestAdapter(t, &fakeEngine{stats: respondingStats}, fastOptions())

	profile := wgProfile()
	profile.Protocol = models.ProtocolVLESS
	profile.WireGuard = nil
	profile.VLESS = &models.VLESSConfig{Transport: "tcp"}

	_, err := a.Connect(context.Background(), profile)
	var ve *vpnerror.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, vpnerror.KindConfiguration, ve.Kind)
}

func TestConnectWithoutStoredKey(t *testing.T) {
	engine := &fakeEngine{stats: respondingStats}
	a := New(engine, newMemCreds(), fastOptions())

	_, err := a.Connect(context.Background(), wgProfile())
	var ve *vpnerror.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, vpnerror.KindAuthentication, ve.Kind)
	assert.Equal(t, 0, engine.teardownCount(), "nothing was established")
}

func TestConnectWhileConnectedIsBusy(t *testing.T) {
	engine := &fakeEngine{stats: respondingStats}
	a, _ := newTestAdapter(t, engine, fastOptions())

	_, err := a.Connect(context.Background(), wgProfile())
	require.NoError(t, err)
	defer a.Disconnect(context.Background())

	_, err = a.Connect(context.Background(), wgProfile())
	var ve *vpnerror.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, vpnerror.KindBusy, ve.Kind)
}

func TestConnectCancelledDuringVerification(t *testing.T) {
	engine := &fakeEngine{stats: silentStats}
	opts := fastOptions()
	opts.VerifyWindow = 10 * time.Second
	a, _ := newTestAdapter(t, engine, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := a.Connect(ctx, wgProfile())
	require.Error(t, err)

	var ve *vpnerror.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, vpnerror.KindCanceled, ve.Kind)
	assert.Equal(t, 1, engine.teardownCount())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	engine := &fakeEngine{stats: respondingStats}
	a, _ := newTestAdapter(t, engine, fastOptions())

	_, err := a.Connect(context.Background(), wgProfile())
	require.NoError(t, err)

	a.Disconnect(context.Background())
	a.Disconnect(context.Background())

	assert.Equal(t, 1, engine.teardownCount())
	st, _ := a.feed.Get()
	assert.Equal(t, models.PhaseDisconnected, st.Phase)
	assert.Nil(t, a.Statistics())
}

func TestStatisticsWhileConnected(t *testing.T) {
	engine := &fakeEngine{stats: respondingStats}
	a, _ := newTestAdapter(t, engine, fastOptions())

	_, err := a.Connect(context.Background(), wgProfile())
	require.NoError(t, err)
	defer a.Disconnect(context.Background())

	stats := a.Statistics()
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1024), stats.BytesReceived)
	assert.Equal(t, uint64(2048), stats.BytesSent)
	require.NotNil(t, stats.LastHandshake)
	assert.False(t, stats.LastHandshake.IsZero())
	assert.False(t, stats.CollectedAt.IsZero())
}

func TestMonitorReportsConnectionLost(t *testing.T) {
	engine := &fakeEngine{stats: respondingStats}
	opts := fastOptions()
	opts.MonitorInterval = 5 * time.Millisecond
	opts.LostAfterPolls = 2
	opts.MinUptimeForLost = 0
	a, _ := newTestAdapter(t, engine, opts)

	_, err := a.Connect(context.Background(), wgProfile())
	require.NoError(t, err)

	engine.setStats(func() (*Stats, error) { return &Stats{}, nil })

	seen := collectUntil(t, a, func(st models.ConnectionState) bool {
		return st.Phase == models.PhaseError
	})
	last := seen[len(seen)-1]
	var ve *vpnerror.Error
	require.ErrorAs(t, last.Err, &ve)
	assert.Equal(t, vpnerror.KindNetwork, ve.Kind)

	assert.Nil(t, a.Statistics(), "session is gone after loss")
	assert.Equal(t, 1, engine.teardownCount())
}

func TestMonitorToleratesBriefGaps(t *testing.T) {
	engine := &fakeEngine{stats: respondingStats}
	opts := fastOptions()
	opts.MonitorInterval = 5 * time.Millisecond
	opts.LostAfterPolls = 50
	opts.MinUptimeForLost = 0
	a, _ := newTestAdapter(t, engine, opts)

	_, err := a.Connect(context.Background(), wgProfile())
	require.NoError(t, err)
	defer a.Disconnect(context.Background())

	// A short run of empty polls, then the peer is back.
	engine.setStats(func() (*Stats, error) { return &Stats{}, nil })
	time.Sleep(30 * time.Millisecond)
	engine.setStats(respondingStats)
	time.Sleep(30 * time.Millisecond)

	st, _ := a.feed.Get()
	assert.Equal(t, models.PhaseConnected, st.Phase)
}

func TestTestConnectionTrial(t *testing.T) {
	engine := &fakeEngine{stats: respondingStats}
	a, _ := newTestAdapter(t, engine, fastOptions())

	res, err := a.TestConnection(context.Background(), wgProfile())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.ErrorMessage)
	assert.Equal(t, 1, engine.teardownCount(), "trial interface was torn down")
}

func TestTestConnectionTrialFailure(t *testing.T) {
	engine := &fakeEngine{stats: silentStats}
	a, _ := newTestAdapter(t, engine, fastOptions())

	res, err := a.TestConnection(context.Background(), wgProfile())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "handshake")
}

func TestTestConnectionOnLiveTunnel(t *testing.T) {
	engine := &fakeEngine{stats: respondingStats}
	a, _ := newTestAdapter(t, engine, fastOptions())

	_, err := a.Connect(context.Background(), wgProfile())
	require.NoError(t, err)
	defer a.Disconnect(context.Background())

	res, err := a.TestConnection(context.Background(), wgProfile())
	require.NoError(t, err)
	assert.True(t, res.Success)
}
