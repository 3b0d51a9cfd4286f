package observe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for feed value")
		panic("unreachable")
	}
}

func TestFeedGetBeforeFirstSet(t *testing.T) {
	f := NewFeed[int]()
	_, ok := f.Get()
	assert.False(t, ok)

	f.Set(7)
	v, ok := f.Get()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestSubscribeReplaysLatest(t *testing.T) {
	f := NewFeed[string]()
	f.Set("first")
	f.Set("second")

	sub := f.Subscribe()
	defer sub.Cancel()

	assert.Equal(t, "second", recv(t, sub.C))
}

func TestAllSubscribersReceive(t *testing.T) {
	f := NewFeed[int]()
	a := f.Subscribe()
	b := f.Subscribe()
	defer a.Cancel()
	defer b.Cancel()

	f.Set(42)
	assert.Equal(t, 42, recv(t, a.C))
	assert.Equal(t, 42, recv(t, b.C))
}

func TestCancelStopsDelivery(t *testing.T) {
	f := NewFeed[int]()
	sub := f.Subscribe()
	sub.Cancel()

	// Safe to cancel twice.
	sub.Cancel()

	f.Set(1)
	_, open := <-sub.C
	assert.False(t, open, "channel should be closed after cancel")
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	f := NewFeed[int]()
	sub := f.Subscribe()
	defer sub.Cancel()

	total := subscriberBuffer + 5
	for i := 1; i <= total; i++ {
		f.Set(i)
	}

	// The oldest values were dropped; what remains ends with the newest,
	// and the writer never blocked to deliver it.
	var got []int
	for len(got) < subscriberBuffer {
		got = append(got, recv(t, sub.C))
	}
	require.NotEmpty(t, got)
	assert.Equal(t, total, got[len(got)-1])
	assert.IsIncreasing(t, got)
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	f := NewFeed[int]()
	f.Set(3)
	sub := f.Subscribe()
	recv(t, sub.C)

	f.Close()
	_, open := <-sub.C
	assert.False(t, open)

	// Set after close is a no-op; a later subscribe sees a closed channel.
	f.Set(9)
	late := f.Subscribe()
	_, open = <-late.C
	assert.False(t, open)

	// Cancel on both is still safe.
	sub.Cancel()
	late.Cancel()
}
