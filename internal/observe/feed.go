// Package observe provides an owner-exclusive observable cell. One component
// writes it; any number of subscribers receive updates over their own
// buffered channel, with the latest value replayed on subscribe. Writer
// exclusivity is a module-boundary convention, not a runtime check.
package observe

import "sync"

const subscriberBuffer = 16

// Feed holds the current value of type T and broadcasts changes.
type Feed[T any] struct {
	mu     sync.Mutex
	value  T
	set    bool
	nextID int
	subs   map[int]chan T
	closed bool
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]chan T)}
}

// Set publishes a new value. A subscriber that is not draining its channel
// loses its oldest pending update rather than blocking the writer.
func (f *Feed[T]) Set(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.value = v
	f.set = true
	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

// Get returns the current value and whether one has been set.
func (f *Feed[T]) Get() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.set
}

// Subscription delivers feed updates on C until cancelled.
type Subscription[T any] struct {
	C      <-chan T
	cancel func()
}

func (s *Subscription[T]) Cancel() { s.cancel() }

// Subscribe registers a new subscriber. The latest value, if any, is
// already queued on C when Subscribe returns.
func (f *Feed[T]) Subscribe() *Subscription[T] {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, subscriberBuffer)
	if f.closed {
		close(ch)
		return &Subscription[T]{C: ch, cancel: func() {}}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	if f.set {
		ch <- f.value
	}

	return &Subscription[T]{
		C: ch,
		cancel: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		},
	}
}

// Close terminates every subscription. Further Set calls are ignored.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
