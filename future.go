package mysqlnio

import (
	"context"
	"sync"
)

// Future is a single-assignment promise, grounded on spec §5's realization
// of the Connection Core's asynchronous handshake/query completion. It has
// no teacher equivalent -- vaquita-mysql's Conn blocks its caller directly --
// but follows the same shape as the channel-based futures used throughout
// the corpus's async plumbing (e.g. the run-loop result channels in
// pingcap-tidb's internal session code).
type Future[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	value    T
	err      error
	resolved bool
}

// NewFuture returns a Future ready to be resolved exactly once.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve assigns the future's value and wakes every waiter. A second call
// is a no-op -- single-assignment semantics, matching the "at most once"
// framing of the connect/query lifecycle in spec §4.1.
func (f *Future[T]) resolve(v T, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return
	}
	f.value = v
	f.err = err
	f.resolved = true
	close(f.done)
}

// Get blocks until the future resolves or the context is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the future has been resolved without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
