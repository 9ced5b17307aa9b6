package cache

import "context"

// Handle is a shared, once-resolved result. Every waiter observes the same
// value and error.
type Handle[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func newHandle[V any]() *Handle[V] {
	return &Handle[V]{done: make(chan struct{})}
}

// Resolved returns a handle that is already settled with value and err.
func Resolved[V any](value V, err error) *Handle[V] {
	h := newHandle[V]()
	h.resolve(value, err)
	return h
}

// resolve must be called exactly once.
func (h *Handle[V]) resolve(value V, err error) {
	h.value = value
	h.err = err
	close(h.done)
}

// Done is closed once the result is available.
func (h *Handle[V]) Done() <-chan struct{} { return h.done }

// Settled reports whether the result is available.
func (h *Handle[V]) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the result is available or ctx is done. Giving up on ctx
// does not stop the underlying computation.
func (h *Handle[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
