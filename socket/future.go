package socket

import (
	"context"
	"sync"
)

// Future is the pending result of a call. It is completed exactly once; later
// completions are ignored.
type Future[P any] struct {
	done  chan struct{}
	once  sync.Once
	value P
	err   error
}

func newFuture[P any]() *Future[P] {
	return &Future[P]{done: make(chan struct{})}
}

func failedFuture[P any](err error) *Future[P] {
	f := newFuture[P]()
	f.reject(err)
	return f
}

func (f *Future[P]) complete(value P, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		completed = true
		close(f.done)
	})
	return completed
}

func (f *Future[P]) resolve(value P) bool {
	return f.complete(value, nil)
}

func (f *Future[P]) reject(err error) bool {
	var zero P
	return f.complete(zero, err)
}

// Done is closed once the call is resolved or rejected.
func (f *Future[P]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the call completes.
func (f *Future[P]) Result() (P, error) {
	<-f.done
	return f.value, f.err
}

// Wait blocks until the call completes or ctx is done. Giving up on the wait
// does not cancel the call: its job stays outstanding until answered, swept
// or destroyed.
func (f *Future[P]) Wait(ctx context.Context) (P, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero P
		return zero, ctx.Err()
	}
}
