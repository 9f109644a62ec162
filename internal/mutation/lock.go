package mutation

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// WriteLock serializes persist steps in arrival order. Each Acquire takes
// a ticket chained to the previous one and waits for it to be released.
type WriteLock struct {
	mu   sync.Mutex
	tail chan struct{}
}

// NewWriteLock returns an unlocked WriteLock.
func NewWriteLock() *WriteLock {
	return &WriteLock{tail: closedChan()}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Acquire blocks until every earlier ticket is released or ctx is done.
// The returned release func is idempotent. A caller that gives up still
// holds its place in the chain; its ticket passes through as soon as the
// predecessor releases.
func (l *WriteLock) Acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	prev := l.tail
	next := make(chan struct{})
	l.tail = next
	l.mu.Unlock()

	var once sync.Once
	release := func() { once.Do(func() { close(next) }) }

	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev
			release()
		}()
		return nil, errors.Wrap(ctx.Err(), "acquire write lock")
	}
}

// Reset drops every pending ticket. Only for tests.
func (l *WriteLock) Reset() {
	l.mu.Lock()
	l.tail = closedChan()
	l.mu.Unlock()
}
