package vfs

import (
	"context"
	"sync"

	"github.com/InsulaLabs/hmacfs/pkg/vpath"
)

// pathLocker grants exclusive access to a subtree. Two holders never coexist
// when one path is an ancestor-or-self of the other.
type pathLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{} // closed on release
}

func newPathLocker() *pathLocker {
	return &pathLocker{held: make(map[string]chan struct{})}
}

// Lock blocks until p can be held or ctx is done.
func (l *pathLocker) Lock(ctx context.Context, p string) (func(), error) {
	for {
		l.mu.Lock()
		blocker := l.conflict(p)
		if blocker == nil {
			done := make(chan struct{})
			l.held[p] = done
			l.mu.Unlock()
			return sync.OnceFunc(func() { l.release(p, done) }), nil
		}
		l.mu.Unlock()

		select {
		case <-blocker:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *pathLocker) conflict(p string) chan struct{} {
	for held, done := range l.held {
		if vpath.Overlaps(held, p) {
			return done
		}
	}
	return nil
}

func (l *pathLocker) release(p string, done chan struct{}) {
	l.mu.Lock()
	if l.held[p] == done {
		delete(l.held, p)
	}
	l.mu.Unlock()
	close(done)
}
