package hierarchy

import (
	"sync"

	"github.com/agentic-research/hiercache/internal/scene"
)

// Resyncer accepts resync notifications. Both Cache and Guard implement it.
type Resyncer interface {
	ResyncSubtrees(paths []scene.Path) error
}

// Listener feeds a Notifier's resync events to a Resyncer one at a time.
// Events delivered while a resync is running (for instance because a handler
// mutated the source) are queued and drained in order once it returns.
type Listener struct {
	target  Resyncer
	onError func(paths []scene.Path, err error)

	mu       sync.Mutex
	queue    [][]scene.Path
	draining bool
	cancel   func()
}

// ListenerOption configures Listen.
type ListenerOption func(*Listener)

// OnError is called for every failed resync.
func OnError(fn func(paths []scene.Path, err error)) ListenerOption {
	return func(l *Listener) { l.onError = fn }
}

// Listen subscribes target to n until Close is called.
func Listen(n scene.Notifier, target Resyncer, opts ...ListenerOption) *Listener {
	l := &Listener{target: target}
	for _, o := range opts {
		o(l)
	}
	l.cancel = n.Subscribe(l.handle)
	return l
}

func (l *Listener) handle(paths []scene.Path) {
	l.mu.Lock()
	l.queue = append(l.queue, paths)
	if l.draining {
		l.mu.Unlock()
		return
	}
	l.draining = true
	for len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		if err := l.target.ResyncSubtrees(next); err != nil && l.onError != nil {
			l.onError(next, err)
		}
		l.mu.Lock()
	}
	l.draining = false
	l.mu.Unlock()
}

// Pending returns the number of queued notifications.
func (l *Listener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close unsubscribes from the notifier.
func (l *Listener) Close() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}
