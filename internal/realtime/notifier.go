package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Notifier fans a "store changed, re-fetch" signal out to the UI layer.
// Callbacks are isolated: one panicking callback must not stop the others.
type Notifier struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
	log  *zap.SugaredLogger
}

func NewNotifier(log *zap.SugaredLogger) *Notifier {
	return &Notifier{fns: map[int]func(){}, log: log}
}

// Subscribe registers a callback and returns its unsubscribe function.
func (n *Notifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	id := n.next
	n.next++
	n.fns[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.fns, id)
		n.mu.Unlock()
	}
}

func (n *Notifier) Notify() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.fns))
	for _, fn := range n.fns {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					n.log.Warnw("update callback panicked", "panic", r)
				}
			}()
			fn()
		}()
	}
}
