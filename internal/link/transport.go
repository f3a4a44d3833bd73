package link

import (
	"context"
	"sync"
)

// NotifyFunc receives a raw notification from the peer. Transports call it
// from their own goroutines and must not block on it.
type NotifyFunc func(payload []byte)

// Session is one established connection to the peer
type Session interface {
	// Write sends a command. Implementations honour ctx's deadline.
	Write(ctx context.Context, payload []byte) error
	// Done is closed when the session is lost
	Done() <-chan struct{}
	// Err reports why the session ended, nil while it is alive
	Err() error
	Close() error
}

// Transport opens sessions. Each Connect must subscribe to peer
// notifications so they resume after every reconnect.
type Transport interface {
	Name() string
	Connect(ctx context.Context, peer string, notify NotifyFunc) (Session, error)
}

// DropSignal is the shared Done/Err bookkeeping for Session implementations
type DropSignal struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// NewDropSignal returns an armed signal
func NewDropSignal() *DropSignal {
	return &DropSignal{done: make(chan struct{})}
}

// Drop marks the session lost. Only the first call has any effect.
func (d *DropSignal) Drop(err error) {
	d.once.Do(func() {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		close(d.done)
	})
}

// Done is closed after Drop
func (d *DropSignal) Done() <-chan struct{} {
	return d.done
}

// Err returns the error passed to the first Drop
func (d *DropSignal) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Dropped reports whether Drop was called
func (d *DropSignal) Dropped() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}
