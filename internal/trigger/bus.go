package trigger

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = eris.New("trigger: notification bus is closed")

// Event is one storage notification awaiting a load.
type Event struct {
	ID  string `json:"id"`  // stable across redeliveries
	Key string `json:"key"` // object key
}

// Bus is a bounded in-process queue of notifications.
type Bus struct {
	mu     sync.RWMutex
	closed bool
	ch     chan Event
}

// NewBus returns a bus holding up to buffer pending events.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish enqueues ev, blocking while the buffer is full.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the receive side. It is closed by Close.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}

// Close stops accepting events. Pending events are still delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
