package keyfs

import (
	"context"
	"sync"
)

// Notifier tracks the last committed serial and lets callers wait for a serial to be reached
type Notifier struct {
	mu      sync.Mutex
	serial  int64
	changed chan struct{}
}

// NewNotifier starting at some serial
func NewNotifier(serial int64) *Notifier {
	return &Notifier{
		serial:  serial,
		changed: make(chan struct{}),
	}
}

// Serial last notified
func (n *Notifier) Serial() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.serial
}

// Notify that a serial has been committed, waking up all waiters.
//
// Serials never go backwards: notifying an older serial is a no-op.
func (n *Notifier) Notify(serial int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if serial <= n.serial {
		return
	}
	n.serial = serial
	close(n.changed)
	n.changed = make(chan struct{})
}

// WaitTxSerial blocks until the committed serial is at least serial, or the context is done.
//
// There is no timeout other than the one carried by the context.
func (n *Notifier) WaitTxSerial(ctx context.Context, serial int64) error {
	for {
		n.mu.Lock()
		if n.serial >= serial {
			n.mu.Unlock()
			return nil
		}
		changed := n.changed
		n.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
