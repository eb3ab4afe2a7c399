package link

import (
	"context"
	"sync"
)

// Loopback is an in-process link half. NewPair wires two halves together
// for tests and single-host development; reachability is switchable to
// exercise offline behavior.
type Loopback struct {
	mu        sync.Mutex
	peer      *Loopback
	handler   Handler
	reachable bool
	closed    bool

	// slot holds the latest-state payload published by this half but not
	// yet delivered to the peer.
	slot []byte
}

// NewPair returns two connected loopback halves, initially reachable.
func NewPair() (*Loopback, *Loopback) {
	a := &Loopback{reachable: true}
	b := &Loopback{reachable: true}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *Loopback) Reachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachable && !l.closed
}

// SetReachable flips reachability for both directions through this half.
// Returning to reachable flushes any pending latest-state slot to the
// peer.
func (l *Loopback) SetReachable(up bool) {
	l.mu.Lock()
	l.reachable = up
	var flush []byte
	if up && l.slot != nil {
		flush = l.slot
		l.slot = nil
	}
	peer := l.peer
	l.mu.Unlock()

	if flush != nil && peer != nil {
		peer.deliverLatestState(flush)
	}
}

func (l *Loopback) SendInteractive(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.Reachable() || !l.peer.Reachable() {
		return nil, ErrUnreachable
	}
	reply := l.peer.deliverMessage(payload)
	if reply == nil {
		return nil, ErrReplyTimeout
	}
	return reply, nil
}

func (l *Loopback) SendFireAndForget(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.Reachable() || !l.peer.Reachable() {
		return ErrUnreachable
	}
	l.peer.deliverMessage(payload)
	return nil
}

func (l *Loopback) UpdateLatestState(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	up := l.reachable && l.peer.Reachable()
	if !up {
		// Overwrite the slot; only the newest value survives.
		l.slot = append([]byte(nil), payload...)
		l.mu.Unlock()
		return nil
	}
	peer := l.peer
	l.mu.Unlock()

	peer.deliverLatestState(payload)
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.reachable = false
	l.mu.Unlock()
	return nil
}

func (l *Loopback) deliverMessage(payload []byte) []byte {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.OnMessage(payload)
}

func (l *Loopback) deliverLatestState(payload []byte) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return
	}
	h.OnLatestState(payload)
}
