// Package link abstracts the point-to-point channel between the two
// peers. The engine only ever sees this interface; concrete transports
// (loopback, MQTT, WebSocket) live alongside it.
package link

import (
	"context"
	"errors"
)

var (
	// ErrUnreachable is returned when the peer cannot be reached right
	// now. Treated as transient by the engine.
	ErrUnreachable = errors.New("link: peer unreachable")

	// ErrReplyTimeout is returned when an interactive send got no reply
	// in time. Treated exactly like a transport failure.
	ErrReplyTimeout = errors.New("link: reply timeout")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("link: closed")
)

// Handler receives inbound traffic from the peer. OnMessage may return a
// reply payload, delivered to the peer when the message arrived via an
// interactive send; a nil reply means no acknowledgement.
type Handler interface {
	OnMessage(payload []byte) (reply []byte)
	OnLatestState(payload []byte)
}

// Link is the transport consumed by the sync engine. It offers three
// delivery qualities: interactive request/reply, fire-and-forget, and a
// single-slot latest-state overwrite delivered on next reconnect.
type Link interface {
	// Reachable reports whether the peer is currently reachable.
	Reachable() bool

	// SendInteractive delivers the payload and waits for the peer's
	// reply. It fails when the peer is unreachable or does not reply in
	// time.
	SendInteractive(ctx context.Context, payload []byte) ([]byte, error)

	// SendFireAndForget delivers the payload without confirmation.
	SendFireAndForget(ctx context.Context, payload []byte) error

	// UpdateLatestState overwrites the single durable latest-state slot.
	// The slot survives unreachability; the peer observes only the most
	// recent value, at next reconnect.
	UpdateLatestState(ctx context.Context, payload []byte) error

	// SetHandler registers the inbound callback. Must be called before
	// traffic flows.
	SetHandler(h Handler)

	// Close tears the link down.
	Close() error
}
