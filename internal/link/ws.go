package link

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// WS frame types.
const (
	wsFrameMessage = "message"
	wsFrameReply   = "reply"
	wsFrameState   = "state"
)

// wsFrame is the JSON envelope on a WebSocket link.
type wsFrame struct {
	Type    string `json:"type"`
	CorrID  string `json:"corr_id,omitempty"`
	Payload []byte `json:"payload"`
}

// WSLink carries peer traffic over a single WebSocket connection. It is a
// development transport for IP-reachable setups: the controller accepts,
// the satellite dials. A dropped connection makes the link unreachable
// until Rebind attaches a fresh one, which also flushes the pending
// latest-state slot.
type WSLink struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	handler Handler
	pending map[string]chan []byte
	slot    []byte
	closed  bool

	readCancel context.CancelFunc
}

// NewWS creates a WebSocket link without a connection. Attach one with
// Rebind (or use DialWS / AcceptWS).
func NewWS(logger *slog.Logger) *WSLink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSLink{
		logger:  logger.With("link", "websocket"),
		pending: make(map[string]chan []byte),
	}
}

// DialWS connects to a peer's WebSocket endpoint, presenting the pairing
// token as a bearer credential.
func DialWS(ctx context.Context, url, token string, logger *slog.Logger) (*WSLink, error) {
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", url, err)
	}
	l := NewWS(logger)
	l.Rebind(conn)
	return l, nil
}

// AcceptWS upgrades an incoming HTTP request and attaches it to the link.
func (l *WSLink) AcceptWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return fmt.Errorf("ws accept: %w", err)
	}
	l.Rebind(conn)
	return nil
}

// Rebind attaches a fresh connection, replacing any previous one, starts
// the read loop and flushes the pending latest-state slot.
func (l *WSLink) Rebind(conn *websocket.Conn) {
	l.mu.Lock()
	if l.readCancel != nil {
		l.readCancel()
	}
	if l.conn != nil {
		l.conn.Close(websocket.StatusGoingAway, "rebind")
	}
	l.conn = conn
	ctx, cancel := context.WithCancel(context.Background())
	l.readCancel = cancel
	slot := l.slot
	l.slot = nil
	l.mu.Unlock()

	go l.readLoop(ctx, conn)

	if slot != nil {
		if err := l.writeFrame(context.Background(), wsFrame{Type: wsFrameState, Payload: slot}); err != nil {
			l.logger.Warn("failed to flush latest-state slot", "error", err)
		}
	}
}

func (l *WSLink) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

func (l *WSLink) Reachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil && !l.closed
}

func (l *WSLink) SendInteractive(ctx context.Context, payload []byte) ([]byte, error) {
	if !l.Reachable() {
		return nil, ErrUnreachable
	}

	corrID := uuid.New().String()
	replyCh := make(chan []byte, 1)
	l.mu.Lock()
	l.pending[corrID] = replyCh
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, corrID)
		l.mu.Unlock()
	}()

	if err := l.writeFrame(ctx, wsFrame{Type: wsFrameMessage, CorrID: corrID, Payload: payload}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	select {
	case reply, ok := <-replyCh:
		if !ok {
			// Close drained the pending table mid-wait.
			return nil, ErrClosed
		}
		return reply, nil
	case <-timer.C:
		return nil, ErrReplyTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *WSLink) SendFireAndForget(ctx context.Context, payload []byte) error {
	if !l.Reachable() {
		return ErrUnreachable
	}
	return l.writeFrame(ctx, wsFrame{Type: wsFrameMessage, Payload: payload})
}

func (l *WSLink) UpdateLatestState(ctx context.Context, payload []byte) error {
	l.mu.Lock()
	up := l.conn != nil && !l.closed
	if !up {
		l.slot = append([]byte(nil), payload...)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.writeFrame(ctx, wsFrame{Type: wsFrameState, Payload: payload})
}

func (l *WSLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conn := l.conn
	l.conn = nil
	if l.readCancel != nil {
		l.readCancel()
	}
	for id, ch := range l.pending {
		close(ch)
		delete(l.pending, id)
	}
	l.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

func (l *WSLink) writeFrame(ctx context.Context, f wsFrame) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrUnreachable
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal ws frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

func (l *WSLink) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			l.mu.Lock()
			if l.conn == conn {
				l.conn = nil
			}
			l.mu.Unlock()
			if ctx.Err() == nil {
				l.logger.Warn("ws read loop ended", "error", err)
			}
			return
		}

		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			l.logger.Warn("malformed ws frame", "error", err)
			continue
		}
		l.dispatch(ctx, f)
	}
}

func (l *WSLink) dispatch(ctx context.Context, f wsFrame) {
	switch f.Type {
	case wsFrameMessage:
		l.mu.Lock()
		h := l.handler
		l.mu.Unlock()
		if h == nil {
			return
		}
		reply := h.OnMessage(f.Payload)
		if reply != nil && f.CorrID != "" {
			if err := l.writeFrame(ctx, wsFrame{Type: wsFrameReply, CorrID: f.CorrID, Payload: reply}); err != nil {
				l.logger.Warn("failed to send ws reply", "corr_id", f.CorrID, "error", err)
			}
		}
	case wsFrameReply:
		l.mu.Lock()
		ch, ok := l.pending[f.CorrID]
		if ok {
			// Delivered under the lock so Close cannot close the
			// channel between lookup and send.
			select {
			case ch <- f.Payload:
			default:
			}
		}
		l.mu.Unlock()
		if !ok {
			l.logger.Debug("ws reply for unknown correlation id", "corr_id", f.CorrID)
		}
	case wsFrameState:
		l.mu.Lock()
		h := l.handler
		l.mu.Unlock()
		if h != nil {
			h.OnLatestState(f.Payload)
		}
	default:
		l.logger.Debug("unknown ws frame type", "type", f.Type)
	}
}
