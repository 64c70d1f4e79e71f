package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/util"
)

// Handler receives every well-formed inbound message, in arrival order.
type Handler func(Message)

// Gateway marshals signaling messages to and from one relay WebSocket.
// Send is safe for concurrent use; Run must be called at most once.
type Gateway struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewGateway wraps an established WebSocket connection.
func NewGateway(conn *websocket.Conn) *Gateway {
	return &Gateway{conn: conn}
}

// Send writes a signaling message to the WebSocket, guarded by a mutex.
func (g *Gateway) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	util.Stats.AddSent()
	return nil
}

// Run reads messages until the connection fails or ctx is cancelled, handing
// each one to h on the calling goroutine. Malformed or unknown messages are
// logged and skipped since the relay is untrusted.
func (g *Gateway) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { g.Close() })
	defer stop()

	for {
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read signaling message: %w", err)
		}
		util.Stats.AddRecv()

		msg, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				util.LogDebug("ignoring signaling message: %v", err)
			} else {
				util.LogWarning("dropping signaling message: %v", err)
			}
			continue
		}

		h(msg)
	}
}

// Close sends a normal closure frame and closes the connection. Safe to call
// multiple times.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.mu.Lock()
		_ = g.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		g.mu.Unlock()
		err = g.conn.Close()
	})
	return err
}
