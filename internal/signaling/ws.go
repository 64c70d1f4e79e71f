package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Dial connects to a relay room, e.g.:
//
//	ws://127.0.0.1:8080/ws/room-1
func Dial(ctx context.Context, url string) (*Gateway, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return NewGateway(conn), nil
}
