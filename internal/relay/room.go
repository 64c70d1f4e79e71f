package relay

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/util"
)

const sendQueueSize = 256

// client is one participant's WebSocket and its outbound queue.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{id: id, conn: conn, send: make(chan []byte, sendQueueSize)}
}

// enqueue hands a frame to the write pump without blocking the sender's
// read loop. A full queue drops the frame.
func (c *client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		util.LogWarning("[%s] send queue full, dropping frame", util.ShortID(c.id))
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// room pairs at most two participants.
type room struct {
	name string

	mu    sync.RWMutex
	peers []*client
}

// join adds c unless the room already holds two participants.
func (r *room) join(c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) >= 2 {
		return false
	}
	r.peers = append(r.peers, c)
	return true
}

// leave removes c and reports whether the room is now empty.
func (r *room) leave(c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.peers {
		if p == c {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			break
		}
	}
	return len(r.peers) == 0
}

// other returns the participant that is not c.
func (r *room) other(c *client) (*client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p != c {
			return p, true
		}
	}
	return nil, false
}

func (r *room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
