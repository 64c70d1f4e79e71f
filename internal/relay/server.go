// Package relay is a minimal two-party signaling relay: each room forwards
// every text frame from one participant to the other, verbatim.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/util"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server routes WebSocket participants into rooms.
type Server struct {
	router *gin.Engine

	mu    sync.Mutex
	rooms map[string]*room
}

// NewServer creates a relay with its routes registered.
func NewServer() *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		rooms:  make(map[string]*room),
	}
	s.router.Use(gin.Recovery())
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/ws/:room", s.handleWS)
	return s
}

// Handler exposes the relay's routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	util.LogInfo("relay listening on %s", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// RoomSize reports how many participants are in the named room.
func (s *Server) RoomSize(name string) int {
	s.mu.Lock()
	r, ok := s.rooms[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return r.size()
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	n := len(s.rooms)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": n})
}

func (s *Server) handleWS(c *gin.Context) {
	name := c.Param("room")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogWarning("upgrade failed: %v", err)
		return
	}

	cl := newClient(uuid.NewString(), conn)

	// Only two participants per room.
	r, ok := s.join(name, cl)
	if !ok {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "room is full"))
		conn.Close()
		util.LogInfo("[%s] rejected: room %q is full", util.ShortID(cl.id), name)
		return
	}
	util.LogInfo("[%s] joined room %q (%d/2)", util.ShortID(cl.id), name, r.size())

	go s.writePump(cl)
	s.readPump(r, cl)
}

// join places cl in the named room, creating it on first use.
func (s *Server) join(name string, cl *client) (*room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	if !ok {
		r = &room{name: name}
		s.rooms[name] = r
	}
	return r, r.join(cl)
}

func (s *Server) removeClient(r *room, cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.leave(cl) && s.rooms[r.name] == r {
		delete(s.rooms, r.name)
	}
}

// readPump forwards every text frame to the other participant. Frames sent
// while alone in the room are dropped: the relay does not store messages.
func (s *Server) readPump(r *room, cl *client) {
	defer func() {
		s.removeClient(r, cl)
		cl.close()
		cl.conn.Close()
		util.LogInfo("[%s] left room %q", util.ShortID(cl.id), r.name)
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	for {
		typ, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage {
			continue
		}

		peer, ok := r.other(cl)
		if !ok {
			util.LogDebug("[%s] no peer in room %q, dropping frame", util.ShortID(cl.id), r.name)
			continue
		}
		peer.enqueue(data)
	}
}

func (s *Server) writePump(cl *client) {
	for frame := range cl.send {
		cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			util.LogDebug("[%s] write failed: %v", util.ShortID(cl.id), err)
			cl.conn.Close()
			return
		}
	}
	cl.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
