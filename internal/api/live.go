package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/internal/lan"
)

const (
	// livePushInterval is how often the hub pushes a view frame.
	livePushInterval = 100 * time.Millisecond

	livePingInterval  = 25 * time.Second
	liveWriteDeadline = 5 * time.Second
	liveReadDeadline  = 60 * time.Second
)

// LiveHub fans the session view out to websocket clients. All writes
// happen on the hub goroutine; client readers only consume control
// frames.
type LiveHub struct {
	session  *lan.Session
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewLiveHub creates a hub bound to the session.
func NewLiveHub(session *lan.Session) *LiveHub {
	return &LiveHub{
		session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The dashboard may be served from another origin on the LAN.
				return true
			},
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Run pushes view frames to all connected clients until ctx is
// cancelled.
func (h *LiveHub) Run(ctx context.Context) {
	ticker := time.NewTicker(livePushInterval)
	defer ticker.Stop()

	lastPing := time.Now()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			view := h.session.View()
			data, err := json.Marshal(view)
			if err != nil {
				log.Warn().Err(err).Msg("failed to marshal live view")
				continue
			}

			ping := time.Since(lastPing) >= livePingInterval
			if ping {
				lastPing = time.Now()
			}
			h.push(data, ping)
		}
	}
}

// push writes one frame (and optionally a ping) to every client,
// dropping clients whose writes fail.
func (h *LiveHub) push(data []byte, ping bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(liveWriteDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.clients, conn)
			conn.Close()
			continue
		}
		if ping {
			conn.SetWriteDeadline(time.Now().Add(liveWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				delete(h.clients, conn)
				conn.Close()
			}
		}
	}
}

func (h *LiveHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// ClientCount returns the number of connected live clients.
func (h *LiveHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handle upgrades the request and registers the client with the hub.
func (h *LiveHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("client", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(liveReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(liveReadDeadline))
		return nil
	})

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	log.Debug().Str("client", r.RemoteAddr).Int("total", total).Msg("live client connected")

	// Reader loop: the stream is one-way, but reading is required to
	// process pongs and close frames.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
			log.Debug().Str("client", r.RemoteAddr).Msg("live client disconnected")
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleLive is the Gin endpoint wrapping the hub's upgrade handler.
func (s *Server) handleLive(c *gin.Context) {
	s.live.Handle(c.Writer, c.Request)
}
