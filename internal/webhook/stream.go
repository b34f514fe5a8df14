package webhook

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

const (
	streamBuffer    = 64
	streamPingEvery = 30 * time.Second
	streamWriteWait = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AuditHub fans audit entries out to connected stream clients. A client that
// falls behind by more than its buffer loses entries rather than blocking the
// writer.
type AuditHub struct {
	mu      sync.Mutex
	clients map[chan types.AuditEntry]struct{}
	dropped uint64
}

func NewAuditHub() *AuditHub {
	return &AuditHub{clients: make(map[chan types.AuditEntry]struct{})}
}

// Publish delivers e to every subscriber without blocking
func (h *AuditHub) Publish(e types.AuditEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- e:
		default:
			h.dropped++
		}
	}
}

// Subscribe registers a new client channel
func (h *AuditHub) Subscribe() chan types.AuditEntry {
	ch := make(chan types.AuditEntry, streamBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a client channel
func (h *AuditHub) Unsubscribe(ch chan types.AuditEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Clients returns the number of connected subscribers
func (h *AuditHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) stream(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audit stream not enabled"})
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warning("stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	entries := s.hub.Subscribe()
	defer s.hub.Unsubscribe(entries)
	s.log.Info("audit stream client connected from %s", c.ClientIP())

	// the read side only detects the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Debug("stream write failed: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
