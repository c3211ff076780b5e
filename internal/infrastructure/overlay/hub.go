// Package overlay implements the WebSocket overlay channel: a bounded hub
// of browser clients that receive drawing instructions rendered on top of
// the video stream.
package overlay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"roverlink/internal/core/domain"
	"roverlink/internal/core/ports"
	"roverlink/internal/infrastructure/monitoring"
	"roverlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // viewers connect from arbitrary origins on the LAN
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config carries the overlay channel settings.
type Config struct {
	Enabled      bool
	MaxClients   int
	WriteTimeout time.Duration
}

// Hub tracks connected overlay clients and fans overlay documents out to
// them. Delivery is fire-and-forget: a client that cannot be written to is
// closed and dropped, never retried.
type Hub struct {
	cfg     Config
	log     *zap.SugaredLogger
	tput    ports.ThroughputRecorder
	metrics *monitoring.Collector

	mu       sync.Mutex
	sessions map[*websocket.Conn]string // conn -> session id

	// Serializes fan-out passes only. Kept separate from mu so a slow
	// broadcast never blocks admission, eviction or ClientCount.
	writeMu sync.Mutex
}

func NewHub(cfg Config, log *zap.SugaredLogger, tput ports.ThroughputRecorder, metrics *monitoring.Collector) *Hub {
	return &Hub{
		cfg:      cfg,
		log:      log,
		tput:     tput,
		metrics:  metrics,
		sessions: make(map[*websocket.Conn]string),
	}
}

// HandleWebSocket upgrades the request and services the client until it
// disconnects. Admission is checked before the upgrade so a rejected client
// sees a plain HTTP error rather than a half-open socket.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	if !h.cfg.Enabled {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "overlay channel disabled"})
		return
	}

	h.mu.Lock()
	if len(h.sessions) >= h.cfg.MaxClients {
		h.mu.Unlock()
		h.log.Warnw("maximum overlay clients reached, rejecting connection",
			"remote_addr", c.ClientIP(), "max_clients", h.cfg.MaxClients)
		h.metrics.RecordCapacityReject("overlay")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": domain.ErrRegistryFull.Error()})
		return
	}
	h.mu.Unlock()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorw("websocket upgrade failed", "remote_addr", c.ClientIP(), "error", err)
		return
	}

	sessionID := uuid.New().String()

	h.mu.Lock()
	if len(h.sessions) >= h.cfg.MaxClients {
		// Lost the race between the admission check and the upgrade.
		h.mu.Unlock()
		h.metrics.RecordCapacityReject("overlay")
		conn.Close()
		return
	}
	h.sessions[conn] = sessionID
	count := len(h.sessions)
	h.mu.Unlock()

	h.metrics.SetOverlayClients(count)
	h.log.Infow("overlay client connected",
		"session_id", sessionID, "remote_addr", c.ClientIP(), "clients", count)

	h.readLoop(conn, sessionID)

	h.mu.Lock()
	delete(h.sessions, conn)
	count = len(h.sessions)
	h.mu.Unlock()
	conn.Close()

	h.metrics.SetOverlayClients(count)
	h.log.Infow("overlay client disconnected", "session_id", sessionID, "clients", count)
}

// readLoop drains inbound frames until the connection dies. Clients are not
// expected to send anything meaningful; text messages are logged for
// debugging and pings are answered by the protocol handler inside ReadMessage.
func (h *Hub) readLoop(conn *websocket.Conn, sessionID string) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugw("overlay read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		h.tput.AddRx(len(data))
		if msgType == websocket.TextMessage {
			h.log.Debugw("overlay client message", "session_id", sessionID, "message", string(data))
		}
	}
}

// Broadcast encodes the overlay document once and writes it to every
// connected client. A failed write closes and drops that client only; the
// return value is the number of clients the document reached.
func (h *Hub) Broadcast(ov *domain.Overlay) (int, error) {
	payload, err := ov.MarshalJSON()
	if err != nil {
		return 0, err
	}

	_, span := tracing.TraceBroadcast(context.Background(), "overlay")
	defer span.End()

	// Snapshot the membership, then write with no session lock held: one
	// stalled client may burn its own write deadline but cannot delay the
	// other clients' delivery or freeze admission and eviction.
	h.mu.Lock()
	targets := make(map[*websocket.Conn]string, len(h.sessions))
	for conn, sessionID := range h.sessions {
		targets[conn] = sessionID
	}
	h.mu.Unlock()

	h.writeMu.Lock()
	var failed []*websocket.Conn
	sent := 0
	for conn, sessionID := range targets {
		conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if werr := conn.WriteMessage(websocket.TextMessage, payload); werr != nil {
			h.log.Warnw("overlay send failed, dropping client",
				"session_id", sessionID, "error", werr)
			failed = append(failed, conn)
			continue
		}
		sent++
	}
	h.writeMu.Unlock()

	if len(failed) > 0 {
		h.mu.Lock()
		for _, conn := range failed {
			delete(h.sessions, conn)
		}
		count := len(h.sessions)
		h.mu.Unlock()

		for _, conn := range failed {
			h.metrics.RecordEviction("overlay")
			conn.Close()
		}
		h.metrics.SetOverlayClients(count)
	}

	span.SetAttributes(tracing.ClientsKey.Int(sent), tracing.BytesKey.Int(sent*len(payload)))
	h.tput.AddTx(sent * len(payload))
	return sent, nil
}

// ClientCount returns the number of connected overlay clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
