package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tayyebi/smart-proxy/internal/proxy"
	"github.com/tayyebi/smart-proxy/internal/shared/logger"
)

// ConnectionLogEntry is one finished proxy connection pushed to dashboards.
type ConnectionLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	ClientIP   string    `json:"client_ip"`
	Target     string    `json:"target,omitempty"`
	RunwayID   string    `json:"runway_id,omitempty"`
	Method     string    `json:"method,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationS  int64     `json:"duration_s"`
}

// DashboardStats is the periodic aggregate pushed to dashboards.
type DashboardStats struct {
	Timestamp          time.Time `json:"timestamp"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalConnections   uint64    `json:"total_connections"`
	TotalBytesSent     uint64    `json:"total_bytes_sent"`
	TotalBytesReceived uint64    `json:"total_bytes_received"`
	UplinkRate         uint64    `json:"uplink_rate"`   // bytes per second
	DownlinkRate       uint64    `json:"downlink_rate"` // bytes per second
}

// WebSocketMessage is the generic envelope for pushed messages.
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active websocket clients and broadcasts
// messages to them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
					// Assume client is disconnected, let the read pump handle unregistering
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastConnectionLog pushes one finished connection entry.
func (h *Hub) BroadcastConnectionLog(rec proxy.ConnectionRecord) {
	entry := &ConnectionLogEntry{
		Timestamp:  time.Now().UTC(),
		ClientIP:   rec.ClientIP,
		Target:     rec.TargetHost,
		RunwayID:   rec.RunwayID,
		Method:     rec.Method,
		StatusCode: rec.StatusCode,
		Status:     string(rec.Status),
		Error:      rec.Error,
		DurationS:  rec.Duration,
	}
	h.push(WebSocketMessage{Type: "connection_log", Data: entry})
}

// BroadcastDashboardUpdate pushes the periodic aggregate stats.
func (h *Hub) BroadcastDashboardUpdate(stats *DashboardStats) {
	h.push(WebSocketMessage{Type: "dashboard_update", Data: stats})
}

func (h *Hub) push(msg WebSocketMessage) {
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Str("type", msg.Type).Msg("Hub: failed to marshal broadcast message")
		return
	}
	select {
	case h.broadcast <- jsonMsg:
	default:
		// Do not log warning for full channel here to avoid log spam
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	hub.register <- conn

	// This is a read pump. It's needed to detect when a client closes the connection.
	go func() {
		defer func() {
			hub.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
