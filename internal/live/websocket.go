package live

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsBuffer     = 256
)

// WebSocketHandler upgrades HTTP requests to WebSocket connections and
// streams hub messages to them as JSON. Query parameters: topics (comma
// separated) and after (sequence id to replay from).
type WebSocketHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWebSocketHandler creates a handler serving messages from hub.
func NewWebSocketHandler(hub *Hub, log *slog.Logger) *WebSocketHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With("component", "live-ws"),
	}
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var topics []string
	if t := r.URL.Query().Get("topics"); t != "" {
		topics = strings.Split(t, ",")
	}
	after := int64(-1)
	if a := r.URL.Query().Get("after"); a != "" {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			http.Error(w, "invalid after", http.StatusBadRequest)
			return
		}
		after = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	subID, backlog, ch := h.hub.SubscribeFrom(after, wsBuffer)
	defer h.hub.Unsubscribe(subID)
	h.log.Info("websocket client subscribed", "subID", subID, "remote", r.RemoteAddr, "topics", topics)

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	match := topicFilter(topics)
	for _, m := range backlog {
		if !match(m.Topic) {
			continue
		}
		if err := h.write(conn, m); err != nil {
			return
		}
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			h.log.Info("websocket client disconnected", "subID", subID)
			return
		case <-r.Context().Done():
			return
		case m, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			if !match(m.Topic) {
				continue
			}
			if err := h.write(conn, m); err != nil {
				h.log.Info("websocket write failed", "subID", subID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, m Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(m)
}

// readPump discards client frames and signals when the connection closes.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
