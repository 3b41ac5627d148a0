package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calyptra/arbor/pkg/domain"
)

const (
	// sendBuffer is the per-connection outbound queue. A client that
	// falls this far behind is disconnected rather than slowing the bus.
	sendBuffer = 256

	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 45 * time.Second
)

// streamConn is one websocket subscriber with its own event filter.
type streamConn struct {
	ws     *websocket.Conn
	send   chan []byte
	filter domain.EventFilter
}

// hub fans bus events out to websocket connections. It is fed by a single
// bus subscription owned by the Server; connections come and go with their
// HTTP requests.
type hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[*streamConn]struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		log:   log,
		conns: make(map[*streamConn]struct{}),
	}
}

// broadcast delivers one event to every connection whose filter matches.
// Full client buffers drop the connection, never block the emitter.
func (h *hub) broadcast(evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("event stream encode failed", "event_id", evt.ID, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns {
		if !conn.filter.Match(evt) {
			continue
		}
		select {
		case conn.send <- data:
		default:
			h.log.Warn("event stream client too slow, dropping", "event_id", evt.ID)
			go h.remove(conn)
		}
	}
}

func (h *hub) add(conn *streamConn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(conn *streamConn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(conn.send)
	}
	h.mu.Unlock()
}

// count reports the number of attached connections.
func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from its own origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serve upgrades the request and pumps events until either side closes.
func (h *hub) serve(w http.ResponseWriter, r *http.Request, filter domain.EventFilter) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	conn := &streamConn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		filter: filter,
	}
	h.add(conn)

	go h.writePump(conn)
	h.readPump(conn)
}

// readPump drains the connection so control frames are processed; any
// read error ends the subscription.
func (h *hub) readPump(conn *streamConn) {
	defer func() {
		h.remove(conn)
		conn.ws.Close()
	}()

	conn.ws.SetReadLimit(4096)
	conn.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("event stream read ended", "err", err)
			}
			return
		}
	}
}

func (h *hub) writePump(conn *streamConn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case data, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
