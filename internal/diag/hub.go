package diag

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yaananth/chatmock/internal/json"
	"github.com/yaananth/chatmock/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin stays unchecked, matching the permissive CORS surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// hub tracks websocket subscribers tailing the event stream.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*wsClient]struct{})}
}

type wsClient struct {
	conn *websocket.Conn
	send chan Event
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Debugf("diagnostics subscriber connected (%d active)", n)
}

// drop removes a subscriber and closes its send channel. Safe to call more
// than once for the same client.
func (h *hub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast fans one event out without blocking the request path.
// Subscribers that cannot keep up are dropped.
func (h *hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			delete(h.clients, c)
			close(c.send)
			logging.Warnf("diagnostics subscriber too slow, dropping connection")
		}
	}
}

func (h *hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request to a websocket, replays the retained ring,
// then streams live events until the client disconnects.
func (r *Recorder) ServeWS(w http.ResponseWriter, req *http.Request) error {
	if r == nil {
		return fmt.Errorf("diagnostics recorder not configured")
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return fmt.Errorf("upgrade diagnostics socket: %w", err)
	}
	// Backlog is written before the client joins the hub so replayed events
	// never interleave with live ones.
	for _, ev := range r.Recent(0) {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			return fmt.Errorf("replay diagnostics backlog: %w", err)
		}
	}
	c := &wsClient{conn: conn, send: make(chan Event, wsSendBuffer)}
	r.hub.register(c)
	go c.writeLoop()
	go c.readLoop(r.hub)
	return nil
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop consumes control frames until the peer goes away, then detaches
// the client from the hub.
func (c *wsClient) readLoop(h *hub) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
