package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/echoid/internal/fingerprinter"
	"github.com/audiolibrelab/echoid/internal/recognition"
	"github.com/audiolibrelab/echoid/internal/service"
)

// Event types sent on /events
const (
	EventHello              = "hello"
	EventWillStartListening = "will_start_listening"
	EventWillStartPass      = "will_start_pass"
	EventCodeGenerated      = "code_generated"
	EventMatch              = "match"
	EventNoMatch            = "no_match"
	EventError              = "error"
	EventPassFinished       = "pass_finished"
	EventFinished           = "finished"
)

const (
	clientQueue = 32
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
)

// Event is one session notification as JSON
type Event struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Match   recognition.Match `json:"match,omitempty"`
	Error   string            `json:"error,omitempty"`
	Time    time.Time         `json:"time"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts session callbacks to websocket clients. Clients that fall
// behind are disconnected rather than slowing the callback context down.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub returns an empty Hub
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
}

var _ fingerprinter.Listener = (*Hub)(nil)

func (h *Hub) WillStartListening() {
	h.broadcast(Event{Type: EventWillStartListening, Message: service.ListeningText()})
}

func (h *Hub) WillStartListeningPass() {
	h.broadcast(Event{Type: EventWillStartPass, Message: service.ListeningText()})
}

func (h *Hub) DidGenerateFingerprintCode(code string) {
	h.broadcast(Event{Type: EventCodeGenerated, Code: code, Message: service.FetchingText(code)})
}

func (h *Hub) DidFindMatchForCode(match recognition.Match, code string) {
	h.broadcast(Event{Type: EventMatch, Code: code, Match: match, Message: service.MatchText(match)})
}

func (h *Hub) DidNotFindMatchForCode(code string) {
	h.broadcast(Event{Type: EventNoMatch, Code: code, Message: service.NoMatchText(code)})
}

func (h *Hub) DidFailWithError(err error) {
	h.broadcast(Event{Type: EventError, Error: err.Error(), Message: service.ErrorText(err)})
}

func (h *Hub) DidFinishListeningPass() {
	h.broadcast(Event{Type: EventPassFinished})
}

func (h *Hub) DidFinishListening() {
	h.broadcast(Event{Type: EventFinished, Message: service.IdleText()})
}

func encodeEvent(e Event) ([]byte, bool) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("Failed to encode event", "type", e.Type, slog.Any("error", err))
		return nil, false
	}
	return data, true
}

func (h *Hub) broadcast(e Event) {
	data, ok := encodeEvent(e)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("Dropping slow websocket client", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection. The first
// message is a hello event carrying the current status line.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, hello Event) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("Websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}

	hello.Type = EventHello
	data, ok := encodeEvent(hello)
	if !ok {
		conn.Close()
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	c.send <- data
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Debug("Websocket client connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop discards client messages and notices disconnects
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Websocket read failed", slog.Any("error", err))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}
