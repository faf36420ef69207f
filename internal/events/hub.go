// Package events streams training progress to websocket subscribers.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types.
const (
	TypePhase       = "phase"
	TypeBaseAttempt = "base_attempt"
	TypeIteration   = "iteration"
	TypeDone        = "done"
	TypeError       = "error"
)

// Event is one message on the feed.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Scheme    string    `json:"scheme,omitempty"`
	Iteration int       `json:"iteration"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Time      time.Time `json:"time"`
}

const (
	sendBuffer   = 64
	backlogSize  = 256
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

type subscriber struct {
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub fans events out to websocket subscribers. New subscribers first receive
// the most recent events. The zero value is not usable; use NewHub.
type Hub struct {
	mu       sync.Mutex
	subs     map[*subscriber]struct{}
	backlog  [][]byte
	closed   bool
	upgrader websocket.Upgrader
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Publish sends e to every subscriber. Subscribers that cannot keep up are
// disconnected rather than blocking training.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Warn().Err(err).Str("type", e.Type).Msg("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.backlog = append(h.backlog, data)
	if len(h.backlog) > backlogSize {
		h.backlog = h.backlog[len(h.backlog)-backlogSize:]
	}
	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			log.Warn().Msg("Event subscriber too slow, disconnecting")
			delete(h.subs, s)
			s.close()
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	s := &subscriber{send: make(chan []byte, sendBuffer+len(h.backlog))}
	for _, data := range h.backlog {
		s.send <- data
	}
	h.subs[s] = struct{}{}
	return s, true
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.close()
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	sub, ok := h.subscribe()
	if !ok {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	log.Debug().Str("remote", r.RemoteAddr).Msg("Event subscriber connected")

	go h.readLoop(conn, sub)
	h.writeLoop(conn, sub)
}

// readLoop drains client frames so control messages are processed, and
// unsubscribes once the connection fails.
func (h *Hub) readLoop(conn *websocket.Conn, sub *subscriber) {
	defer h.unsubscribe(sub)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
		log.Debug().Msg("Event subscriber disconnected")
	}()

	for {
		select {
		case data, ok := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.unsubscribe(sub)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unsubscribe(sub)
				return
			}
		}
	}
}

// Close disconnects all subscribers. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		s.close()
	}
}
