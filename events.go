package main

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event types pushed to listeners.
const (
	EventSMS  = "sms"
	EventMqtt = "mqtt"
)

// Event is a message the modem received.
type Event struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	From  string    `json:"from,omitempty"`
	Topic string    `json:"topic,omitempty"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// NewSmsEvent wraps a received SMS.
func NewSmsEvent(sender, text string) Event {
	return Event{ID: uuid.NewString(), Type: EventSMS, From: sender, Text: text, Time: time.Now().UTC()}
}

// NewMqttEvent wraps a message pushed by the modem's MQTT session.
func NewMqttEvent(topic, message string) Event {
	return Event{ID: uuid.NewString(), Type: EventMqtt, Topic: topic, Text: message, Time: time.Now().UTC()}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const eventBuffer = 32

type listener struct {
	id   string
	conn *websocket.Conn
	send chan Event
}

// Hub fans received events out to websocket listeners.
type Hub struct {
	Logger *slog.Logger

	mu         sync.RWMutex
	listeners  map[string]*listener
	maxClients int
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		Logger:     logger,
		listeners:  make(map[string]*listener),
		maxClients: 16,
	}
}

// Publish queues ev for every listener. A listener that cannot keep up
// loses the event.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, l := range h.listeners {
		select {
		case l.send <- ev:
		default:
			h.Logger.Warn("Listener too slow, event dropped", "listener", l.id, "event", ev.ID)
		}
	}
}

// Count returns the number of connected listeners.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Count() >= h.maxClients {
		h.Logger.Warn("Max listeners reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many listeners", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	l := &listener{id: "ws-" + uuid.NewString(), conn: conn, send: make(chan Event, eventBuffer)}
	h.mu.Lock()
	h.listeners[l.id] = l
	h.mu.Unlock()
	h.Logger.Info("Event listener connected", "listener", l.id, "addr", r.RemoteAddr)

	done := make(chan struct{})
	go h.write(l, done)
	h.read(l)
	close(done)

	h.mu.Lock()
	delete(h.listeners, l.id)
	h.mu.Unlock()
	conn.Close()
	h.Logger.Info("Event listener disconnected", "listener", l.id)
}

func (h *Hub) write(l *listener, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-l.send:
			if err := l.conn.WriteJSON(ev); err != nil {
				h.Logger.Warn("Failed to push event", "listener", l.id, "error", err)
				return
			}
		}
	}
}

// read drains the connection so close frames are seen.
func (h *Hub) read(l *listener) {
	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Warn("Websocket connection error", "listener", l.id, "error", err)
			}
			return
		}
	}
}
