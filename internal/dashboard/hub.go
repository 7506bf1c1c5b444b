// Package dashboard fans call lifecycle events out to connected dashboard
// websockets.
package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Conn is an observer socket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// FailureRecorder counts dropped observers.
type FailureRecorder interface {
	BroadcastFailed()
}

// Message is the envelope every observer receives.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type observer struct {
	id   string
	conn Conn
	wsMu sync.Mutex
}

func (o *observer) send(data []byte) error {
	o.wsMu.Lock()
	defer o.wsMu.Unlock()

	if dw, ok := o.conn.(deadlineWriter); ok {
		_ = dw.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	return o.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub is the process-wide observer set.
type Hub struct {
	mu        sync.Mutex
	observers map[string]*observer

	recorder FailureRecorder
	log      zerolog.Logger
}

// NewHub creates an empty hub. recorder may be nil.
func NewHub(logger zerolog.Logger, recorder FailureRecorder) *Hub {
	return &Hub{
		observers: make(map[string]*observer),
		recorder:  recorder,
		log:       logger,
	}
}

// Register adds an observer and returns its id.
func (h *Hub) Register(conn Conn) string {
	o := &observer{id: uuid.New().String(), conn: conn}

	h.mu.Lock()
	h.observers[o.id] = o
	count := len(h.observers)
	h.mu.Unlock()

	h.log.Info().Str("observer_id", o.id).Int("observers", count).Msg("Dashboard observer connected")
	return o.id
}

// Unregister removes an observer and closes its socket. Unknown ids are
// ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	o, ok := h.observers[id]
	delete(h.observers, id)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = o.conn.Close()
	h.log.Info().Str("observer_id", id).Msg("Dashboard observer disconnected")
}

// Count returns the number of registered observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Broadcast sends {event, data} to every observer concurrently. Observers
// whose send fails are dropped. It returns once every send has finished.
func (h *Hub) Broadcast(event string, payload any) {
	h.mu.Lock()
	targets := make([]*observer, 0, len(h.observers))
	for _, o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("Failed to encode dashboard event")
		return
	}

	var wg sync.WaitGroup
	for _, o := range targets {
		wg.Add(1)
		go func(o *observer) {
			defer wg.Done()
			if err := o.send(data); err != nil {
				h.log.Debug().Err(err).Str("observer_id", o.id).Msg("Dropping dashboard observer")
				if h.recorder != nil {
					h.recorder.BroadcastFailed()
				}
				h.Unregister(o.id)
			}
		}(o)
	}
	wg.Wait()
}

// Serve registers conn and keeps it registered until the peer goes away.
// Inbound messages are discarded.
func (h *Hub) Serve(conn Conn) {
	id := h.Register(conn)
	defer h.Unregister(id)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
