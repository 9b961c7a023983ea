package facade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"heatingd/internal/devicestore"
)

// wsEvent is the JSON frame pushed to every connected client; it mirrors the
// same DeviceState events the Modbus reflector consumes.
type wsEvent struct {
	DeviceID string `json:"device_id"`
	Kind     string `json:"kind"`
}

// Hub fans DeviceState events out to WebSocket clients. Writes are
// non-blocking: when a client's outbound buffer is full the event is
// dropped for that client (and a warning logged) rather than allowed to
// stall the broadcast; the client stays connected. This matches the device
// store's own drop-on-full policy for its subscriber channels.
type Hub struct {
	store *devicestore.Store
	log   *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]chan wsEvent
}

func NewHub(store *devicestore.Store, log *slog.Logger) *Hub {
	return &Hub{
		store:    store,
		log:      log.With(slog.String("component", "ws-hub")),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[string]chan wsEvent),
	}
}

// Run subscribes to the store's event stream and broadcasts until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	events := h.store.Subscribe(64)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			h.broadcast(wsEvent{DeviceID: ev.DeviceID, Kind: ev.Kind.String()})
		}
	}
}

func (h *Hub) broadcast(ev wsEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.log.Warn("dropping event for slow websocket client", "client", id)
		}
	}
}

// ServeWS upgrades the connection and streams events to it until the client
// disconnects or the write pump errors out.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	ch := make(chan wsEvent, 32)

	h.mu.Lock()
	h.clients[clientID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-ch:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
