package node

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smart-protocol/smart/internal/protocol"
)

const (
	subscriberBuffer = 256
	writeWait        = 5 * time.Second
)

type subscriber struct {
	events chan protocol.Event
	name   string // event name filter, empty for all
}

// Hub streams committed events to websocket subscribers. Slow subscribers
// lose events instead of blocking the ledger.
type Hub struct {
	mu       sync.Mutex
	clients  map[*subscriber]struct{}
	quit     chan struct{}
	once     sync.Once
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		quit:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Publish implements state.Sink
func (h *Hub) Publish(events []protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		for _, ev := range events {
			if sub.name != "" && sub.name != ev.Name {
				continue
			}
			select {
			case sub.events <- ev:
			default:
				log.Printf("[Hub] Dropping %s event %s for slow subscriber", ev.Name, ev.ID)
			}
		}
	}
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.once.Do(func() { close(h.quit) })
}

// ServeHTTP upgrades the request and streams events as JSON text
// messages. The optional name query parameter filters by event name.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] Failed to upgrade websocket connection: %v", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{
		events: make(chan protocol.Event, subscriberBuffer),
		name:   r.URL.Query().Get("name"),
	}
	h.mu.Lock()
	h.clients[sub] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, sub)
		h.mu.Unlock()
	}()

	// Reads only detect the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[Hub] Subscriber closed unexpectedly: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case ev := <-sub.events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-gone:
			return
		case <-h.quit:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "node shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
