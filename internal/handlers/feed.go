package handlers

import (
	"log"
	"net/http"
	"sync"

	"github.com/deskbridge/deskbridge/internal/services"
	"github.com/gorilla/websocket"
)

// feedClient wraps one websocket connection with a write lock. The
// websocket library allows only one concurrent writer per connection, so
// every write goes through the lock.
type feedClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *feedClient) write(event services.FeedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(event)
}

// FeedHandler streams alert lifecycle events to websocket clients.
// It implements services.FeedPublisher.
type FeedHandler struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*feedClient]bool
}

// NewFeedHandler creates a new FeedHandler
func NewFeedHandler() *FeedHandler {
	return &FeedHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced upstream by the CORS middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]bool),
	}
}

// HandleFeed handles GET /ws/alerts
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("FeedHandler: websocket upgrade failed: %v", err)
		return
	}

	client := &feedClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("FeedHandler: client connected from %s (%d active)", r.RemoteAddr, count)

	// Drain the read side to detect disconnects; the feed is write-only.
	go h.readLoop(client)
}

func (h *FeedHandler) readLoop(client *feedClient) {
	defer h.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// PublishAlertEvent broadcasts an event to all connected clients. Safe to
// call from concurrent webhook deliveries: each client's write lock
// serializes writes to its connection.
func (h *FeedHandler) PublishAlertEvent(event services.FeedEvent) {
	h.mu.RLock()
	clients := make([]*feedClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(event); err != nil {
			log.Printf("FeedHandler: write failed, dropping client: %v", err)
			h.drop(client)
		}
	}
}

func (h *FeedHandler) drop(client *feedClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.conn.Close()
	}
	h.mu.Unlock()
}

// Close disconnects all clients, used during shutdown
func (h *FeedHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
		delete(h.clients, client)
	}
}
