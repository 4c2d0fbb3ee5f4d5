package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/engine"
	"crypto_demo/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	MessagePrices    = "prices"
	MessagePortfolio = "portfolio"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type      string         `json:"type"`
	Seq       uint64         `json:"seq,omitempty"`
	Event     string         `json:"event,omitempty"`
	Currency  string         `json:"currency"`
	Markets   []MarketView   `json:"markets,omitempty"`
	Portfolio *PortfolioView `json:"portfolio,omitempty"`
}

// Hub manages WebSocket connections and broadcasts price and portfolio
// changes to every connected client.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	metrics    *infra.Metrics
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewHub creates a new WebSocket hub. metrics may be nil.
func NewHub(metrics *infra.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the CORS layer
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		logger: slog.Default().With("module", "ws_hub"),
	}
}

// Run starts the hub's main event loop until ctx ends. Must be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				h.drop(conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.IncrementConnections()
			}
			h.logger.Info("ws client connected", slog.Int("total", total))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				h.drop(conn)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.drop(conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop closes conn. Must be called with mu held.
func (h *Hub) drop(conn *websocket.Conn) {
	delete(h.clients, conn)
	conn.Close()
	if h.metrics != nil {
		h.metrics.DecrementConnections()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full so the sequencer never blocks on slow clients
	}
}

// PublishUpdate is the engine.Sequencer observer.
func (h *Hub) PublishUpdate(u engine.Update) {
	view := NewPortfolioView(u.Portfolio)
	h.Broadcast(WSMessage{
		Type:      MessagePortfolio,
		Seq:       u.Seq,
		Event:     string(u.Type),
		Currency:  view.Currency,
		Portfolio: &view,
	})
}

// PublishListing is the engine.Poller listing callback.
func (h *Hub) PublishListing(currency string, assets []domain.Asset) {
	h.Broadcast(WSMessage{
		Type:     MessagePrices,
		Currency: currency,
		Markets:  NewMarketViews(currency, assets),
	})
}

// HandleWS handles WebSocket upgrade requests at GET /ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.Any("error", err))
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			// WriteControl is safe alongside the hub's writes
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()
}
