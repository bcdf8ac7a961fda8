package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyang/dispatch-mesh/internal/logger"
	portnotifier "github.com/alanyang/dispatch-mesh/internal/port/notifier"
)

var _ portnotifier.AgentNotifier = (*Hub)(nil)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Notification is the push an agent app receives about one of its orders.
type Notification struct {
	Type    string    `json:"type"`
	OrderID uuid.UUID `json:"order_id"`
	Message string    `json:"message"`
}

// Hub fans domain events out to every socket and order notifications to the
// sockets of one user. Clients identify with ?user_id=; dashboards omit it.
type Hub struct {
	// mu guards clients and serialises writes; gorilla allows one writer per conn.
	mu      sync.Mutex
	clients map[*websocket.Conn]uuid.UUID
	log     *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]uuid.UUID),
		log:     log,
	}
}

func (h *Hub) Register(rg *gin.RouterGroup) {
	rg.GET("", h.handleWS)
}

func (h *Hub) handleWS(c *gin.Context) {
	ctx := c.Request.Context()

	var userID uuid.UUID
	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		userID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error(ctx, "websocket upgrade failed", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = userID
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast sends v to every connected client.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error(context.Background(), "websocket broadcast marshal failed", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		h.write(conn, data)
	}
}

// Notify implements port/notifier.AgentNotifier. A user with no open socket is
// a no-op.
func (h *Hub) Notify(ctx context.Context, userID, orderID uuid.UUID, message string) error {
	data, err := json.Marshal(Notification{Type: "order_notification", OrderID: orderID, Message: message})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, owner := range h.clients {
		if owner == userID {
			h.write(conn, data)
		}
	}
	return nil
}

// Connected reports how many sockets are open for userID.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, owner := range h.clients {
		if owner == userID {
			n++
		}
	}
	return n
}

// write must be called with mu held.
func (h *Hub) write(conn *websocket.Conn, data []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Error(context.Background(), "websocket write failed", err)
	}
}
