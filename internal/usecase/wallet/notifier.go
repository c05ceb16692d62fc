package wallet

import (
	"encoding/json"
	"sync"

	"escrow-service/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Notifier pushes live balance updates to websocket subscribers keyed by owner.
type Notifier struct {
	clients map[string]map[*websocket.Conn]bool
	mu      sync.Mutex
	log     *zap.SugaredLogger
}

func NewNotifier(log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		clients: make(map[string]map[*websocket.Conn]bool),
		log:     log,
	}
}

func (n *Notifier) RegisterConnection(ownerID string, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.clients[ownerID] == nil {
		n.clients[ownerID] = make(map[*websocket.Conn]bool)
	}
	n.clients[ownerID][conn] = true
}

func (n *Notifier) UnregisterConnection(ownerID string, conn *websocket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if conns, ok := n.clients[ownerID]; ok {
		delete(conns, conn)
		conn.Close()
		if len(conns) == 0 {
			delete(n.clients, ownerID)
		}
	}
}

// NotifyBalance fans a wallet's current state out to the owner's connections.
func (n *Notifier) NotifyBalance(ownerID string, w *domain.Wallet) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	message := WSMessage{
		Type: "balance_update",
		Data: map[string]interface{}{
			"owner_id": ownerID,
			"wallet":   w,
		},
	}
	payload, _ := json.Marshal(message)

	for conn := range n.clients[ownerID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			if n.log != nil {
				n.log.Warnw("dropping websocket subscriber", "owner_id", ownerID, "error", err)
			}
			conn.Close()
			delete(n.clients[ownerID], conn)
		}
	}
}

// NotifyInitial sends the full wallet list on subscription.
func (n *Notifier) NotifyInitial(ownerID string, wallets []*domain.Wallet) {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	message := WSMessage{
		Type: "initial_data",
		Data: map[string]interface{}{"wallets": wallets},
	}
	payload, _ := json.Marshal(message)

	for conn := range n.clients[ownerID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(n.clients[ownerID], conn)
		}
	}
}
