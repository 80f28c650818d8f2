package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nomercy/ranked-backend/internal/events"
	"go.uber.org/zap"
)

// Hub WebSocket connections per user plus match rooms. Room membership is by
// user id, so a player reconnecting mid-match still receives room events.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]struct{}
	mu      sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	onConnection func(userID string, connected bool)
	logger       *zap.Logger
}

// Message an encoded envelope addressed to a user or a match room.
type Message struct {
	UserID  string
	MatchID string
	Data    []byte
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]struct{}),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("websocket"),
	}
}

// OnConnection registers a hook called when a user connects or disconnects.
// Must be set before Run.
func (h *Hub) OnConnection(fn func(userID string, connected bool)) {
	h.onConnection = fn
}

// Run processes registrations and deliveries until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.deliver(message)

		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if old, exists := h.clients[client.userID]; exists {
		close(old.send)
		h.logger.Info("Replaced existing WebSocket connection", zap.String("userId", client.userID))
	}
	h.clients[client.userID] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("WebSocket client registered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))
	if h.onConnection != nil {
		h.onConnection(client.userID, true)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	current, exists := h.clients[client.userID]
	if !exists || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.userID)
	close(client.send)
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("WebSocket client unregistered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", total))
	if h.onConnection != nil {
		h.onConnection(client.userID, false)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
}

func (h *Hub) deliver(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if message.MatchID == "" {
		h.sendLocked(message.UserID, message.Data)
		return
	}
	for userID := range h.rooms[message.MatchID] {
		h.sendLocked(userID, message.Data)
	}
}

func (h *Hub) sendLocked(userID string, data []byte) {
	client, exists := h.clients[userID]
	if !exists {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("Client send channel full, dropping message", zap.String("userId", userID))
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Hub broadcast buffer full, dropping message",
			zap.String("userId", message.UserID),
			zap.String("matchId", message.MatchID))
	}
}

func encode(evt events.Event) ([]byte, error) {
	return json.Marshal(events.Wrap(evt))
}

// ToUser sends evt to one user's connection, if any.
func (h *Hub) ToUser(userID string, evt events.Event) {
	data, err := encode(evt)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", evt.Type()), zap.Error(err))
		return
	}
	h.DeliverToUser(userID, data)
}

// ToMatch sends evt to every member of the match room.
func (h *Hub) ToMatch(matchID string, evt events.Event) {
	data, err := encode(evt)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", evt.Type()), zap.Error(err))
		return
	}
	h.DeliverToMatch(matchID, data)
}

func (h *Hub) DeliverToUser(userID string, data []byte) {
	h.enqueue(&Message{UserID: userID, Data: data})
}

func (h *Hub) DeliverToMatch(matchID string, data []byte) {
	h.enqueue(&Message{MatchID: matchID, Data: data})
}

func (h *Hub) JoinMatch(matchID string, userIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[matchID]
	if !ok {
		room = make(map[string]struct{}, len(userIDs))
		h.rooms[matchID] = room
	}
	for _, id := range userIDs {
		room[id] = struct{}{}
	}
}

func (h *Hub) LeaveMatch(matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, matchID)
}

func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// ClientCount number of connected users.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ConnectedUsers ids of users with a live connection on this instance.
func (h *Hub) ConnectedUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}
