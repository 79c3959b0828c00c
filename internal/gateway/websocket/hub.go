package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"conduit/pkg/logger"
)

// ApprovalResponse is a resolver's decision received over a socket.
type ApprovalResponse struct {
	RequestID string
	SessionID string
	Decision  string
	By        string
	Note      string
}

// ApprovalResponseHandler applies an approval decision.
type ApprovalResponseHandler func(ctx context.Context, resp ApprovalResponse) error

// ChatHandler enqueues a user message into a session.
type ChatHandler func(ctx context.Context, sessionID, text string) (messageID string, err error)

// Hub maintains the set of active clients and fans messages out to them.
type Hub struct {
	clients  map[*Client]bool
	sessions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	stopOnce   sync.Once

	mu              sync.RWMutex
	approvalHandler ApprovalResponseHandler
	chatHandler     ChatHandler
	allowedOrigins  map[string]bool

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHub creates a hub. Call Run to start delivering messages.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		log:        logger.Component("websocket"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetAllowedOrigins restricts upgrades to the given origins. Empty allows all.
func (h *Hub) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowedOrigins = nil
	if len(origins) == 0 {
		return
	}
	h.allowedOrigins = make(map[string]bool, len(origins))
	for _, o := range origins {
		h.allowedOrigins[o] = true
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.allowedOrigins == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || h.allowedOrigins[origin]
}

// SetApprovalHandler sets the callback for approval_response messages.
func (h *Hub) SetApprovalHandler(handler ApprovalResponseHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.approvalHandler = handler
}

// SetChatHandler sets the callback for chat messages.
func (h *Hub) SetChatHandler(handler ChatHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chatHandler = handler
}

// HandleApprovalResponse passes a decision to the approval handler.
func (h *Hub) HandleApprovalResponse(ctx context.Context, resp ApprovalResponse) error {
	h.mu.RLock()
	handler := h.approvalHandler
	h.mu.RUnlock()

	if handler == nil {
		return errNoHandler
	}
	return handler(ctx, resp)
}

// HandleChat passes a chat message to the chat handler.
func (h *Hub) HandleChat(ctx context.Context, sessionID, text string) (string, error) {
	h.mu.RLock()
	handler := h.chatHandler
	h.mu.RUnlock()

	if handler == nil {
		return "", errNoHandler
	}
	return handler(ctx, sessionID, text)
}

// Run delivers messages until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.sessions = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Info().Str("client_id", client.id).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for session := range client.sessions {
					h.dropLocked(client, session)
				}
			}
			h.mu.Unlock()
			h.log.Info().Str("client_id", client.id).Msg("websocket client disconnected")

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	send := func(c *Client) {
		select {
		case c.send <- msg.Data:
		default:
			h.log.Warn().Str("client_id", c.id).Msg("client buffer full, message dropped")
		}
	}

	if msg.Session == "" {
		for c := range h.clients {
			send(c)
		}
		return
	}
	for c := range h.sessions[msg.Session] {
		send(c)
	}
	for c := range h.sessions[AllSessions] {
		if !h.sessions[msg.Session][c] {
			send(c)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds a client to a session's subscribers. AllSessions
// subscribes it to everything.
func (h *Hub) Subscribe(client *Client, session string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.sessions[session] = true
	if h.sessions[session] == nil {
		h.sessions[session] = make(map[*Client]bool)
	}
	h.sessions[session][client] = true

	h.log.Debug().Str("client_id", client.id).Str("session", session).Msg("client subscribed")
}

// Unsubscribe removes a client from a session's subscribers.
func (h *Hub) Unsubscribe(client *Client, session string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.sessions, session)
	h.dropLocked(client, session)
}

func (h *Hub) dropLocked(client *Client, session string) {
	if clients, ok := h.sessions[session]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.sessions, session)
		}
	}
}

// Broadcast queues raw data for a session's subscribers, or for every client
// when session is empty. It is a no-op once the hub is stopped.
func (h *Hub) Broadcast(session string, data []byte) {
	select {
	case h.broadcast <- &BroadcastMessage{Session: session, Data: data}:
	case <-h.done:
	}
}

// BroadcastToSession sends a typed message to a session's subscribers.
func (h *Hub) BroadcastToSession(sessionID, messageType string, data any) error {
	payload, err := encode(messageType, sessionID, data)
	if err != nil {
		h.log.Error().Err(err).Str("type", messageType).Msg("failed to marshal broadcast message")
		return err
	}
	h.Broadcast(sessionID, payload)
	return nil
}

// BroadcastAll sends a typed message to every client.
func (h *Hub) BroadcastAll(messageType string, data any) error {
	payload, err := encode(messageType, "", data)
	if err != nil {
		h.log.Error().Err(err).Str("type", messageType).Msg("failed to marshal broadcast message")
		return err
	}
	h.Broadcast("", payload)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients subscribed to session.
func (h *Hub) Subscribers(session string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[session])
}

func encode(messageType, session string, data any) ([]byte, error) {
	env := Envelope{Type: messageType, Session: session}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
