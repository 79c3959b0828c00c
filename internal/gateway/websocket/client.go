package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"conduit/internal/approval"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1024 * 1024

	// Time allowed for a handler invoked from a client message.
	handlerTimeout = 10 * time.Second
)

var errNoHandler = errors.New("handler not configured")

// Client is a single WebSocket connection.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	sessions    map[string]bool // guarded by hub.mu
	id          string
	connectedAt time.Time
}

// NewClient creates a client for conn.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		sessions:    make(map[string]bool),
		id:          uuid.NewString(),
		connectedAt: time.Now(),
	}
}

// ID returns the client's connection ID.
func (c *Client) ID() string { return c.id }

// readPump reads messages until the connection fails, then unregisters.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.log.Debug().Err(err).Str("client_id", c.id).Msg("failed to parse websocket message")
		c.sendError(CodeInvalidMessage, "failed to parse message")
		return
	}

	c.hub.log.Debug().
		Str("client_id", c.id).
		Str("type", msg.Type).
		Str("session", msg.Session).
		Msg("received websocket message")

	switch msg.Type {
	case TypeSubscribe:
		if msg.Session == "" {
			c.sendError(CodeInvalidRequest, "subscribe requires session")
			return
		}
		c.hub.Subscribe(c, msg.Session)

	case TypeUnsubscribe:
		if msg.Session != "" {
			c.hub.Unsubscribe(c, msg.Session)
		}

	case TypePing:
		c.sendEnvelope(Envelope{Type: TypePong})

	case TypeApprovalResponse:
		c.handleApprovalResponse(msg)

	case TypeChat:
		c.handleChat(msg)

	default:
		c.sendError(CodeInvalidMessage, "unknown message type: "+msg.Type)
	}
}

func (c *Client) handleApprovalResponse(msg WSMessage) {
	if msg.RequestID == "" {
		c.sendError(CodeInvalidRequest, "approval_response requires request_id")
		return
	}
	if _, err := approval.ParseDecision(msg.Decision); err != nil {
		c.sendError(CodeInvalidRequest, "decision must be approved or denied")
		return
	}

	by := msg.By
	if by == "" {
		by = "ws:" + c.id
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	err := c.hub.HandleApprovalResponse(ctx, ApprovalResponse{
		RequestID: msg.RequestID,
		SessionID: msg.Session,
		Decision:  msg.Decision,
		By:        by,
		Note:      msg.Note,
	})
	if err != nil {
		c.hub.log.Warn().
			Err(err).
			Str("client_id", c.id).
			Str("request_id", msg.RequestID).
			Msg("approval response rejected")

		switch {
		case errors.Is(err, approval.ErrAlreadyResolved):
			c.sendError(CodeAlreadyResolved, err.Error())
		case errors.Is(err, approval.ErrRequestNotFound):
			c.sendError(CodeNotFound, err.Error())
		case errors.Is(err, approval.ErrInvalidDecision):
			c.sendError(CodeInvalidRequest, err.Error())
		default:
			c.sendError(CodeApprovalError, err.Error())
		}
		return
	}

	data, _ := json.Marshal(map[string]string{"request_id": msg.RequestID, "decision": msg.Decision})
	c.sendEnvelope(Envelope{Type: TypeAck, Session: msg.Session, Data: data})
}

func (c *Client) handleChat(msg WSMessage) {
	if msg.Message == "" {
		c.sendError(CodeInvalidRequest, "chat message is required")
		return
	}
	sessionID := msg.Session
	if sessionID == "" || sessionID == AllSessions {
		sessionID = c.id
	}

	c.hub.Subscribe(c, sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	id, err := c.hub.HandleChat(ctx, sessionID, msg.Message)
	if err != nil {
		c.hub.log.Warn().Err(err).Str("client_id", c.id).Str("session", sessionID).Msg("chat message rejected")
		c.sendError(CodeChatError, err.Error())
		return
	}

	data, _ := json.Marshal(map[string]string{"message_id": id})
	c.sendEnvelope(Envelope{Type: TypeAck, Session: sessionID, Data: data})
}

// writePump writes queued messages and keepalive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.log.Debug().Err(err).Str("client_id", c.id).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendEnvelope(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	// The hub may already have closed send during shutdown.
	defer func() { _ = recover() }()
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(code, message string) {
	c.sendEnvelope(Envelope{Type: TypeError, Code: code, Message: message})
}

// ServeWs upgrades the request and starts the client pumps.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	client := NewClient(hub, conn)
	hub.Register(client)

	go client.writePump()
	go client.readPump()
}
