package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/llll-robotics/llll/internal/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message when tokens are required
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	logger        *zap.Logger
	authenticated bool

	// Optional filters set by a subscribe message
	filterMu  sync.RWMutex
	sessionID string
	device    string
}

// clientMessage is what clients send: auth, subscribe or unsubscribe.
type clientMessage struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Device    string `json:"device,omitempty"`
}

// wants reports whether msg passes the client's subscription filter.
func (c *Client) wants(msg Message) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()

	if c.sessionID == "" && c.device == "" {
		return true
	}
	data, ok := msg.Data.(SessionData)
	if !ok {
		return true
	}
	if c.sessionID != "" && data.SessionID != c.sessionID {
		return false
	}
	if c.device != "" && data.Device != c.device {
		return false
	}
	return true
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if !c.authenticated {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.conn.RemoteAddr().String()))
			}
			break
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg clientMessage) bool {
	if msg.Type != "auth" {
		c.rejectAuth("First message must be authentication")
		return false
	}
	if msg.Token == "" {
		c.rejectAuth("Missing token in auth message")
		return false
	}

	permissions, err := c.hub.authService.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.conn.RemoteAddr().String()))
		c.rejectAuth("Invalid or expired token")
		return false
	}

	c.authenticated = true
	c.conn.SetReadDeadline(time.Time{})

	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.conn.RemoteAddr().String()),
		zap.Any("permissions", permissions))

	go c.writePump()
	c.hub.add(c)
	c.reply(MessageTypeAuthSuccess, map[string]interface{}{"permissions": permissions})
	return true
}

// rejectAuth writes the failure directly; no writePump runs yet.
func (c *Client) rejectAuth(reason string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteJSON(NewMessage(MessageTypeAuthFailed, map[string]string{"reason": reason}))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}

func (c *Client) handleMessage(msg clientMessage) {
	c.logger.Debug("Received client message",
		zap.String("remote_addr", c.conn.RemoteAddr().String()),
		zap.String("type", msg.Type))

	switch msg.Type {
	case "subscribe":
		c.filterMu.Lock()
		c.sessionID = msg.SessionID
		c.device = msg.Device
		c.filterMu.Unlock()
		c.reply(MessageTypeSubscribed, map[string]string{"session_id": msg.SessionID, "device": msg.Device})
	case "unsubscribe":
		c.filterMu.Lock()
		c.sessionID = ""
		c.device = ""
		c.filterMu.Unlock()
		c.reply(MessageTypeSubscribed, map[string]string{})
	}
}

// reply queues a message for this client only.
func (c *Client) reply(msgType MessageType, data interface{}) {
	payload, err := json.Marshal(NewMessage(msgType, data))
	if err != nil {
		return
	}
	defer func() {
		// send may already be closed by the hub
		recover()
	}()
	select {
	case c.send <- payload:
	default:
	}
}

// writePump handles writing messages to the WebSocket connection
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		logger:        hub.logger,
		authenticated: !hub.authService.Enabled(),
	}

	// Unauthenticated clients get a writer only once their token checks out.
	if client.authenticated {
		go client.writePump()
		hub.add(client)
	}
	go client.readPump()
}
