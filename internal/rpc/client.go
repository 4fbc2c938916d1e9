// Package rpc provides WebSocket-based RPC functionality.
package rpc

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peppy/osu-server-spectator/internal/utils"
)

// Client represents a WebSocket client connection.
type Client struct {
	// ID is a unique identifier for the client connection.
	ID string

	// UserID is the ID of the authenticated user.
	UserID int64

	// Username is the display name of the authenticated user.
	Username string

	// server is the WebSocket server that created this client.
	server *Server

	// conn is the WebSocket connection.
	conn *websocket.Conn

	// send is a channel of outbound messages.
	send chan []byte

	// groups is the set of hub groups the client is in.
	groups map[string]bool

	// logger is the client's logger.
	logger *utils.Logger

	// mutex protects concurrent access to client properties
	mutex sync.RWMutex

	// closed indicates whether the send channel has been closed
	closed bool

	// connected indicates whether the client is currently connected
	connected bool

	// lastPing is the timestamp of the last pong received
	lastPing time.Time

	// connectedAt is when the connection was established.
	connectedAt time.Time

	// done is a channel that is closed when the client is disconnected
	done chan struct{}
}

// NewClient creates a new client.
func NewClient(id string, userID int64, username string, server *Server, conn *websocket.Conn, logger *utils.Logger) *Client {
	return &Client{
		ID:          id,
		UserID:      userID,
		Username:    username,
		server:      server,
		conn:        conn,
		send:        make(chan []byte, 256),
		groups:      make(map[string]bool),
		logger:      logger,
		connected:   true,
		lastPing:    time.Now(),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// isConnected returns whether the client is currently connected.
func (c *Client) isConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected && !c.closed && time.Since(c.lastPing) < pongWait
}

// disconnect marks the client as disconnected and ensures proper cleanup.
func (c *Client) disconnect(closeCode int) {
	c.mutex.Lock()
	if !c.connected {
		c.mutex.Unlock()
		return
	}
	c.mutex.Unlock()

	if closeCode == websocket.CloseNormalClosure || closeCode == websocket.CloseGoingAway {
		c.logger.Debug("Normal client disconnection", "userId", c.UserID, "code", closeCode)
	} else {
		c.logger.Debug("Unexpected client disconnection", "userId", c.UserID, "code", closeCode)
	}

	c.performCleanup()
}

// performCleanup handles the actual cleanup of client resources
func (c *Client) performCleanup() {
	// Let the server run the registered disconnect handlers (leave rooms,
	// end play sessions, stop watching) while the client can still be
	// identified.
	c.server.cleanupClientState(c)

	c.mutex.Lock()
	c.connected = false
	c.mutex.Unlock()

	close(c.done)

	c.logger.Info("Client disconnected and cleaned up", "userId", c.UserID)
}

// safelySendMessage sends a message only if the channel isn't closed.
// Uses non-blocking send to prevent deadlocks if the channel is full.
func (c *Client) safelySendMessage(message []byte) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		c.logger.Debug("Client send channel is closed", "clientId", c.ID)
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("Client send channel is full, message dropped", "clientId", c.ID)
		return false
	}
}

// markAsClosed marks the client's send channel as closed
func (c *Client) markAsClosed() {
	c.mutex.Lock()
	c.closed = true
	c.mutex.Unlock()
}

// readPump pumps messages from the WebSocket connection to the router.
func (c *Client) readPump() {
	var closeErr error
	defer func() {
		closeCode := websocket.CloseNoStatusReceived
		if closeErr != nil && websocket.IsCloseError(closeErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			closeCode = websocket.CloseNormalClosure
		}

		// Ensure cleanup happens before unregistering
		c.disconnect(closeCode)
		c.server.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.mutex.Lock()
		c.lastPing = time.Now()
		c.mutex.Unlock()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			closeErr = err
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Normal closure", "code", websocket.CloseNormalClosure)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure) {
				c.logger.Error("Unexpected close error", err)
			}
			break
		}

		if messageType == websocket.CloseMessage {
			c.logger.Debug("Received close message")
			closeErr = websocket.ErrCloseSent
			return
		}

		if c.server.metrics != nil {
			c.server.metrics.MessageReceived()
		}

		message = bytes.TrimSpace(bytes.Replace(message, []byte{'\n'}, []byte{' '}, -1))
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Ensure cleanup happens before unregistering
		c.disconnect(websocket.CloseGoingAway)
		c.server.unregister <- c
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The server closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Error("Failed to get next writer", err, "clientId", c.ID)
				return
			}

			if _, err = w.Write(message); err != nil {
				c.logger.Error("Failed to write message", err, "clientId", c.ID)
				return
			}

			if err := w.Close(); err != nil {
				c.logger.Error("Failed to close writer", err, "clientId", c.ID)
				return
			}

			if c.server.metrics != nil {
				c.server.metrics.MessageSent()
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("Failed to write ping message", err, "clientId", c.ID)
				return
			}
		}
	}
}

// handleMessage processes incoming messages.
func (c *Client) handleMessage(message []byte) {
	// Parse the message as a JSON-RPC request
	var request Request
	if err := json.Unmarshal(message, &request); err != nil {
		c.logger.Error("Failed to parse message", err, "message", string(message))
		c.sendErrorResponse(request.ID, ErrParseError, "Invalid JSON")
		return
	}

	// Route the request to the appropriate handler
	response := c.server.router.Route(c, &request)

	// Only send response if client is still connected
	if response != nil && c.isConnected() {
		responseJSON, err := json.Marshal(response)
		if err != nil {
			c.logger.Error("Failed to marshal response", err, "response", response)
			c.sendErrorResponse(request.ID, ErrInternalError, "Failed to marshal response")
			return
		}
		c.safelySendMessage(responseJSON)
	}
}

// sendErrorResponse sends an error response to the client.
func (c *Client) sendErrorResponse(id any, code ErrorCode, message string) {
	response := &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		c.logger.Error("Failed to marshal error response", err, "response", response)
		return
	}

	c.safelySendMessage(responseJSON)
}

// SendNotification sends a notification to the client.
func (c *Client) SendNotification(method string, params any) {
	notificationJSON, err := MarshalNotification(method, params)
	if err != nil {
		c.logger.Error("Failed to marshal notification", err, "method", method)
		return
	}

	c.safelySendMessage(notificationJSON)
}

// JoinGroup adds the client to a hub group.
func (c *Client) JoinGroup(group string) {
	c.server.AddClientToGroup(c, group)
	c.logger.Debug("Client joined group", "clientId", c.ID, "group", group)
}

// LeaveGroup removes the client from a hub group.
func (c *Client) LeaveGroup(group string) {
	c.server.RemoveClientFromGroup(c, group)
	c.logger.Debug("Client left group", "clientId", c.ID, "group", group)
}

// IsInGroup checks if the client is in a group.
func (c *Client) IsInGroup(group string) bool {
	return c.groups[group]
}

// Done returns a channel closed when the client disconnects.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
