// Package rpc provides WebSocket-based RPC functionality.
package rpc

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peppy/osu-server-spectator/internal/auth"
	"github.com/peppy/osu-server-spectator/internal/db/redis/managers"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Frame bundles from playing
	// clients are the largest messages we receive.
	maxMessageSize = 512 * 1024 // 512KB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Game clients connect from arbitrary origins.
	},
}

// DisconnectHandler runs when a user's last connection goes away.
type DisconnectHandler func(ctx context.Context, userID int64)

// ConnectionMetrics receives connection lifecycle and message-volume counts.
type ConnectionMetrics interface {
	ConnectionOpened()
	ConnectionClosed(duration time.Duration)
	MessageReceived()
	MessageSent()
}

// Server handles WebSocket connections and RPC requests.
type Server struct {
	hub          *Hub
	router       *Router
	authProvider *auth.JWTProvider
	presenceMgr  *managers.PresenceManager
	logger       *utils.Logger
	clients      map[*Client]bool
	register     chan *Client
	unregister   chan *Client
	mutex        sync.Mutex

	// metrics is optional; when set, connection and message counts are
	// recorded there.
	metrics ConnectionMetrics

	// shuttingDown is set once graceful shutdown begins; new connections
	// are refused from then on.
	shuttingDown atomic.Bool

	handlersMu         sync.RWMutex
	disconnectHandlers []DisconnectHandler
}

// NewServer creates a new WebSocket server.
func NewServer(
	router *Router,
	authProvider *auth.JWTProvider,
	presenceMgr *managers.PresenceManager,
	logger *utils.Logger,
) *Server {
	hub := NewHub(logger)
	go hub.Run()

	server := &Server{
		hub:          hub,
		router:       router,
		authProvider: authProvider,
		presenceMgr:  presenceMgr,
		logger:       logger.Named("rpc_server"),
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
	}

	go server.run()

	return server
}

// SetMetrics attaches a connection metrics recorder. Must be called before
// the server starts accepting connections.
func (s *Server) SetMetrics(metrics ConnectionMetrics) {
	s.metrics = metrics
}

// OnDisconnect registers a handler to run when a user fully disconnects.
// Handlers run in registration order.
func (s *Server) OnDisconnect(handler DisconnectHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.disconnectHandlers = append(s.disconnectHandlers, handler)
}

// run processes client registration and unregistration.
func (s *Server) run() {
	for {
		select {
		case client := <-s.register:
			s.mutex.Lock()
			s.clients[client] = true
			s.mutex.Unlock()
			s.hub.register <- client
			if s.metrics != nil {
				s.metrics.ConnectionOpened()
			}
			s.logger.Debug("Client registered", "id", client.ID, "userId", client.UserID)

		case client := <-s.unregister:
			s.mutex.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.markAsClosed()
				close(client.send)
				if s.metrics != nil {
					s.metrics.ConnectionClosed(time.Since(client.connectedAt))
				}
				s.logger.Debug("Client unregistered", "id", client.ID, "userId", client.UserID)
			}
			s.mutex.Unlock()
			s.hub.unregister <- client
		}
	}
}

// HandleWebSocket upgrades an HTTP connection to WebSocket and handles the connection.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	// Token comes from the Authorization header or, for clients that cannot
	// set headers on websocket requests, a query parameter.
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := s.authProvider.ValidateToken(token)
	if err != nil {
		s.logger.Warn("Invalid token", "error", err.Error())
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	userID, err := claims.UserID()
	if err != nil {
		s.logger.Warn("Token carries no usable subject")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// Upgrade connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", err)
		return
	}

	clientID, err := utils.GenerateID("client")
	if err != nil {
		s.logger.Error("Failed to generate client ID", err)
		conn.Close()
		return
	}

	client := NewClient(clientID, userID, claims.Username, s, conn, s.logger.Named("client"))

	// Register client
	s.register <- client

	// Record presence so other services can see the user is connected.
	if s.presenceMgr != nil {
		if err := s.presenceMgr.MarkOnline(r.Context(), userID, claims.Username); err != nil {
			s.logger.Warn("Failed to mark user online", "userId", userID)
		}
	}

	// Start client goroutines
	go client.readPump()
	go client.writePump()

	s.logger.Info("WebSocket connection established", "clientId", client.ID, "userId", client.UserID)
}

// cleanupClientState runs the disconnect handlers for a closing client.
// Handlers only run once the user has no other live connections, so a
// reconnecting client with a second tab does not get kicked from its room.
func (s *Server) cleanupClientState(client *Client) {
	if client.UserID == 0 {
		return
	}

	remaining := 0
	s.hub.mutex.RLock()
	for other := range s.hub.userClients[client.UserID] {
		if other != client {
			remaining++
		}
	}
	s.hub.mutex.RUnlock()

	if remaining > 0 {
		s.logger.Debug("User still has live connections", "userId", client.UserID, "count", remaining)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.handlersMu.RLock()
	handlers := make([]DisconnectHandler, len(s.disconnectHandlers))
	copy(handlers, s.disconnectHandlers)
	s.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, client.UserID)
	}

	if s.presenceMgr != nil {
		if err := s.presenceMgr.RemovePresence(ctx, client.UserID); err != nil {
			s.logger.Warn("Failed to remove presence", "userId", client.UserID)
		}
	}
}

// Broadcast sends a message to all connected clients.
func (s *Server) Broadcast(message []byte) {
	s.hub.Broadcast(message)
}

// NotifyAll sends an event to every connected client.
func (s *Server) NotifyAll(method string, params any) {
	message, err := MarshalNotification(method, params)
	if err != nil {
		s.logger.Error("Failed to marshal broadcast notification", err, "method", method)
		return
	}
	s.hub.Broadcast(message)
}

// NotifyGroup sends an event to all clients in a group.
func (s *Server) NotifyGroup(group string, method string, params any) {
	message, err := MarshalNotification(method, params)
	if err != nil {
		s.logger.Error("Failed to marshal group notification", err, "method", method, "group", group)
		return
	}
	s.hub.BroadcastToGroup(group, message)
}

// NotifyUser sends an event to all a user's connections.
func (s *Server) NotifyUser(userID int64, method string, params any) {
	message, err := MarshalNotification(method, params)
	if err != nil {
		s.logger.Error("Failed to marshal user notification", err, "method", method, "userId", userID)
		return
	}
	s.hub.BroadcastToUser(userID, message)
}

// AddClientToGroup adds a client to a group.
func (s *Server) AddClientToGroup(client *Client, group string) {
	s.hub.AddClientToGroup(client, group)
}

// RemoveClientFromGroup removes a client from a group.
func (s *Server) RemoveClientFromGroup(client *Client, group string) {
	s.hub.RemoveClientFromGroup(client, group)
}

// AddUserToGroup adds all of a user's clients to a group.
func (s *Server) AddUserToGroup(userID int64, group string) {
	s.hub.AddUserToGroup(userID, group)
}

// RemoveUserFromGroup removes all of a user's clients from a group.
func (s *Server) RemoveUserFromGroup(userID int64, group string) {
	s.hub.RemoveUserFromGroup(userID, group)
}

// GetClientsInGroup gets all clients in a group.
func (s *Server) GetClientsInGroup(group string) []*Client {
	return s.hub.GetClientsInGroup(group)
}

// GetClientCount gets the number of connected clients.
func (s *Server) GetClientCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.clients)
}

// IsShuttingDown reports whether graceful shutdown has begun.
func (s *Server) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// BeginShutdown stops accepting new connections and tells connected clients
// the server is going away. Existing sessions keep running until Shutdown.
func (s *Server) BeginShutdown() {
	if s.shuttingDown.Swap(true) {
		return
	}

	s.logger.Info("Server entering shutdown; refusing new connections")
	s.NotifyAll(EventServerShuttingDown, nil)
}

// Shutdown closes all remaining client connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down RPC server")

	s.shuttingDown.Store(true)

	s.mutex.Lock()
	for client := range s.clients {
		client.conn.Close()
	}
	s.mutex.Unlock()

	return nil
}
