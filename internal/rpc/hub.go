// Package rpc provides WebSocket-based RPC functionality.
package rpc

import (
	"sync"

	"github.com/peppy/osu-server-spectator/internal/utils"
)

// Hub maintains the set of active clients and fans out messages to them.
// Clients are organized into named groups (a room, a room's gameplay
// subgroup, a spectated user's watcher list) for targeted delivery.
type Hub struct {
	// clients is a map of all connected clients.
	clients map[*Client]bool

	// groups is a map of group names to the set of clients in that group.
	groups map[string]map[*Client]bool

	// userClients is a map of user IDs to their connected clients.
	userClients map[int64]map[*Client]bool

	// broadcast is a channel of messages to broadcast to all clients.
	broadcast chan []byte

	// groupBroadcast is a channel of messages to broadcast to a group.
	groupBroadcast chan *groupMessage

	// userBroadcast is a channel of messages to broadcast to a single user.
	userBroadcast chan *userMessage

	// register is a channel for registering clients.
	register chan *Client

	// unregister is a channel for unregistering clients.
	unregister chan *Client

	// join is a channel for adding clients to groups.
	join chan *groupOperation

	// leave is a channel for removing clients from groups.
	leave chan *groupOperation

	// mutex is used to synchronize access to the maps.
	mutex sync.RWMutex

	// logger is the hub's logger.
	logger *utils.Logger
}

// groupMessage represents a message to be broadcast to a group.
type groupMessage struct {
	group   string
	message []byte
}

// userMessage represents a message to be broadcast to a user.
type userMessage struct {
	userID  int64
	message []byte
}

// groupOperation represents adding or removing a client from a group.
type groupOperation struct {
	client *Client
	group  string
}

// NewHub creates a new hub.
func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		groups:         make(map[string]map[*Client]bool),
		userClients:    make(map[int64]map[*Client]bool),
		broadcast:      make(chan []byte),
		groupBroadcast: make(chan *groupMessage),
		userBroadcast:  make(chan *userMessage),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		join:           make(chan *groupOperation),
		leave:          make(chan *groupOperation),
		logger:         logger.Named("hub"),
	}
}

// Run starts the hub.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case gm := <-h.groupBroadcast:
			h.broadcastToGroup(gm.group, gm.message)

		case um := <-h.userBroadcast:
			h.broadcastToUser(um.userID, um.message)

		case op := <-h.join:
			h.addClientToGroup(op.client, op.group)

		case op := <-h.leave:
			h.removeClientFromGroup(op.client, op.group)
		}
	}
}

// registerClient registers a client with the hub.
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true

	if client.UserID != 0 {
		if _, ok := h.userClients[client.UserID]; !ok {
			h.userClients[client.UserID] = make(map[*Client]bool)
		}
		h.userClients[client.UserID][client] = true
	}

	h.logger.Debug("Client registered", "id", client.ID, "userId", client.UserID)
}

// unregisterClient unregisters a client from the hub.
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)

		if client.UserID != 0 {
			if clients, ok := h.userClients[client.UserID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.userClients, client.UserID)
				}
			}
		}

		// Remove client from all groups
		for group := range client.groups {
			if clients, ok := h.groups[group]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.groups, group)
				}
			}
		}

		h.logger.Debug("Client unregistered", "id", client.ID, "userId", client.UserID)
	}
}

// broadcastMessage broadcasts a message to all clients.
func (h *Hub) broadcastMessage(message []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		client.safelySendMessage(message)
	}
}

// broadcastToGroup broadcasts a message to all clients in a group.
func (h *Hub) broadcastToGroup(group string, message []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if clients, ok := h.groups[group]; ok {
		for client := range clients {
			client.safelySendMessage(message)
		}
	}
}

// broadcastToUser broadcasts a message to all clients of a user.
func (h *Hub) broadcastToUser(userID int64, message []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if clients, ok := h.userClients[userID]; ok {
		for client := range clients {
			client.safelySendMessage(message)
		}
	}
}

// addClientToGroup adds a client to a group.
func (h *Hub) addClientToGroup(client *Client, group string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[*Client]bool)
	}

	h.groups[group][client] = true
	client.groups[group] = true

	h.logger.Debug("Client added to group", "id", client.ID, "userId", client.UserID, "group", group)
}

// removeClientFromGroup removes a client from a group.
func (h *Hub) removeClientFromGroup(client *Client, group string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}

	delete(client.groups, group)

	h.logger.Debug("Client removed from group", "id", client.ID, "userId", client.UserID, "group", group)
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// BroadcastToGroup sends a message to all clients in a group.
func (h *Hub) BroadcastToGroup(group string, message []byte) {
	h.groupBroadcast <- &groupMessage{group: group, message: message}
}

// BroadcastToUser sends a message to all clients of a user.
func (h *Hub) BroadcastToUser(userID int64, message []byte) {
	h.userBroadcast <- &userMessage{userID: userID, message: message}
}

// AddClientToGroup adds a client to a group.
func (h *Hub) AddClientToGroup(client *Client, group string) {
	h.join <- &groupOperation{client: client, group: group}
}

// RemoveClientFromGroup removes a client from a group.
func (h *Hub) RemoveClientFromGroup(client *Client, group string) {
	h.leave <- &groupOperation{client: client, group: group}
}

// AddUserToGroup adds all of a user's clients to a group.
func (h *Hub) AddUserToGroup(userID int64, group string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients, ok := h.userClients[userID]
	if !ok {
		return
	}

	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[*Client]bool)
	}
	for client := range clients {
		h.groups[group][client] = true
		client.groups[group] = true
	}
}

// RemoveUserFromGroup removes all of a user's clients from a group.
func (h *Hub) RemoveUserFromGroup(userID int64, group string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients, ok := h.userClients[userID]
	if !ok {
		return
	}

	for client := range clients {
		if groupClients, ok := h.groups[group]; ok {
			delete(groupClients, client)
			if len(groupClients) == 0 {
				delete(h.groups, group)
			}
		}
		delete(client.groups, group)
	}
}

// GetClientsInGroup gets all clients in a group.
func (h *Hub) GetClientsInGroup(group string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0)
	if groupClients, ok := h.groups[group]; ok {
		for client := range groupClients {
			clients = append(clients, client)
		}
	}
	return clients
}

// GetClientCount gets the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// GetGroupCount gets the number of active groups.
func (h *Hub) GetGroupCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.groups)
}

// GetUserCount gets the number of connected users.
func (h *Hub) GetUserCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.userClients)
}
