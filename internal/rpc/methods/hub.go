// Package methods registers the RPC surface of the server and adapts the
// websocket hub to the group topology the services expect.
package methods

import (
	"fmt"

	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/services/multiplayer"
)

// Group name schemes. Every room has a group for all members and a subgroup
// for members currently in gameplay; every player has a group their watchers
// subscribe to.
func matchGroup(roomID int64) string {
	return fmt.Sprintf("match:%d", roomID)
}

func gameplayGroup(roomID int64) string {
	return fmt.Sprintf("match:%d:gameplay", roomID)
}

func spectateGroup(playerID int64) string {
	return fmt.Sprintf("spectate:%d", playerID)
}

// GameplayMetrics counts game events as they pass through the hub.
type GameplayMetrics interface {
	MatchStarted()
	CountdownStarted(countdownType string)
	FramesRelayed()
}

// HubAdapter exposes the websocket server to the multiplayer and spectator
// services in terms of rooms, gameplay subgroups and watch groups. All game
// events flow through here, which makes it the natural counting point.
type HubAdapter struct {
	server  *rpc.Server
	metrics GameplayMetrics
}

// NewHubAdapter wraps a websocket server.
func NewHubAdapter(server *rpc.Server) *HubAdapter {
	return &HubAdapter{server: server}
}

// SetMetrics attaches a gameplay metrics recorder.
func (h *HubAdapter) SetMetrics(metrics GameplayMetrics) {
	h.metrics = metrics
}

// NotifyRoom sends an event to every member of a room.
func (h *HubAdapter) NotifyRoom(roomID int64, method string, params any) {
	if h.metrics != nil && method == rpc.EventCountdownStarted {
		if ev, ok := params.(multiplayer.CountdownStartedEvent); ok {
			h.metrics.CountdownStarted(string(ev.Countdown.Type))
		}
	}
	h.server.NotifyGroup(matchGroup(roomID), method, params)
}

// NotifyGameplayGroup sends an event to the room members in gameplay states.
func (h *HubAdapter) NotifyGameplayGroup(roomID int64, method string, params any) {
	if h.metrics != nil && method == rpc.EventGameplayStarted {
		h.metrics.MatchStarted()
	}
	h.server.NotifyGroup(gameplayGroup(roomID), method, params)
}

// NotifyUser sends an event to a single user's connections.
func (h *HubAdapter) NotifyUser(userID int64, method string, params any) {
	h.server.NotifyUser(userID, method, params)
}

// NotifyAll sends an event to every connected client.
func (h *HubAdapter) NotifyAll(method string, params any) {
	h.server.NotifyAll(method, params)
}

// AddUserToRoomGroup subscribes a user's connections to room events.
func (h *HubAdapter) AddUserToRoomGroup(roomID, userID int64) {
	h.server.AddUserToGroup(userID, matchGroup(roomID))
}

// RemoveUserFromRoomGroup unsubscribes a user from room events.
func (h *HubAdapter) RemoveUserFromRoomGroup(roomID, userID int64) {
	h.server.RemoveUserFromGroup(userID, matchGroup(roomID))
}

// AddUserToGameplayGroup subscribes a user to gameplay-scoped events.
func (h *HubAdapter) AddUserToGameplayGroup(roomID, userID int64) {
	h.server.AddUserToGroup(userID, gameplayGroup(roomID))
}

// RemoveUserFromGameplayGroup unsubscribes a user from gameplay events.
func (h *HubAdapter) RemoveUserFromGameplayGroup(roomID, userID int64) {
	h.server.RemoveUserFromGroup(userID, gameplayGroup(roomID))
}

// NotifyWatchers sends an event to everyone watching a player.
func (h *HubAdapter) NotifyWatchers(playerID int64, method string, params any) {
	if h.metrics != nil && method == rpc.EventSpectatorUserSentFrames {
		h.metrics.FramesRelayed()
	}
	h.server.NotifyGroup(spectateGroup(playerID), method, params)
}

// AddUserToWatchGroup subscribes a watcher to a player's frames.
func (h *HubAdapter) AddUserToWatchGroup(playerID, watcherID int64) {
	h.server.AddUserToGroup(watcherID, spectateGroup(playerID))
}

// RemoveUserFromWatchGroup unsubscribes a watcher.
func (h *HubAdapter) RemoveUserFromWatchGroup(playerID, watcherID int64) {
	h.server.RemoveUserFromGroup(watcherID, spectateGroup(playerID))
}
