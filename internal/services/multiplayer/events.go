// Package multiplayer implements server-authoritative multiplayer rooms.
package multiplayer

import (
	"time"

	"github.com/peppy/osu-server-spectator/internal/models"
)

// HubContext is the slice of the realtime hub the room logic needs. Rooms
// never talk to connections directly; they address the room group, the
// gameplay subgroup, or a single user, and the hub fans out.
type HubContext interface {
	// NotifyRoom sends an event to every member of a room.
	NotifyRoom(roomID int64, method string, params any)

	// NotifyGameplayGroup sends an event to the room members currently in
	// gameplay states.
	NotifyGameplayGroup(roomID int64, method string, params any)

	// NotifyUser sends an event to a single user.
	NotifyUser(userID int64, method string, params any)

	// AddUserToRoomGroup subscribes a user's connections to room events.
	AddUserToRoomGroup(roomID, userID int64)

	// RemoveUserFromRoomGroup unsubscribes a user from room events.
	RemoveUserFromRoomGroup(roomID, userID int64)

	// AddUserToGameplayGroup subscribes a user to gameplay-scoped events.
	AddUserToGameplayGroup(roomID, userID int64)

	// RemoveUserFromGameplayGroup unsubscribes a user from gameplay events.
	RemoveUserFromGameplayGroup(roomID, userID int64)
}

// RoomStateEvent announces a change of the room's aggregate state.
type RoomStateEvent struct {
	RoomID int64            `json:"roomId"`
	State  models.RoomState `json:"state"`
}

// UserStateEvent announces a change of a single user's state.
type UserStateEvent struct {
	RoomID int64            `json:"roomId"`
	UserID int64            `json:"userId"`
	State  models.UserState `json:"state"`
}

// UserEvent announces a user joining, leaving or being kicked.
type UserEvent struct {
	RoomID int64 `json:"roomId"`
	UserID int64 `json:"userId"`
}

// SettingsEvent announces a settings change.
type SettingsEvent struct {
	RoomID   int64               `json:"roomId"`
	Settings models.RoomSettings `json:"settings"`
}

// HostChangedEvent announces a host transfer.
type HostChangedEvent struct {
	RoomID int64 `json:"roomId"`
	UserID int64 `json:"userId"`
}

// PlaylistItemEvent announces a playlist item addition or change.
type PlaylistItemEvent struct {
	RoomID int64               `json:"roomId"`
	Item   models.PlaylistItem `json:"item"`
}

// PlaylistItemRemovedEvent announces a playlist item removal.
type PlaylistItemRemovedEvent struct {
	RoomID int64 `json:"roomId"`
	ItemID int64 `json:"itemId"`
}

// CountdownStartedEvent announces a new countdown. TimeRemaining is computed
// at send time so receivers need no clock agreement with the server.
type CountdownStartedEvent struct {
	RoomID        int64            `json:"roomId"`
	Countdown     models.Countdown `json:"countdown"`
	TimeRemaining time.Duration    `json:"timeRemaining"`
}

// CountdownStoppedEvent announces a countdown cancellation.
type CountdownStoppedEvent struct {
	RoomID      int64 `json:"roomId"`
	CountdownID int64 `json:"countdownId"`
}

// BeatmapAvailabilityEvent announces a change in a user's download state
// for the current beatmap.
type BeatmapAvailabilityEvent struct {
	RoomID       int64                      `json:"roomId"`
	UserID       int64                      `json:"userId"`
	Availability models.BeatmapAvailability `json:"availability"`
}

// MatchUserStateEvent announces a change to a user's match-type specific
// state (e.g. a team switch).
type MatchUserStateEvent struct {
	RoomID int64 `json:"roomId"`
	UserID int64 `json:"userId"`
	State  any   `json:"state"`
}

// MatchRoomStateEvent announces a change to the room-level match state, sent
// when the host switches match types.
type MatchRoomStateEvent struct {
	RoomID int64 `json:"roomId"`
	State  any   `json:"state"`
}
