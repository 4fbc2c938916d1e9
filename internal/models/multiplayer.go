// Package models contains the data structures used throughout the application.
package models

import (
	"time"
)

// MaxLegacyRulesetID is the highest ruleset identifier playable in
// multiplayer rooms. Custom rulesets are rejected at the playlist level.
const MaxLegacyRulesetID = 3

// RoomState describes the aggregate phase of a multiplayer room.
type RoomState string

// Room states.
const (
	RoomStateOpen           RoomState = "open"
	RoomStateWaitingForLoad RoomState = "waiting_for_load"
	RoomStatePlaying        RoomState = "playing"
	RoomStateClosed         RoomState = "closed"
)

// UserState describes a single user's phase within a multiplayer room.
type UserState string

// User states. Only a subset may be requested by clients; the rest are
// assigned by the server as part of room state transitions.
const (
	UserStateIdle             UserState = "idle"
	UserStateReady            UserState = "ready"
	UserStateWaitingForLoad   UserState = "waiting_for_load"
	UserStateLoaded           UserState = "loaded"
	UserStateReadyForGameplay UserState = "ready_for_gameplay"
	UserStatePlaying          UserState = "playing"
	UserStateFinishedPlay     UserState = "finished_play"
	UserStateResults          UserState = "results"
	UserStateSpectating       UserState = "spectating"
)

// IsClientRequestable reports whether a client may ask for this state
// directly. Server-managed states may only be entered via room transitions.
func (s UserState) IsClientRequestable() bool {
	switch s {
	case UserStateIdle, UserStateReady, UserStateLoaded, UserStateReadyForGameplay,
		UserStateFinishedPlay, UserStateSpectating:
		return true
	default:
		return false
	}
}

// IsGameplay reports whether the state places the user inside the gameplay
// subgroup of the room.
func (s UserState) IsGameplay() bool {
	switch s {
	case UserStateWaitingForLoad, UserStateLoaded, UserStateReadyForGameplay, UserStatePlaying:
		return true
	default:
		return false
	}
}

// MatchType selects the per-room ruleset for player assignment and result
// aggregation.
type MatchType string

// Match types.
const (
	MatchTypeHeadToHead MatchType = "head_to_head"
	MatchTypeTeamVersus MatchType = "team_versus"
)

// QueueMode selects the policy governing who may add playlist items and in
// what order items are played.
type QueueMode string

// Queue modes.
const (
	QueueModeHostOnly             QueueMode = "host_only"
	QueueModeAllPlayers           QueueMode = "all_players"
	QueueModeAllPlayersRoundRobin QueueMode = "all_players_round_robin"
)

// RoomSettings contains the host-editable configuration of a room.
type RoomSettings struct {
	// Name is the display name of the room.
	Name string `json:"name" bson:"name" validate:"max=100"`

	// Password optionally gates room entry.
	Password string `json:"-" bson:"password,omitempty"`

	// MatchType is the room's match type.
	MatchType MatchType `json:"matchType" bson:"matchType"`

	// QueueMode is the room's playlist queue policy.
	QueueMode QueueMode `json:"queueMode" bson:"queueMode"`

	// PlaylistItemID points at the current (unexpired) playlist item.
	PlaylistItemID int64 `json:"playlistItemId" bson:"playlistItemId"`
}

// DownloadState describes how far along a user is in obtaining the current
// beatmap.
type DownloadState string

// Download states.
const (
	DownloadStateUnknown          DownloadState = "unknown"
	DownloadStateNotDownloaded    DownloadState = "not_downloaded"
	DownloadStateDownloading      DownloadState = "downloading"
	DownloadStateImporting        DownloadState = "importing"
	DownloadStateLocallyAvailable DownloadState = "locally_available"
)

// BeatmapAvailability is a user's self-reported availability of the current
// beatmap.
type BeatmapAvailability struct {
	State DownloadState `json:"state"`

	// DownloadProgress is set while State is downloading, in [0, 1].
	DownloadProgress *float64 `json:"downloadProgress,omitempty"`
}

// MultiplayerRoomUser represents a user's membership and state in a room.
type MultiplayerRoomUser struct {
	// UserID is the ID of the user.
	UserID int64 `json:"userId" bson:"userId"`

	// State is the user's current state within the room.
	State UserState `json:"state" bson:"state"`

	// RulesetID optionally overrides the item's ruleset for this user
	// (freestyle play).
	RulesetID *int32 `json:"rulesetId,omitempty" bson:"rulesetId,omitempty"`

	// Availability is the user's download state for the current beatmap.
	Availability BeatmapAvailability `json:"availability" bson:"-"`

	// MatchState holds match-type specific data (e.g. team membership).
	// It is owned by the room's match type implementation.
	MatchState any `json:"matchState,omitempty" bson:"-"`
}

// TeamVersusUserState is the per-user match state for team-versus rooms.
type TeamVersusUserState struct {
	// TeamID is the team the user is assigned to.
	TeamID int `json:"teamId"`
}

// MultiplayerTeam describes one of the teams in a team-versus room.
type MultiplayerTeam struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TeamVersusRoomState is the room-level match state for team-versus rooms.
type TeamVersusRoomState struct {
	Teams []MultiplayerTeam `json:"teams"`
}

// PlaylistItem is a single entry in a room's playlist.
type PlaylistItem struct {
	// ID is the per-room monotonic identifier of the item.
	ID int64 `json:"id" bson:"id"`

	// RoomID is the room the item belongs to.
	RoomID int64 `json:"roomId" bson:"roomId"`

	// OwnerID is the user who added the item.
	OwnerID int64 `json:"ownerId" bson:"ownerId"`

	// BeatmapID identifies the beatmap to be played.
	BeatmapID int64 `json:"beatmapId" bson:"beatmapId" validate:"gt=0"`

	// BeatmapChecksum must match the server-side checksum of the beatmap.
	BeatmapChecksum string `json:"beatmapChecksum" bson:"beatmapChecksum" validate:"required"`

	// RulesetID is the ruleset the item is played with.
	RulesetID int32 `json:"rulesetId" bson:"rulesetId"`

	// RequiredMods are mod acronyms applied to every player.
	RequiredMods []string `json:"requiredMods,omitempty" bson:"requiredMods,omitempty" validate:"dive,mod_acronym"`

	// Expired is set once the item has been played.
	Expired bool `json:"expired" bson:"expired"`

	// PlayedAt is the time the item finished play, if it has.
	PlayedAt *time.Time `json:"playedAt,omitempty" bson:"playedAt,omitempty"`
}

// RoomRecord is the database-side record of a room's existence.
type RoomRecord struct {
	// ID is the unique identifier for the room.
	ID int64 `json:"id" bson:"_id"`

	// Name is the display name of the room.
	Name string `json:"name" bson:"name"`

	// Password optionally gates room entry.
	Password string `json:"-" bson:"password,omitempty"`

	// HostUserID is the user holding host authority.
	HostUserID int64 `json:"hostUserId" bson:"hostUserId"`

	// MatchType is the room's match type.
	MatchType MatchType `json:"matchType" bson:"matchType"`

	// QueueMode is the room's playlist queue policy.
	QueueMode QueueMode `json:"queueMode" bson:"queueMode"`

	// StartedAt marks when the room became active.
	StartedAt time.Time `json:"startedAt" bson:"startedAt"`

	// EndedAt marks when the room was torn down, if it has been.
	EndedAt *time.Time `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
}

// BeatmapUpdates is the result of polling for changed beatmap sets.
type BeatmapUpdates struct {
	// BeatmapSetIDs are the beatmap sets that changed since the last poll.
	BeatmapSetIDs []int64 `json:"beatmapSetIds"`

	// LastProcessedQueueID is the cursor to resume the next poll from.
	LastProcessedQueueID int64 `json:"lastProcessedQueueId"`
}
