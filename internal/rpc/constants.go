// Package rpc provides WebSocket-based RPC functionality.
package rpc

// RPC method constants
const (
	// Multiplayer methods
	MethodMatchJoin               = "match.join"
	MethodMatchLeave              = "match.leave"
	MethodMatchChangeSettings     = "match.changeSettings"
	MethodMatchChangeState        = "match.changeState"
	MethodMatchChangeBeatmapAvail = "match.changeBeatmapAvailability"
	MethodMatchStart              = "match.start"
	MethodMatchStartCountdown     = "match.startCountdown"
	MethodMatchStopCountdown      = "match.stopCountdown"
	MethodMatchSendRequest        = "match.sendMatchRequest"
	MethodMatchAddPlaylistItem    = "match.addPlaylistItem"
	MethodMatchEditPlaylistItem   = "match.editPlaylistItem"
	MethodMatchRemovePlaylistItem = "match.removePlaylistItem"
	MethodMatchKickUser           = "match.kickUser"
	MethodMatchTransferHost       = "match.transferHost"
	MethodMatchAbortGameplay      = "match.abortGameplay"

	// Spectator methods
	MethodSpectatorBeginPlay     = "spectator.beginPlaySession"
	MethodSpectatorSendFrames    = "spectator.sendFrames"
	MethodSpectatorEndPlay       = "spectator.endPlaySession"
	MethodSpectatorStartWatching = "spectator.startWatching"
	MethodSpectatorEndWatching   = "spectator.endWatching"

	// System methods
	MethodSystemPing = "system.ping"
)

// RPC event constants
const (
	// Room lifecycle events
	EventRoomStateChanged      = "match:roomStateChanged"
	EventRoomSettingsChanged   = "match:settingsChanged"
	EventRoomClosed            = "match:roomClosed"
	EventUserJoined            = "match:userJoined"
	EventUserLeft              = "match:userLeft"
	EventUserKicked            = "match:userKicked"
	EventUserStateChanged      = "match:userStateChanged"
	EventHostChanged           = "match:hostChanged"
	EventMatchUserStateChanged = "match:matchUserStateChanged"
	EventMatchRoomStateChanged = "match:matchRoomStateChanged"
	EventBeatmapAvailability   = "match:userBeatmapAvailabilityChanged"

	// Gameplay events
	EventLoadRequested   = "match:loadRequested"
	EventGameplayStarted = "match:gameplayStarted"
	EventGameplayAborted = "match:gameplayAborted"
	EventResultsReady    = "match:resultsReady"

	// Playlist events
	EventPlaylistItemAdded   = "match:playlistItemAdded"
	EventPlaylistItemChanged = "match:playlistItemChanged"
	EventPlaylistItemRemoved = "match:playlistItemRemoved"

	// Countdown events
	EventCountdownStarted = "match:countdownStarted"
	EventCountdownStopped = "match:countdownStopped"

	// Spectator events
	EventSpectatorUserBeganPlaying    = "spectator:userBeganPlaying"
	EventSpectatorUserFinishedPlaying = "spectator:userFinishedPlaying"
	EventSpectatorUserSentFrames      = "spectator:userSentFrames"
	EventSpectatorUserStartedWatching = "spectator:userStartedWatching"
	EventSpectatorUserEndedWatching   = "spectator:userEndedWatching"

	// Metadata events
	EventBeatmapSetsUpdated = "metadata:beatmapSetsUpdated"

	// System events
	EventServerShuttingDown = "system:serverShuttingDown"
)
