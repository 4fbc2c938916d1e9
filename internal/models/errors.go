// Package models contains the data structures used throughout the application.
package models

import "errors"

// Common error types for domain-specific errors. Each sentinel corresponds to
// a distinct wire error code so clients can localize messages.
var (
	// ErrInvalidState indicates an operation is illegal in the room's or
	// item's current state (starting an already-started match, removing the
	// current playlist item, etc).
	ErrInvalidState = errors.New("operation not valid in the current state")

	// ErrInvalidStateChange indicates a client requested a user-state
	// transition that only the server may perform.
	ErrInvalidStateChange = errors.New("cannot change to the requested state")

	// ErrRoomNotFound indicates the requested room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomAlreadyExists indicates a room with the same ID already exists.
	ErrRoomAlreadyExists = errors.New("room already exists")

	// ErrUserNotInRoom indicates the user is not a member of the room.
	ErrUserNotInRoom = errors.New("user not in room")

	// ErrUserAlreadyInRoom indicates the user is already a member of a room.
	ErrUserAlreadyInRoom = errors.New("user is already in a room")

	// ErrInvalidPassword indicates the supplied room password is wrong.
	ErrInvalidPassword = errors.New("invalid room password")

	// ErrPlaylistItemNotFound indicates the playlist item does not exist in
	// this room.
	ErrPlaylistItemNotFound = errors.New("playlist item not found")

	// ErrBeatmapNotFound indicates the beatmap has no server-side checksum.
	ErrBeatmapNotFound = errors.New("beatmap not found")

	// ErrNotHost indicates a non-host attempted a host-only operation.
	ErrNotHost = errors.New("user is not the host of the room")

	// ErrServerShuttingDown indicates the process is in graceful shutdown
	// and no longer accepts new joins.
	ErrServerShuttingDown = errors.New("server is shutting down")

	// ErrDatabaseUnavailable indicates a database port failure.
	ErrDatabaseUnavailable = errors.New("database unavailable")

	// ErrStorageUnavailable indicates a blob storage port failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
