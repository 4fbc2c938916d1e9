// Package rpc provides WebSocket-based RPC functionality.
package rpc

import (
	"errors"
	"fmt"

	"github.com/peppy/osu-server-spectator/internal/models"
)

// ErrorCode is a type for JSON-RPC error codes.
type ErrorCode int

// JSON-RPC 2.0 error codes
const (
	// Parse error: Invalid JSON was received by the server.
	ErrParseError ErrorCode = -32700

	// Invalid Request: The JSON sent is not a valid Request object.
	ErrInvalidRequest ErrorCode = -32600

	// Method not found: The method does not exist / is not available.
	ErrMethodNotFound ErrorCode = -32601

	// Invalid params: Invalid method parameter(s).
	ErrInvalidParams ErrorCode = -32602

	// Internal error: Internal JSON-RPC error.
	ErrInternalError ErrorCode = -32603

	// Server error: Reserved for implementation-defined server-errors.
	ErrServerError ErrorCode = -32000

	// Authentication error: The client is not authenticated.
	ErrAuthenticationRequired ErrorCode = -32001

	// Authorization error: The client is not authorized to perform the requested action.
	ErrNotAuthorized ErrorCode = -32002

	// Invalid token: The provided token is invalid.
	ErrInvalidToken ErrorCode = -32004

	// Server shutting down: the process is draining and rejects new work.
	ErrServerShuttingDown ErrorCode = -32005

	// Database unavailable: a persistence read failed after retrying.
	ErrDatabaseUnavailable ErrorCode = -32006

	// Room not found: The requested room does not exist.
	ErrRoomNotFound ErrorCode = -32100

	// Room closed: The room has ended and cannot be joined.
	ErrRoomClosed ErrorCode = -32102

	// User not in room: The user is not in the room.
	ErrUserNotInRoom ErrorCode = -32103

	// User already in room: The user is already in a room.
	ErrUserAlreadyInRoom ErrorCode = -32104

	// Invalid password: The supplied room password is wrong.
	ErrInvalidPassword ErrorCode = -32105

	// Not host: a host-only operation was attempted by a non-host.
	ErrNotHost ErrorCode = -32106

	// Invalid state: the operation is not legal in the current room state.
	ErrInvalidState ErrorCode = -32107

	// Invalid state change: the requested user state may not be entered directly.
	ErrInvalidStateChange ErrorCode = -32108

	// Playlist item not found: The requested playlist item does not exist.
	ErrPlaylistItemNotFound ErrorCode = -32301

	// Beatmap not found: The referenced beatmap is unknown to the server.
	ErrBeatmapNotFound ErrorCode = -32302
)

// String returns a string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrParseError:
		return "Parse error"
	case ErrInvalidRequest:
		return "Invalid request"
	case ErrMethodNotFound:
		return "Method not found"
	case ErrInvalidParams:
		return "Invalid params"
	case ErrInternalError:
		return "Internal error"
	case ErrServerError:
		return "Server error"
	case ErrAuthenticationRequired:
		return "Authentication required"
	case ErrNotAuthorized:
		return "Not authorized"
	case ErrInvalidToken:
		return "Invalid token"
	case ErrServerShuttingDown:
		return "Server is shutting down"
	case ErrDatabaseUnavailable:
		return "Database unavailable"
	case ErrRoomNotFound:
		return "Room not found"
	case ErrRoomClosed:
		return "Room closed"
	case ErrUserNotInRoom:
		return "User not in room"
	case ErrUserAlreadyInRoom:
		return "User already in a room"
	case ErrInvalidPassword:
		return "Invalid room password"
	case ErrNotHost:
		return "User is not the host"
	case ErrInvalidState:
		return "Operation not valid in the current state"
	case ErrInvalidStateChange:
		return "Cannot change to the requested state"
	case ErrPlaylistItemNotFound:
		return "Playlist item not found"
	case ErrBeatmapNotFound:
		return "Beatmap not found"
	default:
		return fmt.Sprintf("Error code %d", c)
	}
}

// Error combines an error code and its default message.
func (c ErrorCode) Error() error {
	return &Error{
		Code:    c,
		Message: c.String(),
	}
}

// ErrorWith combines an error code, its default message, and data.
func (c ErrorCode) ErrorWith(data any) error {
	return &Error{
		Code:    c,
		Message: c.String(),
		Data:    data,
	}
}

// NewError creates a new Error with the given code, message, and data.
func NewError(code ErrorCode, message string, data any) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// NewParseError creates a new parse error.
func NewParseError(err error) *Error {
	return &Error{
		Code:    ErrParseError,
		Message: fmt.Sprintf("Parse error: %v", err),
	}
}

// NewInvalidParamsError creates a new invalid params error.
func NewInvalidParamsError(err error) *Error {
	return &Error{
		Code:    ErrInvalidParams,
		Message: fmt.Sprintf("Invalid params: %v", err),
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(err error) *Error {
	return &Error{
		Code:    ErrInternalError,
		Message: fmt.Sprintf("Internal error: %v", err),
	}
}

// domainCodes maps service sentinel errors onto wire error codes. Distinct
// codes let clients localize their own messages.
var domainCodes = []struct {
	sentinel error
	code     ErrorCode
}{
	{models.ErrRoomNotFound, ErrRoomNotFound},
	{models.ErrRoomAlreadyExists, ErrUserAlreadyInRoom},
	{models.ErrUserNotInRoom, ErrUserNotInRoom},
	{models.ErrUserAlreadyInRoom, ErrUserAlreadyInRoom},
	{models.ErrInvalidPassword, ErrInvalidPassword},
	{models.ErrPlaylistItemNotFound, ErrPlaylistItemNotFound},
	{models.ErrBeatmapNotFound, ErrBeatmapNotFound},
	{models.ErrNotHost, ErrNotHost},
	{models.ErrInvalidState, ErrInvalidState},
	{models.ErrInvalidStateChange, ErrInvalidStateChange},
	{models.ErrServerShuttingDown, ErrServerShuttingDown},
	{models.ErrDatabaseUnavailable, ErrDatabaseUnavailable},
}

// WrapDomainError converts a service error into a wire Error. Unknown errors
// become internal errors so their details stay server-side.
func WrapDomainError(err error) *Error {
	if err == nil {
		return nil
	}

	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}

	for _, m := range domainCodes {
		if errors.Is(err, m.sentinel) {
			return &Error{
				Code:    m.code,
				Message: err.Error(),
			}
		}
	}

	return NewInternalError(err)
}
