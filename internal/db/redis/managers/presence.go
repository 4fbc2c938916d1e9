// Package managers contains Redis-backed state managers.
package managers

import (
	"context"
	"strconv"
	"time"

	r "github.com/go-redis/redis/v8"

	"github.com/peppy/osu-server-spectator/internal/db/redis"
)

const (
	// PresenceKeyPrefix is the prefix for presence keys
	PresenceKeyPrefix = "spectator:presence"

	// OnlineUsersKey is the key for the set of users connected to this server
	OnlineUsersKey = "spectator:online"

	// PresenceTTL is the expiration time for presence keys
	PresenceTTL = 2 * time.Minute
)

// PresenceInfo is what other services (the web frontend in particular) can
// see about a user connected to this server. It drives "watch" buttons and
// currently-playing listings.
type PresenceInfo struct {
	// UserID is the ID of the user
	UserID int64 `json:"userId"`

	// Username is the display name of the user
	Username string `json:"username"`

	// RoomID is the multiplayer room the user is in, if any
	RoomID *int64 `json:"roomId,omitempty"`

	// PlayingBeatmapID is the beatmap of the user's active play session, if any
	PlayingBeatmapID *int64 `json:"playingBeatmapId,omitempty"`

	// LastSeen is the last time the presence was refreshed
	LastSeen time.Time `json:"lastSeen"`
}

// PresenceManager handles Redis operations for user presence
type PresenceManager struct {
	client *redis.Client
}

// NewPresenceManager creates a new presence manager
func NewPresenceManager(client *redis.Client) *PresenceManager {
	return &PresenceManager{
		client: client,
	}
}

// MarkOnline records a user as connected to this server.
func (m *PresenceManager) MarkOnline(ctx context.Context, userID int64, username string) error {
	logger := m.client.Logger()

	presence := PresenceInfo{
		UserID:   userID,
		Username: username,
		LastSeen: time.Now(),
	}

	if err := m.client.SetObject(ctx, presenceKey(userID), &presence, PresenceTTL); err != nil {
		logger.Error("Failed to store presence info", err, "userId", userID)
		return err
	}

	if err := m.client.SAdd(ctx, OnlineUsersKey, formatUserID(userID)); err != nil {
		logger.Error("Failed to add user to online set", err, "userId", userID)
		return err
	}

	logger.Debug("Marked user online", "userId", userID)
	return nil
}

// Refresh re-arms the presence TTL without changing its content.
func (m *PresenceManager) Refresh(ctx context.Context, userID int64) error {
	return m.update(ctx, userID, func(p *PresenceInfo) {})
}

// SetUserRoom updates the room a user is currently in. A nil roomID clears it.
func (m *PresenceManager) SetUserRoom(ctx context.Context, userID int64, roomID *int64) error {
	return m.update(ctx, userID, func(p *PresenceInfo) {
		p.RoomID = roomID
	})
}

// SetPlaySession records the beatmap of a user's active play session. A nil
// beatmapID clears it.
func (m *PresenceManager) SetPlaySession(ctx context.Context, userID int64, beatmapID *int64) error {
	return m.update(ctx, userID, func(p *PresenceInfo) {
		p.PlayingBeatmapID = beatmapID
	})
}

// GetPresence gets a user's presence information. Returns nil when the user
// is not connected.
func (m *PresenceManager) GetPresence(ctx context.Context, userID int64) (*PresenceInfo, error) {
	logger := m.client.Logger()

	var presence PresenceInfo
	err := m.client.GetObject(ctx, presenceKey(userID), &presence)
	if err != nil {
		if err == r.Nil {
			return nil, nil
		}
		logger.Error("Failed to get presence info", err, "userId", userID)
		return nil, err
	}

	return &presence, nil
}

// IsUserOnline checks if a user is currently connected to this server.
func (m *PresenceManager) IsUserOnline(ctx context.Context, userID int64) (bool, error) {
	logger := m.client.Logger()

	isMember, err := m.client.SIsMember(ctx, OnlineUsersKey, formatUserID(userID))
	if err != nil {
		logger.Error("Failed to check if user is online", err, "userId", userID)
		return false, err
	}
	if !isMember {
		return false, nil
	}

	// The set entry may outlive the TTL'd presence key; trust the key.
	presence, err := m.GetPresence(ctx, userID)
	if err != nil {
		return false, err
	}

	return presence != nil, nil
}

// RemovePresence removes a user's presence information on disconnect.
func (m *PresenceManager) RemovePresence(ctx context.Context, userID int64) error {
	logger := m.client.Logger()

	if err := m.client.Del(ctx, presenceKey(userID)); err != nil {
		logger.Error("Failed to remove presence info", err, "userId", userID)
		return err
	}

	if err := m.client.SRem(ctx, OnlineUsersKey, formatUserID(userID)); err != nil {
		logger.Error("Failed to remove user from online set", err, "userId", userID)
		return err
	}

	logger.Debug("Removed user presence", "userId", userID)
	return nil
}

// GetOnlineUsersCount gets the count of users connected to this server.
func (m *PresenceManager) GetOnlineUsersCount(ctx context.Context) (int64, error) {
	logger := m.client.Logger()

	count, err := m.client.SCard(ctx, OnlineUsersKey)
	if err != nil {
		logger.Error("Failed to get online users count", err)
		return 0, err
	}

	return count, nil
}

// CleanupExpiredPresence removes online-set entries whose presence keys have
// expired. Run periodically.
func (m *PresenceManager) CleanupExpiredPresence(ctx context.Context) (int, error) {
	logger := m.client.Logger()

	userIDs, err := m.client.SMembers(ctx, OnlineUsersKey)
	if err != nil {
		logger.Error("Failed to get online users", err)
		return 0, err
	}

	removed := 0
	for _, idStr := range userIDs {
		userID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			// Bad entry; drop it.
			_ = m.client.SRem(ctx, OnlineUsersKey, idStr)
			removed++
			continue
		}

		exists, err := m.client.Exists(ctx, presenceKey(userID))
		if err != nil {
			continue
		}
		if !exists {
			if err := m.client.SRem(ctx, OnlineUsersKey, idStr); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		logger.Info("Cleaned up expired presence", "count", removed)
	}
	return removed, nil
}

// update applies a mutation to an existing presence record and re-arms its TTL.
func (m *PresenceManager) update(ctx context.Context, userID int64, fn func(*PresenceInfo)) error {
	logger := m.client.Logger()

	var presence PresenceInfo
	err := m.client.GetObject(ctx, presenceKey(userID), &presence)
	if err != nil {
		if err == r.Nil {
			logger.Debug("No presence info to update", "userId", userID)
			return nil
		}
		logger.Error("Failed to get presence info for update", err, "userId", userID)
		return err
	}

	fn(&presence)
	presence.LastSeen = time.Now()

	if err := m.client.SetObject(ctx, presenceKey(userID), &presence, PresenceTTL); err != nil {
		logger.Error("Failed to update presence info", err, "userId", userID)
		return err
	}

	return nil
}

func presenceKey(userID int64) string {
	return redis.FormatKey(PresenceKeyPrefix, formatUserID(userID))
}

func formatUserID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
