package multiplayer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/peppy/osu-server-spectator/internal/db/mongo/repositories"
	"github.com/peppy/osu-server-spectator/internal/db/redis/managers"
	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// Service is the entry point for all multiplayer operations. It owns the
// room registry, tracks which room each user is in, and bridges rooms to
// persistence and presence.
type Service struct {
	registry *Registry
	repo     repositories.MultiplayerRepository
	hub      HubContext
	presence *managers.PresenceManager
	logger   *utils.Logger

	// userRooms maps a user to the room they are currently in. A user may
	// only be in one room at a time.
	mu        sync.Mutex
	userRooms map[int64]int64
}

// NewService creates the multiplayer service. The presence manager may be
// nil, in which case presence updates are skipped.
func NewService(repo repositories.MultiplayerRepository, hub HubContext, presence *managers.PresenceManager, logger *utils.Logger) *Service {
	return &Service{
		registry:  NewRegistry(logger),
		repo:      repo,
		hub:       hub,
		presence:  presence,
		logger:    logger.Named("multiplayer_service"),
		userRooms: make(map[int64]int64),
	}
}

// Registry exposes the room registry, primarily for introspection and
// shutdown coordination.
func (s *Service) Registry() *Registry {
	return s.registry
}

// UserCount returns the number of users currently in any room.
func (s *Service) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.userRooms)
}

// JoinRoom admits a user into a room, spinning up the live room from its
// database record if this is the first join. Returns a full room snapshot
// for the joining client.
func (s *Service) JoinRoom(ctx context.Context, userID, roomID int64, password string) (*RoomSnapshot, error) {
	// Reserve the membership slot up front so concurrent joins by the same
	// user cannot both proceed.
	s.mu.Lock()
	if _, ok := s.userRooms[userID]; ok {
		s.mu.Unlock()
		return nil, models.ErrUserAlreadyInRoom
	}
	s.userRooms[userID] = roomID
	s.mu.Unlock()

	snapshot, err := s.join(ctx, userID, roomID, password)
	if err != nil {
		s.mu.Lock()
		delete(s.userRooms, userID)
		s.mu.Unlock()
		return nil, err
	}

	s.setPresenceRoom(ctx, userID, &roomID)
	return snapshot, nil
}

func (s *Service) join(ctx context.Context, userID, roomID int64, password string) (*RoomSnapshot, error) {
	usage, err := s.acquireOrActivate(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer usage.Close()

	if err := usage.Room.AddUser(ctx, userID, password); err != nil {
		return nil, err
	}
	return usage.Room.Snapshot(), nil
}

// acquireOrActivate leases the live room, loading it from the database on
// first access. A create/join race against another connection is resolved by
// falling back to the freshly registered room.
func (s *Service) acquireOrActivate(ctx context.Context, roomID int64) (*Usage, error) {
	usage, err := s.registry.GetForUse(ctx, roomID)
	if err == nil {
		return usage, nil
	}
	if !errors.Is(err, models.ErrRoomNotFound) {
		return nil, err
	}

	record, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if record.EndedAt != nil {
		return nil, models.ErrRoomNotFound
	}

	room := newRoom(record, s.registry, s.hub, s.repo, s.logger)
	usage, err = s.registry.TryCreate(room)
	if err != nil {
		if errors.Is(err, models.ErrRoomAlreadyExists) {
			return s.registry.GetForUse(ctx, roomID)
		}
		return nil, err
	}

	if err := room.queue.Initialize(ctx); err != nil {
		usage.Destroy()
		return nil, err
	}
	if err := s.repo.MarkRoomActive(ctx, roomID); err != nil {
		s.logger.Warn("Failed to mark room active", "roomId", roomID, "error", err)
	}

	s.logger.Info("Room activated", "roomId", roomID)
	return usage, nil
}

// LeaveRoom removes the user from their current room, tearing the room down
// if they were the last member.
func (s *Service) LeaveRoom(ctx context.Context, userID int64) error {
	s.mu.Lock()
	roomID, ok := s.userRooms[userID]
	s.mu.Unlock()
	if !ok {
		return models.ErrUserNotInRoom
	}

	usage, err := s.registry.GetForUse(ctx, roomID)
	if err != nil {
		s.forgetUser(ctx, userID)
		return nil
	}

	if err := usage.Room.RemoveUser(ctx, userID, false); err != nil && !errors.Is(err, models.ErrUserNotInRoom) {
		usage.Close()
		return err
	}

	s.forgetUser(ctx, userID)

	if usage.Room.IsEmpty() {
		usage.Room.Close(ctx)
		usage.Destroy()
	} else {
		usage.Close()
	}
	return nil
}

// HandleDisconnect performs an implicit leave when a user's last connection
// drops. Unlike LeaveRoom it is a no-op for users not in a room.
func (s *Service) HandleDisconnect(ctx context.Context, userID int64) {
	if err := s.LeaveRoom(ctx, userID); err != nil && !errors.Is(err, models.ErrUserNotInRoom) {
		s.logger.Warn("Failed to clean up room membership on disconnect",
			"userId", userID, "error", err)
	}
}

// ChangeSettings applies a host-requested settings update.
func (s *Service) ChangeSettings(ctx context.Context, userID int64, settings models.RoomSettings) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.ChangeSettings(ctx, userID, settings)
	})
}

// ChangeUserState processes a client-requested state transition.
func (s *Service) ChangeUserState(ctx context.Context, userID int64, state models.UserState) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.ChangeUserState(ctx, userID, state)
	})
}

// ChangeBeatmapAvailability relays a user's beatmap download state.
func (s *Service) ChangeBeatmapAvailability(ctx context.Context, userID int64, availability models.BeatmapAvailability) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.ChangeBeatmapAvailability(userID, availability)
	})
}

// StartMatch begins gameplay preparation at the host's request.
func (s *Service) StartMatch(ctx context.Context, userID int64) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.StartMatch(ctx, userID)
	})
}

// StartCountdown begins a host-requested match start countdown.
func (s *Service) StartCountdown(ctx context.Context, userID int64, duration time.Duration) (models.Countdown, error) {
	var countdown models.Countdown
	err := s.withUserRoom(ctx, userID, func(room *Room) error {
		var err error
		countdown, err = room.StartCountdown(ctx, userID, duration)
		return err
	})
	return countdown, err
}

// StopCountdown cancels a pending countdown.
func (s *Service) StopCountdown(ctx context.Context, userID, countdownID int64) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.StopCountdown(userID, countdownID)
	})
}

// SendMatchRequest forwards a match-type specific request.
func (s *Service) SendMatchRequest(ctx context.Context, userID int64, req MatchRequest) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.SendMatchRequest(userID, req)
	})
}

// AddPlaylistItem appends an item to the user's room playlist.
func (s *Service) AddPlaylistItem(ctx context.Context, userID int64, item models.PlaylistItem) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.queue.AddItem(ctx, userID, item)
	})
}

// EditPlaylistItem replaces an unexpired playlist item.
func (s *Service) EditPlaylistItem(ctx context.Context, userID int64, item models.PlaylistItem) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.queue.EditItem(ctx, userID, item)
	})
}

// RemovePlaylistItem deletes a playlist item.
func (s *Service) RemovePlaylistItem(ctx context.Context, userID, itemID int64) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.queue.RemoveItem(ctx, userID, itemID)
	})
}

// KickUser forcibly removes another member from the host's room.
func (s *Service) KickUser(ctx context.Context, userID, targetID int64) error {
	err := s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.KickUser(ctx, userID, targetID)
	})
	if err != nil {
		return err
	}
	s.forgetUser(ctx, targetID)
	return nil
}

// TransferHost hands host authority to another member.
func (s *Service) TransferHost(ctx context.Context, userID, newHostID int64) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.TransferHost(ctx, userID, newHostID)
	})
}

// AbortGameplay cancels an in-progress load or play phase.
func (s *Service) AbortGameplay(ctx context.Context, userID int64) error {
	return s.withUserRoom(ctx, userID, func(room *Room) error {
		return room.AbortGameplay(ctx, userID)
	})
}

// GetRoomSnapshot captures a room's current state without joining it.
func (s *Service) GetRoomSnapshot(ctx context.Context, roomID int64) (*RoomSnapshot, error) {
	usage, err := s.registry.GetForUse(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer usage.Close()
	return usage.Room.Snapshot(), nil
}

// Shutdown closes every live room and refuses further joins.
func (s *Service) Shutdown(ctx context.Context) {
	s.registry.BeginShutdown()

	for _, roomID := range s.registry.RoomIDs() {
		usage, err := s.registry.GetForUse(ctx, roomID)
		if err != nil {
			continue
		}
		usage.Room.Close(ctx)
		usage.Destroy()
	}

	s.mu.Lock()
	s.userRooms = make(map[int64]int64)
	s.mu.Unlock()
}

// withUserRoom runs fn while holding the usage of the user's current room.
func (s *Service) withUserRoom(ctx context.Context, userID int64, fn func(room *Room) error) error {
	s.mu.Lock()
	roomID, ok := s.userRooms[userID]
	s.mu.Unlock()
	if !ok {
		return models.ErrUserNotInRoom
	}

	usage, err := s.registry.GetForUse(ctx, roomID)
	if err != nil {
		return err
	}
	defer usage.Close()

	return fn(usage.Room)
}

func (s *Service) forgetUser(ctx context.Context, userID int64) {
	s.mu.Lock()
	delete(s.userRooms, userID)
	s.mu.Unlock()
	s.setPresenceRoom(ctx, userID, nil)
}

func (s *Service) setPresenceRoom(ctx context.Context, userID int64, roomID *int64) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetUserRoom(ctx, userID, roomID); err != nil {
		s.logger.Debug("Failed to update presence room", "userId", userID, "error", err)
	}
}
