package multiplayer

import (
	"context"
	"sync"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// Usage is a scoped exclusive lease on a room. All reads and writes of room
// state must happen between acquiring the usage and calling Close. Closing
// more than once is safe.
type Usage struct {
	// Room is the leased room. Must not be touched after Close.
	Room *Room

	registry *Registry
	roomID   int64
	once     sync.Once
}

// Close releases the lease, handing the room to the next waiter in FIFO
// order if one exists.
func (u *Usage) Close() {
	u.once.Do(func() {
		u.registry.release(u.roomID)
	})
}

// Destroy removes the room from the registry and releases the lease. Any
// goroutines waiting on the room are woken with an error.
func (u *Usage) Destroy() {
	u.once.Do(func() {
		u.registry.destroy(u.roomID)
	})
}

// roomEntry tracks a live room and its lease state.
type roomEntry struct {
	room *Room

	// held is true while some Usage owns the room.
	held bool

	// waiters receive nil when granted ownership, or a terminal error when
	// the room is destroyed underneath them. FIFO order.
	waiters []chan error
}

// Registry tracks the rooms this server is managing and arbitrates exclusive
// access to each.
type Registry struct {
	mu     sync.Mutex
	rooms  map[int64]*roomEntry
	logger *utils.Logger

	// shuttingDown refuses new rooms once graceful shutdown begins.
	shuttingDown bool
}

// NewRegistry creates an empty room registry.
func NewRegistry(logger *utils.Logger) *Registry {
	return &Registry{
		rooms:  make(map[int64]*roomEntry),
		logger: logger.Named("room_registry"),
	}
}

// TryCreate registers a new room and returns a usage already holding it.
// Fails if a room with the same ID is already live or the server is
// shutting down.
func (r *Registry) TryCreate(room *Room) (*Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shuttingDown {
		return nil, models.ErrServerShuttingDown
	}
	if _, ok := r.rooms[room.ID]; ok {
		return nil, models.ErrRoomAlreadyExists
	}

	r.rooms[room.ID] = &roomEntry{room: room, held: true}
	r.logger.Info("Room registered", "roomId", room.ID)

	return &Usage{Room: room, registry: r, roomID: room.ID}, nil
}

// GetForUse acquires the exclusive lease on a room, blocking behind earlier
// acquirers in FIFO order. Honors context cancellation while queued.
func (r *Registry) GetForUse(ctx context.Context, roomID int64) (*Usage, error) {
	r.mu.Lock()

	entry, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return nil, models.ErrRoomNotFound
	}

	if !entry.held {
		entry.held = true
		room := entry.room
		r.mu.Unlock()
		return &Usage{Room: room, registry: r, roomID: roomID}, nil
	}

	ch := make(chan error, 1)
	entry.waiters = append(entry.waiters, ch)
	r.mu.Unlock()

	select {
	case err := <-ch:
		if err != nil {
			return nil, err
		}
		// Ownership was transferred to us; held stayed true throughout.
		r.mu.Lock()
		room := entry.room
		r.mu.Unlock()
		return &Usage{Room: room, registry: r, roomID: roomID}, nil

	case <-ctx.Done():
		r.mu.Lock()
		for i, w := range entry.waiters {
			if w == ch {
				entry.waiters = append(entry.waiters[:i], entry.waiters[i+1:]...)
				r.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		r.mu.Unlock()

		// Already granted or destroyed; consume the outcome so the chain
		// does not stall on an abandoned waiter.
		if err := <-ch; err == nil {
			r.release(roomID)
		}
		return nil, ctx.Err()
	}
}

// Has reports whether a room is currently live.
func (r *Registry) Has(roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// RoomIDs returns a snapshot of the live room IDs.
func (r *Registry) RoomIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// BeginShutdown refuses room creation from now on. Existing rooms live
// until destroyed.
func (r *Registry) BeginShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shuttingDown = true
}

// release hands the lease to the next FIFO waiter, or marks the room free.
func (r *Registry) release(roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomID]
	if !ok {
		return
	}

	if len(entry.waiters) > 0 {
		next := entry.waiters[0]
		entry.waiters = entry.waiters[1:]
		next <- nil
		return
	}

	entry.held = false
}

// destroy removes the room and fails every queued waiter.
func (r *Registry) destroy(roomID int64) {
	r.mu.Lock()
	entry, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, roomID)
	waiters := entry.waiters
	entry.waiters = nil
	r.mu.Unlock()

	for _, w := range waiters {
		w <- models.ErrRoomNotFound
	}

	r.logger.Info("Room destroyed", "roomId", roomID)
}
