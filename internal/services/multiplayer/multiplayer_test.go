package multiplayer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// fakeRepo is an in-memory stand-in for the MongoDB repository.
type fakeRepo struct {
	mu           sync.Mutex
	rooms        map[int64]*models.RoomRecord
	items        map[int64][]models.PlaylistItem
	checksums    map[int64]string
	participants map[int64]map[int64]bool
	updates      []*models.BeatmapUpdates
	nextItemID   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rooms:        make(map[int64]*models.RoomRecord),
		items:        make(map[int64][]models.PlaylistItem),
		checksums:    make(map[int64]string),
		participants: make(map[int64]map[int64]bool),
	}
}

func (r *fakeRepo) addRoom(roomID, hostID int64, queueMode models.QueueMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = &models.RoomRecord{
		ID:         roomID,
		Name:       "test room",
		HostUserID: hostID,
		MatchType:  models.MatchTypeHeadToHead,
		QueueMode:  queueMode,
		StartedAt:  time.Now(),
	}
}

func (r *fakeRepo) addBeatmap(beatmapID int64, checksum string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checksums[beatmapID] = checksum
}

func (r *fakeRepo) seedItem(roomID, ownerID, beatmapID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextItemID++
	r.items[roomID] = append(r.items[roomID], models.PlaylistItem{
		ID:              r.nextItemID,
		RoomID:          roomID,
		OwnerID:         ownerID,
		BeatmapID:       beatmapID,
		BeatmapChecksum: r.checksums[beatmapID],
	})
	return r.nextItemID
}

func (r *fakeRepo) GetRoom(ctx context.Context, roomID int64) (*models.RoomRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.rooms[roomID]
	if !ok {
		return nil, models.ErrRoomNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *fakeRepo) MarkRoomActive(ctx context.Context, roomID int64) error { return nil }

func (r *fakeRepo) MarkRoomEnded(ctx context.Context, roomID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.rooms[roomID]; ok {
		now := time.Now()
		record.EndedAt = &now
	}
	return nil
}

func (r *fakeRepo) UpdateRoomSettings(ctx context.Context, roomID int64, settings models.RoomSettings) error {
	return nil
}

func (r *fakeRepo) UpdateRoomHost(ctx context.Context, roomID, hostUserID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.rooms[roomID]; ok {
		record.HostUserID = hostUserID
	}
	return nil
}

func (r *fakeRepo) AddRoomParticipant(ctx context.Context, roomID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.participants[roomID] == nil {
		r.participants[roomID] = make(map[int64]bool)
	}
	r.participants[roomID][userID] = true
	return nil
}

func (r *fakeRepo) RemoveRoomParticipant(ctx context.Context, roomID, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants[roomID], userID)
	return nil
}

func (r *fakeRepo) AddPlaylistItem(ctx context.Context, item *models.PlaylistItem) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextItemID++
	item.ID = r.nextItemID
	r.items[item.RoomID] = append(r.items[item.RoomID], *item)
	return item.ID, nil
}

func (r *fakeRepo) UpdatePlaylistItem(ctx context.Context, item *models.PlaylistItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.items[item.RoomID] {
		if existing.ID == item.ID {
			r.items[item.RoomID][i] = *item
			return nil
		}
	}
	return models.ErrPlaylistItemNotFound
}

func (r *fakeRepo) RemovePlaylistItem(ctx context.Context, roomID, itemID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[roomID]
	for i, existing := range items {
		if existing.ID == itemID {
			r.items[roomID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return models.ErrPlaylistItemNotFound
}

func (r *fakeRepo) ExpirePlaylistItem(ctx context.Context, itemID int64, playedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID, items := range r.items {
		for i, existing := range items {
			if existing.ID == itemID {
				r.items[roomID][i].Expired = true
				r.items[roomID][i].PlayedAt = &playedAt
				return nil
			}
		}
	}
	return models.ErrPlaylistItemNotFound
}

func (r *fakeRepo) GetAllPlaylistItems(ctx context.Context, roomID int64) ([]models.PlaylistItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]models.PlaylistItem, len(r.items[roomID]))
	copy(items, r.items[roomID])
	return items, nil
}

func (r *fakeRepo) GetBeatmapChecksum(ctx context.Context, beatmapID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	checksum, ok := r.checksums[beatmapID]
	if !ok {
		return "", models.ErrBeatmapNotFound
	}
	return checksum, nil
}

func (r *fakeRepo) GetUpdatedBeatmapSets(ctx context.Context, lastQueueID int64) (*models.BeatmapUpdates, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return &models.BeatmapUpdates{LastProcessedQueueID: lastQueueID}, nil
	}
	next := r.updates[0]
	r.updates = r.updates[1:]
	return next, nil
}

// hubEvent is one recorded fan-out.
type hubEvent struct {
	scope  string // "room", "gameplay" or "user"
	target int64
	method string
	params any
}

// fakeHub records events and group membership instead of fanning out over
// websockets.
type fakeHub struct {
	mu       sync.Mutex
	events   []hubEvent
	room     map[int64]map[int64]bool
	gameplay map[int64]map[int64]bool
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		room:     make(map[int64]map[int64]bool),
		gameplay: make(map[int64]map[int64]bool),
	}
}

func (h *fakeHub) NotifyRoom(roomID int64, method string, params any) {
	h.record(hubEvent{scope: "room", target: roomID, method: method, params: params})
}

func (h *fakeHub) NotifyGameplayGroup(roomID int64, method string, params any) {
	h.record(hubEvent{scope: "gameplay", target: roomID, method: method, params: params})
}

func (h *fakeHub) NotifyUser(userID int64, method string, params any) {
	h.record(hubEvent{scope: "user", target: userID, method: method, params: params})
}

func (h *fakeHub) AddUserToRoomGroup(roomID, userID int64) {
	h.addMember(h.room, roomID, userID)
}

func (h *fakeHub) RemoveUserFromRoomGroup(roomID, userID int64) {
	h.removeMember(h.room, roomID, userID)
}

func (h *fakeHub) AddUserToGameplayGroup(roomID, userID int64) {
	h.addMember(h.gameplay, roomID, userID)
}

func (h *fakeHub) RemoveUserFromGameplayGroup(roomID, userID int64) {
	h.removeMember(h.gameplay, roomID, userID)
}

func (h *fakeHub) record(ev hubEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *fakeHub) addMember(groups map[int64]map[int64]bool, roomID, userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if groups[roomID] == nil {
		groups[roomID] = make(map[int64]bool)
	}
	groups[roomID][userID] = true
}

func (h *fakeHub) removeMember(groups map[int64]map[int64]bool, roomID, userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(groups[roomID], userID)
}

func (h *fakeHub) eventsNamed(method string) []hubEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var matched []hubEvent
	for _, ev := range h.events {
		if ev.method == method {
			matched = append(matched, ev)
		}
	}
	return matched
}

func (h *fakeHub) inGameplayGroup(roomID, userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gameplay[roomID][userID]
}

func (h *fakeHub) inRoomGroup(roomID, userID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.room[roomID][userID]
}

func (h *fakeHub) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

// newTestService builds a service over the fakes with one joinable room.
func newTestService(t *testing.T) (*Service, *fakeRepo, *fakeHub) {
	t.Helper()

	repo := newFakeRepo()
	hub := newFakeHub()
	logger := utils.NewNopLogger()

	repo.addRoom(1, 100, models.QueueModeAllPlayers)
	repo.addBeatmap(555, "checksum-555")
	repo.seedItem(1, 100, 555)

	return NewService(repo, hub, nil, logger), repo, hub
}
