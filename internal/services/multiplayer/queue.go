package multiplayer

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/peppy/osu-server-spectator/internal/db/mongo/repositories"
	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// Queue manages a room's playlist according to the room's queue mode. All
// methods must be called while holding the room's usage.
type Queue struct {
	room   *Room
	repo   repositories.MultiplayerRepository
	items  []*models.PlaylistItem
	logger *utils.Logger
}

func newQueue(room *Room, repo repositories.MultiplayerRepository, logger *utils.Logger) *Queue {
	return &Queue{
		room:   room,
		repo:   repo,
		logger: logger.Named("queue"),
	}
}

// Initialize loads the room's persisted playlist and selects the current
// item. A room must always hold at least one playlist item.
func (q *Queue) Initialize(ctx context.Context) error {
	stored, err := q.repo.GetAllPlaylistItems(ctx, q.room.ID)
	if err != nil {
		return err
	}

	q.items = make([]*models.PlaylistItem, 0, len(stored))
	for i := range stored {
		q.items = append(q.items, &stored[i])
	}
	sort.Slice(q.items, func(i, j int) bool { return q.items[i].ID < q.items[j].ID })

	q.updateCurrentItem(ctx)
	return nil
}

// Items returns the playlist in item-ID order.
func (q *Queue) Items() []*models.PlaylistItem {
	return q.items
}

// CurrentItem returns the item the room will play next, or the most recently
// played item when the whole queue is expired.
func (q *Queue) CurrentItem() *models.PlaylistItem {
	for _, item := range q.items {
		if item.ID == q.room.Settings.PlaylistItemID {
			return item
		}
	}
	return nil
}

// AddItem validates and appends a new playlist item on behalf of a user.
func (q *Queue) AddItem(ctx context.Context, userID int64, item models.PlaylistItem) error {
	if q.room.Settings.QueueMode == models.QueueModeHostOnly && q.room.HostUserID != userID {
		return models.ErrNotHost
	}
	if err := q.validateItem(ctx, &item); err != nil {
		return err
	}

	item.RoomID = q.room.ID
	item.OwnerID = userID
	item.Expired = false
	item.PlayedAt = nil

	id, err := q.repo.AddPlaylistItem(ctx, &item)
	if err != nil {
		return err
	}
	item.ID = id

	q.items = append(q.items, &item)
	q.room.notifyPlaylistItemAdded(&item)

	q.updateCurrentItem(ctx)
	return nil
}

// EditItem replaces the content of an existing unexpired item. Only the
// item's owner or the room host may edit it.
func (q *Queue) EditItem(ctx context.Context, userID int64, item models.PlaylistItem) error {
	existing := q.findItem(item.ID)
	if existing == nil {
		return models.ErrPlaylistItemNotFound
	}
	if existing.Expired {
		return models.ErrInvalidState
	}
	if existing.OwnerID != userID && q.room.HostUserID != userID {
		return models.ErrNotHost
	}
	if err := q.validateItem(ctx, &item); err != nil {
		return err
	}

	item.RoomID = q.room.ID
	item.OwnerID = existing.OwnerID
	item.Expired = false
	item.PlayedAt = nil

	if err := q.repo.UpdatePlaylistItem(ctx, &item); err != nil {
		return err
	}

	*existing = item
	q.room.notifyPlaylistItemChanged(existing)
	return nil
}

// RemoveItem deletes an item from the playlist. The current item and expired
// items cannot be removed, and removal is restricted to the item's owner or
// the host.
func (q *Queue) RemoveItem(ctx context.Context, userID int64, itemID int64) error {
	existing := q.findItem(itemID)
	if existing == nil {
		return models.ErrPlaylistItemNotFound
	}
	if existing.ID == q.room.Settings.PlaylistItemID {
		return models.ErrInvalidState
	}
	if existing.Expired {
		return models.ErrInvalidState
	}
	if existing.OwnerID != userID && q.room.HostUserID != userID {
		return models.ErrNotHost
	}

	if err := q.repo.RemovePlaylistItem(ctx, q.room.ID, itemID); err != nil {
		return err
	}

	for i, item := range q.items {
		if item.ID == itemID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.room.notifyPlaylistItemRemoved(itemID)
	return nil
}

// FinishCurrentItem expires the current item after gameplay and advances the
// queue. Persistence of the expiry is best effort; the in-memory playlist is
// authoritative for the life of the room.
func (q *Queue) FinishCurrentItem(ctx context.Context) {
	current := q.CurrentItem()
	if current == nil || current.Expired {
		return
	}

	now := time.Now()
	current.Expired = true
	current.PlayedAt = &now

	if err := q.repo.ExpirePlaylistItem(ctx, current.ID, now); err != nil {
		q.logger.Warn("Failed to persist playlist item expiry",
			"roomId", q.room.ID, "itemId", current.ID, "error", err)
	}

	q.room.notifyPlaylistItemChanged(current)
	q.updateCurrentItem(ctx)
}

// UpdateFromQueueModeChange reselects the current item after the host
// switches queue modes.
func (q *Queue) UpdateFromQueueModeChange(ctx context.Context) {
	q.updateCurrentItem(ctx)
}

func (q *Queue) findItem(itemID int64) *models.PlaylistItem {
	for _, item := range q.items {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}

func (q *Queue) validateItem(ctx context.Context, item *models.PlaylistItem) error {
	if item.RulesetID < 0 || item.RulesetID > models.MaxLegacyRulesetID {
		return models.ErrInvalidState
	}
	if err := utils.Validate(item); err != nil {
		return models.ErrInvalidState
	}

	checksum, err := q.repo.GetBeatmapChecksum(ctx, item.BeatmapID)
	if err != nil {
		// An unknown beatmap is a client error like any other bad item.
		if errors.Is(err, models.ErrBeatmapNotFound) {
			return models.ErrInvalidState
		}
		return err
	}
	if checksum != item.BeatmapChecksum {
		return models.ErrInvalidState
	}
	return nil
}

// updateCurrentItem points the room at the next item to play and broadcasts
// a settings change if the pointer moved. When every item has expired the
// pointer remains on the most recently played item.
func (q *Queue) updateCurrentItem(ctx context.Context) {
	next := q.selectNextItem()
	if next == nil || next.ID == q.room.Settings.PlaylistItemID {
		return
	}

	q.room.Settings.PlaylistItemID = next.ID
	if err := q.repo.UpdateRoomSettings(ctx, q.room.ID, q.room.Settings); err != nil {
		q.logger.Warn("Failed to persist current item change",
			"roomId", q.room.ID, "itemId", next.ID, "error", err)
	}
	q.room.notifySettingsChanged()
}

func (q *Queue) selectNextItem() *models.PlaylistItem {
	upcoming := lo.Filter(q.items, func(item *models.PlaylistItem, _ int) bool {
		return !item.Expired
	})

	if len(upcoming) == 0 {
		return q.lastPlayedItem()
	}

	switch q.room.Settings.QueueMode {
	case models.QueueModeAllPlayersRoundRobin:
		// Fairness ordering: users who have had fewer items played go
		// first, ties broken by item ID.
		playCounts := make(map[int64]int)
		for _, item := range q.items {
			if item.Expired {
				playCounts[item.OwnerID]++
			}
		}
		best := upcoming[0]
		for _, item := range upcoming[1:] {
			if playCounts[item.OwnerID] < playCounts[best.OwnerID] ||
				(playCounts[item.OwnerID] == playCounts[best.OwnerID] && item.ID < best.ID) {
				best = item
			}
		}
		return best

	case models.QueueModeHostOnly:
		for _, item := range upcoming {
			if item.OwnerID == q.room.HostUserID {
				return item
			}
		}
		return upcoming[0]

	default:
		return upcoming[0]
	}
}

func (q *Queue) lastPlayedItem() *models.PlaylistItem {
	var last *models.PlaylistItem
	for _, item := range q.items {
		if !item.Expired || item.PlayedAt == nil {
			continue
		}
		if last == nil || item.PlayedAt.After(*last.PlayedAt) {
			last = item
		}
	}
	if last == nil && len(q.items) > 0 {
		last = q.items[len(q.items)-1]
	}
	return last
}
