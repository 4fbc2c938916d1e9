// Package repositories contains MongoDB repository implementations.
package repositories

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// Collection names
const (
	roomCollection          = "multiplayer_rooms"
	playlistItemCollection  = "multiplayer_playlist_items"
	beatmapCollection       = "beatmaps"
	beatmapQueueCollection  = "beatmapset_processing_queue"
	counterCollection       = "counters"
	playlistItemCounterName = "multiplayer_playlist_items"
)

// MultiplayerRepository defines the persistence operations backing multiplayer rooms.
type MultiplayerRepository interface {
	// Room operations
	GetRoom(ctx context.Context, roomID int64) (*models.RoomRecord, error)
	MarkRoomActive(ctx context.Context, roomID int64) error
	MarkRoomEnded(ctx context.Context, roomID int64) error
	UpdateRoomSettings(ctx context.Context, roomID int64, settings models.RoomSettings) error
	UpdateRoomHost(ctx context.Context, roomID, hostUserID int64) error
	AddRoomParticipant(ctx context.Context, roomID, userID int64) error
	RemoveRoomParticipant(ctx context.Context, roomID, userID int64) error

	// Playlist operations
	AddPlaylistItem(ctx context.Context, item *models.PlaylistItem) (int64, error)
	UpdatePlaylistItem(ctx context.Context, item *models.PlaylistItem) error
	RemovePlaylistItem(ctx context.Context, roomID, itemID int64) error
	ExpirePlaylistItem(ctx context.Context, itemID int64, playedAt time.Time) error
	GetAllPlaylistItems(ctx context.Context, roomID int64) ([]models.PlaylistItem, error)

	// Beatmap operations
	GetBeatmapChecksum(ctx context.Context, beatmapID int64) (string, error)
	GetUpdatedBeatmapSets(ctx context.Context, lastQueueID int64) (*models.BeatmapUpdates, error)
}

// multiplayerRepository is the MongoDB implementation of MultiplayerRepository.
type multiplayerRepository struct {
	rooms    *mongo.Collection
	items    *mongo.Collection
	beatmaps *mongo.Collection
	queue    *mongo.Collection
	counters *mongo.Collection
	logger   *utils.Logger
}

// NewMultiplayerRepository creates a new instance of MultiplayerRepository.
func NewMultiplayerRepository(db *mongo.Database, logger *utils.Logger) MultiplayerRepository {
	return &multiplayerRepository{
		rooms:    db.Collection(roomCollection),
		items:    db.Collection(playlistItemCollection),
		beatmaps: db.Collection(beatmapCollection),
		queue:    db.Collection(beatmapQueueCollection),
		counters: db.Collection(counterCollection),
		logger:   logger.Named("multiplayer_repository"),
	}
}

// GetRoom fetches a room row by its ID.
func (r *multiplayerRepository) GetRoom(ctx context.Context, roomID int64) (*models.RoomRecord, error) {
	room, err := retryRead(ctx, func() (*models.RoomRecord, error) {
		var room models.RoomRecord
		if err := r.rooms.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room); err != nil {
			return nil, err
		}
		return &room, nil
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrRoomNotFound
		}
		r.logger.Error("Failed to find room by ID", err, "roomId", roomID)
		return nil, err
	}

	return room, nil
}

// MarkRoomActive records that the room has come under this server's management.
func (r *multiplayerRepository) MarkRoomActive(ctx context.Context, roomID int64) error {
	_, err := r.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.D{cmdSet(bson.M{"startedAt": time.Now()}), cmdUnset(bson.M{"endedAt": ""})},
	)
	if err != nil {
		r.logger.Error("Failed to mark room active", err, "roomId", roomID)
	}
	return err
}

// MarkRoomEnded records the room's end time, removing it from active listings.
func (r *multiplayerRepository) MarkRoomEnded(ctx context.Context, roomID int64) error {
	_, err := r.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.D{cmdSet(bson.M{"endedAt": time.Now()})},
	)
	if err != nil {
		r.logger.Error("Failed to mark room ended", err, "roomId", roomID)
	}
	return err
}

// UpdateRoomSettings mirrors the in-memory room settings to the database.
func (r *multiplayerRepository) UpdateRoomSettings(ctx context.Context, roomID int64, settings models.RoomSettings) error {
	_, err := r.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.D{cmdSet(bson.M{
			"name":      settings.Name,
			"password":  settings.Password,
			"matchType": settings.MatchType,
			"queueMode": settings.QueueMode,
		})},
	)
	if err != nil {
		r.logger.Error("Failed to update room settings", err, "roomId", roomID)
	}
	return err
}

// UpdateRoomHost mirrors a host transfer to the database.
func (r *multiplayerRepository) UpdateRoomHost(ctx context.Context, roomID, hostUserID int64) error {
	_, err := r.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.D{cmdSet(bson.M{"hostUserId": hostUserID})},
	)
	if err != nil {
		r.logger.Error("Failed to update room host", err, "roomId", roomID, "hostUserId", hostUserID)
	}
	return err
}

// AddRoomParticipant records a user joining a room.
func (r *multiplayerRepository) AddRoomParticipant(ctx context.Context, roomID, userID int64) error {
	_, err := r.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.D{cmdAddToSet(bson.M{"participantIds": userID}), cmdInc(bson.M{"participantCount": 1})},
	)
	if err != nil {
		r.logger.Error("Failed to add room participant", err, "roomId", roomID, "userId", userID)
	}
	return err
}

// RemoveRoomParticipant records a user leaving a room.
func (r *multiplayerRepository) RemoveRoomParticipant(ctx context.Context, roomID, userID int64) error {
	_, err := r.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.D{cmdPull(bson.M{"participantIds": userID}), cmdInc(bson.M{"participantCount": -1})},
	)
	if err != nil {
		r.logger.Error("Failed to remove room participant", err, "roomId", roomID, "userId", userID)
	}
	return err
}

// AddPlaylistItem inserts a new playlist item and returns its assigned ID.
func (r *multiplayerRepository) AddPlaylistItem(ctx context.Context, item *models.PlaylistItem) (int64, error) {
	id, err := r.nextItemID(ctx)
	if err != nil {
		r.logger.Error("Failed to allocate playlist item ID", err, "roomId", item.RoomID)
		return 0, err
	}

	item.ID = id
	if _, err := r.items.InsertOne(ctx, item); err != nil {
		r.logger.Error("Failed to insert playlist item", err, "roomId", item.RoomID)
		return 0, err
	}

	return id, nil
}

// UpdatePlaylistItem replaces an existing playlist item's content.
func (r *multiplayerRepository) UpdatePlaylistItem(ctx context.Context, item *models.PlaylistItem) error {
	result, err := r.items.ReplaceOne(ctx, bson.M{"id": item.ID, "roomId": item.RoomID}, item)
	if err != nil {
		r.logger.Error("Failed to update playlist item", err, "itemId", item.ID)
		return err
	}
	if result.MatchedCount == 0 {
		return models.ErrPlaylistItemNotFound
	}
	return nil
}

// RemovePlaylistItem deletes a playlist item from a room.
func (r *multiplayerRepository) RemovePlaylistItem(ctx context.Context, roomID, itemID int64) error {
	result, err := r.items.DeleteOne(ctx, bson.M{"id": itemID, "roomId": roomID})
	if err != nil {
		r.logger.Error("Failed to remove playlist item", err, "itemId", itemID)
		return err
	}
	if result.DeletedCount == 0 {
		return models.ErrPlaylistItemNotFound
	}
	return nil
}

// ExpirePlaylistItem marks an item as played.
func (r *multiplayerRepository) ExpirePlaylistItem(ctx context.Context, itemID int64, playedAt time.Time) error {
	_, err := r.items.UpdateOne(ctx,
		bson.M{"id": itemID},
		bson.D{cmdSet(bson.M{"expired": true, "playedAt": playedAt})},
	)
	if err != nil {
		r.logger.Error("Failed to expire playlist item", err, "itemId", itemID)
	}
	return err
}

// GetAllPlaylistItems returns every playlist item belonging to a room in ID order.
func (r *multiplayerRepository) GetAllPlaylistItems(ctx context.Context, roomID int64) ([]models.PlaylistItem, error) {
	items, err := retryRead(ctx, func() ([]models.PlaylistItem, error) {
		cursor, err := r.items.Find(ctx,
			bson.M{"roomId": roomID},
			options.Find().SetSort(bson.D{{Key: "id", Value: 1}}),
		)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var items []models.PlaylistItem
		if err := cursor.All(ctx, &items); err != nil {
			return nil, err
		}
		return items, nil
	})
	if err != nil {
		r.logger.Error("Failed to load playlist items", err, "roomId", roomID)
		return nil, err
	}

	return items, nil
}

// GetBeatmapChecksum returns the stored checksum for a beatmap.
func (r *multiplayerRepository) GetBeatmapChecksum(ctx context.Context, beatmapID int64) (string, error) {
	checksum, err := retryRead(ctx, func() (string, error) {
		var beatmap struct {
			Checksum string `bson:"checksum"`
		}
		if err := r.beatmaps.FindOne(ctx, bson.M{"_id": beatmapID}).Decode(&beatmap); err != nil {
			return "", err
		}
		return beatmap.Checksum, nil
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", models.ErrBeatmapNotFound
		}
		r.logger.Error("Failed to find beatmap", err, "beatmapId", beatmapID)
		return "", err
	}

	return checksum, nil
}

// GetUpdatedBeatmapSets returns the beatmap sets processed since the given
// queue position, along with the new position.
func (r *multiplayerRepository) GetUpdatedBeatmapSets(ctx context.Context, lastQueueID int64) (*models.BeatmapUpdates, error) {
	updates, err := retryRead(ctx, func() (*models.BeatmapUpdates, error) {
		cursor, err := r.queue.Find(ctx,
			bson.M{"queueId": bson.M{"$gt": lastQueueID}},
			options.Find().SetSort(bson.D{{Key: "queueId", Value: 1}}),
		)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		var entries []struct {
			QueueID      int64 `bson:"queueId"`
			BeatmapSetID int64 `bson:"beatmapSetId"`
		}
		if err := cursor.All(ctx, &entries); err != nil {
			return nil, err
		}

		updates := &models.BeatmapUpdates{LastProcessedQueueID: lastQueueID}
		for _, entry := range entries {
			updates.BeatmapSetIDs = append(updates.BeatmapSetIDs, entry.BeatmapSetID)
			updates.LastProcessedQueueID = entry.QueueID
		}
		return updates, nil
	})
	if err != nil {
		r.logger.Error("Failed to poll beatmap queue", err, "lastQueueId", lastQueueID)
		return nil, err
	}

	return updates, nil
}

// nextItemID allocates a monotonically increasing playlist item ID from the
// counters collection.
func (r *multiplayerRepository) nextItemID(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}

	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": playlistItemCounterName},
		bson.D{cmdInc(bson.M{"value": 1})},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, err
	}

	return counter.Value, nil
}
