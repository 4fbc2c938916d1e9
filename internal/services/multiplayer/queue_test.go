package multiplayer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/rpc"
)

func validItem() models.PlaylistItem {
	return models.PlaylistItem{
		BeatmapID:       555,
		BeatmapChecksum: "checksum-555",
		RulesetID:       0,
	}
}

// playCurrentItem drives the host alone through a full match so that the
// room's current playlist item expires.
func playCurrentItem(t *testing.T, service *Service, hostID int64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, service.ChangeUserState(ctx, hostID, models.UserStateReady))
	require.NoError(t, service.StartMatch(ctx, hostID))
	require.NoError(t, service.ChangeUserState(ctx, hostID, models.UserStateLoaded))
	require.NoError(t, service.ChangeUserState(ctx, hostID, models.UserStateFinishedPlay))
	require.NoError(t, service.ChangeUserState(ctx, hostID, models.UserStateIdle))
}

func currentItemID(t *testing.T, service *Service, roomID int64) int64 {
	t.Helper()
	snapshot, err := service.GetRoomSnapshot(context.Background(), roomID)
	require.NoError(t, err)
	return snapshot.Settings.PlaylistItemID
}

func TestAddPlaylistItemValidation(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.JoinRoom(ctx, 100, 1, "")
	require.NoError(t, err)

	item := validItem()
	item.RulesetID = models.MaxLegacyRulesetID + 1
	err = service.AddPlaylistItem(ctx, 100, item)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	item = validItem()
	item.BeatmapChecksum = "something-else"
	err = service.AddPlaylistItem(ctx, 100, item)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	item = validItem()
	item.RequiredMods = []string{"not a mod"}
	err = service.AddPlaylistItem(ctx, 100, item)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	// An unknown beatmap is rejected the same way as any other bad item.
	item = validItem()
	item.BeatmapID = 999
	err = service.AddPlaylistItem(ctx, 100, item)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestAllPlayersModeAnyoneCanAdd(t *testing.T) {
	service, _, hub := newTestService(t)
	ctx := context.Background()

	_, err := service.JoinRoom(ctx, 100, 1, "")
	require.NoError(t, err)
	_, err = service.JoinRoom(ctx, 101, 1, "")
	require.NoError(t, err)

	require.NoError(t, service.AddPlaylistItem(ctx, 101, validItem()))

	events := hub.eventsNamed(rpc.EventPlaylistItemAdded)
	require.Len(t, events, 1)
	added := events[0].params.(PlaylistItemEvent).Item
	assert.Equal(t, int64(101), added.OwnerID)
	assert.Equal(t, int64(1), added.RoomID)
	assert.False(t, added.Expired)

	snapshot, err := service.GetRoomSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, snapshot.Playlist, 2)
}

func TestHostOnlyModeRestrictsAdds(t *testing.T) {
	service, repo, _ := newTestService(t)
	repo.addRoom(2, 100, models.QueueModeHostOnly)
	repo.seedItem(2, 100, 555)
	ctx := context.Background()

	_, err := service.JoinRoom(ctx, 100, 2, "")
	require.NoError(t, err)
	_, err = service.JoinRoom(ctx, 101, 2, "")
	require.NoError(t, err)

	err = service.AddPlaylistItem(ctx, 101, validItem())
	assert.ErrorIs(t, err, models.ErrNotHost)

	assert.NoError(t, service.AddPlaylistItem(ctx, 100, validItem()))
}

func TestEditPlaylistItemPermissions(t *testing.T) {
	service, repo, hub := newTestService(t)
	itemID := repo.seedItem(1, 101, 555)
	ctx := context.Background()

	_, err := service.JoinRoom(ctx, 100, 1, "")
	require.NoError(t, err)
	_, err = service.JoinRoom(ctx, 101, 1, "")
	require.NoError(t, err)
	_, err = service.JoinRoom(ctx, 102, 1, "")
	require.NoError(t, err)
	hub.clear()

	edit := validItem()
	edit.ID = itemID
	edit.RequiredMods = []string{"HD"}

	// A third party is neither owner nor host.
	err = service.EditPlaylistItem(ctx, 102, edit)
	assert.ErrorIs(t, err, models.ErrNotHost)

	// The owner may edit, and ownership is preserved.
	require.NoError(t, service.EditPlaylistItem(ctx, 101, edit))
	events := hub.eventsNamed(rpc.EventPlaylistItemChanged)
	require.Len(t, events, 1)
	changed := events[0].params.(PlaylistItemEvent).Item
	assert.Equal(t, int64(101), changed.OwnerID)
	assert.Equal(t, []string{"HD"}, changed.RequiredMods)

	// The host may edit another user's item too.
	assert.NoError(t, service.EditPlaylistItem(ctx, 100, edit))

	edit.ID = 9999
	err = service.EditPlaylistItem(ctx, 100, edit)
	assert.ErrorIs(t, err, models.ErrPlaylistItemNotFound)
}

func TestRemovePlaylistItemRules(t *testing.T) {
	service, repo, hub := newTestService(t)
	otherID := repo.seedItem(1, 101, 555)
	ctx := context.Background()

	_, err := service.JoinRoom(ctx, 100, 1, "")
	require.NoError(t, err)
	_, err = service.JoinRoom(ctx, 101, 1, "")
	require.NoError(t, err)

	// The current item cannot be removed.
	err = service.RemovePlaylistItem(ctx, 100, currentItemID(t, service, 1))
	assert.ErrorIs(t, err, models.ErrInvalidState)

	err = service.RemovePlaylistItem(ctx, 100, 9999)
	assert.ErrorIs(t, err, models.ErrPlaylistItemNotFound)

	// A guest may only remove their own items.
	require.NoError(t, service.AddPlaylistItem(ctx, 100, validItem()))
	snapshot, err := service.GetRoomSnapshot(ctx, 1)
	require.NoError(t, err)
	hostItem := snapshot.Playlist[len(snapshot.Playlist)-1]
	require.Equal(t, int64(100), hostItem.OwnerID)
	err = service.RemovePlaylistItem(ctx, 101, hostItem.ID)
	assert.ErrorIs(t, err, models.ErrNotHost)

	require.NoError(t, service.RemovePlaylistItem(ctx, 101, otherID))
	events := hub.eventsNamed(rpc.EventPlaylistItemRemoved)
	require.Len(t, events, 1)
	assert.Equal(t, otherID, events[0].params.(PlaylistItemRemovedEvent).ItemID)

	snapshot, err = service.GetRoomSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, snapshot.Playlist, 2)
}

func TestRemoveExpiredItemRejected(t *testing.T) {
	service, repo, _ := newTestService(t)
	repo.seedItem(1, 100, 555)
	ctx := context.Background()

	_, err := service.JoinRoom(ctx, 100, 1, "")
	require.NoError(t, err)

	played := currentItemID(t, service, 1)
	playCurrentItem(t, service, 100)
	require.NotEqual(t, played, currentItemID(t, service, 1))

	err = service.RemovePlaylistItem(ctx, 100, played)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestQueueStaysOnLastPlayedItemWhenExhausted(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.JoinRoom(ctx, 100, 1, "")
	require.NoError(t, err)

	onlyItem := currentItemID(t, service, 1)
	playCurrentItem(t, service, 100)

	// The pointer stays on the played item rather than going nowhere.
	assert.Equal(t, onlyItem, currentItemID(t, service, 1))

	snapshot, err := service.GetRoomSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStateOpen, snapshot.State)
	assert.True(t, snapshot.Playlist[0].Expired)

	// Starting a match on an expired item is refused.
	require.NoError(t, service.ChangeUserState(ctx, 100, models.UserStateReady))
	err = service.StartMatch(ctx, 100)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestRoundRobinRotatesBetweenOwners(t *testing.T) {
	service, repo, _ := newTestService(t)
	repo.addRoom(2, 100, models.QueueModeAllPlayersRoundRobin)
	hostFirst := repo.seedItem(2, 100, 555)
	hostSecond := repo.seedItem(2, 100, 555)
	guestItem := repo.seedItem(2, 101, 555)
	ctx := context.Background()

	_, err := service.JoinRoom(ctx, 100, 2, "")
	require.NoError(t, err)
	_, err = service.JoinRoom(ctx, 101, 2, "")
	require.NoError(t, err)

	assert.Equal(t, hostFirst, currentItemID(t, service, 2))

	// After the host's item plays, the guest's item jumps ahead of the
	// host's remaining one.
	playCurrentItem(t, service, 100)
	assert.Equal(t, guestItem, currentItemID(t, service, 2))

	playCurrentItem(t, service, 100)
	assert.Equal(t, hostSecond, currentItemID(t, service, 2))
}

func TestQueueModeChangeReselectsCurrentItem(t *testing.T) {
	service, repo, _ := newTestService(t)
	guestItem := repo.seedItem(1, 101, 555)
	ctx := context.Background()

	_, err := service.JoinRoom(ctx, 100, 1, "")
	require.NoError(t, err)
	_, err = service.JoinRoom(ctx, 101, 1, "")
	require.NoError(t, err)

	playCurrentItem(t, service, 100)
	require.Equal(t, guestItem, currentItemID(t, service, 1))

	require.NoError(t, service.AddPlaylistItem(ctx, 100, validItem()))
	snapshot, err := service.GetRoomSnapshot(ctx, 1)
	require.NoError(t, err)
	hostItem := snapshot.Playlist[len(snapshot.Playlist)-1].ID

	// All-players mode keeps the guest's earlier item current.
	assert.Equal(t, guestItem, currentItemID(t, service, 1))

	// Host-only mode prefers the host's own item.
	require.NoError(t, service.ChangeSettings(ctx, 100, models.RoomSettings{
		Name:      "room-1",
		MatchType: models.MatchTypeHeadToHead,
		QueueMode: models.QueueModeHostOnly,
	}))
	assert.Equal(t, hostItem, currentItemID(t, service, 1))
}
