package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/osu-server-spectator/internal/db/mongo/repositories"
	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// fakeRepo serves queued poll responses. Only the beatmap update lookup is
// implemented; the embedded interface covers the rest.
type fakeRepo struct {
	repositories.MultiplayerRepository

	mu      sync.Mutex
	queue   []pollResponse
	cursors []int64
}

type pollResponse struct {
	updates *models.BeatmapUpdates
	err     error
}

func (r *fakeRepo) push(updates *models.BeatmapUpdates, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, pollResponse{updates: updates, err: err})
}

func (r *fakeRepo) GetUpdatedBeatmapSets(ctx context.Context, lastQueueID int64) (*models.BeatmapUpdates, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors = append(r.cursors, lastQueueID)

	if len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		return next.updates, next.err
	}
	// Quiet queue: nothing changed since the cursor.
	return &models.BeatmapUpdates{LastProcessedQueueID: lastQueueID}, nil
}

func (r *fakeRepo) seenCursors() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.cursors...)
}

// fakeNotifier records hub-wide broadcasts.
type fakeNotifier struct {
	mu     sync.Mutex
	events []models.BeatmapUpdates
}

func (n *fakeNotifier) NotifyAll(method string, params any) {
	if method != rpc.EventBeatmapSetsUpdated {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, params.(models.BeatmapUpdates))
}

func (n *fakeNotifier) broadcasts() []models.BeatmapUpdates {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.BeatmapUpdates(nil), n.events...)
}

func newTestBroadcaster(t *testing.T, repo *fakeRepo, notifier *fakeNotifier) *Broadcaster {
	t.Helper()
	b := NewBroadcaster(repo, notifier, 10*time.Millisecond, utils.NewNopLogger())
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)
	return b
}

func TestInitialPollEstablishesCursorWithoutBroadcast(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}

	// Changes that predate startup must not reach clients.
	repo.push(&models.BeatmapUpdates{
		BeatmapSetIDs:        []int64{11, 12},
		LastProcessedQueueID: 7,
	}, nil)

	newTestBroadcaster(t, repo, notifier)

	require.Eventually(t, func() bool {
		return len(repo.seenCursors()) >= 2
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, notifier.broadcasts())

	cursors := repo.seenCursors()
	assert.Equal(t, int64(0), cursors[0])
	// Subsequent polls resume from the established cursor.
	assert.Equal(t, int64(7), cursors[1])
}

func TestBroadcastsOnlyNonEmptyUpdates(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}

	repo.push(&models.BeatmapUpdates{LastProcessedQueueID: 0}, nil)
	repo.push(&models.BeatmapUpdates{LastProcessedQueueID: 3}, nil)
	repo.push(&models.BeatmapUpdates{
		BeatmapSetIDs:        []int64{21},
		LastProcessedQueueID: 5,
	}, nil)

	newTestBroadcaster(t, repo, notifier)

	require.Eventually(t, func() bool {
		return len(notifier.broadcasts()) >= 1
	}, time.Second, 5*time.Millisecond)

	broadcasts := notifier.broadcasts()
	require.Len(t, broadcasts, 1)
	assert.Equal(t, []int64{21}, broadcasts[0].BeatmapSetIDs)
	assert.Equal(t, int64(5), broadcasts[0].LastProcessedQueueID)
}

func TestPollErrorDoesNotStopLoopOrAdvanceCursor(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}

	repo.push(&models.BeatmapUpdates{LastProcessedQueueID: 4}, nil)
	repo.push(nil, errors.New("database gone"))
	repo.push(&models.BeatmapUpdates{
		BeatmapSetIDs:        []int64{30},
		LastProcessedQueueID: 6,
	}, nil)

	newTestBroadcaster(t, repo, notifier)

	require.Eventually(t, func() bool {
		return len(notifier.broadcasts()) >= 1
	}, time.Second, 5*time.Millisecond)

	cursors := repo.seenCursors()
	require.GreaterOrEqual(t, len(cursors), 3)
	// The failed poll's cursor is retried, not skipped.
	assert.Equal(t, cursors[1], cursors[2])
}

func TestStartFailsWhenInitialPollFails(t *testing.T) {
	repo := &fakeRepo{}
	repo.push(nil, errors.New("database gone"))

	b := NewBroadcaster(repo, &fakeNotifier{}, 10*time.Millisecond, utils.NewNopLogger())
	assert.Error(t, b.Start(context.Background()))
}
