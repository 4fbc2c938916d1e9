package spectator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/services/scores"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

type hubEvent struct {
	scope  string
	target int64
	method string
	params any
}

// fakeHub records watcher-group fan-out and direct sends.
type fakeHub struct {
	mu     sync.Mutex
	events []hubEvent
	// watchers maps a player to the users subscribed to their frames.
	watchers map[int64]map[int64]bool
}

func newFakeHub() *fakeHub {
	return &fakeHub{watchers: make(map[int64]map[int64]bool)}
}

func (h *fakeHub) NotifyWatchers(playerID int64, method string, params any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{scope: "watchers", target: playerID, method: method, params: params})
}

func (h *fakeHub) NotifyUser(userID int64, method string, params any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{scope: "user", target: userID, method: method, params: params})
}

func (h *fakeHub) AddUserToWatchGroup(playerID, watcherID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[playerID] == nil {
		h.watchers[playerID] = make(map[int64]bool)
	}
	h.watchers[playerID][watcherID] = true
}

func (h *fakeHub) RemoveUserFromWatchGroup(playerID, watcherID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers[playerID], watcherID)
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

func (h *fakeHub) isWatching(playerID, watcherID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.watchers[playerID][watcherID]
}

// fakeScoreRepo resolves every token to a fixed score row.
type fakeScoreRepo struct {
	score *models.SoloScore
}

func (r *fakeScoreRepo) GetScoreFromToken(ctx context.Context, tokenID int64) (*models.SoloScore, error) {
	return r.score, nil
}

// fakeReplayStorage captures stored replay payloads.
type fakeReplayStorage struct {
	mu     sync.Mutex
	stored map[int64][]byte
}

func newFakeReplayStorage() *fakeReplayStorage {
	return &fakeReplayStorage{stored: make(map[int64][]byte)}
}

func (s *fakeReplayStorage) Store(ctx context.Context, scoreID int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored[scoreID] = data
	return nil
}

func (s *fakeReplayStorage) get(scoreID int64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.stored[scoreID]
	return data, ok
}

func (s *fakeReplayStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

func playingState(beatmapID int64) models.SpectatorState {
	rulesetID := int32(0)
	return models.SpectatorState{
		BeatmapID: &beatmapID,
		RulesetID: &rulesetID,
		Mods:      []string{"HD"},
		State:     models.PlayStatePlaying,
	}
}

func newTestTracker(t *testing.T) (*Tracker, *fakeHub, *fakeReplayStorage) {
	t.Helper()

	hub := newFakeHub()
	storage := newFakeReplayStorage()
	repo := &fakeScoreRepo{score: &models.SoloScore{ID: 9001, Passed: true}}

	uploader := scores.NewUploader(scores.UploaderConfig{
		Enabled:         true,
		Concurrency:     1,
		TimeoutInterval: time.Second,
	}, repo, storage, utils.NewNopLogger())
	t.Cleanup(uploader.Close)

	return NewTracker(hub, uploader, nil, utils.NewNopLogger()), hub, storage
}

func TestBeginPlaySessionNotifiesWatchers(t *testing.T) {
	tracker, hub, _ := newTestTracker(t)
	ctx := context.Background()

	// A session cannot begin in a concluded state.
	err := tracker.BeginPlaySession(ctx, 100, "player", 42, models.SpectatorState{State: models.PlayStatePassed})
	assert.ErrorIs(t, err, models.ErrInvalidState)

	require.NoError(t, tracker.BeginPlaySession(ctx, 100, "player", 42, playingState(555)))
	assert.Equal(t, 1, tracker.SessionCount())

	events := hub.eventsNamed(rpc.EventSpectatorUserBeganPlaying)
	require.Len(t, events, 1)
	assert.Equal(t, "watchers", events[0].scope)
	assert.Equal(t, int64(100), events[0].target)
}

func TestSendFramesRequiresSession(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	err := tracker.SendFrames(context.Background(), 100, models.FrameDataBundle{})
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestFramesAreRelayedToWatchers(t *testing.T) {
	tracker, hub, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.BeginPlaySession(ctx, 100, "player", 42, playingState(555)))

	bundle := models.FrameDataBundle{
		Header: models.FrameHeader{TotalScore: 5000, Accuracy: 0.97, MaxCombo: 42},
		Frames: []models.ReplayFrame{{Time: 0}, {Time: 16}},
	}
	require.NoError(t, tracker.SendFrames(ctx, 100, bundle))

	events := hub.eventsNamed(rpc.EventSpectatorUserSentFrames)
	require.Len(t, events, 1)
	relayed := events[0].params.(FramesEvent)
	assert.Equal(t, int64(100), relayed.UserID)
	assert.Len(t, relayed.Bundle.Frames, 2)
	assert.Equal(t, int64(5000), relayed.Bundle.Header.TotalScore)
}

func TestEndPlaySessionUploadsReplay(t *testing.T) {
	tracker, hub, storage := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.BeginPlaySession(ctx, 100, "player", 42, playingState(555)))
	require.NoError(t, tracker.SendFrames(ctx, 100, models.FrameDataBundle{
		Header: models.FrameHeader{TotalScore: 5000},
		Frames: []models.ReplayFrame{{Time: 0}},
	}))

	// Ending with a still-playing state is invalid.
	err := tracker.EndPlaySession(ctx, 100, playingState(555))
	assert.ErrorIs(t, err, models.ErrInvalidState)

	require.NoError(t, tracker.EndPlaySession(ctx, 100, models.SpectatorState{State: models.PlayStatePassed}))
	assert.Zero(t, tracker.SessionCount())
	assert.NotEmpty(t, hub.eventsNamed(rpc.EventSpectatorUserFinishedPlaying))

	require.Eventually(t, func() bool {
		_, ok := storage.get(9001)
		return ok
	}, time.Second, 10*time.Millisecond)

	data, _ := storage.get(9001)
	var stored models.Score
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, "player", stored.ScoreInfo.User.Username)
	assert.Equal(t, int64(555), stored.ScoreInfo.BeatmapID)
	assert.Equal(t, []string{"HD"}, stored.ScoreInfo.Mods)
	assert.Len(t, stored.Replay, 1)

	// Ending twice is invalid.
	err = tracker.EndPlaySession(ctx, 100, models.SpectatorState{State: models.PlayStatePassed})
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestEmptyReplayIsNotUploaded(t *testing.T) {
	tracker, _, storage := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.BeginPlaySession(ctx, 100, "player", 42, playingState(555)))
	require.NoError(t, tracker.EndPlaySession(ctx, 100, models.SpectatorState{State: models.PlayStateQuit}))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, storage.count())
}

func TestStartWatchingCatchesUpOnActiveSession(t *testing.T) {
	tracker, hub, _ := newTestTracker(t)
	ctx := context.Background()

	assert.ErrorIs(t, tracker.StartWatching(ctx, 200, 200), models.ErrInvalidState)

	require.NoError(t, tracker.BeginPlaySession(ctx, 100, "player", 42, playingState(555)))
	require.NoError(t, tracker.StartWatching(ctx, 200, 100))

	assert.True(t, hub.isWatching(100, 200))

	// The target learns about the new watcher.
	started := hub.eventsNamed(rpc.EventSpectatorUserStartedWatching)
	require.Len(t, started, 1)
	assert.Equal(t, int64(100), started[0].target)
	assert.Equal(t, int64(200), started[0].params.(WatchEvent).UserID)

	// The watcher is caught up on the in-progress play.
	began := hub.eventsNamed(rpc.EventSpectatorUserBeganPlaying)
	var caughtUp bool
	for _, ev := range began {
		if ev.scope == "user" && ev.target == 200 {
			caughtUp = true
		}
	}
	assert.True(t, caughtUp)

	// Watching again is a no-op.
	require.NoError(t, tracker.StartWatching(ctx, 200, 100))
	assert.Len(t, hub.eventsNamed(rpc.EventSpectatorUserStartedWatching), 1)
}

func TestEndWatching(t *testing.T) {
	tracker, hub, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.StartWatching(ctx, 200, 100))
	require.NoError(t, tracker.EndWatching(ctx, 200, 100))

	assert.False(t, hub.isWatching(100, 200))
	ended := hub.eventsNamed(rpc.EventSpectatorUserEndedWatching)
	require.Len(t, ended, 1)
	assert.Equal(t, int64(100), ended[0].target)

	// Ending a watch that does not exist is a quiet no-op.
	require.NoError(t, tracker.EndWatching(ctx, 200, 100))
	assert.Len(t, hub.eventsNamed(rpc.EventSpectatorUserEndedWatching), 1)
}

func TestDisconnectEndsSessionAndWatches(t *testing.T) {
	tracker, hub, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.BeginPlaySession(ctx, 100, "player", 42, playingState(555)))
	require.NoError(t, tracker.StartWatching(ctx, 100, 300))

	tracker.HandleDisconnect(ctx, 100)

	assert.Zero(t, tracker.SessionCount())
	assert.False(t, hub.isWatching(300, 100))

	finished := hub.eventsNamed(rpc.EventSpectatorUserFinishedPlaying)
	require.Len(t, finished, 1)
	assert.Equal(t, models.PlayStateQuit, finished[0].params.(PlaySessionEvent).State.State)
}
