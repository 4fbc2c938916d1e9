package scores

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// fakeScoreRepo resolves tokens from an in-memory table. Lookup errors and
// call counts are controllable per test.
type fakeScoreRepo struct {
	mu           sync.Mutex
	scores       map[int64]*models.SoloScore
	err          error
	lookups      int
	resolveAfter int
}

func newFakeScoreRepo() *fakeScoreRepo {
	return &fakeScoreRepo{scores: make(map[int64]*models.SoloScore)}
}

func (r *fakeScoreRepo) resolve(tokenID int64, score *models.SoloScore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[tokenID] = score
}

func (r *fakeScoreRepo) GetScoreFromToken(ctx context.Context, tokenID int64) (*models.SoloScore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.err != nil {
		return nil, r.err
	}
	if r.resolveAfter > 0 && r.lookups < r.resolveAfter {
		return nil, nil
	}
	return r.scores[tokenID], nil
}

func (r *fakeScoreRepo) lookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

// fakeReplayStorage records stored replays keyed by score ID.
type fakeReplayStorage struct {
	mu     sync.Mutex
	stored map[int64][]byte
	err    error
}

func newFakeReplayStorage() *fakeReplayStorage {
	return &fakeReplayStorage{stored: make(map[int64][]byte)}
}

func (s *fakeReplayStorage) Store(ctx context.Context, scoreID int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
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

func testScore(userID int64) *models.Score {
	return &models.Score{
		ScoreInfo: models.ScoreInfo{
			User:       models.APIUser{ID: userID, Username: "player"},
			BeatmapID:  555,
			TotalScore: 123456,
		},
		Replay: []models.ReplayFrame{{Time: 0}, {Time: 16}},
	}
}

func newTestUploader(t *testing.T, config UploaderConfig, repo *fakeScoreRepo, storage *fakeReplayStorage) *Uploader {
	t.Helper()
	uploader := NewUploader(config, repo, storage, utils.NewNopLogger())
	t.Cleanup(uploader.Close)
	return uploader
}

func TestUploadMergesOnlineIdentity(t *testing.T) {
	repo := newFakeScoreRepo()
	storage := newFakeReplayStorage()
	repo.resolve(42, &models.SoloScore{ID: 9001, UserID: 100, Passed: true})

	uploader := newTestUploader(t, UploaderConfig{
		Enabled:         true,
		Concurrency:     1,
		TimeoutInterval: time.Second,
	}, repo, storage)

	uploader.Enqueue(42, testScore(100))
	require.NoError(t, uploader.Flush(context.Background()))

	data, ok := storage.get(9001)
	require.True(t, ok)

	var stored models.Score
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, int64(9001), stored.ScoreInfo.OnlineID)
	assert.True(t, stored.ScoreInfo.Passed)
	// The identity from session start is preserved.
	assert.Equal(t, int64(100), stored.ScoreInfo.User.ID)
	assert.Equal(t, "player", stored.ScoreInfo.User.Username)
	assert.Len(t, stored.Replay, 2)
}

func TestUploadWaitsForTokenResolution(t *testing.T) {
	repo := newFakeScoreRepo()
	repo.resolveAfter = 3
	repo.resolve(42, &models.SoloScore{ID: 9001, Passed: false})
	storage := newFakeReplayStorage()

	uploader := newTestUploader(t, UploaderConfig{
		Enabled:         true,
		Concurrency:     1,
		TimeoutInterval: 5 * time.Second,
	}, repo, storage)

	uploader.Enqueue(42, testScore(100))
	require.NoError(t, uploader.Flush(context.Background()))

	assert.GreaterOrEqual(t, repo.lookupCount(), 3)
	_, ok := storage.get(9001)
	assert.True(t, ok)
}

func TestUploadDroppedOnTimeout(t *testing.T) {
	repo := newFakeScoreRepo()
	storage := newFakeReplayStorage()

	uploader := newTestUploader(t, UploaderConfig{
		Enabled:         true,
		Concurrency:     1,
		TimeoutInterval: 120 * time.Millisecond,
	}, repo, storage)

	uploader.Enqueue(42, testScore(100))
	require.NoError(t, uploader.Flush(context.Background()))

	assert.Zero(t, storage.count())
	// Several polls happened before giving up.
	assert.GreaterOrEqual(t, repo.lookupCount(), 2)
}

func TestZeroTimeoutStillUploadsResolvableToken(t *testing.T) {
	repo := newFakeScoreRepo()
	repo.resolve(42, &models.SoloScore{ID: 9001, Passed: true})
	storage := newFakeReplayStorage()

	uploader := newTestUploader(t, UploaderConfig{
		Enabled:         true,
		Concurrency:     1,
		TimeoutInterval: 0,
	}, repo, storage)

	uploader.Enqueue(42, testScore(100))
	require.NoError(t, uploader.Flush(context.Background()))

	_, ok := storage.get(9001)
	assert.True(t, ok)
	assert.Equal(t, 1, repo.lookupCount())
}

func TestDisabledUploaderDropsSilently(t *testing.T) {
	repo := newFakeScoreRepo()
	repo.resolve(42, &models.SoloScore{ID: 9001})
	storage := newFakeReplayStorage()

	uploader := newTestUploader(t, UploaderConfig{
		Enabled:         false,
		Concurrency:     1,
		TimeoutInterval: time.Second,
	}, repo, storage)

	uploader.Enqueue(42, testScore(100))
	require.NoError(t, uploader.Flush(context.Background()))

	assert.Zero(t, storage.count())
	assert.Zero(t, repo.lookupCount())
}

func TestLookupErrorDropsWithoutRetry(t *testing.T) {
	repo := newFakeScoreRepo()
	repo.err = errors.New("database gone")
	storage := newFakeReplayStorage()

	uploader := newTestUploader(t, UploaderConfig{
		Enabled:         true,
		Concurrency:     2,
		TimeoutInterval: time.Second,
	}, repo, storage)

	uploader.Enqueue(42, testScore(100))
	require.NoError(t, uploader.Flush(context.Background()))

	assert.Zero(t, storage.count())
	assert.Equal(t, 1, repo.lookupCount())
}

func TestStorageErrorDropsWithoutRetry(t *testing.T) {
	repo := newFakeScoreRepo()
	repo.resolve(42, &models.SoloScore{ID: 9001})
	storage := newFakeReplayStorage()
	storage.err = errors.New("disk full")

	uploader := newTestUploader(t, UploaderConfig{
		Enabled:         true,
		Concurrency:     1,
		TimeoutInterval: time.Second,
	}, repo, storage)

	uploader.Enqueue(42, testScore(100))
	require.NoError(t, uploader.Flush(context.Background()))

	assert.Zero(t, storage.count())
	assert.Equal(t, 1, repo.lookupCount())
}

func TestRuntimeSettersTakeEffect(t *testing.T) {
	repo := newFakeScoreRepo()
	repo.resolve(42, &models.SoloScore{ID: 9001, Passed: true})
	storage := newFakeReplayStorage()

	uploader := newTestUploader(t, UploaderConfig{
		Enabled:         false,
		Concurrency:     1,
		TimeoutInterval: time.Second,
	}, repo, storage)

	uploader.Enqueue(42, testScore(100))
	require.NoError(t, uploader.Flush(context.Background()))
	assert.Zero(t, storage.count())

	uploader.SetEnabled(true)
	uploader.SetTimeoutInterval(0)

	uploader.Enqueue(42, testScore(100))
	require.NoError(t, uploader.Flush(context.Background()))

	// A zero timeout still allows the single up-front poll to succeed.
	_, ok := storage.get(9001)
	assert.True(t, ok)
	assert.Equal(t, 1, repo.lookupCount())
}

func TestMassUploadsAllLand(t *testing.T) {
	repo := newFakeScoreRepo()
	storage := newFakeReplayStorage()
	for i := int64(1); i <= 1000; i++ {
		repo.resolve(i, &models.SoloScore{ID: 100000 + i, Passed: true})
	}

	uploader := newTestUploader(t, UploaderConfig{
		Enabled:         true,
		Concurrency:     4,
		TimeoutInterval: 10 * time.Second,
	}, repo, storage)

	for i := int64(1); i <= 1000; i++ {
		uploader.Enqueue(i, testScore(100))
	}
	require.NoError(t, uploader.Flush(context.Background()))

	require.Equal(t, 1000, storage.count())
	for i := int64(1); i <= 1000; i++ {
		_, ok := storage.get(100000 + i)
		assert.True(t, ok, "score %d missing", 100000+i)
	}
}

func TestCloseDrainsQueuedUploads(t *testing.T) {
	repo := newFakeScoreRepo()
	storage := newFakeReplayStorage()
	for i := int64(1); i <= 5; i++ {
		repo.resolve(i, &models.SoloScore{ID: 1000 + i})
	}

	uploader := NewUploader(UploaderConfig{
		Enabled:         true,
		Concurrency:     2,
		TimeoutInterval: time.Second,
	}, repo, storage, utils.NewNopLogger())

	for i := int64(1); i <= 5; i++ {
		uploader.Enqueue(i, testScore(100))
	}
	uploader.Close()

	assert.Equal(t, 5, storage.count())

	// Enqueues after close are dropped.
	uploader.Enqueue(6, testScore(100))
	assert.Equal(t, 5, storage.count())
}
