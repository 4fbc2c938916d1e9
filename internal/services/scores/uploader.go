package scores

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peppy/osu-server-spectator/internal/db/mongo/repositories"
	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

const (
	// initialPollInterval is the first wait between score token polls.
	initialPollInterval = 50 * time.Millisecond

	// maxPollInterval caps the exponential poll backoff.
	maxPollInterval = 250 * time.Millisecond
)

// UploaderConfig configures the replay upload pipeline.
type UploaderConfig struct {
	// Enabled gates the whole pipeline. When false, enqueued scores are
	// dropped silently.
	Enabled bool

	// Concurrency is the number of upload workers.
	Concurrency int

	// TimeoutInterval bounds how long a queued score waits for its token
	// to resolve before being dropped.
	TimeoutInterval time.Duration
}

// UploadMetrics records how each queued upload settled.
type UploadMetrics interface {
	ScoreUploaded(outcome string, duration time.Duration)
}

// Upload outcomes.
const (
	outcomeUploaded = "uploaded"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)

// pendingUpload is a finished play waiting for its web-side score row.
type pendingUpload struct {
	tokenID  int64
	score    *models.Score
	queuedAt time.Time
}

// Uploader resolves score submission tokens and ships replays to storage.
// The web-side score row can land after the play finishes here, so each
// upload polls its token with backoff until it resolves or times out.
// Failed uploads are logged and dropped, never retried.
type Uploader struct {
	config  UploaderConfig
	repo    repositories.ScoreRepository
	storage ReplayStorage
	logger  *utils.Logger

	// metrics is optional; outcomes are recorded there when set.
	metrics UploadMetrics

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*pendingUpload
	closed  bool
	workers sync.WaitGroup

	// pending counts queued plus in-flight uploads, for flush.
	pending atomic.Int64
}

// NewUploader starts the configured number of upload workers.
func NewUploader(config UploaderConfig, repo repositories.ScoreRepository, storage ReplayStorage, logger *utils.Logger) *Uploader {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}

	u := &Uploader{
		config:  config,
		repo:    repo,
		storage: storage,
		logger:  logger.Named("score_uploader"),
	}
	u.cond = sync.NewCond(&u.mu)

	for i := 0; i < config.Concurrency; i++ {
		u.workers.Add(1)
		go u.worker()
	}
	return u
}

// SetMetrics attaches an upload metrics recorder. Must be called before any
// score is enqueued.
func (u *Uploader) SetMetrics(metrics UploadMetrics) {
	u.metrics = metrics
}

// SetEnabled toggles the pipeline at runtime. Scores enqueued while disabled
// are dropped.
func (u *Uploader) SetEnabled(enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.config.Enabled = enabled
}

// SetTimeoutInterval adjusts how long a queued score waits for its token to
// resolve. Applies to uploads enqueued afterwards.
func (u *Uploader) SetTimeoutInterval(interval time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.config.TimeoutInterval = interval
}

func (u *Uploader) timeoutInterval() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.config.TimeoutInterval
}

// Enqueue submits a finished play for upload. Ordering is FIFO per the
// upload queue; concurrency is bounded by the worker count.
func (u *Uploader) Enqueue(tokenID int64, score *models.Score) {
	item := &pendingUpload{tokenID: tokenID, score: score, queuedAt: time.Now()}

	u.mu.Lock()
	if !u.config.Enabled || u.closed {
		u.mu.Unlock()
		return
	}
	u.queue = append(u.queue, item)
	u.pending.Add(1)
	u.mu.Unlock()

	u.cond.Signal()
}

// Flush blocks until every queued and in-flight upload has settled, or the
// context expires.
func (u *Uploader) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for u.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops the workers after the current queue drains. Further enqueues
// are dropped.
func (u *Uploader) Close() {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()

	u.cond.Broadcast()
	u.workers.Wait()
}

func (u *Uploader) worker() {
	defer u.workers.Done()

	for {
		u.mu.Lock()
		for len(u.queue) == 0 && !u.closed {
			u.cond.Wait()
		}
		if len(u.queue) == 0 && u.closed {
			u.mu.Unlock()
			return
		}
		item := u.queue[0]
		u.queue = u.queue[1:]
		u.mu.Unlock()

		u.process(item)
		u.pending.Add(-1)
	}
}

// process polls the score token until it resolves, then merges the online
// identity into the score and uploads the replay.
func (u *Uploader) process(item *pendingUpload) {
	deadline := item.queuedAt.Add(u.timeoutInterval())
	interval := initialPollInterval

	for {
		// Poll before the deadline check so a token that is already
		// resolvable gets uploaded even with a zero timeout.
		resolved, err := u.repo.GetScoreFromToken(context.Background(), item.tokenID)
		if err != nil {
			u.logger.Error("Score token lookup failed, dropping upload", err,
				"tokenId", item.tokenID)
			u.recordOutcome(outcomeError, item)
			return
		}

		if resolved != nil {
			u.upload(item, resolved)
			return
		}

		if !time.Now().Before(deadline) {
			u.logger.Warn("Score token never resolved, dropping upload",
				"tokenId", item.tokenID, "waited", time.Since(item.queuedAt).String())
			u.recordOutcome(outcomeTimeout, item)
			return
		}

		time.Sleep(interval)
		interval *= 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}

func (u *Uploader) upload(item *pendingUpload, resolved *models.SoloScore) {
	// Merge the database-side identity; the user identity established at
	// session start is kept.
	item.score.ScoreInfo.OnlineID = resolved.ID
	item.score.ScoreInfo.Passed = resolved.Passed

	data, err := json.Marshal(item.score)
	if err != nil {
		u.logger.Error("Failed to serialize replay, dropping upload", err,
			"scoreId", resolved.ID)
		u.recordOutcome(outcomeError, item)
		return
	}

	if err := u.storage.Store(context.Background(), resolved.ID, data); err != nil {
		u.logger.Error("Failed to store replay", err,
			"scoreId", resolved.ID, "tokenId", item.tokenID)
		u.recordOutcome(outcomeError, item)
		return
	}

	u.recordOutcome(outcomeUploaded, item)
	u.logger.Debug("Replay uploaded", "scoreId", resolved.ID, "tokenId", item.tokenID)
}

func (u *Uploader) recordOutcome(outcome string, item *pendingUpload) {
	if u.metrics != nil {
		u.metrics.ScoreUploaded(outcome, time.Since(item.queuedAt))
	}
}
