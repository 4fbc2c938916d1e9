// Package metadata polls for beatmap set changes and pushes them to every
// connected client.
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/peppy/osu-server-spectator/internal/db/mongo/repositories"
	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// Notifier is the hub-wide send the broadcaster needs.
type Notifier interface {
	NotifyAll(method string, params any)
}

// Broadcaster polls the beatmap processing queue on a restarting single-shot
// timer and broadcasts any changed beatmap sets. The timer only re-arms
// after a poll completes, so a slow database can never stack polls.
type Broadcaster struct {
	repo     repositories.MultiplayerRepository
	notifier Notifier
	interval time.Duration
	logger   *utils.Logger

	lastQueueID int64
	stop        chan struct{}
	done        chan struct{}
}

// NewBroadcaster creates a stopped broadcaster; call Start to begin polling.
func NewBroadcaster(repo repositories.MultiplayerRepository, notifier Notifier, interval time.Duration, logger *utils.Logger) *Broadcaster {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Broadcaster{
		repo:     repo,
		notifier: notifier,
		interval: interval,
		logger:   logger.Named("metadata_broadcaster"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the poll loop. The initial poll establishes the queue cursor
// without broadcasting, so clients only ever see changes that happened while
// the server was up.
func (b *Broadcaster) Start(ctx context.Context) error {
	updates, err := b.repo.GetUpdatedBeatmapSets(ctx, 0)
	if err != nil {
		return err
	}
	b.lastQueueID = updates.LastProcessedQueueID

	go b.run()
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (b *Broadcaster) Stop() {
	close(b.stop)
	<-b.done
}

func (b *Broadcaster) run() {
	defer close(b.done)

	timer := time.NewTimer(b.interval)
	defer timer.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-timer.C:
			b.poll()
			timer.Reset(b.interval)
		}
	}
}

func (b *Broadcaster) poll() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Metadata poll panicked", fmt.Errorf("%v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.interval)
	defer cancel()

	updates, err := b.repo.GetUpdatedBeatmapSets(ctx, b.lastQueueID)
	if err != nil {
		b.logger.Warn("Metadata poll failed", "lastQueueId", b.lastQueueID, "error", err)
		return
	}

	b.lastQueueID = updates.LastProcessedQueueID

	if len(updates.BeatmapSetIDs) == 0 {
		return
	}

	b.logger.Debug("Broadcasting beatmap set updates",
		"count", len(updates.BeatmapSetIDs), "lastQueueId", b.lastQueueID)
	b.notifier.NotifyAll(rpc.EventBeatmapSetsUpdated, models.BeatmapUpdates{
		BeatmapSetIDs:        updates.BeatmapSetIDs,
		LastProcessedQueueID: updates.LastProcessedQueueID,
	})
}
