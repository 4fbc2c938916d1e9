// Package spectator tracks live play sessions and fans gameplay frames out
// to watching clients.
package spectator

import (
	"context"
	"sync"
	"time"

	"github.com/peppy/osu-server-spectator/internal/db/redis/managers"
	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/services/scores"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// HubContext is the slice of the realtime hub the tracker needs: per-player
// watcher groups and single-user sends.
type HubContext interface {
	// NotifyWatchers sends an event to everyone watching a player.
	NotifyWatchers(playerID int64, method string, params any)

	// NotifyUser sends an event to a single user.
	NotifyUser(userID int64, method string, params any)

	// AddUserToWatchGroup subscribes a watcher to a player's frames.
	AddUserToWatchGroup(playerID, watcherID int64)

	// RemoveUserFromWatchGroup unsubscribes a watcher.
	RemoveUserFromWatchGroup(playerID, watcherID int64)
}

// PlaySessionEvent announces a play session starting or ending.
type PlaySessionEvent struct {
	UserID int64                 `json:"userId"`
	State  models.SpectatorState `json:"state"`
}

// FramesEvent carries a bundle of gameplay frames from a player.
type FramesEvent struct {
	UserID int64                  `json:"userId"`
	Bundle models.FrameDataBundle `json:"bundle"`
}

// WatchEvent tells a player that someone started or stopped watching them.
type WatchEvent struct {
	UserID int64 `json:"userId"`
}

// playSession is the server-side record of one user's in-progress play.
type playSession struct {
	userID       int64
	scoreTokenID int64
	state        models.SpectatorState
	score        *models.Score
}

// Tracker maintains active play sessions and the watcher topology. Frames
// are relayed, not persisted; the accumulated replay is handed to the score
// uploader when the session ends.
type Tracker struct {
	hub      HubContext
	uploader *scores.Uploader
	presence *managers.PresenceManager
	logger   *utils.Logger

	mu       sync.Mutex
	sessions map[int64]*playSession
	// watching maps a watcher to the set of players they watch, for
	// disconnect cleanup.
	watching map[int64]map[int64]bool
}

// NewTracker creates the session tracker. Uploader and presence may be nil.
func NewTracker(hub HubContext, uploader *scores.Uploader, presence *managers.PresenceManager, logger *utils.Logger) *Tracker {
	return &Tracker{
		hub:      hub,
		uploader: uploader,
		presence: presence,
		logger:   logger.Named("spectator_tracker"),
		sessions: make(map[int64]*playSession),
		watching: make(map[int64]map[int64]bool),
	}
}

// BeginPlaySession opens a play session for a user. An existing session for
// the same user is discarded; its replay is never uploaded.
func (t *Tracker) BeginPlaySession(ctx context.Context, userID int64, username string, scoreTokenID int64, state models.SpectatorState) error {
	if state.State != models.PlayStatePlaying {
		return models.ErrInvalidState
	}

	session := &playSession{
		userID:       userID,
		scoreTokenID: scoreTokenID,
		state:        state,
		score: &models.Score{
			ScoreInfo: models.ScoreInfo{
				User: models.APIUser{ID: userID, Username: username},
				Mods: state.Mods,
			},
		},
	}
	if state.BeatmapID != nil {
		session.score.ScoreInfo.BeatmapID = *state.BeatmapID
	}
	if state.RulesetID != nil {
		session.score.ScoreInfo.RulesetID = *state.RulesetID
	}

	t.mu.Lock()
	if _, exists := t.sessions[userID]; exists {
		t.logger.Warn("Replacing dangling play session", "userId", userID)
	}
	t.sessions[userID] = session
	t.mu.Unlock()

	t.setPresencePlaying(ctx, userID, state.BeatmapID)
	t.hub.NotifyWatchers(userID, rpc.EventSpectatorUserBeganPlaying, PlaySessionEvent{UserID: userID, State: state})
	return nil
}

// SendFrames relays a frame bundle to the player's watchers and folds it
// into the session's accumulating replay.
func (t *Tracker) SendFrames(ctx context.Context, userID int64, bundle models.FrameDataBundle) error {
	t.mu.Lock()
	session, ok := t.sessions[userID]
	if !ok {
		t.mu.Unlock()
		return models.ErrInvalidState
	}

	session.score.Replay = append(session.score.Replay, bundle.Frames...)
	session.score.ScoreInfo.TotalScore = bundle.Header.TotalScore
	session.score.ScoreInfo.Accuracy = bundle.Header.Accuracy
	session.score.ScoreInfo.MaxCombo = bundle.Header.MaxCombo
	t.mu.Unlock()

	t.hub.NotifyWatchers(userID, rpc.EventSpectatorUserSentFrames, FramesEvent{UserID: userID, Bundle: bundle})
	return nil
}

// EndPlaySession closes a user's play session, notifying watchers and
// handing the replay to the uploader when there is anything to keep.
func (t *Tracker) EndPlaySession(ctx context.Context, userID int64, state models.SpectatorState) error {
	if state.State == models.PlayStatePlaying {
		return models.ErrInvalidState
	}

	t.mu.Lock()
	session, ok := t.sessions[userID]
	if !ok {
		t.mu.Unlock()
		return models.ErrInvalidState
	}
	delete(t.sessions, userID)
	t.mu.Unlock()

	t.setPresencePlaying(ctx, userID, nil)
	t.hub.NotifyWatchers(userID, rpc.EventSpectatorUserFinishedPlaying, PlaySessionEvent{UserID: userID, State: state})

	// An empty replay is nothing worth keeping.
	if t.uploader != nil && len(session.score.Replay) > 0 {
		session.score.ScoreInfo.Passed = state.State == models.PlayStatePassed
		session.score.ScoreInfo.EndedAt = time.Now()
		t.uploader.Enqueue(session.scoreTokenID, session.score)
	}
	return nil
}

// StartWatching subscribes a watcher to a player's session. Watching a user
// who is not currently playing is allowed; frames flow once they start.
func (t *Tracker) StartWatching(ctx context.Context, watcherID, targetID int64) error {
	if watcherID == targetID {
		return models.ErrInvalidState
	}

	t.mu.Lock()
	if t.watching[watcherID] == nil {
		t.watching[watcherID] = make(map[int64]bool)
	}
	alreadyWatching := t.watching[watcherID][targetID]
	t.watching[watcherID][targetID] = true
	var currentState *models.SpectatorState
	if session, ok := t.sessions[targetID]; ok {
		state := session.state
		currentState = &state
	}
	t.mu.Unlock()

	if alreadyWatching {
		return nil
	}

	t.hub.AddUserToWatchGroup(targetID, watcherID)
	t.hub.NotifyUser(targetID, rpc.EventSpectatorUserStartedWatching, WatchEvent{UserID: watcherID})

	// Catch the new watcher up on the in-progress session.
	if currentState != nil {
		t.hub.NotifyUser(watcherID, rpc.EventSpectatorUserBeganPlaying, PlaySessionEvent{UserID: targetID, State: *currentState})
	}
	return nil
}

// EndWatching unsubscribes a watcher from a player's session.
func (t *Tracker) EndWatching(ctx context.Context, watcherID, targetID int64) error {
	t.mu.Lock()
	watched := t.watching[watcherID][targetID]
	if watched {
		delete(t.watching[watcherID], targetID)
		if len(t.watching[watcherID]) == 0 {
			delete(t.watching, watcherID)
		}
	}
	t.mu.Unlock()

	if !watched {
		return nil
	}

	t.hub.RemoveUserFromWatchGroup(targetID, watcherID)
	t.hub.NotifyUser(targetID, rpc.EventSpectatorUserEndedWatching, WatchEvent{UserID: watcherID})
	return nil
}

// HandleDisconnect performs implicit cleanup when a user's last connection
// drops: their play session ends as quit and all their watches are released.
func (t *Tracker) HandleDisconnect(ctx context.Context, userID int64) {
	t.mu.Lock()
	_, playing := t.sessions[userID]
	targets := make([]int64, 0, len(t.watching[userID]))
	for target := range t.watching[userID] {
		targets = append(targets, target)
	}
	t.mu.Unlock()

	if playing {
		if err := t.EndPlaySession(ctx, userID, models.SpectatorState{State: models.PlayStateQuit}); err != nil {
			t.logger.Debug("Play session already gone on disconnect", "userId", userID)
		}
	}

	for _, target := range targets {
		if err := t.EndWatching(ctx, userID, target); err != nil {
			t.logger.Debug("Watch already released on disconnect",
				"userId", userID, "targetId", target)
		}
	}
}

// SessionCount returns the number of in-progress play sessions.
func (t *Tracker) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) setPresencePlaying(ctx context.Context, userID int64, beatmapID *int64) {
	if t.presence == nil {
		return
	}
	if err := t.presence.SetPlaySession(ctx, userID, beatmapID); err != nil {
		t.logger.Debug("Failed to update play presence", "userId", userID, "error", err)
	}
}
