package multiplayer

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/peppy/osu-server-spectator/internal/db/mongo/repositories"
	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// forceGameplayStartDuration bounds how long a match waits for stragglers to
// load before gameplay is forced to begin without them.
const forceGameplayStartDuration = 30 * time.Second

// Room is the live, server-authoritative state of a multiplayer room. It has
// no internal locking: the registry's usage lease serializes all access.
type Room struct {
	ID         int64
	State      models.RoomState
	Settings   models.RoomSettings
	HostUserID int64

	// Users holds members in join order. Host succession follows this
	// order.
	Users []*models.MultiplayerRoomUser

	queue        *Queue
	countdowns   *CountdownManager
	matchHandler matchTypeHandler

	hub    HubContext
	repo   repositories.MultiplayerRepository
	logger *utils.Logger
}

// newRoom builds the live room from its persisted record. The playlist is
// loaded separately via the queue's Initialize.
func newRoom(record *models.RoomRecord, registry *Registry, hub HubContext, repo repositories.MultiplayerRepository, logger *utils.Logger) *Room {
	room := &Room{
		ID:    record.ID,
		State: models.RoomStateOpen,
		Settings: models.RoomSettings{
			Name:      record.Name,
			Password:  record.Password,
			MatchType: record.MatchType,
			QueueMode: record.QueueMode,
		},
		HostUserID:   record.HostUserID,
		matchHandler: newMatchTypeHandler(record.MatchType),
		hub:          hub,
		repo:         repo,
		logger:       logger.Named("room").With("roomId", record.ID),
	}
	room.queue = newQueue(room, repo, room.logger)
	room.countdowns = NewCountdownManager(record.ID, registry, room.logger)
	return room
}

// RoomSnapshot is the full room state sent to a joining or reconnecting
// client.
type RoomSnapshot struct {
	RoomID         int64                        `json:"roomId"`
	State          models.RoomState             `json:"state"`
	Settings       models.RoomSettings          `json:"settings"`
	HostUserID     int64                        `json:"hostUserId"`
	Users          []models.MultiplayerRoomUser `json:"users"`
	Playlist       []models.PlaylistItem        `json:"playlist"`
	Countdowns     []ActiveCountdown            `json:"countdowns"`
	MatchRoomState any                          `json:"matchRoomState,omitempty"`
}

// ActiveCountdown is a countdown with its remaining time computed at
// serialization time.
type ActiveCountdown struct {
	Countdown     models.Countdown `json:"countdown"`
	TimeRemaining time.Duration    `json:"timeRemaining"`
}

// Snapshot captures the room state for transmission to a single client.
func (r *Room) Snapshot() *RoomSnapshot {
	now := time.Now()

	users := lo.Map(r.Users, func(u *models.MultiplayerRoomUser, _ int) models.MultiplayerRoomUser {
		return *u
	})
	playlist := lo.Map(r.queue.Items(), func(item *models.PlaylistItem, _ int) models.PlaylistItem {
		return *item
	})

	active := r.countdowns.Active()
	countdowns := make([]ActiveCountdown, 0, len(active))
	for _, c := range active {
		countdowns = append(countdowns, ActiveCountdown{Countdown: c, TimeRemaining: c.TimeRemaining(now)})
	}

	return &RoomSnapshot{
		RoomID:         r.ID,
		State:          r.State,
		Settings:       r.Settings,
		HostUserID:     r.HostUserID,
		Users:          users,
		Playlist:       playlist,
		Countdowns:     countdowns,
		MatchRoomState: r.matchHandler.RoomState(),
	}
}

func (r *Room) findUser(userID int64) *models.MultiplayerRoomUser {
	for _, u := range r.Users {
		if u.UserID == userID {
			return u
		}
	}
	return nil
}

// IsEmpty reports whether the room has no members left.
func (r *Room) IsEmpty() bool {
	return len(r.Users) == 0
}

// AddUser admits a user into the room.
func (r *Room) AddUser(ctx context.Context, userID int64, password string) error {
	if r.State == models.RoomStateClosed {
		return models.ErrInvalidState
	}
	if r.Settings.Password != "" && r.Settings.Password != password {
		return models.ErrInvalidPassword
	}
	if r.findUser(userID) != nil {
		return models.ErrUserAlreadyInRoom
	}

	user := &models.MultiplayerRoomUser{UserID: userID, State: models.UserStateIdle}
	r.Users = append(r.Users, user)

	r.hub.AddUserToRoomGroup(r.ID, userID)
	r.notifyUserJoined(userID)
	r.matchHandler.HandleUserJoined(r, user)

	if err := r.repo.AddRoomParticipant(ctx, r.ID, userID); err != nil {
		r.logger.Warn("Failed to persist participant join", "userId", userID, "error", err)
	}
	return nil
}

// RemoveUser takes a user out of the room, reassigning host if needed and
// unblocking any gameplay phase the departure completes.
func (r *Room) RemoveUser(ctx context.Context, userID int64, kicked bool) error {
	user := r.findUser(userID)
	if user == nil {
		return models.ErrUserNotInRoom
	}

	wasGameplay := user.State.IsGameplay()
	r.matchHandler.HandleUserLeft(r, user)

	for i, u := range r.Users {
		if u.UserID == userID {
			r.Users = append(r.Users[:i], r.Users[i+1:]...)
			break
		}
	}

	if wasGameplay {
		r.hub.RemoveUserFromGameplayGroup(r.ID, userID)
	}
	r.hub.RemoveUserFromRoomGroup(r.ID, userID)

	if kicked {
		r.notifyUserKicked(userID)
	} else {
		r.notifyUserLeft(userID)
	}

	if err := r.repo.RemoveRoomParticipant(ctx, r.ID, userID); err != nil {
		r.logger.Warn("Failed to persist participant leave", "userId", userID, "error", err)
	}

	if r.HostUserID == userID && len(r.Users) > 0 {
		r.setHost(ctx, r.Users[0].UserID)
	}

	// The departing user may have been the last one holding up a phase
	// transition.
	if r.State == models.RoomStateWaitingForLoad {
		r.startGameplayIfReady(ctx)
	} else if r.State == models.RoomStatePlaying {
		r.finishGameplayIfDone(ctx)
	}
	return nil
}

// TransferHost hands host authority to another room member.
func (r *Room) TransferHost(ctx context.Context, requesterID, newHostID int64) error {
	if r.HostUserID != requesterID {
		return models.ErrNotHost
	}
	if r.findUser(newHostID) == nil {
		return models.ErrUserNotInRoom
	}
	if r.HostUserID == newHostID {
		return nil
	}
	r.setHost(ctx, newHostID)
	return nil
}

// KickUser forcibly removes a member. Hosts cannot kick themselves.
func (r *Room) KickUser(ctx context.Context, requesterID, targetID int64) error {
	if r.HostUserID != requesterID {
		return models.ErrNotHost
	}
	if requesterID == targetID {
		return models.ErrInvalidState
	}
	return r.RemoveUser(ctx, targetID, true)
}

func (r *Room) setHost(ctx context.Context, newHostID int64) {
	r.HostUserID = newHostID
	r.notifyHostChanged(newHostID)
	if err := r.repo.UpdateRoomHost(ctx, r.ID, newHostID); err != nil {
		r.logger.Warn("Failed to persist host change", "hostUserId", newHostID, "error", err)
	}
}

// ChangeSettings applies a host-requested settings update. Settings are
// frozen while gameplay is in progress.
func (r *Room) ChangeSettings(ctx context.Context, requesterID int64, settings models.RoomSettings) error {
	if r.HostUserID != requesterID {
		return models.ErrNotHost
	}
	if r.State != models.RoomStateOpen {
		return models.ErrInvalidState
	}
	if err := utils.Validate(&settings); err != nil {
		return models.ErrInvalidState
	}

	previousMatchType := r.Settings.MatchType
	previousQueueMode := r.Settings.QueueMode

	// The current item pointer is server-managed and not host-editable.
	settings.PlaylistItemID = r.Settings.PlaylistItemID
	r.Settings = settings

	if settings.MatchType != previousMatchType {
		r.matchHandler = newMatchTypeHandler(settings.MatchType)
		for _, u := range r.Users {
			r.matchHandler.HandleUserJoined(r, u)
		}
		r.notifyRoom(rpc.EventMatchRoomStateChanged, MatchRoomStateEvent{RoomID: r.ID, State: r.matchHandler.RoomState()})
	}

	if err := r.repo.UpdateRoomSettings(ctx, r.ID, r.Settings); err != nil {
		r.logger.Warn("Failed to persist settings change", "error", err)
	}
	r.notifySettingsChanged()

	// A ready vote is tied to the settings it was cast under.
	r.unreadyAll(ctx)

	if settings.QueueMode != previousQueueMode {
		r.queue.UpdateFromQueueModeChange(ctx)
	}
	return nil
}

// ChangeUserState processes a client-requested state transition.
func (r *Room) ChangeUserState(ctx context.Context, userID int64, newState models.UserState) error {
	user := r.findUser(userID)
	if user == nil {
		return models.ErrUserNotInRoom
	}
	if !newState.IsClientRequestable() {
		return models.ErrInvalidStateChange
	}
	if user.State == newState {
		return nil
	}
	if !r.isValidTransition(user.State, newState) {
		return models.ErrInvalidStateChange
	}

	r.setUserState(user, newState)

	switch newState {
	case models.UserStateIdle:
		// A user backing out of the load phase may have been the last
		// one holding the room in WaitingForLoad.
		r.startGameplayIfReady(ctx)
	case models.UserStateLoaded, models.UserStateReadyForGameplay:
		if _, active := r.countdowns.FindOfType(models.CountdownForceGameplayStart); !active {
			countdown := r.countdowns.StartCountdown(models.CountdownForceGameplayStart, forceGameplayStartDuration, func(room *Room, usage *Usage) {
				room.forceGameplayStart(context.Background())
			})
			r.notifyCountdownStarted(countdown)
		}
		r.startGameplayIfReady(ctx)
	case models.UserStateFinishedPlay:
		r.finishGameplayIfDone(ctx)
	}
	return nil
}

// isValidTransition encodes which client-requested transitions are legal
// given the source state and current room phase.
func (r *Room) isValidTransition(from, to models.UserState) bool {
	switch to {
	case models.UserStateIdle:
		// Users may back out of the load phase, but not abandon an
		// in-progress play directly.
		return from != models.UserStatePlaying
	case models.UserStateReady:
		return from == models.UserStateIdle && r.State == models.RoomStateOpen
	case models.UserStateSpectating:
		return from == models.UserStateIdle || from == models.UserStateReady
	case models.UserStateLoaded:
		return from == models.UserStateWaitingForLoad
	case models.UserStateReadyForGameplay:
		return from == models.UserStateLoaded
	case models.UserStateFinishedPlay:
		return from == models.UserStatePlaying
	default:
		return false
	}
}

// setUserState applies a state change, maintaining gameplay subgroup
// membership, and broadcasts it.
func (r *Room) setUserState(user *models.MultiplayerRoomUser, state models.UserState) {
	wasGameplay := user.State.IsGameplay()
	user.State = state
	isGameplay := state.IsGameplay()

	if isGameplay && !wasGameplay {
		r.hub.AddUserToGameplayGroup(r.ID, user.UserID)
	} else if !isGameplay && wasGameplay {
		r.hub.RemoveUserFromGameplayGroup(r.ID, user.UserID)
	}

	r.notifyUserStateChanged(user)
}

func (r *Room) unreadyAll(ctx context.Context) {
	for _, u := range r.Users {
		if u.State == models.UserStateReady {
			r.setUserState(u, models.UserStateIdle)
		}
	}
}

// StartMatch begins gameplay preparation. Only the host may start, the room
// must be open, and the host must have readied up.
func (r *Room) StartMatch(ctx context.Context, requesterID int64) error {
	if r.HostUserID != requesterID {
		return models.ErrNotHost
	}
	return r.startMatch(ctx)
}

func (r *Room) startMatch(ctx context.Context) error {
	if r.State != models.RoomStateOpen {
		return models.ErrInvalidState
	}

	current := r.queue.CurrentItem()
	if current == nil || current.Expired {
		return models.ErrInvalidState
	}

	// The host's own ready vote is required; it also guarantees at least
	// one player enters the load phase.
	host := r.findUser(r.HostUserID)
	if host == nil || host.State != models.UserStateReady {
		return models.ErrInvalidState
	}

	r.setState(models.RoomStateWaitingForLoad)

	for _, u := range r.Users {
		if u.State == models.UserStateReady {
			r.setUserState(u, models.UserStateWaitingForLoad)
		}
	}

	r.notifyGameplayGroup(rpc.EventLoadRequested, UserEvent{RoomID: r.ID})
	return nil
}

// StartCountdown begins a host-requested match start countdown. When it
// fires the match starts automatically if the preconditions still hold.
func (r *Room) StartCountdown(ctx context.Context, requesterID int64, duration time.Duration) (models.Countdown, error) {
	if r.HostUserID != requesterID {
		return models.Countdown{}, models.ErrNotHost
	}
	if r.State != models.RoomStateOpen {
		return models.Countdown{}, models.ErrInvalidState
	}
	if duration <= 0 {
		return models.Countdown{}, models.ErrInvalidState
	}

	if replaced, ok := r.countdowns.FindOfType(models.CountdownMatchStart); ok {
		// The manager swaps the old countdown out silently; clients still
		// need to hear that it was cancelled.
		r.notifyCountdownStopped(replaced)
	}

	countdown := r.countdowns.StartCountdown(models.CountdownMatchStart, duration, func(room *Room, usage *Usage) {
		if err := room.startMatch(context.Background()); err != nil {
			room.logger.Debug("Match start countdown fired but match could not start", "error", err)
		}
	})

	r.notifyCountdownStarted(countdown)
	return countdown, nil
}

// StopCountdown cancels a pending countdown by ID.
func (r *Room) StopCountdown(requesterID, countdownID int64) error {
	if r.HostUserID != requesterID {
		return models.ErrNotHost
	}

	countdown, ok := r.countdowns.StopCountdown(countdownID)
	if !ok {
		return models.ErrInvalidState
	}

	r.notifyCountdownStopped(countdown)
	return nil
}

// SkipToEndOfCountdown returns the completion channel of the given countdown
// type after forcing it to fire. Intended for tests and host shortcuts.
func (r *Room) SkipToEndOfCountdown(countdownType models.CountdownType) <-chan struct{} {
	return r.countdowns.SkipToEndOfCountdown(countdownType)
}

// ChangeBeatmapAvailability records a user's download state for the current
// beatmap and relays it to the room. A no-op when the state is unchanged.
func (r *Room) ChangeBeatmapAvailability(userID int64, availability models.BeatmapAvailability) error {
	user := r.findUser(userID)
	if user == nil {
		return models.ErrUserNotInRoom
	}
	if user.Availability == availability {
		return nil
	}

	user.Availability = availability
	r.notifyRoom(rpc.EventBeatmapAvailability, BeatmapAvailabilityEvent{
		RoomID:       r.ID,
		UserID:       userID,
		Availability: availability,
	})
	return nil
}

// SendMatchRequest forwards a match-type specific request to the current
// handler.
func (r *Room) SendMatchRequest(userID int64, req MatchRequest) error {
	user := r.findUser(userID)
	if user == nil {
		return models.ErrUserNotInRoom
	}
	return r.matchHandler.HandleUserRequest(r, user, req)
}

// AbortGameplay cancels an in-progress load or play phase, returning all
// gameplay users to idle.
func (r *Room) AbortGameplay(ctx context.Context, requesterID int64) error {
	if r.HostUserID != requesterID {
		return models.ErrNotHost
	}
	if r.State != models.RoomStateWaitingForLoad && r.State != models.RoomStatePlaying {
		return models.ErrInvalidState
	}

	if stopped, ok := r.countdowns.StopOfType(models.CountdownForceGameplayStart); ok {
		r.notifyCountdownStopped(stopped)
	}

	for _, u := range r.Users {
		if u.State.IsGameplay() {
			r.setUserState(u, models.UserStateIdle)
		}
	}

	r.notifyGameplayAborted()
	r.setState(models.RoomStateOpen)
	return nil
}

// startGameplayIfReady moves the room into play once every loading user has
// reported in.
func (r *Room) startGameplayIfReady(ctx context.Context) {
	if r.State != models.RoomStateWaitingForLoad {
		return
	}

	anyGameplay := false
	for _, u := range r.Users {
		switch u.State {
		case models.UserStateWaitingForLoad:
			return
		case models.UserStateLoaded, models.UserStateReadyForGameplay:
			anyGameplay = true
		}
	}

	if !anyGameplay {
		// Everyone who was loading has left.
		if stopped, ok := r.countdowns.StopOfType(models.CountdownForceGameplayStart); ok {
			r.notifyCountdownStopped(stopped)
		}
		r.setState(models.RoomStateOpen)
		return
	}

	r.startGameplay(ctx)
}

// forceGameplayStart fires when the load countdown elapses: stragglers still
// waiting to load are dropped back to idle and gameplay begins without them.
func (r *Room) forceGameplayStart(ctx context.Context) {
	if r.State != models.RoomStateWaitingForLoad {
		return
	}

	for _, u := range r.Users {
		if u.State == models.UserStateWaitingForLoad {
			r.setUserState(u, models.UserStateIdle)
		}
	}

	r.startGameplayIfReady(ctx)
}

func (r *Room) startGameplay(ctx context.Context) {
	if stopped, ok := r.countdowns.StopOfType(models.CountdownForceGameplayStart); ok {
		r.notifyCountdownStopped(stopped)
	}

	for _, u := range r.Users {
		if u.State == models.UserStateLoaded || u.State == models.UserStateReadyForGameplay {
			r.setUserState(u, models.UserStatePlaying)
		}
	}

	r.setState(models.RoomStatePlaying)
	r.notifyGameplayGroup(rpc.EventGameplayStarted, UserEvent{RoomID: r.ID})
}

// finishGameplayIfDone completes the play phase once no user is still
// playing.
func (r *Room) finishGameplayIfDone(ctx context.Context) {
	if r.State != models.RoomStatePlaying {
		return
	}

	for _, u := range r.Users {
		if u.State == models.UserStatePlaying {
			return
		}
	}

	anyFinished := false
	for _, u := range r.Users {
		if u.State == models.UserStateFinishedPlay {
			r.setUserState(u, models.UserStateResults)
			anyFinished = true
		}
	}

	r.queue.FinishCurrentItem(ctx)

	if anyFinished {
		r.notifyRoom(rpc.EventResultsReady, UserEvent{RoomID: r.ID})
	}
	r.setState(models.RoomStateOpen)
}

// Close tears the room down. Callers destroy the registry entry afterwards.
func (r *Room) Close(ctx context.Context) {
	for _, stopped := range r.countdowns.StopAll() {
		r.notifyCountdownStopped(stopped)
	}
	r.setState(models.RoomStateClosed)
	r.notifyRoom(rpc.EventRoomClosed, UserEvent{RoomID: r.ID})

	for _, u := range r.Users {
		if u.State.IsGameplay() {
			r.hub.RemoveUserFromGameplayGroup(r.ID, u.UserID)
		}
		r.hub.RemoveUserFromRoomGroup(r.ID, u.UserID)
	}
	r.Users = nil

	if err := r.repo.MarkRoomEnded(ctx, r.ID); err != nil {
		r.logger.Warn("Failed to persist room end", "error", err)
	}
}

func (r *Room) setState(state models.RoomState) {
	if r.State == state {
		return
	}
	r.State = state
	r.notifyRoom(rpc.EventRoomStateChanged, RoomStateEvent{RoomID: r.ID, State: state})
}

// Broadcast helpers.

func (r *Room) notifyRoom(method string, params any) {
	r.hub.NotifyRoom(r.ID, method, params)
}

func (r *Room) notifyGameplayGroup(method string, params any) {
	r.hub.NotifyGameplayGroup(r.ID, method, params)
}

func (r *Room) notifyUserJoined(userID int64) {
	r.notifyRoom(rpc.EventUserJoined, UserEvent{RoomID: r.ID, UserID: userID})
}

func (r *Room) notifyUserLeft(userID int64) {
	r.notifyRoom(rpc.EventUserLeft, UserEvent{RoomID: r.ID, UserID: userID})
}

func (r *Room) notifyUserKicked(userID int64) {
	r.notifyRoom(rpc.EventUserKicked, UserEvent{RoomID: r.ID, UserID: userID})
}

func (r *Room) notifyUserStateChanged(user *models.MultiplayerRoomUser) {
	r.notifyRoom(rpc.EventUserStateChanged, UserStateEvent{RoomID: r.ID, UserID: user.UserID, State: user.State})
}

func (r *Room) notifyHostChanged(userID int64) {
	r.notifyRoom(rpc.EventHostChanged, HostChangedEvent{RoomID: r.ID, UserID: userID})
}

func (r *Room) notifySettingsChanged() {
	r.notifyRoom(rpc.EventRoomSettingsChanged, SettingsEvent{RoomID: r.ID, Settings: r.Settings})
}

func (r *Room) notifyMatchUserStateChanged(user *models.MultiplayerRoomUser) {
	r.notifyRoom(rpc.EventMatchUserStateChanged, MatchUserStateEvent{RoomID: r.ID, UserID: user.UserID, State: user.MatchState})
}

func (r *Room) notifyPlaylistItemAdded(item *models.PlaylistItem) {
	r.notifyRoom(rpc.EventPlaylistItemAdded, PlaylistItemEvent{RoomID: r.ID, Item: *item})
}

func (r *Room) notifyPlaylistItemChanged(item *models.PlaylistItem) {
	r.notifyRoom(rpc.EventPlaylistItemChanged, PlaylistItemEvent{RoomID: r.ID, Item: *item})
}

func (r *Room) notifyPlaylistItemRemoved(itemID int64) {
	r.notifyRoom(rpc.EventPlaylistItemRemoved, PlaylistItemRemovedEvent{RoomID: r.ID, ItemID: itemID})
}

func (r *Room) notifyCountdownStarted(countdown models.Countdown) {
	r.notifyRoom(rpc.EventCountdownStarted, CountdownStartedEvent{
		RoomID:        r.ID,
		Countdown:     countdown,
		TimeRemaining: countdown.TimeRemaining(time.Now()),
	})
}

func (r *Room) notifyCountdownStopped(countdown models.Countdown) {
	r.notifyRoom(rpc.EventCountdownStopped, CountdownStoppedEvent{RoomID: r.ID, CountdownID: countdown.ID})
}

func (r *Room) notifyGameplayAborted() {
	r.notifyRoom(rpc.EventGameplayAborted, UserEvent{RoomID: r.ID})
}
