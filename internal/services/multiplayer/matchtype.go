package multiplayer

import (
	"github.com/peppy/osu-server-spectator/internal/models"
)

// MatchRequest is a match-type specific request forwarded from a client.
// Interpretation is up to the room's current match type handler.
type MatchRequest struct {
	// Type discriminates the request kind.
	Type string `json:"type"`

	// TeamID is the target team for a "change_team" request.
	TeamID *int `json:"teamId,omitempty"`
}

// Match request types.
const (
	MatchRequestChangeTeam = "change_team"
)

// matchTypeHandler implements the per-match-type rules of a room. Handlers
// are invoked while the caller holds the room's usage, so they may mutate
// room state freely.
type matchTypeHandler interface {
	// HandleUserJoined initializes match state for a newly joined user.
	HandleUserJoined(room *Room, user *models.MultiplayerRoomUser)

	// HandleUserLeft tears down match state for a departing user.
	HandleUserLeft(room *Room, user *models.MultiplayerRoomUser)

	// HandleUserRequest processes a match-type specific client request.
	HandleUserRequest(room *Room, user *models.MultiplayerRoomUser, req MatchRequest) error

	// RoomState returns the room-level match state sent to clients, or nil
	// when the match type carries none.
	RoomState() any
}

func newMatchTypeHandler(matchType models.MatchType) matchTypeHandler {
	switch matchType {
	case models.MatchTypeTeamVersus:
		return &teamVersusHandler{}
	default:
		return &headToHeadHandler{}
	}
}

// headToHeadHandler is the default free-for-all implementation. It carries
// no per-user match state and accepts no requests.
type headToHeadHandler struct{}

func (h *headToHeadHandler) HandleUserJoined(room *Room, user *models.MultiplayerRoomUser) {
	user.MatchState = nil
}

func (h *headToHeadHandler) HandleUserLeft(room *Room, user *models.MultiplayerRoomUser) {}

func (h *headToHeadHandler) HandleUserRequest(room *Room, user *models.MultiplayerRoomUser, req MatchRequest) error {
	return models.ErrInvalidState
}

func (h *headToHeadHandler) RoomState() any { return nil }

// teamVersusHandler splits the room into two teams. New joiners are placed
// on the smaller team; users may request to switch.
type teamVersusHandler struct{}

func (h *teamVersusHandler) HandleUserJoined(room *Room, user *models.MultiplayerRoomUser) {
	user.MatchState = &models.TeamVersusUserState{TeamID: h.smallerTeam(room)}
	room.notifyMatchUserStateChanged(user)
}

func (h *teamVersusHandler) HandleUserLeft(room *Room, user *models.MultiplayerRoomUser) {
	user.MatchState = nil
}

func (h *teamVersusHandler) HandleUserRequest(room *Room, user *models.MultiplayerRoomUser, req MatchRequest) error {
	if req.Type != MatchRequestChangeTeam || req.TeamID == nil {
		return models.ErrInvalidState
	}
	if *req.TeamID != 0 && *req.TeamID != 1 {
		return models.ErrInvalidState
	}

	state, ok := user.MatchState.(*models.TeamVersusUserState)
	if !ok {
		state = &models.TeamVersusUserState{}
		user.MatchState = state
	}
	if state.TeamID == *req.TeamID {
		return nil
	}

	state.TeamID = *req.TeamID
	room.notifyMatchUserStateChanged(user)
	return nil
}

func (h *teamVersusHandler) RoomState() any {
	return &models.TeamVersusRoomState{
		Teams: []models.MultiplayerTeam{
			{ID: 0, Name: "Team Red"},
			{ID: 1, Name: "Team Blue"},
		},
	}
}

// smallerTeam returns the team with fewer members, preferring team 0 on a
// tie.
func (h *teamVersusHandler) smallerTeam(room *Room) int {
	counts := [2]int{}
	for _, u := range room.Users {
		if state, ok := u.MatchState.(*models.TeamVersusUserState); ok {
			if state.TeamID == 0 || state.TeamID == 1 {
				counts[state.TeamID]++
			}
		}
	}
	if counts[1] < counts[0] {
		return 1
	}
	return 0
}
