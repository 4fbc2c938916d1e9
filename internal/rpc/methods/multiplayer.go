package methods

import (
	"context"
	"time"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/services/multiplayer"
)

// JoinRoomParams are the parameters for match.join.
type JoinRoomParams struct {
	RoomID   int64  `json:"roomId"`
	Password string `json:"password,omitempty"`
}

// ChangeSettingsParams are the parameters for match.changeSettings.
type ChangeSettingsParams struct {
	Settings models.RoomSettings `json:"settings"`
}

// ChangeStateParams are the parameters for match.changeState.
type ChangeStateParams struct {
	State models.UserState `json:"state"`
}

// ChangeBeatmapAvailabilityParams are the parameters for
// match.changeBeatmapAvailability.
type ChangeBeatmapAvailabilityParams struct {
	Availability models.BeatmapAvailability `json:"availability"`
}

// StartCountdownParams are the parameters for match.startCountdown.
type StartCountdownParams struct {
	DurationMs int64 `json:"durationMs"`
}

// StopCountdownParams are the parameters for match.stopCountdown.
type StopCountdownParams struct {
	CountdownID int64 `json:"countdownId"`
}

// PlaylistItemParams are the parameters for match.addPlaylistItem and
// match.editPlaylistItem.
type PlaylistItemParams struct {
	Item models.PlaylistItem `json:"item"`
}

// RemovePlaylistItemParams are the parameters for match.removePlaylistItem.
type RemovePlaylistItemParams struct {
	PlaylistItemID int64 `json:"playlistItemId"`
}

// TargetUserParams identify another room member for match.kickUser and
// match.transferHost.
type TargetUserParams struct {
	UserID int64 `json:"userId"`
}

// RegisterMultiplayerHandlers registers the match.* methods. The registry is
// expected to already carry authentication middleware.
func RegisterMultiplayerHandlers(reg rpc.HandlerRegistry, service *multiplayer.Service) {
	rpc.Register(reg, rpc.MethodMatchJoin, func(ctx context.Context, client *rpc.Client, p *JoinRoomParams) (any, error) {
		return service.JoinRoom(ctx, client.UserID, p.RoomID, p.Password)
	})

	rpc.RegisterNoParams(reg, rpc.MethodMatchLeave, func(ctx context.Context, client *rpc.Client) (any, error) {
		return nil, service.LeaveRoom(ctx, client.UserID)
	})

	rpc.Register(reg, rpc.MethodMatchChangeSettings, func(ctx context.Context, client *rpc.Client, p *ChangeSettingsParams) (any, error) {
		return nil, service.ChangeSettings(ctx, client.UserID, p.Settings)
	})

	rpc.Register(reg, rpc.MethodMatchChangeState, func(ctx context.Context, client *rpc.Client, p *ChangeStateParams) (any, error) {
		return nil, service.ChangeUserState(ctx, client.UserID, p.State)
	})

	rpc.Register(reg, rpc.MethodMatchChangeBeatmapAvail, func(ctx context.Context, client *rpc.Client, p *ChangeBeatmapAvailabilityParams) (any, error) {
		return nil, service.ChangeBeatmapAvailability(ctx, client.UserID, p.Availability)
	})

	rpc.RegisterNoParams(reg, rpc.MethodMatchStart, func(ctx context.Context, client *rpc.Client) (any, error) {
		return nil, service.StartMatch(ctx, client.UserID)
	})

	rpc.Register(reg, rpc.MethodMatchStartCountdown, func(ctx context.Context, client *rpc.Client, p *StartCountdownParams) (any, error) {
		countdown, err := service.StartCountdown(ctx, client.UserID, time.Duration(p.DurationMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return countdown, nil
	})

	rpc.Register(reg, rpc.MethodMatchStopCountdown, func(ctx context.Context, client *rpc.Client, p *StopCountdownParams) (any, error) {
		return nil, service.StopCountdown(ctx, client.UserID, p.CountdownID)
	})

	rpc.Register(reg, rpc.MethodMatchSendRequest, func(ctx context.Context, client *rpc.Client, p *multiplayer.MatchRequest) (any, error) {
		return nil, service.SendMatchRequest(ctx, client.UserID, *p)
	})

	rpc.Register(reg, rpc.MethodMatchAddPlaylistItem, func(ctx context.Context, client *rpc.Client, p *PlaylistItemParams) (any, error) {
		return nil, service.AddPlaylistItem(ctx, client.UserID, p.Item)
	})

	rpc.Register(reg, rpc.MethodMatchEditPlaylistItem, func(ctx context.Context, client *rpc.Client, p *PlaylistItemParams) (any, error) {
		return nil, service.EditPlaylistItem(ctx, client.UserID, p.Item)
	})

	rpc.Register(reg, rpc.MethodMatchRemovePlaylistItem, func(ctx context.Context, client *rpc.Client, p *RemovePlaylistItemParams) (any, error) {
		return nil, service.RemovePlaylistItem(ctx, client.UserID, p.PlaylistItemID)
	})

	rpc.Register(reg, rpc.MethodMatchKickUser, func(ctx context.Context, client *rpc.Client, p *TargetUserParams) (any, error) {
		return nil, service.KickUser(ctx, client.UserID, p.UserID)
	})

	rpc.Register(reg, rpc.MethodMatchTransferHost, func(ctx context.Context, client *rpc.Client, p *TargetUserParams) (any, error) {
		return nil, service.TransferHost(ctx, client.UserID, p.UserID)
	})

	rpc.RegisterNoParams(reg, rpc.MethodMatchAbortGameplay, func(ctx context.Context, client *rpc.Client) (any, error) {
		return nil, service.AbortGameplay(ctx, client.UserID)
	})
}
