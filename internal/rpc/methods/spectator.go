package methods

import (
	"context"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/services/spectator"
)

// BeginPlayParams are the parameters for spectator.beginPlaySession.
type BeginPlayParams struct {
	ScoreToken int64                 `json:"scoreToken"`
	State      models.SpectatorState `json:"state"`
}

// SendFramesParams are the parameters for spectator.sendFrames.
type SendFramesParams struct {
	Bundle models.FrameDataBundle `json:"bundle"`
}

// EndPlayParams are the parameters for spectator.endPlaySession.
type EndPlayParams struct {
	State models.SpectatorState `json:"state"`
}

// WatchParams identify the player for spectator.startWatching and
// spectator.endWatching.
type WatchParams struct {
	UserID int64 `json:"userId"`
}

// RegisterSpectatorHandlers registers the spectator.* methods.
func RegisterSpectatorHandlers(reg rpc.HandlerRegistry, tracker *spectator.Tracker) {
	rpc.Register(reg, rpc.MethodSpectatorBeginPlay, func(ctx context.Context, client *rpc.Client, p *BeginPlayParams) (any, error) {
		return nil, tracker.BeginPlaySession(ctx, client.UserID, client.Username, p.ScoreToken, p.State)
	})

	rpc.Register(reg, rpc.MethodSpectatorSendFrames, func(ctx context.Context, client *rpc.Client, p *SendFramesParams) (any, error) {
		return nil, tracker.SendFrames(ctx, client.UserID, p.Bundle)
	})

	rpc.Register(reg, rpc.MethodSpectatorEndPlay, func(ctx context.Context, client *rpc.Client, p *EndPlayParams) (any, error) {
		return nil, tracker.EndPlaySession(ctx, client.UserID, p.State)
	})

	rpc.Register(reg, rpc.MethodSpectatorStartWatching, func(ctx context.Context, client *rpc.Client, p *WatchParams) (any, error) {
		return nil, tracker.StartWatching(ctx, client.UserID, p.UserID)
	})

	rpc.Register(reg, rpc.MethodSpectatorEndWatching, func(ctx context.Context, client *rpc.Client, p *WatchParams) (any, error) {
		return nil, tracker.EndWatching(ctx, client.UserID, p.UserID)
	})
}
