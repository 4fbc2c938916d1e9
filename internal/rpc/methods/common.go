package methods

import (
	"context"
	"time"

	"github.com/peppy/osu-server-spectator/internal/rpc"
	"github.com/peppy/osu-server-spectator/internal/services/multiplayer"
	"github.com/peppy/osu-server-spectator/internal/services/spectator"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// PingResult is the response of system.ping.
type PingResult struct {
	ServerTime time.Time `json:"serverTime"`
}

// RegisterSystemHandlers registers the system.* methods.
func RegisterSystemHandlers(reg rpc.HandlerRegistry) {
	rpc.RegisterNoParams(reg, rpc.MethodSystemPing, func(ctx context.Context, client *rpc.Client) (any, error) {
		return PingResult{ServerTime: time.Now().UTC()}, nil
	})
}

// RegisterAll wires the full RPC surface onto the server's router and hooks
// disconnect cleanup for both services.
func RegisterAll(server *rpc.Server, router *rpc.Router, mp *multiplayer.Service, tracker *spectator.Tracker, logger *utils.Logger) {
	reg := router.
		Wrap(rpc.RecoveryMiddleware(logger)).
		Wrap(rpc.LoggingMiddleware(logger))

	RegisterSystemHandlers(reg)

	authed := reg.Wrap(rpc.AuthMiddleware)
	RegisterMultiplayerHandlers(authed, mp)
	RegisterSpectatorHandlers(authed, tracker)

	server.OnDisconnect(func(ctx context.Context, userID int64) {
		mp.HandleDisconnect(ctx, userID)
		tracker.HandleDisconnect(ctx, userID)
	})
}
