// Package scores handles the persistence of finished play sessions: replay
// upload once the web-side score submission lands, and the blob storage the
// replays end up in.
package scores

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

// ReplayStorage persists finalized replays keyed by their online score ID.
type ReplayStorage interface {
	// Store writes the serialized replay for a score. Overwrites any
	// previous write for the same score.
	Store(ctx context.Context, scoreID int64, data []byte) error
}

// FilesystemReplayStorage writes replays to a local directory, one file per
// score.
type FilesystemReplayStorage struct {
	baseDir string
	logger  *utils.Logger
}

// NewFilesystemReplayStorage creates the storage directory if needed.
func NewFilesystemReplayStorage(baseDir string, logger *utils.Logger) (*FilesystemReplayStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating replay directory: %w", err)
	}
	return &FilesystemReplayStorage{
		baseDir: baseDir,
		logger:  logger.Named("replay_storage"),
	}, nil
}

func (s *FilesystemReplayStorage) Store(ctx context.Context, scoreID int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.baseDir, fmt.Sprintf("%d.replay", scoreID))

	// Write-then-rename so a crash mid-write never leaves a truncated
	// replay behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %s", models.ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %s", models.ErrStorageUnavailable, err)
	}

	s.logger.Debug("Replay stored", "scoreId", scoreID, "bytes", len(data))
	return nil
}
