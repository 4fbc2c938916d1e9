package repositories

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/peppy/osu-server-spectator/internal/models"
	"github.com/peppy/osu-server-spectator/internal/utils"
)

const scoreTokenCollection = "solo_score_tokens"

// ScoreRepository resolves score submission tokens to their database rows.
type ScoreRepository interface {
	// GetScoreFromToken looks up the score row a submission token points at.
	// Returns (nil, nil) while the web-side submission has not yet landed;
	// callers are expected to poll.
	GetScoreFromToken(ctx context.Context, tokenID int64) (*models.SoloScore, error)
}

// scoreRepository is the MongoDB implementation of ScoreRepository.
type scoreRepository struct {
	tokens *mongo.Collection
	logger *utils.Logger
}

// NewScoreRepository creates a new instance of ScoreRepository.
func NewScoreRepository(db *mongo.Database, logger *utils.Logger) ScoreRepository {
	return &scoreRepository{
		tokens: db.Collection(scoreTokenCollection),
		logger: logger.Named("score_repository"),
	}
}

func (r *scoreRepository) GetScoreFromToken(ctx context.Context, tokenID int64) (*models.SoloScore, error) {
	type tokenRow struct {
		ID      int64             `bson:"_id"`
		UserID  int64             `bson:"userId"`
		Score   *models.SoloScore `bson:"score"`
		ScoreID *int64            `bson:"scoreId"`
	}

	token, err := retryRead(ctx, func() (tokenRow, error) {
		var token tokenRow
		err := r.tokens.FindOne(ctx, bson.M{"_id": tokenID}).Decode(&token)
		return token, err
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Token row not written yet; submission may still be in flight.
			return nil, nil
		}
		r.logger.Error("Failed to find score token", err, "tokenId", tokenID)
		return nil, err
	}

	if token.ScoreID == nil || token.Score == nil {
		// Submission not finalised yet.
		return nil, nil
	}

	score := *token.Score
	score.ID = *token.ScoreID
	score.UserID = token.UserID
	return &score, nil
}
