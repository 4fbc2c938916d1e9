// Package repositories contains MongoDB repository implementations.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/peppy/osu-server-spectator/internal/models"
)

const (
	readRetryBaseDelay = 50 * time.Millisecond
	readRetryJitter    = 50 * time.Millisecond
)

// retryRead runs a read, retrying once after a short jittered pause when it
// fails. A read that still fails is reported as models.ErrDatabaseUnavailable
// so callers can tell infrastructure trouble apart from domain errors. A
// missing document is not a failure and passes through untouched.
func retryRead[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	value, err := fn()
	if err == nil || errors.Is(err, mongo.ErrNoDocuments) {
		return value, err
	}

	delay := readRetryBaseDelay + rand.N(readRetryJitter)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %s", models.ErrDatabaseUnavailable, err)
	}

	value, err = fn()
	if err == nil || errors.Is(err, mongo.ErrNoDocuments) {
		return value, err
	}

	var zero T
	return zero, fmt.Errorf("%w: %s", models.ErrDatabaseUnavailable, err)
}

// cmdSet - See https://www.mongodb.com/docs/manual/reference/operator/update/set/
func cmdSet(i any) bson.E {
	return bson.E{
		Key:   "$set",
		Value: i,
	}
}

// cmdUnset - See https://www.mongodb.com/docs/manual/reference/operator/update/unset/
func cmdUnset(i any) bson.E {
	return bson.E{
		Key:   "$unset",
		Value: i,
	}
}

// cmdInc - See https://www.mongodb.com/docs/manual/reference/operator/update/inc/
func cmdInc(i any) bson.E {
	return bson.E{
		Key:   "$inc",
		Value: i,
	}
}

// cmdPull - See https://www.mongodb.com/docs/manual/reference/operator/update/pull/
func cmdPull(i any) bson.E {
	return bson.E{
		Key:   "$pull",
		Value: i,
	}
}

// cmdAddToSet - See https://www.mongodb.com/docs/manual/reference/operator/update/addToSet/
func cmdAddToSet(i any) bson.E {
	return bson.E{
		Key:   "$addToSet",
		Value: i,
	}
}
