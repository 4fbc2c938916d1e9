// Package models contains the data structures used throughout the application.
package models

import "time"

// CountdownType is the closed set of countdown kinds a room may run. At most
// one countdown of each type is active per room.
type CountdownType string

// Countdown types.
const (
	CountdownMatchStart         CountdownType = "match_start"
	CountdownForceGameplayStart CountdownType = "force_gameplay_start"
	CountdownServerShutdown     CountdownType = "server_shutdown"
)

// Countdown is a typed, cancellable timer tied to a room.
type Countdown struct {
	// ID is a monotonic identifier assigned when the countdown is started.
	ID int64 `json:"id"`

	// Type is the countdown's kind.
	Type CountdownType `json:"type"`

	// StartedAt is the wall-clock time the countdown was started.
	StartedAt time.Time `json:"startedAt"`

	// Duration is the countdown's total run time.
	Duration time.Duration `json:"duration"`
}

// TimeRemaining recomputes the remaining time against the supplied clock,
// clamped to zero. Serialized room snapshots must use this rather than any
// stored remainder so late-joining observers see an accurate value.
func (c Countdown) TimeRemaining(now time.Time) time.Duration {
	remaining := c.StartedAt.Add(c.Duration).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
