// Package models contains the data structures used throughout the application.
package models

import "time"

// APIUser identifies the player a score belongs to, as known to this server.
type APIUser struct {
	// ID is the user's ID.
	ID int64 `json:"id"`

	// Username is the user's display name.
	Username string `json:"username"`
}

// ScoreInfo is the metadata portion of a play's score.
type ScoreInfo struct {
	// OnlineID is the database-assigned identity of the score. Zero until
	// the score token has been resolved.
	OnlineID int64 `json:"onlineId"`

	// User is the player the score belongs to.
	User APIUser `json:"user"`

	// Passed indicates whether the play met the pass criteria.
	Passed bool `json:"passed"`

	// BeatmapID identifies the beatmap that was played.
	BeatmapID int64 `json:"beatmapId"`

	// RulesetID is the ruleset the play used.
	RulesetID int32 `json:"rulesetId"`

	// Mods are the mod acronyms in effect during the play.
	Mods []string `json:"mods,omitempty"`

	// TotalScore is the final score value.
	TotalScore int64 `json:"totalScore"`

	// Accuracy is the final accuracy in [0, 1].
	Accuracy float64 `json:"accuracy"`

	// MaxCombo is the highest combo reached.
	MaxCombo int `json:"maxCombo"`

	// EndedAt is when the play finished.
	EndedAt time.Time `json:"endedAt"`
}

// ReplayFrame is a single captured gameplay frame.
type ReplayFrame struct {
	// Time is the frame's offset into the play in milliseconds.
	Time float64 `json:"time"`

	// MouseX and MouseY are the cursor position.
	MouseX float64 `json:"mouseX"`
	MouseY float64 `json:"mouseY"`

	// ButtonState encodes held buttons.
	ButtonState int `json:"buttonState"`
}

// FrameHeader carries the running score totals accompanying a frame bundle.
type FrameHeader struct {
	// TotalScore is the score at the time of the bundle.
	TotalScore int64 `json:"totalScore"`

	// Accuracy is the accuracy at the time of the bundle.
	Accuracy float64 `json:"accuracy"`

	// Combo is the current combo.
	Combo int `json:"combo"`

	// MaxCombo is the highest combo reached so far.
	MaxCombo int `json:"maxCombo"`
}

// FrameDataBundle is a batch of replay frames streamed by a playing client.
type FrameDataBundle struct {
	// Header carries the running totals at the time of the bundle.
	Header FrameHeader `json:"header"`

	// Frames are the captured gameplay frames.
	Frames []ReplayFrame `json:"frames"`
}

// Score is the full server-local score for a play session, including the
// accumulated replay. It is what ultimately gets persisted to blob storage.
type Score struct {
	// ScoreInfo is the score's metadata.
	ScoreInfo ScoreInfo `json:"scoreInfo"`

	// Replay is the accumulated replay data for the play.
	Replay []ReplayFrame `json:"replay,omitempty"`
}

// SoloScore is the database row resolved from a score token. It carries the
// online identity that gets merged into the server-local Score before upload.
type SoloScore struct {
	// ID is the online identity of the score.
	ID int64 `json:"id" bson:"_id"`

	// UserID is the player the score belongs to.
	UserID int64 `json:"userId" bson:"userId"`

	// BeatmapID identifies the beatmap that was played.
	BeatmapID int64 `json:"beatmapId" bson:"beatmapId"`

	// Passed indicates whether the play met the pass criteria.
	Passed bool `json:"passed" bson:"passed"`
}

// PlayState describes how a play session concluded (or that it is ongoing).
type PlayState string

// Play states.
const (
	PlayStatePlaying PlayState = "playing"
	PlayStatePassed  PlayState = "passed"
	PlayStateFailed  PlayState = "failed"
	PlayStateQuit    PlayState = "quit"
)

// SpectatorState is the client-reported state of a play session as seen by
// spectators.
type SpectatorState struct {
	// BeatmapID identifies the beatmap being played, if any.
	BeatmapID *int64 `json:"beatmapId,omitempty"`

	// RulesetID is the ruleset in use, if any.
	RulesetID *int32 `json:"rulesetId,omitempty"`

	// Mods are the mod acronyms in effect.
	Mods []string `json:"mods,omitempty"`

	// State is how the session is progressing or how it concluded.
	State PlayState `json:"state"`
}
