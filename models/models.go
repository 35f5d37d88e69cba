// models/models.go
package models

// LeaderboardResponse is the body of GET /leaderboard.
type LeaderboardResponse struct {
	Total     int64            `json:"total"`
	Entries   []LeaderboardRow `json:"entries"`
	UserEntry *UserEntry       `json:"userEntry"`
}

// LeaderboardRow is one displayed entry, joined with the owning player's profile.
type LeaderboardRow struct {
	ID        int64  `json:"id"`
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Frames    int    `json:"frames"`
	CarColors string `json:"carColors"`
}

// UserEntry is the requesting player's own entry and rank for the track.
type UserEntry struct {
	ID       int64 `json:"id"`
	Frames   int   `json:"frames"`
	Position int64 `json:"position"`
}

// SubmitResponse is the body of POST /leaderboard. NewPosition is null when
// the submission did not improve the stored time.
type SubmitResponse struct {
	UploadID         int64  `json:"uploadId"`
	PreviousPosition *int64 `json:"previousPosition"`
	NewPosition      *int64 `json:"newPosition"`
}

// UserResponse is the body of GET /user. Verification is performed by an
// external collaborator, so IsVerifier is always false here.
type UserResponse struct {
	Name       string `json:"name"`
	CarColors  string `json:"carColors"`
	IsVerifier bool   `json:"isVerifier"`
}

// RankedEntry is an entry row joined with the owning player's profile,
// as produced by the paginated leaderboard query.
type RankedEntry struct {
	ID              int64
	PlayerTokenHash string
	Name            string
	CarColors       string
	Frames          int
}
