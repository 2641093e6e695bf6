package models

import "time"

// MatchStatus is the state of a matching request.
type MatchStatus string

const (
	MatchWaiting   MatchStatus = "WAITING"
	MatchMatched   MatchStatus = "MATCHED"
	MatchCancelled MatchStatus = "CANCELLED"
)

// MatchRequest is a user's place in the matching queue. A user has at
// most one WAITING request.
type MatchRequest struct {
	UserID      string      `json:"user_id"`
	RequestedAt time.Time   `json:"requested_at"`
	Status      MatchStatus `json:"status"`
}
