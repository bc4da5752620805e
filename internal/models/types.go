package models

import "time"

// NewChallenge is the input for creating a challenge.
type NewChallenge struct {
	Word       string  `json:"word" binding:"required"`
	WordListID string  `json:"wordListId"`
	AuthorID   string  `json:"-"`
	AuthorName string  `json:"authorName" binding:"required"`
	Drawing    Drawing `json:"drawing"`
}

type GuessOutcome struct {
	Correct       bool `json:"correct"`
	PointsAwarded int  `json:"pointsAwarded"`
}

type PlayerStatus string

const (
	PlayerUnresolved PlayerStatus = "unresolved"
	PlayerSolved     PlayerStatus = "solved"
	PlayerSkipped    PlayerStatus = "skipped"
)

type GuessCount struct {
	Word   string `json:"word"`
	Count  int64  `json:"count"`
	Masked bool   `json:"masked"`
}

type Stats struct {
	PlayerCount      int64        `json:"playerCount"`
	SolvedCount      int64        `json:"solvedCount"`
	SkippedCount     int64        `json:"skippedCount"`
	SolvedPercentage float64      `json:"solvedPercentage"`
	SkipPercentage   float64      `json:"skipPercentage"`
	TopGuesses       []GuessCount `json:"topGuesses"`
}

// BroadcastMessage is published on a challenge's realtime channel after
// every resolved submission.
type BroadcastMessage struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challengeId"`
	Correct     bool   `json:"correct"`
	Timestamp   int64  `json:"timestamp"`
	Stats       Stats  `json:"stats"`
}

func NewBroadcast(eventType, challengeID string, correct bool, at time.Time, stats Stats) BroadcastMessage {
	return BroadcastMessage{
		Type:        eventType,
		ChallengeID: challengeID,
		Correct:     correct,
		Timestamp:   at.UnixMilli(),
		Stats:       stats,
	}
}
