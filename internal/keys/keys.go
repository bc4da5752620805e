// Package keys names every storage key the engine touches.
package keys

import "strconv"

func Challenge(id string) string   { return "challenge:" + id }
func Attempts(id string) string    { return "challenge:" + id + ":attempts" }
func GuessCounts(id string) string { return "challenge:" + id + ":guess-counts" }
func Solved(id string) string      { return "challenge:" + id + ":solved" }
func Skipped(id string) string     { return "challenge:" + id + ":skipped" }
func Guesses(id string) string     { return "challenge:" + id + ":guesses" }

// Channel is the realtime channel guess events are published on.
func Channel(id string) string { return "challenge:" + id }

const WordGuessCount = "words:guess-count"

func AuthorChallenges(authorID string) string { return "author:" + authorID + ":challenges" }
func WordChallenges(word string) string       { return "word:" + word + ":challenges" }

func CommentLock(id string) string     { return "lock:comment:" + id }
func MigrationLock(id string) string   { return "lock:migration:" + id }
func MigrationMarker(id string) string { return "migration:checked:" + id }

func RateLimit(subject string, bucket int64) string {
	return "ratelimit:guess:" + subject + ":" + strconv.FormatInt(bucket, 10)
}

const (
	JobsDue       = "jobs:due"
	Progression   = "progression:points"
	UsersByName   = "users:by-name"
	UnlockedWords = "words:unlocked"
	Moderators    = "moderators"
)

func Job(id string) string      { return "jobs:" + id }
func Comment(id string) string  { return "comment:" + id }
func Metadata(id string) string { return "post-meta:" + id }

// LegacyShape groups the keys one historical naming scheme used for a
// challenge and its satellite sets.
type LegacyShape struct {
	Name     string
	Record   string
	Solved   string
	Skipped  string
	Guesses  string
	Attempts string
}

func (s LegacyShape) All() []string {
	return []string{s.Record, s.Solved, s.Skipped, s.Guesses, s.Attempts}
}

func LegacyShapes(id string) []LegacyShape {
	return []LegacyShape{
		{
			Name:     "post",
			Record:   "post-" + id,
			Solved:   "post-solves-" + id,
			Skipped:  "post-skips-" + id,
			Guesses:  "post-guesses-" + id,
			Attempts: "post-user-guess-counter-" + id,
		},
		{
			Name:     "drawing",
			Record:   "drawing:" + id,
			Solved:   "drawing:" + id + ":solves",
			Skipped:  "drawing:" + id + ":skips",
			Guesses:  "drawing:" + id + ":guesses",
			Attempts: "drawing:" + id + ":attempts",
		},
	}
}
