package comment

import (
	"fmt"
	"strings"

	models "github.com/CodeAndHammer/sketchword/internal/models"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

// RenderSummary formats the pinned comment body. The secret word never
// appears unless it is among the unmasked top guesses.
func RenderSummary(rec models.ChallengeRecord, stats models.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Drawing by %s\n\n", rec.AuthorName)

	if stats.PlayerCount == 0 {
		b.WriteString("No guesses yet. Be the first!\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%d player%s tried this drawing.\n", stats.PlayerCount, util.Plural(int(stats.PlayerCount)))
	fmt.Fprintf(&b, "Solved: %d (%.1f%%)\n", stats.SolvedCount, stats.SolvedPercentage)
	fmt.Fprintf(&b, "Gave up: %d (%.1f%%)\n", stats.SkippedCount, stats.SkipPercentage)

	if len(stats.TopGuesses) > 0 {
		b.WriteString("\nTop guesses:\n")
		for i, g := range stats.TopGuesses {
			fmt.Fprintf(&b, "%d. %s (%d)\n", i+1, g.Word, g.Count)
		}
	}
	return b.String()
}
