// Package stats derives the read-only aggregate view of a challenge from
// its indices.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	cache "github.com/CodeAndHammer/sketchword/internal/cache"
	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	platform "github.com/CodeAndHammer/sketchword/internal/platform"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

var (
	ErrForbidden = errors.New("reveal requires a moderator")
	ErrNotFound  = errors.New("no guess matches")
)

const maskRune = '*'

type counts struct {
	players int64
	solved  int64
	skipped int64
}

type Aggregator struct {
	store      store.Store
	visibility platform.WordVisibility
	moderators platform.Moderators
	counts     *cache.Cache[counts]
}

// NewAggregator caches the three cardinalities for countsTTL; zero disables
// caching.
func NewAggregator(s store.Store, visibility platform.WordVisibility, moderators platform.Moderators, countsTTL time.Duration) *Aggregator {
	return &Aggregator{
		store:      s,
		visibility: visibility,
		moderators: moderators,
		counts:     cache.New[counts](countsTTL),
	}
}

// Compute may serve counts up to the cache TTL old. It feeds the realtime
// broadcast.
func (a *Aggregator) Compute(ctx context.Context, challengeID string, topN int) (models.Stats, error) {
	return a.compute(ctx, challengeID, topN, false)
}

// ComputeFresh always reads the counts from the store and refreshes the
// cache. The pinned comment is written from it.
func (a *Aggregator) ComputeFresh(ctx context.Context, challengeID string, topN int) (models.Stats, error) {
	return a.compute(ctx, challengeID, topN, true)
}

// Invalidate drops the cached counts of a challenge after a submission
// changed them.
func (a *Aggregator) Invalidate(challengeID string) {
	a.counts.Delete(challengeID)
}

func (a *Aggregator) compute(ctx context.Context, challengeID string, topN int, fresh bool) (models.Stats, error) {
	c, err := a.loadCounts(ctx, challengeID, fresh)
	if err != nil {
		return models.Stats{}, err
	}
	top, err := a.topGuesses(ctx, challengeID, topN)
	if err != nil {
		return models.Stats{}, err
	}
	return models.Stats{
		PlayerCount:      c.players,
		SolvedCount:      c.solved,
		SkippedCount:     c.skipped,
		SolvedPercentage: Percentage(c.solved, c.players),
		SkipPercentage:   Percentage(c.skipped, c.players),
		TopGuesses:       top,
	}, nil
}

// Percentage rounds part/total to one decimal place; 0 when total is 0.
func Percentage(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}

func (a *Aggregator) loadCounts(ctx context.Context, challengeID string, fresh bool) (counts, error) {
	if !fresh {
		if c, ok := a.counts.Get(challengeID); ok {
			return c, nil
		}
	}
	var c counts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		c.players, err = a.store.ZCard(gctx, keys.Attempts(challengeID))
		return err
	})
	g.Go(func() (err error) {
		c.solved, err = a.store.ZCard(gctx, keys.Solved(challengeID))
		return err
	})
	g.Go(func() (err error) {
		c.skipped, err = a.store.ZCard(gctx, keys.Skipped(challengeID))
		return err
	})
	if err := g.Wait(); err != nil {
		return counts{}, fmt.Errorf("load counts for %s: %w", challengeID, err)
	}
	a.counts.Set(challengeID, c)
	return c, nil
}

// topGuesses reads the frequency table by descending count. Ties keep the
// store's order: reverse lexicographic by guess.
func (a *Aggregator) topGuesses(ctx context.Context, challengeID string, topN int) ([]models.GuessCount, error) {
	if topN <= 0 {
		return []models.GuessCount{}, nil
	}
	members, err := a.store.ZRevRangeWithScores(ctx, keys.Guesses(challengeID), 0, int64(topN-1))
	if err != nil {
		return nil, fmt.Errorf("load guesses for %s: %w", challengeID, err)
	}
	return lo.Map(members, func(m store.ZMember, _ int) models.GuessCount {
		entry := models.GuessCount{Word: m.Member, Count: int64(m.Score)}
		if !a.revealed(ctx, m.Member) {
			entry.Word = Mask(m.Member)
			entry.Masked = true
		}
		return entry
	}), nil
}

func (a *Aggregator) revealed(ctx context.Context, word string) bool {
	if a.visibility == nil {
		return true
	}
	ok, err := a.visibility.ShouldRevealGuess(ctx, word)
	if err != nil {
		util.LogWarnCtx(ctx, "Visibility check for guess failed, masking: %v", err)
		return false
	}
	return ok
}

// Mask keeps the first rune and replaces every later letter or digit with
// '*'. The mapping is deterministic so a masked guess can be matched again.
func Mask(word string) string {
	var b strings.Builder
	b.Grow(len(word))
	for i, r := range []rune(word) {
		if i > 0 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(maskRune)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Reveal resolves a masked guess back to its literal text for moderators.
// The highest-ranked guess whose mask matches wins.
func (a *Aggregator) Reveal(ctx context.Context, challengeID, requesterID, masked string) (string, error) {
	if a.moderators == nil {
		return "", ErrForbidden
	}
	allowed, err := a.moderators.IsModerator(ctx, requesterID)
	if err != nil {
		return "", fmt.Errorf("moderator check: %w", err)
	}
	if !allowed {
		return "", ErrForbidden
	}

	members, err := a.store.ZRevRangeWithScores(ctx, keys.Guesses(challengeID), 0, -1)
	if err != nil {
		return "", fmt.Errorf("load guesses for %s: %w", challengeID, err)
	}
	match, ok := lo.Find(members, func(m store.ZMember) bool {
		return Mask(m.Member) == masked
	})
	if !ok {
		return "", ErrNotFound
	}
	return match.Member, nil
}
