// Package migration lazily converts challenges stored in one of the legacy
// key shapes into the current record format, together with their solved,
// skipped, guess and attempt sets.
//
// Migrate is safe to call from every request that misses the current
// record: a TTL-bounded negative marker stops repeated probing for
// challenges that never had legacy data, and a per-challenge lock with a
// double check keeps concurrent callers from migrating twice.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	challenge "github.com/CodeAndHammer/sketchword/internal/challenge"
	constants "github.com/CodeAndHammer/sketchword/internal/constants"
	effects "github.com/CodeAndHammer/sketchword/internal/effects"
	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	metrics "github.com/CodeAndHammer/sketchword/internal/metrics"
	models "github.com/CodeAndHammer/sketchword/internal/models"
	normalization "github.com/CodeAndHammer/sketchword/internal/normalization"
	platform "github.com/CodeAndHammer/sketchword/internal/platform"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

type Config struct {
	LockTTL          time.Duration
	NegativeCacheTTL time.Duration
}

type Engine struct {
	store    store.Store
	repo     *challenge.Repository
	identity platform.IdentityResolver
	metadata platform.MetadataStore
	jobs     platform.JobScheduler
	effects  *effects.Runner
	cfg      Config
}

func NewEngine(s store.Store, repo *challenge.Repository, identity platform.IdentityResolver, metadata platform.MetadataStore, jobs platform.JobScheduler, runner *effects.Runner, cfg Config) *Engine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = constants.DefaultLockTTL
	}
	if cfg.NegativeCacheTTL <= 0 {
		cfg.NegativeCacheTTL = constants.DefaultNegativeCacheTTL
	}
	return &Engine{
		store:    s,
		repo:     repo,
		identity: identity,
		metadata: metadata,
		jobs:     jobs,
		effects:  runner,
		cfg:      cfg,
	}
}

// Migrate reports whether this call produced the current record. It never
// returns an error: every failure leaves the legacy data in place and is
// logged.
func (e *Engine) Migrate(ctx context.Context, challengeID string) bool {
	return e.run(ctx, challengeID, false)
}

// MigrateForce ignores the negative marker and probes the legacy shapes
// anyway. A marker written before the legacy data appeared is cleared.
func (e *Engine) MigrateForce(ctx context.Context, challengeID string) bool {
	return e.run(ctx, challengeID, true)
}

func (e *Engine) run(ctx context.Context, challengeID string, force bool) (migrated bool) {
	defer func() {
		if rec := recover(); rec != nil {
			util.LogErrorCtx(ctx, "Migration of %s panicked: %v", challengeID, rec)
			metrics.Migrations.WithLabelValues("failed").Inc()
			migrated = false
		}
	}()
	if challengeID == "" {
		return false
	}

	current, marked, err := e.checkState(ctx, challengeID)
	if err != nil {
		util.LogWarnCtx(ctx, "Migration pre-check for %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}
	if current {
		return false
	}
	if marked && !force {
		metrics.Migrations.WithLabelValues("cached").Inc()
		return false
	}

	shape, found, err := e.probeLegacy(ctx, challengeID)
	if err != nil {
		util.LogWarnCtx(ctx, "Legacy probe for %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}
	if !found {
		return e.fromMetadata(ctx, challengeID, marked)
	}

	if marked {
		util.LogInfoCtx(ctx, "Legacy data for %s appeared after a negative check; clearing marker", challengeID)
		if err := e.store.Del(ctx, keys.MigrationMarker(challengeID)); err != nil {
			util.LogWarnCtx(ctx, "Failed to clear migration marker for %s: %v", challengeID, err)
			return false
		}
	}
	return e.migrateLegacy(ctx, challengeID, shape)
}

// checkState looks up the current record and the marker concurrently.
func (e *Engine) checkState(ctx context.Context, challengeID string) (current, marked bool, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = e.repo.Exists(gctx, challengeID)
		return err
	})
	g.Go(func() error {
		var err error
		marked, err = e.store.Exists(gctx, keys.MigrationMarker(challengeID))
		return err
	})
	err = g.Wait()
	return current, marked, err
}

// probeLegacy checks every known legacy shape concurrently and returns the
// first one, in declaration order, that holds a record.
func (e *Engine) probeLegacy(ctx context.Context, challengeID string) (keys.LegacyShape, bool, error) {
	shapes := keys.LegacyShapes(challengeID)
	present := make([]bool, len(shapes))

	g, gctx := errgroup.WithContext(ctx)
	for i, shape := range shapes {
		g.Go(func() error {
			ok, err := e.store.Exists(gctx, shape.Record)
			present[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return keys.LegacyShape{}, false, err
	}
	for i, shape := range shapes {
		if present[i] {
			return shape, true, nil
		}
	}
	return keys.LegacyShape{}, false, nil
}

// fromMetadata is the fallback when no legacy keys exist: a post whose
// metadata already carries a current-shape record is restored from it.
// Otherwise the negative marker is written.
func (e *Engine) fromMetadata(ctx context.Context, challengeID string, marked bool) bool {
	payload, err := e.metadata.ReadMetadata(ctx, challengeID)
	if err != nil {
		util.LogWarnCtx(ctx, "Reading metadata for %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}

	if decoded, ok := models.DecodeCurrentPayload(payload); ok && decoded.ChallengeID == challengeID {
		rec, _ := models.CurrentVariant(decoded).Resolve(challengeID, decoded.AuthorID)
		if rec.NormalizedWord == "" {
			rec.NormalizedWord = normalization.Word(rec.Word)
		}
		if err := e.repo.Save(ctx, rec); err != nil {
			util.LogWarnCtx(ctx, "Restoring %s from metadata failed: %v", challengeID, err)
			metrics.Migrations.WithLabelValues("failed").Inc()
			return false
		}
		if err := e.repo.IndexDerived(ctx, rec); err != nil {
			util.LogWarnCtx(ctx, "Indexing restored challenge %s failed: %v", challengeID, err)
		}
		if err := e.store.Del(ctx, keys.MigrationMarker(challengeID)); err != nil {
			util.LogWarnCtx(ctx, "Failed to clear migration marker for %s: %v", challengeID, err)
		}
		util.LogInfoCtx(ctx, "Restored challenge %s from post metadata", challengeID)
		metrics.Migrations.WithLabelValues("metadata").Inc()
		return true
	}

	if !marked {
		if err := e.store.Set(ctx, keys.MigrationMarker(challengeID), constants.MarkerNone, e.cfg.NegativeCacheTTL); err != nil {
			util.LogWarnCtx(ctx, "Failed to write negative marker for %s: %v", challengeID, err)
		}
	}
	metrics.Migrations.WithLabelValues("none").Inc()
	return false
}

func (e *Engine) migrateLegacy(ctx context.Context, challengeID string, shape keys.LegacyShape) (migrated bool) {
	lock, err := store.AcquireLock(ctx, e.store, keys.MigrationLock(challengeID), e.cfg.LockTTL)
	if errors.Is(err, store.ErrLockContention) {
		metrics.Migrations.WithLabelValues("contended").Inc()
		return false
	}
	if err != nil {
		util.LogWarnCtx(ctx, "Migration lock for %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			util.LogWarnCtx(ctx, "Failed to release %s: %v", lock.Key(), err)
		}
	}()

	current, marked, err := e.checkState(ctx, challengeID)
	if err != nil {
		util.LogWarnCtx(ctx, "Migration re-check for %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}
	if current || marked {
		return false
	}

	fields, err := e.store.HGetAll(ctx, shape.Record)
	if err != nil {
		util.LogWarnCtx(ctx, "Reading legacy record %s failed: %v", shape.Record, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}
	legacy := models.LegacyFromHash(fields)
	if err := legacy.Validate(); err != nil {
		util.LogWarnCtx(ctx, "Legacy record %s is incomplete: %v", shape.Record, err)
		metrics.Migrations.WithLabelValues("invalid").Inc()
		return false
	}
	authorID, err := e.identity.ResolveID(ctx, legacy.AuthorName)
	if err != nil {
		util.LogWarnCtx(ctx, "Cannot resolve author %q of %s: %v", legacy.AuthorName, challengeID, err)
		metrics.Migrations.WithLabelValues("unresolved").Inc()
		return false
	}
	rec, ok := models.LegacyVariant(legacy).Resolve(challengeID, authorID)
	if !ok {
		metrics.Migrations.WithLabelValues("invalid").Inc()
		return false
	}

	if err := e.repo.Save(ctx, rec); err != nil {
		util.LogWarnCtx(ctx, "Writing migrated record %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}
	markerWritten := false
	defer func() {
		if migrated {
			return
		}
		e.rollback(ctx, challengeID, markerWritten)
	}()

	e.effects.BestEffort(ctx, "migration_metadata_mirror", func(ctx context.Context) error {
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return e.metadata.WriteMetadata(ctx, challengeID, payload)
	})

	if err := e.migrateSatellites(ctx, rec, shape); err != nil {
		util.LogWarnCtx(ctx, "Migrating satellite sets of %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}
	if err := e.repo.IndexDerived(ctx, rec); err != nil {
		util.LogWarnCtx(ctx, "Indexing migrated challenge %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}
	if err := e.store.Set(ctx, keys.MigrationMarker(challengeID), constants.MarkerMigrated, e.cfg.NegativeCacheTTL); err != nil {
		util.LogWarnCtx(ctx, "Writing completion marker for %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}
	markerWritten = true

	e.effects.BestEffort(ctx, "migration_welcome_job", func(ctx context.Context) error {
		_, err := e.jobs.Schedule(ctx, constants.JobWelcome, platform.Payload{"challengeId": challengeID}, rec.CreatedAt)
		return err
	})

	if err := e.store.Del(ctx, shape.All()...); err != nil {
		util.LogWarnCtx(ctx, "Deleting legacy keys of %s failed: %v", challengeID, err)
		metrics.Migrations.WithLabelValues("failed").Inc()
		return false
	}

	util.LogInfoCtx(ctx, "Migrated challenge %s from %s keys", challengeID, shape.Name)
	metrics.Migrations.WithLabelValues("migrated").Inc()
	return true
}

// rollback removes what a failed migration wrote so the legacy keys stay
// the only source for the next attempt. Satellite sets are left alone: a
// retry rewrites them with the same members and scores.
func (e *Engine) rollback(ctx context.Context, challengeID string, markerWritten bool) {
	ctx = context.WithoutCancel(ctx)
	if err := e.repo.Delete(ctx, challengeID); err != nil {
		util.LogErrorCtx(ctx, "Rollback of %s failed: %v", challengeID, err)
	}
	if markerWritten {
		if err := e.store.Del(ctx, keys.MigrationMarker(challengeID)); err != nil {
			util.LogErrorCtx(ctx, "Rollback of marker for %s failed: %v", challengeID, err)
		}
	}
}

// migrateSatellites copies the legacy solved, skipped, guess and attempt
// sets to their current keys. Legacy sets name players by display name;
// names that do not resolve are dropped.
func (e *Engine) migrateSatellites(ctx context.Context, rec models.ChallengeRecord, shape keys.LegacyShape) error {
	var solved, skipped, attempts, guesses []store.ZMember
	g, gctx := errgroup.WithContext(ctx)
	read := func(key string, dst *[]store.ZMember) {
		g.Go(func() error {
			members, err := e.store.ZRevRangeWithScores(gctx, key, 0, -1)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			*dst = members
			return nil
		})
	}
	read(shape.Solved, &solved)
	read(shape.Skipped, &skipped)
	read(shape.Attempts, &attempts)
	read(shape.Guesses, &guesses)
	if err := g.Wait(); err != nil {
		return err
	}

	names := lo.Uniq(lo.Map(lo.Flatten([][]store.ZMember{solved, skipped, attempts}), func(m store.ZMember, _ int) string {
		return m.Member
	}))
	ids := e.resolvePlayers(ctx, rec.ChallengeID, names)
	resolve := func(members []store.ZMember) []store.ZMember {
		return lo.FilterMap(members, func(m store.ZMember, _ int) (store.ZMember, bool) {
			id, ok := ids[m.Member]
			return store.ZMember{Member: id, Score: m.Score}, ok
		})
	}

	solvedByID := resolve(solved)
	isSolved := lo.SliceToMap(solvedByID, func(m store.ZMember) (string, bool) { return m.Member, true })
	skippedByID := lo.Reject(resolve(skipped), func(m store.ZMember, _ int) bool { return isSolved[m.Member] })

	// Legacy attempt scores are counts. The first-attempt time is unknown,
	// so it is approximated by the resolution time or the challenge's
	// creation time.
	firstAttempt := map[string]float64{}
	for _, m := range append(append([]store.ZMember{}, solvedByID...), skippedByID...) {
		firstAttempt[m.Member] = m.Score
	}
	counts := resolve(attempts)
	for _, m := range counts {
		if _, ok := firstAttempt[m.Member]; !ok {
			firstAttempt[m.Member] = util.UnixMilli(rec.CreatedAt)
		}
	}
	attemptIndex := lo.MapToSlice(firstAttempt, func(id string, at float64) store.ZMember {
		return store.ZMember{Member: id, Score: at}
	})

	frequency := map[string]float64{}
	for _, m := range guesses {
		if word := normalization.Word(m.Member); word != "" {
			frequency[word] += m.Score
		}
	}
	guessTable := lo.MapToSlice(frequency, func(word string, n float64) store.ZMember {
		return store.ZMember{Member: word, Score: n}
	})

	id := rec.ChallengeID
	w, wctx := errgroup.WithContext(ctx)
	write := func(key string, members []store.ZMember) {
		if len(members) == 0 {
			return
		}
		w.Go(func() error {
			if err := e.store.ZAdd(wctx, key, members...); err != nil {
				return fmt.Errorf("write %s: %w", key, err)
			}
			return nil
		})
	}
	write(keys.Solved(id), solvedByID)
	write(keys.Skipped(id), skippedByID)
	write(keys.Attempts(id), attemptIndex)
	write(keys.GuessCounts(id), counts)
	write(keys.Guesses(id), guessTable)
	return w.Wait()
}

func (e *Engine) resolvePlayers(ctx context.Context, challengeID string, names []string) map[string]string {
	ids := make(map[string]string, len(names))
	for _, name := range names {
		id, err := e.identity.ResolveID(ctx, name)
		if err != nil {
			util.LogWarnCtx(ctx, "Dropping legacy entry %q of %s: %v", name, challengeID, err)
			continue
		}
		ids[name] = id
	}
	return ids
}
