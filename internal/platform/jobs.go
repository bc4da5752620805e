package platform

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	metrics "github.com/CodeAndHammer/sketchword/internal/metrics"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	util "github.com/CodeAndHammer/sketchword/internal/util"
)

type Job struct {
	ID       string
	Name     string
	Payload  Payload
	RunAt    time.Time
	Attempts int
}

// RedisJobs is a delayed job queue: a sorted set of job ids scored by run
// time plus one hash per job.
type RedisJobs struct {
	store store.Store
}

func NewRedisJobs(s store.Store) *RedisJobs {
	return &RedisJobs{store: s}
}

func (j *RedisJobs) Schedule(ctx context.Context, name string, payload Payload, runAt time.Time) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := j.store.HSet(ctx, keys.Job(id), map[string]string{
		"name":     name,
		"payload":  string(raw),
		"runAt":    strconv.FormatInt(runAt.UnixMilli(), 10),
		"attempts": "0",
	}); err != nil {
		return "", err
	}
	if err := j.store.ZAdd(ctx, keys.JobsDue, store.ZMember{Member: id, Score: util.UnixMilli(runAt)}); err != nil {
		_ = j.store.Del(ctx, keys.Job(id))
		return "", err
	}
	return id, nil
}

func (j *RedisJobs) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}
	if _, err := j.store.ZRem(ctx, keys.JobsDue, jobID); err != nil {
		return err
	}
	return j.store.Del(ctx, keys.Job(jobID))
}

// RunAt reports when jobID is due; ok is false once it fired or was cancelled.
func (j *RedisJobs) RunAt(ctx context.Context, jobID string) (time.Time, bool, error) {
	score, ok, err := j.store.ZScore(ctx, keys.JobsDue, jobID)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)), true, nil
}

type Handler func(ctx context.Context, job Job) error

// Worker polls the due set, claims each job with ZREM so only one instance
// runs it, and dispatches by job name. Handlers returning
// store.ErrLockContention are retried after RetryDelay.
type Worker struct {
	store       store.Store
	handlers    map[string]Handler
	mu          sync.RWMutex
	interval    time.Duration
	batch       int64
	retryDelay  time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewWorker(s store.Store, interval time.Duration) *Worker {
	return &Worker{
		store:       s,
		handlers:    map[string]Handler{},
		interval:    interval,
		batch:       20,
		retryDelay:  5 * time.Second,
		maxAttempts: 5,
		now:         time.Now,
	}
}

func (w *Worker) Handle(name string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	util.LogInfo("Job worker started, polling every %v", w.interval)
	for {
		select {
		case <-ctx.Done():
			util.LogInfo("Job worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunDue(ctx); err != nil && ctx.Err() == nil {
				util.LogWarn("Job poll failed: %v", err)
			}
		}
	}
}

// RunDue processes every job due at the current time and returns how many
// were claimed.
func (w *Worker) RunDue(ctx context.Context) (int, error) {
	due, err := w.store.ZRangeByScore(ctx, keys.JobsDue, util.UnixMilli(w.now()), w.batch)
	if err != nil {
		return 0, err
	}
	claimed := 0
	for _, m := range due {
		n, err := w.store.ZRem(ctx, keys.JobsDue, m.Member)
		if err != nil {
			return claimed, err
		}
		if n == 0 {
			continue
		}
		claimed++
		w.process(ctx, m.Member)
	}
	return claimed, nil
}

func (w *Worker) process(ctx context.Context, id string) {
	fields, err := w.store.HGetAll(ctx, keys.Job(id))
	if err != nil {
		util.LogWarn("Job %s: load failed: %v", id, err)
		return
	}
	if len(fields) == 0 {
		return
	}
	job := Job{ID: id, Name: fields["name"], Payload: Payload{}}
	_ = json.Unmarshal([]byte(fields["payload"]), &job.Payload)
	if ms, err := strconv.ParseInt(fields["runAt"], 10, 64); err == nil {
		job.RunAt = time.UnixMilli(ms)
	}
	job.Attempts, _ = strconv.Atoi(fields["attempts"])

	w.mu.RLock()
	h, ok := w.handlers[job.Name]
	w.mu.RUnlock()
	if !ok {
		util.LogWarn("Job %s: no handler for %q, dropping", id, job.Name)
		metrics.JobsProcessed.WithLabelValues(job.Name, "unhandled").Inc()
		_ = w.store.Del(ctx, keys.Job(id))
		return
	}

	err = w.invoke(ctx, h, job)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues(job.Name, "ok").Inc()
		_ = w.store.Del(ctx, keys.Job(id))
		return
	}

	job.Attempts++
	if job.Attempts >= w.maxAttempts {
		util.LogError("Job %s (%s) failed after %d attempts: %v", id, job.Name, job.Attempts, err)
		metrics.JobsProcessed.WithLabelValues(job.Name, "failed").Inc()
		_ = w.store.Del(ctx, keys.Job(id))
		return
	}
	if errors.Is(err, store.ErrLockContention) {
		util.LogInfo("Job %s (%s) deferred: lock busy", id, job.Name)
	} else {
		util.LogWarn("Job %s (%s) failed, retrying: %v", id, job.Name, err)
	}
	metrics.JobsProcessed.WithLabelValues(job.Name, "retry").Inc()
	if err := w.store.HSet(ctx, keys.Job(id), map[string]string{"attempts": strconv.Itoa(job.Attempts)}); err != nil {
		util.LogWarn("Job %s: failed to record attempt: %v", id, err)
	}
	if err := w.store.ZAdd(ctx, keys.JobsDue, store.ZMember{Member: id, Score: util.UnixMilli(w.now().Add(w.retryDelay))}); err != nil {
		util.LogError("Job %s: failed to requeue: %v", id, err)
	}
}

func (w *Worker) invoke(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("job handler panicked")
			util.LogError("Job %s (%s) panicked: %v", job.ID, job.Name, rec)
		}
	}()
	return h(ctx, job)
}
