package platform_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keys "github.com/CodeAndHammer/sketchword/internal/keys"
	platform "github.com/CodeAndHammer/sketchword/internal/platform"
	store "github.com/CodeAndHammer/sketchword/internal/store"
	"github.com/CodeAndHammer/sketchword/internal/store/storetest"
)

func TestJobs_RunDueDispatchesOnlyDueJobs(t *testing.T) {
	s, mr := storetest.New(t)
	ctx := context.Background()
	jobs := platform.NewRedisJobs(s)
	worker := platform.NewWorker(s, time.Second)

	var got []platform.Job
	worker.Handle("greet", func(_ context.Context, job platform.Job) error {
		got = append(got, job)
		return nil
	})

	dueID, err := jobs.Schedule(ctx, "greet", platform.Payload{"challengeId": "c1"}, time.Now().Add(-time.Second))
	require.NoError(t, err)
	laterID, err := jobs.Schedule(ctx, "greet", platform.Payload{"challengeId": "c2"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	n, err := worker.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, dueID, got[0].ID)
	assert.Equal(t, "c1", got[0].Payload["challengeId"])
	assert.False(t, mr.Exists(keys.Job(dueID)))

	_, pending, err := jobs.RunAt(ctx, laterID)
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestJobs_CancelIsIdempotent(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	jobs := platform.NewRedisJobs(s)

	id, err := jobs.Schedule(ctx, "noop", nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, jobs.Cancel(ctx, id))
	require.NoError(t, jobs.Cancel(ctx, id))
	require.NoError(t, jobs.Cancel(ctx, "never-existed"))

	_, pending, err := jobs.RunAt(ctx, id)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestWorker_RequeuesOnLockContention(t *testing.T) {
	s, mr := storetest.New(t)
	ctx := context.Background()
	jobs := platform.NewRedisJobs(s)
	worker := platform.NewWorker(s, time.Second)

	calls := 0
	worker.Handle("busy", func(context.Context, platform.Job) error {
		calls++
		return store.ErrLockContention
	})

	id, err := jobs.Schedule(ctx, "busy", nil, time.Now().Add(-time.Second))
	require.NoError(t, err)

	n, err := worker.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)

	runAt, pending, err := jobs.RunAt(ctx, id)
	require.NoError(t, err)
	assert.True(t, pending)
	assert.True(t, runAt.After(time.Now()))
	assert.Equal(t, "1", mr.HGet(keys.Job(id), "attempts"))

	n, err = worker.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWorker_DropsUnknownJobs(t *testing.T) {
	s, mr := storetest.New(t)
	ctx := context.Background()
	jobs := platform.NewRedisJobs(s)
	worker := platform.NewWorker(s, time.Second)

	id, err := jobs.Schedule(ctx, "mystery", nil, time.Now().Add(-time.Second))
	require.NoError(t, err)
	_, err = worker.RunDue(ctx)
	require.NoError(t, err)
	assert.False(t, mr.Exists(keys.Job(id)))
}

func TestIdentity(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	ids := platform.NewRedisIdentity(s)

	require.NoError(t, ids.Register(ctx, "painter", "t2_painter"))
	id, err := ids.ResolveID(ctx, "painter")
	require.NoError(t, err)
	assert.Equal(t, "t2_painter", id)

	_, err = ids.ResolveID(ctx, "ghost")
	assert.True(t, errors.Is(err, platform.ErrIdentityNotFound))
}

func TestComments_CreateAndEdit(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	comments := platform.NewRedisComments(s)

	id, err := comments.CreateComment(ctx, "c1", "first")
	require.NoError(t, err)
	require.NoError(t, comments.EditComment(ctx, id, "second"))

	text, err := comments.Text(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "second", text)

	assert.ErrorIs(t, comments.EditComment(ctx, "missing", "x"), platform.ErrCommentNotFound)
}

func TestProgression_Accumulates(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	p := platform.NewRedisProgression(s)

	total, err := p.AwardPoints(ctx, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	total, err = p.AwardPoints(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestMetadata_MissingIsNil(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	m := platform.NewRedisMetadata(s)

	payload, err := m.ReadMetadata(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, payload)

	require.NoError(t, m.WriteMetadata(ctx, "c1", []byte(`{"a":1}`)))
	payload, err = m.ReadMetadata(ctx, "c1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(payload))
}
