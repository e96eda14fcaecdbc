package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/bertona88/wofi/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDecompositionInput(t *testing.T) {
	sum := sha256.Sum256([]byte("decomposition:v0\nidea:i\nprofile:p\nopts:null"))
	want := "sha256:" + hex.EncodeToString(sum[:])

	got, err := HashDecompositionInput("i", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	empty, err := HashDecompositionInput("i", "p", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, want, empty)

	sum = sha256.Sum256([]byte(`decomposition:v0` + "\n" + `idea:i` + "\n" + `profile:p` + "\n" + `opts:{"a":"<x>","b":{"c":1,"d":2}}`))
	withOpts, err := HashDecompositionInput("i", "p", map[string]any{"b": map[string]any{"d": 2, "c": 1}, "a": "<x>"})
	require.NoError(t, err)
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), withOpts)
}

func TestEnqueueDecompositionJob(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ideaID := e.addIdea(t, testutil.Idea("A"))
	w := NewDecompositionWorker(e.store, nil, Config{}, e.opts()...)

	first, err := w.EnqueueDecompositionJob(ctx, ideaID, "profile-1", map[string]any{"depth": 2}, false)
	require.NoError(t, err)
	assert.True(t, first.Enqueued)
	assert.Equal(t, "profile-1", first.ProfileID)

	again, err := w.EnqueueDecompositionJob(ctx, ideaID, "profile-1", map[string]any{"depth": 2}, false)
	require.NoError(t, err)
	assert.False(t, again.Enqueued)
	assert.Equal(t, first.InputHash, again.InputHash)

	forced, err := w.EnqueueDecompositionJob(ctx, ideaID, "profile-1", map[string]any{"depth": 2}, true)
	require.NoError(t, err)
	assert.True(t, forced.Enqueued)
	assert.Equal(t, 1, countRows(t, e.store, "decomposition_jobs"))

	other, err := w.EnqueueDecompositionJob(ctx, ideaID, "profile-2", nil, false)
	require.NoError(t, err)
	assert.True(t, other.Enqueued)
	assert.Equal(t, 2, countRows(t, e.store, "decomposition_jobs"))

	_, err = w.EnqueueDecompositionJob(ctx, testutil.ID(testutil.Idea("ghost")), "profile-1", nil, false)
	assert.ErrorIs(t, err, ErrIdeaNotFound)
	_, err = w.EnqueueDecompositionJob(ctx, ideaID, "", nil, false)
	assert.EqualError(t, err, "profile id is required")
}

func TestProcessDecompositionJobs(t *testing.T) {
	ctx := context.Background()

	t.Run("handler receives the job", func(t *testing.T) {
		e := newEnv(t)
		ideaID := e.addIdea(t, testutil.Idea("A"))
		var seen []DecompositionJob
		handler := DecompositionHandlerFunc(func(_ context.Context, job DecompositionJob) error {
			seen = append(seen, job)
			return nil
		})
		w := NewDecompositionWorker(e.store, handler, Config{WorkerID: "agent-1"}, e.opts()...)
		_, err := w.EnqueueDecompositionJob(ctx, ideaID, "p", map[string]any{"depth": 2}, false)
		require.NoError(t, err)

		processed, err := w.ProcessDecompositionJobs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, processed)
		require.Len(t, seen, 1)
		assert.Equal(t, ideaID, seen[0].IdeaID)
		assert.Equal(t, "p", seen[0].ProfileID)
		assert.Equal(t, map[string]any{"depth": float64(2)}, seen[0].Opts)
		assert.Equal(t, 1, seen[0].Attempts)

		job := loadJob(t, e.store, "decomposition_jobs", 1)
		assert.Equal(t, JobDone, job.Status)
		assert.Equal(t, "agent-1", job.ClaimedBy)
	})

	t.Run("noop without handler", func(t *testing.T) {
		e := newEnv(t)
		ideaID := e.addIdea(t, testutil.Idea("A"))
		w := NewDecompositionWorker(e.store, nil, Config{}, e.opts()...)
		_, err := w.EnqueueDecompositionJob(ctx, ideaID, "p", nil, false)
		require.NoError(t, err)

		require.NoError(t, w.Run(ctx, false))
		assert.Equal(t, JobDone, loadJob(t, e.store, "decomposition_jobs", 1).Status)
	})

	t.Run("handler failure is recorded", func(t *testing.T) {
		e := newEnv(t)
		a := e.addIdea(t, testutil.Idea("A"))
		b := e.addIdea(t, testutil.Idea("B"))
		handler := DecompositionHandlerFunc(func(_ context.Context, job DecompositionJob) error {
			if job.IdeaID == a {
				return errors.New("agent gave up")
			}
			return nil
		})
		w := NewDecompositionWorker(e.store, handler, Config{BatchSize: 5}, e.opts()...)
		for _, id := range []string{a, b} {
			_, err := w.EnqueueDecompositionJob(ctx, id, "p", nil, false)
			require.NoError(t, err)
		}

		processed, err := w.ProcessDecompositionJobs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, processed)

		failed := loadJob(t, e.store, "decomposition_jobs", 1)
		assert.Equal(t, JobFailed, failed.Status)
		assert.Equal(t, 1, failed.Attempts)
		assert.Equal(t, "agent gave up", failed.LastError)
		assert.Equal(t, JobDone, loadJob(t, e.store, "decomposition_jobs", 2).Status)

		processed, err = w.ProcessDecompositionJobs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, processed)
		assert.Equal(t, 2, loadJob(t, e.store, "decomposition_jobs", 1).Attempts)
	})
}
