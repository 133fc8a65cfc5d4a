package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// runStoreContract exercises the behavior every JobStore must share
func runStoreContract(t *testing.T, store JobStore) {
	ctx := context.Background()

	t.Run("get unknown id is not found", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("create then get", func(t *testing.T) {
		id := uuid.NewString()
		created, err := store.Create(ctx, id, "talk.mp3", "/uploads/"+id+"/original.mp3")
		require.NoError(t, err)
		assert.Equal(t, types.StatusQueued, created.Status)

		job, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, types.StatusQueued, job.Status)
		assert.Equal(t, 0, job.RetryCount)
		assert.Equal(t, "talk.mp3", job.OriginalFilename)
		assert.False(t, job.CreatedAt.IsZero())
		assert.False(t, job.UpdatedAt.IsZero())
		assert.Nil(t, job.Error)
		assert.Nil(t, job.FullText)
		assert.Nil(t, job.Segments)
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		id := uuid.NewString()
		_, err := store.Create(ctx, id, "a.wav", "/a.wav")
		require.NoError(t, err)

		_, err = store.Create(ctx, id, "b.wav", "/b.wav")
		assert.ErrorIs(t, err, types.ErrDuplicateKey)

		job, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "a.wav", job.OriginalFilename)
	})

	t.Run("status update leaves other fields and advances updated_at", func(t *testing.T) {
		id := uuid.NewString()
		before, err := store.Create(ctx, id, "a.wav", "/a.wav")
		require.NoError(t, err)

		updated, err := store.Update(ctx, id, types.Patch{Status: types.Ptr(types.StatusProcessing)})
		require.NoError(t, err)
		assert.Equal(t, types.StatusProcessing, updated.Status)

		after, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusProcessing, after.Status)
		assert.Equal(t, before.OriginalFilename, after.OriginalFilename)
		assert.Equal(t, before.AudioPath, after.AudioPath)
		assert.Equal(t, before.RetryCount, after.RetryCount)
		assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
		assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
		assert.True(t, updated.UpdatedAt.Equal(after.UpdatedAt))
	})

	t.Run("rapid updates strictly advance updated_at", func(t *testing.T) {
		id := uuid.NewString()
		job, err := store.Create(ctx, id, "a.wav", "/a.wav")
		require.NoError(t, err)

		last := job.UpdatedAt
		for i := 0; i < 20; i++ {
			job, err = store.Update(ctx, id, types.Patch{RetryCount: types.Ptr(i)})
			require.NoError(t, err)
			require.True(t, job.UpdatedAt.After(last), "update %d did not advance updated_at", i)
			last = job.UpdatedAt
		}
	})

	t.Run("result fields and error round trip", func(t *testing.T) {
		id := uuid.NewString()
		_, err := store.Create(ctx, id, "a.wav", "/a.wav")
		require.NoError(t, err)

		_, err = store.Update(ctx, id, types.Patch{
			Status:     types.Ptr(types.StatusRetrying),
			Error:      types.Ptr("engine: boom"),
			RetryCount: types.Ptr(1),
		})
		require.NoError(t, err)

		segments := []types.Segment{
			{Start: 0, End: 1.25, Text: "hello"},
			{Start: 1.25, End: 2.5, Text: "world"},
		}
		_, err = store.Update(ctx, id, types.Patch{
			Status:             types.Ptr(types.StatusCompleted),
			Language:           types.Ptr("en"),
			LanguageConfidence: types.Ptr(0.97),
			DurationSeconds:    types.Ptr(2.5),
			FullText:           types.Ptr("hello world"),
			Segments:           &segments,
			Error:              types.Ptr(""),
		})
		require.NoError(t, err)

		job, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, job.Status)
		assert.Nil(t, job.Error)
		assert.Equal(t, 1, job.RetryCount)
		require.NotNil(t, job.Language)
		assert.Equal(t, "en", *job.Language)
		assert.InDelta(t, 0.97, *job.LanguageConfidence, 1e-9)
		assert.InDelta(t, 2.5, *job.DurationSeconds, 1e-9)
		assert.Equal(t, "hello world", *job.FullText)
		assert.Equal(t, segments, job.Segments)
	})

	t.Run("update unknown id is not found", func(t *testing.T) {
		_, err := store.Update(ctx, uuid.NewString(), types.Patch{Status: types.Ptr(types.StatusFailed)})
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		id := uuid.NewString()
		_, err := store.Create(ctx, id, "a.wav", "/a.wav")
		require.NoError(t, err)

		deleted, err := store.Delete(ctx, id)
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = store.Get(ctx, id)
		assert.ErrorIs(t, err, types.ErrNotFound)

		deleted, err = store.Delete(ctx, id)
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("list newest first with status filter", func(t *testing.T) {
		ids := make([]string, 3)
		for i := range ids {
			ids[i] = uuid.NewString()
			_, err := store.Create(ctx, ids[i], fmt.Sprintf("%d.wav", i), "/x.wav")
			require.NoError(t, err)
		}
		_, err := store.Update(ctx, ids[1], types.Patch{Status: types.Ptr(types.StatusFailed), Error: types.Ptr("x")})
		require.NoError(t, err)

		all, err := store.List(ctx, nil)
		require.NoError(t, err)
		for i := 1; i < len(all); i++ {
			assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "list not ordered newest first")
		}
		assert.Equal(t, ids[2], all[0].ID)

		failed, err := store.List(ctx, types.Ptr(types.StatusFailed))
		require.NoError(t, err)
		found := false
		for _, j := range failed {
			assert.Equal(t, types.StatusFailed, j.Status)
			if j.ID == ids[1] {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		id := uuid.NewString()
		_, err := store.Create(ctx, id, "a.wav", "/a.wav")
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := store.Update(ctx, id, types.Patch{RetryCount: types.Ptr(i)}); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
	})
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newClock(time.Microsecond)
	c.now = func() time.Time { return frozen }

	first := c.next(time.Time{})
	second := c.next(time.Time{})
	assert.True(t, second.After(first))

	// A floor in the future wins over the wall clock
	floor := frozen.Add(time.Hour)
	third := c.next(floor)
	assert.Equal(t, floor.Add(time.Microsecond), third)
}

func TestPatchAssignments(t *testing.T) {
	sets, err := patchAssignments(types.Patch{
		Status:   types.Ptr(types.StatusQueued),
		Error:    types.Ptr(""),
		Segments: &[]types.Segment{},
	})
	require.NoError(t, err)

	byColumn := map[string]any{}
	for _, a := range sets {
		byColumn[a.column] = a.value
	}
	assert.Equal(t, "queued", byColumn["status"])
	assert.Nil(t, byColumn["error"])
	assert.Equal(t, "[]", byColumn["segments"])
	assert.NotContains(t, byColumn, "retry_count")
}
