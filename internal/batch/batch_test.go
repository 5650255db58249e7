package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/batch"
	"storybook-server/internal/domain"
)

func scenes(ids ...string) []domain.Scene {
	out := make([]domain.Scene, len(ids))
	for i, id := range ids {
		out[i] = domain.Scene{ID: id}
	}
	return out
}

func TestRunner_SequentialWithDelay(t *testing.T) {
	const (
		delay = 40 * time.Millisecond
		work  = 60 * time.Millisecond
	)
	job := batch.NewJob("b1", "s1", scenes("a", "b", "c"))

	// генерация дольше паузы: пауза все равно выдерживается после конца сцены
	var starts, ends []time.Time
	var events []batch.Progress
	sum := batch.NewRunner(delay, zap.NewNop()).Run(context.Background(), job,
		func(_ context.Context, sc domain.Scene) (string, error) {
			starts = append(starts, time.Now())
			time.Sleep(work)
			ends = append(ends, time.Now())
			if sc.ID == "b" {
				return "", errors.New("api down")
			}
			return "url-" + sc.ID, nil
		},
		func(p batch.Progress) { events = append(events, p) },
	)

	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, batch.StatusFinished, sum.Status)

	require.Len(t, starts, 3)
	require.Len(t, ends, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(ends[i-1]), delay-5*time.Millisecond, "gap after scene %d", i-1)
	}

	require.Len(t, events, 4)
	assert.Equal(t, batch.StatusCompleted, events[0].Status)
	assert.Equal(t, "url-a", events[0].ImageURL)
	assert.Equal(t, batch.StatusFailed, events[1].Status)
	assert.Equal(t, "api down", events[1].Error)
	assert.Equal(t, 2, events[2].Index)
	assert.Equal(t, 3, events[2].Total)
	assert.Equal(t, batch.StatusFinished, events[3].Status)
}

func TestRunner_StopFlagDoesNotAbortInFlight(t *testing.T) {
	job := batch.NewJob("b1", "s1", scenes("a", "b", "c"))

	var done []string
	sum := batch.NewRunner(0, zap.NewNop()).Run(context.Background(), job,
		func(_ context.Context, sc domain.Scene) (string, error) {
			if sc.ID == "a" {
				job.Stop()
			}
			done = append(done, sc.ID)
			return "u", nil
		}, nil)

	assert.Equal(t, []string{"a"}, done)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, batch.StatusStopped, sum.Status)
}

func TestRunner_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := batch.NewJob("b1", "s1", scenes("a", "b"))

	sum := batch.NewRunner(time.Hour, zap.NewNop()).Run(ctx, job,
		func(context.Context, domain.Scene) (string, error) {
			cancel()
			return "u", nil
		}, nil)

	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, batch.StatusCancelled, sum.Status)
}

func TestRegistry_SubscribeReplaysAndCloses(t *testing.T) {
	reg := batch.NewRegistry(zap.NewNop())
	job := batch.NewJob("b1", "s1", scenes("a", "b"))
	reg.Add(job)

	reg.Publish(batch.Progress{JobID: job.ID, SceneID: "a", Status: batch.StatusCompleted})
	ch, unsubscribe, err := reg.Subscribe(job.ID)
	require.NoError(t, err)
	defer unsubscribe()

	var wg sync.WaitGroup
	var got []batch.Progress
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range ch {
			got = append(got, p)
		}
	}()

	reg.Publish(batch.Progress{JobID: job.ID, SceneID: "b", Status: batch.StatusCompleted})
	reg.Publish(batch.Progress{JobID: job.ID, Status: batch.StatusFinished})
	wg.Wait()

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].SceneID)
	assert.Equal(t, batch.StatusFinished, got[2].Status)

	// поздний подписчик получает всю историю и закрытый канал
	late, _, err := reg.Subscribe(job.ID)
	require.NoError(t, err)
	n := 0
	for range late {
		n++
	}
	assert.Equal(t, 3, n)
}

func TestRegistry_UnknownJob(t *testing.T) {
	reg := batch.NewRegistry(zap.NewNop())
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, reg.Stop("nope"), domain.ErrNotFound)
	_, _, err = reg.Subscribe("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_Stop(t *testing.T) {
	reg := batch.NewRegistry(zap.NewNop())
	job := batch.NewJob("b1", "s1", nil)
	reg.Add(job)
	require.NoError(t, reg.Stop(job.ID))
	assert.True(t, job.Stopped())
}
