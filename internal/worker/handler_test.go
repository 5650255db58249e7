package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/batch"
	"storybook-server/internal/domain"
	"storybook-server/internal/messaging"
	"storybook-server/internal/mocks"
	"storybook-server/internal/service"
	"storybook-server/internal/storage"
)

type countingPusher struct{ n int }

func (p *countingPusher) Push() error { p.n++; return nil }

type resultLog struct {
	mu      sync.Mutex
	results []messaging.SceneBatchResultPayload
}

func (l *resultLog) add(args mock.Arguments) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, args.Get(1).(messaging.SceneBatchResultPayload))
}

func seed(t *testing.T) *storage.FileStorage {
	t.Helper()
	books := storage.NewFileStorage(storage.NewMemoryBackend(), 0, zap.NewNop())
	res := books.SaveBook(context.Background(), &domain.Book{
		ID:    "b1",
		Title: "Lantern",
		Stories: []domain.Story{{
			ID:     "st1",
			Title:  "Night",
			Scenes: []domain.Scene{{ID: "sc1"}, {ID: "sc2"}, {ID: "sc3"}},
		}},
	})
	require.True(t, res.Success, res.Error)
	return books
}

func delivery(t *testing.T, task messaging.SceneBatchTaskPayload) amqp091.Delivery {
	t.Helper()
	body, err := json.Marshal(task)
	require.NoError(t, err)
	return amqp091.Delivery{Body: body, CorrelationId: task.JobID}
}

func TestHandler_RunsTaskAndPublishesResults(t *testing.T) {
	publisher := mocks.NewMockPublisher(t)
	log := &resultLog{}
	publisher.On("Publish", mock.Anything, mock.AnythingOfType("messaging.SceneBatchResultPayload"), "job-1").
		Run(log.add).Return(nil)

	var generated []string
	generate := func(_ context.Context, req service.GenerateRequest) (*service.GenerateResult, error) {
		generated = append(generated, req.SceneID)
		assert.Equal(t, "lantern", req.BookSlug)
		assert.Equal(t, "m", req.Model)
		return &service.GenerateResult{Image: domain.GeneratedImage{URL: "/images/" + req.SceneID + ".png"}}, nil
	}
	pusher := &countingPusher{}
	h := NewHandler(zap.NewNop(), seed(t), generate, batch.NewRunner(0, zap.NewNop()), publisher, nil, pusher)

	ok := h.HandleDelivery(context.Background(), delivery(t, messaging.SceneBatchTaskPayload{
		TaskID: "t1", JobID: "job-1", BookSlug: "lantern", StoryID: "st1", SceneIDs: []string{"sc3", "sc1"}, Model: "m",
	}))
	assert.True(t, ok)
	assert.Equal(t, []string{"sc1", "sc3"}, generated)
	assert.Equal(t, 1, pusher.n)

	require.Len(t, log.results, 3)
	assert.Equal(t, messaging.ResultStatus("completed"), log.results[0].Status)
	assert.Equal(t, "/images/sc1.png", log.results[0].ImageURL)
	assert.Equal(t, "t1", log.results[0].TaskID)
	assert.Equal(t, messaging.ResultStatus("finished"), log.results[2].Status)
	assert.Equal(t, 2, log.results[2].Total)
}

func TestHandler_UnresolvableTask(t *testing.T) {
	publisher := mocks.NewMockPublisher(t)
	log := &resultLog{}
	publisher.On("Publish", mock.Anything, mock.Anything, "job-2").Run(log.add).Return(nil).Once()

	generate := func(context.Context, service.GenerateRequest) (*service.GenerateResult, error) {
		t.Fatal("nothing to generate")
		return nil, nil
	}
	h := NewHandler(zap.NewNop(), seed(t), generate, batch.NewRunner(0, zap.NewNop()), publisher, nil, nil)

	ok := h.HandleDelivery(context.Background(), delivery(t, messaging.SceneBatchTaskPayload{
		JobID: "job-2", BookSlug: "lantern", StoryID: "missing",
	}))
	assert.True(t, ok)
	require.Len(t, log.results, 1)
	assert.Equal(t, messaging.ResultStatus("cancelled"), log.results[0].Status)
	assert.NotEmpty(t, log.results[0].Error)

	// битое сообщение подтверждается без публикации
	assert.True(t, h.HandleDelivery(context.Background(), amqp091.Delivery{Body: []byte("not json")}))
}

type flagSet struct{ set atomic.Bool }

func (f *flagSet) Set(context.Context, string) error            { f.set.Store(true); return nil }
func (f *flagSet) IsSet(context.Context, string) (bool, error) { return f.set.Load(), nil }

func TestHandler_StopFlagStopsBeforeNextScene(t *testing.T) {
	publisher := mocks.NewMockPublisher(t)
	log := &resultLog{}
	publisher.On("Publish", mock.Anything, mock.Anything, "job-3").Run(log.add).Return(nil)

	flags := &flagSet{}
	var generated atomic.Int32
	generate := func(context.Context, service.GenerateRequest) (*service.GenerateResult, error) {
		generated.Add(1)
		// останов запрошен во время первой сцены
		flags.set.Store(true)
		return &service.GenerateResult{}, nil
	}
	// пауза между сценами больше интервала опроса
	runner := batch.NewRunner(200*time.Millisecond, zap.NewNop())
	h := NewHandler(zap.NewNop(), seed(t), generate, runner, publisher, flags, nil)
	h.SetStopPoll(5 * time.Millisecond)

	ok := h.HandleDelivery(context.Background(), delivery(t, messaging.SceneBatchTaskPayload{
		JobID: "job-3", BookSlug: "lantern", StoryID: "st1",
	}))
	assert.True(t, ok)
	assert.Equal(t, int32(1), generated.Load())
	log.mu.Lock()
	defer log.mu.Unlock()
	last := log.results[len(log.results)-1]
	assert.Equal(t, messaging.ResultStatus("stopped"), last.Status)
}
