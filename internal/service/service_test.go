package service_test

import (
	"context"
	"encoding/json"
	"errors"
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
	"storybook-server/internal/repository"
	"storybook-server/internal/scene"
	"storybook-server/internal/service"
	"storybook-server/internal/storage"
)

func seedBook(t *testing.T) *storage.FileStorage {
	t.Helper()
	books := storage.NewFileStorage(storage.NewMemoryBackend(), 0, zap.NewNop())
	res := books.SaveBook(context.Background(), &domain.Book{
		ID:          "b1",
		Title:       "Lantern",
		AspectRatio: "1:1",
		Stories: []domain.Story{{
			ID:    "st1",
			Title: "Night",
			Scenes: []domain.Scene{
				{ID: "sc1", Title: "One", Description: "first"},
				{ID: "sc2", Title: "Two", Description: "second"},
			},
		}},
	})
	require.True(t, res.Success, res.Error)
	require.Equal(t, "lantern", res.Slug)
	return books
}

func savedURL(_ context.Context, ref, _ string) string { return "/images/" + ref + ".png" }

func TestGenerationService_GenerateScene(t *testing.T) {
	ctx := context.Background()
	books := seedBook(t)
	gen := mocks.NewMockSceneGenerator(t)
	saver := mocks.NewMockImageSaver(t)
	history := repository.NewMemoryImageHistoryRepository()
	svc := service.NewGenerationService(books, gen, saver, history, zap.NewNop())

	gen.On("GenerateCompleteSceneImage", mock.Anything, mock.MatchedBy(func(o scene.Options) bool {
		return o.Scene.ID == "sc1" && o.Story.ID == "st1" && o.Book.ID == "b1" && o.Model == "m1" && o.ApplyOverlays
	})).Return(scene.Result{
		URL:        "data:image/png;base64,AAAA",
		Stage:      scene.StageDefaultOverlay,
		Degraded:   true,
		OverlayErr: errors.New("diagram broke"),
		Base:       scene.BaseImage{PromptHash: "hash-1"},
	}, nil).Once()
	saver.On("Save", mock.Anything, mock.AnythingOfType("string"), "data:image/png;base64,AAAA").Return(savedURL, nil).Once()

	res, err := svc.GenerateScene(ctx, service.GenerateRequest{
		BookSlug: "lantern", StoryID: "st1", SceneID: "sc1", Model: "m1", ApplyOverlays: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "/images/"+res.Image.ID+".png", res.Image.URL)
	assert.Equal(t, "default_overlay", res.Stage)
	assert.True(t, res.Degraded)
	assert.Equal(t, "diagram broke", res.OverlayError)
	assert.Equal(t, "1:1", res.Image.AspectRatio)
	assert.Equal(t, "hash-1", res.Image.PromptHash)
	assert.Equal(t, "lantern", res.Slug)

	records, err := svc.History(ctx, "lantern", "st1", "sc1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, res.Image.ID, records[0].ID)
	assert.True(t, records[0].Degraded)

	loaded := books.LoadBook(ctx, "lantern")
	require.True(t, loaded.Success)
	sc := loaded.Book.Stories[0].Scenes[0]
	assert.Equal(t, res.Image.ID, sc.CurrentImageID)
	require.Len(t, sc.ImageHistory, 1)
	assert.Equal(t, res.Image.URL, sc.ImageHistory[0].URL)
}

func TestGenerationService_Errors(t *testing.T) {
	ctx := context.Background()
	books := seedBook(t)
	gen := mocks.NewMockSceneGenerator(t)
	saver := mocks.NewMockImageSaver(t)
	history := repository.NewMemoryImageHistoryRepository()
	svc := service.NewGenerationService(books, gen, saver, history, zap.NewNop())

	_, err := svc.GenerateScene(ctx, service.GenerateRequest{BookSlug: "missing", StoryID: "st1", SceneID: "sc1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GenerateScene(ctx, service.GenerateRequest{BookSlug: "lantern", StoryID: "nope", SceneID: "sc1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GenerateScene(ctx, service.GenerateRequest{BookSlug: "lantern", StoryID: "st1", SceneID: "nope"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	gen.On("GenerateCompleteSceneImage", mock.Anything, mock.Anything).
		Return(scene.Result{}, domain.ErrImageGenerationFailed).Once()
	_, err = svc.GenerateScene(ctx, service.GenerateRequest{BookSlug: "lantern", StoryID: "st1", SceneID: "sc2"})
	assert.ErrorIs(t, err, domain.ErrImageGenerationFailed)

	records, err := svc.History(ctx, "lantern", "st1", "sc2")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSelectScenes(t *testing.T) {
	story := &domain.Story{ID: "s", Scenes: []domain.Scene{{ID: "a"}, {ID: "b"}, {ID: "c"}}}

	all, err := service.SelectScenes(story, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	sub, err := service.SelectScenes(story, []string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, sub, 2)
	assert.Equal(t, "a", sub[0].ID)
	assert.Equal(t, "c", sub[1].ID)

	_, err = service.SelectScenes(story, []string{"a", "zz"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = service.SelectScenes(&domain.Story{ID: "empty"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func collect(t *testing.T, ch <-chan batch.Progress) []batch.Progress {
	t.Helper()
	var out []batch.Progress
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, p)
		case <-timeout:
			t.Fatal("progress stream did not finish")
			return out
		}
	}
}

func TestBatchService_Local(t *testing.T) {
	ctx := context.Background()
	books := seedBook(t)
	registry := batch.NewRegistry(zap.NewNop())
	runner := batch.NewRunner(0, zap.NewNop())

	generate := func(_ context.Context, req service.GenerateRequest) (*service.GenerateResult, error) {
		if req.SceneID == "sc2" {
			return nil, domain.ErrImageGenerationFailed
		}
		return &service.GenerateResult{Image: domain.GeneratedImage{ID: "i", URL: "/images/" + req.SceneID + ".png"}}, nil
	}
	svc := service.NewBatchService(books, generate, runner, registry, zap.NewNop())
	t.Cleanup(svc.Close)

	job, err := svc.Start(ctx, service.BatchRequest{BookSlug: "lantern", StoryID: "st1"})
	require.NoError(t, err)

	ch, unsubscribe, err := svc.Subscribe(job.ID)
	require.NoError(t, err)
	defer unsubscribe()

	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, batch.StatusCompleted, events[0].Status)
	assert.Equal(t, "/images/sc1.png", events[0].ImageURL)
	assert.Equal(t, batch.StatusFailed, events[1].Status)
	assert.NotEmpty(t, events[1].Error)
	assert.Equal(t, batch.StatusFinished, events[2].Status)

	_, err = svc.Start(ctx, service.BatchRequest{BookSlug: "lantern", StoryID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, svc.Stop(ctx, "missing"), domain.ErrNotFound)
}

func TestBatchService_Dispatch(t *testing.T) {
	ctx := context.Background()
	books := seedBook(t)
	registry := batch.NewRegistry(zap.NewNop())
	publisher := mocks.NewMockPublisher(t)

	generate := func(context.Context, service.GenerateRequest) (*service.GenerateResult, error) {
		t.Fatal("dispatch mode must not generate locally")
		return nil, nil
	}
	svc := service.NewBatchService(books, generate, batch.NewRunner(0, zap.NewNop()), registry, zap.NewNop(),
		service.WithDispatcher(publisher))
	t.Cleanup(svc.Close)

	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(p messaging.SceneBatchTaskPayload) bool {
		return p.BookSlug == "lantern" && p.StoryID == "st1" && len(p.SceneIDs) == 1 && p.SceneIDs[0] == "sc2" && p.Model == "m"
	}), mock.AnythingOfType("string")).Return(nil).Once()

	job, err := svc.Start(ctx, service.BatchRequest{BookSlug: "lantern", StoryID: "st1", SceneIDs: []string{"sc2"}, Model: "m"})
	require.NoError(t, err)

	ch, unsubscribe, err := svc.Subscribe(job.ID)
	require.NoError(t, err)
	defer unsubscribe()

	deliver := func(p messaging.SceneBatchResultPayload) {
		body, err := json.Marshal(p)
		require.NoError(t, err)
		assert.True(t, svc.HandleResult(ctx, amqp091.Delivery{Body: body}))
	}
	deliver(messaging.SceneBatchResultPayload{JobID: job.ID, SceneID: "sc2", Index: 0, Total: 1, Status: "completed", ImageURL: "/images/x.png"})
	deliver(messaging.SceneBatchResultPayload{JobID: job.ID, Index: 1, Total: 1, Status: "finished"})

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, "/images/x.png", events[0].ImageURL)
	assert.Equal(t, batch.StatusFinished, events[1].Status)

	assert.True(t, svc.HandleResult(ctx, amqp091.Delivery{Body: []byte("{garbage")}))
}

func TestBatchService_DispatchFailure(t *testing.T) {
	ctx := context.Background()
	publisher := mocks.NewMockPublisher(t)
	svc := service.NewBatchService(seedBook(t), nil, batch.NewRunner(0, zap.NewNop()), batch.NewRegistry(zap.NewNop()), zap.NewNop(),
		service.WithDispatcher(publisher))
	t.Cleanup(svc.Close)

	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	_, err := svc.Start(ctx, service.BatchRequest{BookSlug: "lantern", StoryID: "st1"})
	assert.ErrorContains(t, err, "broker down")
}

// editingLocker имитирует другой процесс: пока генерация шла, он успел
// отредактировать книгу и отпустить блокировку.
type editingLocker struct {
	books  *storage.FileStorage
	events []string
	err    error
}

func (l *editingLocker) Lock(ctx context.Context, slug string) (func(), error) {
	l.events = append(l.events, "lock:"+slug)
	if l.err != nil {
		return nil, l.err
	}
	res := l.books.LoadBook(ctx, slug)
	if res.Success {
		res.Book.Stories[0].Scenes[1].Description = "edited elsewhere"
		l.books.SaveBook(ctx, res.Book)
	}
	return func() { l.events = append(l.events, "unlock:"+slug) }, nil
}

func TestGenerationService_SharedBookLock(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps edits made by another process", func(t *testing.T) {
		books := seedBook(t)
		gen := mocks.NewMockSceneGenerator(t)
		saver := mocks.NewMockImageSaver(t)
		locker := &editingLocker{books: books}
		svc := service.NewGenerationService(books, gen, saver, repository.NewMemoryImageHistoryRepository(),
			zap.NewNop(), service.WithBookLocker(locker))

		gen.On("GenerateCompleteSceneImage", mock.Anything, mock.Anything).
			Return(scene.Result{URL: "data:image/png;base64,AAAA", Stage: scene.StageBase}, nil).Once()
		saver.On("Save", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(savedURL, nil).Once()

		res, err := svc.GenerateScene(ctx, service.GenerateRequest{BookSlug: "lantern", StoryID: "st1", SceneID: "sc1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"lock:lantern", "unlock:lantern"}, locker.events)

		loaded := books.LoadBook(ctx, "lantern")
		require.True(t, loaded.Success)
		assert.Equal(t, res.Image.ID, loaded.Book.Stories[0].Scenes[0].CurrentImageID)
		assert.Equal(t, "edited elsewhere", loaded.Book.Stories[0].Scenes[1].Description)
	})

	t.Run("lock failure leaves book untouched", func(t *testing.T) {
		books := seedBook(t)
		gen := mocks.NewMockSceneGenerator(t)
		saver := mocks.NewMockImageSaver(t)
		locker := &editingLocker{books: books, err: storage.ErrLockTimeout}
		svc := service.NewGenerationService(books, gen, saver, repository.NewMemoryImageHistoryRepository(),
			zap.NewNop(), service.WithBookLocker(locker))

		gen.On("GenerateCompleteSceneImage", mock.Anything, mock.Anything).
			Return(scene.Result{URL: "data:image/png;base64,AAAA", Stage: scene.StageBase}, nil).Once()
		saver.On("Save", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(savedURL, nil).Once()

		_, err := svc.GenerateScene(ctx, service.GenerateRequest{BookSlug: "lantern", StoryID: "st1", SceneID: "sc1"})
		assert.ErrorIs(t, err, storage.ErrLockTimeout)
		assert.Equal(t, []string{"lock:lantern"}, locker.events)

		loaded := books.LoadBook(ctx, "lantern")
		require.True(t, loaded.Success)
		assert.Empty(t, loaded.Book.Stories[0].Scenes[0].CurrentImageID)
		assert.Equal(t, "second", loaded.Book.Stories[0].Scenes[1].Description)
	})
}
