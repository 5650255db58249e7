package scene_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/imageapi"
	"storybook-server/internal/mocks"
	"storybook-server/internal/reference"
	"storybook-server/internal/scene"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func baseDataURL(t *testing.T) string {
	t.Helper()
	u, err := imageapi.ToPNGDataURL(pngBytes(t, 32, 32))
	require.NoError(t, err)
	return u
}

func fixture() (*domain.Book, *domain.Story) {
	book := &domain.Book{
		ID:              "b1",
		Title:           "The Lantern Book",
		BackgroundSetup: "A misty harbor town.",
		AspectRatio:     "1:1",
		Style:           domain.BookStyle{ArtStyle: "watercolor"},
		Characters: []domain.Character{
			{ID: "c-mira", Name: "Mira", Description: "a lighthouse keeper", SelectedImageID: "m1", ImageGallery: []domain.GalleryImage{{ID: "m1"}}},
		},
	}
	story := &domain.Story{
		ID:    "s1",
		Title: "Night Watch",
		Characters: []domain.Character{
			{ID: "c-otto", Name: "Otto", Description: "a grumpy cat", SelectedImageID: "o1", ImageGallery: []domain.GalleryImage{{ID: "o1"}}},
		},
		Scenes: []domain.Scene{{ID: "sc1", Title: "Storm", Description: "Mira climbs the stairs.", Characters: []string{"Mira", "Otto"}}},
	}
	return book, story
}

func newService(t *testing.T, client imageapi.Client, store *mocks.MockCharImageStore, opts ...scene.Option) *scene.Service {
	t.Helper()
	loader := reference.NewLoader(store, 0, zap.NewNop())
	return scene.NewService(client, loader, imageapi.NewFetcher(5*time.Second, zap.NewNop()), zap.NewNop(), opts...)
}

func TestGenerateSceneImage_PartialReferenceFailure(t *testing.T) {
	book, story := fixture()
	store := mocks.NewMockCharImageStore(t)
	client := mocks.NewMockImageAPIClient(t)

	store.On("Get", mock.Anything, "book:b1", "Mira", "m1").Return(pngBytes(t, 4, 4), nil).Once()
	store.On("Get", mock.Anything, "s1", "Otto", "o1").Return(nil, domain.ErrNotFound).Once()

	var sent imageapi.Request
	client.On("Generate", mock.Anything, mock.AnythingOfType("imageapi.Request")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(imageapi.Request) }).
		Return(imageapi.Response{Success: true, ImageURL: "https://img.example/1.png"}, nil).Once()

	svc := newService(t, client, store)
	base, err := svc.GenerateSceneImage(context.Background(), scene.SceneRequest{Scene: story.Scenes[0], Story: story, Book: book, Model: "sana"})
	require.NoError(t, err)

	assert.Equal(t, "https://img.example/1.png", base.URL)
	assert.Equal(t, 1, base.ReferenceCount)
	assert.Len(t, sent.ReferenceImages, 1)
	assert.Equal(t, "1:1", sent.AspectRatio)
	assert.Equal(t, "sana", sent.Model)

	// оба персонажа в промпте, но референс только у Миры
	assert.Contains(t, sent.Prompt, "- Mira: a lighthouse keeper")
	assert.Contains(t, sent.Prompt, "- Otto: a grumpy cat")
	assert.Contains(t, sent.Prompt, "Reference image provided for Mira")
	assert.NotContains(t, sent.Prompt, "Reference image provided for Otto")
	assert.NotEmpty(t, base.PromptHash)
}

func TestGenerateSceneImage_NoReferencesSendsNil(t *testing.T) {
	_, story := fixture()
	store := mocks.NewMockCharImageStore(t)
	client := mocks.NewMockImageAPIClient(t)

	sc := domain.Scene{ID: "sc2", Description: "An empty pier."}
	client.On("Generate", mock.Anything, mock.MatchedBy(func(r imageapi.Request) bool {
		return r.ReferenceImages == nil && r.AspectRatio == "3:4"
	})).Return(imageapi.Response{Success: true, ImageURL: "u"}, nil).Once()

	_, err := newService(t, client, store).GenerateSceneImage(context.Background(), scene.SceneRequest{Scene: sc, Story: story})
	require.NoError(t, err)
}

func TestGenerateSceneImage_Failures(t *testing.T) {
	tests := []struct {
		name    string
		resp    imageapi.Response
		err     error
		wantMsg string
	}{
		{"transport error", imageapi.Response{}, errors.New("connection refused"), "connection refused"},
		{"api error", imageapi.Response{Success: false, Error: "quota exceeded"}, nil, "quota exceeded"},
		{"empty url", imageapi.Response{Success: true}, nil, "failed to generate image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := mocks.NewMockImageAPIClient(t)
			client.On("Generate", mock.Anything, mock.Anything).Return(tt.resp, tt.err).Once()

			_, err := newService(t, client, mocks.NewMockCharImageStore(t)).
				GenerateSceneImage(context.Background(), scene.SceneRequest{Scene: domain.Scene{ID: "x"}})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrImageGenerationFailed)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestGenerateComplete_NoOverlaysFastPath(t *testing.T) {
	client := mocks.NewMockImageAPIClient(t)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(imageapi.Response{Success: true, ImageURL: "https://img.example/base.png"}, nil).Twice()
	svc := newService(t, client, mocks.NewMockCharImageStore(t))

	req := scene.SceneRequest{Scene: domain.Scene{ID: "sc", Description: "d", TextPanel: "   "}}
	base, err := svc.GenerateSceneImage(context.Background(), req)
	require.NoError(t, err)
	res, err := svc.GenerateCompleteSceneImage(context.Background(), scene.Options{SceneRequest: req, ApplyOverlays: true})
	require.NoError(t, err)

	assert.Equal(t, base.URL, res.URL)
	assert.Equal(t, scene.StageBase, res.Stage)
	assert.False(t, res.Degraded)
}

func TestGenerateComplete_DefaultOverlay(t *testing.T) {
	book, story := fixture()
	book.Characters = nil
	story.Characters = nil
	client := mocks.NewMockImageAPIClient(t)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(imageapi.Response{Success: true, ImageURL: baseDataURL(t)}, nil).Once()

	var gotText string
	renderers := scene.DefaultRenderers()
	inner := renderers.TextPanel
	renderers.TextPanel = func(text string, cfg domain.PanelConfig, w, h int) (*image.NRGBA, error) {
		gotText = text
		return inner(text, cfg, w, h)
	}

	svc := newService(t, client, mocks.NewMockCharImageStore(t), scene.WithRenderers(renderers))
	sc := domain.Scene{ID: "sc", Title: "Storm", Description: "d", TextPanel: "{SceneTitle} in {BookTitle} {Unknown}"}
	res, err := svc.GenerateCompleteSceneImage(context.Background(), scene.Options{
		SceneRequest:  scene.SceneRequest{Scene: sc, Story: story, Book: book},
		ApplyOverlays: true,
	})
	require.NoError(t, err)

	assert.Equal(t, scene.StageDefaultOverlay, res.Stage)
	assert.False(t, res.Degraded)
	assert.True(t, strings.HasPrefix(res.URL, "data:image/png;base64,"))
	assert.Equal(t, "Storm in The Lantern Book {Unknown}", gotText)

	img, err := imageapi.NewFetcher(time.Second, zap.NewNop()).Fetch(context.Background(), res.URL)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(1024, 1024), img.Bounds().Size())
}

func TestGenerateComplete_DiagramFailureFallsBackToBase(t *testing.T) {
	_, story := fixture()
	story.Characters = nil
	story.DiagramStyle = &domain.DiagramStyle{}
	baseURL := baseDataURL(t)

	client := mocks.NewMockImageAPIClient(t)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(imageapi.Response{Success: true, ImageURL: baseURL}, nil).Once()

	renderers := scene.DefaultRenderers()
	renderers.Diagram = func(domain.DiagramPanel, domain.DiagramStyle, int, int) (*image.NRGBA, error) {
		return nil, errors.New("renderer exploded")
	}
	svc := newService(t, client, mocks.NewMockCharImageStore(t), scene.WithRenderers(renderers))

	sc := domain.Scene{ID: "sc", TextPanel: "Hello", DiagramPanel: &domain.DiagramPanel{Type: domain.DiagramMath, Content: "x^2"}}
	res, err := svc.GenerateCompleteSceneImage(context.Background(), scene.Options{
		SceneRequest:  scene.SceneRequest{Scene: sc, Story: story},
		ApplyOverlays: true,
	})
	require.NoError(t, err)

	assert.Equal(t, baseURL, res.URL)
	assert.Equal(t, scene.StageBase, res.Stage)
	assert.True(t, res.Degraded)
	assert.ErrorIs(t, res.OverlayErr, domain.ErrOverlayFailed)
}

func TestGenerateComplete_PanicInRendererIsRecovered(t *testing.T) {
	client := mocks.NewMockImageAPIClient(t)
	baseURL := baseDataURL(t)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(imageapi.Response{Success: true, ImageURL: baseURL}, nil).Once()

	renderers := scene.DefaultRenderers()
	renderers.TextPanel = func(string, domain.PanelConfig, int, int) (*image.NRGBA, error) {
		panic("nil font")
	}
	svc := newService(t, client, mocks.NewMockCharImageStore(t), scene.WithRenderers(renderers))

	sc := domain.Scene{ID: "sc", TextPanel: "Hello", Layout: &domain.SceneLayout{
		Canvas:   domain.LayoutCanvas{Width: 100, Height: 100},
		Elements: domain.LayoutElements{TextPanel: &domain.LayoutElement{Width: 50, Height: 20}},
	}}
	res, err := svc.GenerateCompleteSceneImage(context.Background(), scene.Options{
		SceneRequest:  scene.SceneRequest{Scene: sc},
		ApplyOverlays: true,
	})
	require.NoError(t, err)
	assert.Equal(t, baseURL, res.URL)
	assert.True(t, res.Degraded)
}

func TestGenerateComplete_CustomLayout(t *testing.T) {
	client := mocks.NewMockImageAPIClient(t)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(imageapi.Response{Success: true, ImageURL: baseDataURL(t)}, nil).Once()

	renderers := scene.Renderers{
		TextPanel: func(_ string, _ domain.PanelConfig, w, h int) (*image.NRGBA, error) {
			img := image.NewNRGBA(image.Rect(0, 0, w, h))
			for i := 0; i < len(img.Pix); i += 4 {
				img.Pix[i], img.Pix[i+3] = 255, 255
			}
			return img, nil
		},
	}
	svc := newService(t, client, mocks.NewMockCharImageStore(t), scene.WithRenderers(renderers))

	sc := domain.Scene{ID: "sc", TextPanel: "Hi", Layout: &domain.SceneLayout{
		Canvas:   domain.LayoutCanvas{Width: 300, Height: 200},
		Elements: domain.LayoutElements{TextPanel: &domain.LayoutElement{X: 0, Y: 50, Width: 100, Height: 50, ZIndex: 1}},
	}}
	res, err := svc.GenerateCompleteSceneImage(context.Background(), scene.Options{
		SceneRequest:  scene.SceneRequest{Scene: sc},
		ApplyOverlays: true,
	})
	require.NoError(t, err)
	require.Equal(t, scene.StageCustomLayout, res.Stage)

	img, err := imageapi.NewFetcher(time.Second, zap.NewNop()).Fetch(context.Background(), res.URL)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(300, 200), img.Bounds().Size())
	r, g, b, _ := img.At(150, 150).RGBA()
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, color.NRGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255})
}

func TestGenerateComplete_BaseFailureIsHard(t *testing.T) {
	client := mocks.NewMockImageAPIClient(t)
	client.On("Generate", mock.Anything, mock.Anything).Return(imageapi.Response{}, errors.New("down")).Once()

	_, err := newService(t, client, mocks.NewMockCharImageStore(t)).GenerateCompleteSceneImage(context.Background(), scene.Options{
		SceneRequest:  scene.SceneRequest{Scene: domain.Scene{ID: "sc", TextPanel: "x"}},
		ApplyOverlays: true,
	})
	assert.ErrorIs(t, err, domain.ErrImageGenerationFailed)
}

func TestGenerateComplete_MissingDiagramStyleSkipsDiagram(t *testing.T) {
	var diagramCalls int
	renderers := scene.Renderers{
		TextPanel: func(string, domain.PanelConfig, int, int) (*image.NRGBA, error) {
			return image.NewNRGBA(image.Rect(0, 0, 40, 20)), nil
		},
		Diagram: func(domain.DiagramPanel, domain.DiagramStyle, int, int) (*image.NRGBA, error) {
			diagramCalls++
			return image.NewNRGBA(image.Rect(0, 0, 10, 10)), nil
		},
	}
	diagram := &domain.DiagramPanel{Type: domain.DiagramMath, Content: "x^2"}

	tests := []struct {
		name      string
		scene     domain.Scene
		wantStage scene.Stage
		wantBase  bool
	}{
		{
			name:      "text still composed",
			scene:     domain.Scene{ID: "sc", TextPanel: "Hello", DiagramPanel: diagram},
			wantStage: scene.StageDefaultOverlay,
		},
		{
			name:      "diagram only keeps base",
			scene:     domain.Scene{ID: "sc", DiagramPanel: diagram},
			wantStage: scene.StageBase,
			wantBase:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diagramCalls = 0
			_, story := fixture()
			story.Characters = nil
			story.DiagramStyle = nil
			baseURL := baseDataURL(t)

			client := mocks.NewMockImageAPIClient(t)
			client.On("Generate", mock.Anything, mock.Anything).
				Return(imageapi.Response{Success: true, ImageURL: baseURL}, nil).Once()
			svc := newService(t, client, mocks.NewMockCharImageStore(t), scene.WithRenderers(renderers))

			res, err := svc.GenerateCompleteSceneImage(context.Background(), scene.Options{
				SceneRequest:  scene.SceneRequest{Scene: tt.scene, Story: story},
				ApplyOverlays: true,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, res.Stage)
			assert.False(t, res.Degraded)
			assert.NoError(t, res.OverlayErr)
			assert.Zero(t, diagramCalls)
			if tt.wantBase {
				assert.Equal(t, baseURL, res.URL)
			} else {
				assert.NotEqual(t, baseURL, res.URL)
				assert.True(t, strings.HasPrefix(res.URL, "data:image/png;base64,"))
			}
		})
	}
}
