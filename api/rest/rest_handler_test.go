package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/fluxcanvas/api/rest"
	"github.com/zlnvch/fluxcanvas/apperror"
	blobmocks "github.com/zlnvch/fluxcanvas/blob/mocks"
	cachemocks "github.com/zlnvch/fluxcanvas/cache/mocks"
	"github.com/zlnvch/fluxcanvas/models"
	mqmocks "github.com/zlnvch/fluxcanvas/mq/mocks"
	notifymocks "github.com/zlnvch/fluxcanvas/notify/mocks"
	"github.com/zlnvch/fluxcanvas/service"
	"github.com/zlnvch/fluxcanvas/store/sqlite"
	"github.com/zlnvch/fluxcanvas/worker"
)

var (
	creator  = models.User{Id: "creator", Username: "Creator"}
	stranger = models.User{Id: "stranger", Username: "Stranger"}
)

type testServer struct {
	router    http.Handler
	svc       *service.Service
	store     *sqlite.SQLiteCanvasStore
	mockBlobs *blobmocks.MockBlobStore
	mockSink  *notifymocks.MockSink
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	canvasStore, err := sqlite.NewSQLiteCanvasStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { canvasStore.Close() })

	mockCache := new(cachemocks.MockCache)
	mockCache.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	mockBlobs := new(blobmocks.MockBlobStore)
	mockSink := new(notifymocks.MockSink)

	svc := service.NewService(canvasStore, mockCache, new(mqmocks.MockMQ), mockSink, mockBlobs,
		worker.NewViewBatcher(canvasStore, time.Second), []byte("secret"))

	r := chi.NewRouter()
	rest.NewHandler(svc, 1<<20).Mount(r)

	return &testServer{router: r, svc: svc, store: canvasStore, mockBlobs: mockBlobs, mockSink: mockSink}
}

func (ts *testServer) seed(t *testing.T, id string, access models.AccessType, capacity int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, ts.store.CreateCanvas(context.Background(), models.Canvas{
		Id:               id,
		CreatorId:        creator.Id,
		CreatorUsername:  creator.Username,
		AccessType:       access,
		InviteCode:       "FLUX2025",
		TotalPages:       1,
		MaxCollaborators: capacity,
		CreatedAt:        now,
		ExpiresAt:        now.Add(24 * time.Hour),
	}))
}

func (ts *testServer) do(t *testing.T, user *models.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reader).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reader)
	if user != nil {
		token, err := ts.svc.CreateJWT(*user)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequiresToken(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, nil, http.MethodPost, "/canvases", models.CanvasSettings{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec)["error"])
}

func TestCreateAndOpenCanvas(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, &creator, http.MethodPost, "/canvases", models.CanvasSettings{AccessType: models.AccessPrivate, TotalPages: 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Canvas
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, creator.Id, created.CreatorId)
	assert.Len(t, created.InviteCode, 8)

	rec = ts.do(t, &stranger, http.MethodGet, "/canvases/"+created.Id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var access service.CanvasAccess
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &access))
	assert.Equal(t, service.AccessLocked, access.State)
	assert.Nil(t, access.Canvas)
	require.NotNil(t, access.Lock)
	assert.Equal(t, creator.Username, access.Lock.CreatorUsername)
}

func TestOpenMissingCanvas(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, &creator, http.MethodGet, "/canvases/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec)["error"])
}

func TestAddLayerCapacity(t *testing.T) {
	ts := setupServer(t)
	ts.seed(t, "c1", models.AccessPublic, 1)

	layer := service.NewLayer{
		Type:      models.LayerText,
		Size:      models.Size{Width: 100, Height: 40},
		Text:      "hello",
		FontSize:  24,
		FontColor: "#FFFFFF",
	}

	rec := ts.do(t, &stranger, http.MethodPost, "/canvases/c1/layers", layer)
	require.Equal(t, http.StatusCreated, rec.Code)

	var added models.Layer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, stranger.Id, added.CreatedBy)
	assert.Equal(t, models.Position{X: 20, Y: 20}, added.Position)

	rec = ts.do(t, &stranger, http.MethodPost, "/canvases/c1/layers", layer)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capacity_exceeded", decodeError(t, rec)["error"])
}

func TestAddLayerValidation(t *testing.T) {
	ts := setupServer(t)
	ts.seed(t, "c1", models.AccessPublic, 5)

	rec := ts.do(t, &creator, http.MethodPost, "/canvases/c1/layers", service.NewLayer{
		Type: models.LayerText,
		Size: models.Size{Width: 100, Height: 40},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "validation_error", body["error"])
	assert.Equal(t, "text", body["field"])
}

func TestRedeemInviteCode(t *testing.T) {
	ts := setupServer(t)
	ts.seed(t, "c1", models.AccessPrivate, 5)
	ts.mockSink.On("Notify", mock.Anything, mock.Anything).Return(nil)

	rec := ts.do(t, &stranger, http.MethodPost, "/canvases/c1/invite", map[string]string{"code": "WRONG123"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_invite_code", decodeError(t, rec)["error"])

	rec = ts.do(t, &stranger, http.MethodPost, "/canvases/c1/invite", map[string]string{"code": "flux2025"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, &stranger, http.MethodGet, "/canvases/c1", nil)
	var access service.CanvasAccess
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &access))
	assert.Equal(t, service.AccessOpen, access.State)
}

func TestDiscoverIsPublic(t *testing.T) {
	ts := setupServer(t)
	ts.seed(t, "pub", models.AccessPublic, 5)
	ts.seed(t, "priv", models.AccessPrivate, 5)

	rec := ts.do(t, nil, http.MethodGet, "/canvases?sort=newest&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Canvases []models.Canvas `json:"canvases"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Canvases, 1)
	assert.Equal(t, "pub", body.Canvases[0].Id)
	assert.Empty(t, body.Canvases[0].InviteCode)

	rec = ts.do(t, nil, http.MethodGet, "/canvases?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddImageLayerUpload(t *testing.T) {
	ts := setupServer(t)
	ts.seed(t, "c1", models.AccessPublic, 5)
	png := []byte("\x89PNG\r\n\x1a\n0000")
	ts.mockBlobs.On("Upload", mock.Anything, png, "image/png").Return("/uploads/abc.png", nil)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image", "cat.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, form.WriteField("layer", `{"type":"image","size":{"width":94,"height":95}}`))
	require.NoError(t, form.Close())

	token, err := ts.svc.CreateJWT(creator)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/canvases/c1/layers/image", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var layer models.Layer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &layer))
	assert.Equal(t, "/uploads/abc.png", layer.ImageUrl)
	ts.mockBlobs.AssertExpectations(t)
}

func TestExportRequiresImage(t *testing.T) {
	ts := setupServer(t)
	ts.seed(t, "c1", models.AccessPublic, 5)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("note", "no file"))
	require.NoError(t, form.Close())

	token, err := ts.svc.CreateJWT(creator)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/canvases/c1/export", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ts.mockBlobs.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apperror.NotFound("canvas", "c1"), http.StatusNotFound},
		{apperror.PermissionDenied("no"), http.StatusForbidden},
		{apperror.CapacityExceeded(0, 10), http.StatusConflict},
		{apperror.Conflict("layer", "l1"), http.StatusConflict},
		{apperror.Transient("PutLayer", errors.New("timeout")), http.StatusServiceUnavailable},
		{apperror.InvalidInviteCode(), http.StatusUnprocessableEntity},
		{apperror.Expired("c1"), http.StatusGone},
		{apperror.ValidationFailed("text", "empty"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(apperror.Kind(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.status, rest.StatusFor(tt.err))
		})
	}
}
