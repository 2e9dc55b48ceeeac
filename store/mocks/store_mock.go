package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/fluxcanvas/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateCanvas(ctx context.Context, canvas models.Canvas) error {
	args := m.Called(ctx, canvas)
	return args.Error(0)
}

func (m *MockStore) GetCanvas(ctx context.Context, canvasId string) (models.Canvas, error) {
	args := m.Called(ctx, canvasId)
	return args.Get(0).(models.Canvas), args.Error(1)
}

func (m *MockStore) DeleteCanvas(ctx context.Context, canvasId string, creatorId string) error {
	args := m.Called(ctx, canvasId, creatorId)
	return args.Error(0)
}

func (m *MockStore) DeleteCanvasLayers(ctx context.Context, canvasId string) error {
	args := m.Called(ctx, canvasId)
	return args.Error(0)
}

func (m *MockStore) PutLayer(ctx context.Context, canvasId string, layer models.Layer) error {
	args := m.Called(ctx, canvasId, layer)
	return args.Error(0)
}

func (m *MockStore) UpdateLayer(ctx context.Context, canvasId string, layer models.Layer, expectedVersion int64) (models.Layer, error) {
	args := m.Called(ctx, canvasId, layer, expectedVersion)
	return args.Get(0).(models.Layer), args.Error(1)
}

func (m *MockStore) DeleteLayer(ctx context.Context, canvasId string, layerId string) error {
	args := m.Called(ctx, canvasId, layerId)
	return args.Error(0)
}

func (m *MockStore) ReplaceLayers(ctx context.Context, canvasId string, layers []models.Layer, expectedLayersVersion int64) error {
	args := m.Called(ctx, canvasId, layers, expectedLayersVersion)
	return args.Error(0)
}

func (m *MockStore) IncrementViewCount(ctx context.Context, canvasId string, count int) error {
	args := m.Called(ctx, canvasId, count)
	return args.Error(0)
}

func (m *MockStore) SetLike(ctx context.Context, canvasId string, userId string, liked bool) error {
	args := m.Called(ctx, canvasId, userId, liked)
	return args.Error(0)
}

func (m *MockStore) AddPendingRequest(ctx context.Context, canvasId string, userId string) error {
	args := m.Called(ctx, canvasId, userId)
	return args.Error(0)
}

func (m *MockStore) RemovePendingRequest(ctx context.Context, canvasId string, userId string) error {
	args := m.Called(ctx, canvasId, userId)
	return args.Error(0)
}

func (m *MockStore) GrantMembership(ctx context.Context, canvasId string, userId string) error {
	args := m.Called(ctx, canvasId, userId)
	return args.Error(0)
}

func (m *MockStore) AddPage(ctx context.Context, canvasId string) (int, error) {
	args := m.Called(ctx, canvasId)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) SetExportedImageURL(ctx context.Context, canvasId string, url string) error {
	args := m.Called(ctx, canvasId, url)
	return args.Error(0)
}

func (m *MockStore) ListDiscoverable(ctx context.Context) ([]models.Canvas, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Canvas), args.Error(1)
}

func (m *MockStore) ListExpiryCandidates(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) MarkExpired(ctx context.Context, canvasId string) error {
	args := m.Called(ctx, canvasId)
	return args.Error(0)
}
