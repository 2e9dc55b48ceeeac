package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) SetPresence(ctx context.Context, canvasId string, userId string, lastActive time.Time, data []byte) error {
	args := m.Called(ctx, canvasId, userId, lastActive, data)
	return args.Error(0)
}

func (m *MockCache) RemovePresence(ctx context.Context, canvasId string, userId string) error {
	args := m.Called(ctx, canvasId, userId)
	return args.Error(0)
}

func (m *MockCache) GetPresence(ctx context.Context, canvasId string, activeAfter time.Time) ([][]byte, error) {
	args := m.Called(ctx, canvasId, activeAfter)
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockCache) ActiveCounts(ctx context.Context, canvasIds []string, activeAfter time.Time) (map[string]int64, error) {
	args := m.Called(ctx, canvasIds, activeAfter)
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockCache) ClearPresence(ctx context.Context, canvasId string) error {
	args := m.Called(ctx, canvasId)
	return args.Error(0)
}
