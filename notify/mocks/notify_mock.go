package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/fluxcanvas/models"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Notify(ctx context.Context, event models.NotificationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
