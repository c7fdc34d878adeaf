package mocks

import (
	"context"

	"github.com/dukex/flowgate/pkg/notification"
	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock implementation of notification.Dispatcher interface.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) EnqueueAssignmentNotice(ctx context.Context, notice notification.AssignmentNotice) error {
	args := m.Called(ctx, notice)

	return args.Error(0)
}

func (m *MockDispatcher) EnqueueBreachNotice(ctx context.Context, notice notification.BreachNotice) error {
	args := m.Called(ctx, notice)

	return args.Error(0)
}
