package mocks

import (
	"context"

	"github.com/dukex/nurture/pkg/dispatch"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of dispatch.Provider interface.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Send(ctx context.Context, msg dispatch.Message) (dispatch.ProviderResult, error) {
	args := m.Called(ctx, msg)

	return args.Get(0).(dispatch.ProviderResult), args.Error(1)
}
