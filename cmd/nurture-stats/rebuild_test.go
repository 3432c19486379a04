package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRebuilder struct {
	mock.Mock
}

func (m *mockRebuilder) Rebuild(ctx context.Context, flowID string) (int, error) {
	args := m.Called(ctx, flowID)

	return args.Int(0), args.Error(1)
}

func TestRebuild(t *testing.T) {
	ctx := t.Context()
	failure := errors.New("redis down")

	aggregator := &mockRebuilder{}
	aggregator.On("Rebuild", ctx, "flow-1").Return(12, nil)
	aggregator.On("Rebuild", ctx, "flow-2").Return(0, failure)
	aggregator.On("Rebuild", ctx, "flow-3").Return(0, nil)

	var out bytes.Buffer

	err := rebuild(ctx, &out, aggregator, []string{"flow-1", "flow-2", "flow-3"})

	require.ErrorIs(t, err, failure)
	assert.Contains(t, err.Error(), "flow flow-2")
	assert.Contains(t, out.String(), "✅ flow-1: replayed 12 events")
	assert.Contains(t, out.String(), "❌ flow-2: redis down")
	assert.Contains(t, out.String(), "✅ flow-3: replayed 0 events")
	aggregator.AssertExpectations(t)
}

func TestRebuild_AllSucceed(t *testing.T) {
	aggregator := &mockRebuilder{}
	aggregator.On("Rebuild", mock.Anything, "flow-1").Return(3, nil)

	var out bytes.Buffer

	require.NoError(t, rebuild(t.Context(), &out, aggregator, []string{"flow-1"}))
}
