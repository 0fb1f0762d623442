package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStatsTest(t *testing.T) (*StatsService, *MockCredentialRepository) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockRepo := new(MockCredentialRepository)
	return NewStatsService(mockRepo, logger), mockRepo
}

func TestStatsService_GetStats(t *testing.T) {
	ctx := context.Background()

	t.Run("ComputesAssignedAndPercentage", func(t *testing.T) {
		svc, mockRepo := setupStatsTest(t)
		mockRepo.On("CountTotal", ctx).Return(3, nil).Once()
		mockRepo.On("CountAvailable", ctx).Return(1, nil).Once()

		stats, err := svc.GetStats(ctx)

		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 1, stats.Available)
		assert.Equal(t, 2, stats.Assigned)
		assert.Equal(t, 67, stats.PercentageUsed) // round(2/3*100)
		assert.Equal(t, stats.Total, stats.Available+stats.Assigned)
	})

	t.Run("EmptyPoolIsZeroPercent", func(t *testing.T) {
		svc, mockRepo := setupStatsTest(t)
		mockRepo.On("CountTotal", ctx).Return(0, nil).Once()
		mockRepo.On("CountAvailable", ctx).Return(0, nil).Once()

		stats, err := svc.GetStats(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, stats.Total)
		assert.Equal(t, 0, stats.PercentageUsed)
	})

	t.Run("FullyAssignedPool", func(t *testing.T) {
		svc, mockRepo := setupStatsTest(t)
		mockRepo.On("CountTotal", ctx).Return(4, nil).Once()
		mockRepo.On("CountAvailable", ctx).Return(0, nil).Once()

		stats, err := svc.GetStats(ctx)

		require.NoError(t, err)
		assert.Equal(t, 4, stats.Assigned)
		assert.Equal(t, 100, stats.PercentageUsed)
	})

	t.Run("ClampsAvailableRacingAboveTotal", func(t *testing.T) {
		// A release can land between the two count queries.
		svc, mockRepo := setupStatsTest(t)
		mockRepo.On("CountTotal", ctx).Return(2, nil).Once()
		mockRepo.On("CountAvailable", ctx).Return(3, nil).Once()

		stats, err := svc.GetStats(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, stats.Available)
		assert.Equal(t, 0, stats.Assigned)
		assert.Equal(t, stats.Total, stats.Available+stats.Assigned)
	})

	t.Run("RepoErrorPropagates", func(t *testing.T) {
		svc, mockRepo := setupStatsTest(t)
		dbErr := errors.New("store unreachable")
		mockRepo.On("CountTotal", ctx).Return(0, dbErr).Once()

		stats, err := svc.GetStats(ctx)

		require.ErrorIs(t, err, dbErr)
		assert.Nil(t, stats)
	})
}
