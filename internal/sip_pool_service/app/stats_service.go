package app

import (
	"context"
	"log/slog"
	"math"

	"github.com/voxline/golang_services/internal/sip_pool_service/domain"
)

// StatsService reports pool utilization. It is a pure read over the current
// record states; nothing here maintains its own counters.
type StatsService struct {
	repo   domain.CredentialRepository
	logger *slog.Logger
}

func NewStatsService(repo domain.CredentialRepository, logger *slog.Logger) *StatsService {
	return &StatsService{repo: repo, logger: logger.With("component", "stats_service")}
}

// GetStats computes total/available/assigned and percentage used.
// PercentageUsed is 0 when the pool is empty.
func (s *StatsService) GetStats(ctx context.Context) (*domain.PoolStats, error) {
	total, err := s.repo.CountTotal(ctx)
	if err != nil {
		return nil, err
	}
	available, err := s.repo.CountAvailable(ctx)
	if err != nil {
		return nil, err
	}

	// The two counts are separate queries; a release landing between them
	// could briefly make available exceed total.
	if available > total {
		available = total
	}

	assigned := total - available
	percentage := 0
	if total > 0 {
		percentage = int(math.Round(float64(assigned) / float64(total) * 100))
	}

	return &domain.PoolStats{
		Total:          total,
		Available:      available,
		Assigned:       assigned,
		PercentageUsed: percentage,
	}, nil
}
