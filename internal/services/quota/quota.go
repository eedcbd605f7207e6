// Package quota enforces per-user storage limits.
package quota

import (
	"context"
	"fmt"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
)

// DefaultLimitBytes is applied to users with no explicit quota record.
const DefaultLimitBytes = 1 << 30 // 1 GiB

// Service implements interfaces.QuotaService over a QuotaRepository.
type Service struct {
	repo   interfaces.QuotaRepository
	limit  int64
	logger *common.Logger
}

// NewService creates the quota service. limit <= 0 uses DefaultLimitBytes.
func NewService(repo interfaces.QuotaRepository, limit int64, logger *common.Logger) *Service {
	if limit <= 0 {
		limit = DefaultLimitBytes
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{repo: repo, limit: limit, logger: logger}
}

// Reserve records size bytes against the user's quota, failing permanently
// when the reservation would exceed the limit.
func (s *Service) Reserve(ctx context.Context, userID string, size int64) error {
	if size < 0 {
		return common.NewPermanentError("cannot reserve a negative size", nil)
	}

	usage, err := s.repo.AddUsage(ctx, userID, size)
	if err != nil {
		return fmt.Errorf("failed to reserve quota: %w", err)
	}

	limit := usage.LimitBytes
	if limit == 0 {
		limit = s.limit
	}
	if usage.UsedBytes > limit {
		// Roll the reservation back before rejecting.
		if _, rerr := s.repo.AddUsage(ctx, userID, -size); rerr != nil {
			s.logger.Warn().Err(rerr).Str("user_id", userID).Msg("Failed to roll back quota reservation")
		}
		return &common.PermanentError{
			Message: fmt.Sprintf("User %s has exceeded quota: %d of %d bytes used", userID, usage.UsedBytes-size, limit),
			Code:    "QUOTA_EXCEEDED",
			Status:  403,
		}
	}
	return nil
}

// Release returns size bytes to the user's quota.
func (s *Service) Release(ctx context.Context, userID string, size int64) error {
	if size <= 0 {
		return nil
	}
	if _, err := s.repo.AddUsage(ctx, userID, -size); err != nil {
		return fmt.Errorf("failed to release quota: %w", err)
	}
	return nil
}

// Usage reports the user's current consumption, applying the default limit
// when none is set.
func (s *Service) Usage(ctx context.Context, userID string) (*models.QuotaUsage, error) {
	usage, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if usage.LimitBytes == 0 {
		usage.LimitBytes = s.limit
	}
	return usage, nil
}
