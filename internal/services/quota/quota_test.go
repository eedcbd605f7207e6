package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
	"github.com/depotlabs/depot/internal/storage/memory"
)

func newTestService(t *testing.T, limit int64) (*Service, interfaces.QuotaRepository) {
	t.Helper()
	logger := common.NewSilentLogger()
	storage, err := memory.NewManager(logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return NewService(storage.QuotaRepository(), limit, logger), storage.QuotaRepository()
}

func TestReserveWithinLimit(t *testing.T) {
	svc, _ := newTestService(t, 100)
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "user-1", 40))
	require.NoError(t, svc.Reserve(ctx, "user-1", 60))

	usage, err := svc.Usage(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), usage.UsedBytes)
	assert.Equal(t, int64(100), usage.LimitBytes)
}

func TestReserveExceedsLimit(t *testing.T) {
	svc, _ := newTestService(t, 100)
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "user-1", 90))

	err := svc.Reserve(ctx, "user-1", 20)
	require.Error(t, err)
	var perm *common.PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "QUOTA_EXCEEDED", perm.Code)
	assert.Equal(t, 403, perm.Status)
	assert.Contains(t, err.Error(), "has exceeded quota")

	// The failed reservation was rolled back.
	usage, uerr := svc.Usage(ctx, "user-1")
	require.NoError(t, uerr)
	assert.Equal(t, int64(90), usage.UsedBytes)
}

func TestReserveNegativeSize(t *testing.T) {
	svc, _ := newTestService(t, 100)

	err := svc.Reserve(context.Background(), "user-1", -1)
	require.Error(t, err)
	assert.True(t, common.IsPermanent(err))
}

func TestRelease(t *testing.T) {
	svc, _ := newTestService(t, 100)
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "user-1", 80))
	require.NoError(t, svc.Release(ctx, "user-1", 30))

	usage, err := svc.Usage(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), usage.UsedBytes)

	// Freed capacity is usable again.
	require.NoError(t, svc.Reserve(ctx, "user-1", 50))

	// Zero and negative releases are no-ops.
	require.NoError(t, svc.Release(ctx, "user-1", 0))
	require.NoError(t, svc.Release(ctx, "user-1", -5))
}

func TestPerUserRecordOverridesDefault(t *testing.T) {
	svc, repo := newTestService(t, 1000)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, &models.QuotaUsage{
		UserID:     "vip",
		LimitBytes: 50,
		UpdatedAt:  time.Now(),
	}))

	require.NoError(t, svc.Reserve(ctx, "vip", 50))
	err := svc.Reserve(ctx, "vip", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded quota")
}

func TestUsageForUnknownUser(t *testing.T) {
	svc, _ := newTestService(t, 200)

	usage, err := svc.Usage(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.UsedBytes)
	assert.Equal(t, int64(200), usage.LimitBytes)
}
