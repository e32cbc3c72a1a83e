package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{Retries: 1, Delay: 30 * time.Second}
	transient := errors.New("connection reset")

	require.False(t, p.ShouldRetry(nil, 0))
	require.True(t, p.ShouldRetry(transient, 0))
	require.False(t, p.ShouldRetry(transient, 1))
	require.False(t, p.ShouldRetry(fmt.Errorf("wrap: %w", context.Canceled), 0))
	require.False(t, p.ShouldRetry(&etl.MalformedRecordError{Field: "date"}, 0))
	require.False(t, p.ShouldRetry(fmt.Errorf("report: %w", etl.ErrInvalidReport), 0))
	require.True(t, p.ShouldRetry(fmt.Errorf("extract: %w", etl.ErrFirstPageFailed), 0))

	require.Equal(t, 30*time.Second, p.Backoff(0))
	require.Zero(t, RetryPolicy{Delay: -time.Second}.Backoff(0))
	require.False(t, RetryPolicy{}.ShouldRetry(transient, 0))
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
	require.NoError(t, sleepContext(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
