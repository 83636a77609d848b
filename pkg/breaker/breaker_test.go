package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errDown = errors.New("dependency down")

func failing(ctx context.Context) error { return errDown }
func succeeding(ctx context.Context) error { return nil }

// newTestBreaker 返回使用可拨动时钟的熔断器。
func newTestBreaker(cfg Config) (*CircuitBreaker, *time.Time) {
	cb := New("ledger", cfg)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func cfg() Config {
	return Config{FailureThreshold: 3, Window: time.Minute, Cooldown: 30 * time.Second}
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker(cfg())

	for i := 0; i < 3; i++ {
		require.Equal(t, StateClosed, cb.State())
		require.ErrorIs(t, cb.Call(ctx, failing), errDown)
	}
	require.Equal(t, StateOpen, cb.State())

	// 打开后调用被短路，底层不再被触达。
	invoked := false
	err := cb.Call(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrServiceUnavailable)
	require.False(t, invoked)
}

func TestFailuresOutsideWindowAreDiscarded(t *testing.T) {
	ctx := context.Background()
	cb, now := newTestBreaker(cfg())

	require.ErrorIs(t, cb.Call(ctx, failing), errDown)
	require.ErrorIs(t, cb.Call(ctx, failing), errDown)

	// 窗口滑过之前的失败，第三次失败不足以打开。
	*now = now.Add(2 * time.Minute)
	require.ErrorIs(t, cb.Call(ctx, failing), errDown)
	require.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	ctx := context.Background()
	cb, now := newTestBreaker(cfg())

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Call(ctx, failing), errDown)
	}
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(30 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	// 探测在途时其余调用仍被短路。
	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- cb.Call(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()
	<-probeStarted

	err := cb.Call(ctx, succeeding)
	require.ErrorIs(t, err, ErrServiceUnavailable)

	close(probeRelease)
	require.NoError(t, <-probeDone)
	require.Equal(t, StateClosed, cb.State())
}

func TestProbeSuccessClosesBreaker(t *testing.T) {
	ctx := context.Background()
	cb, now := newTestBreaker(cfg())

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Call(ctx, failing), errDown)
	}
	*now = now.Add(30 * time.Second)

	require.NoError(t, cb.Call(ctx, succeeding))
	require.Equal(t, StateClosed, cb.State())

	// 失败计数已清零，单次失败不会立刻再打开。
	require.ErrorIs(t, cb.Call(ctx, failing), errDown)
	require.Equal(t, StateClosed, cb.State())
}

func TestProbeFailureReopensBreaker(t *testing.T) {
	ctx := context.Background()
	cb, now := newTestBreaker(cfg())

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Call(ctx, failing), errDown)
	}
	*now = now.Add(30 * time.Second)

	require.ErrorIs(t, cb.Call(ctx, failing), errDown)
	require.Equal(t, StateOpen, cb.State())

	// 冷却重新计时：刚失败完不放行。
	require.ErrorIs(t, cb.Call(ctx, succeeding), ErrServiceUnavailable)

	*now = now.Add(30 * time.Second)
	require.NoError(t, cb.Call(ctx, succeeding))
	require.Equal(t, StateClosed, cb.State())
}

func TestRegistryIsolatesServices(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := NewRegistry(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute}, logger)

	require.ErrorIs(t, registry.Call(ctx, "ledger", failing), errDown)
	require.ErrorIs(t, registry.Call(ctx, "ledger", succeeding), ErrServiceUnavailable)

	// 其他依赖不受影响。
	require.NoError(t, registry.Call(ctx, "oracle", succeeding))
	require.Same(t, registry.Get("ledger"), registry.Get("ledger"))
}
