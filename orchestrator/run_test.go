package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyujaq/hearth/internal/health"
)

type stubChecker struct {
	name    string
	healthy bool
}

func (s *stubChecker) Name() string                         { return s.name }
func (s *stubChecker) IsHealthy() bool                      { return s.healthy }
func (s *stubChecker) Start(context.Context, time.Duration) {}

func TestStartupHealthTimeout(t *testing.T) {
	assert.Equal(t, 60*time.Second, startupHealthTimeout(10*time.Second))
	assert.Equal(t, 60*time.Second, startupHealthTimeout(30*time.Second))
	assert.Equal(t, 90*time.Second, startupHealthTimeout(45*time.Second))
}

func TestWaitUntilHealthyReturnsOnceHealthy(t *testing.T) {
	svc := health.NewServiceChecker(zerolog.Nop(), &stubChecker{name: "store", healthy: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- waitUntilHealthy(ctx, 10*time.Second, svc) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("startup gate did not open for a healthy service")
	}
}

func TestWaitUntilHealthyAbortsOnShutdown(t *testing.T) {
	svc := health.NewServiceChecker(zerolog.Nop(), &stubChecker{name: "store"})
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- waitUntilHealthy(ctx, 10*time.Second, svc) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("startup gate did not abort on cancellation")
	}
}
