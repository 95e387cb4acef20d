package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/core"
)

// mockReaperRepo is a simple mock implementation for testing.
type mockReaperRepo struct {
	requeueStaleCalled int
	requeueStaleCount  int64
	requeueStaleError  error

	expireOldJobsCalled int
	expireOldJobsCount  int64
	expireArtifactKeys  []string
	expireOldJobsError  error

	purgeExpiredCalled int
	purgeExpiredCount  int64
	purgeExpiredError  error
}

func (m *mockReaperRepo) RequeueStale(
	_ context.Context,
	_ core.RequeueStaleParams,
) (int64, error) {
	m.requeueStaleCalled++
	if m.requeueStaleError != nil {
		return 0, m.requeueStaleError
	}
	// Return count on first call, then 0 to simulate batch exhaustion
	if m.requeueStaleCalled == 1 {
		return m.requeueStaleCount, nil
	}
	return 0, nil
}

func (m *mockReaperRepo) ExpireOldJobs(
	_ context.Context,
	_ core.ExpireOldJobsParams,
) (int64, []string, error) {
	m.expireOldJobsCalled++
	if m.expireOldJobsError != nil {
		return 0, nil, m.expireOldJobsError
	}
	if m.expireOldJobsCalled == 1 {
		count := m.expireOldJobsCount
		if count == 0 {
			count = int64(len(m.expireArtifactKeys))
		}
		return count, m.expireArtifactKeys, nil
	}
	return 0, nil, nil
}

func (m *mockReaperRepo) PurgeExpired(
	_ context.Context,
	_ time.Duration,
	_ int,
) (int64, error) {
	m.purgeExpiredCalled++
	if m.purgeExpiredError != nil {
		return 0, m.purgeExpiredError
	}
	if m.purgeExpiredCalled == 1 {
		return m.purgeExpiredCount, nil
	}
	return 0, nil
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:    time.Minute,
		Retention:   168 * time.Hour,
		PurgeMaxAge: 720 * time.Hour,
		BatchSize:   1000,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})

		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{
			Repo:   nil,
			Config: testReaperConfig(),
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "ReaperRepository is required")
	})
}

func TestReaperService_runCleanup(t *testing.T) {
	t.Run("runs all cleanup operations successfully", func(t *testing.T) {
		repo := &mockReaperRepo{
			requeueStaleCount:  3,
			expireArtifactKeys: []string{"artifacts/a.pdf", "artifacts/b.pdf"},
			purgeExpiredCount:  7,
		}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())
		require.NoError(t, err)

		// Each operation loops until an empty batch.
		assert.Equal(t, 2, repo.requeueStaleCalled)
		assert.Equal(t, 2, repo.expireOldJobsCalled)
		assert.Equal(t, 2, repo.purgeExpiredCalled)
	})

	t.Run("reclaims expired artifacts from storage", func(t *testing.T) {
		repo := &mockReaperRepo{
			expireArtifactKeys: []string{"artifacts/a.pdf", "", "artifacts/b.pdf"},
		}
		store := &mockObjectStore{objects: map[string][]byte{
			"artifacts/a.pdf": []byte("%PDF"),
			"artifacts/b.pdf": []byte("%PDF"),
		}}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Store:  store,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())
		require.NoError(t, err)

		// Empty keys are skipped; real keys are deleted.
		assert.Equal(t, []string{"artifacts/a.pdf", "artifacts/b.pdf"}, store.deletes)
	})

	t.Run("counts expired batches that held no artifacts", func(t *testing.T) {
		repo := &mockReaperRepo{expireOldJobsCount: 5}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		count, err := svc.expireOldJobs(context.Background())
		require.NoError(t, err)

		// A full batch of artifact-less rows must be counted and must not
		// end the sweep early.
		assert.Equal(t, int64(5), count)
		assert.Equal(t, 2, repo.expireOldJobsCalled)
	})

	t.Run("aggregates step errors and keeps going", func(t *testing.T) {
		repo := &mockReaperRepo{
			requeueStaleError: errors.New("deadlock detected"),
			purgeExpiredCount: 4,
		}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requeue stale jobs")

		// Later steps still ran despite the earlier failure.
		assert.Equal(t, 2, repo.expireOldJobsCalled)
		assert.Equal(t, 2, repo.purgeExpiredCalled)
	})

	t.Run("returns context.Canceled when every step was cancelled", func(t *testing.T) {
		repo := &mockReaperRepo{
			requeueStaleError:  context.Canceled,
			expireOldJobsError: context.Canceled,
			purgeExpiredError:  context.Canceled,
		}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops gracefully on context cancel", func(t *testing.T) {
		cfg := testReaperConfig()
		cfg.Interval = 10 * time.Millisecond

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: cfg,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("reaper did not stop after cancel")
		}
	})
}
