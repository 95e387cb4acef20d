package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/domain/model"
	"github.com/ticketpress/ticketpress/internal/testutil"
)

func TestExpireOldJobs(t *testing.T) {
	t.Run("expires unclaimed queued jobs past retention", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			ctx := context.Background()
			// A clock two days ahead makes a freshly inserted queued job
			// older than a one-day retention window.
			tp := NewFixedTimeProvider(time.Now().Add(48 * time.Hour))
			repo := NewJobRepo(db, RepoConfig{TimeProvider: tp})

			created, err := repo.Create(ctx, testutil.CreateParams(testutil.NewSpec().Build(), ""))
			require.NoError(t, err)

			count, keys, err := repo.ExpireOldJobs(ctx, core.ExpireOldJobsParams{
				Retention: 24 * time.Hour,
				BatchSize: 10,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
			assert.Empty(t, keys, "queued jobs hold no artifacts")

			job, err := repo.GetByID(ctx, created.ID.String())
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusExpired, job.Status)
		})
	})

	t.Run("leaves queued jobs inside retention alone", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			ctx := context.Background()
			repo := NewJobRepo(db, RepoConfig{})

			_, err := repo.Create(ctx, testutil.CreateParams(testutil.NewSpec().Build(), ""))
			require.NoError(t, err)

			count, _, err := repo.ExpireOldJobs(ctx, core.ExpireOldJobsParams{
				Retention: 24 * time.Hour,
				BatchSize: 10,
			})
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	})

	t.Run("counts terminal rows without artifacts", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			ctx := context.Background()
			tp := NewFixedTimeProvider(time.Now().Add(48 * time.Hour))
			repo := NewJobRepo(db, RepoConfig{TimeProvider: tp})

			created, err := repo.Create(ctx, testutil.CreateParams(testutil.NewSpec().Build(), ""))
			require.NoError(t, err)
			claimed, err := repo.ReserveNext(ctx, 60)
			require.NoError(t, err)
			require.Equal(t, created.ID, claimed.ID)
			ok, err := repo.Fail(ctx, testutil.TerminalFailParams(created.ID.String(), "render exploded"))
			require.NoError(t, err)
			require.True(t, ok)

			count, keys, err := repo.ExpireOldJobs(ctx, core.ExpireOldJobsParams{
				Retention: 24 * time.Hour,
				BatchSize: 10,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
			assert.Empty(t, keys)
		})
	})
}
