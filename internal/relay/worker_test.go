package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillwaterhq/stillwater/internal/middleware"
	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
)

func setupWorkerTest(t *testing.T) (*store.SyncJobStore, string) {
	t.Helper()
	connStr := os.Getenv("STILLWATER_TEST_DATABASE_URL")
	if connStr == "" {
		t.Skip("set STILLWATER_TEST_DATABASE_URL to a dedicated test database")
	}

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec("CREATE EXTENSION IF NOT EXISTS pgcrypto")
	require.NoError(t, err)

	migrationsDir, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	m, err := migrate.New("file://"+migrationsDir, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = m.Close() })

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	var teamID string
	err = db.QueryRow("INSERT INTO teams (name, slug) VALUES ('Worker Team', 'worker-team') RETURNING id").Scan(&teamID)
	require.NoError(t, err)
	return store.NewSyncJobStore(db), teamID
}

func TestWorkerRunsHandlerWithTeamContext(t *testing.T) {
	jobs, teamID := setupWorkerTest(t)
	ctx := context.Background()

	job, err := jobs.Enqueue(ctx, store.EnqueueSyncJobInput{
		TeamID:  teamID,
		JobType: store.SyncJobTypeContactReconcile,
		Payload: json.RawMessage(`{"contact_id":"c1"}`),
	})
	require.NoError(t, err)

	var handledTeam string
	worker := NewWorker(jobs, map[string]JobHandler{
		store.SyncJobTypeContactReconcile: func(handlerCtx context.Context, handled store.SyncJob) error {
			handledTeam = middleware.TeamFromContext(handlerCtx)
			assert.Equal(t, job.ID, handled.ID)
			return nil
		},
	}, WorkerConfig{})

	claimed, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Equal(t, teamID, handledTeam)

	depth, err := jobs.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth[store.SyncJobTypeContactReconcile])
}

func TestWorkerRetriesFailedJobWithBackoff(t *testing.T) {
	jobs, teamID := setupWorkerTest(t)
	ctx := context.Background()

	_, err := jobs.Enqueue(ctx, store.EnqueueSyncJobInput{
		TeamID:  teamID,
		JobType: store.SyncJobTypeContactReconcile,
	})
	require.NoError(t, err)

	attempts := 0
	worker := NewWorker(jobs, map[string]JobHandler{
		store.SyncJobTypeContactReconcile: func(context.Context, store.SyncJob) error {
			attempts++
			return &platform.APIError{StatusCode: 500, Body: "flaky"}
		},
	}, WorkerConfig{})
	now := time.Now().UTC()
	worker.Now = func() time.Time { return now }

	claimed, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Equal(t, 1, attempts)

	// The job is rescheduled in the future, so an immediate second run
	// claims nothing.
	claimed, err = worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, claimed)

	// Jump past the backoff window and it runs again.
	now = now.Add(time.Hour)
	claimed, err = worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Equal(t, 2, attempts)
}

func TestWorkerUnknownJobTypeGoesDead(t *testing.T) {
	jobs, teamID := setupWorkerTest(t)
	ctx := context.Background()

	_, err := jobs.Enqueue(ctx, store.EnqueueSyncJobInput{
		TeamID:  teamID,
		JobType: store.SyncJobTypeWebhookEvent,
	})
	require.NoError(t, err)

	worker := NewWorker(jobs, map[string]JobHandler{}, WorkerConfig{})

	claimed, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	// Dead jobs never come back.
	claimed, err = worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, claimed)
}
