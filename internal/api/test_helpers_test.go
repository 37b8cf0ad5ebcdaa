package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/stillwaterhq/stillwater/internal/middleware"
)

func setupAPITest(t *testing.T) (*sql.DB, string) {
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
	err = db.QueryRow("INSERT INTO teams (name, slug) VALUES ('API Team', 'api-team') RETURNING id").Scan(&teamID)
	require.NoError(t, err)
	return db, teamID
}

// withIdentity injects team and user context the way RequireTeam does,
// so handlers can be exercised without crafting JWTs.
func withIdentity(r *http.Request, teamID, userID string) *http.Request {
	ctx := r.Context()
	if teamID != "" {
		ctx = context.WithValue(ctx, middleware.TeamIDKey, teamID)
	}
	if userID != "" {
		ctx = context.WithValue(ctx, middleware.UserIDKey, userID)
	}
	return r.WithContext(ctx)
}
