package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stillwaterhq/stillwater/internal/middleware"
	"github.com/stretchr/testify/require"
)

const testDBURLKey = "STILLWATER_TEST_DATABASE_URL"

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	connStr := os.Getenv(testDBURLKey)
	if connStr == "" {
		t.Skipf("set %s to a dedicated test database", testDBURLKey)
	}
	return connStr
}

func getMigrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	return dir
}

func setupTestDatabase(t *testing.T, connStr string) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	_, err = db.Exec("CREATE EXTENSION IF NOT EXISTS pgcrypto")
	require.NoError(t, err)

	m, err := migrate.New("file://"+getMigrationsDir(t), connStr)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = m.Close()
	})

	err = m.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func createTestTeam(t *testing.T, db *sql.DB, slug string) string {
	t.Helper()
	var id string
	err := db.QueryRow(
		"INSERT INTO teams (name, slug) VALUES ($1, $2) RETURNING id",
		"Team "+slug,
		slug,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func createTestPlatform(t *testing.T, db *sql.DB, kind, baseURL string) string {
	t.Helper()
	var id string
	err := db.QueryRow(
		"INSERT INTO platforms (kind, name, base_url, api_key) VALUES ($1, $2, $3, 'test-key') RETURNING id",
		kind,
		kind+" test",
		baseURL,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func createTestAccount(t *testing.T, db *sql.DB, teamID, platformID string, remoteAccountID int64) string {
	t.Helper()
	var id string
	err := db.QueryRow(
		"INSERT INTO accounts (team_id, platform_id, name, remote_account_id) VALUES ($1, $2, 'Test Account', $3) RETURNING id",
		teamID,
		platformID,
		remoteAccountID,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func ctxWithTeam(teamID string) context.Context {
	return context.WithValue(context.Background(), middleware.TeamIDKey, teamID)
}
