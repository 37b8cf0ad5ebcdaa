// Package store provides database access with row-level team isolation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/stillwaterhq/stillwater/internal/middleware"
)

var (
	// ErrNoTeam is returned when a team ID is required but not present.
	ErrNoTeam = errors.New("team ID not found in context")
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrForbidden is returned when access to an entity is denied.
	ErrForbidden = errors.New("access denied")
)

// WithTeam sets the app.team_id session variable for RLS policies.
// This must be called before any query that uses RLS-protected tables.
func WithTeam(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	teamID := middleware.TeamFromContext(ctx)
	if teamID == "" {
		return nil, ErrNoTeam
	}

	return WithTeamID(ctx, db, teamID)
}

// WithTeamID sets the app.team_id session variable for RLS policies
// using an explicit team ID instead of extracting from context.
// Useful for webhook ingestion and job-driven paths.
func WithTeamID(ctx context.Context, db *sql.DB, teamID string) (*sql.Conn, error) {
	if teamID == "" {
		return nil, ErrNoTeam
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	_, err = conn.ExecContext(ctx, "SELECT set_config('app.team_id', $1, false)", teamID)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set team: %w", err)
	}

	return conn, nil
}

// WithTeamTx starts a transaction with the team context set.
// The caller must commit or rollback the transaction.
func WithTeamTx(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	teamID := middleware.TeamFromContext(ctx)
	if teamID == "" {
		return nil, ErrNoTeam
	}

	return WithTeamIDTx(ctx, db, teamID)
}

// WithTeamIDTx starts a transaction with an explicit team ID set.
func WithTeamIDTx(ctx context.Context, db *sql.DB, teamID string) (*sql.Tx, error) {
	if teamID == "" {
		return nil, ErrNoTeam
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, "SELECT set_config('app.team_id', $1, true)", teamID)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to set team: %w", err)
	}

	return tx, nil
}

// ContextWithTeam returns a context carrying the given team ID, for
// service-internal paths that bypass the HTTP middleware.
func ContextWithTeam(ctx context.Context, teamID string) context.Context {
	return context.WithValue(ctx, middleware.TeamIDKey, teamID)
}

func normalizeOptionalString(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	normalized := strings.TrimSpace(*value)
	if normalized == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}
	return &normalized, nil
}
