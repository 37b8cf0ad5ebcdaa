package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/stillwaterhq/stillwater/internal/middleware"
)

// User roles.
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

// User is an agent or administrator who can hold conversation assignments.
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	RemoteAgentID *int64    `json:"remote_agent_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserStore provides user and team-membership lookups.
type UserStore struct {
	db *sql.DB
}

const userSelectColumns = `
	id,
	name,
	email,
	role,
	remote_agent_id,
	created_at,
	updated_at
`

// NewUserStore creates a new UserStore.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a user and attaches them to the given teams.
func (s *UserStore) Create(ctx context.Context, name, email, role string, remoteAgentID *int64, teamIDs []string) (*User, error) {
	if role == "" {
		role = RoleAgent
	}
	if role != RoleAdmin && role != RoleAgent {
		return nil, fmt.Errorf("invalid role: %q", role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	user, err := scanUser(tx.QueryRowContext(ctx, `
		INSERT INTO users (name, email, role, remote_agent_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userSelectColumns,
		strings.TrimSpace(name), strings.TrimSpace(email), role, remoteAgentID))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	for _, teamID := range teamIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_teams (user_id, team_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, user.ID, strings.TrimSpace(teamID)); err != nil {
			return nil, fmt.Errorf("failed to attach user to team: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user creation: %w", err)
	}
	return &user, nil
}

// GetByID returns one user by ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userSelectColumns+`
		FROM users
		WHERE id = $1
	`, strings.TrimSpace(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

// IsMemberOfTeam reports whether the user belongs to the given team.
func (s *UserStore) IsMemberOfTeam(ctx context.Context, userID, teamID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_teams
			WHERE user_id = $1 AND team_id = $2
		)
	`, strings.TrimSpace(userID), strings.TrimSpace(teamID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return exists, nil
}

// ListTeamAgents returns all users who are members of the current team.
func (s *UserStore) ListTeamAgents(ctx context.Context) ([]User, error) {
	teamID := middleware.TeamFromContext(ctx)
	if teamID == "" {
		return nil, ErrNoTeam
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userSelectColumns+`
		FROM users u
		INNER JOIN user_teams ut ON ut.user_id = u.id
		WHERE ut.team_id = $1
		ORDER BY lower(u.name), u.id
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team agents: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, scanErr := scanUser(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan user: %w", scanErr)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read team agents: %w", err)
	}
	return users, nil
}

// MapByIDs returns users keyed by ID for the given ID set.
func (s *UserStore) MapByIDs(ctx context.Context, ids []string) (map[string]User, error) {
	result := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userSelectColumns+`
		FROM users
		WHERE id = ANY($1::uuid[])
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to map users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, scanErr := scanUser(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan user map row: %w", scanErr)
		}
		result[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user map rows: %w", err)
	}
	return result, nil
}

func scanUser(scanner interface{ Scan(...any) error }) (User, error) {
	var (
		item          User
		remoteAgentID sql.NullInt64
	)
	err := scanner.Scan(
		&item.ID,
		&item.Name,
		&item.Email,
		&item.Role,
		&remoteAgentID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}
	if remoteAgentID.Valid {
		item.RemoteAgentID = &remoteAgentID.Int64
	}
	return item, nil
}
