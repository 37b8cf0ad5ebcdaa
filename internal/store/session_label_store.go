package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stillwaterhq/stillwater/internal/middleware"
)

// SessionLabel binds a remote label ID to a local agent, scoped to one
// account. Used to resolve inbound label webhook events to an assignee.
type SessionLabel struct {
	ID            string    `json:"id"`
	TeamID        string    `json:"team_id"`
	AccountID     string    `json:"account_id"`
	RemoteLabelID int64     `json:"remote_label_id"`
	AgentID       string    `json:"agent_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionLabelStore provides team-isolated session label operations.
type SessionLabelStore struct {
	db *sql.DB
}

const sessionLabelSelectColumns = `
	id,
	team_id,
	account_id,
	remote_label_id,
	agent_id,
	created_at
`

// NewSessionLabelStore creates a new SessionLabelStore.
func NewSessionLabelStore(db *sql.DB) *SessionLabelStore {
	return &SessionLabelStore{db: db}
}

// Create inserts a new session label mapping.
func (s *SessionLabelStore) Create(ctx context.Context, accountID string, remoteLabelID int64, agentID string) (*SessionLabel, error) {
	teamID := middleware.TeamFromContext(ctx)
	if teamID == "" {
		return nil, ErrNoTeam
	}

	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	mapping, err := scanSessionLabel(conn.QueryRowContext(ctx, `
		INSERT INTO session_labels (team_id, account_id, remote_label_id, agent_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+sessionLabelSelectColumns,
		teamID, strings.TrimSpace(accountID), remoteLabelID, strings.TrimSpace(agentID)))
	if err != nil {
		return nil, fmt.Errorf("failed to create session label: %w", err)
	}
	return &mapping, nil
}

// FindByRemoteLabel resolves a remote label ID to its mapping for one
// account. Returns ErrNotFound when the label carries no agent mapping.
func (s *SessionLabelStore) FindByRemoteLabel(ctx context.Context, accountID string, remoteLabelID int64) (*SessionLabel, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	mapping, err := scanSessionLabel(conn.QueryRowContext(ctx, `
		SELECT `+sessionLabelSelectColumns+`
		FROM session_labels
		WHERE team_id = $1 AND account_id = $2 AND remote_label_id = $3
	`, middleware.TeamFromContext(ctx), strings.TrimSpace(accountID), remoteLabelID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find session label: %w", err)
	}
	return &mapping, nil
}

// ListByAccount returns all session label mappings for one account.
func (s *SessionLabelStore) ListByAccount(ctx context.Context, accountID string) ([]SessionLabel, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT `+sessionLabelSelectColumns+`
		FROM session_labels
		WHERE team_id = $1 AND account_id = $2
		ORDER BY remote_label_id
	`, middleware.TeamFromContext(ctx), strings.TrimSpace(accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to list session labels: %w", err)
	}
	defer rows.Close()

	mappings := make([]SessionLabel, 0)
	for rows.Next() {
		mapping, scanErr := scanSessionLabel(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan session label: %w", scanErr)
		}
		mappings = append(mappings, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session labels: %w", err)
	}
	return mappings, nil
}

// Delete removes a session label mapping.
func (s *SessionLabelStore) Delete(ctx context.Context, id string) error {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		DELETE FROM session_labels
		WHERE id = $1 AND team_id = $2
	`, strings.TrimSpace(id), middleware.TeamFromContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to delete session label: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to inspect session label delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSessionLabel(scanner interface{ Scan(...any) error }) (SessionLabel, error) {
	var item SessionLabel
	err := scanner.Scan(
		&item.ID,
		&item.TeamID,
		&item.AccountID,
		&item.RemoteLabelID,
		&item.AgentID,
		&item.CreatedAt,
	)
	return item, err
}
