package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/stillwaterhq/stillwater/internal/middleware"
)

const defaultLabelColor = "#6b7280"

// Label sync statuses.
const (
	LabelSyncPending = "pending"
	LabelSyncSynced  = "synced"
	LabelSyncError   = "error"
)

var labelNameStrip = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SanitizeLabelName reduces a label name to the character set the remote
// platform accepts: alphanumeric plus hyphen and underscore. Runs of other
// characters collapse to a single hyphen.
func SanitizeLabelName(name string) string {
	sanitized := labelNameStrip.ReplaceAllString(strings.TrimSpace(name), "-")
	return strings.Trim(sanitized, "-")
}

// Label represents a tag synced 1:1 with a remote platform label.
type Label struct {
	ID            string    `json:"id"`
	TeamID        string    `json:"team_id"`
	AccountID     *string   `json:"account_id,omitempty"`
	Name          string    `json:"name"`
	Color         string    `json:"color"`
	RemoteLabelID *int64    `json:"remote_label_id,omitempty"`
	SyncStatus    string    `json:"sync_status"`
	LastSyncError *string   `json:"last_sync_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// LabelStore provides team-isolated label CRUD and sync bookkeeping.
type LabelStore struct {
	db *sql.DB
}

const labelSelectColumns = `
	id,
	team_id,
	account_id,
	name,
	color,
	remote_label_id,
	sync_status,
	last_sync_error,
	created_at
`

// NewLabelStore creates a new LabelStore.
func NewLabelStore(db *sql.DB) *LabelStore {
	return &LabelStore{db: db}
}

// List returns all labels in the current team.
func (s *LabelStore) List(ctx context.Context) ([]Label, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT `+labelSelectColumns+`
		FROM labels
		WHERE team_id = $1
		ORDER BY lower(name), id
	`, middleware.TeamFromContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer rows.Close()

	labels := make([]Label, 0)
	for rows.Next() {
		label, scanErr := scanLabel(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan label: %w", scanErr)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}

// GetByID returns one label by ID in the current team.
func (s *LabelStore) GetByID(ctx context.Context, id string) (*Label, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	label, err := scanLabel(conn.QueryRowContext(ctx, `
		SELECT `+labelSelectColumns+`
		FROM labels
		WHERE id = $1 AND team_id = $2
	`, strings.TrimSpace(id), middleware.TeamFromContext(ctx)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get label by id: %w", err)
	}
	return &label, nil
}

// GetByName returns one label by exact (sanitized) name in the current team.
func (s *LabelStore) GetByName(ctx context.Context, name string) (*Label, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	label, err := scanLabel(conn.QueryRowContext(ctx, `
		SELECT `+labelSelectColumns+`
		FROM labels
		WHERE team_id = $1 AND name = $2
	`, middleware.TeamFromContext(ctx), SanitizeLabelName(name)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get label by name: %w", err)
	}
	return &label, nil
}

// Create inserts a new label in the current team. The name is sanitized to
// the remote platform's naming constraints before persisting.
func (s *LabelStore) Create(ctx context.Context, name, color string, accountID *string) (*Label, error) {
	teamID := middleware.TeamFromContext(ctx)
	if teamID == "" {
		return nil, ErrNoTeam
	}

	sanitizedName := SanitizeLabelName(name)
	if sanitizedName == "" {
		return nil, fmt.Errorf("label name is required")
	}
	normalizedColor := strings.TrimSpace(color)
	if normalizedColor == "" {
		normalizedColor = defaultLabelColor
	}

	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	label, err := scanLabel(conn.QueryRowContext(ctx, `
		INSERT INTO labels (team_id, account_id, name, color)
		VALUES ($1, $2, $3, $4)
		RETURNING `+labelSelectColumns, teamID, accountID, sanitizedName, normalizedColor))
	if err != nil {
		return nil, fmt.Errorf("failed to create label: %w", err)
	}
	return &label, nil
}

// EnsureByName returns an existing label or creates it if missing.
func (s *LabelStore) EnsureByName(ctx context.Context, name, defaultColor string, accountID *string) (*Label, error) {
	existing, err := s.GetByName(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created, createErr := s.Create(ctx, name, defaultColor, accountID)
	if createErr == nil {
		return created, nil
	}

	var pqErr *pq.Error
	if errors.As(createErr, &pqErr) && string(pqErr.Code) == "23505" {
		return s.GetByName(ctx, name)
	}
	return nil, createErr
}

// MarkSynced records the remote label ID after a successful push.
func (s *LabelStore) MarkSynced(ctx context.Context, id string, remoteLabelID int64) error {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		UPDATE labels
		SET remote_label_id = $3, sync_status = $4, last_sync_error = NULL
		WHERE id = $1 AND team_id = $2
	`, strings.TrimSpace(id), middleware.TeamFromContext(ctx), remoteLabelID, LabelSyncSynced)
	if err != nil {
		return fmt.Errorf("failed to mark label synced: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to inspect label sync result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSyncError records a failed remote push for a label.
func (s *LabelStore) MarkSyncError(ctx context.Context, id, syncError string) error {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		UPDATE labels
		SET sync_status = $3, last_sync_error = $4
		WHERE id = $1 AND team_id = $2
	`, strings.TrimSpace(id), middleware.TeamFromContext(ctx), LabelSyncError, strings.TrimSpace(syncError))
	if err != nil {
		return fmt.Errorf("failed to mark label sync error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to inspect label error result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a label from the current team.
func (s *LabelStore) Delete(ctx context.Context, id string) error {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		DELETE FROM labels
		WHERE id = $1 AND team_id = $2
	`, strings.TrimSpace(id), middleware.TeamFromContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to delete label: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to inspect label delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanLabel(scanner interface{ Scan(...any) error }) (Label, error) {
	var (
		item          Label
		accountID     sql.NullString
		remoteLabelID sql.NullInt64
		lastSyncError sql.NullString
	)
	err := scanner.Scan(
		&item.ID,
		&item.TeamID,
		&accountID,
		&item.Name,
		&item.Color,
		&remoteLabelID,
		&item.SyncStatus,
		&lastSyncError,
		&item.CreatedAt,
	)
	if err != nil {
		return item, err
	}
	if accountID.Valid {
		item.AccountID = &accountID.String
	}
	if remoteLabelID.Valid {
		item.RemoteLabelID = &remoteLabelID.Int64
	}
	if lastSyncError.Valid {
		item.LastSyncError = &lastSyncError.String
	}
	return item, nil
}
