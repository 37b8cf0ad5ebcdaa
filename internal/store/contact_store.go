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

// Platform contact sync statuses.
const (
	PlatformContactStatusSynced = "synced"
	PlatformContactStatusMerged = "merged"
	PlatformContactStatusError  = "error"
)

// Contact is a person record that may have platform-specific shadow rows.
type Contact struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	Name      string    `json:"name"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlatformContact is the remote platform's view of a local contact,
// one row per external account.
type PlatformContact struct {
	ID              string    `json:"id"`
	ContactID       string    `json:"contact_id"`
	AccountID       string    `json:"account_id"`
	RemoteContactID int64     `json:"remote_contact_id"`
	SyncStatus      string    `json:"sync_status"`
	MergedInto      *int64    `json:"merged_into,omitempty"`
	LastSyncError   *string   `json:"last_sync_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ContactStore provides team-isolated contact and shadow-record operations.
type ContactStore struct {
	db *sql.DB
}

const contactSelectColumns = `
	id,
	team_id,
	name,
	phone,
	created_at,
	updated_at
`

const platformContactSelectColumns = `
	id,
	contact_id,
	account_id,
	remote_contact_id,
	sync_status,
	merged_into,
	last_sync_error,
	created_at,
	updated_at
`

// NewContactStore creates a new ContactStore.
func NewContactStore(db *sql.DB) *ContactStore {
	return &ContactStore{db: db}
}

// GetByID returns one contact by ID in the current team.
func (s *ContactStore) GetByID(ctx context.Context, id string) (*Contact, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	contact, err := scanContact(conn.QueryRowContext(ctx, `
		SELECT `+contactSelectColumns+`
		FROM contacts
		WHERE id = $1 AND team_id = $2
	`, strings.TrimSpace(id), middleware.TeamFromContext(ctx)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contact by id: %w", err)
	}
	return &contact, nil
}

// Create inserts a new contact in the current team.
func (s *ContactStore) Create(ctx context.Context, name string, phone *string) (*Contact, error) {
	teamID := middleware.TeamFromContext(ctx)
	if teamID == "" {
		return nil, ErrNoTeam
	}

	normalizedName := strings.TrimSpace(name)
	if normalizedName == "" {
		return nil, fmt.Errorf("contact name is required")
	}

	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	contact, err := scanContact(conn.QueryRowContext(ctx, `
		INSERT INTO contacts (team_id, name, phone)
		VALUES ($1, $2, $3)
		RETURNING `+contactSelectColumns, teamID, normalizedName, phone))
	if err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}
	return &contact, nil
}

// Update patches name/phone on an existing contact.
func (s *ContactStore) Update(ctx context.Context, id string, name *string, phone *string) (*Contact, error) {
	normalizedName, err := normalizeOptionalString(name)
	if err != nil {
		return nil, err
	}

	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	contact, err := scanContact(conn.QueryRowContext(ctx, `
		UPDATE contacts
		SET
			name = COALESCE($3, name),
			phone = COALESCE($4, phone),
			updated_at = NOW()
		WHERE id = $1 AND team_id = $2
		RETURNING `+contactSelectColumns,
		strings.TrimSpace(id), middleware.TeamFromContext(ctx), normalizedName, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update contact: %w", err)
	}
	return &contact, nil
}

// AddPlatformContact inserts a shadow record for one contact and account.
func (s *ContactStore) AddPlatformContact(ctx context.Context, contactID, accountID string, remoteContactID int64) (*PlatformContact, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	shadow, err := scanPlatformContact(conn.QueryRowContext(ctx, `
		INSERT INTO platform_contacts (contact_id, account_id, remote_contact_id)
		VALUES ($1, $2, $3)
		RETURNING `+platformContactSelectColumns,
		strings.TrimSpace(contactID), strings.TrimSpace(accountID), remoteContactID))
	if err != nil {
		return nil, fmt.Errorf("failed to add platform contact: %w", err)
	}
	return &shadow, nil
}

// ListActivePlatformContacts returns all non-merged shadow records for a contact.
func (s *ContactStore) ListActivePlatformContacts(ctx context.Context, contactID string) ([]PlatformContact, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT `+platformContactSelectColumns+`
		FROM platform_contacts
		WHERE contact_id = $1 AND sync_status != $2
		ORDER BY account_id, remote_contact_id
	`, strings.TrimSpace(contactID), PlatformContactStatusMerged)
	if err != nil {
		return nil, fmt.Errorf("failed to list platform contacts: %w", err)
	}
	defer rows.Close()

	shadows := make([]PlatformContact, 0)
	for rows.Next() {
		shadow, scanErr := scanPlatformContact(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan platform contact: %w", scanErr)
		}
		shadows = append(shadows, shadow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read platform contacts: %w", err)
	}
	return shadows, nil
}

// MarkPlatformContactMerged marks one shadow record as merged into a
// surviving remote contact.
func (s *ContactStore) MarkPlatformContactMerged(ctx context.Context, id string, mergedInto int64) error {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		UPDATE platform_contacts
		SET sync_status = $2, merged_into = $3, last_sync_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, strings.TrimSpace(id), PlatformContactStatusMerged, mergedInto)
	if err != nil {
		return fmt.Errorf("failed to mark platform contact merged: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to inspect merge result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPlatformContactError records a sync failure on one shadow record,
// leaving it eligible for a later reconciliation pass.
func (s *ContactStore) MarkPlatformContactError(ctx context.Context, id, syncError string) error {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		UPDATE platform_contacts
		SET sync_status = $2, last_sync_error = $3, updated_at = NOW()
		WHERE id = $1
	`, strings.TrimSpace(id), PlatformContactStatusError, strings.TrimSpace(syncError))
	if err != nil {
		return fmt.Errorf("failed to mark platform contact error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to inspect error-mark result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RepointContactInboxes moves contact_inboxes rows from one remote contact
// onto another. Rows whose equivalent already exists under the survivor are
// deleted instead of creating a conflicting duplicate.
func (s *ContactStore) RepointContactInboxes(ctx context.Context, accountID string, fromRemoteID, toRemoteID int64) error {
	tx, err := WithTeamTx(ctx, s.db)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM contact_inboxes ci
		WHERE ci.account_id = $1
		  AND ci.remote_contact_id = $2
		  AND EXISTS (
			SELECT 1
			FROM contact_inboxes survivor
			WHERE survivor.account_id = ci.account_id
			  AND survivor.remote_contact_id = $3
			  AND survivor.remote_inbox_id = ci.remote_inbox_id
		  )
	`, strings.TrimSpace(accountID), fromRemoteID, toRemoteID)
	if err != nil {
		return fmt.Errorf("failed to drop duplicate contact inboxes: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE contact_inboxes
		SET remote_contact_id = $3
		WHERE account_id = $1 AND remote_contact_id = $2
	`, strings.TrimSpace(accountID), fromRemoteID, toRemoteID)
	if err != nil {
		return fmt.Errorf("failed to repoint contact inboxes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact inbox repoint: %w", err)
	}
	return nil
}

// AddContactInbox inserts a contact inbox row for one account.
func (s *ContactStore) AddContactInbox(ctx context.Context, accountID string, remoteContactID, remoteInboxID int64, sourceID *string) error {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO contact_inboxes (account_id, remote_contact_id, remote_inbox_id, source_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, remote_contact_id, remote_inbox_id) DO NOTHING
	`, strings.TrimSpace(accountID), remoteContactID, remoteInboxID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to add contact inbox: %w", err)
	}
	return nil
}

// CountContactInboxes returns the number of inbox rows for one remote contact.
func (s *ContactStore) CountContactInboxes(ctx context.Context, accountID string, remoteContactID int64) (int, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var count int
	err = conn.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM contact_inboxes
		WHERE account_id = $1 AND remote_contact_id = $2
	`, strings.TrimSpace(accountID), remoteContactID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count contact inboxes: %w", err)
	}
	return count, nil
}

// ListRemoteInboxIDs returns the distinct remote inbox ids referenced by
// an account's contact inbox rows.
func (s *ContactStore) ListRemoteInboxIDs(ctx context.Context, accountID string) ([]int64, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT DISTINCT remote_inbox_id
		FROM contact_inboxes
		WHERE account_id = $1
		ORDER BY remote_inbox_id
	`, strings.TrimSpace(accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to list remote inbox ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan remote inbox id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanContact(scanner interface{ Scan(...any) error }) (Contact, error) {
	var (
		item  Contact
		phone sql.NullString
	)
	err := scanner.Scan(
		&item.ID,
		&item.TeamID,
		&item.Name,
		&phone,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}
	if phone.Valid {
		item.Phone = &phone.String
	}
	return item, nil
}

func scanPlatformContact(scanner interface{ Scan(...any) error }) (PlatformContact, error) {
	var (
		item          PlatformContact
		mergedInto    sql.NullInt64
		lastSyncError sql.NullString
	)
	err := scanner.Scan(
		&item.ID,
		&item.ContactID,
		&item.AccountID,
		&item.RemoteContactID,
		&item.SyncStatus,
		&mergedInto,
		&lastSyncError,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}
	if mergedInto.Valid {
		item.MergedInto = &mergedInto.Int64
	}
	if lastSyncError.Valid {
		item.LastSyncError = &lastSyncError.String
	}
	return item, nil
}
