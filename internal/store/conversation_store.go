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

// Conversation statuses understood by the remote platform.
const (
	ConversationStatusOpen     = "open"
	ConversationStatusPending  = "pending"
	ConversationStatusResolved = "resolved"
	ConversationStatusSnoozed  = "snoozed"
)

// IsValidConversationStatus reports whether status is a member of the
// conversation status enum.
func IsValidConversationStatus(status string) bool {
	switch status {
	case ConversationStatusOpen, ConversationStatusPending, ConversationStatusResolved, ConversationStatusSnoozed:
		return true
	default:
		return false
	}
}

// Conversation represents a chat thread mirrored against the remote platform.
type Conversation struct {
	ID                   string     `json:"id"`
	TeamID               string     `json:"team_id"`
	ContactID            *string    `json:"contact_id,omitempty"`
	AccountID            *string    `json:"account_id,omitempty"`
	RemoteConversationID *int64     `json:"remote_conversation_id,omitempty"`
	RemoteContactID      *int64     `json:"remote_contact_id,omitempty"`
	Status               string     `json:"status"`
	AssigneeID           *string    `json:"assignee_id,omitempty"`
	Phone                *string    `json:"phone,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// CreateConversationInput holds the fields accepted on conversation creation.
type CreateConversationInput struct {
	ContactID            *string
	AccountID            *string
	RemoteConversationID *int64
	RemoteContactID      *int64
	Status               string
	AssigneeID           *string
	Phone                *string
}

// ConversationStore provides team-isolated conversation operations.
type ConversationStore struct {
	db *sql.DB
}

const conversationSelectColumns = `
	id,
	team_id,
	contact_id,
	account_id,
	remote_conversation_id,
	remote_contact_id,
	status,
	assignee_id,
	phone,
	created_at,
	updated_at
`

// NewConversationStore creates a new ConversationStore.
func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// GetByID returns one conversation by ID in the current team.
func (s *ConversationStore) GetByID(ctx context.Context, id string) (*Conversation, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conversation, err := scanConversation(conn.QueryRowContext(ctx, `
		SELECT `+conversationSelectColumns+`
		FROM conversations
		WHERE id = $1 AND team_id = $2
	`, strings.TrimSpace(id), middleware.TeamFromContext(ctx)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation by id: %w", err)
	}
	return &conversation, nil
}

// Create inserts a new conversation in the current team.
func (s *ConversationStore) Create(ctx context.Context, input CreateConversationInput) (*Conversation, error) {
	teamID := middleware.TeamFromContext(ctx)
	if teamID == "" {
		return nil, ErrNoTeam
	}

	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = ConversationStatusOpen
	}
	if !IsValidConversationStatus(status) {
		return nil, fmt.Errorf("invalid conversation status: %q", status)
	}

	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conversation, err := scanConversation(conn.QueryRowContext(ctx, `
		INSERT INTO conversations (team_id, contact_id, account_id, remote_conversation_id, remote_contact_id, status, assignee_id, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+conversationSelectColumns,
		teamID,
		input.ContactID,
		input.AccountID,
		input.RemoteConversationID,
		input.RemoteContactID,
		status,
		input.AssigneeID,
		input.Phone,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &conversation, nil
}

// UpdateStatus persists a status change on one conversation.
func (s *ConversationStore) UpdateStatus(ctx context.Context, id, status string) (*Conversation, error) {
	if !IsValidConversationStatus(status) {
		return nil, fmt.Errorf("invalid conversation status: %q", status)
	}

	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conversation, err := scanConversation(conn.QueryRowContext(ctx, `
		UPDATE conversations
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND team_id = $2
		RETURNING `+conversationSelectColumns,
		strings.TrimSpace(id), middleware.TeamFromContext(ctx), status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update conversation status: %w", err)
	}
	return &conversation, nil
}

// UpdateAssignee persists an assignee change on one conversation.
// A nil assignee unassigns the conversation.
func (s *ConversationStore) UpdateAssignee(ctx context.Context, id string, assigneeID *string) (*Conversation, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conversation, err := scanConversation(conn.QueryRowContext(ctx, `
		UPDATE conversations
		SET assignee_id = $3, updated_at = NOW()
		WHERE id = $1 AND team_id = $2
		RETURNING `+conversationSelectColumns,
		strings.TrimSpace(id), middleware.TeamFromContext(ctx), assigneeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update conversation assignee: %w", err)
	}
	return &conversation, nil
}

// FindByPhone locates the team's conversation for a phone number.
// Match order: exact, then "+"-prefixed, then substring; the most
// recently created conversation wins on ties.
func (s *ConversationStore) FindByPhone(ctx context.Context, phone string) (*Conversation, error) {
	normalized := strings.TrimSpace(phone)
	if normalized == "" {
		return nil, fmt.Errorf("phone is required")
	}

	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conversation, err := scanConversation(conn.QueryRowContext(ctx, `
		SELECT `+conversationSelectColumns+`
		FROM conversations
		WHERE team_id = $1
		  AND phone IS NOT NULL
		  AND (phone = $2 OR phone = '+' || $2 OR phone LIKE '%' || $2 || '%')
		ORDER BY (phone = $2) DESC, (phone = '+' || $2) DESC, created_at DESC
		LIMIT 1
	`, middleware.TeamFromContext(ctx), normalized))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find conversation by phone: %w", err)
	}
	return &conversation, nil
}

// RepointRemoteContact moves conversations referencing one remote contact
// onto another, used when platform contacts are merged.
func (s *ConversationStore) RepointRemoteContact(ctx context.Context, accountID string, fromRemoteID, toRemoteID int64) (int64, error) {
	conn, err := WithTeam(ctx, s.db)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `
		UPDATE conversations
		SET remote_contact_id = $4, updated_at = NOW()
		WHERE team_id = $1 AND account_id = $2 AND remote_contact_id = $3
	`, middleware.TeamFromContext(ctx), strings.TrimSpace(accountID), fromRemoteID, toRemoteID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint conversations: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to inspect conversation repoint result: %w", err)
	}
	return rows, nil
}

func scanConversation(scanner interface{ Scan(...any) error }) (Conversation, error) {
	var (
		item                 Conversation
		contactID            sql.NullString
		accountID            sql.NullString
		remoteConversationID sql.NullInt64
		remoteContactID      sql.NullInt64
		assigneeID           sql.NullString
		phone                sql.NullString
	)
	err := scanner.Scan(
		&item.ID,
		&item.TeamID,
		&contactID,
		&accountID,
		&remoteConversationID,
		&remoteContactID,
		&item.Status,
		&assigneeID,
		&phone,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}

	if contactID.Valid {
		item.ContactID = &contactID.String
	}
	if accountID.Valid {
		item.AccountID = &accountID.String
	}
	if remoteConversationID.Valid {
		item.RemoteConversationID = &remoteConversationID.Int64
	}
	if remoteContactID.Valid {
		item.RemoteContactID = &remoteContactID.Int64
	}
	if assigneeID.Valid {
		item.AssigneeID = &assigneeID.String
	}
	if phone.Valid {
		item.Phone = &phone.String
	}
	return item, nil
}
