// Package relay reconciles local conversation and contact state against
// the remote messaging platform.
package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/acl"
	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
)

// ErrInvalidStatus is returned when a status transition names a value
// outside the conversation status enum.
var ErrInvalidStatus = errors.New("invalid conversation status")

// SaveContext threads re-entrancy flags through a save chain. Silent
// suppresses change broadcasts so a relay-driven save does not re-trigger
// the outbound push that caused it. SkipRemoteCleanup is set on recursive
// cascade deletes whose top-level caller already performed remote cleanup.
type SaveContext struct {
	Silent            bool
	SkipRemoteCleanup bool
}

// ConversationStore is the conversation surface the relay consumes.
type ConversationStore interface {
	GetByID(ctx context.Context, id string) (*store.Conversation, error)
	UpdateStatus(ctx context.Context, id, status string) (*store.Conversation, error)
	UpdateAssignee(ctx context.Context, id string, assigneeID *string) (*store.Conversation, error)
}

// CredentialResolver escalates an account to platform credentials.
type CredentialResolver interface {
	ResolveCredentials(ctx context.Context, accountID string) (*store.Credentials, error)
}

// AgentStore resolves local users to their remote agent IDs.
type AgentStore interface {
	GetByID(ctx context.Context, id string) (*store.User, error)
}

// AccessChecker gates edits by scope and by record ownership.
type AccessChecker interface {
	CanEditScope(ctx context.Context, userID, scope string) error
	CanEditRecord(ctx context.Context, userID, recordTeamID string) error
}

// Broadcaster publishes committed conversation changes to listeners.
type Broadcaster interface {
	ConversationUpdated(teamID string, conversation *store.Conversation)
}

// Relay pushes local conversation mutations to the remote platform before
// committing them locally. A failed remote push aborts the local write so
// the two sides never diverge silently.
type Relay struct {
	conversations ConversationStore
	accounts      CredentialResolver
	users         AgentStore
	acl           AccessChecker
	client        platform.Client
	broadcast     Broadcaster
	logger        *zap.Logger
}

// NewRelay creates a Relay. broadcast may be nil.
func NewRelay(
	conversations ConversationStore,
	accounts CredentialResolver,
	users AgentStore,
	acl AccessChecker,
	client platform.Client,
	broadcast Broadcaster,
	logger *zap.Logger,
) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		conversations: conversations,
		accounts:      accounts,
		users:         users,
		acl:           acl,
		client:        client,
		broadcast:     broadcast,
		logger:        logger,
	}
}

// UpdateConversationStatus pushes a status transition remotely and then
// persists it. Setting the current status is a no-op with zero remote
// calls.
func (r *Relay) UpdateConversationStatus(ctx context.Context, sc SaveContext, userID, conversationID, newStatus string) (*store.Conversation, error) {
	conversation, err := r.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conversation.Status == newStatus {
		return conversation, nil
	}

	if err := r.checkAccess(ctx, userID, conversation); err != nil {
		return nil, err
	}
	if !store.IsValidConversationStatus(newStatus) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	if conversation.RemoteConversationID == nil || conversation.AccountID == nil {
		// Never synced remotely; the local write stands alone.
		r.logger.Warn("conversation has no remote linkage, skipping remote push",
			zap.String("conversation_id", conversationID),
			zap.String("status", newStatus))
		return r.persistStatus(ctx, sc, conversationID, newStatus)
	}

	creds, err := r.accounts.ResolveCredentials(ctx, *conversation.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve platform credentials: %w", err)
	}

	r.logger.Info("pushing conversation status",
		zap.String("conversation_id", conversationID),
		zap.String("from", conversation.Status),
		zap.String("to", newStatus))

	_, err = r.client.ToggleConversationStatus(ctx, platform.Credentials{
		BaseURL: creds.BaseURL,
		APIKey:  creds.APIKey,
	}, creds.RemoteAccountID, *conversation.RemoteConversationID, newStatus)
	if err != nil {
		return nil, fmt.Errorf("remote status push failed: %w", err)
	}

	return r.persistStatus(ctx, sc, conversationID, newStatus)
}

// AssignConversation pushes an assignee change remotely and then persists
// it. A nil assigneeID unassigns. Assigning the current assignee is a
// no-op with zero remote calls.
func (r *Relay) AssignConversation(ctx context.Context, sc SaveContext, userID, conversationID string, assigneeID *string) (*store.Conversation, error) {
	conversation, err := r.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if sameAssignee(conversation.AssigneeID, assigneeID) {
		return conversation, nil
	}

	if err := r.checkAccess(ctx, userID, conversation); err != nil {
		return nil, err
	}

	var remoteAgentID *int64
	if assigneeID != nil {
		agent, err := r.users.GetByID(ctx, *assigneeID)
		if err != nil {
			return nil, fmt.Errorf("failed to load assignee: %w", err)
		}
		if agent.RemoteAgentID == nil {
			r.logger.Warn("assignee has no remote agent id, skipping remote push",
				zap.String("conversation_id", conversationID),
				zap.String("assignee_id", *assigneeID))
			return r.persistAssignee(ctx, sc, conversationID, assigneeID)
		}
		remoteAgentID = agent.RemoteAgentID
	}

	if conversation.RemoteConversationID == nil || conversation.AccountID == nil {
		r.logger.Warn("conversation has no remote linkage, skipping remote push",
			zap.String("conversation_id", conversationID))
		return r.persistAssignee(ctx, sc, conversationID, assigneeID)
	}

	creds, err := r.accounts.ResolveCredentials(ctx, *conversation.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve platform credentials: %w", err)
	}

	r.logger.Info("pushing conversation assignee",
		zap.String("conversation_id", conversationID),
		zap.Any("assignee_id", assigneeID))

	_, err = r.client.AssignConversation(ctx, platform.Credentials{
		BaseURL: creds.BaseURL,
		APIKey:  creds.APIKey,
	}, creds.RemoteAccountID, *conversation.RemoteConversationID, remoteAgentID)
	if err != nil {
		return nil, fmt.Errorf("remote assignment push failed: %w", err)
	}

	return r.persistAssignee(ctx, sc, conversationID, assigneeID)
}

func (r *Relay) checkAccess(ctx context.Context, userID string, conversation *store.Conversation) error {
	if err := r.acl.CanEditScope(ctx, userID, acl.ScopeConversation); err != nil {
		return err
	}
	if err := r.acl.CanEditRecord(ctx, userID, conversation.TeamID); err != nil {
		return err
	}
	return nil
}

func (r *Relay) persistStatus(ctx context.Context, sc SaveContext, conversationID, newStatus string) (*store.Conversation, error) {
	updated, err := r.conversations.UpdateStatus(ctx, conversationID, newStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to persist conversation status: %w", err)
	}
	r.announce(sc, updated)
	return updated, nil
}

func (r *Relay) persistAssignee(ctx context.Context, sc SaveContext, conversationID string, assigneeID *string) (*store.Conversation, error) {
	updated, err := r.conversations.UpdateAssignee(ctx, conversationID, assigneeID)
	if err != nil {
		return nil, fmt.Errorf("failed to persist conversation assignee: %w", err)
	}
	r.announce(sc, updated)
	return updated, nil
}

func (r *Relay) announce(sc SaveContext, conversation *store.Conversation) {
	if sc.Silent || r.broadcast == nil || conversation == nil {
		return
	}
	r.broadcast.ConversationUpdated(conversation.TeamID, conversation)
}

func sameAssignee(current, next *string) bool {
	if current == nil || next == nil {
		return current == nil && next == nil
	}
	return *current == *next
}
