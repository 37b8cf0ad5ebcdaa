package webhook

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/relay"
	"github.com/stillwaterhq/stillwater/internal/store"
)

// SessionLabelResolver maps a remote label to a local agent.
type SessionLabelResolver interface {
	FindByRemoteLabel(ctx context.Context, accountID string, remoteLabelID int64) (*store.SessionLabel, error)
}

// ConversationFinder locates conversations by phone number.
type ConversationFinder interface {
	FindByPhone(ctx context.Context, phone string) (*store.Conversation, error)
}

// Assigner pushes assignee changes through the outbound relay.
type Assigner interface {
	AssignConversation(ctx context.Context, sc relay.SaveContext, userID, conversationID string, assigneeID *string) (*store.Conversation, error)
}

// LabelMapper turns inbound label webhook events into agent assignments.
// It always re-derives the desired end state from current local state, so
// duplicate or out-of-order deliveries settle as no-ops.
type LabelMapper struct {
	sessionLabels SessionLabelResolver
	conversations ConversationFinder
	assigner      Assigner
	logger        *zap.Logger
}

// NewLabelMapper creates a LabelMapper.
func NewLabelMapper(sessionLabels SessionLabelResolver, conversations ConversationFinder, assigner Assigner, logger *zap.Logger) *LabelMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LabelMapper{
		sessionLabels: sessionLabels,
		conversations: conversations,
		assigner:      assigner,
		logger:        logger,
	}
}

// HandleLabelEvent processes one label.chat.added / label.chat.deleted
// event. Malformed payloads and unmapped labels are logged and dropped;
// only infrastructure failures return an error, so the job queue retries
// exactly the failures worth retrying.
func (m *LabelMapper) HandleLabelEvent(ctx context.Context, event *Event) error {
	if event == nil || !event.IsLabelChange() {
		return nil
	}

	payload, err := event.LabelChat()
	if err != nil {
		m.logger.Warn("dropping malformed label event", zap.String("event", event.Event), zap.Error(err))
		return nil
	}

	phone, err := ExtractPhone(payload.ChatID)
	if err != nil {
		m.logger.Warn("dropping label event with malformed chat id",
			zap.String("chat_id", payload.ChatID), zap.Error(err))
		return nil
	}

	mapping, err := m.sessionLabels.FindByRemoteLabel(ctx, event.ChannelID, payload.LabelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Not an agent-assignment label.
			return nil
		}
		return fmt.Errorf("failed to resolve session label: %w", err)
	}

	conversation, err := m.conversations.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Info("no conversation for label event",
				zap.String("phone", phone), zap.Int64("label_id", payload.LabelID))
			return nil
		}
		return fmt.Errorf("failed to locate conversation: %w", err)
	}

	switch event.Event {
	case EventLabelChatAdded:
		return m.assign(ctx, conversation, mapping)
	case EventLabelChatDeleted:
		return m.unassign(ctx, conversation, mapping)
	}
	return nil
}

func (m *LabelMapper) assign(ctx context.Context, conversation *store.Conversation, mapping *store.SessionLabel) error {
	if conversation.AssigneeID != nil && *conversation.AssigneeID == mapping.AgentID {
		return nil
	}

	agentID := mapping.AgentID
	_, err := m.assigner.AssignConversation(ctx, relay.SaveContext{Silent: true}, mapping.AgentID, conversation.ID, &agentID)
	if err != nil {
		return fmt.Errorf("failed to assign conversation from label: %w", err)
	}
	m.logger.Info("label assigned conversation",
		zap.String("conversation_id", conversation.ID),
		zap.String("agent_id", mapping.AgentID))
	return nil
}

func (m *LabelMapper) unassign(ctx context.Context, conversation *store.Conversation, mapping *store.SessionLabel) error {
	// A label removal only clears an assignment it made itself. Never
	// clobber an assignment from another label or a human.
	if conversation.AssigneeID == nil || *conversation.AssigneeID != mapping.AgentID {
		return nil
	}

	_, err := m.assigner.AssignConversation(ctx, relay.SaveContext{Silent: true}, mapping.AgentID, conversation.ID, nil)
	if err != nil {
		return fmt.Errorf("failed to unassign conversation from label: %w", err)
	}
	m.logger.Info("label unassigned conversation",
		zap.String("conversation_id", conversation.ID),
		zap.String("agent_id", mapping.AgentID))
	return nil
}
