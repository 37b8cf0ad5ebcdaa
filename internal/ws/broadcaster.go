package ws

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/store"
)

type envelope struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// Broadcaster publishes sync events to team-scoped websocket clients.
type Broadcaster struct {
	hub    *Hub
	logger *zap.Logger
}

// NewBroadcaster wraps a hub for use by the sync components.
func NewBroadcaster(hub *Hub, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{hub: hub, logger: logger}
}

// ConversationUpdated announces a conversation status or assignee change.
func (b *Broadcaster) ConversationUpdated(teamID string, conversation *store.Conversation) {
	b.publish(teamID, MessageConversationUpdated, conversation)
}

// LabelSynced announces that a label finished its remote push.
func (b *Broadcaster) LabelSynced(teamID string, label *store.Label) {
	b.publish(teamID, MessageLabelSynced, label)
}

// AccountDeleted announces an account removal.
func (b *Broadcaster) AccountDeleted(teamID, accountID string) {
	b.publish(teamID, MessageAccountDeleted, map[string]string{"id": accountID})
}

func (b *Broadcaster) publish(teamID string, messageType MessageType, payload any) {
	data, err := json.Marshal(envelope{Type: messageType, Payload: payload})
	if err != nil {
		b.logger.Warn("failed to encode broadcast", zap.String("type", string(messageType)), zap.Error(err))
		return
	}
	b.hub.Broadcast(teamID, data)
}
