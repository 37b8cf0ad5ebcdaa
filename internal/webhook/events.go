package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event kinds this relay acts on. Other kinds parse fine and are ignored.
const (
	EventLabelChatAdded   = "label.chat.added"
	EventLabelChatDeleted = "label.chat.deleted"
)

// ErrMalformedChatID is returned when a chat identifier has no numeric
// phone prefix.
var ErrMalformedChatID = errors.New("malformed chat identifier")

// Event is a decoded platform webhook delivery.
type Event struct {
	ChannelID string          `json:"channelId"`
	Event     string          `json:"event"`
	Session   string          `json:"session,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// LabelChatPayload is the payload of label.chat.added / label.chat.deleted.
type LabelChatPayload struct {
	LabelID int64  `json:"labelId"`
	ChatID  string `json:"chatId"`
}

// ParseEvent decodes a raw webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook event: %w", err)
	}
	if strings.TrimSpace(event.Event) == "" {
		return nil, fmt.Errorf("webhook event kind is required")
	}
	return &event, nil
}

// LabelChat decodes the event payload as a label-chat change.
func (e *Event) LabelChat() (*LabelChatPayload, error) {
	var payload LabelChatPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode label payload: %w", err)
	}
	if payload.LabelID == 0 {
		return nil, fmt.Errorf("label payload missing labelId")
	}
	if strings.TrimSpace(payload.ChatID) == "" {
		return nil, fmt.Errorf("label payload missing chatId")
	}
	return &payload, nil
}

// IsLabelChange reports whether this event kind carries a label change.
func (e *Event) IsLabelChange() bool {
	return e.Event == EventLabelChatAdded || e.Event == EventLabelChatDeleted
}

// ExtractPhone pulls the numeric phone prefix out of a chat identifier of
// the form "<digits>@suffix". Anything non-numeric before the "@" fails.
func ExtractPhone(chatID string) (string, error) {
	trimmed := strings.TrimSpace(chatID)
	at := strings.Index(trimmed, "@")
	if at >= 0 {
		trimmed = trimmed[:at]
	}
	if trimmed == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedChatID, chatID)
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrMalformedChatID, chatID)
		}
	}
	return trimmed, nil
}
