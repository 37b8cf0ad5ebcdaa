// Package platform talks to the remote messaging platform's HTTP API.
package platform

import (
	"context"
	"errors"
	"fmt"
)

// ErrRemoteNotFound is returned when the remote platform reports 404 for
// the addressed resource. Merge reconciliation treats it as convergence.
var ErrRemoteNotFound = errors.New("remote resource not found")

// Credentials carries the resolved base URL and API token for one
// platform installation.
type Credentials struct {
	BaseURL string
	APIKey  string
}

// Conversation is the remote platform's conversation representation, as
// returned by status and assignment calls.
type Conversation struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	AssigneeID *int64 `json:"assignee_id,omitempty"`
	InboxID    int64  `json:"inbox_id,omitempty"`
}

// Contact is the remote platform's contact representation.
type Contact struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Label is the remote platform's label representation.
type Label struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
}

// APIError is a non-2xx response from the remote platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error: status %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrRemoteNotFound) match a 404 APIError.
func (e *APIError) Is(target error) bool {
	return target == ErrRemoteNotFound && e.StatusCode == 404
}

// Client is the remote surface the relay pushes through. One method per
// remote mutation; each is a single synchronous attempt.
type Client interface {
	ToggleConversationStatus(ctx context.Context, creds Credentials, accountID, conversationID int64, status string) (*Conversation, error)
	AssignConversation(ctx context.Context, creds Credentials, accountID, conversationID int64, agentID *int64) (*Conversation, error)
	MergeContacts(ctx context.Context, creds Credentials, accountID, baseID, mergeeID int64) (*Contact, error)
	CreateLabel(ctx context.Context, creds Credentials, accountID int64, name, color string) (*Label, error)
	DeleteLabel(ctx context.Context, creds Credentials, accountID, labelID int64) error
	DeleteInbox(ctx context.Context, creds Credentials, accountID, inboxID int64) error
	DeleteContact(ctx context.Context, creds Credentials, accountID, contactID int64) error
}
