package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

type Option func(*HTTPClient)

// HTTPClient implements Client against a Chatwoot-compatible REST API.
// Credentials are passed per call because one relay instance serves
// accounts on different platform installations.
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient creates a Client backed by net/http.
func NewHTTPClient(options ...Option) *HTTPClient {
	client := &HTTPClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, option := range options {
		option(client)
	}
	return client
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *HTTPClient) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// ToggleConversationStatus sets a conversation's status remotely.
func (c *HTTPClient) ToggleConversationStatus(ctx context.Context, creds Credentials, accountID, conversationID int64, status string) (*Conversation, error) {
	endpoint := fmt.Sprintf("api/v1/accounts/%d/conversations/%d/toggle_status", accountID, conversationID)
	payload := map[string]any{"status": status}

	var decoded struct {
		Payload struct {
			Current Conversation `json:"current"`
		} `json:"payload"`
	}
	if err := c.do(ctx, creds, http.MethodPost, endpoint, payload, &decoded); err != nil {
		return nil, fmt.Errorf("failed to toggle conversation status: %w", err)
	}
	return &decoded.Payload.Current, nil
}

// AssignConversation sets or clears a conversation's assignee remotely.
// A nil agentID unassigns; the remote API expects assignee_id 0 for that.
func (c *HTTPClient) AssignConversation(ctx context.Context, creds Credentials, accountID, conversationID int64, agentID *int64) (*Conversation, error) {
	endpoint := fmt.Sprintf("api/v1/accounts/%d/conversations/%d/assignments", accountID, conversationID)

	var remoteAgentID int64
	if agentID != nil {
		remoteAgentID = *agentID
	}
	payload := map[string]any{"assignee_id": remoteAgentID}

	var decoded Conversation
	if err := c.do(ctx, creds, http.MethodPost, endpoint, payload, &decoded); err != nil {
		return nil, fmt.Errorf("failed to assign conversation: %w", err)
	}
	return &decoded, nil
}

// MergeContacts folds mergeeID into baseID remotely. The base contact
// survives; the mergee's conversations and inboxes move onto it.
func (c *HTTPClient) MergeContacts(ctx context.Context, creds Credentials, accountID, baseID, mergeeID int64) (*Contact, error) {
	endpoint := fmt.Sprintf("api/v1/accounts/%d/contacts/%d/merge", accountID, baseID)
	payload := map[string]any{"mergee_contact_id": mergeeID}

	var decoded Contact
	if err := c.do(ctx, creds, http.MethodPost, endpoint, payload, &decoded); err != nil {
		return nil, fmt.Errorf("failed to merge contacts: %w", err)
	}
	return &decoded, nil
}

// CreateLabel creates a label on the remote account.
func (c *HTTPClient) CreateLabel(ctx context.Context, creds Credentials, accountID int64, name, color string) (*Label, error) {
	endpoint := fmt.Sprintf("api/v1/accounts/%d/labels", accountID)
	payload := map[string]any{"title": name}
	if strings.TrimSpace(color) != "" {
		payload["color"] = color
	}

	var decoded Label
	if err := c.do(ctx, creds, http.MethodPost, endpoint, payload, &decoded); err != nil {
		return nil, fmt.Errorf("failed to create label: %w", err)
	}
	return &decoded, nil
}

// DeleteLabel removes a label from the remote account.
func (c *HTTPClient) DeleteLabel(ctx context.Context, creds Credentials, accountID, labelID int64) error {
	endpoint := fmt.Sprintf("api/v1/accounts/%d/labels/%d", accountID, labelID)
	if err := c.do(ctx, creds, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("failed to delete label: %w", err)
	}
	return nil
}

// DeleteInbox removes an inbox from the remote account.
func (c *HTTPClient) DeleteInbox(ctx context.Context, creds Credentials, accountID, inboxID int64) error {
	endpoint := fmt.Sprintf("api/v1/accounts/%d/inboxes/%d", accountID, inboxID)
	if err := c.do(ctx, creds, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("failed to delete inbox: %w", err)
	}
	return nil
}

// DeleteContact removes a contact from the remote account.
func (c *HTTPClient) DeleteContact(ctx context.Context, creds Credentials, accountID, contactID int64) error {
	endpoint := fmt.Sprintf("api/v1/accounts/%d/contacts/%d", accountID, contactID)
	if err := c.do(ctx, creds, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, creds Credentials, method, endpoint string, payload any, out any) error {
	requestURL, err := resolveURL(creds.BaseURL, endpoint)
	if err != nil {
		return err
	}
	if strings.TrimSpace(creds.APIKey) == "" {
		return fmt.Errorf("api key is required")
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api_access_token", creds.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rawResponse, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer rawResponse.Body.Close()

	responseBody, err := io.ReadAll(rawResponse.Body)
	if err != nil {
		return err
	}

	if rawResponse.StatusCode < 200 || rawResponse.StatusCode >= 300 {
		return &APIError{
			StatusCode: rawResponse.StatusCode,
			Body:       strings.TrimSpace(string(responseBody)),
		}
	}

	if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func resolveURL(baseURL, endpoint string) (string, error) {
	parsedBase, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse platform base url: %w", err)
	}
	if parsedBase.Scheme == "" || parsedBase.Host == "" {
		return "", fmt.Errorf("platform base url must include scheme and host")
	}

	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return "", fmt.Errorf("endpoint is required")
	}
	relative, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}

	if !strings.HasSuffix(parsedBase.Path, "/") {
		parsedBase.Path += "/"
	}
	return parsedBase.ResolveReference(relative).String(), nil
}
