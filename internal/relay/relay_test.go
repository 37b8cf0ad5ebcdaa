package relay

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillwaterhq/stillwater/internal/acl"
	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
)

type fakeConversations struct {
	rows            map[string]*store.Conversation
	statusUpdates   int
	assigneeUpdates int
	repointCalls    []string
}

func (f *fakeConversations) GetByID(_ context.Context, id string) (*store.Conversation, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeConversations) UpdateStatus(_ context.Context, id, status string) (*store.Conversation, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	f.statusUpdates++
	row.Status = status
	copied := *row
	return &copied, nil
}

func (f *fakeConversations) UpdateAssignee(_ context.Context, id string, assigneeID *string) (*store.Conversation, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	f.assigneeUpdates++
	row.AssigneeID = assigneeID
	copied := *row
	return &copied, nil
}

func (f *fakeConversations) RepointRemoteContact(_ context.Context, accountID string, fromRemoteID, toRemoteID int64) (int64, error) {
	f.repointCalls = append(f.repointCalls, fmt.Sprintf("%s:%d->%d", accountID, fromRemoteID, toRemoteID))
	return 1, nil
}

type fakeAccounts struct {
	creds map[string]*store.Credentials
	err   error
}

func (f *fakeAccounts) ResolveCredentials(_ context.Context, accountID string) (*store.Credentials, error) {
	if f.err != nil {
		return nil, f.err
	}
	creds, ok := f.creds[accountID]
	if !ok {
		return nil, store.ErrNoPlatformLink
	}
	return creds, nil
}

type fakeUsers struct {
	rows map[string]*store.User
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*store.User, error) {
	user, ok := f.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return user, nil
}

type fakeACL struct {
	scopeErr  error
	recordErr error
	calls     []string
}

func (f *fakeACL) CanEditScope(_ context.Context, _, scope string) error {
	f.calls = append(f.calls, "scope:"+scope)
	return f.scopeErr
}

func (f *fakeACL) CanEditRecord(_ context.Context, _, _ string) error {
	f.calls = append(f.calls, "record")
	return f.recordErr
}

type platformCall struct {
	op       string
	account  int64
	targetID int64
	arg      any
}

type fakePlatform struct {
	calls    []platformCall
	failWith error
}

func (f *fakePlatform) ToggleConversationStatus(_ context.Context, _ platform.Credentials, accountID, conversationID int64, status string) (*platform.Conversation, error) {
	f.calls = append(f.calls, platformCall{op: "toggle", account: accountID, targetID: conversationID, arg: status})
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &platform.Conversation{ID: conversationID, Status: status}, nil
}

func (f *fakePlatform) AssignConversation(_ context.Context, _ platform.Credentials, accountID, conversationID int64, agentID *int64) (*platform.Conversation, error) {
	f.calls = append(f.calls, platformCall{op: "assign", account: accountID, targetID: conversationID, arg: agentID})
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &platform.Conversation{ID: conversationID, AssigneeID: agentID}, nil
}

func (f *fakePlatform) MergeContacts(_ context.Context, _ platform.Credentials, accountID, baseID, mergeeID int64) (*platform.Contact, error) {
	f.calls = append(f.calls, platformCall{op: "merge", account: accountID, targetID: baseID, arg: mergeeID})
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &platform.Contact{ID: baseID}, nil
}

func (f *fakePlatform) CreateLabel(_ context.Context, _ platform.Credentials, accountID int64, name, _ string) (*platform.Label, error) {
	f.calls = append(f.calls, platformCall{op: "create_label", account: accountID, arg: name})
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &platform.Label{ID: 1, Title: name}, nil
}

func (f *fakePlatform) DeleteLabel(_ context.Context, _ platform.Credentials, accountID, labelID int64) error {
	f.calls = append(f.calls, platformCall{op: "delete_label", account: accountID, targetID: labelID})
	return f.failWith
}

func (f *fakePlatform) DeleteInbox(_ context.Context, _ platform.Credentials, accountID, inboxID int64) error {
	f.calls = append(f.calls, platformCall{op: "delete_inbox", account: accountID, targetID: inboxID})
	return f.failWith
}

func (f *fakePlatform) DeleteContact(_ context.Context, _ platform.Credentials, accountID, contactID int64) error {
	f.calls = append(f.calls, platformCall{op: "delete_contact", account: accountID, targetID: contactID})
	return f.failWith
}

type fakeBroadcaster struct {
	events int
}

func (f *fakeBroadcaster) ConversationUpdated(_ string, _ *store.Conversation) {
	f.events++
}

func syncedConversation(id string) *store.Conversation {
	accountID := "acct-1"
	remoteConvID := int64(42)
	return &store.Conversation{
		ID:                   id,
		TeamID:               "team-1",
		AccountID:            &accountID,
		RemoteConversationID: &remoteConvID,
		Status:               store.ConversationStatusOpen,
	}
}

func testRelay(conversations *fakeConversations, accounts *fakeAccounts, users *fakeUsers, checker *fakeACL, client *fakePlatform, broadcast Broadcaster) *Relay {
	if accounts == nil {
		accounts = &fakeAccounts{creds: map[string]*store.Credentials{
			"acct-1": {BaseURL: "https://platform.example.com", APIKey: "k", RemoteAccountID: 7},
		}}
	}
	if users == nil {
		users = &fakeUsers{rows: map[string]*store.User{}}
	}
	if checker == nil {
		checker = &fakeACL{}
	}
	return NewRelay(conversations, accounts, users, checker, client, broadcast, nil)
}

func TestUpdateStatusPushesRemoteThenPersists(t *testing.T) {
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": syncedConversation("c1")}}
	client := &fakePlatform{}
	broadcast := &fakeBroadcaster{}
	relay := testRelay(conversations, nil, nil, nil, client, broadcast)

	updated, err := relay.UpdateConversationStatus(context.Background(), SaveContext{}, "u1", "c1", store.ConversationStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, store.ConversationStatusResolved, updated.Status)
	require.Len(t, client.calls, 1)
	assert.Equal(t, "toggle", client.calls[0].op)
	assert.Equal(t, int64(7), client.calls[0].account)
	assert.Equal(t, int64(42), client.calls[0].targetID)
	assert.Equal(t, 1, conversations.statusUpdates)
	assert.Equal(t, 1, broadcast.events)
}

func TestUpdateStatusNoOpSkipsRemote(t *testing.T) {
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": syncedConversation("c1")}}
	client := &fakePlatform{}
	checker := &fakeACL{}
	relay := testRelay(conversations, nil, nil, checker, client, nil)

	updated, err := relay.UpdateConversationStatus(context.Background(), SaveContext{}, "u1", "c1", store.ConversationStatusOpen)
	require.NoError(t, err)
	assert.Equal(t, store.ConversationStatusOpen, updated.Status)
	assert.Len(t, client.calls, 0)
	assert.Equal(t, 0, conversations.statusUpdates)
	// Short-circuit happens before any permission work.
	assert.Len(t, checker.calls, 0)
}

func TestUpdateStatusRemoteFailureAbortsLocalWrite(t *testing.T) {
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": syncedConversation("c1")}}
	client := &fakePlatform{failWith: &platform.APIError{StatusCode: 500, Body: "boom"}}
	relay := testRelay(conversations, nil, nil, nil, client, nil)

	updated, err := relay.UpdateConversationStatus(context.Background(), SaveContext{}, "u1", "c1", store.ConversationStatusResolved)
	require.Error(t, err)
	assert.Nil(t, updated)
	assert.Equal(t, 0, conversations.statusUpdates)

	current, err := conversations.GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, store.ConversationStatusOpen, current.Status)
}

func TestUpdateStatusChecksScopeBeforeRecord(t *testing.T) {
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": syncedConversation("c1")}}
	client := &fakePlatform{}
	checker := &fakeACL{scopeErr: acl.ErrForbidden}
	relay := testRelay(conversations, nil, nil, checker, client, nil)

	_, err := relay.UpdateConversationStatus(context.Background(), SaveContext{}, "u1", "c1", store.ConversationStatusResolved)
	assert.ErrorIs(t, err, acl.ErrForbidden)
	assert.Equal(t, []string{"scope:conversation"}, checker.calls)
	assert.Len(t, client.calls, 0)
	assert.Equal(t, 0, conversations.statusUpdates)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": syncedConversation("c1")}}
	client := &fakePlatform{}
	relay := testRelay(conversations, nil, nil, nil, client, nil)

	_, err := relay.UpdateConversationStatus(context.Background(), SaveContext{}, "u1", "c1", "archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Len(t, client.calls, 0)
}

func TestUpdateStatusWithoutRemoteLinkagePersistsLocally(t *testing.T) {
	conv := syncedConversation("c1")
	conv.RemoteConversationID = nil
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": conv}}
	client := &fakePlatform{}
	relay := testRelay(conversations, nil, nil, nil, client, nil)

	updated, err := relay.UpdateConversationStatus(context.Background(), SaveContext{}, "u1", "c1", store.ConversationStatusSnoozed)
	require.NoError(t, err)
	assert.Equal(t, store.ConversationStatusSnoozed, updated.Status)
	assert.Len(t, client.calls, 0)
	assert.Equal(t, 1, conversations.statusUpdates)
}

func TestUpdateStatusCredentialFailureIsFatal(t *testing.T) {
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": syncedConversation("c1")}}
	client := &fakePlatform{}
	accounts := &fakeAccounts{err: store.ErrIncompleteCredentials}
	relay := testRelay(conversations, accounts, nil, nil, client, nil)

	_, err := relay.UpdateConversationStatus(context.Background(), SaveContext{}, "u1", "c1", store.ConversationStatusResolved)
	assert.ErrorIs(t, err, store.ErrIncompleteCredentials)
	assert.Len(t, client.calls, 0)
	assert.Equal(t, 0, conversations.statusUpdates)
}

func TestAssignConversationPushesRemoteAgentID(t *testing.T) {
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": syncedConversation("c1")}}
	client := &fakePlatform{}
	remoteAgentID := int64(9)
	users := &fakeUsers{rows: map[string]*store.User{
		"agent-1": {ID: "agent-1", Role: store.RoleAgent, RemoteAgentID: &remoteAgentID},
	}}
	relay := testRelay(conversations, nil, users, nil, client, nil)

	agentID := "agent-1"
	updated, err := relay.AssignConversation(context.Background(), SaveContext{}, "u1", "c1", &agentID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssigneeID)
	assert.Equal(t, "agent-1", *updated.AssigneeID)
	require.Len(t, client.calls, 1)
	assert.Equal(t, "assign", client.calls[0].op)
	pushed, ok := client.calls[0].arg.(*int64)
	require.True(t, ok)
	require.NotNil(t, pushed)
	assert.Equal(t, int64(9), *pushed)
}

func TestAssignConversationUnassignPushesNil(t *testing.T) {
	conv := syncedConversation("c1")
	current := "agent-1"
	conv.AssigneeID = &current
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": conv}}
	client := &fakePlatform{}
	relay := testRelay(conversations, nil, nil, nil, client, nil)

	updated, err := relay.AssignConversation(context.Background(), SaveContext{}, "u1", "c1", nil)
	require.NoError(t, err)
	assert.Nil(t, updated.AssigneeID)
	require.Len(t, client.calls, 1)
	pushed, ok := client.calls[0].arg.(*int64)
	require.True(t, ok)
	assert.Nil(t, pushed)
}

func TestAssignConversationNoOpOnSameAssignee(t *testing.T) {
	conv := syncedConversation("c1")
	current := "agent-1"
	conv.AssigneeID = &current
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": conv}}
	client := &fakePlatform{}
	relay := testRelay(conversations, nil, nil, nil, client, nil)

	same := "agent-1"
	_, err := relay.AssignConversation(context.Background(), SaveContext{}, "u1", "c1", &same)
	require.NoError(t, err)
	assert.Len(t, client.calls, 0)
	assert.Equal(t, 0, conversations.assigneeUpdates)
}

func TestAssignConversationAgentWithoutRemoteIDPersistsLocally(t *testing.T) {
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": syncedConversation("c1")}}
	client := &fakePlatform{}
	users := &fakeUsers{rows: map[string]*store.User{
		"agent-1": {ID: "agent-1", Role: store.RoleAgent},
	}}
	relay := testRelay(conversations, nil, users, nil, client, nil)

	agentID := "agent-1"
	updated, err := relay.AssignConversation(context.Background(), SaveContext{}, "u1", "c1", &agentID)
	require.NoError(t, err)
	require.NotNil(t, updated.AssigneeID)
	assert.Len(t, client.calls, 0)
	assert.Equal(t, 1, conversations.assigneeUpdates)
}

func TestSilentSaveSuppressesBroadcast(t *testing.T) {
	conversations := &fakeConversations{rows: map[string]*store.Conversation{"c1": syncedConversation("c1")}}
	client := &fakePlatform{}
	broadcast := &fakeBroadcaster{}
	relay := testRelay(conversations, nil, nil, nil, client, broadcast)

	_, err := relay.UpdateConversationStatus(context.Background(), SaveContext{Silent: true}, "u1", "c1", store.ConversationStatusResolved)
	require.NoError(t, err)
	assert.Equal(t, 0, broadcast.events)
}
