package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
)

type fakePlatformClient struct {
	createLabelErr error
	deleteLabelErr error
	createdLabels  []string
	deletedLabels  []int64
	nextLabelID    int64
}

func (f *fakePlatformClient) ToggleConversationStatus(ctx context.Context, creds platform.Credentials, accountID, conversationID int64, status string) (*platform.Conversation, error) {
	return &platform.Conversation{ID: conversationID, Status: status}, nil
}

func (f *fakePlatformClient) AssignConversation(ctx context.Context, creds platform.Credentials, accountID, conversationID int64, agentID *int64) (*platform.Conversation, error) {
	return &platform.Conversation{ID: conversationID, AssigneeID: agentID}, nil
}

func (f *fakePlatformClient) MergeContacts(ctx context.Context, creds platform.Credentials, accountID, baseID, mergeeID int64) (*platform.Contact, error) {
	return &platform.Contact{ID: baseID}, nil
}

func (f *fakePlatformClient) CreateLabel(ctx context.Context, creds platform.Credentials, accountID int64, name, color string) (*platform.Label, error) {
	if f.createLabelErr != nil {
		return nil, f.createLabelErr
	}
	f.createdLabels = append(f.createdLabels, name)
	f.nextLabelID++
	return &platform.Label{ID: f.nextLabelID, Title: name, Color: color}, nil
}

func (f *fakePlatformClient) DeleteLabel(ctx context.Context, creds platform.Credentials, accountID, labelID int64) error {
	if f.deleteLabelErr != nil {
		return f.deleteLabelErr
	}
	f.deletedLabels = append(f.deletedLabels, labelID)
	return nil
}

func (f *fakePlatformClient) DeleteInbox(ctx context.Context, creds platform.Credentials, accountID, inboxID int64) error {
	return nil
}

func (f *fakePlatformClient) DeleteContact(ctx context.Context, creds platform.Credentials, accountID, contactID int64) error {
	return nil
}

func setupLabelsTest(t *testing.T) (*LabelsHandler, *fakePlatformClient, string, string) {
	t.Helper()
	db, teamID := setupAPITest(t)

	var platformID string
	err := db.QueryRow(`
		INSERT INTO platforms (name, kind, base_url, api_key)
		VALUES ('Chatwoot', 'chatwoot', 'https://chat.example.com', 'secret-key')
		RETURNING id`).Scan(&platformID)
	require.NoError(t, err)

	var accountID string
	err = db.QueryRow(`
		INSERT INTO accounts (team_id, platform_id, remote_account_id, name)
		VALUES ($1, $2, 7, 'Labels Account') RETURNING id`, teamID, platformID).Scan(&accountID)
	require.NoError(t, err)

	client := &fakePlatformClient{}
	handler := &LabelsHandler{
		Store:    store.NewLabelStore(db),
		Accounts: store.NewAccountStore(db),
		Client:   client,
	}
	return handler, client, teamID, accountID
}

func labelsRouter(handler *LabelsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/labels", handler.List)
	r.Post("/api/labels", handler.Create)
	r.Delete("/api/labels/{id}", handler.Delete)
	return r
}

func TestCreateLabelPushesRemote(t *testing.T) {
	handler, client, teamID, accountID := setupLabelsTest(t)
	router := labelsRouter(handler)

	body := `{"name":"já resolvido","account_id":"` + accountID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/labels", bytes.NewBufferString(body))
	req = withIdentity(req, teamID, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var label store.Label
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &label))
	require.Equal(t, store.LabelSyncSynced, label.SyncStatus)
	require.NotNil(t, label.RemoteLabelID)
	// Remote title is the sanitized form
	require.Equal(t, []string{"j-resolvido"}, client.createdLabels)
}

func TestCreateLabelRemoteFailureLeavesErrorState(t *testing.T) {
	handler, client, teamID, accountID := setupLabelsTest(t)
	client.createLabelErr = &platform.APIError{StatusCode: 500, Body: "boom"}
	router := labelsRouter(handler)

	body := `{"name":"vip","account_id":"` + accountID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/labels", bytes.NewBufferString(body))
	req = withIdentity(req, teamID, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Push is best effort: the label is created locally either way
	require.Equal(t, http.StatusCreated, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/labels", nil)
	listReq = withIdentity(listReq, teamID, "")
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)

	var resp listLabelsResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &resp))
	require.Len(t, resp.Labels, 1)
	require.Equal(t, store.LabelSyncError, resp.Labels[0].SyncStatus)
	require.Nil(t, resp.Labels[0].RemoteLabelID)
}

func TestCreateLabelWithoutAccountStaysLocal(t *testing.T) {
	handler, client, teamID, _ := setupLabelsTest(t)
	router := labelsRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/labels", bytes.NewBufferString(`{"name":"local-only"}`))
	req = withIdentity(req, teamID, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Empty(t, client.createdLabels)
}

func TestDeleteLabelRemovesRemote(t *testing.T) {
	handler, client, teamID, accountID := setupLabelsTest(t)
	router := labelsRouter(handler)

	body := `{"name":"vip","account_id":"` + accountID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/labels", bytes.NewBufferString(body))
	req = withIdentity(req, teamID, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var label store.Label
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &label))
	require.NotNil(t, label.RemoteLabelID)

	deleteReq := httptest.NewRequest(http.MethodDelete, "/api/labels/"+label.ID, nil)
	deleteReq = withIdentity(deleteReq, teamID, "")
	deleteRec := httptest.NewRecorder()
	router.ServeHTTP(deleteRec, deleteReq)

	require.Equal(t, http.StatusNoContent, deleteRec.Code)
	require.Equal(t, []int64{*label.RemoteLabelID}, client.deletedLabels)
}

func TestDeleteLabelToleratesRemoteGone(t *testing.T) {
	handler, client, teamID, accountID := setupLabelsTest(t)
	router := labelsRouter(handler)

	body := `{"name":"vip","account_id":"` + accountID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/labels", bytes.NewBufferString(body))
	req = withIdentity(req, teamID, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var label store.Label
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &label))

	client.deleteLabelErr = &platform.APIError{StatusCode: 404, Body: "not found"}
	deleteReq := httptest.NewRequest(http.MethodDelete, "/api/labels/"+label.ID, nil)
	deleteReq = withIdentity(deleteReq, teamID, "")
	deleteRec := httptest.NewRecorder()
	router.ServeHTTP(deleteRec, deleteReq)

	require.Equal(t, http.StatusNoContent, deleteRec.Code, "a label already gone remotely still deletes locally")
}

type fakeLabelBroadcaster struct {
	teamIDs []string
	labels  []*store.Label
}

func (f *fakeLabelBroadcaster) LabelSynced(teamID string, label *store.Label) {
	f.teamIDs = append(f.teamIDs, teamID)
	f.labels = append(f.labels, label)
}

func TestCreateLabelAnnouncesSync(t *testing.T) {
	handler, _, teamID, accountID := setupLabelsTest(t)
	broadcast := &fakeLabelBroadcaster{}
	handler.Broadcast = broadcast
	router := labelsRouter(handler)

	body := `{"name":"vip","account_id":"` + accountID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/labels", bytes.NewBufferString(body))
	req = withIdentity(req, teamID, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, []string{teamID}, broadcast.teamIDs)
	require.Len(t, broadcast.labels, 1)
	require.Equal(t, store.LabelSyncSynced, broadcast.labels[0].SyncStatus)
}

func TestCreateLabelSkipsAnnounceOnPushFailure(t *testing.T) {
	handler, client, teamID, accountID := setupLabelsTest(t)
	client.createLabelErr = &platform.APIError{StatusCode: 500, Body: "boom"}
	broadcast := &fakeLabelBroadcaster{}
	handler.Broadcast = broadcast
	router := labelsRouter(handler)

	body := `{"name":"vip","account_id":"` + accountID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/labels", bytes.NewBufferString(body))
	req = withIdentity(req, teamID, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Empty(t, broadcast.teamIDs)
}
