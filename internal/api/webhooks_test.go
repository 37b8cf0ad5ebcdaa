package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stillwaterhq/stillwater/internal/store"
)

func TestWebhookReceiveQueuesLabelEvent(t *testing.T) {
	db, teamID := setupAPITest(t)

	var accountID string
	err := db.QueryRow(`
		INSERT INTO accounts (team_id, remote_account_id, name)
		VALUES ($1, 7, 'Webhook Account') RETURNING id`, teamID).Scan(&accountID)
	require.NoError(t, err)

	handler := &WebhooksHandler{
		Accounts: store.NewAccountStore(db),
		Jobs:     store.NewSyncJobStore(db),
	}

	body := []byte(`{
		"channelId": "` + accountID + `",
		"event": "label.chat.added",
		"payload": {"labelId": 7, "chatId": "5511999999999@c.us"}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/platform", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Receive(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp webhookAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "queued", resp.Status)
	require.NotEmpty(t, resp.JobID)

	var jobTeam, jobType string
	err = db.QueryRow(`SELECT team_id, job_type FROM sync_jobs WHERE id = $1`, resp.JobID).
		Scan(&jobTeam, &jobType)
	require.NoError(t, err)
	require.Equal(t, teamID, jobTeam, "job is queued under the account's team")
	require.Equal(t, store.SyncJobTypeWebhookEvent, jobType)
}

func TestWebhookReceiveIgnoresOtherEvents(t *testing.T) {
	db, teamID := setupAPITest(t)

	var accountID string
	err := db.QueryRow(`
		INSERT INTO accounts (team_id, remote_account_id, name)
		VALUES ($1, 7, 'Webhook Account') RETURNING id`, teamID).Scan(&accountID)
	require.NoError(t, err)

	handler := &WebhooksHandler{
		Accounts: store.NewAccountStore(db),
		Jobs:     store.NewSyncJobStore(db),
	}

	body := []byte(`{"channelId": "` + accountID + `", "event": "message", "payload": {}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/platform", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Receive(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp webhookAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ignored", resp.Status)

	var jobs int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM sync_jobs`).Scan(&jobs))
	require.Zero(t, jobs)
}

func TestWebhookReceiveRejectsBadPayloads(t *testing.T) {
	db, _ := setupAPITest(t)

	handler := &WebhooksHandler{
		Accounts: store.NewAccountStore(db),
		Jobs:     store.NewSyncJobStore(db),
	}

	testCases := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "invalid json", body: `{not json`, wantStatus: http.StatusBadRequest},
		{name: "missing event", body: `{"channelId":"11111111-1111-1111-1111-111111111111"}`, wantStatus: http.StatusBadRequest},
		{name: "invalid channel id", body: `{"channelId":"nope","event":"label.chat.added","payload":{}}`, wantStatus: http.StatusBadRequest},
		{
			name:       "unknown account",
			body:       `{"channelId":"11111111-1111-1111-1111-111111111111","event":"label.chat.added","payload":{"labelId":1,"chatId":"1@c.us"}}`,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/platform", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()
			handler.Receive(rec, req)
			require.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}
