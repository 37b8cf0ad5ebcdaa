package api

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/store"
	"github.com/stillwaterhq/stillwater/internal/webhook"
)

// WebhooksHandler ingests platform webhook events. Signature
// verification happens in middleware before this handler runs; here we
// validate the envelope, resolve the owning team, and queue the event
// for the sync worker.
type WebhooksHandler struct {
	Accounts *store.AccountStore
	Jobs     *store.SyncJobStore
	Logger   *zap.Logger
}

type webhookAcceptedResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

func (h *WebhooksHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	event, err := webhook.ParseEvent(body)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid webhook payload"})
		return
	}
	if !uuidRegex.MatchString(event.ChannelID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid channel id"})
		return
	}

	if !event.IsLabelChange() {
		sendJSON(w, http.StatusAccepted, webhookAcceptedResponse{Status: "ignored"})
		return
	}

	teamID, err := h.Accounts.TeamForAccount(r.Context(), event.ChannelID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "account")})
		return
	}

	job, err := h.Jobs.Enqueue(r.Context(), store.EnqueueSyncJobInput{
		TeamID:  teamID,
		JobType: store.SyncJobTypeWebhookEvent,
		Payload: body,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("failed to enqueue webhook event",
				zap.String("channel_id", event.ChannelID),
				zap.String("event", event.Event),
				zap.Error(err))
		}
		sendJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to queue webhook event"})
		return
	}

	sendJSON(w, http.StatusAccepted, webhookAcceptedResponse{Status: "queued", JobID: job.ID})
}
