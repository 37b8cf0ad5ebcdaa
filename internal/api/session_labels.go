package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stillwaterhq/stillwater/internal/store"
)

// SessionLabelsHandler manages the label-to-agent mappings consumed by
// the webhook label mapper.
type SessionLabelsHandler struct {
	Store *store.SessionLabelStore
}

type listSessionLabelsResponse struct {
	SessionLabels []store.SessionLabel `json:"session_labels"`
}

type createSessionLabelRequest struct {
	AccountID     string `json:"account_id"`
	RemoteLabelID int64  `json:"remote_label_id"`
	AgentID       string `json:"agent_id"`
}

func (h *SessionLabelsHandler) ListByAccount(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(accountID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid account id"})
		return
	}

	mappings, err := h.Store.ListByAccount(r.Context(), accountID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "session label")})
		return
	}
	sendJSON(w, http.StatusOK, listSessionLabelsResponse{SessionLabels: mappings})
}

func (h *SessionLabelsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionLabelRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	if !uuidRegex.MatchString(req.AccountID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid account id"})
		return
	}
	if !uuidRegex.MatchString(req.AgentID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid agent id"})
		return
	}
	if req.RemoteLabelID <= 0 {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "remote_label_id is required"})
		return
	}

	mapping, err := h.Store.Create(r.Context(), req.AccountID, req.RemoteLabelID, req.AgentID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "session label")})
		return
	}
	sendJSON(w, http.StatusCreated, mapping)
}

func (h *SessionLabelsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	mappingID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(mappingID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid session label id"})
		return
	}

	if err := h.Store.Delete(r.Context(), mappingID); err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "session label")})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
