package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/middleware"
	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
)

const defaultLabelColor = "#1f93ff"

// LabelBroadcaster announces labels that completed a remote push.
type LabelBroadcaster interface {
	LabelSynced(teamID string, label *store.Label)
}

// LabelsHandler handles team-scoped label CRUD with best-effort remote
// push. A failed push leaves the label in an error sync state rather
// than failing the request.
type LabelsHandler struct {
	Store     *store.LabelStore
	Accounts  *store.AccountStore
	Client    platform.Client
	Broadcast LabelBroadcaster
	Logger    *zap.Logger
}

type listLabelsResponse struct {
	Labels []store.Label `json:"labels"`
}

type createLabelRequest struct {
	Name      string  `json:"name"`
	Color     string  `json:"color,omitempty"`
	AccountID *string `json:"account_id,omitempty"`
}

func (h *LabelsHandler) List(w http.ResponseWriter, r *http.Request) {
	labels, err := h.Store.List(r.Context())
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "label")})
		return
	}
	sendJSON(w, http.StatusOK, listLabelsResponse{Labels: labels})
}

func (h *LabelsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLabelRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}
	if req.AccountID != nil && !uuidRegex.MatchString(*req.AccountID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid account id"})
		return
	}

	color := req.Color
	if color == "" {
		color = defaultLabelColor
	}

	label, err := h.Store.Create(r.Context(), req.Name, color, req.AccountID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "label")})
		return
	}

	if label.AccountID != nil && h.Client != nil {
		label = h.pushLabel(r, label)
	}
	sendJSON(w, http.StatusCreated, label)
}

func (h *LabelsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	labelID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(labelID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid label id"})
		return
	}

	label, err := h.Store.GetByID(r.Context(), labelID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "label")})
		return
	}

	if label.RemoteLabelID != nil && label.AccountID != nil && h.Client != nil {
		creds, err := h.Accounts.ResolveCredentials(r.Context(), *label.AccountID)
		if err != nil {
			sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "label")})
			return
		}
		err = h.Client.DeleteLabel(r.Context(),
			platform.Credentials{BaseURL: creds.BaseURL, APIKey: creds.APIKey},
			creds.RemoteAccountID, *label.RemoteLabelID)
		if err != nil && !errors.Is(err, platform.ErrRemoteNotFound) {
			sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "label")})
			return
		}
	}

	if err := h.Store.Delete(r.Context(), labelID); err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "label")})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LabelsHandler) pushLabel(r *http.Request, label *store.Label) *store.Label {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	creds, err := h.Accounts.ResolveCredentials(r.Context(), *label.AccountID)
	if err != nil {
		logger.Warn("label push skipped", zap.String("label_id", label.ID), zap.Error(err))
		_ = h.Store.MarkSyncError(r.Context(), label.ID, err.Error())
		return label
	}

	remote, err := h.Client.CreateLabel(r.Context(),
		platform.Credentials{BaseURL: creds.BaseURL, APIKey: creds.APIKey},
		creds.RemoteAccountID, store.SanitizeLabelName(label.Name), label.Color)
	if err != nil {
		logger.Warn("label push failed", zap.String("label_id", label.ID), zap.Error(err))
		_ = h.Store.MarkSyncError(r.Context(), label.ID, err.Error())
		return label
	}

	if err := h.Store.MarkSynced(r.Context(), label.ID, remote.ID); err != nil {
		logger.Warn("failed to record label sync", zap.String("label_id", label.ID), zap.Error(err))
		return label
	}
	synced, err := h.Store.GetByID(r.Context(), label.ID)
	if err != nil {
		return label
	}
	if h.Broadcast != nil {
		h.Broadcast.LabelSynced(middleware.TeamFromContext(r.Context()), synced)
	}
	return synced
}
