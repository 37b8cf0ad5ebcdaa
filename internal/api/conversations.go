package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stillwaterhq/stillwater/internal/middleware"
	"github.com/stillwaterhq/stillwater/internal/relay"
	"github.com/stillwaterhq/stillwater/internal/store"
)

// ConversationRelay pushes conversation changes to the remote platform
// before persisting them.
type ConversationRelay interface {
	UpdateConversationStatus(ctx context.Context, sc relay.SaveContext, userID, conversationID, newStatus string) (*store.Conversation, error)
	AssignConversation(ctx context.Context, sc relay.SaveContext, userID, conversationID string, assigneeID *string) (*store.Conversation, error)
}

// ConversationsHandler handles team-scoped conversation operations.
type ConversationsHandler struct {
	Store *store.ConversationStore
	Relay ConversationRelay
}

type createConversationRequest struct {
	ContactID            *string `json:"contact_id,omitempty"`
	AccountID            *string `json:"account_id,omitempty"`
	RemoteConversationID *int64  `json:"remote_conversation_id,omitempty"`
	RemoteContactID      *int64  `json:"remote_contact_id,omitempty"`
	Status               string  `json:"status,omitempty"`
	Phone                *string `json:"phone,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updateAssigneeRequest struct {
	AssigneeID *string `json:"assignee_id"`
}

func (h *ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(conversationID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid conversation id"})
		return
	}

	conversation, err := h.Store.GetByID(r.Context(), conversationID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "conversation")})
		return
	}
	sendJSON(w, http.StatusOK, conversation)
}

func (h *ConversationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	status := req.Status
	if status == "" {
		status = store.ConversationStatusOpen
	}
	if !store.IsValidConversationStatus(status) {
		sendJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid conversation status"})
		return
	}

	conversation, err := h.Store.Create(r.Context(), store.CreateConversationInput{
		ContactID:            req.ContactID,
		AccountID:            req.AccountID,
		RemoteConversationID: req.RemoteConversationID,
		RemoteContactID:      req.RemoteContactID,
		Status:               status,
		Phone:                req.Phone,
	})
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "conversation")})
		return
	}
	sendJSON(w, http.StatusCreated, conversation)
}

// UpdateStatus pushes the status change to the remote platform first;
// a remote failure leaves the local row untouched and surfaces to the
// caller.
func (h *ConversationsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(conversationID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid conversation id"})
		return
	}

	userID := middleware.UserFromContext(r.Context())
	if userID == "" {
		sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return
	}

	var req updateStatusRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	conversation, err := h.Relay.UpdateConversationStatus(r.Context(), relay.SaveContext{}, userID, conversationID, req.Status)
	if err != nil {
		sendJSON(w, conversationErrorStatus(err), errorResponse{Error: conversationErrorMessage(err)})
		return
	}
	sendJSON(w, http.StatusOK, conversation)
}

func (h *ConversationsHandler) UpdateAssignee(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(conversationID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid conversation id"})
		return
	}

	userID := middleware.UserFromContext(r.Context())
	if userID == "" {
		sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return
	}

	var req updateAssigneeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	if req.AssigneeID != nil && !uuidRegex.MatchString(*req.AssigneeID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid assignee id"})
		return
	}

	conversation, err := h.Relay.AssignConversation(r.Context(), relay.SaveContext{}, userID, conversationID, req.AssigneeID)
	if err != nil {
		sendJSON(w, conversationErrorStatus(err), errorResponse{Error: conversationErrorMessage(err)})
		return
	}
	sendJSON(w, http.StatusOK, conversation)
}

func conversationErrorStatus(err error) int {
	if errors.Is(err, relay.ErrInvalidStatus) {
		return http.StatusUnprocessableEntity
	}
	return storeErrorStatus(err)
}

func conversationErrorMessage(err error) string {
	if errors.Is(err, relay.ErrInvalidStatus) {
		return "invalid conversation status"
	}
	return storeErrorMessage(err, "conversation")
}
