package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/middleware"
	"github.com/stillwaterhq/stillwater/internal/relay"
	"github.com/stillwaterhq/stillwater/internal/store"
)

// ContactsHandler handles team-scoped contact operations. Contact
// mutations enqueue a reconcile job so duplicate shadow rows converge
// in the background.
type ContactsHandler struct {
	Store  *store.ContactStore
	Jobs   *store.SyncJobStore
	Logger *zap.Logger
}

type contactRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type addPlatformContactRequest struct {
	AccountID       string `json:"account_id"`
	RemoteContactID int64  `json:"remote_contact_id"`
}

type listPlatformContactsResponse struct {
	PlatformContacts []store.PlatformContact `json:"platform_contacts"`
}

func (h *ContactsHandler) Get(w http.ResponseWriter, r *http.Request) {
	contactID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(contactID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid contact id"})
		return
	}

	contact, err := h.Store.GetByID(r.Context(), contactID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "contact")})
		return
	}
	sendJSON(w, http.StatusOK, contact)
}

func (h *ContactsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "name is required"})
		return
	}

	contact, err := h.Store.Create(r.Context(), *req.Name, req.Phone)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "contact")})
		return
	}
	sendJSON(w, http.StatusCreated, contact)
}

func (h *ContactsHandler) Update(w http.ResponseWriter, r *http.Request) {
	contactID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(contactID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid contact id"})
		return
	}

	var req contactRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	contact, err := h.Store.Update(r.Context(), contactID, req.Name, req.Phone)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "contact")})
		return
	}

	h.enqueueReconcile(r, contact.ID)
	sendJSON(w, http.StatusOK, contact)
}

func (h *ContactsHandler) ListPlatformContacts(w http.ResponseWriter, r *http.Request) {
	contactID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(contactID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid contact id"})
		return
	}

	shadows, err := h.Store.ListActivePlatformContacts(r.Context(), contactID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "contact")})
		return
	}
	sendJSON(w, http.StatusOK, listPlatformContactsResponse{PlatformContacts: shadows})
}

// AddPlatformContact registers a remote shadow row for a contact. When
// an account ends up with more than one shadow the queued reconcile
// merges them toward the lowest remote id.
func (h *ContactsHandler) AddPlatformContact(w http.ResponseWriter, r *http.Request) {
	contactID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(contactID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid contact id"})
		return
	}

	var req addPlatformContactRequest
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
	if req.RemoteContactID <= 0 {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "remote_contact_id is required"})
		return
	}

	shadow, err := h.Store.AddPlatformContact(r.Context(), contactID, req.AccountID, req.RemoteContactID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "contact")})
		return
	}

	h.enqueueReconcile(r, contactID)
	sendJSON(w, http.StatusCreated, shadow)
}

func (h *ContactsHandler) enqueueReconcile(r *http.Request, contactID string) {
	if h.Jobs == nil {
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	payload, err := json.Marshal(relay.ContactReconcilePayload{ContactID: contactID})
	if err != nil {
		logger.Warn("failed to encode reconcile payload", zap.String("contact_id", contactID), zap.Error(err))
		return
	}
	_, err = h.Jobs.Enqueue(r.Context(), store.EnqueueSyncJobInput{
		TeamID:  middleware.TeamFromContext(r.Context()),
		JobType: store.SyncJobTypeContactReconcile,
		Payload: payload,
	})
	if err != nil {
		logger.Warn("failed to enqueue contact reconcile", zap.String("contact_id", contactID), zap.Error(err))
	}
}
