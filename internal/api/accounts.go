package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stillwaterhq/stillwater/internal/acl"
	"github.com/stillwaterhq/stillwater/internal/middleware"
	"github.com/stillwaterhq/stillwater/internal/relay"
	"github.com/stillwaterhq/stillwater/internal/store"
)

// AccountDeleter removes an account together with its dependent rows,
// then its remote counterpart.
type AccountDeleter interface {
	Delete(ctx context.Context, sc relay.SaveContext, entity, id string) error
}

// AccountsHandler handles platform account management. Account edits
// are restricted to admins.
type AccountsHandler struct {
	Store   *store.AccountStore
	ACL     *acl.Checker
	Deleter AccountDeleter
}

type listAccountsResponse struct {
	Accounts []store.Account `json:"accounts"`
}

type createAccountRequest struct {
	PlatformID      *string `json:"platform_id,omitempty"`
	RemoteAccountID int64   `json:"remote_account_id"`
	Name            string  `json:"name"`
}

type createPlatformRequest struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.List(r.Context())
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "account")})
		return
	}
	sendJSON(w, http.StatusOK, listAccountsResponse{Accounts: accounts})
}

func (h *AccountsHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(accountID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid account id"})
		return
	}

	account, err := h.Store.GetByID(r.Context(), accountID)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "account")})
		return
	}
	sendJSON(w, http.StatusOK, account)
}

func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.requireAccountScope(w, r) {
		return
	}

	var req createAccountRequest
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
	if req.RemoteAccountID <= 0 {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "remote_account_id is required"})
		return
	}
	if req.PlatformID != nil && !uuidRegex.MatchString(*req.PlatformID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid platform id"})
		return
	}

	account, err := h.Store.Create(r.Context(), req.PlatformID, req.RemoteAccountID, req.Name)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "account")})
		return
	}
	sendJSON(w, http.StatusCreated, account)
}

func (h *AccountsHandler) CreatePlatform(w http.ResponseWriter, r *http.Request) {
	if !h.requireAccountScope(w, r) {
		return
	}

	var req createPlatformRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Kind) == "" {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "name and kind are required"})
		return
	}

	created, err := h.Store.CreatePlatform(r.Context(), req.Name, req.Kind, req.BaseURL, req.APIKey)
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "platform")})
		return
	}
	sendJSON(w, http.StatusCreated, created)
}

// Delete cascades through the account's local children before the
// remote inbox cleanup hook runs.
func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.requireAccountScope(w, r) {
		return
	}

	accountID := strings.TrimSpace(chi.URLParam(r, "id"))
	if !uuidRegex.MatchString(accountID) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid account id"})
		return
	}

	if err := h.Deleter.Delete(r.Context(), relay.SaveContext{}, "account", accountID); err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "account")})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountsHandler) requireAccountScope(w http.ResponseWriter, r *http.Request) bool {
	if h.ACL == nil {
		return true
	}
	userID := middleware.UserFromContext(r.Context())
	if userID == "" {
		sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return false
	}
	if err := h.ACL.CanEditScope(r.Context(), userID, acl.ScopeAccount); err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "account")})
		return false
	}
	return true
}
