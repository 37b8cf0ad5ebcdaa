package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/stillwaterhq/stillwater/internal/acl"
	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

var uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

func sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// storeErrorStatus maps store and sync errors onto HTTP statuses. Remote
// platform failures surface as 502 so callers know the local row was
// left untouched.
func storeErrorStatus(err error) int {
	var apiErr *platform.APIError
	switch {
	case errors.Is(err, store.ErrNoTeam):
		return http.StatusBadRequest
	case errors.Is(err, acl.ErrForbidden), errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNoPlatformLink), errors.Is(err, store.ErrIncompleteCredentials):
		return http.StatusConflict
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	case strings.Contains(err.Error(), "duplicate key value"):
		return http.StatusConflict
	case strings.Contains(err.Error(), "required"), strings.Contains(err.Error(), "cannot be empty"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func storeErrorMessage(err error, entity string) string {
	var apiErr *platform.APIError
	switch {
	case errors.Is(err, store.ErrNoTeam):
		return "missing team_id"
	case errors.Is(err, acl.ErrForbidden), errors.Is(err, store.ErrForbidden):
		return "access denied"
	case errors.Is(err, store.ErrNotFound):
		return entity + " not found"
	case errors.Is(err, store.ErrNoPlatformLink):
		return "account has no platform link"
	case errors.Is(err, store.ErrIncompleteCredentials):
		return "platform credentials are incomplete"
	case errors.As(err, &apiErr):
		return "remote platform request failed"
	case strings.Contains(err.Error(), "duplicate key value"):
		return entity + " already exists"
	default:
		return "failed to process " + entity + " request"
	}
}
