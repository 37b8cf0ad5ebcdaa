// Package middleware provides HTTP middleware for tenant isolation.
package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

// ContextKey is the type for context keys in this package.
type ContextKey string

const (
	// TeamIDKey is the context key for the current tenant team ID.
	TeamIDKey ContextKey = "team_id"
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey ContextKey = "user_id"
)

var uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

// jwtClaims represents minimal JWT claims for team extraction.
type jwtClaims struct {
	TeamID      string `json:"team_id"`
	TenantID    string `json:"tenant_id"`
	WorkspaceID string `json:"workspace_id"`
	Sub         string `json:"sub"`
}

// TeamFromContext retrieves the team ID from the request context.
// Returns empty string if not set.
func TeamFromContext(ctx context.Context) string {
	if v := ctx.Value(TeamIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// UserFromContext retrieves the user ID from the request context.
// Returns empty string if not set.
func UserFromContext(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// RequireTeam is middleware that ensures a valid team ID is present.
// It extracts the team from:
// 1. JWT Bearer token claims (team_id, tenant_id, or workspace_id)
// 2. X-Team-ID header (for service-to-service calls)
//
// If no valid team is found, it returns 401 Unauthorized.
func RequireTeam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		teamID := extractTeamID(r)
		if teamID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing or invalid team"}`))
			return
		}

		ctx := context.WithValue(r.Context(), TeamIDKey, teamID)

		if userID := extractUserID(r); userID != "" {
			ctx = context.WithValue(ctx, UserIDKey, userID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTeamID attempts to extract the team ID from various sources.
func extractTeamID(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if claims := parseJWTClaims(token); claims != nil {
			if id := firstValidUUID(claims.TeamID, claims.TenantID, claims.WorkspaceID); id != "" {
				return id
			}
		}
	}

	if id := strings.TrimSpace(r.Header.Get("X-Team-ID")); id != "" && uuidRegex.MatchString(id) {
		return id
	}

	if id := strings.TrimSpace(r.URL.Query().Get("team_id")); id != "" && uuidRegex.MatchString(id) {
		return id
	}

	return ""
}

// extractUserID attempts to extract the user ID from JWT.
func extractUserID(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if claims := parseJWTClaims(token); claims != nil && claims.Sub != "" {
			return claims.Sub
		}
	}
	return ""
}

// parseJWTClaims extracts claims from a JWT without verifying the signature.
// Signature verification is expected to be done by an upstream gateway.
func parseJWTClaims(token string) *jwtClaims {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}

	payload := parts[1]
	switch len(payload) % 4 {
	case 2:
		payload += "=="
	case 3:
		payload += "="
	}

	decoded, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil
		}
	}

	var claims jwtClaims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return nil
	}

	return &claims
}

// firstValidUUID returns the first non-empty, valid UUID from the given strings.
func firstValidUUID(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && uuidRegex.MatchString(v) {
			return v
		}
	}
	return ""
}
