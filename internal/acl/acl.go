// Package acl decides whether a user may edit sync-managed records.
package acl

import (
	"context"
	"errors"
	"fmt"

	"github.com/stillwaterhq/stillwater/internal/middleware"
	"github.com/stillwaterhq/stillwater/internal/store"
)

// ErrForbidden is returned when a user lacks permission for an operation.
// Callers treat it as fatal to the triggering save.
var ErrForbidden = errors.New("forbidden")

// Scopes a checker can gate on.
const (
	ScopeConversation = "conversation"
	ScopeContact      = "contact"
	ScopeLabel        = "label"
	ScopeAccount      = "account"
)

// editableScopes maps role -> scopes the role may edit. Admins may edit
// everything, including account and platform configuration.
var editableScopes = map[string]map[string]bool{
	store.RoleAdmin: {
		ScopeConversation: true,
		ScopeContact:      true,
		ScopeLabel:        true,
		ScopeAccount:      true,
	},
	store.RoleAgent: {
		ScopeConversation: true,
		ScopeContact:      true,
		ScopeLabel:        true,
	},
}

// Checker answers edit-permission questions against the user store.
type Checker struct {
	users *store.UserStore
}

// NewChecker creates a Checker backed by the given user store.
func NewChecker(users *store.UserStore) *Checker {
	return &Checker{users: users}
}

// CanEditScope reports whether the user's role permits editing records in
// the given scope at all.
func (c *Checker) CanEditScope(ctx context.Context, userID, scope string) error {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %s: %w", userID, ErrForbidden)
		}
		return fmt.Errorf("failed to load user for scope check: %w", err)
	}

	if !editableScopes[user.Role][scope] {
		return fmt.Errorf("role %s cannot edit %s: %w", user.Role, scope, ErrForbidden)
	}
	return nil
}

// CanEditRecord reports whether the user may edit a record owned by the
// team in the request context. Admins pass regardless of membership.
func (c *Checker) CanEditRecord(ctx context.Context, userID, recordTeamID string) error {
	teamID := middleware.TeamFromContext(ctx)
	if teamID == "" {
		teamID = recordTeamID
	}
	if recordTeamID != "" && teamID != recordTeamID {
		return fmt.Errorf("record belongs to another team: %w", ErrForbidden)
	}

	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %s: %w", userID, ErrForbidden)
		}
		return fmt.Errorf("failed to load user for record check: %w", err)
	}
	if user.Role == store.RoleAdmin {
		return nil
	}

	member, err := c.users.IsMemberOfTeam(ctx, userID, recordTeamID)
	if err != nil {
		return fmt.Errorf("failed to check team membership: %w", err)
	}
	if !member {
		return fmt.Errorf("user %s is not a member of team %s: %w", userID, recordTeamID, ErrForbidden)
	}
	return nil
}
