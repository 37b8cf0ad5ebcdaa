package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
)

// ContactShadowStore is the shadow-record surface the reconciler consumes.
type ContactShadowStore interface {
	ListActivePlatformContacts(ctx context.Context, contactID string) ([]store.PlatformContact, error)
	MarkPlatformContactMerged(ctx context.Context, id string, mergedInto int64) error
	MarkPlatformContactError(ctx context.Context, id, syncError string) error
	RepointContactInboxes(ctx context.Context, accountID string, fromRemoteID, toRemoteID int64) error
}

// ConversationRepointer moves conversation references off a merged remote
// contact.
type ConversationRepointer interface {
	RepointRemoteContact(ctx context.Context, accountID string, fromRemoteID, toRemoteID int64) (int64, error)
}

// Reconciler collapses duplicate shadow records for a contact: when one
// local contact holds several live remote contacts on the same account,
// the remote side is merged down to the lowest remote ID and local
// references follow.
type Reconciler struct {
	contacts      ContactShadowStore
	conversations ConversationRepointer
	accounts      CredentialResolver
	client        platform.Client
	logger        *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	contacts ContactShadowStore,
	conversations ConversationRepointer,
	accounts CredentialResolver,
	client platform.Client,
	logger *zap.Logger,
) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		contacts:      contacts,
		conversations: conversations,
		accounts:      accounts,
		client:        client,
		logger:        logger,
	}
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Merged int
	Failed int
}

// ReconcileContact merges duplicate shadow records for one contact. It is
// best-effort per mergee: a failed merge is recorded on the shadow row and
// reported in the returned error, leaving the row live for the next pass.
// A remote 404 means the platform already merged or deleted the mergee, so
// the row is settled locally instead of retried forever.
func (r *Reconciler) ReconcileContact(ctx context.Context, contactID string) (*ReconcileResult, error) {
	active, err := r.contacts.ListActivePlatformContacts(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shadow records: %w", err)
	}

	byAccount := make(map[string][]store.PlatformContact)
	for _, shadow := range active {
		byAccount[shadow.AccountID] = append(byAccount[shadow.AccountID], shadow)
	}

	result := &ReconcileResult{}
	var errs []error
	for accountID, group := range byAccount {
		if len(group) <= 1 {
			continue
		}
		if err := r.mergeGroup(ctx, accountID, group, result); err != nil {
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}

func (r *Reconciler) mergeGroup(ctx context.Context, accountID string, group []store.PlatformContact, result *ReconcileResult) error {
	sort.Slice(group, func(i, j int) bool {
		return group[i].RemoteContactID < group[j].RemoteContactID
	})
	base := group[0]
	mergees := group[1:]

	creds, err := r.accounts.ResolveCredentials(ctx, accountID)
	if err != nil {
		result.Failed += len(mergees)
		return fmt.Errorf("failed to resolve platform credentials for account %s: %w", accountID, err)
	}
	platformCreds := platform.Credentials{BaseURL: creds.BaseURL, APIKey: creds.APIKey}

	var errs []error
	for _, mergee := range mergees {
		_, err := r.client.MergeContacts(ctx, platformCreds, creds.RemoteAccountID, base.RemoteContactID, mergee.RemoteContactID)
		switch {
		case err == nil:
			// merged remotely, settle local state below
		case errors.Is(err, platform.ErrRemoteNotFound):
			// Already merged or deleted upstream; remote state is
			// authoritative.
			r.logger.Info("mergee gone on remote, settling locally",
				zap.String("account_id", accountID),
				zap.Int64("base", base.RemoteContactID),
				zap.Int64("mergee", mergee.RemoteContactID))
		default:
			r.logger.Warn("remote contact merge failed",
				zap.String("account_id", accountID),
				zap.Int64("base", base.RemoteContactID),
				zap.Int64("mergee", mergee.RemoteContactID),
				zap.Error(err))
			if markErr := r.contacts.MarkPlatformContactError(ctx, mergee.ID, err.Error()); markErr != nil {
				errs = append(errs, fmt.Errorf("failed to record merge error: %w", markErr))
			}
			result.Failed++
			errs = append(errs, fmt.Errorf("merge %d into %d: %w", mergee.RemoteContactID, base.RemoteContactID, err))
			continue
		}

		if err := r.settleMergee(ctx, accountID, base.RemoteContactID, mergee); err != nil {
			result.Failed++
			errs = append(errs, err)
			continue
		}
		result.Merged++
	}
	return errors.Join(errs...)
}

func (r *Reconciler) settleMergee(ctx context.Context, accountID string, baseRemoteID int64, mergee store.PlatformContact) error {
	if err := r.contacts.MarkPlatformContactMerged(ctx, mergee.ID, baseRemoteID); err != nil {
		return fmt.Errorf("failed to mark shadow record merged: %w", err)
	}

	moved, err := r.conversations.RepointRemoteContact(ctx, accountID, mergee.RemoteContactID, baseRemoteID)
	if err != nil {
		return fmt.Errorf("failed to repoint conversations: %w", err)
	}
	if err := r.contacts.RepointContactInboxes(ctx, accountID, mergee.RemoteContactID, baseRemoteID); err != nil {
		return fmt.Errorf("failed to repoint contact inboxes: %w", err)
	}

	r.logger.Info("shadow record merged",
		zap.String("account_id", accountID),
		zap.Int64("base", baseRemoteID),
		zap.Int64("mergee", mergee.RemoteContactID),
		zap.Int64("conversations_repointed", moved))
	return nil
}
