package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountStoreCRUD(t *testing.T) {
	connStr := getTestDatabaseURL(t)
	db := setupTestDatabase(t, connStr)
	teamID := createTestTeam(t, db, "account-crud-team")
	ctx := ctxWithTeam(teamID)

	store := NewAccountStore(db)

	platform, err := store.CreatePlatform(ctx, "Main Chatwoot", "chatwoot", "https://chatwoot.example.com", "token-123")
	require.NoError(t, err)
	require.NotNil(t, platform)
	assert.Equal(t, "chatwoot", platform.Kind)

	account, err := store.Create(ctx, &platform.ID, 7, "Support Inbox")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, teamID, account.TeamID)
	assert.Equal(t, int64(7), account.RemoteAccountID)

	byID, err := store.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, byID.ID)

	accounts, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	require.NoError(t, store.Delete(ctx, account.ID))
	afterDelete, err := store.GetByID(ctx, account.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, afterDelete)
}

func TestAccountStoreResolveCredentials(t *testing.T) {
	connStr := getTestDatabaseURL(t)
	db := setupTestDatabase(t, connStr)
	teamID := createTestTeam(t, db, "account-creds-team")
	ctx := ctxWithTeam(teamID)

	store := NewAccountStore(db)

	platform, err := store.CreatePlatform(ctx, "Main Chatwoot", "chatwoot", "https://chatwoot.example.com", "token-123")
	require.NoError(t, err)
	account, err := store.Create(ctx, &platform.ID, 7, "Support Inbox")
	require.NoError(t, err)

	creds, err := store.ResolveCredentials(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://chatwoot.example.com", creds.BaseURL)
	assert.Equal(t, "token-123", creds.APIKey)
	assert.Equal(t, int64(7), creds.RemoteAccountID)
}

func TestAccountStoreResolveCredentialsNoPlatform(t *testing.T) {
	connStr := getTestDatabaseURL(t)
	db := setupTestDatabase(t, connStr)
	teamID := createTestTeam(t, db, "account-noplatform-team")
	ctx := ctxWithTeam(teamID)

	store := NewAccountStore(db)

	account, err := store.Create(ctx, nil, 9, "Unlinked Account")
	require.NoError(t, err)

	creds, err := store.ResolveCredentials(ctx, account.ID)
	assert.ErrorIs(t, err, ErrNoPlatformLink)
	assert.Nil(t, creds)
}

func TestAccountStoreResolveCredentialsIncomplete(t *testing.T) {
	connStr := getTestDatabaseURL(t)
	db := setupTestDatabase(t, connStr)
	teamID := createTestTeam(t, db, "account-incomplete-team")
	ctx := ctxWithTeam(teamID)

	store := NewAccountStore(db)

	platform, err := store.CreatePlatform(ctx, "Broken Platform", "waha", "https://waha.example.com", "k")
	require.NoError(t, err)
	_, err = db.Exec("UPDATE platforms SET api_key = '' WHERE id = $1", platform.ID)
	require.NoError(t, err)

	account, err := store.Create(ctx, &platform.ID, 3, "Broken Account")
	require.NoError(t, err)

	creds, err := store.ResolveCredentials(ctx, account.ID)
	assert.ErrorIs(t, err, ErrIncompleteCredentials)
	assert.Nil(t, creds)
}
