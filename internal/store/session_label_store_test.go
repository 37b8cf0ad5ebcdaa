package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLabelStoreLifecycle(t *testing.T) {
	connStr := getTestDatabaseURL(t)
	db := setupTestDatabase(t, connStr)
	teamID := createTestTeam(t, db, "session-labels-team")
	ctx := ctxWithTeam(teamID)

	platformID := createTestPlatform(t, db, "waha", "https://waha.example.com")
	accountID := createTestAccount(t, db, teamID, platformID, 1)

	users := NewUserStore(db)
	agent, err := users.Create(ctx, "Routing Agent", "routing@example.com", RoleAgent, int64Ptr(12), []string{teamID})
	require.NoError(t, err)

	store := NewSessionLabelStore(db)

	mapping, err := store.Create(ctx, accountID, 55, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, teamID, mapping.TeamID)
	assert.Equal(t, int64(55), mapping.RemoteLabelID)
	assert.Equal(t, agent.ID, mapping.AgentID)

	found, err := store.FindByRemoteLabel(ctx, accountID, 55)
	require.NoError(t, err)
	assert.Equal(t, mapping.ID, found.ID)

	unmapped, err := store.FindByRemoteLabel(ctx, accountID, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, unmapped)

	listed, err := store.ListByAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, store.Delete(ctx, mapping.ID))
	listed, err = store.ListByAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Len(t, listed, 0)
}

func TestSessionLabelStoreDuplicateMapping(t *testing.T) {
	connStr := getTestDatabaseURL(t)
	db := setupTestDatabase(t, connStr)
	teamID := createTestTeam(t, db, "session-labels-dup-team")
	ctx := ctxWithTeam(teamID)

	platformID := createTestPlatform(t, db, "waha", "https://waha.example.com")
	accountID := createTestAccount(t, db, teamID, platformID, 1)

	users := NewUserStore(db)
	agent, err := users.Create(ctx, "Agent", "dup-agent@example.com", RoleAgent, nil, []string{teamID})
	require.NoError(t, err)

	store := NewSessionLabelStore(db)
	_, err = store.Create(ctx, accountID, 55, agent.ID)
	require.NoError(t, err)

	// One remote label maps to one agent per account.
	dup, err := store.Create(ctx, accountID, 55, agent.ID)
	assert.Error(t, err)
	assert.Nil(t, dup)
}
