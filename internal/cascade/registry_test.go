package cascade

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryResolvesForeignKeys(t *testing.T) {
	registry, err := NewRegistry([]Descriptor{
		{
			Entity: "account",
			Table:  "accounts",
			Links: []Link{
				{Name: "conversations", Table: "conversations"},
				{Name: "sessionLabels", Table: "session_labels"},
				{Name: "legacyRows", Table: "legacy_rows", ForeignKey: "owner_id"},
			},
		},
		{
			Entity:  "conversation",
			Table:   "conversations",
			Parents: []ParentRef{{Entity: "account", Column: "account_id"}},
		},
	})
	require.NoError(t, err)

	desc, err := registry.descriptor("account")
	require.NoError(t, err)
	require.Len(t, desc.links, 3)

	// Registered child resolves through its parent ref
	require.Equal(t, "account_id", desc.links[0].foreignKey)
	require.Equal(t, "conversation", desc.links[0].childEntity)

	// Unregistered table falls back to the naming convention
	require.Equal(t, "account_id", desc.links[1].foreignKey)
	require.Empty(t, desc.links[1].childEntity)

	// Explicit override wins
	require.Equal(t, "owner_id", desc.links[2].foreignKey)
}

func TestRegistryRejectsInvalidConfig(t *testing.T) {
	testCases := []struct {
		name        string
		descriptors []Descriptor
	}{
		{
			name:        "missing entity name",
			descriptors: []Descriptor{{Table: "accounts"}},
		},
		{
			name:        "invalid table identifier",
			descriptors: []Descriptor{{Entity: "account", Table: "accounts; drop table users"}},
		},
		{
			name: "duplicate entity",
			descriptors: []Descriptor{
				{Entity: "account", Table: "accounts"},
				{Entity: "account", Table: "accounts"},
			},
		},
		{
			name: "registered child without parent ref",
			descriptors: []Descriptor{
				{
					Entity: "account",
					Table:  "accounts",
					Links:  []Link{{Name: "conversations", Table: "conversations"}},
				},
				{Entity: "conversation", Table: "conversations"},
			},
		},
		{
			name: "invalid foreign key override",
			descriptors: []Descriptor{
				{
					Entity: "account",
					Table:  "accounts",
					Links:  []Link{{Name: "rows", Table: "rows", ForeignKey: "1 = 1"}},
				},
			},
		},
		{
			name: "invalid junction column",
			descriptors: []Descriptor{
				{
					Entity:         "account",
					Table:          "accounts",
					JunctionTables: []Junction{{Table: "entity_teams", Column: "id OR 1=1"}},
				},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.descriptors)
			require.Error(t, err)
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	registry, err := NewRegistry([]Descriptor{{Entity: "account", Table: "accounts"}})
	require.NoError(t, err)
	require.True(t, registry.Lookup("account"))
	require.False(t, registry.Lookup("conversation"))

	_, err = registry.descriptor("conversation")
	require.Error(t, err)
}
