package affinity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vircore/controlplane/internal/types"
)

func TestSuggestNodeHonorsRequiredNodeAffinity(t *testing.T) {
	e := New()
	e.SetRules([]types.AffinityRule{
		{ID: "r1", Priority: 1, Enabled: true, Variant: types.VariantNodeAffinity, Policy: types.PolicyRequired,
			Resources: []string{"vm-db"}, Nodes: []string{"node1", "node2"}},
	})

	node, err := e.SuggestNode("vm-db", []string{"node1", "node2", "node3"}, map[string]string{})
	require.NoError(t, err)
	assert.Contains(t, []string{"node1", "node2"}, node)

	err = e.ValidatePlacement("vm-db", "node3", map[string]string{})
	assert.Error(t, err)

	err = e.ValidatePlacement("vm-db", "node1", map[string]string{})
	assert.NoError(t, err)
}

func TestSuggestNodeRequiredUnsatisfiable(t *testing.T) {
	e := New()
	e.SetRules([]types.AffinityRule{
		{ID: "r1", Priority: 1, Enabled: true, Variant: types.VariantNodeAffinity, Policy: types.PolicyRequired,
			Resources: []string{"vm-db"}, Nodes: []string{"node9"}},
	})

	_, err := e.SuggestNode("vm-db", []string{"node1", "node2"}, map[string]string{})
	assert.Error(t, err)
}

func TestResourceAffinityPullsTowardCoGroup(t *testing.T) {
	e := New()
	e.SetRules([]types.AffinityRule{
		{ID: "r1", Priority: 1, Enabled: true, Variant: types.VariantResourceAffinity, Policy: types.PolicyPreferred,
			Resources: []string{"web1", "web2"}},
	})

	placements := map[string]string{"web1": "node2"}
	node, err := e.SuggestNode("web2", []string{"node1", "node2"}, placements)
	require.NoError(t, err)
	assert.Equal(t, "node2", node)
}

func TestAntiAffinityPushesAwayFromCoGroup(t *testing.T) {
	e := New()
	e.SetRules([]types.AffinityRule{
		{ID: "r1", Priority: 1, Enabled: true, Variant: types.VariantAntiAffinity, Policy: types.PolicyRequired,
			Resources: []string{"replica1", "replica2"}},
	})

	placements := map[string]string{"replica1": "node1"}
	node, err := e.SuggestNode("replica2", []string{"node1", "node2"}, placements)
	require.NoError(t, err)
	assert.Equal(t, "node2", node)

	assert.Error(t, e.ValidatePlacement("replica2", "node1", placements))
	assert.NoError(t, e.ValidatePlacement("replica2", "node2", placements))
}

func TestValidateRuleCardinality(t *testing.T) {
	assert.Error(t, ValidateRule(types.AffinityRule{ID: "bad", Variant: types.VariantNodeAffinity}))
	assert.Error(t, ValidateRule(types.AffinityRule{ID: "bad", Variant: types.VariantResourceAffinity, Resources: []string{"a"}}))
	assert.NoError(t, ValidateRule(types.AffinityRule{ID: "ok", Variant: types.VariantResourceAffinity, Resources: []string{"a", "b"}}))
}

func TestSetRulesDropsMalformedEntries(t *testing.T) {
	e := New()
	e.SetRules([]types.AffinityRule{
		{ID: "bad", Enabled: true, Variant: types.VariantAntiAffinity, Resources: []string{"only-one"}},
		{ID: "good", Enabled: true, Variant: types.VariantNodeAffinity, Policy: types.PolicyPreferred,
			Resources: []string{"vm1"}, Nodes: []string{"node1"}},
	})
	require.Len(t, e.rules, 1)
	assert.Equal(t, "good", e.rules[0].ID)
}
