package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBalancedSingleNode(t *testing.T) {
	b := New(Config{Strategy: StrategyWeighted, Threshold: 20})
	assert.True(t, b.IsBalanced([]NodeMetrics{{NodeID: "a", CpuPercent: 90}}))
}

// S7: nodes A{cpu=90,mem=85,vms=10}, B{cpu=30,mem=35,vms=3}, Weighted,
// threshold=20, min_gain=5, max_migrations=2, three migratable VMs on A.
func TestRecommendationsScenarioS7(t *testing.T) {
	b := New(Config{Strategy: StrategyWeighted, Threshold: 20, MinGain: 5, MaxMigrations: 2})

	nodes := []NodeMetrics{
		{NodeID: "A", CpuPercent: 90, MemPercent: 85, VmCount: 10},
		{NodeID: "B", CpuPercent: 30, MemPercent: 35, VmCount: 3},
	}
	vms := []VmDemand{
		{VmID: "vm1", NodeID: "A", CpuShare: 0.05, MemShare: 0.05, Migratable: true},
		{VmID: "vm2", NodeID: "A", CpuShare: 0.05, MemShare: 0.05, Migratable: true},
		{VmID: "vm3", NodeID: "A", CpuShare: 0.05, MemShare: 0.05, Migratable: true},
	}

	assert.False(t, b.IsBalanced(nodes))

	recs := b.Recommendations(nodes, vms)
	require.LessOrEqual(t, len(recs), 2)
	for _, r := range recs {
		assert.Equal(t, "A", r.FromNode)
		assert.Equal(t, "B", r.ToNode)
	}
	for i := 1; i < len(recs); i++ {
		prevRank := priorityRank(recs[i-1].Priority)
		curRank := priorityRank(recs[i].Priority)
		if prevRank == curRank {
			assert.GreaterOrEqual(t, recs[i-1].Improvement, recs[i].Improvement)
		} else {
			assert.Greater(t, prevRank, curRank)
		}
	}
}

func TestRecommendationsEmptyWhenBalanced(t *testing.T) {
	b := New(Config{Strategy: StrategyCpu, Threshold: 20, MinGain: 1, MaxMigrations: 2})
	nodes := []NodeMetrics{
		{NodeID: "A", CpuPercent: 50},
		{NodeID: "B", CpuPercent: 55},
	}
	assert.Empty(t, b.Recommendations(nodes, nil))
}

func TestFindBestNodeSkipsInsufficientHeadroom(t *testing.T) {
	b := New(Config{Strategy: StrategyCpu, Threshold: 20})
	nodes := []NodeMetrics{
		{NodeID: "tight", CpuPercent: 10, CpuHeadroom: 0.05, MemHeadroom: 0.05},
		{NodeID: "roomy", CpuPercent: 40, CpuHeadroom: 0.5, MemHeadroom: 0.5},
	}
	demand := VmDemand{CpuShare: 0.2, MemShare: 0.2}

	node, err := b.FindBestNode(nodes, demand)
	require.NoError(t, err)
	assert.Equal(t, "roomy", node)
}

func TestFindBestNodeErrorsWhenNoneFit(t *testing.T) {
	b := New(Config{Strategy: StrategyCpu})
	nodes := []NodeMetrics{{NodeID: "a", CpuHeadroom: 0.01, MemHeadroom: 0.01}}
	_, err := b.FindBestNode(nodes, VmDemand{CpuShare: 0.5, MemShare: 0.5})
	assert.Error(t, err)
}
