/*
Package balancer detects node-usage imbalance and recommends VM
migrations to correct it.

Every node gets a load score under the configured strategy:

  - cpu: cpu usage percent
  - memory: memory usage percent
  - vm_count: (vm count / 10) * 100
  - weighted: 0.4*cpu + 0.4*mem + 0.2*(vm count/10)*100

A cluster is balanced when max(score) - min(score) stays within the
threshold; a single-node cluster is trivially balanced.

# Recommendations

When the spread exceeds the threshold, candidates are the migratable
VMs on the highest-scored node, each evaluated as a move to the
lowest-scored node. The improvement of a move is the reduction in
score spread it would produce; moves below the minimum gain are
dropped, the rest are ranked by priority (>20 high, >10 medium, else
low) then improvement, and capped at the per-cycle migration limit.

FindBestNode serves initial placement: nodes without the CPU or
memory headroom for the demand are skipped and the lowest-scored
feasible node wins.

# Usage

	b := balancer.New(balancer.Config{
		Strategy:      balancer.StrategyWeighted,
		Threshold:     20,
		MinGain:       5,
		MaxMigrations: 2,
	})

	recs := b.Recommendations(nodes, vms)
	for _, r := range recs {
		migrate(r.VmID, r.FromNode, r.ToNode)
	}

# Integration Points

This package integrates with:

  - internal/affinity, whose ValidatePlacement a caller can run on a
    recommended target; Recommendations itself does not consult
    affinity rules
  - internal/metrics for per-priority recommendation counters
*/
package balancer
