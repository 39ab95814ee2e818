/*
Package affinity scores and validates VM placement under affinity
rules.

Three rule variants constrain where a resource may run:

  - NodeAffinity: a set of resources must/should run on a node set
  - ResourceAffinity: a set of resources must/should co-locate
  - AntiAffinity: a set of resources must/should separate

Each rule carries a required or preferred policy. Required rules score
at weight 100 and are enforced as hard constraints; preferred rules
score at weight 50 and only bias the choice.

# Scoring

SuggestNode initializes every available node at zero, then walks the
enabled rules touching the resource in descending priority order:
NodeAffinity adds weight to its allowed nodes, ResourceAffinity adds
weight to nodes already running a co-group member, AntiAffinity
subtracts weight from them. If a required NodeAffinity leaves no
available node, the request fails rather than picking a violating
node. The highest score wins; ties break by input order.

ValidatePlacement checks a concrete (resource, target) proposal
against the required rules only, so callers can veto a migration the
balancer suggested without re-running the scoring pass.

# Usage

	e := affinity.New()
	e.SetRules([]types.AffinityRule{{
		ID:        "db-pins",
		Priority:  10,
		Enabled:   true,
		Variant:   types.VariantNodeAffinity,
		Policy:    types.PolicyRequired,
		Resources: []string{"vm-db"},
		Nodes:     []string{"node1", "node2"},
	}})

	node, err := e.SuggestNode("vm-db", available, placements)
	err = e.ValidatePlacement("vm-db", "node3", placements)

# Integration Points

This package integrates with:

  - internal/balancer, whose migration targets a caller can check with
    ValidatePlacement; the balancer does not call it
  - internal/metrics for rule violation counters
  - cmd/vcpd apply, which bulk-loads rules from YAML
*/
package affinity
