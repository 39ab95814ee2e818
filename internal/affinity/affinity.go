package affinity

import (
	"sort"

	"github.com/vircore/controlplane/internal/errs"
	"github.com/vircore/controlplane/internal/metrics"
	"github.com/vircore/controlplane/internal/types"
)

const (
	weightRequired  = 100
	weightPreferred = 50
)

// Engine scores and validates placements against a set of AffinityRule
// values. It holds no reference to the current placement map; callers
// pass it in per call.
type Engine struct {
	rules []types.AffinityRule
}

// New returns an Engine with no rules configured.
func New() *Engine {
	return &Engine{}
}

// SetRules replaces the full rule set. Rules are validated on entry; a
// malformed rule is dropped rather than rejecting the whole batch.
func (e *Engine) SetRules(rules []types.AffinityRule) {
	valid := make([]types.AffinityRule, 0, len(rules))
	for _, r := range rules {
		if err := ValidateRule(r); err == nil {
			valid = append(valid, r)
		}
	}
	e.rules = valid
}

// ValidateRule enforces rule cardinality: NodeAffinity needs >=1
// resource and >=1 node; ResourceAffinity and AntiAffinity each need
// >=2 resources.
func ValidateRule(r types.AffinityRule) error {
	switch r.Variant {
	case types.VariantNodeAffinity:
		if len(r.Resources) < 1 || len(r.Nodes) < 1 {
			return errs.Validationf("node affinity rule %s needs >=1 resource and >=1 node", r.ID)
		}
	case types.VariantResourceAffinity, types.VariantAntiAffinity:
		if len(r.Resources) < 2 {
			return errs.Validationf("%s rule %s needs >=2 resources", r.Variant, r.ID)
		}
	default:
		return errs.Validationf("unknown affinity variant %q", r.Variant)
	}
	return nil
}

func weight(policy types.AffinityPolicy) int {
	if policy == types.PolicyRequired {
		return weightRequired
	}
	return weightPreferred
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// rulesFor returns enabled rules that mention resource, sorted by
// descending priority.
func (e *Engine) rulesFor(resource string) []types.AffinityRule {
	var out []types.AffinityRule
	for _, r := range e.rules {
		if r.Enabled && contains(r.Resources, resource) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// SuggestNode scores every available node for resource under the
// configured rules and returns the highest-scoring one. placements maps
// resource id -> node id for already-placed resources, used to evaluate
// ResourceAffinity/AntiAffinity co-location. Returns
// RequiredAffinityUnsatisfiable (errs.Validation) if a required
// NodeAffinity rule's node set doesn't intersect availableNodes.
func (e *Engine) SuggestNode(resource string, availableNodes []string, placements map[string]string) (string, error) {
	rules := e.rulesFor(resource)

	score := make(map[string]int, len(availableNodes))
	for _, n := range availableNodes {
		score[n] = 0
	}

	for _, r := range rules {
		w := weight(r.Policy)
		switch r.Variant {
		case types.VariantNodeAffinity:
			if r.Policy == types.PolicyRequired {
				if !anyIntersect(r.Nodes, availableNodes) {
					return "", errs.Validationf("RequiredAffinityUnsatisfiable: rule %s allows none of the available nodes", r.ID)
				}
			}
			for _, n := range r.Nodes {
				if _, ok := score[n]; ok {
					score[n] += w
				}
			}
		case types.VariantResourceAffinity:
			for _, n := range availableNodes {
				if coGroupOnNode(r.Resources, resource, placements, n) {
					score[n] += w
				}
			}
		case types.VariantAntiAffinity:
			for _, n := range availableNodes {
				if coGroupOnNode(r.Resources, resource, placements, n) {
					score[n] -= w
				}
			}
		}
	}

	if len(availableNodes) == 0 {
		return "", errs.NotFoundf("no available nodes for %s", resource)
	}

	best := availableNodes[0]
	bestScore := score[best]
	for _, n := range availableNodes[1:] {
		if score[n] > bestScore {
			best = n
			bestScore = score[n]
		}
	}
	return best, nil
}

// coGroupOnNode reports whether any member of group (other than
// resource itself) is currently placed on node.
func coGroupOnNode(group []string, resource string, placements map[string]string, node string) bool {
	for _, member := range group {
		if member == resource {
			continue
		}
		if placements[member] == node {
			return true
		}
	}
	return false
}

func anyIntersect(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}

// ValidatePlacement returns nil only if every required rule mentioning
// resource is satisfied by placing it on target, given the current
// placements: NodeAffinity demands target in the allowed nodes,
// ResourceAffinity demands already-placed co-group members on target,
// AntiAffinity demands no co-group member already on target.
func (e *Engine) ValidatePlacement(resource, target string, placements map[string]string) error {
	for _, r := range e.rulesFor(resource) {
		if r.Policy != types.PolicyRequired {
			continue
		}
		switch r.Variant {
		case types.VariantNodeAffinity:
			if !contains(r.Nodes, target) {
				metrics.AffinityViolationsTotal.WithLabelValues(string(r.Variant)).Inc()
				return errs.Validationf("required node affinity %s forbids target %s", r.ID, target)
			}
		case types.VariantResourceAffinity:
			for _, member := range r.Resources {
				if member == resource {
					continue
				}
				if placed, ok := placements[member]; ok && placed != target {
					metrics.AffinityViolationsTotal.WithLabelValues(string(r.Variant)).Inc()
					return errs.Validationf("required resource affinity %s: %s is not on %s", r.ID, member, target)
				}
			}
		case types.VariantAntiAffinity:
			if coGroupOnNode(r.Resources, resource, placements, target) {
				metrics.AffinityViolationsTotal.WithLabelValues(string(r.Variant)).Inc()
				return errs.Validationf("required anti-affinity %s: a co-group member already runs on %s", r.ID, target)
			}
		}
	}
	return nil
}
