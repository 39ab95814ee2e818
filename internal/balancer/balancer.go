package balancer

import (
	"sort"

	"github.com/vircore/controlplane/internal/errs"
	"github.com/vircore/controlplane/internal/metrics"
)

// Strategy selects which usage dimension a node's score is computed from.
type Strategy string

const (
	StrategyCpu      Strategy = "cpu"
	StrategyMemory   Strategy = "memory"
	StrategyVmCount  Strategy = "vm_count"
	StrategyWeighted Strategy = "weighted"
)

// Priority classifies a Recommendation by how much it improves balance.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// NodeMetrics is the usage snapshot for a single node.
type NodeMetrics struct {
	NodeID      string
	CpuPercent  float64
	MemPercent  float64
	VmCount     int
	CpuHeadroom float64 // free CPU share, 0..1, used by FindBestNode
	MemHeadroom float64 // free memory share, 0..1, used by FindBestNode
}

// VmDemand is a VM's resource footprint, used to estimate the effect of
// moving it and to test node headroom.
type VmDemand struct {
	VmID       string
	NodeID     string  // current owner
	CpuShare   float64 // fraction of a node's CPU this VM occupies
	MemShare   float64 // fraction of a node's memory this VM occupies
	Migratable bool
}

// Recommendation proposes migrating one VM to rebalance the cluster.
type Recommendation struct {
	VmID        string
	FromNode    string
	ToNode      string
	Improvement float64
	Priority    Priority
}

// Config tunes the balancer's imbalance thresholds.
type Config struct {
	Strategy      Strategy
	Threshold     float64 // max(score)-min(score) above which the cluster is imbalanced
	MinGain       float64 // minimum improvement to emit a recommendation
	MaxMigrations int
}

// Balancer evaluates cluster balance and proposes migrations. It holds
// no mutable state; every call is a pure function of its inputs.
type Balancer struct {
	cfg Config
}

// New constructs a Balancer with cfg, defaulting MaxMigrations to 1 if unset.
func New(cfg Config) *Balancer {
	if cfg.MaxMigrations <= 0 {
		cfg.MaxMigrations = 1
	}
	return &Balancer{cfg: cfg}
}

// Score computes a node's load score under the configured strategy.
func (b *Balancer) Score(m NodeMetrics) float64 {
	switch b.cfg.Strategy {
	case StrategyCpu:
		return m.CpuPercent
	case StrategyMemory:
		return m.MemPercent
	case StrategyVmCount:
		return float64(m.VmCount) / 10 * 100
	case StrategyWeighted:
		return 0.4*m.CpuPercent + 0.4*m.MemPercent + 0.2*float64(m.VmCount)/10*100
	default:
		return 0.4*m.CpuPercent + 0.4*m.MemPercent + 0.2*float64(m.VmCount)/10*100
	}
}

// IsBalanced reports whether the spread between the highest- and lowest-
// scored node is within Threshold. A single-node cluster is trivially
// balanced.
func (b *Balancer) IsBalanced(nodes []NodeMetrics) bool {
	if len(nodes) <= 1 {
		return true
	}
	lo, hi := b.minMaxScore(nodes)
	return hi-lo <= b.cfg.Threshold
}

func (b *Balancer) minMaxScore(nodes []NodeMetrics) (lo, hi float64) {
	lo = b.Score(nodes[0])
	hi = lo
	for _, n := range nodes[1:] {
		s := b.Score(n)
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return lo, hi
}

// Recommendations proposes up to Config.MaxMigrations VM moves from the
// highest-scored node to the lowest-scored one, ordered by priority then
// improvement, whenever the cluster is out of balance.
func (b *Balancer) Recommendations(nodes []NodeMetrics, vms []VmDemand) []Recommendation {
	if !b.outOfBalance(nodes) {
		return nil
	}

	src, dst := b.extremeNodes(nodes)
	if src == nil || dst == nil || src.NodeID == dst.NodeID {
		return nil
	}
	srcScore, dstScore := b.Score(*src), b.Score(*dst)

	var candidates []Recommendation
	for _, vm := range vms {
		if !vm.Migratable || vm.NodeID != src.NodeID {
			continue
		}

		newSrcScore := b.Score(withoutVm(*src, vm))
		newDstScore := b.Score(withVm(*dst, vm))

		before := abs(srcScore - dstScore)
		after := abs(newSrcScore - newDstScore)
		improvement := before - after

		if improvement < b.cfg.MinGain {
			continue
		}

		candidates = append(candidates, Recommendation{
			VmID:        vm.VmID,
			FromNode:    src.NodeID,
			ToNode:      dst.NodeID,
			Improvement: improvement,
			Priority:    priorityFor(improvement),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := priorityRank(candidates[i].Priority), priorityRank(candidates[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return candidates[i].Improvement > candidates[j].Improvement
	})

	if len(candidates) > b.cfg.MaxMigrations {
		candidates = candidates[:b.cfg.MaxMigrations]
	}
	for _, c := range candidates {
		metrics.BalancerRecommendationsTotal.WithLabelValues(string(c.Priority)).Inc()
	}
	return candidates
}

func (b *Balancer) outOfBalance(nodes []NodeMetrics) bool {
	if len(nodes) <= 1 {
		return false
	}
	lo, hi := b.minMaxScore(nodes)
	return hi-lo > b.cfg.Threshold
}

func (b *Balancer) extremeNodes(nodes []NodeMetrics) (src, dst *NodeMetrics) {
	if len(nodes) == 0 {
		return nil, nil
	}
	srcIdx, dstIdx := 0, 0
	srcScore, dstScore := b.Score(nodes[0]), b.Score(nodes[0])
	for i, n := range nodes[1:] {
		s := b.Score(n)
		if s > srcScore {
			srcScore = s
			srcIdx = i + 1
		}
		if s < dstScore {
			dstScore = s
			dstIdx = i + 1
		}
	}
	return &nodes[srcIdx], &nodes[dstIdx]
}

func withoutVm(n NodeMetrics, vm VmDemand) NodeMetrics {
	n.CpuPercent -= vm.CpuShare * 100
	n.MemPercent -= vm.MemShare * 100
	n.VmCount--
	return clampNonNegative(n)
}

func withVm(n NodeMetrics, vm VmDemand) NodeMetrics {
	n.CpuPercent += vm.CpuShare * 100
	n.MemPercent += vm.MemShare * 100
	n.VmCount++
	return n
}

func clampNonNegative(n NodeMetrics) NodeMetrics {
	if n.CpuPercent < 0 {
		n.CpuPercent = 0
	}
	if n.MemPercent < 0 {
		n.MemPercent = 0
	}
	if n.VmCount < 0 {
		n.VmCount = 0
	}
	return n
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func priorityFor(improvement float64) Priority {
	switch {
	case improvement > 20:
		return PriorityHigh
	case improvement > 10:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// FindBestNode picks the lowest-scored node with enough headroom to fit
// demand, skipping any node that lacks it.
func (b *Balancer) FindBestNode(nodes []NodeMetrics, demand VmDemand) (string, error) {
	var best *NodeMetrics
	var bestScore float64

	for i, n := range nodes {
		if n.CpuHeadroom < demand.CpuShare || n.MemHeadroom < demand.MemShare {
			continue
		}
		s := b.Score(n)
		if best == nil || s < bestScore {
			best = &nodes[i]
			bestScore = s
		}
	}

	if best == nil {
		return "", errs.Validationf("no node has enough headroom for the requested resources")
	}
	return best.NodeID, nil
}
