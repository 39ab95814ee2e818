package cluster

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vircore/controlplane/internal/errs"
	"github.com/vircore/controlplane/internal/log"
	"github.com/vircore/controlplane/internal/types"
)

// SyncMessageKind tags the variant carried by a SyncMessage.
type SyncMessageKind string

const (
	MsgRequestSnapshot SyncMessageKind = "RequestSnapshot"
	MsgSnapshot        SyncMessageKind = "Snapshot"
	MsgUpdate          SyncMessageKind = "Update"
	MsgHeartbeat       SyncMessageKind = "Heartbeat"
	MsgLockRequest     SyncMessageKind = "LockRequest"
	MsgLockGranted     SyncMessageKind = "LockGranted"
	MsgLockReleased    SyncMessageKind = "LockReleased"
	MsgLockDenied      SyncMessageKind = "LockDenied"
)

// UpdateOpKind tags the operation carried inside a StateUpdate.
type UpdateOpKind string

const (
	OpVmCreated     UpdateOpKind = "VmCreated"
	OpVmDeleted     UpdateOpKind = "VmDeleted"
	OpVmMigration   UpdateOpKind = "VmMigration"
	OpVmStateChange UpdateOpKind = "VmStateChange"
	OpNodeJoined    UpdateOpKind = "NodeJoined"
	OpNodeLeft      UpdateOpKind = "NodeLeft"
	OpConfigChange  UpdateOpKind = "ConfigChange"
	OpHaStateChange UpdateOpKind = "HaStateChange"
)

// StateUpdate is one state-mutating operation, tagged by Op.
type StateUpdate struct {
	Op       UpdateOpKind
	VmID     string
	Node     string
	Addr     string
	NewState types.VmStatus
	Key      string
	Value    string
}

// SyncMessage is the wire envelope broadcast to subscribers.
type SyncMessage struct {
	Kind      SyncMessageKind
	Node      string
	Version   uint64
	Update    *StateUpdate
	Snapshot  *types.ClusterState
	Lock      *types.DistributedLock
	Resource  string
	Timestamp time.Time
}

// Subscriber receives broadcast SyncMessage values.
type Subscriber chan *SyncMessage

// Cluster owns the single ClusterState and fans out changes to
// subscribers over bounded buffered channels.
type Cluster struct {
	nodeID  string
	lockTTL time.Duration

	mu    sync.RWMutex
	state *types.ClusterState

	subMu       sync.RWMutex
	subscribers map[Subscriber]bool

	logger zerolog.Logger
}

// New creates a Cluster owned by nodeID, with a fresh, empty ClusterState.
func New(nodeID string, lockTTL time.Duration) *Cluster {
	return &Cluster{
		nodeID:      nodeID,
		lockTTL:     lockTTL,
		state:       types.NewClusterState(),
		subscribers: make(map[Subscriber]bool),
		logger:      log.WithNode(nodeID),
	}
}

// Subscribe registers a new subscriber with a bounded buffer.
func (c *Cluster) Subscribe() Subscriber {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	sub := make(Subscriber, 64)
	c.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscriber channel.
func (c *Cluster) Unsubscribe(sub Subscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subscribers[sub]; ok {
		delete(c.subscribers, sub)
		close(sub)
	}
}

func (c *Cluster) broadcast(msg *SyncMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for sub := range c.subscribers {
		select {
		case sub <- msg:
		default:
			c.logger.Warn().Msg("subscriber buffer full, dropping sync message")
		}
	}
}

// Snapshot returns a consistent, independent copy of the current state.
func (c *Cluster) Snapshot() *types.ClusterState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// BroadcastChange applies op locally, incrementing version, and emits an
// Update to subscribers.
func (c *Cluster) BroadcastChange(op StateUpdate) {
	c.mu.Lock()
	c.state.Version++
	applyOp(c.state, op)
	c.state.UpdatedAt = time.Now()
	version := c.state.Version
	c.mu.Unlock()

	c.broadcast(&SyncMessage{Kind: MsgUpdate, Node: c.nodeID, Version: version, Update: &op})
}

// ApplyUpdate applies a remote update, discarding it if it is older than
// or equal to the current version (already-seen or stale).
func (c *Cluster) ApplyUpdate(fromNode string, version uint64, op StateUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if version <= c.state.Version {
		return false
	}
	applyOp(c.state, op)
	c.state.Version = version
	c.state.UpdatedAt = time.Now()
	return true
}

// ApplySnapshot replaces state wholesale, only if strictly newer.
func (c *Cluster) ApplySnapshot(snap *types.ClusterState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Version <= c.state.Version {
		return false
	}
	c.state = snap.Clone()
	return true
}

func applyOp(state *types.ClusterState, op StateUpdate) {
	switch op.Op {
	case OpVmCreated:
		state.VmOwners[op.VmID] = op.Node
		state.VmStates[op.VmID] = types.VmStatusRunning
	case OpVmDeleted:
		delete(state.VmOwners, op.VmID)
		delete(state.VmStates, op.VmID)
	case OpVmMigration:
		state.VmOwners[op.VmID] = op.Node
	case OpVmStateChange:
		state.VmStates[op.VmID] = op.NewState
	case OpNodeJoined:
		state.NodeStatuses[op.Node] = types.NodeStatus{NodeID: op.Node, LastSeen: time.Now(), Online: true}
	case OpNodeLeft:
		ns := state.NodeStatuses[op.Node]
		ns.NodeID = op.Node
		ns.Online = false
		ns.LastSeen = time.Now()
		state.NodeStatuses[op.Node] = ns
	case OpConfigChange:
		state.Config[op.Key] = op.Value
	case OpHaStateChange:
		state.HaStates[op.Key] = op.Value
	}
}

// Heartbeat records this node's liveness and broadcasts it to peers.
func (c *Cluster) Heartbeat() {
	c.mu.Lock()
	c.state.NodeStatuses[c.nodeID] = types.NodeStatus{NodeID: c.nodeID, Version: c.state.Version, LastSeen: time.Now(), Online: true}
	version := c.state.Version
	c.mu.Unlock()

	c.broadcast(&SyncMessage{Kind: MsgHeartbeat, Node: c.nodeID, Version: version})
}

// OnPeerHeartbeat updates the liveness record for a remote node.
func (c *Cluster) OnPeerHeartbeat(node string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns := c.state.NodeStatuses[node]
	ns.NodeID = node
	ns.Online = true
	ns.LastSeen = time.Now()
	c.state.NodeStatuses[node] = ns
}

// SweepStaleNodes marks nodes whose last heartbeat is older than
// staleAfter as offline, returning the node ids it marked down.
func (c *Cluster) SweepStaleNodes(now time.Time, staleAfter time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var downed []string
	for id, ns := range c.state.NodeStatuses {
		if ns.Online && now.Sub(ns.LastSeen) > staleAfter {
			ns.Online = false
			c.state.NodeStatuses[id] = ns
			downed = append(downed, id)
		}
	}
	return downed
}

// --- distributed lock ---

// Acquire attempts to acquire resource in mode on behalf of holder.
// The current holder may reacquire to extend its expiry; an exclusive
// request against any foreign lock, or any request against a foreign
// exclusive lock, is denied. The state write lock is released before
// the grant or denial is broadcast.
func (c *Cluster) Acquire(resource, holder string, mode types.LockMode) (bool, error) {
	now := time.Now()

	c.mu.Lock()
	existing, ok := c.state.Locks[resource]

	if ok && !existing.Expired(now) {
		if existing.Holder == holder {
			existing.Expires = now.Add(c.lockTTL)
			if mode == types.LockExclusive {
				existing.Mode = types.LockExclusive
			}
			c.state.Locks[resource] = existing
			c.mu.Unlock()
			c.broadcastLock(MsgLockGranted, resource, existing)
			return true, nil
		}

		if mode == types.LockExclusive || existing.Mode == types.LockExclusive {
			c.mu.Unlock()
			c.broadcastLock(MsgLockDenied, resource, existing)
			return false, nil
		}

		// shared request against an existing shared lock: the record keeps
		// a single holder, so coexistence is expressed by extending validity.
		existing.Expires = now.Add(c.lockTTL)
		c.state.Locks[resource] = existing
		c.mu.Unlock()
		c.broadcastLock(MsgLockGranted, resource, existing)
		return true, nil
	}

	lock := types.DistributedLock{Resource: resource, Holder: holder, Acquired: now, Expires: now.Add(c.lockTTL), Mode: mode}
	c.state.Locks[resource] = lock
	c.mu.Unlock()
	c.broadcastLock(MsgLockGranted, resource, lock)
	return true, nil
}

// Holds reports whether holder currently owns an unexpired lock on
// resource.
func (c *Cluster) Holds(resource, holder string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lock, ok := c.state.Locks[resource]
	if !ok {
		return false
	}
	return lock.Holder == holder && !lock.Expired(time.Now())
}

// Release relinquishes resource. Only the current holder may release it.
func (c *Cluster) Release(resource, holder string) error {
	c.mu.Lock()

	existing, ok := c.state.Locks[resource]
	if !ok {
		c.mu.Unlock()
		return errs.Conflictf("no lock held on %s", resource)
	}
	if existing.Holder != holder {
		c.mu.Unlock()
		return errs.PermissionDeniedf("%s is not the holder of lock %s", holder, resource)
	}

	delete(c.state.Locks, resource)
	c.mu.Unlock()

	c.broadcastLock(MsgLockReleased, resource, existing)
	return nil
}

// CleanupExpired removes every lock past its expiry, returning the count.
func (c *Cluster) CleanupExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for resource, lock := range c.state.Locks {
		if lock.Expired(now) {
			delete(c.state.Locks, resource)
			removed++
		}
	}
	return removed
}

func (c *Cluster) broadcastLock(kind SyncMessageKind, resource string, lock types.DistributedLock) {
	l := lock
	c.broadcast(&SyncMessage{Kind: kind, Node: c.nodeID, Resource: resource, Lock: &l})
}

// HandleMessage dispatches an incoming peer message: snapshot requests
// are answered with a full snapshot, updates and snapshots are applied
// under the version rules above, heartbeats refresh the sender's
// liveness record, and lock requests run through Acquire on the
// requester's behalf.
func (c *Cluster) HandleMessage(msg *SyncMessage) {
	switch msg.Kind {
	case MsgRequestSnapshot:
		c.broadcast(&SyncMessage{Kind: MsgSnapshot, Node: c.nodeID, Snapshot: c.Snapshot()})
	case MsgSnapshot:
		if msg.Snapshot != nil {
			c.ApplySnapshot(msg.Snapshot)
		}
	case MsgUpdate:
		if msg.Update != nil {
			c.ApplyUpdate(msg.Node, msg.Version, *msg.Update)
		}
	case MsgHeartbeat:
		c.OnPeerHeartbeat(msg.Node)
	case MsgLockRequest:
		mode := types.LockExclusive
		if msg.Lock != nil && msg.Lock.Mode != "" {
			mode = msg.Lock.Mode
		}
		_, _ = c.Acquire(msg.Resource, msg.Node, mode)
	case MsgLockReleased:
		c.mu.Lock()
		if existing, ok := c.state.Locks[msg.Resource]; ok && existing.Holder == msg.Node {
			delete(c.state.Locks, msg.Resource)
		}
		c.mu.Unlock()
	}
}
