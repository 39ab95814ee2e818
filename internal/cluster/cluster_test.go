package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vircore/controlplane/internal/types"
)

func TestBroadcastChangeIncrementsVersion(t *testing.T) {
	c := New("node-1", time.Minute)
	sub := c.Subscribe()
	defer c.Unsubscribe(sub)

	c.BroadcastChange(StateUpdate{Op: OpVmCreated, VmID: "vm-1", Node: "node-1"})

	snap := c.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, "node-1", snap.VmOwners["vm-1"])
	assert.Equal(t, types.VmStatusRunning, snap.VmStates["vm-1"])

	msg := <-sub
	assert.Equal(t, MsgUpdate, msg.Kind)
	assert.Equal(t, uint64(1), msg.Version)
}

func TestApplyUpdateDiscardsStale(t *testing.T) {
	c := New("node-1", time.Minute)
	c.BroadcastChange(StateUpdate{Op: OpVmCreated, VmID: "vm-1", Node: "node-1"})

	applied := c.ApplyUpdate("node-2", 1, StateUpdate{Op: OpVmDeleted, VmID: "vm-1"})
	assert.False(t, applied, "version equal to current must be discarded")

	applied = c.ApplyUpdate("node-2", 2, StateUpdate{Op: OpVmDeleted, VmID: "vm-1"})
	assert.True(t, applied)

	snap := c.Snapshot()
	_, exists := snap.VmOwners["vm-1"]
	assert.False(t, exists)
}

func TestApplySnapshotOnlyIfNewer(t *testing.T) {
	c := New("node-1", time.Minute)
	c.BroadcastChange(StateUpdate{Op: OpVmCreated, VmID: "vm-1", Node: "node-1"})

	older := types.NewClusterState()
	older.Version = 0
	assert.False(t, c.ApplySnapshot(older))

	newer := types.NewClusterState()
	newer.Version = 5
	newer.VmOwners["vm-2"] = "node-2"
	assert.True(t, c.ApplySnapshot(newer))

	snap := c.Snapshot()
	assert.Equal(t, uint64(5), snap.Version)
	assert.Equal(t, "node-2", snap.VmOwners["vm-2"])
}

func TestNodeJoinedAndLeft(t *testing.T) {
	c := New("node-1", time.Minute)
	c.BroadcastChange(StateUpdate{Op: OpNodeJoined, Node: "node-2"})

	snap := c.Snapshot()
	assert.True(t, snap.NodeStatuses["node-2"].Online)

	c.BroadcastChange(StateUpdate{Op: OpNodeLeft, Node: "node-2"})
	snap = c.Snapshot()
	assert.False(t, snap.NodeStatuses["node-2"].Online)
}

func TestSweepStaleNodes(t *testing.T) {
	c := New("node-1", time.Minute)
	c.OnPeerHeartbeat("node-2")

	downed := c.SweepStaleNodes(time.Now().Add(time.Hour), time.Minute)
	assert.Contains(t, downed, "node-2")

	snap := c.Snapshot()
	assert.False(t, snap.NodeStatuses["node-2"].Online)
}

func TestLockAcquireExclusiveBlocksOthers(t *testing.T) {
	c := New("node-1", time.Minute)

	granted, err := c.Acquire("vm-1", "holder-a", types.LockExclusive)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = c.Acquire("vm-1", "holder-b", types.LockShared)
	require.NoError(t, err)
	assert.False(t, granted, "exclusive holder must block any other request")
}

func TestLockAcquireSharedCoexist(t *testing.T) {
	c := New("node-1", time.Minute)

	granted, err := c.Acquire("vm-1", "holder-a", types.LockShared)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = c.Acquire("vm-1", "holder-b", types.LockShared)
	require.NoError(t, err)
	assert.True(t, granted, "shared locks coexist")
}

func TestLockReleaseOnlyByHolder(t *testing.T) {
	c := New("node-1", time.Minute)
	_, err := c.Acquire("vm-1", "holder-a", types.LockExclusive)
	require.NoError(t, err)

	err = c.Release("vm-1", "holder-b")
	assert.Error(t, err)

	err = c.Release("vm-1", "holder-a")
	assert.NoError(t, err)
}

func TestLockCleanupExpired(t *testing.T) {
	c := New("node-1", time.Minute)
	_, err := c.Acquire("vm-1", "holder-a", types.LockExclusive)
	require.NoError(t, err)

	removed := c.CleanupExpired(time.Now().Add(time.Hour))
	assert.Equal(t, 1, removed)

	granted, err := c.Acquire("vm-1", "holder-b", types.LockExclusive)
	require.NoError(t, err)
	assert.True(t, granted, "a new lock should be acquirable once the old one is cleaned up")
}

func TestHolds(t *testing.T) {
	c := New("node-1", time.Minute)
	assert.False(t, c.Holds("vm-1", "holder-a"))

	_, err := c.Acquire("vm-1", "holder-a", types.LockExclusive)
	require.NoError(t, err)
	assert.True(t, c.Holds("vm-1", "holder-a"))
	assert.False(t, c.Holds("vm-1", "holder-b"))

	removed := c.CleanupExpired(time.Now().Add(time.Hour))
	assert.Equal(t, 1, removed)
	assert.False(t, c.Holds("vm-1", "holder-a"), "expired lock is not held")
}

func TestHandleMessageDispatch(t *testing.T) {
	c := New("node-1", time.Minute)

	c.HandleMessage(&SyncMessage{Kind: MsgUpdate, Node: "node-2", Version: 1,
		Update: &StateUpdate{Op: OpVmCreated, VmID: "vm-9", Node: "node-2"}})
	assert.Equal(t, "node-2", c.Snapshot().VmOwners["vm-9"])

	c.HandleMessage(&SyncMessage{Kind: MsgHeartbeat, Node: "node-2"})
	assert.True(t, c.Snapshot().NodeStatuses["node-2"].Online)

	sub := c.Subscribe()
	defer c.Unsubscribe(sub)
	c.HandleMessage(&SyncMessage{Kind: MsgRequestSnapshot, Node: "node-2"})
	msg := <-sub
	require.Equal(t, MsgSnapshot, msg.Kind)
	assert.Equal(t, "node-2", msg.Snapshot.VmOwners["vm-9"])
}

func TestHandleMessageLockRequestFromPeer(t *testing.T) {
	c := New("node-a", time.Minute)

	granted, err := c.Acquire("vm-100", "node-a", types.LockExclusive)
	require.NoError(t, err)
	require.True(t, granted)

	// a peer's request replayed through state is denied while our lock lives
	c.HandleMessage(&SyncMessage{Kind: MsgLockRequest, Node: "node-b", Resource: "vm-100"})
	assert.True(t, c.Holds("vm-100", "node-a"))
	assert.False(t, c.Holds("vm-100", "node-b"))
}

func TestLockReacquireByHolderExtends(t *testing.T) {
	c := New("node-1", time.Minute)
	_, err := c.Acquire("vm-1", "holder-a", types.LockExclusive)
	require.NoError(t, err)

	granted, err := c.Acquire("vm-1", "holder-a", types.LockExclusive)
	require.NoError(t, err)
	assert.True(t, granted)
}
