/*
Package cluster provides versioned replicated state and distributed
locking for the control plane.

The cluster package keeps a single ClusterState per node (VM ownership,
VM states, node liveness, configuration, locks, HA states) and fans out
every change to subscribers as SyncMessage values. Updates carry a
monotonically increasing version; a receiver applies an update only if
it is strictly newer than its own state, so concurrent writers converge
on first-apply-wins. This is advisory owner gossip, not consensus:
anything that needs a strong guarantee must take a distributed lock
before acting.

# Architecture

State synchronization flows through a single writer per node:

	Local change:
	 1. BroadcastChange(op) takes the write lock
	 2. version incremented, operation applied
	 3. write lock released
	 4. Update message broadcast to subscribers

	Remote update:
	 1. Peer transport delivers a SyncMessage
	 2. HandleMessage dispatches by kind
	 3. ApplyUpdate discards anything at or below the local version
	 4. Newer operations are applied and the version adopted

	Snapshot recovery:
	 1. A joining node broadcasts RequestSnapshot
	 2. Peers answer with a full Snapshot message
	 3. ApplySnapshot replaces state only if strictly newer

# Distributed Locks

Locks are leased, not held: every grant expires after the configured
TTL unless the holder reacquires to extend it.

Compatibility rules:
  - The current holder may always reacquire; exclusive upgrades stick.
  - An exclusive request against any foreign unexpired lock is denied.
  - Any request against a foreign unexpired exclusive lock is denied.
  - Shared requests coexist with foreign shared locks.
  - Release by a non-holder is an error and mutates nothing.

CleanupExpired runs from a background sweeper and removes lapsed leases
so a crashed holder never wedges a resource for longer than one TTL.

# Liveness

Heartbeat stamps the local node and broadcasts; OnPeerHeartbeat stamps
a remote node. SweepStaleNodes marks nodes silent past the timeout as
offline. That sweep is the only path that downgrades a node to offline
without an explicit NodeLeft operation.

# Usage

	c := cluster.New("node-1", 60*time.Second)

	sub := c.Subscribe()
	defer c.Unsubscribe(sub)

	go func() {
		for msg := range sub {
			transport.SendToPeers(msg)
		}
	}()

	c.BroadcastChange(cluster.StateUpdate{
		Op:   cluster.OpVmCreated,
		VmID: "vm-100",
		Node: "node-1",
	})

	granted, err := c.Acquire("vm-100", "node-1", types.LockExclusive)
	if err == nil && granted {
		defer c.Release("vm-100", "node-1")
		// exclusive work on vm-100
	}

# Integration Points

This package integrates with:

  - internal/types for ClusterState, NodeStatus, and DistributedLock
  - internal/fencing, whose FenceNode takes node ids such as those
    SweepStaleNodes returns; cmd/vcpd's sweep loop does not pass them on
  - cmd/vcpd, which drives the lock and stale-node sweeps

# Limitations

The sync model is deliberately not linearizable. Two nodes may assign
the same version to concurrent updates; the receiver keeps whichever
arrived first and drops the other. Peer transport (who carries
SyncMessage values between nodes) lives outside this package.
*/
package cluster
