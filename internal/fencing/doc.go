/*
Package fencing implements STONITH node isolation.

When a node must be forced out of the cluster (unresponsive, suspected
split-brain), FenceNode walks that node's configured devices in
ascending priority order and executes the power-off action through
each device's agent until one succeeds. Every attempt is recorded in a
bounded ring queryable by node, and every agent invocation is wrapped
with a timeout so fencing always terminates in bounded time.

# Agents

  - ipmi, ilo, drac: chassis power control via ipmitool
  - ssh: remote poweroff/reboot over an SSH session; a connection torn
    down mid-command counts as success for power actions
  - libvirt, hypervisor: virsh destroy/start/reboot against a domain
  - watchdog: pokes the hardware watchdog device
  - manual: always reports ManualRequired to force operator action

# Fallback Semantics

 1. Fencing disabled: Failed, nothing attempted
 2. No devices for the node: ManualRequired
 3. Devices tried strictly in priority order; first Success wins
 4. Every device Failed or Timeout: ManualRequired

# Usage

	mgr := fencing.New(true, 60*time.Second)
	mgr.RegisterDevice(types.FencingDevice{
		ID:         "ipmi-node7",
		TargetNode: "node7",
		Kind:       types.AgentIPMI,
		Host:       "10.0.0.7",
		Username:   "admin",
		Priority:   1,
	})

	outcome := mgr.FenceNode(ctx, "node7", "heartbeat lost")
	events := mgr.EventsForNode("node7")

# Integration Points

This package integrates with:

  - internal/cluster, whose stale-node sweep returns the node ids it marked
    offline; nothing in this repository feeds them to FenceNode
  - internal/metrics for per-action outcome counters
  - cmd/vcpd apply, which bulk-loads device definitions from YAML
*/
package fencing
