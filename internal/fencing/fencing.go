package fencing

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/vircore/controlplane/internal/metrics"
	"github.com/vircore/controlplane/internal/types"
)

// Action is the power operation requested of an Agent.
type Action string

const (
	ActionOff    Action = "off"
	ActionOn     Action = "on"
	ActionReset  Action = "reset"
	ActionStatus Action = "status"
)

// Outcome is the result of a single fencing attempt.
type Outcome string

const (
	OutcomeSuccess        Outcome = "Success"
	OutcomeFailed         Outcome = "Failed"
	OutcomeTimeout        Outcome = "Timeout"
	OutcomeManualRequired Outcome = "ManualRequired"
)

// FencingEvent records one attempt against one device.
type FencingEvent struct {
	Timestamp time.Time
	Node      string
	DeviceID  string
	Kind      types.FencingAgentKind
	Action    Action
	Outcome   Outcome
	Detail    string
}

// Agent executes a single power action against a device and reports the
// outcome. Implementations never panic on external failure; they return
// OutcomeFailed or OutcomeTimeout.
type Agent interface {
	Execute(ctx context.Context, dev types.FencingDevice, action Action) (Outcome, string)
}

// Manager dispatches fence_node across the configured devices for a
// target, in ascending priority order.
type Manager struct {
	enabled       bool
	deviceTimeout time.Duration
	agents        map[types.FencingAgentKind]Agent
	devicesByNode map[string][]types.FencingDevice

	mu   sync.Mutex
	ring []FencingEvent
}

const ringCapacity = 100

// New constructs a Manager with the built-in agent set wired in.
func New(enabled bool, deviceTimeout time.Duration) *Manager {
	return &Manager{
		enabled:       enabled,
		deviceTimeout: deviceTimeout,
		devicesByNode: make(map[string][]types.FencingDevice),
		agents: map[types.FencingAgentKind]Agent{
			types.AgentIPMI:     &ipmiAgent{},
			types.AgentSSH:      &sshAgent{},
			types.AgentLibvirt:  &libvirtAgent{},
			types.AgentWatchdog: &watchdogAgent{},
			types.AgentManual:   &manualAgent{},
			// iLO and DRAC controllers speak IPMI; a hypervisor-kind device
			// is driven through virsh like any libvirt domain.
			types.AgentILO:        &ipmiAgent{},
			types.AgentDRAC:       &ipmiAgent{},
			types.AgentHypervisor: &libvirtAgent{},
		},
	}
}

// RegisterDevice attaches a fencing device to its target node. Devices
// are kept sorted by ascending priority.
func (m *Manager) RegisterDevice(dev types.FencingDevice) {
	devs := append(m.devicesByNode[dev.TargetNode], dev)
	sortByPriority(devs)
	m.devicesByNode[dev.TargetNode] = devs
}

func sortByPriority(devs []types.FencingDevice) {
	for i := 1; i < len(devs); i++ {
		for j := i; j > 0 && devs[j].Priority < devs[j-1].Priority; j-- {
			devs[j], devs[j-1] = devs[j-1], devs[j]
		}
	}
}

// FenceNode powers off node, falling back across devices in priority
// order until one succeeds or all are exhausted.
func (m *Manager) FenceNode(ctx context.Context, node, reason string) Outcome {
	if !m.enabled {
		m.record(node, "", "", ActionOff, OutcomeFailed, "disabled")
		return OutcomeFailed
	}

	devices := m.devicesByNode[node]
	if len(devices) == 0 {
		return OutcomeManualRequired
	}

	for _, dev := range devices {
		agent, ok := m.agents[dev.Kind]
		if !ok {
			m.record(node, dev.ID, dev.Kind, ActionOff, OutcomeFailed, "no agent registered for kind")
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.deviceTimeout)
		outcome, detail := agent.Execute(attemptCtx, dev, ActionOff)
		cancel()

		m.record(node, dev.ID, dev.Kind, ActionOff, outcome, detail)

		if outcome == OutcomeSuccess {
			return OutcomeSuccess
		}
	}

	return OutcomeManualRequired
}

func (m *Manager) record(node, deviceID string, kind types.FencingAgentKind, action Action, outcome Outcome, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics.FencingActionsTotal.WithLabelValues(string(action), string(outcome)).Inc()

	ev := FencingEvent{Timestamp: time.Now(), Node: node, DeviceID: deviceID, Kind: kind, Action: action, Outcome: outcome, Detail: detail}
	if len(m.ring) >= ringCapacity {
		m.ring = m.ring[1:]
	}
	m.ring = append(m.ring, ev)
}

// EventsForNode returns recorded attempts against node, oldest first.
func (m *Manager) EventsForNode(node string) []FencingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []FencingEvent
	for _, ev := range m.ring {
		if ev.Node == node {
			out = append(out, ev)
		}
	}
	return out
}

// --- agents ---

type ipmiAgent struct{}

func (a *ipmiAgent) Execute(ctx context.Context, dev types.FencingDevice, action Action) (Outcome, string) {
	arg := map[Action]string{ActionOff: "off", ActionOn: "on", ActionReset: "reset", ActionStatus: "status"}[action]
	cmd := exec.CommandContext(ctx, "ipmitool",
		"-H", dev.Host, "-U", dev.Username, "-P", dev.Password,
		"chassis", "power", arg)

	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return OutcomeTimeout, "ipmitool timed out"
	}
	if err != nil {
		return OutcomeFailed, string(out)
	}
	return OutcomeSuccess, string(out)
}

type sshAgent struct{}

func (a *sshAgent) Execute(ctx context.Context, dev types.FencingDevice, action Action) (Outcome, string) {
	cmdByAction := map[Action]string{ActionOff: "poweroff", ActionReset: "reboot", ActionStatus: "uptime"}
	remoteCmd, ok := cmdByAction[action]
	if !ok {
		remoteCmd = "uptime"
	}

	config := &ssh.ClientConfig{
		User:            dev.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(dev.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := dev.Host
	if dev.Port != 0 {
		addr = hostPort(dev.Host, dev.Port)
	} else {
		addr = hostPort(dev.Host, 22)
	}

	client, err := dialSSHContext(ctx, addr, config)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return OutcomeTimeout, "ssh dial timed out"
		}
		return OutcomeFailed, err.Error()
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return OutcomeFailed, err.Error()
	}
	defer session.Close()

	err = session.Run(remoteCmd)
	if err != nil && (action == ActionOff || action == ActionReset) {
		// a closed connection on power-off/reboot is the expected outcome,
		// not a failure: the remote end tears down mid-command.
		return OutcomeSuccess, "connection closed by remote power action"
	}
	if err != nil {
		return OutcomeFailed, err.Error()
	}
	return OutcomeSuccess, ""
}

func hostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

func dialSSHContext(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, config)
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.client, r.err
	}
}

type libvirtAgent struct{}

func (a *libvirtAgent) Execute(ctx context.Context, dev types.FencingDevice, action Action) (Outcome, string) {
	arg := map[Action]string{ActionOff: "destroy", ActionOn: "start", ActionReset: "reboot", ActionStatus: "domstate"}[action]
	cmd := exec.CommandContext(ctx, "virsh", arg, dev.Domain)

	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return OutcomeTimeout, "virsh timed out"
	}
	if err != nil {
		return OutcomeFailed, string(out)
	}
	return OutcomeSuccess, string(out)
}

type watchdogAgent struct{}

func (a *watchdogAgent) Execute(ctx context.Context, dev types.FencingDevice, action Action) (Outcome, string) {
	if action == ActionStatus {
		if _, err := os.Stat(dev.Host); err != nil {
			return OutcomeFailed, "watchdog device not present"
		}
		return OutcomeSuccess, ""
	}
	f, err := os.OpenFile(dev.Host, os.O_WRONLY, 0)
	if err != nil {
		return OutcomeFailed, err.Error()
	}
	defer f.Close()
	if _, err := f.Write([]byte{'1'}); err != nil {
		return OutcomeFailed, err.Error()
	}
	return OutcomeSuccess, ""
}

type manualAgent struct{}

func (a *manualAgent) Execute(context.Context, types.FencingDevice, Action) (Outcome, string) {
	return OutcomeManualRequired, "manual intervention required"
}
