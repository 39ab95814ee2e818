// Package types holds the shared data model for the control-plane core:
// VMs, users, sessions, audit events, storage pools, and replicated
// cluster state. Components reference each other only by id, never by
// pointer, so component lifetimes never tangle.
package types

import "time"

// HypervisorKind tags the virtualization technology backing a VmRecord.
type HypervisorKind string

const (
	HypervisorQEMU  HypervisorKind = "qemu"
	HypervisorLXC   HypervisorKind = "lxc-like"
	HypervisorOther HypervisorKind = "unknown"
)

// VmStatus is the lifecycle status of a VmRecord.
type VmStatus string

const (
	VmStatusRunning VmStatus = "running"
	VmStatusStopped VmStatus = "stopped"
	VmStatusPaused  VmStatus = "paused"
	VmStatusUnknown VmStatus = "unknown"
)

// VmRecord is the identity and sizing record for a virtual machine or
// container. Invariant: MemoryBytes > 0 && CPUs > 0.
type VmRecord struct {
	ID           string
	Name         string
	MemoryBytes  int64
	CPUs         int
	DiskBytes    int64
	Hypervisor   HypervisorKind
	Architecture string
	Status       VmStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role is a coarse-grained RBAC role name.
type Role string

// User is a (username, realm) compound identity. The pair is unique.
type User struct {
	Username     string
	Realm        string
	PasswordHash string
	Role         Role
	Enabled      bool
	Email        string
	Comment      string
	CreatedAt    time.Time
}

// UserID returns the stable "username@realm" identity string.
func (u User) UserID() string {
	return u.Username + "@" + u.Realm
}

// Session is an opaque, 128-bit server-side login session.
// Invariant: Expires.After(Created).
type Session struct {
	ID       string
	Username string
	Realm    string
	CSRF     string
	Created  time.Time
	Expires  time.Time
}

// Valid reports whether the session has not yet expired, relative to now.
func (s Session) Valid(now time.Time) bool {
	return now.Before(s.Expires)
}

// ApiKey is stored as a verifier hash of the secret, never the secret
// itself. The secret is returned to the caller once, at creation time.
type ApiKey struct {
	ID         string
	Username   string
	Realm      string
	Enabled    bool
	SecretHash string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the key has a configured expiry that has passed.
func (k ApiKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// EventKind enumerates audit event types. Identifiers are the wire
// names used in serialization.
type EventKind string

const (
	EventLogin                 EventKind = "Login"
	EventLogout                EventKind = "Logout"
	EventLoginFailed           EventKind = "LoginFailed"
	EventPasswordChanged       EventKind = "PasswordChanged"
	EventTwoFactorEnabled      EventKind = "TwoFactorEnabled"
	EventTwoFactorDisabled     EventKind = "TwoFactorDisabled"
	EventPermissionGranted     EventKind = "PermissionGranted"
	EventPermissionDenied      EventKind = "PermissionDenied"
	EventRoleAssigned          EventKind = "RoleAssigned"
	EventRoleRevoked           EventKind = "RoleRevoked"
	EventVmCreated             EventKind = "VmCreated"
	EventVmDeleted             EventKind = "VmDeleted"
	EventVmStarted             EventKind = "VmStarted"
	EventVmStopped             EventKind = "VmStopped"
	EventVmRestarted           EventKind = "VmRestarted"
	EventVmMigrated            EventKind = "VmMigrated"
	EventVmConfigChanged       EventKind = "VmConfigChanged"
	EventStoragePoolCreated    EventKind = "StoragePoolCreated"
	EventStoragePoolDeleted    EventKind = "StoragePoolDeleted"
	EventVolumeCreated         EventKind = "VolumeCreated"
	EventVolumeDeleted         EventKind = "VolumeDeleted"
	EventSnapshotCreated       EventKind = "SnapshotCreated"
	EventSnapshotDeleted       EventKind = "SnapshotDeleted"
	EventBackupCreated         EventKind = "BackupCreated"
	EventBackupRestored        EventKind = "BackupRestored"
	EventBackupDeleted         EventKind = "BackupDeleted"
	EventNodeAdded             EventKind = "NodeAdded"
	EventNodeRemoved           EventKind = "NodeRemoved"
	EventClusterJoined         EventKind = "ClusterJoined"
	EventClusterLeft           EventKind = "ClusterLeft"
	EventConfigChanged         EventKind = "ConfigChanged"
	EventSecretAccessed        EventKind = "SecretAccessed"
	EventCertificateIssued     EventKind = "CertificateIssued"
	EventCertificateRevoked    EventKind = "CertificateRevoked"
	EventSecurityPolicyChanged EventKind = "SecurityPolicyChanged"
	EventFirewallRuleAdded     EventKind = "FirewallRuleAdded"
	EventFirewallRuleDeleted   EventKind = "FirewallRuleDeleted"
	EventSuspiciousActivity    EventKind = "SuspiciousActivity"
	EventBruteForceDetected    EventKind = "BruteForceDetected"
)

// Severity is the audit severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Result is the outcome of the action an audit event describes.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPartial Result = "partial"
)

// AuditEvent is immutable once logged.
type AuditEvent struct {
	Timestamp time.Time
	Kind      EventKind
	Severity  Severity
	Result    Result
	User      string
	Source    string
	Resource  string
	Action    string
	Details   string
	SessionID string
}

// StorageBackendKind tags the backend technology of a StoragePool.
type StorageBackendKind string

const (
	BackendDirectory StorageBackendKind = "directory"
	BackendZFS       StorageBackendKind = "zfs"
	BackendCeph      StorageBackendKind = "ceph"
	BackendLVM       StorageBackendKind = "lvm"
	BackendISCSI     StorageBackendKind = "iscsi"
	BackendCIFS      StorageBackendKind = "cifs"
	BackendNFS       StorageBackendKind = "nfs"
	BackendGlusterFS StorageBackendKind = "glusterfs"
	BackendBtrfs     StorageBackendKind = "btrfs"
	BackendS3        StorageBackendKind = "s3"
)

// StoragePool is a configured storage backend instance.
type StoragePool struct {
	ID         string
	Name       string
	Kind       StorageBackendKind
	Location   string
	TotalBytes int64
	UsedBytes  int64
	AvailBytes int64
	Enabled    bool
}

// NodeStatus is the replicated liveness record for a cluster node.
type NodeStatus struct {
	NodeID   string
	Version  uint64
	LastSeen time.Time
	Online   bool
}

// LockMode is the acquisition mode of a DistributedLock.
type LockMode string

const (
	LockExclusive LockMode = "exclusive"
	LockShared    LockMode = "shared"
)

// DistributedLock guards a resource id cluster-wide.
// Invariant: at most one exclusive holder while Expires is in the future;
// shared locks coexist only with other shared locks.
type DistributedLock struct {
	Resource string
	Holder   string
	Acquired time.Time
	Expires  time.Time
	Mode     LockMode
}

// Expired reports whether the lock has lapsed relative to now.
func (l DistributedLock) Expired(now time.Time) bool {
	return !now.Before(l.Expires)
}

// ClusterState is the single replicated state blob owned exclusively by
// the cluster sync component (C6). version is monotonically increasing.
type ClusterState struct {
	Version      uint64
	UpdatedAt    time.Time
	VmOwners     map[string]string
	VmStates     map[string]VmStatus
	NodeStatuses map[string]NodeStatus
	Config       map[string]string
	Locks        map[string]DistributedLock
	HaStates     map[string]string
}

// NewClusterState returns a zero-value, fully-initialized ClusterState.
func NewClusterState() *ClusterState {
	return &ClusterState{
		VmOwners:     make(map[string]string),
		VmStates:     make(map[string]VmStatus),
		NodeStatuses: make(map[string]NodeStatus),
		Config:       make(map[string]string),
		Locks:        make(map[string]DistributedLock),
		HaStates:     make(map[string]string),
	}
}

// Clone returns a deep-enough copy suitable for a consistent reader
// snapshot (map contents are value types or small structs).
func (c *ClusterState) Clone() *ClusterState {
	out := NewClusterState()
	out.Version = c.Version
	out.UpdatedAt = c.UpdatedAt
	for k, v := range c.VmOwners {
		out.VmOwners[k] = v
	}
	for k, v := range c.VmStates {
		out.VmStates[k] = v
	}
	for k, v := range c.NodeStatuses {
		out.NodeStatuses[k] = v
	}
	for k, v := range c.Config {
		out.Config[k] = v
	}
	for k, v := range c.Locks {
		out.Locks[k] = v
	}
	for k, v := range c.HaStates {
		out.HaStates[k] = v
	}
	return out
}

// AffinityPolicy is the strength of an AffinityRule.
type AffinityPolicy string

const (
	PolicyRequired  AffinityPolicy = "required"
	PolicyPreferred AffinityPolicy = "preferred"
)

// AffinityVariant tags which shape an AffinityRule takes.
type AffinityVariant string

const (
	VariantNodeAffinity     AffinityVariant = "node"
	VariantResourceAffinity AffinityVariant = "resource"
	VariantAntiAffinity     AffinityVariant = "anti"
)

// AffinityRule expresses a placement constraint over a set of resources.
type AffinityRule struct {
	ID        string
	Priority  int
	Enabled   bool
	Variant   AffinityVariant
	Policy    AffinityPolicy
	Resources []string // VM/resource ids the rule applies to
	Nodes     []string // for NodeAffinity: allowed node set
}

// FencingAgentKind is the mechanism a FencingDevice uses to isolate a node.
type FencingAgentKind string

const (
	AgentIPMI       FencingAgentKind = "ipmi"
	AgentSSH        FencingAgentKind = "ssh"
	AgentLibvirt    FencingAgentKind = "libvirt"
	AgentWatchdog   FencingAgentKind = "watchdog"
	AgentSNMPPDU    FencingAgentKind = "snmp-pdu"
	AgentILO        FencingAgentKind = "ilo"
	AgentDRAC       FencingAgentKind = "drac"
	AgentHypervisor FencingAgentKind = "hypervisor"
	AgentManual     FencingAgentKind = "manual"
)

// FencingDevice is a single agent configured against a target node.
// Devices are tried in ascending Priority order (lower tried first).
type FencingDevice struct {
	ID         string
	TargetNode string
	Kind       FencingAgentKind
	Host       string
	Port       int
	Username   string
	Password   string
	Domain     string // libvirt domain name
	Priority   int
}

// FrequencyKind tags the variant of a SnapshotSchedule's trigger.
type FrequencyKind string

const (
	FreqHourly  FrequencyKind = "hourly"
	FreqDaily   FrequencyKind = "daily"
	FreqWeekly  FrequencyKind = "weekly"
	FreqMonthly FrequencyKind = "monthly"
	FreqCustom  FrequencyKind = "custom"
)

// Frequency is a tagged union of trigger variants for SnapshotSchedule.
type Frequency struct {
	Kind    FrequencyKind
	Hour    int    // Daily/Weekly/Monthly: hour of day, 0-23
	Weekday int    // Weekly: Sunday=0..Saturday=6
	Day     int    // Monthly: day of month, clamped to 28
	Cron    string // Custom: full cron expression
}

// SnapshotSchedule is a per-VM recurring snapshot policy with retention.
// Invariant: NextRun always satisfies Frequency and NextRun.After(LastRun).
type SnapshotSchedule struct {
	ID            string
	VmID          string
	NamePrefix    string
	Frequency     Frequency
	RetentionN    int
	Enabled       bool
	IncludeMemory bool
	LastRun       *time.Time
	NextRun       time.Time
}

// SnapshotInfo is a minimal description of an existing VM snapshot, as
// reported by the (external) snapshot manager collaborator.
type SnapshotInfo struct {
	Name      string
	VmID      string
	CreatedAt time.Time
}
