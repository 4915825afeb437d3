// Package types defines the cluster-wide data model stored in the
// coordination tree: cluster config, nodes, VM domains, and tenant
// networks, plus the enums that drive every state machine in the daemon.
package types

import "time"

// ClusterConfig is the cluster-wide singleton configuration.
type ClusterConfig struct {
	MaintenanceMode         bool
	PrimaryNode             string // hostname, or "" for none
	UpstreamFloatingIP      string
	MigrationTargetSelector SelectorMode
	SchemaVersion           int
}

// SelectorMode is the policy used to pick a live-migration / recovery target.
type SelectorMode string

const (
	SelectorMem     SelectorMode = "mem"     // most free memory
	SelectorMemProv SelectorMode = "memprov" // most unprovisioned headroom
	SelectorLoad    SelectorMode = "load"    // lowest load
	SelectorVCPUs   SelectorMode = "vcpus"   // fewest allocated vCPUs
	SelectorVMs     SelectorMode = "vms"     // fewest running VMs
)

// DaemonMode is whether a node participates in coordinator election.
type DaemonMode string

const (
	DaemonModeCoordinator DaemonMode = "coordinator"
	DaemonModeHypervisor  DaemonMode = "hypervisor"
)

// DaemonState is the node process lifecycle state.
type DaemonState string

const (
	DaemonStateInit     DaemonState = "init"
	DaemonStateRun      DaemonState = "run"
	DaemonStateFlush    DaemonState = "flush"
	DaemonStateFlushed  DaemonState = "flushed"
	DaemonStateUnflush  DaemonState = "unflush"
	DaemonStateShutdown DaemonState = "shutdown"
	DaemonStateStop     DaemonState = "stop"
	DaemonStateDead     DaemonState = "dead"
)

// CoordinatorState is the primary-election role of a coordinator-mode node.
type CoordinatorState string

const (
	CoordinatorClient     CoordinatorState = "client"
	CoordinatorSecondary  CoordinatorState = "secondary"
	CoordinatorTakeover   CoordinatorState = "takeover"
	CoordinatorPrimary    CoordinatorState = "primary"
	CoordinatorRelinquish CoordinatorState = "relinquish"
)

// DomainStateFlag is the node-local drain state (distinct from VM Domain.State).
type DomainStateFlag string

const (
	DomainFlagReady   DomainStateFlag = "ready"
	DomainFlagFlush   DomainStateFlag = "flush"
	DomainFlagFlushed DomainStateFlag = "flushed"
	DomainFlagUnflush DomainStateFlag = "unflush"
)

// FenceRecoveryPolicy governs retry behavior for a failed IPMI fence action.
type FenceRecoveryPolicy string

const (
	FenceRecoveryReset FenceRecoveryPolicy = "reset"
	FenceRecoveryNone  FenceRecoveryPolicy = "none"
)

// Node is a physical host participating in the cluster, keyed by hostname.
type Node struct {
	Hostname         string
	DaemonMode       DaemonMode
	DaemonState      DaemonState
	CoordinatorState CoordinatorState
	DomainStateFlag  DomainStateFlag

	KeepaliveTimestamp time.Time

	MemTotal       int64
	MemUsed        int64
	MemFree        int64
	MemAllocated   int64
	MemProvisioned int64
	CPULoad        float64
	VCPUAllocated  int

	RunningDomains []string

	IPMIHost string
	IPMIUser string
	IPMIPass string

	ActiveSchemaVersion int

	// Supplemented (SPEC_FULL.md §3): cosmetic static facts, fetched once.
	StaticData []string
	// Supplemented: per-interface byte counters.
	NetworkStats map[string]InterfaceCounters
}

// InterfaceCounters is a snapshot of a network interface's byte counters.
type InterfaceCounters struct {
	RXBytes int64
	TXBytes int64
}

// IsLive reports whether the node is eligible as a migration/recovery target.
func (n *Node) IsLive() bool {
	return n.DaemonState == DaemonStateRun && n.DomainStateFlag == DomainFlagReady
}

// MigrateMethod controls whether a domain prefers live or shutdown-based migration.
type MigrateMethod string

const (
	MigrateMethodNone MigrateMethod = "none"
	MigrateMethodLive MigrateMethod = "live"
	MigrateMethodStop MigrateMethod = "shutdown"
)

// DomainState is the declared lifecycle state of a VM, per §3/§4.4.
type DomainState string

const (
	DomainStart       DomainState = "start"
	DomainRestart     DomainState = "restart"
	DomainShutdown    DomainState = "shutdown"
	DomainStop        DomainState = "stop"
	DomainDisable     DomainState = "disable"
	DomainFail        DomainState = "fail"
	DomainMigrate     DomainState = "migrate"
	DomainMigrateLive DomainState = "migrate-live"
	DomainUnmigrate   DomainState = "unmigrate"
	DomainProvision   DomainState = "provision"
)

// DomainMeta holds scheduling and lifecycle hints for a VM.
type DomainMeta struct {
	Autostart     bool
	MigrateMethod MigrateMethod
	NodeSelector  SelectorMode
	NodeLimit     []string
	Tags          []string
	NoAutorecover bool
}

// Domain is a VM, keyed by UUID.
type Domain struct {
	UUID    string
	Name    string
	XMLSpec string

	State        DomainState
	Node         string
	LastNode     string
	FailedReason string

	StorageVolumes []string // "pool/image" addresses

	ConsoleVNCPort int

	Meta DomainMeta

	MigrateSyncLock string // rendezvous value written by the receiver

	// Supplemented (SPEC_FULL.md §3).
	ConsoleLogLines []string
	MigrateStats    *MigrateStats
}

// MigrateStats records observability for an in-flight or last migration.
type MigrateStats struct {
	StartTime   time.Time
	Source      string
	Destination string
}

// NetworkType distinguishes pure-L2 bridged networks from managed overlays.
type NetworkType string

const (
	NetworkBridged NetworkType = "bridged"
	NetworkManaged NetworkType = "managed"
)

// IPv4Config is a tenant network's IPv4 configuration.
type IPv4Config struct {
	Network    string // CIDR
	Gateway    string
	DHCPFlag   bool
	DHCPRange  string
	FloatingIP string
}

// IPv6Config is a tenant network's IPv6 configuration.
type IPv6Config struct {
	Network  string
	Gateway  string
	DHCPFlag bool
}

// Reservation is an operator-declared static DHCP host entry.
type Reservation struct {
	MAC      string
	IP       string
	Hostname string
}

// Lease is a DHCP-daemon-written ephemeral host entry.
type Lease struct {
	MAC      string
	IP       string
	Hostname string
	Expiry   time.Time
	ClientID string
}

// FirewallRule is one operator-declared ACL entry.
type FirewallRule struct {
	Order       int
	Description string
	RuleText    string
}

// FirewallRules is the in/out rule set for a tenant network.
type FirewallRules struct {
	In  []FirewallRule
	Out []FirewallRule
}

// Network is a tenant network, keyed by 24-bit VNI.
type Network struct {
	VNI          int
	Type         NetworkType
	MTU          int
	DomainSuffix string
	NameServers  []string
	IPv4         IPv4Config
	IPv6         IPv6Config
	Reservations map[string]Reservation // keyed by MAC
	Leases       map[string]Lease       // keyed by MAC
	Rules        FirewallRules

	// Supplemented (SPEC_FULL.md §3): peer cluster-interface addresses
	// used to build the VXLAN FDB, derived from the node list.
	VXLANRemotes []string
}

// StorageStats mirrors the block store's cluster/health/pool/OSD stats.
// OSDCount is a string because the source observes the sentinel "?" when
// the storage layer is unreachable (SPEC_FULL.md open question (c)); it is
// never arithmetic-ed on.
type StorageStats struct {
	ClusterHealth string
	OSDCount      string
	Pools         map[string]PoolStats
}

// PoolStats mirrors one storage pool's utilization.
type PoolStats struct {
	UsedBytes  int64
	TotalBytes int64
}
