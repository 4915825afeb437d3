// Package hypervisor defines the local domain-API boundary pkg/vm drives
// (§6): a pluggable driver behind an interface, the structural role the
// teacher's pkg/runtime plays for containerd (pkg/runtime/containerd.go)
// but shaped for a libvirt/KVM-style domain API instead of OCI containers
// (SPEC_FULL.md DOMAIN STACK: containerd/runtime-spec dropped, this
// interface plays the same role).
package hypervisor

import (
	"context"
	"time"
)

// DomainState is the hypervisor-reported run state of a domain, distinct
// from the store-declared types.DomainState the cluster wants it to be in.
type DomainState string

const (
	StateRunning    DomainState = "running"
	StateShutoff    DomainState = "shutoff"
	StatePaused     DomainState = "paused"
	StateNotPresent DomainState = "not_present"
)

// MigrateFlags controls how Migrate behaves.
type MigrateFlags struct {
	Live bool
}

// InterfaceStats is one network interface's counters, from interfaceStats.
type InterfaceStats struct {
	RXBytes int64
	TXBytes int64
}

// BlockStats is one disk's counters, from blockStats.
type BlockStats struct {
	ReadBytes  int64
	WriteBytes int64
}

// Driver is the local hypervisor connection contract (§6): createXML,
// destroy, shutdown, migrate, state, XMLDesc, interfaceStats, blockStats,
// memoryStats, attachDevice, detachDevice.
type Driver interface {
	// CreateXML defines and starts a domain from its stored XML spec.
	CreateXML(ctx context.Context, uuid, xmlSpec string) error
	// Destroy forcibly stops a domain (force destroy, §4.4 "stop" row).
	Destroy(ctx context.Context, uuid string) error
	// Shutdown requests a graceful ACPI shutdown.
	Shutdown(ctx context.Context, uuid string) error
	// Migrate pushes a live-migration stream to destinationURI
	// (e.g. "qemu+tcp://<peer-cluster-addr>/system", §6).
	Migrate(ctx context.Context, uuid, destinationURI string, flags MigrateFlags) error
	// State returns the domain's current hypervisor-observed run state.
	State(ctx context.Context, uuid string) (DomainState, error)
	// XMLDesc returns the domain's live XML description.
	XMLDesc(ctx context.Context, uuid string) (string, error)
	InterfaceStats(ctx context.Context, uuid string) (InterfaceStats, error)
	BlockStats(ctx context.Context, uuid string) (BlockStats, error)
	MemoryStats(ctx context.Context, uuid string) (usedKB int64, err error)
	AttachDevice(ctx context.Context, uuid, deviceXML string) error
	DetachDevice(ctx context.Context, uuid, deviceXML string) error
	// ConsoleStream returns a channel of console output lines for the
	// console watcher (§4.4); closed when ctx is cancelled.
	ConsoleStream(ctx context.Context, uuid string) (<-chan string, error)
	// ListRunning returns the uuids the hypervisor currently reports running,
	// used by the keepalive VM collector's reconciliation pass (§4.3 step 2).
	ListRunning(ctx context.Context) ([]string, error)
}

// Timeout is the default bound the caller should apply to a Driver call
// that isn't itself context-scoped by the caller (§5: external-process
// calls wrapped with a configured timeout).
const Timeout = 128 * time.Second
