// Package coordinator implements node lifecycle publication and the
// coordinator-primary hand-off protocol (§4.2): the node and coordinator
// state machines, primary contention, and the seven-phase acquisition/
// release sequence that moves floating service IPs and singleton
// services between hosts.
package coordinator

import (
	"context"
	"time"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// ServiceSet is the orchestration surface the hand-off drives (§4.2's
// phase table): DNS aggregator, per-network DHCP servers, client/metadata
// APIs, and the floating-IP families. Implemented by pkg/network and
// pkg/coordinator/dnsaggregator.go; kept as an interface here so this
// package never imports either and no import cycle forms.
type ServiceSet interface {
	StopClientAPIs(ctx context.Context) error
	StartClientAPIs(ctx context.Context) error

	StopDNSAggregator(ctx context.Context) error
	StartDNSAggregator(ctx context.Context) error

	StopTenantDHCP(ctx context.Context) error
	StartTenantDHCP(ctx context.Context) error

	AddUpstreamFloatingIP(ctx context.Context) error
	RemoveUpstreamFloatingIP(ctx context.Context) error

	AddClusterStorageFloatingIPs(ctx context.Context) error
	RemoveClusterStorageFloatingIPs(ctx context.Context) error

	AddMetadataLinkLocalIP(ctx context.Context) error
	RemoveMetadataLinkLocalIP(ctx context.Context) error

	AddManagedNetworkGateways(ctx context.Context) error
	RemoveManagedNetworkGateways(ctx context.Context) error

	// PromoteAuxiliaryLeader transitions any backing database/leader role
	// the daemon depends on (phase G).
	PromoteAuxiliaryLeader(ctx context.Context) error
}

// Config is the subset of pkg/config.Config the coordinator needs.
type Config struct {
	NodeID                   string
	DaemonMode               types.DaemonMode
	PrimaryContentionTimeout time.Duration
	HandoffSettleDelay       time.Duration
	HandoffPhaseGTimeout     time.Duration
}

// PeerNotifier is the optional inter-node accelerant for primary hand-off
// (§4.2): the protocol's correctness never depends on it, since every
// phase is already store-mediated, but a direct push lets peers stop
// treating the old primary as current without waiting a watch round-trip.
// Satisfied by *pkg/rpc.Pool.
type PeerNotifier interface {
	NotifyPrimary(ctx context.Context, peerAddr, newPrimary string) error
}

// Manager drives this node's lifecycle publication and coordinator
// election.
type Manager struct {
	cfg      Config
	store    *store.Store
	services ServiceSet
	notifier PeerNotifier
}

// New creates a coordinator Manager. A nil services defaults to
// NoopServiceSet, so contention/election logic can be exercised without
// pkg/network wired in.
func New(cfg Config, s *store.Store, services ServiceSet) *Manager {
	if services == nil {
		services = NoopServiceSet{}
	}
	return &Manager{cfg: cfg, store: s, services: services}
}

// SetNotifier wires a PeerNotifier used to push best-effort hand-off
// notifications after this node becomes primary. Leaving it unset is
// fine; the protocol works without it.
func (m *Manager) SetNotifier(n PeerNotifier) {
	m.notifier = n
}

// notifyPeers pushes newPrimary to every other node this node currently
// knows an rpc_addr for, ignoring failures — best effort only.
func (m *Manager) notifyPeers(ctx context.Context, newPrimary string) {
	if m.notifier == nil {
		return
	}
	for _, nodeID := range m.store.Children("nodes") {
		if nodeID == m.cfg.NodeID {
			continue
		}
		var addr string
		if !treekv.Get(m.store, "node.rpc_addr", nodeID, &addr) || addr == "" {
			continue
		}
		if err := m.notifier.NotifyPrimary(ctx, addr, newPrimary); err != nil {
			log.Errorf("handoff: notify peer of new primary", err)
		}
	}
}

// Run publishes this node's initial presence and then reacts to
// base.config.primary_node changes until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	treekv.Put(m.store, "node.daemon_mode", m.cfg.NodeID, m.cfg.DaemonMode)
	treekv.Put(m.store, "node.daemon_state", m.cfg.NodeID, types.DaemonStateInit)
	treekv.Put(m.store, "node.domain_state", m.cfg.NodeID, types.DomainFlagReady)

	coordState := types.CoordinatorClient
	if m.cfg.DaemonMode == types.DaemonModeCoordinator {
		coordState = types.CoordinatorSecondary
	}
	treekv.Put(m.store, "node.coordinator_state", m.cfg.NodeID, coordState)
	treekv.Put(m.store, "node.daemon_state", m.cfg.NodeID, types.DaemonStateRun)

	if m.cfg.DaemonMode != types.DaemonModeCoordinator {
		<-ctx.Done()
		return
	}

	path, ok := treekv.Path(m.store, "base.config.primary_node", "")
	if !ok {
		<-ctx.Done()
		return
	}
	m.reactToPrimaryNode(ctx)

	events, cancel := m.store.Watch(path)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			m.reactToPrimaryNode(ctx)
		}
	}
}

func (m *Manager) reactToPrimaryNode(ctx context.Context) {
	var primary string
	treekv.Get(m.store, "base.config.primary_node", "", &primary)

	var state types.CoordinatorState
	treekv.Get(m.store, "node.coordinator_state", m.cfg.NodeID, &state)

	switch {
	case primary == "":
		m.contend(ctx)
	case primary == m.cfg.NodeID:
		if state != types.CoordinatorPrimary && state != types.CoordinatorTakeover {
			m.takeover(ctx)
		}
	default:
		if state == types.CoordinatorPrimary {
			m.relinquish(ctx, primary)
		}
	}
}

// contend attempts the short-timeout exclusive lock race for an empty
// primary_node (§4.2).
func (m *Manager) contend(ctx context.Context) {
	lockPath, ok := treekv.Path(m.store, "primary_node.lock", "")
	if !ok {
		return
	}
	timeout := m.cfg.PrimaryContentionTimeout
	if timeout <= 0 || timeout > 500*time.Millisecond {
		timeout = 500 * time.Millisecond
	}
	if !m.store.AcquireLock(lockPath, m.cfg.NodeID, store.LockExclusive, timeout) {
		log.Info("primary contention lost, staying secondary")
		return
	}
	defer m.store.ReleaseLock(lockPath, m.cfg.NodeID)

	var current string
	treekv.Get(m.store, "base.config.primary_node", "", &current)
	if current != "" {
		// Someone else already wrote a winner before we took the lock.
		return
	}
	treekv.Put(m.store, "base.config.primary_node", "", m.cfg.NodeID)
}
