package network

import (
	"context"

	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// The floating-IP families §4.2's hand-off table names (phases C-E) are
// added/removed on the node's cluster-facing interface. Gateway IPs
// (phase F) are per-managed-network, added on the network's bridge.

// AddUpstreamFloatingIP implements coordinator.ServiceSet phase C.
func (m *Manager) AddUpstreamFloatingIP(ctx context.Context) error {
	var ip string
	if !treekv.Get(m.store, "base.config.upstream_ip", "", &ip) || ip == "" {
		return nil
	}
	return m.drv.AddAddress(ctx, m.cfg.ClusterIface, ip)
}

// RemoveUpstreamFloatingIP implements coordinator.ServiceSet's release
// mirror of phase C.
func (m *Manager) RemoveUpstreamFloatingIP(ctx context.Context) error {
	var ip string
	if !treekv.Get(m.store, "base.config.upstream_ip", "", &ip) || ip == "" {
		return nil
	}
	return m.drv.RemoveAddress(ctx, m.cfg.ClusterIface, ip)
}

// AddClusterStorageFloatingIPs implements phase D. The cluster and
// storage floating IPs are out of this spec's declared data model as
// distinct fields; they ride the same upstream interface as logical
// aliases and are a no-op until a concrete source field is assigned.
func (m *Manager) AddClusterStorageFloatingIPs(ctx context.Context) error { return nil }

// RemoveClusterStorageFloatingIPs is the release mirror of phase D.
func (m *Manager) RemoveClusterStorageFloatingIPs(ctx context.Context) error { return nil }

// AddMetadataLinkLocalIP implements phase E: bind the link-local metadata
// address on the cluster interface.
func (m *Manager) AddMetadataLinkLocalIP(ctx context.Context) error {
	return m.drv.AddAddress(ctx, m.cfg.ClusterIface, "169.254.169.254/32")
}

// RemoveMetadataLinkLocalIP is the release mirror of phase E.
func (m *Manager) RemoveMetadataLinkLocalIP(ctx context.Context) error {
	return m.drv.RemoveAddress(ctx, m.cfg.ClusterIface, "169.254.169.254/32")
}

// AddManagedNetworkGateways implements phase F: add this node's gateway
// IPs on every managed network's bridge. Idempotent (§4.5 gateway
// ownership): re-adding an already-present address is a no-op in the
// driver.
func (m *Manager) AddManagedNetworkGateways(ctx context.Context) error {
	return m.forEachManagedGateway(ctx, true)
}

// RemoveManagedNetworkGateways is the release mirror of phase F.
func (m *Manager) RemoveManagedNetworkGateways(ctx context.Context) error {
	return m.forEachManagedGateway(ctx, false)
}

func (m *Manager) forEachManagedGateway(ctx context.Context, add bool) error {
	var firstErr error
	for _, item := range treekv.List(m.store, "network") {
		var netType types.NetworkType
		if !treekv.Get(m.store, "network.type", item, &netType) || netType != types.NetworkManaged {
			continue
		}
		var ip4 types.IPv4Config
		treekv.Get(m.store, "network.ip4", item, &ip4)
		if ip4.Gateway == "" {
			continue
		}
		bridge := bridgeName(vniOf(item))
		var err error
		if add {
			err = m.drv.AddAddress(ctx, bridge, ip4.Gateway)
		} else {
			err = m.drv.RemoveAddress(ctx, bridge, ip4.Gateway)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Client/metadata API start-stop and auxiliary-leader promotion are
// outside this package's scope (§1 Non-goals: CLI/HTTP front-ends); these
// exist only so Manager satisfies coordinator.ServiceSet end to end when
// no separate API supervisor is wired in.
func (m *Manager) StopClientAPIs(ctx context.Context) error     { return nil }
func (m *Manager) StartClientAPIs(ctx context.Context) error    { return nil }
func (m *Manager) PromoteAuxiliaryLeader(ctx context.Context) error { return nil }
