// Package network materializes a tenant network's declared state as
// kernel networking objects on this node (§4.5): bridged VLAN networks
// and managed VXLAN overlays, with gateway IPs, DHCP, firewall rules, and
// DNS delegation owned by whichever node currently holds the coordinator
// primary role.
package network

import (
	"context"
	"fmt"
	"time"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/netctl"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// Config is the subset of pkg/config.Config the network manager needs.
type Config struct {
	NodeID       string
	ClusterIface string
	ClusterMTU   int
	BridgeUplink string
	ConfigDir    string
}

// Manager drives every tenant network's lifecycle on this node and
// implements the gateway/DHCP half of coordinator.ServiceSet.
type Manager struct {
	cfg   Config
	store *store.Store
	drv   BridgeDriver
	dhcp  DHCPSupervisor
	dir   *netctl.Dir
}

// New creates a network Manager.
func New(cfg Config, s *store.Store, drv BridgeDriver, dhcp DHCPSupervisor, dir *netctl.Dir) *Manager {
	return &Manager{cfg: cfg, store: s, drv: drv, dhcp: dhcp, dir: dir}
}

func bridgeName(vni int) string { return fmt.Sprintf("pvcbr%d", vni) }
func ifaceName(vni int) string  { return fmt.Sprintf("pvcif%d", vni) }

// Run watches the network collection and reconciles every declared
// network's lifecycle on this node until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	known := make(map[string]context.CancelFunc)
	defer func() {
		for _, cancel := range known {
			cancel()
		}
	}()

	reconcile := func() {
		for _, item := range treekv.List(m.store, "network") {
			if _, ok := known[item]; ok {
				continue
			}
			wctx, cancel := context.WithCancel(ctx)
			known[item] = cancel
			go m.watchNetwork(wctx, item)
		}
	}
	reconcile()

	events, cancel := m.store.Watch("networks")
	defer cancel()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			reconcile()
		case <-ticker.C:
			reconcile()
		}
	}
}

func (m *Manager) watchNetwork(ctx context.Context, item string) {
	m.reconcileNetwork(ctx, item)
	path, ok := treekv.Path(m.store, "network.type", item)
	if !ok {
		return
	}
	events, cancel := m.store.Watch(path)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			m.reconcileNetwork(ctx, item)
		}
	}
}

// reconcileNetwork runs the create lifecycle (§4.5 steps 1-4) for one
// network, clamping MTU and bringing up gateway/DHCP if this node is
// primary and the network is managed.
func (m *Manager) reconcileNetwork(ctx context.Context, item string) {
	var netType types.NetworkType
	if !treekv.Get(m.store, "network.type", item, &netType) {
		return
	}
	var mtu int
	treekv.Get(m.store, "network.mtu", item, &mtu)
	mtu = m.clampMTU(ctx, item, netType, mtu)

	iface := ifaceName(vniOf(item))
	bridge := bridgeName(vniOf(item))

	switch netType {
	case types.NetworkBridged:
		m.drv.CreateVLANInterface(ctx, iface, m.cfg.BridgeUplink, vniOf(item))
		m.drv.CreateBridge(ctx, bridge)
		m.drv.DisableTXChecksumOffload(ctx, bridge)
		m.drv.DisableIPv6(ctx, bridge)
		m.drv.AttachToBridge(ctx, iface, bridge)
		m.drv.SetMTU(ctx, bridge, mtu)
	case types.NetworkManaged:
		m.drv.CreateVXLANInterface(ctx, iface, m.cfg.ClusterIface, vniOf(item))
		m.drv.CreateBridge(ctx, bridge)
		m.drv.DisableTXChecksumOffload(ctx, bridge)
		m.drv.DisableDAD(ctx, bridge)
		m.drv.AttachToBridge(ctx, iface, bridge)
		m.drv.SetMTU(ctx, bridge, mtu)

		var remotes []string
		treekv.Get(m.store, "network.vxlan_remotes", item, &remotes)
		m.drv.SetVXLANRemotes(ctx, iface, remotes)
	}

	m.renderFirewall(item)
	m.renderDHCP(item)
}

// clampMTU enforces §4.5's MTU ceiling and writes back the clamped value
// if the declared MTU exceeded it. Bridged networks are ceilinged by the
// bridge uplink's actual MTU, not the cluster interface's, since the two
// are frequently different physical links.
func (m *Manager) clampMTU(ctx context.Context, item string, netType types.NetworkType, declared int) int {
	max := m.cfg.ClusterMTU - 50
	if netType == types.NetworkBridged {
		uplinkMTU, err := m.drv.UplinkMTU(ctx, m.cfg.BridgeUplink)
		if err != nil {
			log.Error(fmt.Sprintf("network %s: query uplink %s mtu: %v, falling back to cluster mtu", item, m.cfg.BridgeUplink, err))
			uplinkMTU = m.cfg.ClusterMTU
		}
		max = uplinkMTU
	}
	if max <= 0 {
		max = 1450
	}
	if declared <= 0 {
		return max
	}
	if declared > max {
		log.Error(fmt.Sprintf("network %s: declared mtu %d exceeds max %d, clamping", item, declared, max))
		treekv.Put(m.store, "network.mtu", item, max)
		return max
	}
	return declared
}

func vniOf(item string) int {
	var n int
	fmt.Sscanf(item, "%d", &n)
	return n
}
