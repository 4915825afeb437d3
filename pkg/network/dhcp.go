package network

import (
	"context"
	"fmt"

	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// DHCPSupervisor starts/stops the per-network DHCP daemon and supplies the
// lease-hook translation point (§4.5): the daemon's add/del/old lease
// events become reservation/lease store writes.
type DHCPSupervisor interface {
	Start(ctx context.Context, vni int, configPath string) error
	Stop(ctx context.Context, vni int) error
}

// renderDHCP writes the per-network reservation host file the DHCP daemon
// consumes (§4.5 "static host files").
func (m *Manager) renderDHCP(item string) {
	if m.dir == nil {
		return
	}
	var reservations map[string]types.Reservation
	treekv.Get(m.store, "network.reservation", item, &reservations)

	var out []byte
	for mac, r := range reservations {
		out = append(out, []byte(fmt.Sprintf("%s,%s,%s\n", mac, r.IP, r.Hostname))...)
	}
	m.dir.WriteFile(fmt.Sprintf("dhcp-hosts-%s.conf", item), out)
}

// StartTenantDHCP starts the DHCP daemon for every managed network,
// conditional on coordinator_state (§4.2 service orchestration): callers
// only invoke this while this node is primary or takeover.
func (m *Manager) StartTenantDHCP(ctx context.Context) error {
	if m.dhcp == nil {
		return nil
	}
	var firstErr error
	for _, item := range treekv.List(m.store, "network") {
		var netType types.NetworkType
		if !treekv.Get(m.store, "network.type", item, &netType) || netType != types.NetworkManaged {
			continue
		}
		vni := vniOf(item)
		cfgPath := fmt.Sprintf("%s/dhcp-hosts-%s.conf", m.cfg.ConfigDir, item)
		if err := m.dhcp.Start(ctx, vni, cfgPath); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopTenantDHCP stops every managed network's DHCP daemon.
func (m *Manager) StopTenantDHCP(ctx context.Context) error {
	if m.dhcp == nil {
		return nil
	}
	var firstErr error
	for _, item := range treekv.List(m.store, "network") {
		var netType types.NetworkType
		if !treekv.Get(m.store, "network.type", item, &netType) || netType != types.NetworkManaged {
			continue
		}
		if err := m.dhcp.Stop(ctx, vniOf(item)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LeaseHook translates one DHCP lease-script invocation into a store
// write: "add"/"old" upsert the lease, "del" removes it (§4.5).
func (m *Manager) LeaseHook(item, event, mac, ip, hostname, clientID string, expiry int64) error {
	var leases map[string]types.Lease
	treekv.Get(m.store, "network.lease", item, &leases)
	if leases == nil {
		leases = make(map[string]types.Lease)
	}

	switch event {
	case "add", "old":
		leases[mac] = types.Lease{
			MAC:      mac,
			IP:       ip,
			Hostname: hostname,
			ClientID: clientID,
		}
	case "del":
		delete(leases, mac)
	default:
		return fmt.Errorf("unknown lease event %q", event)
	}
	return treekv.Put(m.store, "network.lease", item, leases)
}

// FakeDHCPSupervisor is an in-memory DHCPSupervisor for tests.
type FakeDHCPSupervisor struct {
	Running map[int]bool
}

// NewFakeDHCPSupervisor creates an empty fake supervisor.
func NewFakeDHCPSupervisor() *FakeDHCPSupervisor {
	return &FakeDHCPSupervisor{Running: make(map[int]bool)}
}

func (f *FakeDHCPSupervisor) Start(_ context.Context, vni int, _ string) error {
	f.Running[vni] = true
	return nil
}

func (f *FakeDHCPSupervisor) Stop(_ context.Context, vni int) error {
	f.Running[vni] = false
	return nil
}
