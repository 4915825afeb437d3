package network_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parallelvirtualcluster/pvcd/pkg/netctl"
	"github.com/parallelvirtualcluster/pvcd/pkg/network"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "network-store-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := store.New(store.Config{
		NodeID:    "cx1",
		BindAddr:  "127.0.0.1:0",
		DataDir:   dir,
		Bootstrap: true,
	}, store.SchemaV1)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })

	require.Eventually(t, s.IsRaftLeader, 5*time.Second, 10*time.Millisecond)
	return s
}

func newTestManager(t *testing.T, s *store.Store, drv *network.Fake) *network.Manager {
	t.Helper()
	dir, err := netctl.NewDir(t.TempDir())
	require.NoError(t, err)
	return network.New(network.Config{
		NodeID:       "cx1",
		ClusterIface: "eth0",
		ClusterMTU:   1500,
		BridgeUplink: "eth1",
		ConfigDir:    dir.Path,
	}, s, drv, network.NewFakeDHCPSupervisor(), dir)
}

func TestManager_ReconcileBridgedNetwork(t *testing.T) {
	s := newTestStore(t)
	drv := network.NewFake()
	m := newTestManager(t, s, drv)

	require.NoError(t, treekv.Put(s, "network.type", "10", types.NetworkBridged))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		var mtu int
		treekv.Get(s, "network.mtu", "10", &mtu)
		return mtu == 1500
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ClampsManagedMTU(t *testing.T) {
	s := newTestStore(t)
	drv := network.NewFake()
	m := newTestManager(t, s, drv)

	require.NoError(t, treekv.Put(s, "network.type", "20", types.NetworkManaged))
	require.NoError(t, treekv.Put(s, "network.mtu", "20", 1500))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		var mtu int
		treekv.Get(s, "network.mtu", "20", &mtu)
		return mtu == 1450
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ClampsBridgedMTUToUplink(t *testing.T) {
	s := newTestStore(t)
	drv := network.NewFake()
	drv.SetUplinkMTU("eth1", 1400)
	m := newTestManager(t, s, drv)

	require.NoError(t, treekv.Put(s, "network.type", "15", types.NetworkBridged))
	require.NoError(t, treekv.Put(s, "network.mtu", "15", 1500))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		var mtu int
		treekv.Get(s, "network.mtu", "15", &mtu)
		return mtu == 1400
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_AddManagedNetworkGateways(t *testing.T) {
	s := newTestStore(t)
	drv := network.NewFake()
	m := newTestManager(t, s, drv)

	require.NoError(t, treekv.Put(s, "network.type", "30", types.NetworkManaged))
	require.NoError(t, treekv.Put(s, "network.ip4", "30", types.IPv4Config{Gateway: "10.30.0.1/24"}))

	require.NoError(t, m.AddManagedNetworkGateways(context.Background()))
	require.Contains(t, drv.Addresses("pvcbr30"), "10.30.0.1/24")

	require.NoError(t, m.RemoveManagedNetworkGateways(context.Background()))
	require.NotContains(t, drv.Addresses("pvcbr30"), "10.30.0.1/24")
}

func TestManager_AddManagedNetworkGateways_SkipsUnset(t *testing.T) {
	s := newTestStore(t)
	drv := network.NewFake()
	m := newTestManager(t, s, drv)

	require.NoError(t, treekv.Put(s, "network.type", "40", types.NetworkManaged))

	require.NoError(t, m.AddManagedNetworkGateways(context.Background()))
	require.Empty(t, drv.Addresses("pvcbr40"))
}

func TestManager_MetadataLinkLocalIP(t *testing.T) {
	s := newTestStore(t)
	drv := network.NewFake()
	m := newTestManager(t, s, drv)

	require.NoError(t, m.AddMetadataLinkLocalIP(context.Background()))
	require.Contains(t, drv.Addresses("eth0"), "169.254.169.254/32")

	require.NoError(t, m.RemoveMetadataLinkLocalIP(context.Background()))
	require.NotContains(t, drv.Addresses("eth0"), "169.254.169.254/32")
}

func TestManager_LeaseHook(t *testing.T) {
	s := newTestStore(t)
	drv := network.NewFake()
	m := newTestManager(t, s, drv)

	require.NoError(t, m.LeaseHook("50", "add", "aa:bb:cc", "10.50.0.5", "host1", "", 0))

	var leases map[string]types.Lease
	treekv.Get(s, "network.lease", "50", &leases)
	require.Equal(t, "10.50.0.5", leases["aa:bb:cc"].IP)

	require.NoError(t, m.LeaseHook("50", "del", "aa:bb:cc", "10.50.0.5", "host1", "", 0))
	leases = nil
	treekv.Get(s, "network.lease", "50", &leases)
	require.NotContains(t, leases, "aa:bb:cc")
}

func TestManager_StartStopTenantDHCP(t *testing.T) {
	s := newTestStore(t)
	drv := network.NewFake()
	dhcp := network.NewFakeDHCPSupervisor()
	dir, err := netctl.NewDir(t.TempDir())
	require.NoError(t, err)
	m := network.New(network.Config{NodeID: "cx1", ClusterIface: "eth0", ClusterMTU: 1500, ConfigDir: dir.Path}, s, drv, dhcp, dir)

	require.NoError(t, treekv.Put(s, "network.type", "60", types.NetworkManaged))

	require.NoError(t, m.StartTenantDHCP(context.Background()))
	require.True(t, dhcp.Running[60])

	require.NoError(t, m.StopTenantDHCP(context.Background()))
	require.False(t, dhcp.Running[60])
}
