package keepalive_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parallelvirtualcluster/pvcd/pkg/blockstore"
	"github.com/parallelvirtualcluster/pvcd/pkg/hypervisor"
	"github.com/parallelvirtualcluster/pvcd/pkg/ipmi"
	"github.com/parallelvirtualcluster/pvcd/pkg/keepalive"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "keepalive-store-*")
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

func TestManager_CycleWritesKeepaliveTimestamp(t *testing.T) {
	s := newTestStore(t)
	hv := hypervisor.NewFake()
	bs := blockstore.NewFake()

	m := keepalive.New(keepalive.Config{NodeID: "cx1", Interval: 50 * time.Millisecond}, s, hv, bs, ipmi.NewFake())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		var ts time.Time
		return treekv.Get(s, "node.keepalive", "cx1", &ts) && !ts.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_FenceScanRecoversDomains(t *testing.T) {
	s := newTestStore(t)
	hv := hypervisor.NewFake()
	bs := blockstore.NewFake()
	power := ipmi.NewFake()
	power.SetStatus("cx2-bmc", "on")

	m := keepalive.New(keepalive.Config{
		NodeID:           "cx1",
		Interval:         20 * time.Millisecond,
		FenceMultiplier:  2,
		FenceConsecutive: 2,
	}, s, hv, bs, power)

	require.NoError(t, treekv.Put(s, "node.coordinator_state", "cx1", types.CoordinatorPrimary))

	require.NoError(t, treekv.Put(s, "node.daemon_state", "cx2", types.DaemonStateRun))
	require.NoError(t, treekv.Put(s, "node.keepalive", "cx2", time.Now().Add(-time.Hour)))
	require.NoError(t, treekv.Put(s, "node.ipmi.host", "cx2", "cx2-bmc"))
	require.NoError(t, treekv.Put(s, "node.ipmi.user", "cx2", "admin"))
	require.NoError(t, treekv.Put(s, "node.ipmi.pass", "cx2", "secret"))

	require.NoError(t, treekv.Put(s, "node.daemon_state", "cx1", types.DaemonStateRun))
	require.NoError(t, treekv.Put(s, "node.domain_state", "cx1", types.DomainFlagReady))

	require.NoError(t, treekv.Put(s, "domain.node", "vm1", "cx2"))
	require.NoError(t, treekv.Put(s, "domain.state", "vm1", types.DomainStart))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		var state types.DaemonState
		treekv.Get(s, "node.daemon_state", "cx2", &state)
		return state == types.DaemonStateDead
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		var node string
		treekv.Get(s, "domain.node", "vm1", &node)
		return node == "cx1"
	}, 2*time.Second, 10*time.Millisecond)

	var lastNode string
	treekv.Get(s, "domain.last_node", "vm1", &lastNode)
	require.Equal(t, "cx2", lastNode)

	status, err := power.Status(context.Background(), "cx2-bmc", "admin", "secret")
	require.NoError(t, err)
	require.Equal(t, "on", status)
}

func TestManager_FenceSkipsNoAutorecover(t *testing.T) {
	s := newTestStore(t)
	hv := hypervisor.NewFake()
	bs := blockstore.NewFake()
	power := ipmi.NewFake()
	power.SetStatus("cx2-bmc", "on")

	m := keepalive.New(keepalive.Config{
		NodeID:           "cx1",
		Interval:         20 * time.Millisecond,
		FenceMultiplier:  2,
		FenceConsecutive: 1,
	}, s, hv, bs, power)

	require.NoError(t, treekv.Put(s, "node.coordinator_state", "cx1", types.CoordinatorPrimary))
	require.NoError(t, treekv.Put(s, "node.daemon_state", "cx2", types.DaemonStateRun))
	require.NoError(t, treekv.Put(s, "node.keepalive", "cx2", time.Now().Add(-time.Hour)))
	require.NoError(t, treekv.Put(s, "node.ipmi.host", "cx2", "cx2-bmc"))

	require.NoError(t, treekv.Put(s, "domain.node", "vm1", "cx2"))
	require.NoError(t, treekv.Put(s, "domain.state", "vm1", types.DomainStart))
	require.NoError(t, treekv.Put(s, "domain.meta", "vm1", types.DomainMeta{NoAutorecover: true}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		var state types.DaemonState
		treekv.Get(s, "node.daemon_state", "cx2", &state)
		return state == types.DaemonStateDead
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	var node string
	treekv.Get(s, "domain.node", "vm1", &node)
	require.Equal(t, "cx2", node)
}
