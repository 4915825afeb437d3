package vm_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parallelvirtualcluster/pvcd/pkg/blockstore"
	"github.com/parallelvirtualcluster/pvcd/pkg/hypervisor"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
	"github.com/parallelvirtualcluster/pvcd/pkg/vm"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "vm-store-*")
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

func TestManager_StartsDomainOnSelf(t *testing.T) {
	s := newTestStore(t)
	hv := hypervisor.NewFake()
	bs := blockstore.NewFake()

	m := vm.New(vm.Config{NodeID: "cx1"}, s, hv, bs)

	require.NoError(t, treekv.Put(s, "domain.xml", "vm1", "<domain/>"))
	require.NoError(t, treekv.Put(s, "domain.node", "vm1", "cx1"))
	require.NoError(t, treekv.Put(s, "domain.state", "vm1", types.DomainStart))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		st, err := hv.State(context.Background(), "vm1")
		return err == nil && st == hypervisor.StateRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_StartFailsOnForeignLock(t *testing.T) {
	s := newTestStore(t)
	hv := hypervisor.NewFake()
	bs := blockstore.NewFake()
	bs.AddLock("rbd", "vm1-disk", "other-locker", "cx2")

	m := vm.New(vm.Config{NodeID: "cx1"}, s, hv, bs)

	require.NoError(t, treekv.Put(s, "domain.xml", "vm1", "<domain/>"))
	require.NoError(t, treekv.Put(s, "domain.node", "vm1", "cx1"))
	require.NoError(t, treekv.Put(s, "domain.storage_volumes", "vm1", []string{"rbd/vm1-disk"}))
	require.NoError(t, treekv.Put(s, "domain.state", "vm1", types.DomainStart))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		var state types.DomainState
		treekv.Get(s, "domain.state", "vm1", &state)
		return state == types.DomainFail
	}, 2*time.Second, 10*time.Millisecond)

	var reason string
	treekv.Get(s, "domain.failed_reason", "vm1", &reason)
	require.Contains(t, reason, "manual intervention required")
}

// TestManager_StopsOrphanedDomainDeclaredElsewhere covers the Node=other,
// HV running cell of §4.4's dispatch table: a domain the store declares as
// belonging to another node, but still running locally (e.g. left behind by
// an aborted migration), must still be torn down rather than left unmanaged.
func TestManager_StopsOrphanedDomainDeclaredElsewhere(t *testing.T) {
	s := newTestStore(t)
	hv := hypervisor.NewFake()
	bs := blockstore.NewFake()

	m := vm.New(vm.Config{NodeID: "cx1"}, s, hv, bs)

	require.NoError(t, treekv.Put(s, "domain.xml", "vm1", "<domain/>"))
	require.NoError(t, treekv.Put(s, "domain.node", "vm1", "cx2"))
	hv.SetState("vm1", hypervisor.StateRunning)
	require.NoError(t, treekv.Put(s, "domain.state", "vm1", types.DomainStop))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool {
		st, err := hv.State(context.Background(), "vm1")
		return err == nil && st == hypervisor.StateNotPresent
	}, 2*time.Second, 10*time.Millisecond)
}
