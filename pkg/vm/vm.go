// Package vm drives each VM's local lifecycle to match its store-declared
// state, including the cross-node live-migration handshake (§4.4). One
// Manager runs per node; it keeps an in-memory Instance per VM the cluster
// knows about and re-enters manage_vm_state on every state-key change.
package vm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parallelvirtualcluster/pvcd/pkg/blockstore"
	"github.com/parallelvirtualcluster/pvcd/pkg/hypervisor"
	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// Config is the subset of pkg/config.Config the VM manager needs.
type Config struct {
	NodeID               string
	VMShutdownTimeout    time.Duration
	MigrationSyncTimeout time.Duration
	MigrationLockTimeout time.Duration
	LiveMigrationRetries int
}

// Instance is the in-memory guard state for one VM, keyed by uuid.
type Instance struct {
	mu sync.Mutex

	busy       bool // true while any guarded phase below is running
	cancelCons context.CancelFunc
	console    []string // bounded ring buffer mirrored to the store
}

const consoleRingSize = 500

// MigrateNotifier is the optional inter-node accelerant for live migration
// (§4.4 step 4): the handshake's correctness never depends on it, since
// both sides already discover the migration via their own store watch on
// domain.node, but a direct push lets the destination start its receive
// watcher immediately instead of waiting on Raft replication. Satisfied
// by *pkg/rpc.Pool.
type MigrateNotifier interface {
	NotifyMigrate(ctx context.Context, peerAddr, uuid, source, destination string) error
}

// Manager drives every VM's state machine for this node.
type Manager struct {
	cfg   Config
	store *store.Store
	hv    hypervisor.Driver
	bs    blockstore.Client

	notifier MigrateNotifier

	mu        sync.Mutex
	instances map[string]*Instance
}

// New creates a VM manager bound to the given hypervisor and block store
// drivers.
func New(cfg Config, s *store.Store, hv hypervisor.Driver, bs blockstore.Client) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     s,
		hv:        hv,
		bs:        bs,
		instances: make(map[string]*Instance),
	}
}

// SetNotifier wires a MigrateNotifier used to push a best-effort migration
// kick to the destination node. Leaving it unset is fine; the handshake
// works without it.
func (m *Manager) SetNotifier(n MigrateNotifier) {
	m.notifier = n
}

func (m *Manager) instance(uuid string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[uuid]
	if !ok {
		inst = &Instance{}
		m.instances[uuid] = inst
	}
	return inst
}

// Run starts a watcher for every known VM and for newly created ones, until
// ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	known := make(map[string]context.CancelFunc)
	defer func() {
		for _, cancel := range known {
			cancel()
		}
	}()

	syncKnown := func() {
		for _, uuid := range treekv.List(m.store, "domain") {
			if _, ok := known[uuid]; ok {
				continue
			}
			wctx, cancel := context.WithCancel(ctx)
			known[uuid] = cancel
			go m.watchDomain(wctx, uuid)
		}
	}

	syncKnown()
	events, cancel := m.store.Watch("domains")
	defer cancel()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			syncKnown()
		case <-ticker.C:
			syncKnown()
		}
	}
}

func (m *Manager) watchDomain(ctx context.Context, uuid string) {
	path, ok := treekv.Path(m.store, "domain.state", uuid)
	if !ok {
		return
	}
	m.manageVMState(uuid)

	events, cancel := m.store.Watch(path)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			m.manageVMState(uuid)
		}
	}
}

// manageVMState is the guarded dispatcher (§4.4): no-ops if a guarded phase
// is already running for this uuid, preventing reentrancy.
func (m *Manager) manageVMState(uuid string) {
	inst := m.instance(uuid)
	inst.mu.Lock()
	if inst.busy {
		inst.mu.Unlock()
		return
	}
	inst.busy = true
	inst.mu.Unlock()

	defer func() {
		inst.mu.Lock()
		inst.busy = false
		inst.mu.Unlock()
	}()

	m.dispatch(context.Background(), inst, uuid)
}

func (m *Manager) dispatch(ctx context.Context, inst *Instance, uuid string) {
	var declared types.DomainState
	var node string
	if !treekv.Get(m.store, "domain.state", uuid, &declared) {
		return
	}
	treekv.Get(m.store, "domain.node", uuid, &node)

	self := node == m.cfg.NodeID
	hvState, err := m.hv.State(ctx, uuid)
	if err != nil {
		log.Errorf(fmt.Sprintf("vm %s: query hypervisor state", uuid), err)
		return
	}
	hvRunning := hvState == hypervisor.StateRunning

	switch declared {
	case types.DomainStart:
		if self && !hvRunning {
			m.startSequence(ctx, inst, uuid)
		} else if self && hvRunning {
			m.addRunning(uuid)
		}

	case types.DomainRestart:
		if !self {
			return
		}
		if hvRunning {
			if err := m.hv.Destroy(ctx, uuid); err != nil {
				log.Errorf(fmt.Sprintf("vm %s: destroy for restart", uuid), err)
				return
			}
			m.startSequence(ctx, inst, uuid)
		} else {
			treekv.Put(m.store, "domain.state", uuid, types.DomainStart)
		}

	case types.DomainShutdown:
		if !self && !hvRunning {
			return
		}
		// Node=other, HV running is an orphaned domain the store says
		// belongs elsewhere (e.g. left behind by an aborted migration);
		// still act on it locally rather than leaving it unmanaged (§4.4).
		if hvRunning {
			m.gracefulShutdown(ctx, inst, uuid)
		} else {
			m.removeRunning(uuid)
			m.stopConsoleWatcher(inst)
		}

	case types.DomainStop:
		if !self && !hvRunning {
			return
		}
		if hvRunning {
			if err := m.hv.Destroy(ctx, uuid); err != nil {
				log.Errorf(fmt.Sprintf("vm %s: force destroy", uuid), err)
			}
		}
		m.removeRunning(uuid)
		m.stopConsoleWatcher(inst)

	case types.DomainMigrate, types.DomainMigrateLive:
		m.dispatchMigrate(ctx, inst, uuid, node, self, hvRunning, declared == types.DomainMigrateLive)
	}
}

func (m *Manager) dispatchMigrate(ctx context.Context, inst *Instance, uuid, node string, self, hvRunning, liveOnly bool) {
	var lastNode string
	treekv.Get(m.store, "domain.last_node", uuid, &lastNode)

	if self {
		if node == lastNode || hvRunning {
			// We are the source that initiated this, or the hypervisor
			// already shows us running it: force back to start.
			treekv.Put(m.store, "domain.state", uuid, types.DomainStart)
			return
		}
		m.receiveMigrate(ctx, inst, uuid)
		return
	}
	if hvRunning {
		m.migrateVM(ctx, inst, uuid, node, liveOnly)
	}
}

func (m *Manager) addRunning(uuid string) {
	m.mutateRunningDomains(func(list []string) []string {
		for _, id := range list {
			if id == uuid {
				return list
			}
		}
		return append(list, uuid)
	})
	treekv.Put(m.store, "domain.failed_reason", uuid, "")
}

func (m *Manager) removeRunning(uuid string) {
	m.mutateRunningDomains(func(list []string) []string {
		out := list[:0]
		for _, id := range list {
			if id != uuid {
				out = append(out, id)
			}
		}
		return out
	})
}

func (m *Manager) mutateRunningDomains(f func([]string) []string) {
	var list []string
	treekv.Get(m.store, "node.running_domains", m.cfg.NodeID, &list)
	list = f(list)
	treekv.Put(m.store, "node.running_domains", m.cfg.NodeID, list)
}

func (m *Manager) fail(uuid, reason string) {
	treekv.Put(m.store, "domain.state", uuid, types.DomainFail)
	treekv.Put(m.store, "domain.failed_reason", uuid, reason)
}

// startSequence implements §4.4's four-step VM start.
func (m *Manager) startSequence(ctx context.Context, inst *Instance, uuid string) {
	m.startConsoleWatcher(ctx, inst, uuid)

	var volumes []string
	treekv.Get(m.store, "domain.storage_volumes", uuid, &volumes)

	if hvState, err := m.hv.State(ctx, uuid); err == nil && hvState != hypervisor.StateRunning {
		if ok := m.flushLocks(ctx, uuid, volumes); !ok {
			return
		}
	}

	var xmlSpec string
	treekv.Get(m.store, "domain.xml", uuid, &xmlSpec)

	if err := m.hv.CreateXML(ctx, uuid, xmlSpec); err != nil {
		m.fail(uuid, err.Error())
		return
	}
	m.addRunning(uuid)
}

// flushLocks releases this node's own RBD advisory locks and fails the
// start if any volume is locked by a different host (§4.4 step 3).
func (m *Manager) flushLocks(ctx context.Context, uuid string, volumes []string) bool {
	if m.bs == nil {
		return true
	}
	for _, vol := range volumes {
		pool, image, ok := splitVolume(vol)
		if !ok {
			continue
		}
		locks, err := m.bs.LockList(ctx, pool, image)
		if err != nil {
			m.fail(uuid, fmt.Sprintf("list locks on %s: %v", vol, err))
			return false
		}
		for _, l := range locks {
			if l.Address == m.cfg.NodeID || l.Address == "" {
				if err := m.bs.LockRemove(ctx, pool, image, l.ID, l.Locker); err != nil {
					m.fail(uuid, fmt.Sprintf("release own lock on %s: %v", vol, err))
					return false
				}
				continue
			}
			m.fail(uuid, fmt.Sprintf("volume %s locked by %s (lock %s): manual intervention required", vol, l.Address, l.ID))
			return false
		}
	}
	return true
}

func splitVolume(vol string) (pool, image string, ok bool) {
	parts := strings.SplitN(vol, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// gracefulShutdown implements §4.4's shutdown-with-timeout-and-re-dispatch.
func (m *Manager) gracefulShutdown(ctx context.Context, inst *Instance, uuid string) {
	if err := m.hv.Shutdown(ctx, uuid); err != nil {
		log.Errorf(fmt.Sprintf("vm %s: issue shutdown", uuid), err)
		return
	}

	deadline := time.Now().Add(m.cfg.shutdownTimeout())
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		<-ticker.C
		var declared types.DomainState
		treekv.Get(m.store, "domain.state", uuid, &declared)
		switch declared {
		case types.DomainRestart, types.DomainMigrate, types.DomainMigrateLive, types.DomainStart:
			return // abort and let the watcher re-dispatch
		}
		hvState, err := m.hv.State(ctx, uuid)
		if err == nil && hvState != hypervisor.StateRunning {
			m.removeRunning(uuid)
			m.stopConsoleWatcher(inst)
			return
		}
	}
	treekv.Put(m.store, "domain.state", uuid, types.DomainStop)
}

func (c Config) shutdownTimeout() time.Duration {
	if c.VMShutdownTimeout <= 0 {
		return 180 * time.Second
	}
	return c.VMShutdownTimeout
}

func (m *Manager) startConsoleWatcher(ctx context.Context, inst *Instance, uuid string) {
	inst.mu.Lock()
	if inst.cancelCons != nil {
		inst.mu.Unlock()
		return
	}
	cctx, cancel := context.WithCancel(ctx)
	inst.cancelCons = cancel
	inst.mu.Unlock()

	lines, err := m.hv.ConsoleStream(cctx, uuid)
	if err != nil {
		return
	}
	go func() {
		for line := range lines {
			inst.mu.Lock()
			inst.console = append(inst.console, line)
			if len(inst.console) > consoleRingSize {
				inst.console = inst.console[len(inst.console)-consoleRingSize:]
			}
			snapshot := append([]string(nil), inst.console...)
			inst.mu.Unlock()
			treekv.Put(m.store, "domain.console.log", uuid, snapshot)
		}
	}()
}

func (m *Manager) stopConsoleWatcher(inst *Instance) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.cancelCons != nil {
		inst.cancelCons()
		inst.cancelCons = nil
	}
}
