package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/parallelvirtualcluster/pvcd/pkg/hypervisor"
	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// migrateVM runs the source side of the live-migration handshake (§4.4
// "migrate_vm"): freeze the declaration, wait for the destination to prove
// presence via the sync-lock, then push the migration stream.
func (m *Manager) migrateVM(ctx context.Context, inst *Instance, uuid, destination string, liveOnly bool) {
	declLock := "domain/" + uuid + "/declaration"
	if !m.store.AcquireLock(declLock, m.cfg.NodeID, store.LockExclusive, 5*time.Second) {
		return
	}
	defer m.store.ReleaseLock(declLock, m.cfg.NodeID)

	var node, lastNode string
	treekv.Get(m.store, "domain.node", uuid, &node)
	treekv.Get(m.store, "domain.last_node", uuid, &lastNode)
	if destination == m.cfg.NodeID || destination == lastNode {
		log.Error(fmt.Sprintf("vm %s: migration destination %s is invalid (self or last_node)", uuid, destination))
		m.rollbackMigration(uuid, node, lastNode)
		return
	}

	syncPath, ok := treekv.Path(m.store, "domain.migrate.sync_lock", uuid)
	if !ok {
		return
	}
	m.notifyDestination(ctx, uuid, destination)
	if !m.waitForSyncLock(syncPath, m.cfg.migrationSyncTimeout()) {
		m.rollbackMigration(uuid, node, lastNode)
		return
	}

	migLock := "domain/" + uuid + "/migrate"
	if !m.store.AcquireLock(migLock, m.cfg.NodeID, store.LockExclusive, m.cfg.migrationLockTimeout()) {
		m.rollbackMigration(uuid, node, lastNode)
		return
	}

	var meta types.DomainMeta
	treekv.Get(m.store, "domain.meta", uuid, &meta)
	wantLive := liveOnly || meta.MigrateMethod == types.MigrateMethodLive

	succeeded := false
	if wantLive {
		succeeded = m.attemptLiveMigration(ctx, uuid, destination)
		if !succeeded && liveOnly {
			m.store.ReleaseLock(migLock, m.cfg.NodeID)
			m.rollbackMigration(uuid, node, lastNode)
			return
		}
	}
	if !succeeded {
		// Shutdown-based migration: stop here, destination's watcher sees
		// state=stop and starts it fresh.
		if err := m.hv.Shutdown(ctx, uuid); err != nil {
			m.hv.Destroy(ctx, uuid)
		}
		treekv.Put(m.store, "domain.state", uuid, types.DomainStop)
	}

	m.stopConsoleWatcher(inst)
	m.removeRunning(uuid)

	m.store.ReleaseLock(migLock, m.cfg.NodeID)
}

// notifyDestination best-effort kicks destination's rpc server so its
// watcher doesn't wait on Raft replication lag to notice the migration.
func (m *Manager) notifyDestination(ctx context.Context, uuid, destination string) {
	if m.notifier == nil {
		return
	}
	var addr string
	if !treekv.Get(m.store, "node.rpc_addr", destination, &addr) || addr == "" {
		return
	}
	if err := m.notifier.NotifyMigrate(ctx, addr, uuid, m.cfg.NodeID, destination); err != nil {
		log.Errorf(fmt.Sprintf("vm %s: notify migration destination %s", uuid, destination), err)
	}
}

func (m *Manager) attemptLiveMigration(ctx context.Context, uuid, destination string) bool {
	destURI := fmt.Sprintf("qemu+tcp://%s/system", destination)
	attempts := m.cfg.LiveMigrationRetries
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := m.hv.Migrate(ctx, uuid, destURI, hypervisor.MigrateFlags{Live: true}); err != nil {
			lastErr = err
			continue
		}
		return true
	}
	if lastErr != nil {
		log.Errorf(fmt.Sprintf("vm %s: live migration failed after %d attempts", uuid, attempts), lastErr)
	}
	return false
}

func (m *Manager) waitForSyncLock(path string, timeout time.Duration) bool {
	if _, ok := m.store.Read(path); ok {
		return true
	}
	events, cancel := m.store.Watch(path)
	defer cancel()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			return false
		case <-events:
			if _, ok := m.store.Read(path); ok {
				return true
			}
		}
	}
}

func (m *Manager) rollbackMigration(uuid, node, lastNode string) {
	treekv.Put(m.store, "domain.node", uuid, m.cfg.NodeID)
	treekv.Put(m.store, "domain.last_node", uuid, lastNode)
	treekv.Put(m.store, "domain.state", uuid, types.DomainStart)
}

// receiveMigrate runs the destination side of the handshake (§4.4
// "receive_migrate").
func (m *Manager) receiveMigrate(ctx context.Context, inst *Instance, uuid string) {
	syncPath, ok := treekv.Path(m.store, "domain.migrate.sync_lock", uuid)
	if !ok {
		return
	}
	treekv.Put(m.store, "domain.migrate.sync_lock", uuid, m.cfg.NodeID)

	migLock := "domain/" + uuid + "/migrate"
	if !m.store.AcquireLock(migLock, m.cfg.NodeID, store.LockExclusive, m.cfg.migrationLockTimeout()) {
		return
	}
	m.store.ReleaseLock(migLock, m.cfg.NodeID)

	if !m.store.AcquireLock(migLock, m.cfg.NodeID, store.LockExclusive, m.cfg.migrationLockTimeout()) {
		return
	}
	defer m.store.ReleaseLock(migLock, m.cfg.NodeID)

	hvState, err := m.hv.State(ctx, uuid)
	if err == nil && hvState == hypervisor.StateRunning {
		m.addRunning(uuid)
		treekv.Put(m.store, "domain.state", uuid, types.DomainStart)
	} else {
		var declared types.DomainState
		treekv.Get(m.store, "domain.state", uuid, &declared)
		if declared == types.DomainStop {
			treekv.Put(m.store, "domain.state", uuid, types.DomainStart)
		} else {
			log.Error(fmt.Sprintf("vm %s: receive_migrate found no domain on destination", uuid))
		}
	}

	m.store.Write([]store.WriteOp{{Path: syncPath, Value: nil}})
}

func (c Config) migrationSyncTimeout() time.Duration {
	if c.MigrationSyncTimeout <= 0 {
		return 30 * time.Second
	}
	return c.MigrationSyncTimeout
}

func (c Config) migrationLockTimeout() time.Duration {
	if c.MigrationLockTimeout <= 0 {
		return 30 * time.Second
	}
	return c.MigrationLockTimeout
}
