package coordinator

import (
	"context"
	"time"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// takeover runs the seven-phase acquisition (§4.2) as the candidate
// primary-to-be.
func (m *Manager) takeover(ctx context.Context) {
	treekv.Put(m.store, "node.coordinator_state", m.cfg.NodeID, types.CoordinatorTakeover)

	settle := m.cfg.HandoffSettleDelay
	if settle <= 0 {
		settle = time.Second
	}
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return
	}

	syncLock, ok := treekv.Path(m.store, "primary_node.sync_lock", "")
	if !ok {
		return
	}

	// Phase A: handshake. Candidate takes the writer role to prove the
	// releasing primary (if any) is reachable before committing to C-G.
	if !m.store.AcquireLock(syncLock, m.cfg.NodeID, store.LockWrite, 5*time.Second) {
		log.Error("handoff: phase A handshake timed out, proceeding anyway")
	} else {
		m.store.ReleaseLock(syncLock, m.cfg.NodeID)
	}

	// Phase B: candidate reads (previous primary, if live, is stopping its
	// services under its own writer lock). We just wait our turn as reader.
	if m.store.AcquireLock(syncLock, m.cfg.NodeID, store.LockRead, 5*time.Second) {
		m.store.ReleaseLock(syncLock, m.cfg.NodeID)
	}

	m.handoffPhase(ctx, syncLock, store.LockWrite, 5*time.Second, m.services.AddUpstreamFloatingIP)          // C
	m.handoffPhase(ctx, syncLock, store.LockWrite, 5*time.Second, m.services.AddClusterStorageFloatingIPs)   // D
	m.handoffPhase(ctx, syncLock, store.LockWrite, 5*time.Second, m.services.AddMetadataLinkLocalIP)         // E
	m.handoffPhase(ctx, syncLock, store.LockWrite, 5*time.Second, m.services.AddManagedNetworkGateways)      // F

	// Phase G: candidate takes the writer lock and promotes/starts its
	// owning services while holding it, serializing against the previous
	// primary's own reader-held phase G (§4.2). Acquisition timing out is
	// non-fatal; the promote/start work still runs best-effort.
	acquired := m.store.AcquireLock(syncLock, m.cfg.NodeID, store.LockWrite, 5*time.Second)
	if !acquired {
		log.Error("handoff: phase G writer acquisition timed out, proceeding best-effort")
	}
	if err := m.services.PromoteAuxiliaryLeader(ctx); err != nil {
		log.Errorf("handoff: promote auxiliary leader", err)
	}
	m.services.StartClientAPIs(ctx)
	m.services.StartTenantDHCP(ctx)
	m.services.StartDNSAggregator(ctx)
	if acquired {
		m.store.ReleaseLock(syncLock, m.cfg.NodeID)
	}

	treekv.Put(m.store, "node.coordinator_state", m.cfg.NodeID, types.CoordinatorPrimary)
	m.notifyPeers(ctx, m.cfg.NodeID)
}

// relinquish runs the mirror-image release sequence when another node has
// been named primary (§4.2).
func (m *Manager) relinquish(ctx context.Context, newPrimary string) {
	treekv.Put(m.store, "node.coordinator_state", m.cfg.NodeID, types.CoordinatorRelinquish)

	syncLock, ok := treekv.Path(m.store, "primary_node.sync_lock", "")
	if !ok {
		return
	}

	// Phase A: handshake as reader, letting the candidate confirm presence.
	if m.store.AcquireLock(syncLock, m.cfg.NodeID, store.LockRead, 5*time.Second) {
		m.store.ReleaseLock(syncLock, m.cfg.NodeID)
	}

	// Phase B: stop owned services under the writer lock.
	if m.store.AcquireLock(syncLock, m.cfg.NodeID, store.LockWrite, 5*time.Second) {
		m.services.StopDNSAggregator(ctx)
		m.services.StopTenantDHCP(ctx)
		m.services.StopClientAPIs(ctx)
		m.store.ReleaseLock(syncLock, m.cfg.NodeID)
	}

	m.handoffPhase(ctx, syncLock, store.LockRead, 5*time.Second, m.services.RemoveUpstreamFloatingIP)
	m.handoffPhase(ctx, syncLock, store.LockRead, 5*time.Second, m.services.RemoveClusterStorageFloatingIPs)
	m.handoffPhase(ctx, syncLock, store.LockRead, 5*time.Second, m.services.RemoveMetadataLinkLocalIP)
	m.handoffPhase(ctx, syncLock, store.LockRead, 5*time.Second, m.services.RemoveManagedNetworkGateways)

	// Phase G: final handshake as reader, waiting out the candidate's
	// writer-held promotion work. Timeout is non-fatal (§4.2: best-effort);
	// this is Open Question (a)'s documented 60s default.
	gTimeout := m.cfg.HandoffPhaseGTimeout
	if gTimeout <= 0 {
		gTimeout = 60 * time.Second
	}
	if m.store.AcquireLock(syncLock, m.cfg.NodeID, store.LockRead, gTimeout) {
		m.store.ReleaseLock(syncLock, m.cfg.NodeID)
	} else {
		log.Error("handoff: phase G reader acquisition timed out, proceeding best-effort")
	}

	treekv.Put(m.store, "node.coordinator_state", m.cfg.NodeID, types.CoordinatorSecondary)
	_ = newPrimary
}

// handoffPhase acquires syncLock in mode, runs do, and releases — the
// per-phase rendezvous every row of §4.2's table follows.
func (m *Manager) handoffPhase(ctx context.Context, syncLock string, mode store.LockMode, timeout time.Duration, do func(context.Context) error) {
	if !m.store.AcquireLock(syncLock, m.cfg.NodeID, mode, timeout) {
		return
	}
	defer m.store.ReleaseLock(syncLock, m.cfg.NodeID)
	if err := do(ctx); err != nil {
		log.Errorf("handoff phase failed", err)
	}
}
