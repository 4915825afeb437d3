package keepalive

import (
	"context"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// collectVMs is step 2's VM collector: it reconciles "should-be-running"
// VMs the hypervisor no longer reports running by toggling their state to
// itself (re-firing pkg/vm's watcher), then returns this node's running-
// domain list and resource sums for the keepalive batch.
func (m *Manager) collectVMs(ctx context.Context) []treekv.Field {
	running, err := m.hv.ListRunning(ctx)
	if err != nil {
		log.Errorf("keepalive: list running domains", err)
		running = nil
	}
	runningSet := make(map[string]bool, len(running))
	for _, uuid := range running {
		runningSet[uuid] = true
	}

	var (
		domains        []string
		memAllocated   int64
	)
	for _, uuid := range treekv.List(m.store, "domain") {
		var node string
		if !treekv.Get(m.store, "domain.node", uuid, &node) || node != m.cfg.NodeID {
			continue
		}
		domains = append(domains, uuid)

		var state types.DomainState
		treekv.Get(m.store, "domain.state", uuid, &state)
		if state == types.DomainStart && !runningSet[uuid] {
			m.reconcileMissingDomain(uuid, state)
		}

		if runningSet[uuid] {
			if usedKB, err := m.hv.MemoryStats(ctx, uuid); err == nil {
				memAllocated += usedKB * 1024
			}
		}
	}

	return []treekv.Field{
		{Symbolic: "node.running_domains", Item: m.cfg.NodeID, Value: running},
		{Symbolic: "node.provisioned_domains", Item: m.cfg.NodeID, Value: len(domains)},
		{Symbolic: "node.memory.allocated", Item: m.cfg.NodeID, Value: memAllocated},
		// pkg/hypervisor.Driver exposes no per-domain provisioned-size or
		// vCPU-count accessor (only a running used-memory sample), so
		// provisioned memory mirrors allocated and vcpu_allocated is left
		// unwritten here rather than fabricated.
		{Symbolic: "node.memory.provisioned", Item: m.cfg.NodeID, Value: memAllocated},
	}
}

// reconcileMissingDomain re-writes a should-be-running VM's declared state
// to its current value, re-firing pkg/vm's watch without changing the
// declaration (§4.3 step 2).
func (m *Manager) reconcileMissingDomain(uuid string, state types.DomainState) {
	if err := treekv.Put(m.store, "domain.state", uuid, state); err != nil {
		log.Errorf("keepalive: reconcile missing domain "+uuid, err)
	}
}
