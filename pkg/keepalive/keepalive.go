// Package keepalive implements the periodic liveness/resource publication
// cycle and peer fencing (§4.3): a fixed-interval timer collects host and
// VM metrics, writes them as one transactional batch, and — only on the
// primary — scans for dead peers and fences them via IPMI.
package keepalive

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/parallelvirtualcluster/pvcd/pkg/blockstore"
	"github.com/parallelvirtualcluster/pvcd/pkg/hypervisor"
	"github.com/parallelvirtualcluster/pvcd/pkg/ipmi"
	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// Config is the subset of pkg/config.Config the keepalive cycle needs.
type Config struct {
	NodeID              string
	Interval            time.Duration // T_k, default 5s
	FenceMultiplier     int           // T_fence = FenceMultiplier * Interval, default 6
	FenceConsecutive    int           // N_fence, default 3
	FenceRecoveryPolicy types.FenceRecoveryPolicy
	CollectorTimeout    time.Duration // bound on the VM/storage collectors, default 4s
}

// Manager runs this node's keepalive cycle and, while this node is
// primary, the fence scan.
type Manager struct {
	cfg   Config
	store *store.Store
	hv    hypervisor.Driver
	bs    blockstore.Client
	power ipmi.Power

	strikes map[string]int // hostname -> consecutive failed scans

	lastSelector types.SelectorMode
	lastUpstream string
}

// New creates a keepalive Manager.
func New(cfg Config, s *store.Store, hv hypervisor.Driver, bs blockstore.Client, power ipmi.Power) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.FenceMultiplier <= 0 {
		cfg.FenceMultiplier = 6
	}
	if cfg.FenceConsecutive <= 0 {
		cfg.FenceConsecutive = 3
	}
	if cfg.CollectorTimeout <= 0 {
		cfg.CollectorTimeout = 4 * time.Second
	}
	return &Manager{cfg: cfg, store: s, hv: hv, bs: bs, power: power, strikes: make(map[string]int)}
}

// Run fires the keepalive cycle every cfg.Interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

func (m *Manager) cycle(ctx context.Context) {
	fields := m.collectHostMetrics(ctx)

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CollectorTimeout)
	defer cancel()

	provisioned := m.collectVMs(cctx)
	fields = append(fields, provisioned...)

	primary := m.isPrimary()
	if primary {
		fields = append(fields, m.collectStorage(cctx)...)
	}

	fields = append(fields, treekv.Field{Symbolic: "node.keepalive", Item: m.cfg.NodeID, Value: time.Now()})

	if err := treekv.PutMany(m.store, fields); err != nil {
		log.Errorf(fmt.Sprintf("keepalive cycle for %s", m.cfg.NodeID), err)
		return
	}

	if !primary {
		return
	}

	m.mirrorClusterConfig()

	var maintenance bool
	treekv.Get(m.store, "base.config.maintenance", "", &maintenance)
	if !maintenance {
		m.fenceScan(ctx)
	}
}

func (m *Manager) isPrimary() bool {
	var state types.CoordinatorState
	treekv.Get(m.store, "node.coordinator_state", m.cfg.NodeID, &state)
	return state == types.CoordinatorPrimary
}

// collectHostMetrics gathers step 1's host snapshot (mem, load, counts,
// interface byte counters), returning it as PutMany fields rather than
// writing immediately so it joins the single transactional batch (step 3).
func (m *Manager) collectHostMetrics(ctx context.Context) []treekv.Field {
	var fields []treekv.Field

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fields = append(fields,
			treekv.Field{Symbolic: "node.memory.total", Item: m.cfg.NodeID, Value: int64(vm.Total)},
			treekv.Field{Symbolic: "node.memory.used", Item: m.cfg.NodeID, Value: int64(vm.Used)},
			treekv.Field{Symbolic: "node.memory.free", Item: m.cfg.NodeID, Value: int64(vm.Free)},
		)
	} else {
		log.Errorf("keepalive: read host memory", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		fields = append(fields, treekv.Field{Symbolic: "node.cpu.load", Item: m.cfg.NodeID, Value: avg.Load1})
	} else if counts, cerr := cpu.CountsWithContext(ctx, true); cerr == nil && counts > 0 {
		// load.Avg is unsupported on some platforms (notably Windows);
		// fall back to reporting zero load rather than dropping the field.
		fields = append(fields, treekv.Field{Symbolic: "node.cpu.load", Item: m.cfg.NodeID, Value: 0.0})
	}

	if counters, err := gopsnet.IOCountersWithContext(ctx, true); err == nil {
		stats := make(map[string]types.InterfaceCounters, len(counters))
		for _, c := range counters {
			stats[c.Name] = types.InterfaceCounters{RXBytes: int64(c.BytesRecv), TXBytes: int64(c.BytesSent)}
		}
		fields = append(fields, treekv.Field{Symbolic: "node.network_stats", Item: m.cfg.NodeID, Value: stats})
	}

	return fields
}

// mirrorClusterConfig re-affirms the canonical migration-selector/upstream
// floating-IP keys when they change, so any future secondary staging
// location for these admin-editable fields (none exists yet) can diff
// against this node's last-observed copy instead of only the primary's
// local cache.
func (m *Manager) mirrorClusterConfig() {
	var selector types.SelectorMode
	treekv.Get(m.store, "base.config.migrate_selector", "", &selector)
	if selector != m.lastSelector {
		m.lastSelector = selector
		treekv.Put(m.store, "base.config.migrate_selector", "", selector)
	}

	var upstream string
	treekv.Get(m.store, "base.config.upstream_ip", "", &upstream)
	if upstream != m.lastUpstream {
		m.lastUpstream = upstream
		treekv.Put(m.store, "base.config.upstream_ip", "", upstream)
	}
}
