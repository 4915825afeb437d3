package keepalive

import (
	"context"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// collectStorage mirrors cluster/health/pool/OSD stats into the store,
// primary-only (§4.3 step 2). OSDCount may legitimately be the "?"
// sentinel when the storage layer is unreachable (§9(c)); it is carried
// through verbatim and never arithmetic-ed on.
func (m *Manager) collectStorage(ctx context.Context) []treekv.Field {
	if m.bs == nil {
		return nil
	}
	stats, err := m.bs.Stats(ctx)
	if err != nil {
		log.Errorf("keepalive: collect storage stats", err)
		return nil
	}

	pools := make(map[string]types.PoolStats, len(stats.Pools))
	for name, p := range stats.Pools {
		pools[name] = types.PoolStats{UsedBytes: p.UsedBytes, TotalBytes: p.TotalBytes}
	}

	out := types.StorageStats{
		ClusterHealth: stats.Health,
		OSDCount:      stats.OSDCount,
		Pools:         pools,
	}
	return []treekv.Field{{Symbolic: "storage.stats", Item: "", Value: out}}
}
