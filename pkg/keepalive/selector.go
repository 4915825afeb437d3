package keepalive

import (
	"sort"

	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

type candidate struct {
	hostname       string
	memFree        int64
	memHeadroom    int64 // (used+free) - provisioned
	cpuLoad        float64
	vcpuAllocated  int
	runningDomains int
}

// selectTarget picks a live migration/recovery target for a domain (§4.3
// "Target selector"): candidates are every live node, intersected with
// the domain's node_limit if set, minus its current node. Empty selector
// mode falls back to the cluster default.
func (m *Manager) selectTarget(uuid string, meta types.DomainMeta) string {
	var currentNode string
	treekv.Get(m.store, "domain.node", uuid, &currentNode)

	mode := meta.NodeSelector
	if mode == "" {
		treekv.Get(m.store, "base.config.migrate_selector", "", &mode)
	}
	if mode == "" {
		mode = types.SelectorMem
	}

	limit := make(map[string]bool, len(meta.NodeLimit))
	for _, n := range meta.NodeLimit {
		limit[n] = true
	}

	var candidates []candidate
	for _, hostname := range treekv.List(m.store, "node") {
		if hostname == currentNode {
			continue
		}
		if len(limit) > 0 && !limit[hostname] {
			continue
		}
		if !m.nodeIsLive(hostname) {
			continue
		}
		candidates = append(candidates, m.loadCandidate(hostname))
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.Slice(candidates, func(i, j int) bool {
		return betterCandidate(candidates[i], candidates[j], mode)
	})
	return candidates[0].hostname
}

func (m *Manager) nodeIsLive(hostname string) bool {
	var daemonState types.DaemonState
	var domainState types.DomainStateFlag
	treekv.Get(m.store, "node.daemon_state", hostname, &daemonState)
	treekv.Get(m.store, "node.domain_state", hostname, &domainState)
	return daemonState == types.DaemonStateRun && domainState == types.DomainFlagReady
}

func (m *Manager) loadCandidate(hostname string) candidate {
	var used, free, provisioned int64
	var load float64
	var vcpu int
	var running []string

	treekv.Get(m.store, "node.memory.used", hostname, &used)
	treekv.Get(m.store, "node.memory.free", hostname, &free)
	treekv.Get(m.store, "node.memory.provisioned", hostname, &provisioned)
	treekv.Get(m.store, "node.cpu.load", hostname, &load)
	treekv.Get(m.store, "node.vcpu.allocated", hostname, &vcpu)
	treekv.Get(m.store, "node.running_domains", hostname, &running)

	return candidate{
		hostname:       hostname,
		memFree:        free,
		memHeadroom:    (used + free) - provisioned,
		cpuLoad:        load,
		vcpuAllocated:  vcpu,
		runningDomains: len(running),
	}
}

// betterCandidate reports whether a should sort before b under mode, with
// lexical hostname as the tiebreak.
func betterCandidate(a, b candidate, mode types.SelectorMode) bool {
	var less bool
	var equal bool
	switch mode {
	case types.SelectorMemProv:
		less = a.memHeadroom > b.memHeadroom
		equal = a.memHeadroom == b.memHeadroom
	case types.SelectorLoad:
		less = a.cpuLoad < b.cpuLoad
		equal = a.cpuLoad == b.cpuLoad
	case types.SelectorVCPUs:
		less = a.vcpuAllocated < b.vcpuAllocated
		equal = a.vcpuAllocated == b.vcpuAllocated
	case types.SelectorVMs:
		less = a.runningDomains < b.runningDomains
		equal = a.runningDomains == b.runningDomains
	default: // types.SelectorMem
		less = a.memFree > b.memFree
		equal = a.memFree == b.memFree
	}
	if equal {
		return a.hostname < b.hostname
	}
	return less
}
