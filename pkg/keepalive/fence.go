package keepalive

import (
	"context"
	"fmt"
	"time"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// fenceScan implements §4.3's fence scan: run by the primary, once per
// cycle, over every peer with daemon_state=run.
func (m *Manager) fenceScan(ctx context.Context) {
	fenceAfter := time.Duration(m.cfg.FenceMultiplier) * m.cfg.Interval

	for _, hostname := range treekv.List(m.store, "node") {
		if hostname == m.cfg.NodeID {
			continue
		}
		var state types.DaemonState
		if !treekv.Get(m.store, "node.daemon_state", hostname, &state) || state != types.DaemonStateRun {
			delete(m.strikes, hostname)
			continue
		}

		var keepalive time.Time
		treekv.Get(m.store, "node.keepalive", hostname, &keepalive)
		age := time.Since(keepalive)
		if age < fenceAfter {
			delete(m.strikes, hostname)
			continue
		}

		m.strikes[hostname]++
		if m.strikes[hostname] < m.cfg.FenceConsecutive {
			continue
		}
		delete(m.strikes, hostname)
		m.fence(ctx, hostname)
	}
}

// fence executes the power-off -> verify-off -> power-on sequence against
// a dead peer's stored IPMI credentials, then recovers its VMs.
func (m *Manager) fence(ctx context.Context, hostname string) {
	log.Info(fmt.Sprintf("fencing node %s: %d consecutive missed keepalives", hostname, m.cfg.FenceConsecutive))
	treekv.Put(m.store, "node.daemon_state", hostname, types.DaemonStateDead)

	var host, user, pass string
	treekv.Get(m.store, "node.ipmi.host", hostname, &host)
	treekv.Get(m.store, "node.ipmi.user", hostname, &user)
	treekv.Get(m.store, "node.ipmi.pass", hostname, &pass)

	if m.power == nil || host == "" {
		log.Error(fmt.Sprintf("fencing node %s: no IPMI credentials, skipping power cycle", hostname))
		return
	}

	if !m.runFenceSequence(ctx, hostname, host, user, pass) {
		return
	}
	m.recoverDomains(hostname)
}

// runFenceSequence runs power-off/verify/power-on, retrying the whole
// sequence once under the "reset" recovery policy (§4.3). Returns true
// only if power-off succeeded and was verified, since that's the
// condition under which it's safe to recover the peer's VMs.
func (m *Manager) runFenceSequence(ctx context.Context, hostname, host, user, pass string) bool {
	attempts := 1
	if m.cfg.FenceRecoveryPolicy == types.FenceRecoveryReset {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := m.power.PowerOff(ctx, host, user, pass); err != nil {
			lastErr = err
			continue
		}
		status, err := m.power.Status(ctx, host, user, pass)
		if err != nil || status != "off" {
			lastErr = fmt.Errorf("power-off unverified: status=%q err=%v", status, err)
			continue
		}
		if err := m.power.PowerOn(ctx, host, user, pass); err != nil {
			log.Errorf(fmt.Sprintf("fencing node %s: power-on failed after verified power-off", hostname), err)
		}
		return true
	}
	log.Errorf(fmt.Sprintf("fencing node %s: power sequence failed after %d attempt(s)", hostname, attempts), lastErr)
	return false
}

// recoverDomains rewrites every recoverable VM previously declared on the
// fenced node to a freshly-selected live target (§4.3).
func (m *Manager) recoverDomains(hostname string) {
	for _, uuid := range treekv.List(m.store, "domain") {
		var node string
		if !treekv.Get(m.store, "domain.node", uuid, &node) || node != hostname {
			continue
		}
		var meta types.DomainMeta
		treekv.Get(m.store, "domain.meta", uuid, &meta)
		if meta.NoAutorecover {
			continue
		}

		target := m.selectTarget(uuid, meta)
		if target == "" {
			log.Error(fmt.Sprintf("no recovery target for domain %s, leaving on dead node %s", uuid, hostname))
			continue
		}

		treekv.Put(m.store, "domain.node", uuid, target)
		treekv.Put(m.store, "domain.last_node", uuid, hostname)
		treekv.Put(m.store, "domain.state", uuid, types.DomainStart)
	}
}
