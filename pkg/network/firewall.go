package network

import (
	"fmt"
	"sort"

	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// renderFirewall writes the {vni}-in/{vni}-out chain pair (§4.5): base
// rules always permit ICMP/DNS/DHCP/NTP/metadata into the router and drop
// everything else inbound, then the operator's sorted user rules.
func (m *Manager) renderFirewall(item string) {
	if m.dir == nil {
		return
	}
	var rules types.FirewallRules
	treekv.Get(m.store, "network.rule.in", item, &rules.In)
	treekv.Get(m.store, "network.rule.out", item, &rules.Out)

	vni := vniOf(item)
	m.dir.WriteFile(fmt.Sprintf("%d-in.rules", vni), renderChain(baseInboundRules(vni), rules.In))
	m.dir.WriteFile(fmt.Sprintf("%d-out.rules", vni), renderChain(nil, rules.Out))
}

func baseInboundRules(vni int) []types.FirewallRule {
	return []types.FirewallRule{
		{Order: 0, Description: "icmp", RuleText: fmt.Sprintf("chain %d-in icmp accept", vni)},
		{Order: 0, Description: "dns", RuleText: fmt.Sprintf("chain %d-in udp dport 53 accept", vni)},
		{Order: 0, Description: "dhcp", RuleText: fmt.Sprintf("chain %d-in udp dport 67 accept", vni)},
		{Order: 0, Description: "ntp", RuleText: fmt.Sprintf("chain %d-in udp dport 123 accept", vni)},
		{Order: 0, Description: "metadata", RuleText: fmt.Sprintf("chain %d-in ip daddr 169.254.169.254 tcp dport 80 accept", vni)},
	}
}

func renderChain(base, user []types.FirewallRule) []byte {
	all := append(append([]types.FirewallRule(nil), base...), user...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Order < all[j].Order })

	var out []byte
	for _, r := range all {
		out = append(out, []byte(r.RuleText+"\n")...)
	}
	out = append(out, []byte("drop\n")...)
	return out
}
