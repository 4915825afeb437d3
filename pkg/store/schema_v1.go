package store

// SchemaV1 is the first schema version shipped with the binary. It is kept
// immutable and self-contained forever — a node may be asked to compute a
// diff against it at any time during a rolling upgrade (§4.1).
var SchemaV1 = &Schema{
	Version: 1,
	Templates: map[string]string{
		"base.config":                  "base/config",
		"base.config.maintenance":      "base/config/maintenance",
		"base.config.primary_node":     "base/config/primary_node",
		"base.config.upstream_ip":      "base/config/upstream_floating_ip",
		"base.config.migrate_selector": "base/config/migration_target_selector",
		"base.schema.version":          "base/schema/version",

		"node":                  "nodes",
		"node.daemon_mode":      "nodes/{item}/daemon_mode",
		"node.daemon_state":     "nodes/{item}/daemon_state",
		"node.coordinator_state": "nodes/{item}/coordinator_state",
		"node.domain_state":     "nodes/{item}/domain_state",
		"node.keepalive":        "nodes/{item}/keepalive",
		"node.memory.total":     "nodes/{item}/memory/total",
		"node.memory.used":      "nodes/{item}/memory/used",
		"node.memory.free":      "nodes/{item}/memory/free",
		"node.memory.allocated": "nodes/{item}/memory/allocated",
		"node.memory.provisioned": "nodes/{item}/memory/provisioned",
		"node.vcpu.allocated":   "nodes/{item}/vcpu/allocated",
		"node.cpu.load":         "nodes/{item}/cpu/load",
		"node.running_domains":  "nodes/{item}/running_domains",
		"node.provisioned_domains": "nodes/{item}/count/provisioned_domains",
		"node.network_stats":    "nodes/{item}/network_stats",
		"node.static_data":      "nodes/{item}/static_data",
		"node.ipmi.host":        "nodes/{item}/ipmi/host",
		"node.ipmi.user":        "nodes/{item}/ipmi/user",
		"node.ipmi.pass":        "nodes/{item}/ipmi/pass",
		"node.schema_version":   "nodes/{item}/active_schema_version",
		"node.rpc_addr":         "nodes/{item}/rpc_addr",

		"domain":                   "domains",
		"domain.name":              "domains/{item}/name",
		"domain.xml":               "domains/{item}/xml",
		"domain.state":             "domains/{item}/state",
		"domain.node":              "domains/{item}/node",
		"domain.last_node":         "domains/{item}/last_node",
		"domain.failed_reason":     "domains/{item}/failed_reason",
		"domain.migrate.sync_lock": "domains/{item}/migrate/sync_lock",
		"domain.console.vnc_port":  "domains/{item}/console/vnc_port",
		"domain.console.log":       "domains/{item}/console/log",
		"domain.storage_volumes":   "domains/{item}/storage_volumes",
		"domain.meta":              "domains/{item}/meta",

		"network":          "networks",
		"network.type":     "networks/{item}/type",
		"network.mtu":      "networks/{item}/mtu",
		"network.ip4":      "networks/{item}/ip4",
		"network.ip6":      "networks/{item}/ip6",
		"network.reservation": "networks/{item}/reservations",
		"network.lease":       "networks/{item}/leases",
		"network.rule.in":     "networks/{item}/rules/in",
		"network.rule.out":    "networks/{item}/rules/out",
		"network.vxlan_remotes": "networks/{item}/vxlan_remotes",
		"network.domain_suffix":  "networks/{item}/domain_suffix",
		"network.nameservers":    "networks/{item}/nameservers",
		"network.gateway.owner":  "networks/{item}/gateway/owner",

		"primary_node.sync_lock": "locks/primary_node/sync_lock",
		"primary_node.lock":      "locks/primary_node",

		"storage.stats": "storage/stats",
	},
}
