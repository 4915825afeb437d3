package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster composition
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pvcd_nodes_total",
			Help: "Total number of nodes by daemon_state",
		},
		[]string{"daemon_state"},
	)

	DomainsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pvcd_domains_total",
			Help: "Total number of VM domains by state",
		},
		[]string{"state"},
	)

	NetworksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvcd_networks_total",
			Help: "Total number of tenant networks",
		},
	)

	IsPrimary = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvcd_is_primary",
			Help: "Whether this node is the cluster primary coordinator (1) or not (0)",
		},
	)

	// State store (§4.1)
	StoreCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvcd_store_commit_duration_seconds",
			Help:    "Time taken to commit a transactional write to the coordination store",
			Buckets: prometheus.DefBuckets,
		},
	)

	LockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvcd_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire a store lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"flavor"},
	)

	SchemaMigrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvcd_schema_migration_duration_seconds",
			Help:    "Time taken to apply a schema migration diff",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// Keepalive & fencing (§4.3)
	KeepaliveCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvcd_keepalive_cycle_duration_seconds",
			Help:    "Time taken for one keepalive publish cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	FenceScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvcd_fence_scan_duration_seconds",
			Help:    "Time taken for one fence scan over peer nodes",
			Buckets: prometheus.DefBuckets,
		},
	)

	FencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvcd_fences_total",
			Help: "Total number of fence actions by outcome",
		},
		[]string{"outcome"},
	)

	RecoveredDomainsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pvcd_recovered_domains_total",
			Help: "Total number of domains recovered onto a new node after fencing",
		},
	)

	// VM instance state machine (§4.4)
	MigrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvcd_migration_duration_seconds",
			Help:    "Time taken for a live/shutdown migration handshake",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	MigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvcd_migrations_total",
			Help: "Total number of migrations by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	DomainStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvcd_domain_start_duration_seconds",
			Help:    "Time taken to bring a domain up on its declared node",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tenant networks (§4.5)
	DHCPReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvcd_dhcp_reload_duration_seconds",
			Help:    "Time taken to reload a per-network DHCP daemon",
			Buckets: prometheus.DefBuckets,
		},
	)

	FirewallReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvcd_firewall_reload_duration_seconds",
			Help:    "Time taken to reload the packet-filter configuration",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(DomainsTotal)
	prometheus.MustRegister(NetworksTotal)
	prometheus.MustRegister(IsPrimary)
	prometheus.MustRegister(StoreCommitDuration)
	prometheus.MustRegister(LockWaitDuration)
	prometheus.MustRegister(SchemaMigrationDuration)
	prometheus.MustRegister(KeepaliveCycleDuration)
	prometheus.MustRegister(FenceScanDuration)
	prometheus.MustRegister(FencesTotal)
	prometheus.MustRegister(RecoveredDomainsTotal)
	prometheus.MustRegister(MigrationDuration)
	prometheus.MustRegister(MigrationsTotal)
	prometheus.MustRegister(DomainStartDuration)
	prometheus.MustRegister(DHCPReloadDuration)
	prometheus.MustRegister(FirewallReloadDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
