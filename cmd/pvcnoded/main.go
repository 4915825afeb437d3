package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/credentials"

	"github.com/parallelvirtualcluster/pvcd/pkg/blockstore"
	"github.com/parallelvirtualcluster/pvcd/pkg/config"
	"github.com/parallelvirtualcluster/pvcd/pkg/coordinator"
	"github.com/parallelvirtualcluster/pvcd/pkg/hypervisor"
	"github.com/parallelvirtualcluster/pvcd/pkg/ipmi"
	"github.com/parallelvirtualcluster/pvcd/pkg/keepalive"
	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/metrics"
	"github.com/parallelvirtualcluster/pvcd/pkg/netctl"
	"github.com/parallelvirtualcluster/pvcd/pkg/network"
	"github.com/parallelvirtualcluster/pvcd/pkg/rpc"
	"github.com/parallelvirtualcluster/pvcd/pkg/security"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
	"github.com/parallelvirtualcluster/pvcd/pkg/vm"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// clusterServerName is the shared TLS ServerName every node certificate
// carries as a SAN (alongside its own node ID), so a dialer connecting by
// bare IP:port — not by a per-node hostname — still has a name to verify
// against (§6, mTLS transport).
const clusterServerName = "pvcd-cluster"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pvcnoded",
	Short:   "pvcnoded - Parallel Virtual Cluster node daemon",
	Long:    `pvcnoded runs the cluster state store, coordinator election, keepalive/fencing, VM lifecycle, and tenant networking for one cluster node.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pvcnoded version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringP("config", "c", "/etc/pvc/pvcnoded.yaml", "path to pvcnoded.yaml")

	runCmd.Flags().Bool("bootstrap", false, "bootstrap a brand new cluster on this node")
	runCmd.Flags().String("join", "", "rpc address of an existing cluster member to join")
	rootCmd.AddCommand(runCmd)

	issueCertCmd.Flags().StringP("out", "o", "", "directory to write the issued cert bundle into (required)")
	issueCertCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(issueCertCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the node daemon in the foreground",
	RunE:  runDaemon,
}

// issueCertCmd is run against an already-running cluster member (it opens
// that node's local store to reach the CA) to mint a bundle for a new
// node before it joins — the out-of-band trust bootstrap step every
// cluster onboarding needs, since a new node cannot dial anyone over mTLS
// until it holds a certificate signed by the same root.
var issueCertCmd = &cobra.Command{
	Use:   "issue-cert <node-id>",
	Short: "issue a node certificate bundle for a not-yet-joined node",
	Args:  cobra.ExactArgs(1),
	RunE:  runIssueCert,
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("bootstrap") {
		cfg.Bootstrap, _ = cmd.Flags().GetBool("bootstrap")
	}
	if join, _ := cmd.Flags().GetString("join"); join != "" {
		cfg.JoinAddr = join
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSONOutput,
		FilePath:   cfg.Log.File,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(cfg.ClusterID)); err != nil {
		return fmt.Errorf("set cluster encryption key: %w", err)
	}

	certDir, err := security.GetCertDir("node", cfg.NodeID)
	if err != nil {
		return fmt.Errorf("resolve cert dir: %w", err)
	}

	st, err := store.New(store.Config{
		NodeID:    cfg.NodeID,
		BindAddr:  cfg.BindAddr,
		DataDir:   cfg.DataDir,
		Bootstrap: cfg.Bootstrap,
	}, store.Schemas[store.LatestSchemaVersion])
	if err != nil {
		return fmt.Errorf("start store: %w", err)
	}

	var tlsCert *tls.Certificate
	var caPool *x509.CertPool

	switch {
	case cfg.Bootstrap:
		ca := security.NewCertAuthority(st)
		if err := ca.Initialize(); err != nil {
			return fmt.Errorf("initialize cluster CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return fmt.Errorf("persist cluster CA: %w", err)
		}
		cert, err := issueNodeCert(ca, cfg)
		if err != nil {
			return err
		}
		if err := security.SaveCertToFile(cert, certDir); err != nil {
			return fmt.Errorf("save node cert: %w", err)
		}
		if err := security.SaveCACertToFile(ca.GetRootCACert(), certDir); err != nil {
			return fmt.Errorf("save CA cert: %w", err)
		}
		rootCert, err := x509.ParseCertificate(ca.GetRootCACert())
		if err != nil {
			return fmt.Errorf("parse issued root CA: %w", err)
		}
		tlsCert = cert
		caPool = x509.NewCertPool()
		caPool.AddCert(rootCert)

		seedClusterDefaults(st)

	case cfg.JoinAddr != "":
		if !security.CertExists(certDir) {
			return fmt.Errorf("no cert bundle in %s: run `pvcnoded issue-cert %s --out %s` on an existing member and copy it here first", certDir, cfg.NodeID, certDir)
		}
		cert, err := security.LoadCertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("load node cert: %w", err)
		}
		caCert, err := security.LoadCACertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("load CA cert: %w", err)
		}
		tlsCert = cert
		caPool = x509.NewCertPool()
		caPool.AddCert(caCert)

		bootstrapPool := rpc.NewPool(peerCreds(tlsCert, caPool))
		defer bootstrapPool.Close()
		joinCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		reply, err := bootstrapPool.Join(joinCtx, cfg.JoinAddr, cfg.NodeID, cfg.BindAddr)
		cancel()
		if err != nil {
			return fmt.Errorf("join cluster via %s: %w", cfg.JoinAddr, err)
		}
		if !reply.Accepted {
			return fmt.Errorf("join rejected, current leader reports itself at %s", reply.LeaderAddr)
		}

	default:
		return fmt.Errorf("config must set either bootstrap or join_addr")
	}

	creds := peerCreds(tlsCert, caPool)
	rpcPool := rpc.NewPool(creds)
	defer rpcPool.Close()

	hv := hypervisor.NewFake()
	bs := blockstore.NewFake()
	power := ipmi.NewTool(cfg.IPMITimeout)

	netDir, err := netctl.NewDir(cfg.DataDir + "/netctl")
	if err != nil {
		return fmt.Errorf("init netctl dir: %w", err)
	}

	netMgr := network.New(network.Config{
		NodeID:       cfg.NodeID,
		ClusterIface: cfg.ClusterIface,
		ClusterMTU:   cfg.ClusterMTU,
		BridgeUplink: cfg.BridgeUplink,
		ConfigDir:    cfg.DataDir + "/netctl",
	}, st, network.NewFake(), network.NewFakeDHCPSupervisor(), netDir)

	dnsAgg := coordinator.NewDNSAggregator(st, "127.0.0.1:5353")
	services := &serviceSet{Manager: netMgr, dns: dnsAgg}

	coord := coordinator.New(coordinator.Config{
		NodeID:                   cfg.NodeID,
		DaemonMode:               cfg.DaemonMode,
		PrimaryContentionTimeout: cfg.PrimaryContentionTimeout,
		HandoffSettleDelay:       cfg.HandoffSettleDelay,
		HandoffPhaseGTimeout:     cfg.HandoffPhaseGTimeout,
	}, st, services)
	coord.SetNotifier(rpcPool)

	vmMgr := vm.New(vm.Config{
		NodeID:               cfg.NodeID,
		VMShutdownTimeout:    cfg.VMShutdownTimeout,
		MigrationSyncTimeout: cfg.MigrationSyncTimeout,
		MigrationLockTimeout: cfg.MigrationLockTimeout,
		LiveMigrationRetries: cfg.LiveMigrationRetries,
	}, st, hv, bs)
	vmMgr.SetNotifier(rpcPool)

	kaMgr := keepalive.New(keepalive.Config{
		NodeID:              cfg.NodeID,
		Interval:            cfg.KeepaliveInterval,
		FenceMultiplier:     cfg.FenceMultiplier,
		FenceConsecutive:    cfg.FenceConsecutive,
		FenceRecoveryPolicy: cfg.FenceRecoveryPolicy,
		CollectorTimeout:    cfg.ProbeTimeout * 4,
	}, st, hv, bs, power)

	rpcSrv := rpc.NewServer(st, creds)
	rpcSrv.OnNotifyPrimary(func(ctx context.Context, newPrimary string) {
		logger.Info().Str("new_primary", newPrimary).Msg("accelerant: peer notified of new primary")
	})
	rpcSrv.OnNotifyMigrate(func(ctx context.Context, uuid, source, destination string) {
		logger.Info().Str("vm_uuid", uuid).Str("source", source).Str("destination", destination).Msg("accelerant: peer notified of incoming migration")
	})

	lis, err := net.Listen("tcp", cfg.RPCBindAddr)
	if err != nil {
		return fmt.Errorf("listen rpc %s: %w", cfg.RPCBindAddr, err)
	}
	rpcErrCh := make(chan error, 1)
	go func() {
		if err := rpcSrv.Serve(lis); err != nil {
			rpcErrCh <- err
		}
	}()

	metrics.RegisterComponent("store", true, "raft store started")
	metrics.RegisterComponent("rpc", true, "rpc server listening")

	metricsSrv := &http.Server{Addr: cfg.Metrics.BindAddr}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	metricsSrv.Handler = mux
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	kaCtx, kaCancel := context.WithCancel(ctx)
	go kaMgr.Run(kaCtx)

	isPrimary := func() bool {
		var state types.CoordinatorState
		treekv.Get(st, "node.coordinator_state", cfg.NodeID, &state)
		return state == types.CoordinatorPrimary
	}
	migrator := coordinator.NewSchemaMigrator(st, store.Schemas, isPrimary,
		func() { kaCancel() },
		func() { kaCtx, kaCancel = context.WithCancel(ctx); go kaMgr.Run(kaCtx) },
	)
	stopMigrator := make(chan struct{})
	go migrator.Run(stopMigrator)

	go coord.Run(ctx)
	go vmMgr.Run(ctx)
	go netMgr.Run(ctx)

	treekv.Put(st, "node.rpc_addr", cfg.NodeID, cfg.RPCBindAddr)

	logger.Info().Str("node_id", cfg.NodeID).Str("bind_addr", cfg.BindAddr).Str("rpc_bind_addr", cfg.RPCBindAddr).Msg("pvcnoded started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := log.Reopen(); err != nil {
					logger.Error().Err(err).Msg("log reopen failed")
				} else {
					logger.Info().Msg("log file reopened")
				}
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			shutdown(cfg, st, rpcSrv, rpcPool, metricsSrv, stopMigrator, cancelRun)
			return nil
		case err := <-rpcErrCh:
			logger.Error().Err(err).Msg("rpc server exited unexpectedly")
			shutdown(cfg, st, rpcSrv, rpcPool, metricsSrv, stopMigrator, cancelRun)
			return err
		}
	}
}

// shutdown relinquishes primary (if held) so a waiting secondary can take
// over without waiting out the full fence timeout, then stops every
// subsystem in reverse start order (§6).
func shutdown(cfg *config.Config, st *store.Store, rpcSrv *rpc.Server, rpcPool *rpc.Pool, metricsSrv *http.Server, stopMigrator chan struct{}, cancelRun context.CancelFunc) {
	treekv.Put(st, "node.daemon_state", cfg.NodeID, "shutdown")

	var primary string
	treekv.Get(st, "base.config.primary_node", "", &primary)
	if primary == cfg.NodeID {
		treekv.Put(st, "base.config.primary_node", "", "")
		waitForRelinquish(st, cfg.NodeID, cfg.ShutdownHandoffTimeout)
	}

	close(stopMigrator)
	cancelRun()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	metricsSrv.Shutdown(ctx)
	cancel()

	rpcSrv.Stop()
	rpcPool.Close()

	treekv.Put(st, "node.daemon_state", cfg.NodeID, "stop")
	if err := st.Shutdown(); err != nil {
		log.Errorf("store shutdown", err)
	}
}

// waitForRelinquish blocks until this node's coordinator state leaves
// "primary" (the relinquish sequence completed) or timeout elapses,
// bounding an orderly shutdown's hand-off wait (§6).
func waitForRelinquish(st *store.Store, nodeID string, timeout time.Duration) {
	deadline := time.After(timeout)
	for {
		var state types.CoordinatorState
		treekv.Get(st, "node.coordinator_state", nodeID, &state)
		if state != types.CoordinatorPrimary {
			return
		}
		select {
		case <-deadline:
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func runIssueCert(cmd *cobra.Command, args []string) error {
	targetNodeID := args[0]
	outDir, _ := cmd.Flags().GetString("out")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(cfg.ClusterID)); err != nil {
		return fmt.Errorf("set cluster encryption key: %w", err)
	}

	st, err := store.New(store.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.BindAddr,
		DataDir:  cfg.DataDir,
	}, store.Schemas[store.LatestSchemaVersion])
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer st.Shutdown()

	ca := security.NewCertAuthority(st)
	if err := ca.LoadFromStore(); err != nil {
		return fmt.Errorf("load cluster CA: %w", err)
	}
	cert, err := issueNodeCert(ca, &config.Config{NodeID: targetNodeID})
	if err != nil {
		return err
	}
	if err := security.SaveCertToFile(cert, outDir); err != nil {
		return fmt.Errorf("save node cert: %w", err)
	}
	if err := security.SaveCACertToFile(ca.GetRootCACert(), outDir); err != nil {
		return fmt.Errorf("save CA cert: %w", err)
	}
	fmt.Printf("wrote cert bundle for %s to %s; copy this directory to the new node's cert dir before joining\n", targetNodeID, outDir)
	return nil
}

func issueNodeCert(ca *security.CertAuthority, cfg *config.Config) (*tls.Certificate, error) {
	dnsNames := []string{clusterServerName, cfg.NodeID}
	var ips []net.IP
	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		if ip := net.ParseIP(host); ip != nil {
			ips = append(ips, ip)
		}
	}
	cert, err := ca.IssueNodeCertificate(cfg.NodeID, "node", dnsNames, ips)
	if err != nil {
		return nil, fmt.Errorf("issue node certificate: %w", err)
	}
	return cert, nil
}

func peerCreds(cert *tls.Certificate, caPool *x509.CertPool) credentials.TransportCredentials {
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      caPool,
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ServerName:   clusterServerName,
		MinVersion:   tls.VersionTLS12,
	})
}

func seedClusterDefaults(st *store.Store) {
	treekv.Put(st, "base.schema.version", "", store.LatestSchemaVersion)
	treekv.Put(st, "base.config.maintenance", "", false)
	treekv.Put(st, "base.config.primary_node", "", "")
	treekv.Put(st, "base.config.migrate_selector", "", "mem")
}
