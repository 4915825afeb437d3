// Package store implements the cluster-state coordination engine (§4.1): a
// typed, versioned, watch-capable path-keyed tree replicated across the
// fleet by Raft, plus the lock primitives and schema-migration machinery
// every other subsystem in the daemon builds on.
package store

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
)

// Config holds the parameters needed to stand up this node's replica of the
// coordination store.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool // true only for the first node of a brand new cluster
}

// Store is the node-local handle onto the replicated coordination tree. All
// mutation of observable cluster state flows through it (§2 control flow).
type Store struct {
	cfg Config

	raft    *raft.Raft
	fsm     *FSM
	watches *Broker

	schemaMu sync.RWMutex
	schema   *Schema

	logger zerolog.Logger
}

// New creates a Store bound to the local Raft transport and bbolt-backed
// log/stable/snapshot stores, mirroring the teacher's Manager.Bootstrap /
// Manager.Join split (pkg/manager/manager.go) but generalized to operate
// over the generic path-keyed tree instead of typed entity buckets.
func New(cfg Config, initialSchema *Schema) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	watches := NewBroker()
	fsm := newFSM(watches)

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}

	s := &Store{
		cfg:     cfg,
		raft:    r,
		fsm:     fsm,
		watches: watches,
		schema:  initialSchema,
		logger:  log.WithComponent("store"),
	}

	if cfg.Bootstrap {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
		})
		if err := future.Error(); err != nil {
			return nil, fmt.Errorf("bootstrap cluster: %w", err)
		}
	}

	return s, nil
}

// Join adds a new voter to the Raft configuration. Must be called against
// the current Raft leader (§9: raft leader is distinct from the application
// coordinator role).
func (s *Store) Join(nodeID, addr string) error {
	if s.raft.State() != raft.Leader {
		return fmt.Errorf("join must be issued against the raft leader")
	}
	future := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// IsRaftLeader reports whether this node currently holds the Raft leader
// lease. Distinct from CoordinatorState==primary (§4.2); the application
// hand-off protocol layers on top of whichever node happens to be Raft
// leader, since plain Raft leadership gives no seven-phase handoff.
func (s *Store) IsRaftLeader() bool {
	return s.raft.State() == raft.Leader
}

// LeaderAddr returns the current Raft leader's transport address, or ""
// if none is known. Used by pkg/rpc's Join handler to redirect a bootstrap
// request that landed on a non-leader node.
func (s *Store) LeaderAddr() string {
	addr, _ := s.raft.LeaderWithID()
	return string(addr)
}

// Shutdown releases the local Raft instance.
func (s *Store) Shutdown() error {
	return s.raft.Shutdown().Error()
}

func (s *Store) apply(cmd Command, timeout time.Duration) (*ApplyResult, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	future := s.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("apply command: %w", err)
	}
	res, ok := future.Response().(*ApplyResult)
	if !ok {
		return nil, fmt.Errorf("unexpected apply response type %T", future.Response())
	}
	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

// Exists reports whether path currently holds a value.
func (s *Store) Exists(path string) bool {
	_, ok := s.fsm.tree.get(path)
	return ok
}

// Read returns the raw bytes stored at path. ok is false if absent — this
// includes "symbolic key unresolved by this node's schema version" (§4.1
// rolling-upgrade tolerance), which callers handle identically to "never
// written".
func (s *Store) Read(path string) ([]byte, bool) {
	e, ok := s.fsm.tree.get(path)
	if !ok {
		return nil, false
	}
	return e.Data, true
}

// ReadMany batches several reads into one call.
func (s *Store) ReadMany(paths []string) map[string][]byte {
	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		if v, ok := s.Read(p); ok {
			out[p] = v
		}
	}
	return out
}

// Write commits a batch of key/value writes as a single Raft-replicated
// transaction with optimistic per-key version checks (§4.1: "all-or-
// nothing at the transaction level").
func (s *Store) Write(writes []WriteOp) error {
	_, err := s.apply(Command{Op: "write", Writes: writes}, 5*time.Second)
	return err
}

// Delete removes one or more keys, optionally recursing into their
// subtrees.
func (s *Store) Delete(paths []string, recursive bool) error {
	_, err := s.apply(Command{Op: "delete", Paths: paths, Recursive: recursive}, 5*time.Second)
	return err
}

// Rename moves keys (and their subtrees) preserving content verbatim; used
// by the schema migration engine (§8 invariant 5).
func (s *Store) Rename(renames []RenameOp) error {
	_, err := s.apply(Command{Op: "rename", Renames: renames}, 5*time.Second)
	return err
}

// Children lists the immediate child segments of path.
func (s *Store) Children(path string) []string {
	return s.fsm.tree.children(path)
}

// Watch subscribes to mutations at or below prefix. The returned cancel
// func must be called to release the subscription.
func (s *Store) Watch(prefix string) (<-chan WatchEvent, func()) {
	return s.watches.Watch(prefix)
}

// Schema returns the currently active schema version for this node.
func (s *Store) Schema() *Schema {
	s.schemaMu.RLock()
	defer s.schemaMu.RUnlock()
	return s.schema
}

// SetSchema hot-swaps the active schema, used after a migration completes
// (§4.1 step 5: "updates its per-node active_schema_version").
func (s *Store) SetSchema(sc *Schema) {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	s.schema = sc
}
