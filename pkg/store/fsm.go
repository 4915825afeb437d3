package store

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
)

// WriteOp is one key in a transactional write (§4.1 write(list of (key, value))).
type WriteOp struct {
	Path            string
	Value           []byte
	ExpectedVersion *uint64 // optimistic concurrency check; nil = no check
}

// RenameOp moves a key (and its child subtree) from one path to another,
// preserving data verbatim — used by schema migration (§4.1, §8 invariant 5).
type RenameOp struct {
	From string
	To   string
}

// LockRequest is one lock acquire/release attempt.
type LockRequest struct {
	Name   string
	Holder string
	Mode   lockMode
}

// Command is one Raft log entry applied to the FSM.
type Command struct {
	Op        string // "write", "delete", "rename", "lock_acquire", "lock_release"
	Writes    []WriteOp
	Paths     []string
	Recursive bool
	Renames   []RenameOp
	Lock      *LockRequest
}

// ApplyResult is the interface{} returned from raft.Apply's future.Response().
type ApplyResult struct {
	OK      bool
	Touched []string
	Err     error
}

// FSM implements raft.FSM over the path-keyed tree.
type FSM struct {
	tree    *tree
	watches *Broker
}

func newFSM(watches *Broker) *FSM {
	return &FSM{tree: newTree(), watches: watches}
}

// Apply applies one committed Raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return &ApplyResult{Err: fmt.Errorf("unmarshal command: %w", err)}
	}

	switch cmd.Op {
	case "write":
		if !f.tree.checkVersions(cmd.Writes) {
			return &ApplyResult{OK: false, Err: fmt.Errorf("version conflict")}
		}
		touched := f.tree.applyWrites(cmd.Writes)
		f.notify(touched)
		return &ApplyResult{OK: true, Touched: touched}

	case "delete":
		touched := f.tree.applyDelete(cmd.Paths, cmd.Recursive)
		f.notify(touched)
		return &ApplyResult{OK: true, Touched: touched}

	case "rename":
		touched := f.tree.applyRename(cmd.Renames)
		f.notify(touched)
		return &ApplyResult{OK: true, Touched: touched}

	case "lock_acquire":
		ok := f.tree.acquireLock(cmd.Lock.Name, cmd.Lock.Holder, cmd.Lock.Mode)
		return &ApplyResult{OK: ok}

	case "lock_release":
		f.tree.releaseLock(cmd.Lock.Name, cmd.Lock.Holder)
		f.notify([]string{"locks/" + cmd.Lock.Name})
		return &ApplyResult{OK: true}

	default:
		return &ApplyResult{Err: fmt.Errorf("unknown command op: %s", cmd.Op)}
	}
}

func (f *FSM) notify(paths []string) {
	if f.watches == nil {
		return
	}
	for _, p := range paths {
		f.watches.Publish(p)
	}
}

// Snapshot returns a point-in-time copy of the tree for Raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &treeSnapshot{data: f.tree.snapshot()}, nil
}

// Restore reloads the tree from a Raft snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap map[string]entry
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	f.tree.restore(snap)
	return nil
}

type treeSnapshot struct {
	data map[string]entry
}

func (s *treeSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.data); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *treeSnapshot) Release() {}
