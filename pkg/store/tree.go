package store

import (
	"strings"
	"sync"
)

// entry is one versioned value in the coordination tree.
type entry struct {
	Data    []byte
	Version uint64
}

// lockMode is the flavor of a held or requested lock (§4.1).
type lockMode string

const (
	lockRead      lockMode = "read"
	lockWrite     lockMode = "write"
	lockExclusive lockMode = "exclusive"
)

// lockState tracks current holders of one named lock. read coexists with
// read; write and exclusive exclude everything else. Fairness between
// waiters is not guaranteed by this primitive (§9 design note) — callers
// that need strict ordering (the primary hand-off protocol) get it from
// the phase structure of the protocol itself, not from the lock.
type lockState struct {
	readers map[string]bool
	writer  string
}

func (l *lockState) tryAcquire(holder string, mode lockMode) bool {
	switch mode {
	case lockRead:
		if l.writer != "" {
			return false
		}
		if l.readers == nil {
			l.readers = make(map[string]bool)
		}
		l.readers[holder] = true
		return true
	default: // write, exclusive
		if l.writer != "" || len(l.readers) > 0 {
			return false
		}
		l.writer = holder
		return true
	}
}

func (l *lockState) release(holder string) {
	if l.writer == holder {
		l.writer = ""
	}
	delete(l.readers, holder)
}

func (l *lockState) empty() bool {
	return l.writer == "" && len(l.readers) == 0
}

// tree is the in-memory, mutex-guarded path-keyed store that backs the
// FSM. It is only ever mutated from FSM.Apply (which Raft serializes), so
// the mutex exists purely to let concurrent readers (ReadMany, Children)
// run safely alongside that serialized writer.
type tree struct {
	mu    sync.RWMutex
	data  map[string]*entry
	locks map[string]*lockState
}

func newTree() *tree {
	return &tree{
		data:  make(map[string]*entry),
		locks: make(map[string]*lockState),
	}
}

func (t *tree) get(path string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.data[path]
	return e, ok
}

// children lists the immediate child segments of path (one level deep).
func (t *tree) children(path string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prefix := path + "/"
	seen := make(map[string]bool)
	var out []string
	for k := range t.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			rest = rest[:idx]
		}
		if rest == "" || seen[rest] {
			continue
		}
		seen[rest] = true
		out = append(out, rest)
	}
	return out
}

// checkVersions validates optimistic version preconditions without
// mutating anything, so a multi-key write can fail atomically before any
// key is touched (§4.1 "all writes are all-or-nothing").
func (t *tree) checkVersions(writes []WriteOp) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, w := range writes {
		if w.ExpectedVersion == nil {
			continue
		}
		e, ok := t.data[w.Path]
		cur := uint64(0)
		if ok {
			cur = e.Version
		}
		if cur != *w.ExpectedVersion {
			return false
		}
	}
	return true
}

func (t *tree) applyWrites(writes []WriteOp) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	touched := make([]string, 0, len(writes))
	for _, w := range writes {
		cur := t.data[w.Path]
		version := uint64(1)
		if cur != nil {
			version = cur.Version + 1
		}
		t.data[w.Path] = &entry{Data: w.Value, Version: version}
		touched = append(touched, w.Path)
	}
	return touched
}

func (t *tree) applyDelete(paths []string, recursive bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var touched []string
	for _, p := range paths {
		if _, ok := t.data[p]; ok {
			delete(t.data, p)
			touched = append(touched, p)
		}
		if recursive {
			prefix := p + "/"
			for k := range t.data {
				if strings.HasPrefix(k, prefix) {
					delete(t.data, k)
					touched = append(touched, k)
				}
			}
		}
	}
	return touched
}

func (t *tree) applyRename(renames []RenameOp) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var touched []string
	for _, r := range renames {
		prefix := r.From + "/"
		moves := map[string]string{}
		if e, ok := t.data[r.From]; ok {
			_ = e
			moves[r.From] = r.To
		}
		for k := range t.data {
			if strings.HasPrefix(k, prefix) {
				moves[k] = r.To + k[len(r.From):]
			}
		}
		for from, to := range moves {
			t.data[to] = t.data[from]
			delete(t.data, from)
			touched = append(touched, from, to)
		}
	}
	return touched
}

func (t *tree) acquireLock(name, holder string, mode lockMode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[name]
	if !ok {
		l = &lockState{}
		t.locks[name] = l
	}
	return l.tryAcquire(holder, mode)
}

func (t *tree) releaseLock(name, holder string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[name]
	if !ok {
		return
	}
	l.release(holder)
	if l.empty() {
		delete(t.locks, name)
	}
}

// snapshot returns a deep copy suitable for Raft snapshotting.
func (t *tree) snapshot() map[string]entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]entry, len(t.data))
	for k, v := range t.data {
		out[k] = *v
	}
	return out
}

func (t *tree) restore(snap map[string]entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data = make(map[string]*entry, len(snap))
	for k, v := range snap {
		cp := v
		t.data[k] = &cp
	}
}
