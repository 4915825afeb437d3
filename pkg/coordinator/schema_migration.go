package coordinator

import (
	"fmt"
	"time"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
)

// SchemaMigrator watches base.schema.version and runs the migration
// protocol (§4.1) when an operator bumps it. Reimplemented as an
// in-process reload rather than re-exec (§9 design note: substitution is
// valid here since every subsystem re-arms its own watches on state
// changes rather than caching resolved paths).
type SchemaMigrator struct {
	store     *store.Store
	schemas   map[int]*store.Schema
	isPrimary func() bool
	pause     func()
	resume    func()
}

// NewSchemaMigrator creates a migrator over the given known schema set.
// isPrimary reports whether this node currently holds the coordinator
// primary role; pause/resume bracket the local keepalive loop (§4.1 step 2).
func NewSchemaMigrator(s *store.Store, schemas map[int]*store.Schema, isPrimary func() bool, pause, resume func()) *SchemaMigrator {
	return &SchemaMigrator{store: s, schemas: schemas, isPrimary: isPrimary, pause: pause, resume: resume}
}

// Run blocks watching base.schema.version until stop is closed.
func (sm *SchemaMigrator) Run(stop <-chan struct{}) {
	path, ok := treekv.Path(sm.store, "base.schema.version", "")
	if !ok {
		return
	}
	events, cancel := sm.store.Watch(path)
	defer cancel()
	for {
		select {
		case <-stop:
			return
		case <-events:
			sm.onVersionChange()
		}
	}
}

func (sm *SchemaMigrator) onVersionChange() {
	var target int
	if !treekv.Get(sm.store, "base.schema.version", "", &target) {
		return
	}
	newSchema, ok := sm.schemas[target]
	if !ok {
		log.Error(fmt.Sprintf("schema migration: unknown target version %d", target))
		return
	}
	oldSchema := sm.store.Schema()
	if oldSchema != nil && oldSchema.Version == target {
		return
	}

	if sm.pause != nil {
		sm.pause()
		defer sm.resume()
	}

	lockPath, ok := treekv.Path(sm.store, "base.schema.version", "")
	if !ok {
		return
	}

	if sm.isPrimary != nil && sm.isPrimary() {
		if sm.store.AcquireLock(lockPath, "schema-migrator", store.LockExclusive, 30*time.Second) {
			diff := store.KeyDiff(oldSchema, newSchema)
			if err := store.ApplyDiff(sm.store, diff); err != nil {
				log.Errorf("schema migration: apply diff", err)
			}
			sm.store.ReleaseLock(lockPath, "schema-migrator")
		}
	} else {
		sm.store.AcquireLock(lockPath, "schema-migrator", store.LockRead, 30*time.Second)
		sm.store.ReleaseLock(lockPath, "schema-migrator")
	}

	sm.store.SetSchema(newSchema)
}
