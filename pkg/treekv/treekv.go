// Package treekv is the thin typed-value layer every subsystem (pkg/vm,
// pkg/coordinator, pkg/keepalive, pkg/network) builds its reads and writes
// on top of: resolve a symbolic schema key against the node's active
// schema, then JSON-encode/decode the value at the resolved path. The
// coordination tree itself (pkg/store) only knows about raw bytes and
// symbolic-to-path resolution (§4.1); this package is where "store a
// types.Domain field" turns into a schema lookup plus a store call.
package treekv

import (
	"encoding/json"
	"fmt"

	"github.com/parallelvirtualcluster/pvcd/pkg/store"
)

// Get resolves symbolic against item (pass "" for cluster singletons) and
// decodes the stored value into out. ok is false if the key is unresolved
// by this node's schema, or nothing has been written there yet.
func Get(s *store.Store, symbolic, item string, out interface{}) (ok bool) {
	path, resolved := resolve(s, symbolic, item)
	if !resolved {
		return false
	}
	data, present := s.Read(path)
	if !present {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}
	return true
}

// Put resolves symbolic against item and writes value, JSON-encoded, as a
// single-key transaction. Returns an error if the key is unresolved by
// this node's schema (callers in that situation should treat the write as
// a no-op per §4.1's rolling-upgrade tolerance, not a failure).
func Put(s *store.Store, symbolic, item string, value interface{}) error {
	path, resolved := resolve(s, symbolic, item)
	if !resolved {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", symbolic, err)
	}
	return s.Write([]store.WriteOp{{Path: path, Value: data}})
}

// Path exposes the resolved path for a symbolic/item pair, for callers that
// need it directly (locks, watches).
func Path(s *store.Store, symbolic, item string) (string, bool) {
	return resolve(s, symbolic, item)
}

// Field is one symbolic/item/value triple for PutMany.
type Field struct {
	Symbolic string
	Item     string
	Value    interface{}
}

// PutMany writes several fields as a single transactional batch (§4.1
// "all-or-nothing at the transaction level"; §4.3 step 3's keepalive
// batch). Fields unresolved by this node's schema are silently dropped
// from the batch rather than failing the whole write.
func PutMany(s *store.Store, fields []Field) error {
	var writes []store.WriteOp
	for _, f := range fields {
		path, resolved := resolve(s, f.Symbolic, f.Item)
		if !resolved {
			continue
		}
		data, err := json.Marshal(f.Value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", f.Symbolic, err)
		}
		writes = append(writes, store.WriteOp{Path: path, Value: data})
	}
	if len(writes) == 0 {
		return nil
	}
	return s.Write(writes)
}

func resolve(s *store.Store, symbolic, item string) (string, bool) {
	schema := s.Schema()
	if schema == nil {
		return "", false
	}
	if item == "" {
		return schema.Resolve(symbolic)
	}
	return schema.ResolveField(symbolic, item)
}

// List returns the item ids directly beneath symbolic's base path, e.g.
// List(s, "node", "") -> the set of known hostnames.
func List(s *store.Store, symbolic string) []string {
	schema := s.Schema()
	if schema == nil {
		return nil
	}
	base, ok := schema.Resolve(symbolic)
	if !ok {
		return nil
	}
	return s.Children(base)
}
