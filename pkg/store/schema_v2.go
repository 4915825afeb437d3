package store

// SchemaV2 renames node.memory.used -> node.memory.utilized (§8 scenario 5).
// It is otherwise identical to SchemaV1; every other symbolic key keeps its
// path so key_diff (migration.go) produces a single rename op.
var SchemaV2 = &Schema{
	Version:   2,
	Templates: cloneWithRename(SchemaV1.Templates, "node.memory.used", "node.memory.utilized", "nodes/{item}/memory/utilized"),
}

func cloneWithRename(src map[string]string, dropKey, addKey, addPath string) map[string]string {
	out := make(map[string]string, len(src)+1)
	for k, v := range src {
		if k == dropKey {
			continue
		}
		out[k] = v
	}
	out[addKey] = addPath
	return out
}

// Schemas lists every schema version the binary ships, oldest first.
var Schemas = map[int]*Schema{
	1: SchemaV1,
	2: SchemaV2,
}

// LatestSchemaVersion is the newest schema version this binary knows about.
const LatestSchemaVersion = 2
