package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyDiff_V1ToV2IsSingleRename(t *testing.T) {
	diffs := KeyDiff(SchemaV1, SchemaV2)

	require.Len(t, diffs, 1, "§8 scenario 5: renaming one key must produce exactly one diff entry")
	require.Equal(t, DiffRename, diffs[0].Kind)
	require.Equal(t, "node.memory.used", diffs[0].Symbolic)
	require.Equal(t, "nodes/{item}/memory/used", diffs[0].OldPath)
	require.Equal(t, "nodes/{item}/memory/utilized", diffs[0].NewPath)
}

func TestKeyDiff_IdenticalSchemasProduceNoDiff(t *testing.T) {
	diffs := KeyDiff(SchemaV1, SchemaV1)
	require.Empty(t, diffs)
}

func TestKeyDiff_AddAndRemove(t *testing.T) {
	from := &Schema{Version: 1, Templates: map[string]string{"a": "path/a", "b": "path/b"}}
	to := &Schema{Version: 2, Templates: map[string]string{"a": "path/a", "c": "path/c"}}

	diffs := KeyDiff(from, to)
	require.Len(t, diffs, 2)

	kinds := map[string]DiffKind{}
	for _, d := range diffs {
		kinds[d.Symbolic] = d.Kind
	}
	require.Equal(t, DiffRemove, kinds["b"])
	require.Equal(t, DiffAdd, kinds["c"])
}

func TestApplyDiff_RenamePreservesDataAcrossNodes(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write([]WriteOp{
		{Path: "nodes/cx1/memory/used", Value: []byte("1000")},
		{Path: "nodes/cx2/memory/used", Value: []byte("2000")},
	}))

	diffs := KeyDiff(SchemaV1, SchemaV2)
	require.NoError(t, ApplyDiff(s, diffs))

	v, ok := s.Read("nodes/cx1/memory/utilized")
	require.True(t, ok)
	require.Equal(t, "1000", string(v))

	v, ok = s.Read("nodes/cx2/memory/utilized")
	require.True(t, ok)
	require.Equal(t, "2000", string(v))

	_, ok = s.Read("nodes/cx1/memory/used")
	require.False(t, ok, "old symbolic key must resolve absent after migration")
}

func TestApplyDiff_ReverseRestoresExactPriorKeySet(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write([]WriteOp{{Path: "nodes/cx1/memory/used", Value: []byte("1000")}}))

	forward := KeyDiff(SchemaV1, SchemaV2)
	require.NoError(t, ApplyDiff(s, forward))

	reverse := KeyDiff(SchemaV2, SchemaV1)
	require.NoError(t, ApplyDiff(s, reverse))

	v, ok := s.Read("nodes/cx1/memory/used")
	require.True(t, ok)
	require.Equal(t, "1000", string(v))
	_, ok = s.Read("nodes/cx1/memory/utilized")
	require.False(t, ok)
}

func TestApplyDiff_NoOpWhenNoMatchingEntitiesExist(t *testing.T) {
	s := newTestStore(t)
	diffs := KeyDiff(SchemaV1, SchemaV2)
	require.NoError(t, ApplyDiff(s, diffs))
}
