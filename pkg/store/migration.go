package store

// DiffKind is the kind of structural change key_diff produces between two
// schema versions (§4.1 migration protocol step 3).
type DiffKind string

const (
	DiffAdd    DiffKind = "add"
	DiffRemove DiffKind = "remove"
	DiffRename DiffKind = "rename"
)

// DiffOp is one entry in the ordered diff between schema version From and
// To. Renames carry both the old and new resolved path template so the
// migration engine can move data verbatim (§8 invariant 5); adds and
// removes only need the symbolic key, since an add requires no tree
// mutation (absent reads already resolve to "no path" until written) and a
// remove's only observable effect is cleaning up now-unreachable data.
type DiffOp struct {
	Kind      DiffKind
	Symbolic  string
	OldPath   string
	NewPath   string
}

// KeyDiff computes the ordered {add, remove, rename} tuple list between two
// schema versions, by symbolic key. A key present in both with an unchanged
// path is not part of the diff. A key present in both with a changed path
// is a rename. A key only in `to` is an add; only in `from` is a remove.
// Iteration order is deterministic (lexical by symbolic key) so every node
// computes the identical ordered diff independently (§4.1).
func KeyDiff(from, to *Schema) []DiffOp {
	keys := make(map[string]bool, len(from.Templates)+len(to.Templates))
	for k := range from.Templates {
		keys[k] = true
	}
	for k := range to.Templates {
		keys[k] = true
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sortStrings(sorted)

	var out []DiffOp
	for _, k := range sorted {
		oldPath, inOld := from.Templates[k]
		newPath, inNew := to.Templates[k]
		switch {
		case inOld && inNew && oldPath != newPath:
			out = append(out, DiffOp{Kind: DiffRename, Symbolic: k, OldPath: oldPath, NewPath: newPath})
		case inOld && !inNew:
			out = append(out, DiffOp{Kind: DiffRemove, Symbolic: k, OldPath: oldPath})
		case !inOld && inNew:
			out = append(out, DiffOp{Kind: DiffAdd, Symbolic: k, NewPath: newPath})
		}
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ApplyDiff applies an ordered diff to the tree. Templates containing
// "{item}" are per-entity bases: since the diff operates on symbolic
// *templates* rather than concrete per-instance paths, ApplyDiff expands
// each template against every existing child of its entity collection
// (e.g. every node, every domain) before renaming/removing, so a single
// rename diff entry ("node.memory.used" -> "node.memory.utilized")
// produces one Store.Rename call per existing node, not one call total.
func ApplyDiff(s *Store, diffs []DiffOp) error {
	for _, d := range diffs {
		switch d.Kind {
		case DiffRename:
			renames := expandForRename(s, d.OldPath, d.NewPath)
			if len(renames) == 0 {
				continue
			}
			if err := s.Rename(renames); err != nil {
				return err
			}
		case DiffRemove:
			paths := expandConcretePaths(s, d.OldPath)
			if len(paths) == 0 {
				continue
			}
			if err := s.Delete(paths, true); err != nil {
				return err
			}
		case DiffAdd:
			// No tree mutation required: absent reads of the new key
			// already resolve to "no path" until a writer populates it.
		}
	}
	return nil
}

func expandForRename(s *Store, oldTpl, newTpl string) []RenameOp {
	oldPaths := expandConcretePaths(s, oldTpl)
	var out []RenameOp
	for _, op := range oldPaths {
		// Replace the entity-id segment consistently: both templates
		// share the same {item} position by construction (schema_v*.go).
		np := rewriteEntityPath(oldTpl, newTpl, op)
		out = append(out, RenameOp{From: op, To: np})
	}
	return out
}

// expandConcretePaths resolves a template containing "{item}" against every
// existing child under the template's collection root; a template with no
// "{item}" placeholder is already concrete and is returned as-is if present.
func expandConcretePaths(s *Store, tpl string) []string {
	idx := indexOf(tpl, "{item}")
	if idx < 0 {
		if s.Exists(tpl) {
			return []string{tpl}
		}
		return nil
	}
	collectionRoot := tpl[:idx]
	collectionRoot = trimTrailingSlash(collectionRoot)
	suffix := tpl[idx+len("{item}"):]

	var out []string
	for _, item := range s.Children(collectionRoot) {
		out = append(out, collectionRoot+"/"+item+suffix)
	}
	return out
}

func rewriteEntityPath(oldTpl, newTpl, concreteOld string) string {
	oldIdx := indexOf(oldTpl, "{item}")
	newIdx := indexOf(newTpl, "{item}")
	if oldIdx < 0 || newIdx < 0 {
		return newTpl
	}
	oldPrefix := trimTrailingSlash(oldTpl[:oldIdx])
	oldSuffix := oldTpl[oldIdx+len("{item}"):]

	item := concreteOld
	item = item[len(oldPrefix)+1:]
	if len(oldSuffix) > 0 && len(item) >= len(oldSuffix) {
		item = item[:len(item)-len(oldSuffix)]
	}

	newPrefix := trimTrailingSlash(newTpl[:newIdx])
	newSuffix := newTpl[newIdx+len("{item}"):]
	return newPrefix + "/" + item + newSuffix
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
