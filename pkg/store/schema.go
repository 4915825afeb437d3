package store

import "fmt"

// Schema maps symbolic keys to path templates. A symbolic key either
// resolves to a singleton path, or — when combined with an item id — to
// "<base>/<item><suffix>". Nested symbolic keys combine an outer and inner
// template the same way. Unknown symbolic keys deliberately resolve to "no
// path": this is what lets a node running schema version V read paths a
// peer on V+1 hasn't written yet without erroring (§4.1, rolling upgrade).
type Schema struct {
	Version   int
	Templates map[string]string
}

// Resolve looks up a bare symbolic key (cluster singletons: "base.config",
// "base.schema.version", ...).
func (s *Schema) Resolve(symbolic string) (string, bool) {
	path, ok := s.Templates[symbolic]
	return path, ok
}

// ResolveItem looks up a (symbolic, item) pair, e.g. ("node", "cx1") ->
// "nodes/cx1".
func (s *Schema) ResolveItem(symbolic, item string) (string, bool) {
	base, ok := s.Templates[symbolic]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s/%s", base, item), true
}

// ResolveField looks up a per-entity field, e.g. ("node.memory.free", "cx1")
// using the "node" base plus a field suffix template such as
// "{item}/memory/free".
func (s *Schema) ResolveField(symbolic, item string) (string, bool) {
	tpl, ok := s.Templates[symbolic]
	if !ok {
		return "", false
	}
	return expandItem(tpl, item), true
}

// ResolveNested looks up a (outer, outerItem, inner, innerItem) quadruple,
// e.g. network rule entries: ("network.rule.in", "100", "", "5") ->
// "networks/100/rules/in/5".
func (s *Schema) ResolveNested(outer, outerItem, inner, innerItem string) (string, bool) {
	tpl, ok := s.Templates[inner]
	if !ok {
		return "", false
	}
	base := expandItem(tpl, outerItem)
	if innerItem == "" {
		return base, true
	}
	return fmt.Sprintf("%s/%s", base, innerItem), true
}

func expandItem(tpl, item string) string {
	out := make([]byte, 0, len(tpl)+len(item))
	for i := 0; i < len(tpl); i++ {
		if i+6 <= len(tpl) && tpl[i:i+6] == "{item}" {
			out = append(out, item...)
			i += 5
			continue
		}
		out = append(out, tpl[i])
	}
	return string(out)
}
