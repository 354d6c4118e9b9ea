package ndb

import (
	"maps"
	"slices"
)

// RefsField is the reserved record attribute holding reverse references.
const RefsField = "_refs"

// Record is a flat stored entity: scalar fields, plus key or key lists in
// relation fields, plus optional reverse references under RefsField.
type Record map[string]any

// Object is a denormalized entity graph as returned by queries.
type Object = map[string]any

// Refs maps a referencing type to the ordered set of parent keys that
// currently hold a relation to the record.
type Refs map[string][]any

func (r Record) Key(keyField string) any {
	return r[keyField]
}

// Refs returns the record's reverse references. The result is a copy.
func (r Record) Refs() Refs {
	return parseRefs(r[RefsField])
}

func (r Record) setRefs(refs Refs) {
	if len(refs) == 0 {
		delete(r, RefsField)
	} else {
		r[RefsField] = refs
	}
}

// Clone copies the record deeply enough that mutating relation fields and
// reverse references of the copy never affects the original.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// Fields returns a copy of the record without reverse references.
func (r Record) Fields() Object {
	out := make(Object, len(r))
	for k, v := range r {
		if k == RefsField {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case []any:
		return slices.Clone(v)
	case Refs:
		return v.clone()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func parseRefs(v any) Refs {
	refs := make(Refs)
	switch v := v.(type) {
	case Refs:
		for typ, keys := range v {
			refs.addAll(typ, keys)
		}
	case map[string][]any:
		for typ, keys := range v {
			refs.addAll(typ, keys)
		}
	case map[string]any:
		for typ, keys := range v {
			if list, ok := keys.([]any); ok {
				refs.addAll(typ, list)
			}
		}
	}
	return refs
}

func (refs Refs) clone() Refs {
	out := make(Refs, len(refs))
	for typ, keys := range refs {
		out[typ] = slices.Clone(keys)
	}
	return out
}

func (refs Refs) Has(typ string, key any) bool {
	return slices.IndexFunc(refs[typ], func(k any) bool { return keysEqual(k, key) }) >= 0
}

func (refs Refs) add(typ string, key any) bool {
	if key == nil || refs.Has(typ, key) {
		return false
	}
	if nk, err := normalizeKey(key); err == nil {
		key = nk
	}
	refs[typ] = append(refs[typ], key)
	return true
}

func (refs Refs) addAll(typ string, keys []any) bool {
	var changed bool
	for _, k := range keys {
		if refs.add(typ, k) {
			changed = true
		}
	}
	return changed
}

// remove drops key from refs[typ], deleting the set when it becomes empty.
func (refs Refs) remove(typ string, key any) bool {
	keys := refs[typ]
	i := slices.IndexFunc(keys, func(k any) bool { return keysEqual(k, key) })
	if i < 0 {
		return false
	}
	keys = slices.Delete(keys, i, i+1)
	if len(keys) == 0 {
		delete(refs, typ)
	} else {
		refs[typ] = keys
	}
	return true
}

// Types returns the referencing types in sorted order.
func (refs Refs) Types() []string {
	return slices.Sorted(maps.Keys(refs))
}
