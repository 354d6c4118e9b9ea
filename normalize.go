package ndb

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// LocalRef stands for the key of NormalizedData.Records[Type][Index] while
// that record has no key yet. A write transaction replaces every LocalRef
// with the key the backend assigns.
type LocalRef struct {
	Type  string
	Index int
}

// NormalizedData is a nested input graph decomposed into flat records.
type NormalizedData struct {
	Root    string
	Records map[string][]Record
	// Order lists every record, referenced records before their referrers
	// when the graph allows it.
	Order []LocalRef
	// Roots lists the top-level items in input order, without duplicates.
	Roots []LocalRef
}

func (nd *NormalizedData) Record(ref LocalRef) Record {
	return nd.Records[ref.Type][ref.Index]
}

// Types returns the involved types in order of first appearance.
func (nd *NormalizedData) Types() []string {
	var result []string
	seen := make(map[string]bool)
	for _, ref := range nd.Order {
		if !seen[ref.Type] {
			seen[ref.Type] = true
			result = append(result, ref.Type)
		}
	}
	return result
}

// resolve substitutes assigned keys for LocalRef placeholders in relation
// fields.
func (nd *NormalizedData) resolve(scm *Schema, assigned map[LocalRef]any) {
	subst := func(v any) any {
		if ref, ok := v.(LocalRef); ok {
			if key, ok := assigned[ref]; ok {
				return key
			}
		}
		return v
	}
	for typ, recs := range nd.Records {
		cfg := scm.Config(typ)
		for _, rec := range recs {
			for field := range cfg.Targets {
				switch v := rec[field].(type) {
				case []any:
					for i, e := range v {
						v[i] = subst(e)
					}
				case LocalRef:
					rec[field] = subst(v)
				}
			}
		}
	}
}

// Normalizer decomposes nested input items of one root type into flat records.
type Normalizer interface {
	Normalize(rootType string, items []Record) (*NormalizedData, error)
}

type graphNormalizer struct {
	schema *Schema
	keys   KeyGenerator
}

// NewNormalizer returns the schema-driven normalizer. Nested objects under
// relation fields become records of the target type and the field keeps
// their keys. Keyless records of auto-key types are left for the backend;
// other keyless records get a key from keys, or fail with ErrMissingKey when
// keys is nil. Normalized records never carry reverse references; the
// writer derives those from the committed relation fields.
func NewNormalizer(scm *Schema, keys KeyGenerator) Normalizer {
	return &graphNormalizer{scm, keys}
}

type normalizeState struct {
	nd    *NormalizedData
	byKey map[string]LocalRef
}

func (g *graphNormalizer) Normalize(rootType string, items []Record) (*NormalizedData, error) {
	if _, err := g.schema.config(rootType); err != nil {
		return nil, err
	}
	st := &normalizeState{
		nd: &NormalizedData{
			Root:    rootType,
			Records: make(map[string][]Record),
		},
		byKey: make(map[string]LocalRef),
	}
	for _, item := range items {
		if item == nil {
			return nil, ErrEmptyInput
		}
		ref, err := g.normalize(st, rootType, item)
		if err != nil {
			return nil, err
		}
		if !containsRef(st.nd.Roots, ref) {
			st.nd.Roots = append(st.nd.Roots, ref)
		}
	}
	return st.nd, nil
}

func (g *graphNormalizer) normalize(st *normalizeState, typ string, obj map[string]any) (LocalRef, error) {
	cfg := g.schema.Config(typ)

	key := obj[cfg.KeyField]
	if key == nil && !cfg.AutoKey {
		if g.keys == nil {
			return LocalRef{}, recordErrf(typ, nil, cfg.KeyField, ErrMissingKey, "")
		}
		var err error
		key, err = g.keys.NewKey(typ)
		if err != nil {
			return LocalRef{}, recordErrf(typ, nil, cfg.KeyField, err, "")
		}
	}

	var self LocalRef
	var rec Record
	var merged bool
	if key != nil {
		nk, err := normalizeKey(key)
		if err != nil {
			return LocalRef{}, recordErrf(typ, key, cfg.KeyField, err, "")
		}
		key = nk
		id := typ + "\x00" + string(must(encodeKey(key)))
		if ref, ok := st.byKey[id]; ok {
			self, rec, merged = ref, st.nd.Record(ref), true
		} else {
			self = st.add(typ)
			st.byKey[id] = self
		}
	} else {
		self = st.add(typ)
	}
	if rec == nil {
		rec = st.nd.Record(self)
	}
	if key != nil {
		rec[cfg.KeyField] = key
	}

	// field order fixes the order of keyless records
	for _, field := range slices.Sorted(maps.Keys(obj)) {
		v := obj[field]
		if field == RefsField || field == cfg.KeyField {
			continue
		}
		t := cfg.Targets[field]
		if t == nil {
			rec[field] = cloneValue(v)
			continue
		}
		if v == nil {
			rec[field] = nil
			continue
		}
		elems, isList := asList(v)
		if t.IsArray != isList {
			return LocalRef{}, recordErrf(typ, key, field, ErrTypeMismatch, "expected array=%v, got %T", t.IsArray, v)
		}
		if !isList {
			ck, err := g.child(st, typ, t, v)
			if err != nil {
				return LocalRef{}, err
			}
			rec[field] = ck
			continue
		}
		list := make([]any, 0, len(elems))
		for _, e := range elems {
			ck, err := g.child(st, typ, t, e)
			if err != nil {
				return LocalRef{}, err
			}
			if !containsKey(list, ck) {
				list = append(list, ck)
			}
		}
		rec[field] = list
	}

	if !merged {
		st.nd.Order = append(st.nd.Order, self)
	}
	return self, nil
}

// child normalizes one relation value: a nested object becomes a record,
// anything else must be a key.
func (g *graphNormalizer) child(st *normalizeState, parentType string, t *Target, v any) (any, error) {
	obj, ok := asObject(v)
	if !ok {
		key, err := normalizeKey(v)
		if err != nil {
			return nil, recordErrf(t.Type, v, "", err, "referenced from %s", parentType)
		}
		return key, nil
	}
	ref, err := g.normalize(st, t.Type, obj)
	if err != nil {
		return nil, err
	}
	rec := st.nd.Record(ref)
	cfg := g.schema.Config(t.Type)
	if k := rec[cfg.KeyField]; k != nil {
		return k, nil
	}
	return ref, nil
}

func (st *normalizeState) add(typ string) LocalRef {
	st.nd.Records[typ] = append(st.nd.Records[typ], make(Record))
	return LocalRef{typ, len(st.nd.Records[typ]) - 1}
}

func asObject(v any) (map[string]any, bool) {
	switch v := v.(type) {
	case map[string]any:
		return v, true
	case Record:
		return map[string]any(v), true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, bool) {
	switch v := v.(type) {
	case []any:
		return v, true
	case []byte, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toItems accepts one object or a list of objects.
func toItems(input any) ([]Record, error) {
	if input == nil {
		return nil, ErrEmptyInput
	}
	if obj, ok := asObject(input); ok {
		if obj == nil {
			return nil, ErrEmptyInput
		}
		return []Record{Record(obj)}, nil
	}
	list, ok := asList(input)
	if !ok {
		return nil, fmt.Errorf("%w: expected an object or a list of objects, got %T", ErrEmptyInput, input)
	}
	if len(list) == 0 {
		return nil, ErrEmptyInput
	}
	items := make([]Record, 0, len(list))
	for _, e := range list {
		obj, ok := asObject(e)
		if !ok || obj == nil {
			return nil, fmt.Errorf("%w: expected an object, got %T", ErrEmptyInput, e)
		}
		items = append(items, Record(obj))
	}
	return items, nil
}

func containsRef(refs []LocalRef, ref LocalRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

func containsKey(keys []any, key any) bool {
	for _, k := range keys {
		if keysEqual(k, key) {
			return true
		}
	}
	return false
}
