package ndb

// relink brings the reverse references of the records that typ/key relates
// to in line with the change of its relation fields from old to next. Either
// record may be nil. The new version must already be stored, since a record
// may reference itself.
func relink(tx *Tx, typ string, key any, old, next Record) error {
	cfg := tx.db.schema.Config(typ)
	for _, childType := range cfg.TargetTypes() {
		before := relatedKeys(cfg, childType, old)
		after := relatedKeys(cfg, childType, next)
		for _, k := range before {
			if containsKey(after, k) {
				continue
			}
			if err := updateRefs(tx, childType, k, typ, key, Refs.remove); err != nil {
				return err
			}
		}
		for _, k := range after {
			if containsKey(before, k) {
				continue
			}
			if err := updateRefs(tx, childType, k, typ, key, Refs.add); err != nil {
				return err
			}
		}
	}
	return nil
}

// relatedKeys collects the keys that rec holds in every relation field
// targeting childType.
func relatedKeys(cfg *TypeConfig, childType string, rec Record) []any {
	if rec == nil {
		return nil
	}
	var keys []any
	for _, field := range cfg.TargetFields() {
		if cfg.Targets[field].Type != childType {
			continue
		}
		for _, k := range fieldKeys(rec[field]) {
			if !containsKey(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// fieldKeys returns the keys held by a relation field value.
func fieldKeys(v any) []any {
	switch v := v.(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}

// updateRefs applies op to the reverse references childType/childKey holds
// for parentType/parentKey. Missing children are ignored.
func updateRefs(tx *Tx, childType string, childKey any, parentType string, parentKey any, op func(Refs, string, any) bool) error {
	child, err := tx.Get(childType, childKey)
	if err != nil || child == nil {
		return err
	}
	refs := child.Refs()
	if !op(refs, parentType, parentKey) {
		return nil
	}
	child.setRefs(refs)
	_, err = tx.Put(childType, child)
	return err
}

// attach adds keys of freshly written childType records to the relation
// field p.Field of the existing record p.Type/p.Key. A scalar field accepts a
// single key; the record it previously held stays in place, only losing its
// reverse reference to the parent.
func attach(tx *Tx, childType string, p Parent, keys []any) error {
	pKey, err := normalizeKey(p.Key)
	if err != nil {
		return recordErrf(p.Type, p.Key, "", err, "parent")
	}
	if !tx.db.schema.HasType(p.Type) {
		return recordErrf(p.Type, pKey, p.Field, ErrInvalidType, "parent")
	}
	t := tx.db.schema.Target(p.Type, p.Field)
	if t == nil || t.Type != childType {
		return recordErrf(p.Type, pKey, p.Field, ErrConfiguration, "not a relation to %s", childType)
	}
	parent, err := tx.Get(p.Type, pKey)
	if err != nil {
		return err
	}
	if parent == nil {
		return recordErrf(p.Type, pKey, "", ErrNotFound, "parent")
	}
	if len(keys) == 0 {
		return nil
	}

	next := parent.Clone()
	cur := next[p.Field]
	_, curIsList := cur.([]any)
	var changed bool
	if t.IsArray {
		if cur != nil && !curIsList {
			return recordErrf(p.Type, pKey, p.Field, ErrTypeMismatch, "stored value is not an array")
		}
		list, _ := cur.([]any)
		for _, k := range keys {
			if !containsKey(list, k) {
				list = append(list, k)
				changed = true
			}
		}
		next[p.Field] = list
	} else {
		if len(keys) > 1 {
			return recordErrf(p.Type, pKey, p.Field, ErrConfiguration, "cannot attach %d records to a scalar relation", len(keys))
		}
		if curIsList {
			return recordErrf(p.Type, pKey, p.Field, ErrTypeMismatch, "stored value is an array")
		}
		if cur == nil || !keysEqual(cur, keys[0]) {
			next[p.Field] = keys[0]
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if _, err := tx.Put(p.Type, next); err != nil {
		return err
	}
	if tx.db.reverseRefs {
		return relink(tx, p.Type, pKey, parent, next)
	}
	return nil
}
