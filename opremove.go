package ndb

import (
	"context"
	"slices"
	"time"
)

// Remove deletes a record, cascading into relation fields marked for
// cascade removal and unlinking the record from everything that references
// it. The whole removal is one transaction.
func (db *DB) Remove(ctx context.Context, typ string, key any) (err error) {
	start := time.Now()
	defer func() {
		db.metrics.command("remove", typ, start, err)
	}()

	cfg, err := db.schema.config(typ)
	if err != nil {
		return err
	}
	if key == nil {
		return recordErrf(typ, nil, cfg.KeyField, ErrMissingKey, "")
	}
	nk, err := normalizeKey(key)
	if err != nil {
		return recordErrf(typ, key, cfg.KeyField, err, "")
	}
	return db.run(ctx, db.allTypes(), true, func(tx *Tx) error {
		rec, err := tx.Get(typ, nk)
		if err != nil {
			return err
		}
		if rec == nil {
			return recordErrf(typ, nk, "", ErrNotFound, "")
		}
		r := &remover{tx: tx, visited: make(map[string]bool)}
		return r.remove(typ, nk, rec)
	})
}

// RemoveRecord is Remove with the key read off seed.
func (db *DB) RemoveRecord(ctx context.Context, typ string, seed map[string]any) error {
	cfg, err := db.schema.config(typ)
	if err != nil {
		return err
	}
	if seed == nil {
		return ErrEmptyInput
	}
	return db.Remove(ctx, typ, seed[cfg.KeyField])
}

type remover struct {
	tx      *Tx
	visited map[string]bool
}

func recordID(typ string, key any) string {
	return typ + "\x00" + string(must(encodeKey(key)))
}

type recordRef struct {
	Type string
	Key  any
}

func (r *remover) remove(typ string, key any, rec Record) error {
	tx := r.tx
	r.visited[recordID(typ, key)] = true
	cfg := tx.db.schema.Config(typ)
	item := rec.Clone()

	for _, field := range cfg.TargetFields() {
		t := cfg.Targets[field]
		for _, ck := range fieldKeys(rec[field]) {
			if r.visited[recordID(t.Type, ck)] {
				continue
			}
			if t.CascadeRemoval {
				child, err := tx.Get(t.Type, ck)
				if err != nil {
					return err
				}
				if child == nil {
					continue
				}
				if err := r.remove(t.Type, ck, child); err != nil {
					return err
				}
			} else if tx.db.reverseRefs {
				if err := updateRefs(tx, t.Type, ck, typ, key, Refs.remove); err != nil {
					return err
				}
			}
		}
	}

	for _, p := range findParents(tx, typ, key, rec) {
		if p.Type == typ && keysEqual(p.Key, key) {
			continue
		}
		if err := r.unlink(p, typ, key, item); err != nil {
			return err
		}
	}

	if err := tx.Delete(typ, key); err != nil {
		return err
	}
	tx.enqueue(&Event{Kind: EventRemoved, Type: typ, Key: key, Item: item})
	return nil
}

// unlink drops key from every relation field of parent p that targets typ.
func (r *remover) unlink(p recordRef, typ string, key any, item Record) error {
	tx := r.tx
	pcfg := tx.db.schema.Config(p.Type)
	if pcfg == nil {
		return nil
	}
	prec, err := tx.Get(p.Type, p.Key)
	if err != nil || prec == nil {
		return err
	}
	var changed bool
	for _, field := range pcfg.TargetFields() {
		if pcfg.Targets[field].Type != typ {
			continue
		}
		switch v := prec[field].(type) {
		case nil:
			continue
		case []any:
			i := slices.IndexFunc(v, func(k any) bool { return keysEqual(k, key) })
			if i < 0 {
				continue
			}
			prec[field] = slices.Delete(slices.Clone(v), i, i+1)
		default:
			if !keysEqual(v, key) {
				continue
			}
			prec[field] = nil
		}
		changed = true
		tx.enqueue(&Event{Kind: EventRemoved, Type: typ, Key: key, Item: item, Parent: &Parent{p.Type, p.Key, field}})
	}
	if !changed || r.visited[recordID(p.Type, p.Key)] {
		return nil
	}
	_, err = tx.Put(p.Type, prec)
	return err
}

// findParents lists the records referencing typ/key, from the reverse references
// when they are tracked and by scanning the referring types otherwise.
func findParents(tx *Tx, typ string, key any, rec Record) []recordRef {
	var result []recordRef
	if tx.db.reverseRefs {
		refs := rec.Refs()
		for _, pType := range refs.Types() {
			for _, pKey := range refs[pType] {
				result = append(result, recordRef{pType, pKey})
			}
		}
		return result
	}

	for _, ref := range tx.db.schema.Referrers(typ) {
		for pKey, prec := range tx.Scan(ref.Type) {
			if !containsKey(fieldKeys(prec[ref.Field]), key) {
				continue
			}
			if !slices.ContainsFunc(result, func(p recordRef) bool {
				return p.Type == ref.Type && keysEqual(p.Key, pKey)
			}) {
				result = append(result, recordRef{ref.Type, pKey})
			}
		}
	}
	return result
}
