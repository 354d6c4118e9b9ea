package ndb

import (
	"context"
	"slices"
	"strings"
)

// Record returns the stored flat record including its reverse references,
// or ErrNotFound.
func (db *DB) Record(ctx context.Context, typ string, key any) (Record, error) {
	if _, err := db.schema.config(typ); err != nil {
		return nil, err
	}
	nk, err := normalizeKey(key)
	if err != nil {
		return nil, recordErrf(typ, key, "", err, "")
	}
	var rec Record
	err = db.Read(ctx, func(tx *Tx) error {
		rec, err = tx.Get(typ, nk)
		if err == nil && rec == nil {
			err = recordErrf(typ, nk, "", ErrNotFound, "")
		}
		return err
	}, typ)
	return rec, err
}

// Reverse lists the relation slots that currently hold typ/key, ordered by
// parent type, then key, then field. Reverse references are used when they
// are tracked; otherwise every referring type is scanned.
func (db *DB) Reverse(ctx context.Context, typ string, key any) ([]Parent, error) {
	if _, err := db.schema.config(typ); err != nil {
		return nil, err
	}
	nk, err := normalizeKey(key)
	if err != nil {
		return nil, recordErrf(typ, key, "", err, "")
	}
	db.metrics.query("reverse", typ)

	var result []Parent
	err = db.Read(ctx, func(tx *Tx) error {
		rec, err := tx.Get(typ, nk)
		if err != nil {
			return err
		}
		if rec == nil {
			return recordErrf(typ, nk, "", ErrNotFound, "")
		}
		for _, p := range findParents(tx, typ, nk, rec) {
			pcfg := db.schema.Config(p.Type)
			if pcfg == nil {
				continue
			}
			prec, err := tx.Get(p.Type, p.Key)
			if err != nil {
				return err
			}
			if prec == nil {
				continue
			}
			for _, field := range pcfg.TargetFields() {
				if pcfg.Targets[field].Type == typ && containsKey(fieldKeys(prec[field]), nk) {
					result = append(result, Parent{p.Type, p.Key, field})
				}
			}
		}
		return nil
	})
	slices.SortStableFunc(result, func(a, b Parent) int {
		if c := strings.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return strings.Compare(string(must(encodeKey(a.Key))), string(must(encodeKey(b.Key))))
	})
	return result, err
}
