package ndb

import (
	"context"
	"errors"
	"fmt"
)

// source yields the candidate records of a query.
type source struct {
	scan bool
	keys []any
	// strict makes a missing record fail with ErrChildNotFound instead of
	// being skipped.
	strict bool
}

func (q *Query) resolveSource(tx *Tx) (*source, error) {
	p := q.parent
	if p == nil {
		if q.hasKeys {
			return &source{keys: q.keys}, nil
		}
		return &source{scan: true}, nil
	}

	pKey, err := normalizeKey(p.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, recordErrf(p.Type, p.Key, "", err, "parent"))
	}
	prec, err := tx.Get(p.Type, pKey)
	if err != nil {
		return nil, err
	}
	if prec == nil {
		return nil, recordErrf(p.Type, pKey, "", ErrNotFound, "parent")
	}
	t := tx.db.schema.Target(p.Type, p.Field)
	v := prec[p.Field]
	_, isList := v.([]any)
	if v != nil && isList != t.IsArray {
		return nil, recordErrf(p.Type, pKey, p.Field, ErrTypeMismatch, "stored value disagrees with the relation")
	}
	keys := fieldKeys(v)
	if q.hasKeys {
		var both []any
		for _, k := range keys {
			if containsKey(q.keys, k) {
				both = append(both, k)
			}
		}
		keys = both
	}
	return &source{keys: keys, strict: !t.IsArray}, nil
}

func (q *Query) each(tx *Tx, src *source, f func(key any, rec Record) (bool, error)) error {
	if src.scan {
		for key, rec := range tx.Scan(q.typ) {
			cont, err := f(key, rec)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	}
	for _, key := range src.keys {
		rec, err := tx.Get(q.typ, key)
		if err != nil {
			return err
		}
		if rec == nil {
			if src.strict {
				return recordErrf(q.typ, key, "", ErrChildNotFound, "")
			}
			continue
		}
		cont, err := f(key, rec)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (q *Query) denormalize(tx *Tx, rec Record) (Object, error) {
	return q.db.denormalizer.Denormalize(tx, q.typ, rec, q.depth)
}

// match applies the filters. It returns the reconstructed object when the
// object filter needed one.
func (q *Query) match(tx *Tx, rec Record) (Object, bool, error) {
	if q.where != nil && !q.where(rec) {
		return nil, false, nil
	}
	if q.whereObj == nil {
		return nil, true, nil
	}
	obj, err := q.denormalize(tx, rec)
	if err != nil {
		return nil, false, err
	}
	return obj, q.whereObj(obj), nil
}

func (q *Query) read(ctx context.Context, f func(tx *Tx) error) error {
	if err := q.validate(); err != nil {
		return err
	}
	return q.db.Read(ctx, f)
}

// Count returns the number of matching records.
func (q *Query) Count(ctx context.Context) (int, error) {
	q.db.metrics.query("count", q.typ)
	var n int
	err := q.read(ctx, func(tx *Tx) error {
		if q.parent == nil && !q.hasKeys && q.where == nil && q.whereObj == nil {
			n = tx.Count(q.typ)
			return nil
		}
		src, err := q.resolveSource(tx)
		if err != nil {
			return err
		}
		return q.each(tx, src, func(_ any, rec Record) (bool, error) {
			_, ok, err := q.match(tx, rec)
			if ok {
				n++
			}
			return true, err
		})
	})
	return n, err
}

// List returns the page of matching objects selected by Offset and Limit.
func (q *Query) List(ctx context.Context) (*ListResult[Object], error) {
	q.db.metrics.query("list", q.typ)
	var result *ListResult[Object]
	err := q.read(ctx, func(tx *Tx) error {
		var err error
		result, err = q.list(tx)
		return err
	})
	return result, err
}

func (q *Query) list(tx *Tx) (*ListResult[Object], error) {
	src, err := q.resolveSource(tx)
	if err != nil {
		return nil, err
	}
	result := &ListResult[Object]{Offset: q.offset, Limit: q.limit}

	if len(q.order) == 0 {
		err = q.each(tx, src, func(_ any, rec Record) (bool, error) {
			obj, ok, err := q.match(tx, rec)
			if err != nil || !ok {
				return true, err
			}
			result.Total++
			if result.Total <= q.offset || (q.limit > 0 && len(result.Items) >= q.limit) {
				return true, nil
			}
			if obj == nil {
				obj, err = q.denormalize(tx, rec)
				if err != nil {
					return false, err
				}
			}
			result.Items = append(result.Items, obj)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	var all []Object
	err = q.each(tx, src, func(_ any, rec Record) (bool, error) {
		obj, ok, err := q.match(tx, rec)
		if err != nil || !ok {
			return true, err
		}
		if obj == nil {
			obj, err = q.denormalize(tx, rec)
			if err != nil {
				return false, err
			}
		}
		all = append(all, obj)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if err := sortObjects(all, q.order); err != nil {
		return nil, err
	}
	result.Total = len(all)
	start := min(q.offset, len(all))
	end := len(all)
	if q.limit > 0 {
		end = min(start+q.limit, end)
	}
	result.Items = all[start:end]
	return result, nil
}

// Single returns the one record selected by the first of Keys or by the
// parent relation. With a parent and no keys, an array relation yields its
// first element. A missing record returns the Default object if there is
// one, and ErrNotFound (or ErrChildNotFound via a parent) otherwise.
func (q *Query) Single(ctx context.Context) (Object, error) {
	q.db.metrics.query("single", q.typ)
	var result Object
	err := q.read(ctx, func(tx *Tx) error {
		var err error
		result, err = q.single(tx)
		return err
	})
	if err != nil && q.def != nil && (errors.Is(err, ErrNotFound) || errors.Is(err, ErrChildNotFound)) {
		return q.defaultObject(), nil
	}
	return result, err
}

func (q *Query) single(tx *Tx) (Object, error) {
	var key any
	notFound := ErrNotFound
	if q.parent != nil {
		notFound = ErrChildNotFound
		src, err := q.resolveSource(tx)
		if err != nil {
			return nil, err
		}
		if len(src.keys) == 0 {
			return nil, recordErrf(q.parent.Type, q.parent.Key, q.parent.Field, ErrChildNotFound, "")
		}
		key = src.keys[0]
	} else {
		if len(q.keys) == 0 {
			return nil, fmt.Errorf("%w: single requires a key or a parent", ErrInvalidQuery)
		}
		key = q.keys[0]
	}

	rec, err := tx.Get(q.typ, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, recordErrf(q.typ, key, "", notFound, "")
	}
	obj, ok, err := q.match(tx, rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, recordErrf(q.typ, key, "", notFound, "filtered out")
	}
	if obj == nil {
		return q.denormalize(tx, rec)
	}
	return obj, nil
}

// First returns the first object of the page, or ErrEmptyResult.
func (q *Query) First(ctx context.Context) (Object, error) {
	res, err := q.Limit(1).List(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, ErrEmptyResult
	}
	return res.Items[0], nil
}

// IsEmpty reports whether nothing matches, ignoring Offset and Limit.
func (q *Query) IsEmpty(ctx context.Context) (bool, error) {
	q.db.metrics.query("empty", q.typ)
	empty := true
	err := q.read(ctx, func(tx *Tx) error {
		src, err := q.resolveSource(tx)
		if err != nil {
			return err
		}
		return q.each(tx, src, func(_ any, rec Record) (bool, error) {
			_, ok, err := q.match(tx, rec)
			if ok {
				empty = false
			}
			return empty, err
		})
	})
	return empty, err
}
