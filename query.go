package ndb

import (
	"fmt"
	"maps"
	"slices"
)

// Query describes a read of one type. Build it with DB.Query and the
// chainable setters, then run it with Count, List, Single, First or IsEmpty.
// The records come from, in order of precedence, a parent record's relation
// field (intersected with Keys if both are given), an explicit key list, or
// a scan of the whole type in key order.
type Query struct {
	db  *DB
	typ string

	keys      []any
	hasKeys   bool
	parent    *Parent
	where     func(Record) bool
	whereObj  func(Object) bool
	order     []Ordering
	offset    int
	limit     int
	depth     int
	def       Object
	buildErrs []error
}

func (db *DB) Query(typ string) *Query {
	return &Query{db: db, typ: typ}
}

func (q *Query) clone() *Query {
	c := *q
	c.keys = slices.Clone(q.keys)
	c.order = slices.Clone(q.order)
	c.buildErrs = slices.Clone(q.buildErrs)
	return &c
}

// Keys restricts the query to the given keys, visited in the given order.
// Keys without a record are skipped.
func (q *Query) Keys(keys ...any) *Query {
	c := q.clone()
	c.hasKeys = true
	for _, k := range keys {
		nk, err := normalizeKey(k)
		if err != nil {
			c.buildErrs = append(c.buildErrs, recordErrf(q.typ, k, "", err, ""))
			continue
		}
		c.keys = append(c.keys, nk)
	}
	return c
}

// Parent reads the records referenced by a relation field of another record.
func (q *Query) Parent(p Parent) *Query {
	c := q.clone()
	c.parent = &p
	return c
}

// Where filters by the flat stored record.
func (q *Query) Where(f func(rec Record) bool) *Query {
	c := q.clone()
	c.where = f
	return c
}

// WhereObject filters by the object reconstructed to the query depth.
func (q *Query) WhereObject(f func(obj Object) bool) *Query {
	c := q.clone()
	c.whereObj = f
	return c
}

func (q *Query) OrderBy(field string, dir Direction) *Query {
	c := q.clone()
	c.order = append(c.order, Ordering{field, dir})
	return c
}

func (q *Query) Offset(n int) *Query {
	c := q.clone()
	c.offset = n
	return c
}

// Limit caps the number of returned items; 0 means no limit.
func (q *Query) Limit(n int) *Query {
	c := q.clone()
	c.limit = n
	return c
}

// Depth sets how many relation levels are expanded into nested objects.
func (q *Query) Depth(n int) *Query {
	c := q.clone()
	c.depth = n
	return c
}

// Default is returned by Single instead of a not-found error.
func (q *Query) Default(obj Object) *Query {
	c := q.clone()
	c.def = obj
	return c
}

func (q *Query) validate() error {
	if len(q.buildErrs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, q.buildErrs[0])
	}
	if !q.db.schema.HasType(q.typ) {
		return fmt.Errorf("%w: %w: %q", ErrInvalidQuery, ErrInvalidType, q.typ)
	}
	if q.offset < 0 || q.limit < 0 || q.depth < 0 {
		return fmt.Errorf("%w: offset %d, limit %d, depth %d", ErrInvalidQuery, q.offset, q.limit, q.depth)
	}
	if p := q.parent; p != nil {
		t := q.db.schema.Target(p.Type, p.Field)
		if t == nil || t.Type != q.typ {
			return fmt.Errorf("%w: %w", ErrInvalidQuery, recordErrf(p.Type, p.Key, p.Field, ErrConfiguration, "not a relation to %s", q.typ))
		}
	}
	return nil
}

func (q *Query) defaultObject() Object {
	if q.def == nil {
		return nil
	}
	return maps.Clone(q.def)
}
