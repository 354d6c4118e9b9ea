package ndb

import (
	"context"
	"maps"
	"slices"
	"time"
)

type writeMode int

const (
	modeCreate writeMode = iota
	modeUpdate
	modePut
	modeSet
)

func (m writeMode) String() string {
	switch m {
	case modeCreate:
		return "create"
	case modeUpdate:
		return "update"
	case modePut:
		return "put"
	case modeSet:
		return "set"
	default:
		panic("unreachable")
	}
}

type writeOptions struct {
	parents []Parent
	partial bool
}

type WriteOption func(o *writeOptions)

// WithParent attaches the written root records to a relation field of an
// existing record.
func WithParent(p Parent) WriteOption {
	return func(o *writeOptions) {
		o.parents = append(o.parents, p)
	}
}

// WithParents attaches the written root records to several parents. Created
// events of the roots name only the first parent; the others show up in the
// records' reverse references.
func WithParents(ps ...Parent) WriteOption {
	return func(o *writeOptions) {
		o.parents = append(o.parents, ps...)
	}
}

// Partial makes existing records keep the fields the input doesn't mention.
func Partial() WriteOption {
	return func(o *writeOptions) {
		o.partial = true
	}
}

// WriteResult lists the root records of a write in input order, as stored.
type WriteResult struct {
	Keys    []any
	Records []Record
}

// Create inserts new records. Keys of auto-key types are always assigned by
// the store; an explicit key that already exists fails with ErrAlreadyExists.
func (db *DB) Create(ctx context.Context, typ string, input any, opts ...WriteOption) (*WriteResult, error) {
	return db.write(ctx, modeCreate, typ, input, opts)
}

// Update replaces existing records and fails with ErrNotFound if any
// top-level item does not exist.
func (db *DB) Update(ctx context.Context, typ string, input any, opts ...WriteOption) (*WriteResult, error) {
	return db.write(ctx, modeUpdate, typ, input, opts)
}

// Put inserts or replaces records.
func (db *DB) Put(ctx context.Context, typ string, input any, opts ...WriteOption) (*WriteResult, error) {
	return db.write(ctx, modePut, typ, input, opts)
}

// Set is Update with Partial.
func (db *DB) Set(ctx context.Context, typ string, input any, opts ...WriteOption) (*WriteResult, error) {
	return db.write(ctx, modeSet, typ, input, opts)
}

func (db *DB) write(ctx context.Context, mode writeMode, typ string, input any, opts []WriteOption) (result *WriteResult, err error) {
	start := time.Now()
	defer func() {
		db.metrics.command(mode.String(), typ, start, err)
	}()

	var o writeOptions
	for _, f := range opts {
		f(&o)
	}
	if mode == modeSet {
		o.partial = true
	}

	cfg, err := db.schema.config(typ)
	if err != nil {
		return nil, err
	}
	items, err := toItems(input)
	if err != nil {
		return nil, err
	}
	items, err = applyKeyPolicy(cfg, mode, items)
	if err != nil {
		return nil, err
	}
	nd, err := db.normalizer.Normalize(typ, items)
	if err != nil {
		return nil, err
	}

	w := &writer{
		db:      db,
		mode:    mode,
		root:    typ,
		nd:      nd,
		parents: o.parents,
		partial: o.partial,
	}
	err = db.run(ctx, w.scope(), true, w.run)
	if err != nil {
		return nil, err
	}
	return w.result, nil
}

// applyKeyPolicy returns shallow copies of the top-level items with the key
// field adjusted for the write mode.
func applyKeyPolicy(cfg *TypeConfig, mode writeMode, items []Record) ([]Record, error) {
	out := make([]Record, len(items))
	for i, item := range items {
		item = maps.Clone(item)
		switch mode {
		case modeCreate:
			if cfg.AutoKey {
				delete(item, cfg.KeyField)
			}
		case modeUpdate, modeSet:
			if item[cfg.KeyField] == nil {
				return nil, recordErrf(cfg.Name, nil, cfg.KeyField, ErrMissingKey, "")
			}
		}
		out[i] = item
	}
	return out, nil
}

type writer struct {
	db      *DB
	tx      *Tx
	mode    writeMode
	root    string
	nd      *NormalizedData
	parents []Parent
	partial bool

	result *WriteResult
}

// scope covers the normalized types, the parents' types and, with reverse
// references, every type the written records can reference.
func (w *writer) scope() []string {
	scm := w.db.schema
	scope := w.nd.Types()
	add := func(typ string) {
		if !slices.Contains(scope, typ) {
			scope = append(scope, typ)
		}
	}
	add(w.root)
	for _, p := range w.parents {
		add(p.Type)
	}
	if w.db.reverseRefs {
		for _, typ := range slices.Clone(scope) {
			if cfg := scm.Config(typ); cfg != nil {
				for _, t := range cfg.TargetTypes() {
					add(t)
				}
			}
		}
	}
	return scope
}

func (w *writer) run(tx *Tx) error {
	w.tx = tx
	w.result = &WriteResult{}

	if err := w.checkRoots(); err != nil {
		return err
	}
	if err := w.assignKeys(); err != nil {
		return err
	}

	written := make([]writtenRecord, 0, len(w.nd.Order))
	for _, ref := range w.nd.Order {
		wr, err := w.store(ref.Type, w.nd.Record(ref))
		if err != nil {
			return err
		}
		written = append(written, wr)
	}
	if w.db.reverseRefs {
		for _, wr := range written {
			if err := relink(tx, wr.typ, wr.key, wr.old, wr.next); err != nil {
				return err
			}
		}
	}

	cfg := w.db.schema.Config(w.root)
	for _, ref := range w.nd.Roots {
		w.result.Keys = append(w.result.Keys, w.nd.Record(ref)[cfg.KeyField])
	}
	for _, p := range w.parents {
		if err := attach(tx, w.root, p, w.result.Keys); err != nil {
			return err
		}
	}

	var parent *Parent
	if len(w.parents) > 0 {
		parent = &w.parents[0]
	}
	for _, wr := range written {
		final, err := tx.Get(wr.typ, wr.key)
		if err != nil {
			return err
		}
		if wr.old != nil {
			tx.enqueue(&Event{Kind: EventUpdated, Type: wr.typ, Key: wr.key, Item: final})
			continue
		}
		ev := &Event{Kind: EventCreated, Type: wr.typ, Key: wr.key, Item: final}
		if wr.typ == w.root {
			ev.Parent = parent
		}
		tx.enqueue(ev)
	}

	for _, key := range w.result.Keys {
		rec, err := tx.Get(w.root, key)
		if err != nil {
			return err
		}
		w.result.Records = append(w.result.Records, rec)
	}
	return nil
}

// checkRoots enforces the existence preconditions of create and update.
func (w *writer) checkRoots() error {
	cfg := w.db.schema.Config(w.root)
	for _, ref := range w.nd.Roots {
		key := w.nd.Record(ref)[cfg.KeyField]
		if key == nil {
			continue
		}
		exists := w.tx.Exists(w.root, key)
		switch w.mode {
		case modeCreate:
			if exists {
				return recordErrf(w.root, key, "", ErrAlreadyExists, "")
			}
		case modeUpdate, modeSet:
			if !exists {
				return recordErrf(w.root, key, "", ErrNotFound, "")
			}
		}
	}
	return nil
}

// assignKeys allocates backend sequence keys for keyless records and
// substitutes them for the placeholders that reference those records.
func (w *writer) assignKeys() error {
	assigned := make(map[LocalRef]any)
	for _, ref := range w.nd.Order {
		cfg := w.db.schema.Config(ref.Type)
		rec := w.nd.Record(ref)
		if rec[cfg.KeyField] != nil {
			continue
		}
		key, err := w.tx.nextKey(ref.Type)
		if err != nil {
			return err
		}
		rec[cfg.KeyField] = key
		assigned[ref] = key
	}
	if len(assigned) > 0 {
		w.nd.resolve(w.db.schema, assigned)
	}
	return nil
}

type writtenRecord struct {
	typ  string
	key  any
	old  Record
	next Record
}

// store inserts rec or merges it into the stored record with the same key.
// Reverse references of related records are left to the caller.
func (w *writer) store(typ string, rec Record) (writtenRecord, error) {
	tx := w.tx
	cfg := w.db.schema.Config(typ)
	key := rec[cfg.KeyField]

	old, err := tx.Get(typ, key)
	if err != nil {
		return writtenRecord{}, err
	}

	var next Record
	if old == nil || !w.partial {
		next = rec.Clone()
	} else {
		next = old.Clone()
		for field, v := range rec {
			if field != RefsField {
				next[field] = cloneValue(v)
			}
		}
	}
	// reverse references belong to the stored record; relink maintains them
	next.setRefs(old.Refs())

	key, err = tx.Put(typ, next)
	if err != nil {
		return writtenRecord{}, err
	}
	return writtenRecord{typ, key, old, next}, nil
}
