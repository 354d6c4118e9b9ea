package ndb

import (
	"context"
	"fmt"
	"iter"
	"runtime/debug"
	"slices"
	"time"
)

// Tx is one atomic unit of work over a declared set of types. Touching a
// type outside the set is a programming error and panics.
type Tx struct {
	db       *DB
	stx      storageTx
	ctx      context.Context
	scope    []string
	writable bool
	written  bool

	events []*Event
}

func (db *DB) newTx(ctx context.Context, stx storageTx, scope []string) *Tx {
	return &Tx{
		db:       db,
		stx:      stx,
		ctx:      ctx,
		scope:    scope,
		writable: stx.Writable(),
	}
}

// Read runs f inside a read-only transaction spanning the given types (every
// schema type if none are given).
func (db *DB) Read(ctx context.Context, f func(tx *Tx) error, types ...string) error {
	if len(types) == 0 {
		types = db.allTypes()
	}
	return db.run(ctx, types, false, f)
}

// Write runs f inside a writable transaction spanning the given types (every
// schema type if none are given). Events queued by f are delivered after
// commit.
func (db *DB) Write(ctx context.Context, f func(tx *Tx) error, types ...string) error {
	if len(types) == 0 {
		types = db.allTypes()
	}
	return db.run(ctx, types, true, f)
}

// run executes f in one backend transaction. Any error or panic rolls the
// whole transaction back and discards queued events; on success the events
// are flushed to the pipe in enqueue order.
func (db *DB) run(ctx context.Context, scope []string, writable bool, f func(tx *Tx) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if writable {
		db.PendingWriterCount.Add(1)
	}
	stx, err := db.storage.BeginTx(writable)
	if writable {
		db.PendingWriterCount.Add(-1)
	}
	if err != nil {
		return fmt.Errorf("ndb: begin: %w", err)
	}
	if writable {
		db.WriterCount.Add(1)
		defer db.WriterCount.Add(-1)
	} else {
		db.ReaderCount.Add(1)
		defer db.ReaderCount.Add(-1)
	}

	tx := db.newTx(ctx, stx, scope)
	err = safelyCall(f, tx)
	if err != nil {
		if rerr := stx.Rollback(); rerr != nil {
			db.logger.Error("ndb: rollback failed", "err", rerr)
		}
		return err
	}
	if !writable {
		db.ReadCount.Add(1)
		return stx.Rollback()
	}
	if tx.written {
		db.lastSize.Store(stx.Size())
		if err := stx.Commit(); err != nil {
			_ = stx.Rollback()
			return fmt.Errorf("ndb: commit: %w", err)
		}
		db.WriteCount.Add(1)
	} else if err := stx.Rollback(); err != nil {
		return err
	}
	db.flush(ctx, tx.events)
	return nil
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func (p panicked) Unwrap() error {
	err, _ := p.reason.(error)
	return err
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) Schema() *Schema {
	return tx.db.schema
}

func (tx *Tx) IsWritable() bool {
	return tx.writable
}

// Scope returns the types this transaction may touch.
func (tx *Tx) Scope() []string {
	return slices.Clone(tx.scope)
}

func (tx *Tx) inScope(typ string) bool {
	return slices.Contains(tx.scope, typ)
}

func (tx *Tx) bucket(typ string, create bool) storageBucket {
	if !tx.inScope(typ) {
		panic(fmt.Errorf("ndb: %s is outside of transaction scope %v", typ, tx.scope))
	}
	b := tx.stx.Bucket(typ)
	if b == nil && create {
		b = must(tx.stx.CreateBucket(typ))
	}
	return b
}

func (tx *Tx) markWritten() {
	tx.written = true
}

func (tx *Tx) enqueue(ev *Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	tx.events = append(tx.events, ev)
}

// Get returns the stored flat record, or nil if there is none.
func (tx *Tx) Get(typ string, key any) (Record, error) {
	keyRaw, err := encodeKey(key)
	if err != nil {
		return nil, recordErrf(typ, key, "", err, "")
	}
	b := tx.bucket(typ, false)
	if b == nil {
		return nil, nil
	}
	raw := b.Get(keyRaw)
	if raw == nil {
		if tx.db.verbose {
			tx.db.logger.Debug("ndb: GET.NOTFOUND", "type", typ, "key", key)
		}
		return nil, nil
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, recordErrf(typ, key, "", err, "decoding")
	}
	return rec, nil
}

// Exists reports whether a record is stored under the key.
func (tx *Tx) Exists(typ string, key any) bool {
	keyRaw, err := encodeKey(key)
	if err != nil {
		return false
	}
	b := tx.bucket(typ, false)
	return b != nil && b.Get(keyRaw) != nil
}

// Put stores the record under its key field. A record of an auto-key type
// without a key gets the next backend sequence number, which is written back
// into the record. Put returns the record's key.
func (tx *Tx) Put(typ string, rec Record) (any, error) {
	cfg, err := tx.db.schema.config(typ)
	if err != nil && typ != HistoryType {
		return nil, err
	}
	keyField := DefaultKeyField
	autoKey := typ == HistoryType
	if cfg != nil {
		keyField, autoKey = cfg.KeyField, cfg.AutoKey
	}

	key := rec[keyField]
	if key == nil {
		if !autoKey {
			return nil, recordErrf(typ, nil, keyField, ErrMissingKey, "")
		}
		key, err = tx.nextKey(typ)
		if err != nil {
			return nil, err
		}
	}
	key, err = normalizeKey(key)
	if err != nil {
		return nil, recordErrf(typ, rec[keyField], keyField, err, "")
	}
	rec[keyField] = key

	keyRaw := must(encodeKey(key))
	valueRaw := encodeRecord(nil, rec)
	b := tx.bucket(typ, true)
	if tx.db.verbose {
		tx.db.logger.Debug("ndb: PUT", "type", typ, "key", key, "record", loggableRecord(rec))
	}
	tx.markWritten()
	if err := b.Put(keyRaw, valueRaw); err != nil {
		return nil, recordErrf(typ, key, "", err, "put")
	}
	return key, nil
}

// nextKey allocates the next sequence number not already used as an
// explicit key.
func (tx *Tx) nextKey(typ string) (any, error) {
	b := tx.bucket(typ, true)
	tx.markWritten()
	for {
		seq, err := b.NextSequence()
		if err != nil {
			return nil, recordErrf(typ, nil, "", err, "allocating key")
		}
		key := int64(seq)
		if b.Get(must(encodeKey(key))) == nil {
			return key, nil
		}
	}
}

// Delete removes the record stored under the key. Deleting a missing record
// is a no-op.
func (tx *Tx) Delete(typ string, key any) error {
	keyRaw, err := encodeKey(key)
	if err != nil {
		return recordErrf(typ, key, "", err, "")
	}
	b := tx.bucket(typ, false)
	if b == nil || b.Get(keyRaw) == nil {
		if tx.db.verbose {
			tx.db.logger.Debug("ndb: DELETE.NOOP", "type", typ, "key", key)
		}
		return nil
	}
	if tx.db.verbose {
		tx.db.logger.Debug("ndb: DELETE", "type", typ, "key", key)
	}
	tx.markWritten()
	if err := b.Delete(keyRaw); err != nil {
		return recordErrf(typ, key, "", err, "delete")
	}
	return nil
}

// Scan iterates the type's records in ascending key order. Each call starts
// a new iteration. The type must not be modified during the iteration.
func (tx *Tx) Scan(typ string) iter.Seq2[any, Record] {
	return func(yield func(any, Record) bool) {
		b := tx.bucket(typ, false)
		if b == nil {
			return
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			key, err := decodeKey(k)
			if err != nil {
				panic(recordErrf(typ, nil, "", err, "scan"))
			}
			rec, err := decodeRecord(v)
			if err != nil {
				panic(recordErrf(typ, key, "", err, "scan"))
			}
			if !yield(key, rec) {
				return
			}
		}
	}
}

// Keys returns every key of the type in ascending order.
func (tx *Tx) Keys(typ string) []any {
	b := tx.bucket(typ, false)
	if b == nil {
		return nil
	}
	var keys []any
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, must(decodeKey(k)))
	}
	return keys
}

// Count returns the number of records of the type.
func (tx *Tx) Count(typ string) int {
	b := tx.bucket(typ, false)
	if b == nil {
		return 0
	}
	return b.KeyCount()
}

// Commit and Abort exist for callers driving a transaction by hand via
// DB.Begin; transactions run by Read and Write are finished automatically.
func (tx *Tx) Commit() error {
	if err := tx.stx.Commit(); err != nil {
		return err
	}
	tx.db.flush(tx.ctx, tx.events)
	tx.events = nil
	return nil
}

func (tx *Tx) Abort() error {
	tx.events = nil
	return tx.stx.Rollback()
}

// Begin opens a transaction over the given types that the caller must finish
// with Commit or Abort.
func (db *DB) Begin(ctx context.Context, writable bool, types ...string) (*Tx, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	if len(types) == 0 {
		types = db.allTypes()
	}
	stx, err := db.storage.BeginTx(writable)
	if err != nil {
		return nil, fmt.Errorf("ndb: begin: %w", err)
	}
	return db.newTx(ctx, stx, types), nil
}
