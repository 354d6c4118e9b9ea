package ndb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

// DB is a normalized object store over one storage backend.
type DB struct {
	storage storage
	schema  *Schema
	logger  *slog.Logger
	verbose bool
	strict  bool

	pipe         *EventPipe
	normalizer   Normalizer
	denormalizer Denormalizer
	keys         KeyGenerator
	reverseRefs  bool
	history      *History
	metrics      dbMetrics

	closed atomic.Bool

	lastSize           atomic.Int64
	ReaderCount        atomic.Int64
	WriterCount        atomic.Int64
	PendingWriterCount atomic.Int64
	ReadCount          atomic.Uint64
	WriteCount         atomic.Uint64
}

// Open opens (creating if needed) a bolt-backed store at path.
func Open(path string, scm *Schema, opt Options) (*DB, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("ndb: %w", err)
	}
	return open(newBoltStorage(bdb), scm, opt)
}

// OpenMemory returns a store that lives in process memory only.
func OpenMemory(scm *Schema, opt Options) (*DB, error) {
	return open(newMemStorage(), scm, opt)
}

// OpenSQLite opens (creating if needed) a sqlite-backed store at path.
func OpenSQLite(path string, scm *Schema, opt Options) (*DB, error) {
	st, err := newSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("ndb: %w", err)
	}
	return open(st, scm, opt)
}

func open(st storage, scm *Schema, opt Options) (*DB, error) {
	if err := scm.Validate(); err != nil {
		st.Close()
		return nil, err
	}
	opt.validate(scm)

	db := &DB{
		storage:      st,
		schema:       scm,
		logger:       opt.Logger,
		verbose:      opt.Verbose,
		strict:       opt.IsTesting,
		pipe:         NewEventPipe(opt.Logger),
		normalizer:   opt.Normalizer,
		denormalizer: opt.Denormalizer,
		keys:         opt.KeyGenerator,
		reverseRefs:  opt.ReverseRefs,
		metrics:      dbMetrics{opt.Metrics},
	}
	if err := db.prepareBuckets(); err != nil {
		st.Close()
		return nil, err
	}
	db.history = newHistory(db)
	if opt.History != nil {
		if err := db.history.Enable(*opt.History); err != nil {
			st.Close()
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) prepareBuckets() error {
	stx, err := db.storage.BeginTx(true)
	if err != nil {
		return fmt.Errorf("ndb: begin: %w", err)
	}
	for _, typ := range db.allTypes() {
		if stx.Bucket(typ) != nil {
			continue
		}
		if _, err := stx.CreateBucket(typ); err != nil {
			stx.Rollback()
			return fmt.Errorf("ndb: creating %s: %w", typ, err)
		}
	}
	return stx.Commit()
}

func (db *DB) Schema() *Schema {
	return db.schema
}

// Pipe returns the event pipe that receives committed changes.
func (db *DB) Pipe() *EventPipe {
	return db.pipe
}

func (db *DB) Logger() *slog.Logger {
	return db.logger
}

// Size returns the backend size observed at the last commit.
func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.history.Disable()
	if err := db.storage.Close(); err != nil {
		return fmt.Errorf("ndb: closing: %w", err)
	}
	return nil
}

// allTypes is the scope of whole-store transactions.
func (db *DB) allTypes() []string {
	return append(slices.Clone(db.schema.Types()), HistoryType)
}

func (db *DB) flush(ctx context.Context, events []*Event) {
	for _, ev := range events {
		db.metrics.event(ev.Kind)
		db.pipe.Notify(ctx, ev)
	}
}
