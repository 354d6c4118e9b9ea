package ndb

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// blogSchema is the fixture most tests run against:
//
//	role     auto-keyed
//	user     role -> role
//	article  author -> user, comments -> [comment] (cascade)
//	comment  author -> user
func blogSchema() *Schema {
	scm := NewSchema()
	scm.Define("role", func(b *TypeBuilder) {
		b.AutoKey()
	})
	scm.Define("user", func(b *TypeBuilder) {
		b.One("role", "role")
	})
	scm.Define("article", func(b *TypeBuilder) {
		b.One("author", "user")
		b.Many("comments", "comment").Cascade()
	})
	scm.Define("comment", func(b *TypeBuilder) {
		b.One("author", "user")
	})
	return scm
}

func testOptions(opts []func(*Options)) Options {
	opt := DefaultOptions()
	opt.Logger = quietLogger
	opt.IsTesting = true
	for _, f := range opts {
		f(&opt)
	}
	return opt
}

func withoutRefs(o *Options) {
	o.ReverseRefs = false
}

func setup(t testing.TB, scm *Schema, opts ...func(*Options)) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), scm, testOptions(opts))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupMem(t testing.TB, scm *Schema, opts ...func(*Options)) *DB {
	t.Helper()
	db, err := OpenMemory(scm, testOptions(opts))
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupSQLite(t testing.TB, scm *Schema, opts ...func(*Options)) *DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite"), scm, testOptions(opts))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var backends = []struct {
	name  string
	setup func(t testing.TB, scm *Schema, opts ...func(*Options)) *DB
}{
	{"bolt", setup},
	{"memory", setupMem},
	{"sqlite", setupSQLite},
}

// eachBackend runs f against a fresh store on every backend, or only on the
// memory one with -short.
func eachBackend(t *testing.T, scm func() *Schema, f func(t *testing.T, db *DB), opts ...func(*Options)) {
	for _, b := range backends {
		if testing.Short() && b.name != "memory" {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			f(t, b.setup(t, scm(), opts...))
		})
	}
}

type recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recorder) OnEvent(ctx context.Context, ev *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) take() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events
	r.events = nil
	return evs
}

func listen(t testing.TB, db *DB, m Match) *recorder {
	t.Helper()
	r := &recorder{}
	if _, err := db.Pipe().Register(r, m); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func eventStrings(evs []*Event) []string {
	var result []string
	for _, ev := range evs {
		result = append(result, ev.String())
	}
	return result
}

func get(t testing.TB, db *DB, typ string, key any) Record {
	t.Helper()
	var rec Record
	err := db.Read(context.Background(), func(tx *Tx) error {
		var err error
		rec, err = tx.Get(typ, key)
		return err
	})
	if err != nil {
		t.Fatalf("Get(%s, %v): %v", typ, key, err)
	}
	return rec
}

func count(t testing.TB, db *DB, typ string) int {
	t.Helper()
	var n int
	err := db.Read(context.Background(), func(tx *Tx) error {
		n = tx.Count(typ)
		return nil
	})
	if err != nil {
		t.Fatalf("Count(%s): %v", typ, err)
	}
	return n
}

func mustWrite(t testing.TB, db *DB, mode func(ctx context.Context, typ string, input any, opts ...WriteOption) (*WriteResult, error), typ string, input any, opts ...WriteOption) *WriteResult {
	t.Helper()
	res, err := mode(context.Background(), typ, input, opts...)
	if err != nil {
		t.Fatalf("writing %s: %v", typ, err)
	}
	return res
}
