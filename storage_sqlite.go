package ndb

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteStorage keeps every bucket in its own WITHOUT ROWID table. Table
// names are derived from a hash of the bucket name, so arbitrary type names
// never reach SQL text; the ndb_buckets table maps names to tables and holds
// sequences.
type sqliteStorage struct {
	db *sql.DB
}

const sqliteInitSQL = `CREATE TABLE IF NOT EXISTS ndb_buckets (
	name TEXT PRIMARY KEY,
	tbl  TEXT NOT NULL,
	seq  INTEGER NOT NULL DEFAULT 0
)`

func newSQLiteStorage(path string) (storage, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate&_busy_timeout=10000")
	if err != nil {
		return nil, err
	}
	// one connection serializes transactions
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteInitSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteStorage{db: db}, nil
}

func (s *sqliteStorage) BeginTx(writable bool) (storageTx, error) {
	stx, err := s.db.Begin()
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return &sqliteTx{stx: stx, writable: writable, tables: make(map[string]string)}, nil
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

func sqliteTableName(bucket string) string {
	return "b_" + strconv.FormatUint(xxhash.Sum64String(bucket), 16)
}

type sqliteTx struct {
	stx      *sql.Tx
	writable bool
	tables   map[string]string
	done     bool
}

func (tx *sqliteTx) Writable() bool { return tx.writable }

func (tx *sqliteTx) table(name string) string {
	if tbl, ok := tx.tables[name]; ok {
		return tbl
	}
	var tbl string
	err := tx.stx.QueryRow(`SELECT tbl FROM ndb_buckets WHERE name = ?`, name).Scan(&tbl)
	if err == sql.ErrNoRows {
		return ""
	}
	ensure(err)
	tx.tables[name] = tbl
	return tbl
}

func (tx *sqliteTx) Bucket(name string) storageBucket {
	tbl := tx.table(name)
	if tbl == "" {
		return nil
	}
	return sqliteBucket{tx: tx, name: name, tbl: tbl}
}

func (tx *sqliteTx) CreateBucket(name string) (storageBucket, error) {
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	if b := tx.Bucket(name); b != nil {
		return b, nil
	}
	tbl := sqliteTableName(name)
	_, err := tx.stx.Exec(`INSERT INTO ndb_buckets (name, tbl) VALUES (?, ?)`, name, tbl)
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	_, err = tx.stx.Exec(`CREATE TABLE IF NOT EXISTS ` + tbl + ` (k BLOB PRIMARY KEY, v BLOB NOT NULL) WITHOUT ROWID`)
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	tx.tables[name] = tbl
	return sqliteBucket{tx: tx, name: name, tbl: tbl}, nil
}

func (tx *sqliteTx) DeleteBucket(name string) error {
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tbl := tx.table(name)
	if tbl == "" {
		return ErrBucketNotFound
	}
	if _, err := tx.stx.Exec(`DROP TABLE ` + tbl); err != nil {
		return err
	}
	if _, err := tx.stx.Exec(`DELETE FROM ndb_buckets WHERE name = ?`, name); err != nil {
		return err
	}
	delete(tx.tables, name)
	return nil
}

func (tx *sqliteTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if !tx.writable {
		return tx.stx.Rollback()
	}
	return tx.stx.Commit()
}

func (tx *sqliteTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	err := tx.stx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func (tx *sqliteTx) Size() int64 {
	var pages, pageSize int64
	if err := tx.stx.QueryRow(`PRAGMA page_count`).Scan(&pages); err != nil {
		return 0
	}
	if err := tx.stx.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0
	}
	return pages * pageSize
}

type sqliteBucket struct {
	tx   *sqliteTx
	name string
	tbl  string
}

func (b sqliteBucket) Get(key []byte) []byte {
	var v []byte
	err := b.tx.stx.QueryRow(`SELECT v FROM `+b.tbl+` WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil
	}
	ensure(err)
	return v
}

func (b sqliteBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	_, err := b.tx.stx.Exec(`INSERT INTO `+b.tbl+` (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v`, key, value)
	return err
}

func (b sqliteBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	_, err := b.tx.stx.Exec(`DELETE FROM `+b.tbl+` WHERE k = ?`, key)
	return err
}

// Cursor loads the bucket up front; rows are consumed by the engine within
// the same transaction anyway.
func (b sqliteBucket) Cursor() storageCursor {
	rows, err := b.tx.stx.Query(`SELECT k, v FROM ` + b.tbl + ` ORDER BY k`)
	ensure(err)
	defer rows.Close()
	var items []memKV
	for rows.Next() {
		var kv memKV
		ensure(rows.Scan(&kv.key, &kv.value))
		items = append(items, kv)
	}
	ensure(rows.Err())
	return &memCursor{items: items, pos: -1}
}

func (b sqliteBucket) NextSequence() (uint64, error) {
	if !b.tx.writable {
		return 0, fmt.Errorf("tx not writable")
	}
	if _, err := b.tx.stx.Exec(`UPDATE ndb_buckets SET seq = seq + 1 WHERE name = ?`, b.name); err != nil {
		return 0, err
	}
	var seq uint64
	err := b.tx.stx.QueryRow(`SELECT seq FROM ndb_buckets WHERE name = ?`, b.name).Scan(&seq)
	return seq, err
}

func (b sqliteBucket) Stats() bucketStats {
	var n int
	var size sql.NullInt64
	err := b.tx.stx.QueryRow(`SELECT COUNT(*), SUM(LENGTH(k) + LENGTH(v)) FROM ` + b.tbl).Scan(&n, &size)
	ensure(err)
	return bucketStats{
		KeyN:      n,
		LeafInuse: size.Int64,
		LeafAlloc: size.Int64,
	}
}

func (b sqliteBucket) KeyCount() int {
	var n int
	ensure(b.tx.stx.QueryRow(`SELECT COUNT(*) FROM ` + b.tbl).Scan(&n))
	return n
}
