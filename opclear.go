package ndb

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Clear deletes every record of the given types (every schema type if none
// are given) without cascading or repairing references. The history
// collection is cleared only when HistoryType is named. Key sequences keep
// counting from where they were.
func (db *DB) Clear(ctx context.Context, types ...string) (err error) {
	start := time.Now()
	if len(types) == 0 {
		types = db.schema.Types()
	} else {
		var unique []string
		for _, typ := range types {
			if !slices.Contains(unique, typ) {
				unique = append(unique, typ)
			}
		}
		types = unique
	}
	defer func() {
		db.metrics.command("clear", strings.Join(types, ","), start, err)
	}()

	for _, typ := range types {
		if typ != HistoryType && !db.schema.HasType(typ) {
			return recordErrf(typ, nil, "", ErrInvalidType, "")
		}
	}
	return db.run(ctx, types, true, func(tx *Tx) error {
		for _, typ := range types {
			if err := tx.clear(typ); err != nil {
				return err
			}
			tx.enqueue(&Event{Kind: EventCleared, Type: typ})
		}
		return nil
	})
}

func (tx *Tx) clear(typ string) error {
	tx.markWritten()
	for _, key := range tx.Keys(typ) {
		if err := tx.Delete(typ, key); err != nil {
			return err
		}
	}
	return nil
}
