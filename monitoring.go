package ndb

import (
	"context"
	"encoding/json"
)

type TypeStats struct {
	Records int

	DataSize  int64
	DataAlloc int64
}

// Stats returns per-type storage statistics, including the history
// collection.
func (db *DB) Stats(ctx context.Context) (map[string]TypeStats, error) {
	result := make(map[string]TypeStats)
	err := db.Read(ctx, func(tx *Tx) error {
		for _, typ := range tx.scope {
			result[typ] = tx.TypeStats(typ)
		}
		return nil
	})
	return result, err
}

func (tx *Tx) TypeStats(typ string) TypeStats {
	b := tx.bucket(typ, false)
	if b == nil {
		return TypeStats{}
	}
	bs := b.Stats()
	return TypeStats{
		Records:   bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
	}
}

func loggableRecord(rec Record) string {
	if rec == nil {
		return "<none>"
	}
	raw, err := json.Marshal(map[string]any(rec))
	if err != nil {
		return "<unmarshalable>"
	}
	return string(raw)
}
