package ndb

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTypeHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpHistory

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of every type in the transaction scope in a
// stable textual form, for debugging and golden tests.
func (tx *Tx) Dump(f DumpFlags) string {
	var buf strings.Builder
	for _, typ := range tx.scope {
		if typ == HistoryType && !f.Contains(DumpHistory) {
			continue
		}
		tx.dumpType(&buf, f, typ)
	}
	return buf.String()
}

func (tx *Tx) dumpType(w *strings.Builder, f DumpFlags, typ string) {
	s := tx.TypeStats(typ)
	if f.Contains(DumpTypeHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records)\n", typ, s.Records)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: data_size = %d, data_alloc = %d\n", typ, s.DataSize, s.DataAlloc)
	}
	if f.Contains(DumpRecords) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		var pos int
		for key, rec := range tx.Scan(typ) {
			pos++
			raw, err := json.Marshal(map[string]any(rec))
			if err != nil {
				fmt.Fprintf(w, "%s.%d %s ** ERROR: %v\n", typ, pos, keyString(key), err)
				continue
			}
			fmt.Fprintf(w, "%s.%d %s = %s\n", typ, pos, keyString(key), raw)
		}
	}
}
