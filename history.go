package ndb

import (
	"context"
	"sync"
	"time"
)

// HistoryType is the reserved collection holding the audit log. Its records
// are keyed by an increasing sequence number.
const HistoryType = "_history"

// HistoryEntry is one committed event as recorded in the audit log.
type HistoryEntry struct {
	Seq    int64
	Time   time.Time
	Kind   EventKind
	Type   string
	Key    any
	Item   Record
	Parent *Parent
}

// HistoryFilter selects audit log entries. Zero fields match everything;
// From is inclusive and To is exclusive.
type HistoryFilter struct {
	Type  string
	Key   any
	Kinds []EventKind
	From  time.Time
	To    time.Time
}

// History records committed events in the HistoryType collection. Each event
// is written in its own transaction right after the change commits, so a
// failure to record never undoes the change; it is logged instead.
type History struct {
	db  *DB
	mu  sync.Mutex
	reg *Registration
}

func newHistory(db *DB) *History {
	return &History{db: db}
}

// History returns the audit log of the store.
func (db *DB) History() *History {
	return db.history
}

// Enable starts recording events that match m, replacing any previous match.
func (h *History) Enable(m Match) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reg != nil {
		h.reg.Unregister()
		h.reg = nil
	}
	reg, err := h.db.pipe.Register(ListenerFunc(h.record), m)
	if err != nil {
		return err
	}
	h.reg = reg
	return nil
}

func (h *History) Disable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reg != nil {
		h.reg.Unregister()
		h.reg = nil
	}
}

func (h *History) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg != nil
}

func (h *History) record(ctx context.Context, ev *Event) {
	if ev.Type == HistoryType {
		return
	}
	err := h.db.Write(ctx, func(tx *Tx) error {
		_, err := tx.Put(HistoryType, historyRecord(ev))
		return err
	}, HistoryType)
	if err != nil {
		h.db.logger.WarnContext(ctx, "ndb: failed to record history", "event", ev.String(), "err", err)
	}
}

func historyRecord(ev *Event) Record {
	rec := Record{
		"time": ev.Time,
		"kind": ev.Kind.String(),
		"type": ev.Type,
		"key":  ev.Key,
	}
	if ev.Item != nil {
		rec["item"] = map[string]any(ev.Item)
	}
	if p := ev.Parent; p != nil {
		rec["parent"] = map[string]any{"type": p.Type, "key": p.Key, "field": p.Field}
	}
	return rec
}

func historyEntry(key any, rec Record) HistoryEntry {
	e := HistoryEntry{}
	e.Seq, _ = key.(int64)
	e.Time, _ = rec["time"].(time.Time)
	if s, ok := rec["kind"].(string); ok {
		e.Kind, _ = ParseEventKind(s)
	}
	e.Type, _ = rec["type"].(string)
	e.Key = rec["key"]
	if item, ok := rec["item"].(map[string]any); ok {
		e.Item = Record(item)
		if v, ok := item[RefsField]; ok {
			e.Item.setRefs(parseRefs(v))
		}
	}
	if p, ok := rec["parent"].(map[string]any); ok {
		e.Parent = &Parent{Key: p["key"]}
		e.Parent.Type, _ = p["type"].(string)
		e.Parent.Field, _ = p["field"].(string)
	}
	return e
}

func (f *HistoryFilter) matches(e *HistoryEntry) bool {
	if f.Type != "" && f.Type != e.Type {
		return false
	}
	if f.Key != nil && !keysEqual(f.Key, e.Key) {
		return false
	}
	if len(f.Kinds) > 0 {
		var found bool
		for _, k := range f.Kinds {
			found = found || k == e.Kind
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && e.Time.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Time.Before(f.To) {
		return false
	}
	return true
}

// Entries returns the matching entries in recording order.
func (h *History) Entries(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error) {
	var result []HistoryEntry
	err := h.db.Read(ctx, func(tx *Tx) error {
		for key, rec := range tx.Scan(HistoryType) {
			e := historyEntry(key, rec)
			if f.matches(&e) {
				result = append(result, e)
			}
		}
		return nil
	}, HistoryType)
	return result, err
}

// Clear deletes the entries recorded before the given time (every entry if
// before is zero) and returns how many were deleted.
func (h *History) Clear(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := h.db.Write(ctx, func(tx *Tx) error {
		var keys []any
		for key, rec := range tx.Scan(HistoryType) {
			t, _ := rec["time"].(time.Time)
			if before.IsZero() || t.Before(before) {
				keys = append(keys, key)
			}
		}
		for _, key := range keys {
			if err := tx.Delete(HistoryType, key); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	}, HistoryType)
	return n, err
}
