package ndb

import (
	"fmt"
	"strings"
	"time"
)

type EventKind int

const (
	EventCreated EventKind = 1 + iota
	EventUpdated
	EventRemoved
	EventCleared
)

// Event describes one committed change. Item is the flat record as written
// (or, for EventRemoved, as it was before removal); Cleared events carry only
// the type.
type Event struct {
	Kind   EventKind
	Type   string
	Key    any
	Item   Record
	Parent *Parent
	Time   time.Time
}

// Parent identifies the slot on a parent record that holds a reference to a
// child record's key or keys.
type Parent struct {
	Type  string
	Key   any
	Field string
}

func (p Parent) String() string {
	return fmt.Sprintf("%s/%s.%s", p.Type, keyString(p.Key), p.Field)
}

func (v EventKind) String() string {
	switch v {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	case EventCleared:
		return "cleared"
	default:
		return fmt.Sprintf("invalid event kind %d", int(v))
	}
}

func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(s) {
	case "created":
		return EventCreated, nil
	case "updated":
		return EventUpdated, nil
	case "removed":
		return EventRemoved, nil
	case "cleared":
		return EventCleared, nil
	default:
		return 0, fmt.Errorf("invalid event kind %q", s)
	}
}

func (ev *Event) String() string {
	var buf strings.Builder
	buf.WriteString(ev.Kind.String())
	buf.WriteByte(' ')
	buf.WriteString(ev.Type)
	if ev.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(keyString(ev.Key))
	}
	if ev.Parent != nil {
		buf.WriteString(" in ")
		buf.WriteString(ev.Parent.String())
	}
	return buf.String()
}
