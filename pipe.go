package ndb

import (
	"cmp"
	"context"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

type Listener interface {
	OnEvent(ctx context.Context, ev *Event)
}

type ListenerFunc func(ctx context.Context, ev *Event)

func (f ListenerFunc) OnEvent(ctx context.Context, ev *Event) {
	f(ctx, ev)
}

// Match selects events by kind, type and key. Each dimension is a set of
// accepted values; an empty set accepts everything.
type Match struct {
	Kinds []EventKind
	Types []string
	Keys  []any
}

func (m Match) Kind(kinds ...EventKind) Match {
	m.Kinds = append(slices.Clone(m.Kinds), kinds...)
	return m
}

func (m Match) Type(types ...string) Match {
	m.Types = append(slices.Clone(m.Types), types...)
	return m
}

func (m Match) Key(keys ...any) Match {
	m.Keys = append(slices.Clone(m.Keys), keys...)
	return m
}

// Matches reports whether every specified dimension accepts the event.
func (m Match) Matches(ev *Event) bool {
	if len(m.Kinds) > 0 && !slices.Contains(m.Kinds, ev.Kind) {
		return false
	}
	if len(m.Types) > 0 && !slices.Contains(m.Types, ev.Type) {
		return false
	}
	if len(m.Keys) > 0 && !slices.ContainsFunc(m.Keys, func(k any) bool { return keysEqual(k, ev.Key) }) {
		return false
	}
	return true
}

type Registration struct {
	pipe     *EventPipe
	id       uint64
	listener Listener
	match    Match
}

func (r *Registration) Listener() Listener { return r.listener }
func (r *Registration) Match() Match       { return r.match }

func (r *Registration) Unregister() {
	r.pipe.regs.Delete(r.id)
}

// EventPipe dispatches committed events to registered listeners in
// registration order.
type EventPipe struct {
	logger *slog.Logger
	nextID atomic.Uint64
	regs   *xsync.MapOf[uint64, *Registration]
	mu     sync.Mutex
}

func NewEventPipe(logger *slog.Logger) *EventPipe {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPipe{
		logger: logger,
		regs:   xsync.NewMapOf[uint64, *Registration](),
	}
}

// Register adds a listener. A comparable listener (such as a pointer) can
// only be registered once; other listeners are identified by their
// Registration.
func (p *EventPipe) Register(l Listener, m Match) (*Registration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isComparable(l) {
		var dup bool
		p.regs.Range(func(_ uint64, r *Registration) bool {
			dup = isComparable(r.listener) && r.listener == l
			return !dup
		})
		if dup {
			return nil, ErrListenerRegistered
		}
	}
	r := &Registration{
		pipe:     p,
		id:       p.nextID.Add(1),
		listener: l,
		match:    m,
	}
	p.regs.Store(r.id, r)
	return r, nil
}

// Unregister removes a comparable listener. It returns false if the listener
// was not registered.
func (p *EventPipe) Unregister(l Listener) bool {
	if !isComparable(l) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var found bool
	p.regs.Range(func(id uint64, r *Registration) bool {
		if isComparable(r.listener) && r.listener == l {
			p.regs.Delete(id)
			found = true
		}
		return true
	})
	return found
}

func (p *EventPipe) Len() int {
	return p.regs.Size()
}

// Notify invokes every matching listener in registration order. A panicking
// listener is logged and skipped.
func (p *EventPipe) Notify(ctx context.Context, ev *Event) {
	var matched []*Registration
	p.regs.Range(func(_ uint64, r *Registration) bool {
		if r.match.Matches(ev) {
			matched = append(matched, r)
		}
		return true
	})
	slices.SortFunc(matched, func(a, b *Registration) int {
		return cmp.Compare(a.id, b.id)
	})
	for _, r := range matched {
		p.deliver(ctx, r, ev)
	}
}

func (p *EventPipe) deliver(ctx context.Context, r *Registration, ev *Event) {
	defer func() {
		if e := recover(); e != nil {
			p.logger.ErrorContext(ctx, "ndb: listener panicked", "event", ev.String(), "panic", e)
		}
	}()
	r.listener.OnEvent(ctx, ev)
}

// isComparable reports whether the value l holds can be compared with ==.
func isComparable(l Listener) bool {
	return l != nil && reflect.ValueOf(l).Comparable()
}
