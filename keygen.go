package ndb

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// KeyGenerator supplies keys for records of types that are not auto-keyed.
type KeyGenerator interface {
	NewKey(typ string) (any, error)
}

type KeyGeneratorFunc func(typ string) (any, error)

func (f KeyGeneratorFunc) NewKey(typ string) (any, error) {
	return f(typ)
}

// UUIDKeys generates time-ordered UUIDv7 strings.
func UUIDKeys() KeyGenerator {
	return KeyGeneratorFunc(func(string) (any, error) {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		return id.String(), nil
	})
}

type sequenceKeys struct {
	prefix   string
	counters *xsync.MapOf[string, *atomic.Int64]
}

// SequenceKeys generates predictable keys like "user-1", "user-2" with an
// in-process counter per type. Counters start over in every process, so
// these keys suit fixtures and tests rather than persistent stores.
func SequenceKeys(prefix string) KeyGenerator {
	return &sequenceKeys{
		prefix:   prefix,
		counters: xsync.NewMapOf[string, *atomic.Int64](),
	}
}

func (g *sequenceKeys) NewKey(typ string) (any, error) {
	c, _ := g.counters.LoadOrCompute(typ, func() *atomic.Int64 {
		return new(atomic.Int64)
	})
	return fmt.Sprintf("%s%s-%d", g.prefix, typ, c.Add(1)), nil
}
